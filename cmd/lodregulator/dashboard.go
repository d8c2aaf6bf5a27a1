package main

import (
	"github.com/spf13/cobra"

	"lodregulator/internal/dashboard"
)

var dashboardAddr string

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Terminal status dashboard",
	Long:  "dashboard renders live regulator status from a running diagnostics server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return dashboard.Run(dashboardAddr)
	},
}

func init() {
	dashboardCmd.Flags().StringVar(&dashboardAddr, "addr", "http://127.0.0.1:8080", "Diagnostics server base URL")
}
