package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lodregulator/internal/admin"
	"lodregulator/internal/bridge"
	"lodregulator/internal/config"
	"lodregulator/internal/logging"
	"lodregulator/internal/regulator"
	"lodregulator/internal/telemetry"
)

var (
	runConfigPath string
	runSchemaPath string
	runTick       time.Duration
	runLogFile    string
	runPrintOnly  bool
	runAdminAddr  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the regulator control loop",
	Long:  "run starts the telemetry listener, the control loop, and the diagnostics server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.New()
		ctx, cancel := context.WithCancel(logging.NewContext(context.Background(), log))
		defer cancel()

		cfg, err := config.Load(runConfigPath, runSchemaPath)
		if err != nil {
			return err
		}
		if runAdminAddr != "" {
			cfg.AdminAddr = runAdminAddr
		}

		writer, cleanup, err := newWriters(runPrintOnly, runLogFile)
		if err != nil {
			return err
		}
		defer cleanup()

		recv := telemetry.NewReceiver()
		if err := recv.Configure(ctx, cfg.Telemetry.Enabled, cfg.Telemetry.Host, cfg.Telemetry.Port); err != nil {
			log.Warn("telemetry listener unavailable, regulator will report misconfig", "err", err)
		}
		defer recv.Close()

		br := bridge.New(cfg.Bridge.Host, cfg.Bridge.Port,
			time.Duration(cfg.Policy.MinSendInterval*float64(time.Second)),
			cfg.Policy.MinSendDelta,
			cfg.Bridge.CommandFile, cfg.Bridge.StatusFile)

		reg := regulator.New(*cfg, recv, br, writer, runTick, nil)

		srv := admin.NewServer(reg)
		go func() {
			log.Info("diagnostics server listening", "addr", cfg.AdminAddr)
			if err := srv.Start(ctx, cfg.AdminAddr); err != nil && err != http.ErrServerClosed {
				log.Error("diagnostics server failed", "err", err)
			}
		}()

		go reg.Run(ctx)

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		<-sigs

		cancel()
		log.Info("regulator stopped")
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "config/regulator.yaml", "Path to regulator configuration YAML")
	runCmd.Flags().StringVar(&runSchemaPath, "schema", "schemas/regulator.cue", "Path to CUE schema file")
	runCmd.Flags().DurationVar(&runTick, "tick", time.Second, "Control loop tick interval (e.g. 500ms, 2s)")
	runCmd.Flags().StringVar(&runLogFile, "log-file", "", "Path to export decision history (JSONL)")
	runCmd.Flags().BoolVar(&runPrintOnly, "print-only", false, "Print decisions to STDOUT instead of writing to DB")
	runCmd.Flags().StringVar(&runAdminAddr, "admin", "", "Diagnostics server listen address (overrides config)")
}
