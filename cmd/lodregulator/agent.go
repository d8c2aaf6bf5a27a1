package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lodregulator/internal/config"
	"lodregulator/internal/logging"
)

var (
	agentListen     string
	agentStatusFile string
)

// agentCmd runs a stand-in rendering agent speaking the command protocol,
// for local end-to-end runs without a simulator attached.
var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run a mock rendering agent",
	Long:  "agent answers bridge commands with ACK/PONG/ERR and maintains the status file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.New()

		conn, err := net.ListenPacket("udp", agentListen)
		if err != nil {
			return err
		}
		defer conn.Close()
		log.Info("agent listening", "addr", conn.LocalAddr().String())

		var current, target float64 = 1.0, 1.0
		enabled := false
		buf := make([]byte, 512)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return err
			}
			cmdText := strings.TrimSpace(string(buf[:n]))
			reply := handleAgentCommand(cmdText, &enabled, &target)
			// the agent applies instantly; a real one converges over frames
			current = target
			if _, err := conn.WriteTo([]byte(reply+"\n"), addr); err != nil {
				log.Error("agent reply failed", "err", err)
			}
			log.Info("agent", "cmd", cmdText, "reply", reply)
			writeAgentStatus(agentStatusFile, current, target, enabled)
		}
	},
}

func handleAgentCommand(cmd string, enabled *bool, target *float64) string {
	switch {
	case cmd == "PING":
		return "PONG"
	case cmd == "ENABLE":
		*enabled = true
		return "ACK ENABLE"
	case cmd == "DISABLE":
		*enabled = false
		return "ACK DISABLE"
	case strings.HasPrefix(cmd, "SET_VALUE "):
		v, err := strconv.ParseFloat(strings.TrimPrefix(cmd, "SET_VALUE "), 64)
		if err != nil {
			return "ERR bad value"
		}
		*target = v
		return fmt.Sprintf("ACK SET_VALUE %.3f", v)
	default:
		return "ERR unknown command"
	}
}

func writeAgentStatus(path string, current, target float64, enabled bool) {
	content := fmt.Sprintf("current=%.3f target=%.3f enabled=%t updated=%s\n",
		current, target, enabled, time.Now().Format(time.RFC3339))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return
	}
	os.Rename(tmp, path)
}

func init() {
	agentCmd.Flags().StringVar(&agentListen, "listen", fmt.Sprintf("127.0.0.1:%d", config.DefaultBridgePort), "UDP listen address")
	agentCmd.Flags().StringVar(&agentStatusFile, "status-file", config.DefaultStatusFile(), "Status file path")
}
