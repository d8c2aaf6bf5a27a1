// StdoutWriter prints human-friendly, optionally colorized decisions.
package history

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"lodregulator/internal/regulator"
)

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorGray    = "\x1b[90m"
)

// StdoutWriter writes one line per decision to STDOUT, with ANSI colors
// when attached to a terminal.
type StdoutWriter struct {
	out   io.Writer
	color bool
}

// NewStdoutWriter creates a StdoutWriter writing to os.Stdout.
func NewStdoutWriter() *StdoutWriter {
	return &StdoutWriter{
		out:   os.Stdout,
		color: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

func (w *StdoutWriter) paint(c, s string) string {
	if !w.color {
		return s
	}
	return c + s + colorReset
}

// WriteDecision implements regulator.DecisionWriter.
func (w *StdoutWriter) WriteDecision(d regulator.Decision) error {
	statusColor := colorGreen
	if d.Paused {
		statusColor = colorYellow
	}
	if d.BridgeConn == "no_ack" {
		statusColor = colorRed
	}

	alt := "-"
	if d.AltitudeFt != nil {
		alt = fmt.Sprintf("%.0fft(%s)", *d.AltitudeFt, d.AltitudeSource)
	}

	line := fmt.Sprintf("%s %s %s %s %s %s",
		w.paint(colorGray, d.Timestamp.Format(time.RFC3339)),
		w.paint(statusColor, d.Status),
		w.paint(colorBlue, "tier="+string(d.Tier)),
		w.paint(colorMagenta, "alt="+alt),
		w.paint(colorCyan, fmt.Sprintf("target=%.3f smoothed=%.3f", d.Target, d.Smoothed)),
		w.paint(colorYellow, "bridge="+string(d.BridgeConn)),
	)
	if len(d.Reasons) > 0 {
		line += " " + w.paint(colorGray, "["+strings.Join(d.Reasons, "; ")+"]")
	}
	_, err := fmt.Fprintln(w.out, line)
	return err
}
