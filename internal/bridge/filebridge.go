// File-based fallback transport and agent status evidence.
package bridge

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// writeCommandFile atomically rewrites the fallback command file with
// "<sequence>|<command>\n". A polling agent must never observe a partial
// write, hence the temp-file-and-rename discipline.
func (b *Bridge) writeCommandFile(cmd string) error {
	if b.commandFile == "" {
		return fmt.Errorf("command file not configured")
	}
	b.state.Seq++
	content := fmt.Sprintf("%d|%s\n", b.state.Seq, cmd)
	tmp := b.commandFile + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.commandFile)
}

// StatusEvidence is the best-effort reading of the status file written
// by the external agent.
type StatusEvidence struct {
	Raw          string
	CurrentValue *float64
	TargetValue  *float64
	Tier         string
	UpdatedAt    time.Time
}

// StatusEvidence reads and parses the agent status file. A nil result
// with nil error means no status file exists.
func (b *Bridge) StatusEvidence() (*StatusEvidence, error) {
	if b.statusFile == "" {
		return nil, nil
	}
	return ReadStatusFile(b.statusFile)
}

// ReadStatusFile parses freeform agent status text. Lines carry loose
// "key=value" or "key: value" pairs; only current/applied, target, and
// tier keys are extracted. The file mtime is the update timestamp.
func ReadStatusFile(path string) (*StatusEvidence, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	ev := &StatusEvidence{Raw: string(data), UpdatedAt: info.ModTime()}
	for _, line := range strings.Split(string(data), "\n") {
		for _, token := range strings.Fields(line) {
			key, val, ok := splitPair(token)
			if !ok {
				continue
			}
			switch strings.ToLower(key) {
			case "current", "applied", "value":
				if f, err := strconv.ParseFloat(val, 64); err == nil {
					ev.CurrentValue = &f
				}
			case "target":
				if f, err := strconv.ParseFloat(val, 64); err == nil {
					ev.TargetValue = &f
				}
			case "tier", "phase":
				ev.Tier = val
			}
		}
	}
	return ev, nil
}

func splitPair(token string) (key, val string, ok bool) {
	for _, sep := range []string{"=", ":"} {
		if k, v, found := strings.Cut(token, sep); found && k != "" && v != "" {
			return k, v, true
		}
	}
	return "", "", false
}
