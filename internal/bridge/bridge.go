// Command bridge delivering LOD commands to the rendering agent over UDP
// with a file-based fallback transport.
package bridge

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"lodregulator/internal/logging"
)

// Wire commands. Every command is newline-terminated ASCII.
const (
	CmdEnable  = "ENABLE"
	CmdDisable = "DISABLE"
	CmdPing    = "PING"
)

// AckState classifies the most recent agent reply.
type AckState string

const (
	AckNone      AckState = "no_ack"
	AckConnected AckState = "connected"
	AckOK        AckState = "ack_ok"
	AckDisabled  AckState = "disabled"
)

// ConnState is the derived connection badge consumed by diagnostics.
type ConnState string

const (
	ConnFileBridge   ConnState = "file_bridge"
	ConnAckOK        ConnState = "ack_ok"
	ConnNoAck        ConnState = "no_ack"
	ConnDisconnected ConnState = "disconnected"
)

const (
	// replyTimeout bounds the blocking wait for one agent reply.
	replyTimeout = 350 * time.Millisecond
	// noAckAfterMisses is how many consecutive missing replies are
	// tolerated before the ack state escalates to no_ack.
	noAckAfterMisses = 2
	// fileBridgeWindow is how recent a fallback write must be for the
	// file bridge to take precedence in the connection badge.
	fileBridgeWindow = 20 * time.Second
	// ackFreshWindow is how long a received ACK keeps the badge green.
	ackFreshWindow = 600 * time.Second
)

// SendResult reports the outcome of one bridge operation. Gated or
// failed sends are results, not errors: the loop retries next tick.
type SendResult struct {
	Sent    bool
	ViaFile bool
	Reason  string
	Reply   string
}

// State is an immutable copy of the bridge bookkeeping, published with
// every decision snapshot.
type State struct {
	HasSent         bool      `json:"has_sent"`
	LastSentTier    string    `json:"last_sent_tier,omitempty"`
	LastSentValue   float64   `json:"last_sent_value"`
	LastSentAt      time.Time `json:"last_sent_at"`
	Ack             AckState  `json:"ack"`
	AckError        string    `json:"ack_error,omitempty"`
	UsingFile       bool      `json:"using_file"`
	LastCommand     string    `json:"last_command,omitempty"`
	LastCommandAt   time.Time `json:"last_command_at"`
	LastAck         string    `json:"last_ack,omitempty"`
	LastAckAt       time.Time `json:"last_ack_at"`
	AppliedValue    *float64  `json:"applied_value,omitempty"`
	Seq             uint64    `json:"seq"`
	Attempts        uint64    `json:"attempts"`
	LastFileWriteAt time.Time `json:"last_file_write_at"`
}

// Bridge owns all command delivery state. It is not safe for concurrent
// use: the control loop goroutine is its only caller.
type Bridge struct {
	host        string
	port        int
	minInterval time.Duration
	minDelta    float64
	commandFile string
	statusFile  string
	now         func() time.Time

	state       State
	enableSent  bool
	disableSent bool
	missed      int
}

// New returns a bridge for the given endpoint and gating parameters.
func New(host string, port int, minInterval time.Duration, minDelta float64, commandFile, statusFile string) *Bridge {
	return &Bridge{
		host:        host,
		port:        port,
		minInterval: minInterval,
		minDelta:    minDelta,
		commandFile: commandFile,
		statusFile:  statusFile,
		now:         time.Now,
	}
}

// SetClock overrides the time source. Loop tests share one fake clock
// between the bridge and the regulator.
func (b *Bridge) SetClock(now func() time.Time) {
	b.now = now
}

// Configure updates endpoint and gating parameters in place.
func (b *Bridge) Configure(host string, port int, minInterval time.Duration, minDelta float64) {
	b.host = host
	b.port = port
	b.minInterval = minInterval
	b.minDelta = minDelta
}

// State returns a copy of the current bookkeeping.
func (b *Bridge) State() State {
	return b.state
}

// ConnState derives the connection badge. A recent fallback write wins;
// otherwise a fresh ACK means connected, attempts without any ACK mean
// no_ack, and a bridge that never tried is disconnected.
func (b *Bridge) ConnState(now time.Time) ConnState {
	if !b.state.LastFileWriteAt.IsZero() && now.Sub(b.state.LastFileWriteAt) <= fileBridgeWindow {
		return ConnFileBridge
	}
	if !b.state.LastAckAt.IsZero() && now.Sub(b.state.LastAckAt) <= ackFreshWindow {
		return ConnAckOK
	}
	if b.state.Attempts > 0 {
		return ConnNoAck
	}
	return ConnDisconnected
}

// SendValue delivers a SET_VALUE command, enforcing the minimum-interval
// and minimum-delta gates before any transport I/O. The first value of
// an enabled session is preceded by a one-time ENABLE.
func (b *Bridge) SendValue(ctx context.Context, tier string, value float64) SendResult {
	if b.host == "" {
		return SendResult{Reason: "bridge host not configured"}
	}

	now := b.now()
	if b.state.HasSent {
		if elapsed := now.Sub(b.state.LastSentAt); elapsed < b.minInterval {
			wait := (b.minInterval - elapsed).Round(time.Second)
			return SendResult{Reason: fmt.Sprintf("too soon, next send in %s", wait)}
		}
		if delta := value - b.state.LastSentValue; delta < b.minDelta && delta > -b.minDelta {
			return SendResult{Reason: fmt.Sprintf("delta %.3f below minimum %.3f", delta, b.minDelta)}
		}
	}

	return b.deliver(ctx, tier, value)
}

// SendValueDirect delivers a SET_VALUE outside the gating rules, for
// manual test sends and one-shot restores.
func (b *Bridge) SendValueDirect(ctx context.Context, tier string, value float64) SendResult {
	if b.host == "" {
		return SendResult{Reason: "bridge host not configured"}
	}
	return b.deliver(ctx, tier, value)
}

func (b *Bridge) deliver(ctx context.Context, tier string, value float64) SendResult {
	if !b.enableSent {
		res := b.exchange(ctx, CmdEnable)
		if !res.Sent {
			return SendResult{Reason: "enable not delivered: " + res.Reason}
		}
		b.enableSent = true
		b.disableSent = false
	}

	res := b.exchange(ctx, fmt.Sprintf("SET_VALUE %.3f", value))
	if res.Sent {
		b.state.HasSent = true
		b.state.LastSentTier = tier
		b.state.LastSentValue = value
		b.state.LastSentAt = b.now()
	}
	return res
}

// SendDisable issues one best-effort DISABLE and clears the dedup
// bookkeeping. It is idempotent per pause episode: repeated calls do
// nothing until the session is re-enabled.
func (b *Bridge) SendDisable(ctx context.Context) SendResult {
	if b.disableSent {
		return SendResult{Reason: "disable already sent"}
	}
	res := b.exchange(ctx, CmdDisable)
	b.disableSent = true
	b.enableSent = false
	b.state.HasSent = false
	b.state.LastSentTier = ""
	b.state.LastSentValue = 0
	b.state.Ack = AckDisabled
	return res
}

// Ping sends a PING outside the gating rules.
func (b *Bridge) Ping(ctx context.Context) SendResult {
	return b.exchange(ctx, CmdPing)
}

// exchange performs one transport attempt: UDP send, then one blocking
// reply read. Socket failures and missing replies fall back to the
// command file so an agent without network access can still poll.
func (b *Bridge) exchange(ctx context.Context, cmd string) SendResult {
	log := logging.FromContext(ctx)
	id := uuid.NewString()[:8]
	now := b.now()

	b.state.Attempts++
	b.state.LastCommand = cmd
	b.state.LastCommandAt = now

	reply, err := b.roundTrip(cmd)
	if err != nil {
		log.Warn("bridge transport failed", "id", id, "cmd", cmd, "err", err)
		b.missed++
		if b.missed >= noAckAfterMisses {
			b.state.Ack = AckNone
		} else if b.state.Ack != AckNone {
			// one miss is tolerated as still-connected
			b.state.Ack = AckConnected
		}
		if ferr := b.writeCommandFile(cmd); ferr != nil {
			log.Error("bridge file fallback failed", "id", id, "err", ferr)
			return SendResult{Reason: "transport and file fallback failed"}
		}
		b.state.UsingFile = true
		b.state.LastFileWriteAt = b.now()
		return SendResult{Sent: true, ViaFile: true, Reason: "udp failed, wrote command file"}
	}

	b.missed = 0
	b.state.UsingFile = false
	b.classifyReply(cmd, reply)
	log.Debug("bridge reply", "id", id, "cmd", cmd, "reply", reply)
	return SendResult{Sent: true, Reply: reply}
}

// roundTrip opens an ephemeral socket, sends cmd, and waits for one reply.
func (b *Bridge) roundTrip(cmd string) (string, error) {
	addr := net.JoinHostPort(b.host, strconv.Itoa(b.port))
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(cmd + "\n")); err != nil {
		return "", fmt.Errorf("send: %w", err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(replyTimeout)); err != nil {
		return "", fmt.Errorf("deadline: %w", err)
	}
	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		return "", fmt.Errorf("reply: %w", err)
	}
	return strings.TrimSpace(string(buf[:n])), nil
}

// classifyReply updates the ack state from one agent reply.
func (b *Bridge) classifyReply(cmd, reply string) {
	now := b.now()
	switch {
	case strings.HasPrefix(reply, "ERR"):
		b.state.Ack = AckNone
		b.state.AckError = strings.TrimSpace(strings.TrimPrefix(reply, "ERR"))
	case strings.HasPrefix(reply, "ACK"), reply == "PONG":
		b.state.Ack = AckOK
		b.state.AckError = ""
		b.state.LastAck = reply
		b.state.LastAckAt = now
		if v, ok := parseAppliedValue(reply); ok {
			b.state.AppliedValue = &v
		}
	default:
		b.state.Ack = AckConnected
		b.state.LastAck = reply
		b.state.LastAckAt = now
	}
}

// parseAppliedValue extracts the value from an "ACK SET_VALUE <v>" reply.
func parseAppliedValue(reply string) (float64, bool) {
	fields := strings.Fields(reply)
	if len(fields) != 3 || fields[0] != "ACK" || fields[1] != "SET_VALUE" {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
