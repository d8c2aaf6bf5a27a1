// UDP telemetry receiver.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"lodregulator/internal/logging"
)

// Receiver binds a UDP socket and keeps the latest valid telemetry
// snapshot together with packet-validity counters. It is safe for
// concurrent use; the read loop runs on its own goroutine.
type Receiver struct {
	mu          sync.Mutex
	conn        net.PacketConn
	enabled     bool
	bindErr     error
	valid       uint64
	invalid     uint64
	last        *Snapshot
	lastValidAt time.Time
	now         func() time.Time
}

// NewReceiver returns an unbound receiver. Call Configure to start it.
func NewReceiver() *Receiver {
	return &Receiver{now: time.Now}
}

// Configure binds or unbinds the listener. Reconfiguring closes any
// previous socket first; counters reset so the derived connection state
// reflects the new endpoint.
func (r *Receiver) Configure(ctx context.Context, enabled bool, host string, port int) error {
	log := logging.FromContext(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	r.enabled = enabled
	r.bindErr = nil
	r.valid, r.invalid = 0, 0
	r.last = nil
	r.lastValidAt = time.Time{}

	if !enabled {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		r.bindErr = err
		log.Error("telemetry bind failed", "addr", addr, "err", err)
		return err
	}
	r.conn = conn
	log.Info("telemetry listening", "addr", conn.LocalAddr().String())
	go r.readLoop(ctx, conn)
	return nil
}

// Addr returns the bound local address, or nil when unbound.
func (r *Receiver) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// readLoop drains datagrams until the socket is closed.
func (r *Receiver) readLoop(ctx context.Context, conn net.PacketConn) {
	log := logging.FromContext(ctx)
	buf := make([]byte, 4096)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Error("telemetry read failed", "err", err)
			}
			return
		}
		r.ingest(buf[:n])
	}
}

func (r *Receiver) ingest(datagram []byte) {
	now := r.now()
	snap, err := ParsePacket(datagram, now)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.invalid++
		return
	}
	r.valid++
	r.last = snap
	r.lastValidAt = now
}

// Snapshot returns the freshest telemetry and the derived connection
// state. The snapshot is nil unless the most recent valid packet is
// within the freshness window.
func (r *Receiver) Snapshot(now time.Time) (*Snapshot, ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case !r.enabled:
		return nil, StateIdle
	case r.bindErr != nil:
		return nil, StateMisconfig
	case r.valid == 0 && r.invalid > 0:
		return nil, StateMisconfig
	case r.valid == 0:
		return nil, StateListening
	}

	var snap *Snapshot
	if now.Sub(r.lastValidAt) <= freshnessWindow {
		cp := *r.last
		snap = &cp
	}
	if now.Sub(r.lastValidAt) <= activeWindow {
		return snap, StateActive
	}
	return snap, StateListening
}

// Close releases the socket if bound.
func (r *Receiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}
