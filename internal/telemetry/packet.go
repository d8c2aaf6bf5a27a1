// Binary telemetry packet decoding.
package telemetry

import (
	"encoding/binary"
	"errors"
	"math"
	"time"
)

// Magic is the 4-byte literal every telemetry datagram must start with.
const Magic = "DATA"

const (
	headerSize = 5 // magic + one reserved byte
	recordSize = 36

	recordFrameStats = 0
	recordPosition   = 20
)

// Sanity bounds; values outside are treated as absent, not as errors.
const (
	fpsMin = 1.0
	fpsMax = 400.0
	spfMin = 0.001
	spfMax = 0.5
	mslMin = -1500.0
	mslMax = 80000.0
	aglMin = -200.0
	aglMax = 50000.0
)

var (
	// ErrBadMagic marks a datagram that does not start with Magic.
	ErrBadMagic = errors.New("telemetry: bad packet magic")
	// ErrNoUsableData marks a well-framed packet whose records carried
	// no value inside the sanity bounds.
	ErrNoUsableData = errors.New("telemetry: no usable record data")
)

// ParsePacket decodes one telemetry datagram. The payload after the
// reserved byte is a sequence of fixed 36-byte records: a little-endian
// int32 record index followed by eight little-endian float32 fields.
// A trailing partial record is ignored.
func ParsePacket(buf []byte, now time.Time) (*Snapshot, error) {
	if len(buf) < headerSize || string(buf[:len(Magic)]) != Magic {
		return nil, ErrBadMagic
	}

	snap := Snapshot{Source: "udp", ReceivedAt: now}
	usable := false

	body := buf[headerSize:]
	for len(body) >= recordSize {
		rec := body[:recordSize]
		body = body[recordSize:]

		index := int32(binary.LittleEndian.Uint32(rec[:4]))
		var fields [8]float64
		for i := range fields {
			bits := binary.LittleEndian.Uint32(rec[4+i*4 : 8+i*4])
			fields[i] = float64(math.Float32frombits(bits))
		}

		switch index {
		case recordFrameStats:
			if fps := fields[0]; fps > fpsMin && fps < fpsMax {
				snap.FPS = &fps
				usable = true
			}
			if spf := fields[2]; spf > spfMin && spf < spfMax {
				ms := spf * 1000
				snap.FrameTimeMS = &ms
				usable = true
			}
		case recordPosition:
			if msl := fields[2]; msl >= mslMin && msl <= mslMax {
				snap.MSLFt = &msl
				usable = true
			}
			if agl := fields[3]; agl >= aglMin && agl <= aglMax {
				snap.AGLFt = &agl
				usable = true
			}
		}
	}

	if !usable {
		return nil, ErrNoUsableData
	}
	return &snap, nil
}
