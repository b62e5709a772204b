// Package canframe defines the CAN / CAN FD frame type consumed by the
// ingestion loop, together with the binary and text encodings used by the
// frame sources (SocketCAN structs, pcap captures and SLCAN serial adapters).
package canframe

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Identifier and payload limits.
const (
	MaxStdID      = 0x7FF
	MaxExtID      = 0x1FFFFFFF
	MaxClassicLen = 8
	MaxFDLen      = 64

	CommandMask = 0xFF00
	ModuleMask  = 0x00FF
)

var (
	ErrInvalidID  = errors.New("canframe: invalid identifier")
	ErrInvalidLen = errors.New("canframe: invalid data length")
)

// Frame is one received CAN or CAN FD frame. Timestamp is in seconds; sources
// decide the epoch (wall clock for live buses, capture time for replays).
type Frame struct {
	ID        uint32
	Extended  bool
	FD        bool
	Remote    bool
	Data      []byte
	Timestamp float64
}

// New builds a frame, marking it extended when id does not fit in 11 bits
// and FD when the payload is longer than a classic frame allows.
func New(id uint32, data []byte, ts float64) Frame {
	return Frame{
		ID:        id,
		Extended:  id > MaxStdID,
		FD:        len(data) > MaxClassicLen,
		Data:      data,
		Timestamp: ts,
	}
}

// Validate returns an error if the identifier or payload length is out of
// range for the frame's format.
func (f Frame) Validate() error {
	if f.Extended {
		if f.ID > MaxExtID {
			return ErrInvalidID
		}
	} else if f.ID > MaxStdID {
		return ErrInvalidID
	}
	limit := MaxClassicLen
	if f.FD {
		limit = MaxFDLen
	}
	if len(f.Data) > limit {
		return ErrInvalidLen
	}
	return nil
}

// CommandID returns the message type bits of the identifier (always a
// multiple of 0x100).
func (f Frame) CommandID() uint32 { return f.ID & CommandMask }

// ModuleID returns the low byte of the identifier, addressing one actuator.
func (f Frame) ModuleID() uint8 { return uint8(f.ID & ModuleMask) }

// Time converts Timestamp into a time.Time.
func (f Frame) Time() time.Time {
	sec := int64(f.Timestamp)
	nsec := int64((f.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// Seconds converts t into the floating point representation used by Frame.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// String renders the frame in candump style, e.g. "201#64000000".
func (f Frame) String() string {
	var b strings.Builder
	if f.Extended {
		fmt.Fprintf(&b, "%08X", f.ID)
	} else {
		fmt.Fprintf(&b, "%03X", f.ID)
	}
	if f.FD {
		b.WriteString("##0")
	} else {
		b.WriteByte('#')
	}
	if f.Remote {
		b.WriteByte('R')
		return b.String()
	}
	b.WriteString(strings.ToUpper(hex.EncodeToString(f.Data)))
	return b.String()
}
