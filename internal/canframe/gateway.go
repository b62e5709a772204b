package canframe

import (
	"encoding/binary"
	"fmt"
)

// GatewayFrameSize is the size of one frame in the fixed 13 byte layout used
// by CAN-to-Ethernet gateways: an info byte, a big-endian identifier and
// eight data bytes.
const GatewayFrameSize = 13

const (
	gwValid    = 0x80
	gwExtended = 0x20
	gwRemote   = 0x10
	gwDLCMask  = 0x0F
)

// ParseGateway decodes every 13 byte record in a gateway datagram.
func ParseGateway(b []byte) ([]Frame, error) {
	if len(b) == 0 || len(b)%GatewayFrameSize != 0 {
		return nil, fmt.Errorf("gateway: datagram length %d is not a multiple of %d", len(b), GatewayFrameSize)
	}
	frames := make([]Frame, 0, len(b)/GatewayFrameSize)
	for off := 0; off < len(b); off += GatewayFrameSize {
		rec := b[off : off+GatewayFrameSize]
		info := rec[0]
		if info&gwValid == 0 {
			return nil, fmt.Errorf("gateway: invalid info byte 0x%02x", info)
		}
		n := int(info & gwDLCMask)
		if n > MaxClassicLen {
			return nil, fmt.Errorf("gateway: dlc %d: %w", n, ErrInvalidLen)
		}
		f := Frame{
			ID:       binary.BigEndian.Uint32(rec[1:5]),
			Extended: info&gwExtended != 0,
			Remote:   info&gwRemote != 0,
		}
		if !f.Remote {
			f.Data = append([]byte(nil), rec[5:5+n]...)
		}
		if err := f.Validate(); err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// MarshalGateway encodes a classic frame as one 13 byte gateway record.
func (f Frame) MarshalGateway() ([]byte, error) {
	if f.FD {
		return nil, fmt.Errorf("gateway: FD frames are not supported")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, GatewayFrameSize)
	info := byte(gwValid) | byte(len(f.Data))
	if f.Extended {
		info |= gwExtended
	}
	if f.Remote {
		info |= gwRemote
	}
	buf[0] = info
	binary.BigEndian.PutUint32(buf[1:5], f.ID)
	copy(buf[5:], f.Data)
	return buf, nil
}
