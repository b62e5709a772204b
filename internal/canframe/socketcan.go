package canframe

import (
	"encoding/binary"
	"fmt"
)

// Sizes of the Linux SocketCAN frame structures.
const (
	ClassicFrameSize = 16 // struct can_frame
	FDFrameSize      = 72 // struct canfd_frame
)

const (
	canEffFlag = 0x80000000
	canRtrFlag = 0x40000000
	canErrFlag = 0x20000000
	canEffMask = 0x1FFFFFFF
	canStdMask = 0x7FF
)

// fdLengths maps a 4-bit data length code to the CAN FD payload length.
var fdLengths = [16]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// DLCToLen converts a data length code to a payload length. Classic frames
// cap at 8 bytes.
func DLCToLen(dlc uint8, fd bool) int {
	if dlc > 15 {
		dlc = 15
	}
	if !fd && dlc > 8 {
		return 8
	}
	return fdLengths[dlc]
}

// LenToDLC returns the smallest data length code whose payload length is at
// least n.
func LenToDLC(n int) uint8 {
	for dlc, l := range fdLengths {
		if l >= n {
			return uint8(dlc)
		}
	}
	return 15
}

// MarshalSocketCAN encodes the frame as struct can_frame (classic) or struct
// canfd_frame (FD). The identifier word uses order; the kernel uses host
// order while pcap LINKTYPE_CAN_SOCKETCAN captures use big-endian.
func (f Frame) MarshalSocketCAN(order binary.ByteOrder) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	id := f.ID
	if f.Extended {
		id |= canEffFlag
	}
	if f.Remote {
		id |= canRtrFlag
	}
	size := ClassicFrameSize
	if f.FD {
		size = FDFrameSize
	}
	buf := make([]byte, size)
	order.PutUint32(buf[0:4], id)
	buf[4] = uint8(len(f.Data))
	copy(buf[8:], f.Data)
	return buf, nil
}

// UnmarshalSocketCAN decodes a struct can_frame or struct canfd_frame. The
// structure is chosen by length: 72 bytes is FD, 16 bytes is classic. Error
// frames are rejected.
func UnmarshalSocketCAN(data []byte, order binary.ByteOrder) (Frame, error) {
	var f Frame
	switch {
	case len(data) >= FDFrameSize:
		f.FD = true
	case len(data) >= ClassicFrameSize:
	default:
		return Frame{}, fmt.Errorf("canframe: need %d or %d bytes, got %d", ClassicFrameSize, FDFrameSize, len(data))
	}
	id := order.Uint32(data[0:4])
	if id&canErrFlag != 0 {
		return Frame{}, fmt.Errorf("canframe: error frame 0x%08X", id)
	}
	f.Extended = id&canEffFlag != 0
	f.Remote = id&canRtrFlag != 0
	if f.Extended {
		f.ID = id & canEffMask
	} else {
		f.ID = id & canStdMask
	}
	n := int(data[4])
	limit := MaxClassicLen
	if f.FD {
		limit = MaxFDLen
	}
	if n > limit {
		return Frame{}, ErrInvalidLen
	}
	f.Data = append([]byte(nil), data[8:8+n]...)
	return f, f.Validate()
}

// HostOrder is the byte order of the SocketCAN structures read from a raw
// socket on the architectures this tool targets.
var HostOrder binary.ByteOrder = binary.LittleEndian

// NetworkOrder is the identifier byte order in LINKTYPE_CAN_SOCKETCAN pcap
// captures.
var NetworkOrder binary.ByteOrder = binary.BigEndian
