package canframe

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameIdentifierParts(t *testing.T) {
	f := New(0x0201, []byte{0x64, 0, 0, 0}, 1.5)
	assert.Equal(t, uint32(0x0200), f.CommandID())
	assert.Equal(t, uint8(0x01), f.ModuleID())
	assert.False(t, f.Extended)
	assert.False(t, f.FD)

	ext := New(0x1ABCDEFF, nil, 0)
	assert.True(t, ext.Extended)
	assert.Equal(t, uint32(0xDE00), ext.CommandID())
	assert.Equal(t, uint8(0xFF), ext.ModuleID())
	assert.Zero(t, ext.CommandID()%0x100)
}

func TestFrameValidate(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  error
	}{
		{"classic ok", Frame{ID: 0x7FF, Data: make([]byte, 8)}, nil},
		{"std id too large", Frame{ID: 0x800}, ErrInvalidID},
		{"ext ok", Frame{ID: MaxExtID, Extended: true}, nil},
		{"ext too large", Frame{ID: MaxExtID + 1, Extended: true}, ErrInvalidID},
		{"classic too long", Frame{ID: 1, Data: make([]byte, 9)}, ErrInvalidLen},
		{"fd 64", Frame{ID: 1, FD: true, Data: make([]byte, 64)}, nil},
		{"fd too long", Frame{ID: 1, FD: true, Data: make([]byte, 65)}, ErrInvalidLen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestFrameString(t *testing.T) {
	assert.Equal(t, "201#64000000", New(0x201, []byte{0x64, 0, 0, 0}, 0).String())
	assert.Equal(t, "501##0"+"00000000000000000000000000000000", New(0x501, make([]byte, 16), 0).String())
	assert.Equal(t, "00000123#R", Frame{ID: 0x123, Extended: true, Remote: true}.String())
}

func TestFrameTime(t *testing.T) {
	f := Frame{Timestamp: 1700000000.25}
	tm := f.Time()
	assert.Equal(t, int64(1700000000), tm.Unix())
	assert.InDelta(t, 250e6, float64(tm.Nanosecond()), 1e3)
	assert.InDelta(t, f.Timestamp, Seconds(tm), 1e-6)
}

func TestSocketCANClassic(t *testing.T) {
	in := New(0x0201, []byte{0x64, 0x00, 0x00, 0x00}, 0)
	buf, err := in.MarshalSocketCAN(binary.LittleEndian)
	require.NoError(t, err)
	require.Len(t, buf, ClassicFrameSize)
	assert.Equal(t, byte(4), buf[4])

	out, err := UnmarshalSocketCAN(buf, binary.LittleEndian)
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("classic frame mismatch (-want +got):\n%s", diff)
	}
}

func TestSocketCANFDBigEndian(t *testing.T) {
	payload := make([]byte, 16)
	payload[14] = 0x05
	in := New(0x0503, payload, 0)
	require.True(t, in.FD)

	buf, err := in.MarshalSocketCAN(binary.BigEndian)
	require.NoError(t, err)
	require.Len(t, buf, FDFrameSize)
	assert.Equal(t, []byte{0x00, 0x00, 0x05, 0x03}, buf[0:4])

	out, err := UnmarshalSocketCAN(buf, binary.BigEndian)
	require.NoError(t, err)
	assert.True(t, out.FD)
	assert.Equal(t, uint32(0x0503), out.ID)
	assert.Equal(t, payload, out.Data)
}

func TestUnmarshalSocketCANErrors(t *testing.T) {
	_, err := UnmarshalSocketCAN(make([]byte, 10), binary.LittleEndian)
	assert.Error(t, err)

	buf := make([]byte, ClassicFrameSize)
	binary.LittleEndian.PutUint32(buf, canErrFlag|0x4)
	_, err = UnmarshalSocketCAN(buf, binary.LittleEndian)
	assert.Error(t, err)

	buf = make([]byte, ClassicFrameSize)
	buf[4] = 12
	_, err = UnmarshalSocketCAN(buf, binary.LittleEndian)
	assert.ErrorIs(t, err, ErrInvalidLen)
}

func TestDLCMapping(t *testing.T) {
	assert.Equal(t, 8, DLCToLen(8, false))
	assert.Equal(t, 8, DLCToLen(12, false))
	assert.Equal(t, 16, DLCToLen(10, true))
	assert.Equal(t, 64, DLCToLen(15, true))
	assert.Equal(t, uint8(10), LenToDLC(16))
	assert.Equal(t, uint8(9), LenToDLC(9))
	assert.Equal(t, uint8(15), LenToDLC(64))
}
