package canframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSLCAN(t *testing.T) {
	t.Run("standard data frame", func(t *testing.T) {
		f, err := ParseSLCAN("t201464000000\r")
		require.NoError(t, err)
		assert.Equal(t, uint32(0x201), f.ID)
		assert.Equal(t, []byte{0x64, 0, 0, 0}, f.Data)
		assert.False(t, f.Extended)
	})

	t.Run("adapter timestamp suffix ignored", func(t *testing.T) {
		f, err := ParseSLCAN("t10120114EA60")
		require.NoError(t, err)
		assert.Equal(t, []byte{0x01, 0x14}, f.Data)
	})

	t.Run("extended", func(t *testing.T) {
		f, err := ParseSLCAN("T1ABCDEFF2AABB")
		require.NoError(t, err)
		assert.True(t, f.Extended)
		assert.Equal(t, uint32(0x1ABCDEFF), f.ID)
		assert.Equal(t, []byte{0xAA, 0xBB}, f.Data)
	})

	t.Run("fd sixteen bytes", func(t *testing.T) {
		f, err := ParseSLCAN("d501A" + "0100000002000000030000000000" + "0500")
		require.NoError(t, err)
		assert.True(t, f.FD)
		require.Len(t, f.Data, 16)
		assert.Equal(t, byte(0x05), f.Data[14])
	})

	t.Run("remote", func(t *testing.T) {
		f, err := ParseSLCAN("r1234")
		require.NoError(t, err)
		assert.True(t, f.Remote)
		assert.Empty(t, f.Data)
	})

	for _, bad := range []string{"", "x123", "t12", "tZZZ0", "t1014AA", "t7FFG"} {
		_, err := ParseSLCAN(bad)
		assert.Error(t, err, "line %q", bad)
	}
}

func TestFormatSLCANRoundTrip(t *testing.T) {
	frames := []Frame{
		New(0x201, []byte{0x64, 0, 0, 0}, 0),
		New(0x1ABCDEFF, []byte{1, 2, 3}, 0),
		New(0x501, make([]byte, 16), 0),
	}
	for _, in := range frames {
		line, err := FormatSLCAN(in)
		require.NoError(t, err)
		assert.Equal(t, byte('\r'), line[len(line)-1])

		out, err := ParseSLCAN(line)
		require.NoError(t, err)
		assert.Equal(t, in.ID, out.ID)
		assert.Equal(t, in.Data, out.Data)
		assert.Equal(t, in.FD, out.FD)
	}
}
