package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/servotrace/internal/canframe"
)

func TestCommandResponseProfileClassify(t *testing.T) {
	p := CommandResponseProfile(0)
	assert.Equal(t, ProfileCommandResponse, p.Name())

	r, ok := p.Classify(0x0201)
	require.True(t, ok)
	assert.Equal(t, KindCommand, r.Kind)

	d, outcome := p.Decode(canframe.New(0x0201, []byte{0x64, 0, 0, 0}, 3))
	require.Equal(t, OutcomeDecoded, outcome)
	assert.Equal(t, uint32(0x0200), d.Command.CommandID)
	assert.Equal(t, uint8(0x01), d.Command.ModuleID)
	assert.Equal(t, int32(100), d.Raw())

	r, ok = p.Classify(0x05FF)
	require.True(t, ok)
	assert.Equal(t, KindServo, r.Kind)

	for _, id := range []uint32{0x0101, 0x0300, 0x0700, 0x1200} {
		_, ok := p.Classify(id)
		assert.False(t, ok, "id 0x%X", id)
	}

	tracks := p.Tracks()
	require.Len(t, tracks, DefaultModules)
	assert.Equal(t, Track{Label: "module 1", Command: 0x0201, Feedback: 0x0501}, tracks[0])
}

func TestCommandResponseProfileDecodeOutcomes(t *testing.T) {
	p := CommandResponseProfile(3)

	_, outcome := p.Decode(canframe.New(0x0302, []byte{1, 2, 3, 4}, 0))
	assert.Equal(t, OutcomeUnroutable, outcome)

	_, outcome = p.Decode(canframe.New(0x0202, []byte{1, 2}, 0))
	assert.Equal(t, OutcomeMalformed, outcome)

	_, outcome = p.Decode(canframe.New(0x0502, make([]byte, 8), 0))
	assert.Equal(t, OutcomeMalformed, outcome)

	payload := make([]byte, 16)
	payload[8] = 0x10
	payload[9] = 0x27
	d, outcome := p.Decode(canframe.New(0x0502, payload, 0))
	require.Equal(t, OutcomeDecoded, outcome)
	assert.Equal(t, int32(10000), d.Raw())
	assert.True(t, d.Rule.Log)
}

func TestRangeProfile(t *testing.T) {
	p := RangeProfile(DefaultModules, DefaultPositionMarker)

	d, outcome := p.Decode(canframe.New(0x0205, []byte{0x10, 0x27, 0, 0}, 1))
	require.Equal(t, OutcomeDecoded, outcome)
	assert.Equal(t, KindCommand, d.Rule.Kind)
	assert.Equal(t, int32(10000), d.Raw())

	d, outcome = p.Decode(canframe.New(0x0105, []byte{0x00, 0x14, 0x20, 0x4E, 0x00, 0x00, 0x99}, 1))
	require.Equal(t, OutcomeDecoded, outcome)
	assert.Equal(t, KindPosition, d.Rule.Kind)
	assert.Equal(t, int32(20000), d.Raw())

	_, outcome = p.Decode(canframe.New(0x0105, []byte{0x00, 0x15, 0x20, 0x4E, 0x00, 0x00}, 1))
	assert.Equal(t, OutcomeMalformed, outcome, "selector mismatch")

	_, outcome = p.Decode(canframe.New(0x0105, []byte{0x00, 0x14, 0x20, 0x4E, 0x00}, 1))
	assert.Equal(t, OutcomeMalformed, outcome, "short position payload")

	_, outcome = p.Decode(canframe.New(0x0105, []byte{0x00}, 1))
	assert.Equal(t, OutcomeMalformed, outcome)

	for _, id := range []uint32{0x0100, 0x0200, 0x0300, 0x0501} {
		_, outcome := p.Decode(canframe.New(id, []byte{0, 0x14, 0, 0, 0, 0}, 0))
		assert.Equal(t, OutcomeUnroutable, outcome, "id 0x%X", id)
	}

	tracks := p.Tracks()
	require.Len(t, tracks, DefaultModules)
	assert.Equal(t, uint32(0x0207), tracks[6].Command)
	assert.Equal(t, uint32(0x0107), tracks[6].Feedback)
}

func TestProfilesAreIndependent(t *testing.T) {
	cr := CommandResponseProfile(0)
	rg := RangeProfile(0, DefaultPositionMarker)

	frame := canframe.New(0x0501, make([]byte, 16), 0)
	_, outcome := cr.Decode(frame)
	assert.Equal(t, OutcomeDecoded, outcome)
	_, outcome = rg.Decode(frame)
	assert.Equal(t, OutcomeUnroutable, outcome)

	frame = canframe.New(0x0200, []byte{1, 0, 0, 0}, 0)
	_, outcome = cr.Decode(frame)
	assert.Equal(t, OutcomeDecoded, outcome)
	_, outcome = rg.Decode(frame)
	assert.Equal(t, OutcomeUnroutable, outcome)
}

func TestNewProfileValidation(t *testing.T) {
	_, err := NewProfile("empty", nil, nil)
	assert.Error(t, err)

	_, err = NewProfile("bad kind", []Rule{{Name: "x", Kind: 9, Mask: 0xFF00}}, nil)
	assert.Error(t, err)

	_, err = NewProfile("bad base", []Rule{{Name: "x", Kind: KindCommand, Base: 0x0201, Mask: 0xFF00}}, nil)
	assert.Error(t, err)

	_, err = NewProfile("bad range", []Rule{{Name: "x", Kind: KindCommand, Min: 0x300, Max: 0x200}}, nil)
	assert.Error(t, err)

	_, err = NewProfile("bad offset", []Rule{{Name: "x", Kind: KindPosition, Min: 1, Max: 2, Offset: 61}}, nil)
	assert.Error(t, err)

	_, err = NewProfile("bad selector", []Rule{{Name: "x", Kind: KindPosition, Min: 1, Max: 2, Selector: &Selector{Index: 64}}}, nil)
	assert.Error(t, err)
}

func TestNewProfileCopiesSelector(t *testing.T) {
	sel := &Selector{Index: 1, Value: 0x14}
	p, err := NewProfile("custom", []Rule{{Name: "pos", Kind: KindPosition, Min: 0x101, Max: 0x1FF, Selector: sel, Offset: 2}}, nil)
	require.NoError(t, err)

	sel.Value = 0x99
	_, outcome := p.Decode(canframe.New(0x0101, []byte{0, 0x14, 1, 0, 0, 0}, 0))
	assert.Equal(t, OutcomeDecoded, outcome)
}

func TestBuiltin(t *testing.T) {
	p, err := Builtin(ProfileRange, 2, 0x14)
	require.NoError(t, err)
	assert.Equal(t, ProfileRange, p.Name())
	assert.Len(t, p.Tracks(), 2)

	p, err = Builtin("", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, ProfileCommandResponse, p.Name())

	_, err = Builtin("guess", 0, 0)
	assert.Error(t, err)
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{KindCommand, KindServo, KindPosition} {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("angle")
	assert.Error(t, err)
}
