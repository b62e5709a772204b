package decode

import (
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/servotrace/internal/canframe"
)

// Built-in profile names.
const (
	ProfileCommandResponse = "command_response"
	ProfileRange           = "range"
)

// Defaults used by the built-in profiles.
const (
	DefaultModules        = 7
	DefaultPositionMarker = 0x14
	DefaultPositionOffset = 2
)

// Kind selects the decoder applied to frames matching a rule.
type Kind uint8

const (
	KindCommand Kind = iota + 1
	KindServo
	KindPosition
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindServo:
		return "servo"
	case KindPosition:
		return "position"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "command":
		return KindCommand, nil
	case "servo":
		return KindServo, nil
	case "position":
		return KindPosition, nil
	}
	return 0, fmt.Errorf("unknown decoder kind %q", s)
}

// Selector gates a rule on a marker byte inside the payload.
type Selector struct {
	Index int
	Value byte
}

// Rule maps an identifier band to a decoder. With a non-zero Mask the rule
// matches when id&Mask == Base; with Mask == 0 it matches Min <= id <= Max.
type Rule struct {
	Name     string
	Kind     Kind
	Base     uint32
	Mask     uint32
	Min      uint32
	Max      uint32
	Selector *Selector
	// Offset of the 4-byte value for KindPosition.
	Offset int
	// Log sends decoded samples to the module log, Plot to the series store.
	Log  bool
	Plot bool
}

// Matches reports whether id falls in the rule's band.
func (r Rule) Matches(id uint32) bool {
	if r.Mask != 0 {
		return id&r.Mask == r.Base
	}
	return id >= r.Min && id <= r.Max
}

func (r Rule) validate() error {
	switch r.Kind {
	case KindCommand, KindServo, KindPosition:
	default:
		return fmt.Errorf("rule %q: unknown kind %d", r.Name, r.Kind)
	}
	if r.Mask != 0 {
		if r.Base&^r.Mask != 0 {
			return fmt.Errorf("rule %q: base 0x%X has bits outside mask 0x%X", r.Name, r.Base, r.Mask)
		}
	} else if r.Min > r.Max {
		return fmt.Errorf("rule %q: empty range 0x%X-0x%X", r.Name, r.Min, r.Max)
	}
	if r.Max > canframe.MaxExtID || r.Base > canframe.MaxExtID {
		return fmt.Errorf("rule %q: identifier beyond 29 bits", r.Name)
	}
	if r.Selector != nil && (r.Selector.Index < 0 || r.Selector.Index >= canframe.MaxFDLen) {
		return fmt.Errorf("rule %q: selector index %d outside payload", r.Name, r.Selector.Index)
	}
	if r.Kind == KindPosition && (r.Offset < 0 || r.Offset+4 > canframe.MaxFDLen) {
		return fmt.Errorf("rule %q: value offset %d outside payload", r.Name, r.Offset)
	}
	return nil
}

// Track pairs a command identifier with the identifier reporting the
// resulting position, so both can be drawn together.
type Track struct {
	Label    string
	Command  uint32
	Feedback uint32
}

// Profile is an immutable, ordered set of rules. The first matching rule
// wins.
type Profile struct {
	name   string
	rules  []Rule
	tracks []Track
}

// NewProfile validates and copies rules and tracks into a Profile.
func NewProfile(name string, rules []Rule, tracks []Track) (*Profile, error) {
	if len(rules) == 0 {
		return nil, errors.New("profile has no rules")
	}
	p := &Profile{
		name:   name,
		rules:  make([]Rule, len(rules)),
		tracks: append([]Track(nil), tracks...),
	}
	for i, r := range rules {
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		if r.Selector != nil {
			sel := *r.Selector
			r.Selector = &sel
		}
		p.rules[i] = r
	}
	return p, nil
}

func mustProfile(name string, rules []Rule, tracks []Track) *Profile {
	p, err := NewProfile(name, rules, tracks)
	if err != nil {
		panic(err)
	}
	return p
}

// Name returns the profile name.
func (p *Profile) Name() string { return p.name }

// Rules returns a copy of the profile's rules.
func (p *Profile) Rules() []Rule { return append([]Rule(nil), p.rules...) }

// Tracks returns a copy of the profile's render tracks.
func (p *Profile) Tracks() []Track { return append([]Track(nil), p.tracks...) }

// Classify returns the first rule matching id.
func (p *Profile) Classify(id uint32) (Rule, bool) {
	for _, r := range p.rules {
		if r.Matches(id) {
			return r, true
		}
	}
	return Rule{}, false
}

// Outcome classifies the result of Profile.Decode.
type Outcome uint8

const (
	OutcomeDecoded Outcome = iota
	OutcomeUnroutable
	OutcomeMalformed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDecoded:
		return "decoded"
	case OutcomeUnroutable:
		return "unroutable"
	case OutcomeMalformed:
		return "malformed"
	}
	return "unknown"
}

// Decoded holds the sample produced for one frame. Exactly one of Command,
// Servo or Position is set, according to Rule.Kind.
type Decoded struct {
	Rule     Rule
	Command  CommandSample
	Servo    ServoSample
	Position PositionSample
}

// Raw returns the value drawn on the live plot: the command value, the servo
// position, or the embedded position value.
func (d Decoded) Raw() int32 {
	switch d.Rule.Kind {
	case KindServo:
		return d.Servo.Position
	case KindPosition:
		return d.Position.Value
	default:
		return d.Command.Value
	}
}

// Decode classifies f and runs the matching decoder.
func (p *Profile) Decode(f canframe.Frame) (Decoded, Outcome) {
	rule, ok := p.Classify(f.ID)
	if !ok {
		return Decoded{}, OutcomeUnroutable
	}
	d := Decoded{Rule: rule}
	if sel := rule.Selector; sel != nil {
		if len(f.Data) <= sel.Index || f.Data[sel.Index] != sel.Value {
			return d, OutcomeMalformed
		}
	}
	switch rule.Kind {
	case KindCommand:
		d.Command, ok = DecodeCommand(f.ID, f.Timestamp, f.Data)
	case KindServo:
		d.Servo, ok = DecodeServo(f.ID, f.Timestamp, f.Data)
	case KindPosition:
		d.Position, ok = DecodePosition(f.ID, f.Timestamp, f.Data, rule.Offset)
	default:
		ok = false
	}
	if !ok {
		return d, OutcomeMalformed
	}
	return d, OutcomeDecoded
}

// CommandResponseProfile is the two-band dialect: commands at 0x02xx decode
// as CommandSample, servo responses at 0x05xx decode as ServoSample.
func CommandResponseProfile(modules int) *Profile {
	if modules <= 0 {
		modules = DefaultModules
	}
	tracks := make([]Track, 0, modules)
	for i := 1; i <= modules && i <= 0xFF; i++ {
		tracks = append(tracks, Track{
			Label:    fmt.Sprintf("module %d", i),
			Command:  0x0200 + uint32(i),
			Feedback: 0x0500 + uint32(i),
		})
	}
	return mustProfile(ProfileCommandResponse, []Rule{
		{Name: "command", Kind: KindCommand, Base: 0x0200, Mask: 0xFF00, Log: true, Plot: true},
		{Name: "response", Kind: KindServo, Base: 0x0500, Mask: 0xFF00, Log: true, Plot: true},
	}, tracks)
}

// RangeProfile is the range dialect: commands in 0x201-0x2FF carry a target
// angle in bytes [0:4]; frames in 0x101-0x1FF carry the measured angle in
// bytes [2:6] when payload[1] equals marker.
func RangeProfile(modules int, marker byte) *Profile {
	if modules <= 0 {
		modules = DefaultModules
	}
	tracks := make([]Track, 0, modules)
	for i := 0; i < modules && i < 0xFF; i++ {
		tracks = append(tracks, Track{
			Label:    fmt.Sprintf("ID %d", i+1),
			Command:  0x0201 + uint32(i),
			Feedback: 0x0101 + uint32(i),
		})
	}
	return mustProfile(ProfileRange, []Rule{
		{Name: "command", Kind: KindCommand, Min: 0x0201, Max: 0x02FF, Plot: true},
		{
			Name:     "position",
			Kind:     KindPosition,
			Min:      0x0101,
			Max:      0x01FF,
			Selector: &Selector{Index: 1, Value: marker},
			Offset:   DefaultPositionOffset,
			Plot:     true,
		},
	}, tracks)
}

// Builtin returns a built-in profile by name.
func Builtin(name string, modules int, marker byte) (*Profile, error) {
	switch name {
	case ProfileCommandResponse, "":
		return CommandResponseProfile(modules), nil
	case ProfileRange:
		return RangeProfile(modules, marker), nil
	}
	return nil, fmt.Errorf("unknown profile %q", name)
}
