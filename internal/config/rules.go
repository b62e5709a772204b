package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/servotrace/internal/decode"
)

// HexID is an identifier that decodes from a JSON number or a string such as
// "0x0200".
type HexID uint32

func (h *HexID) UnmarshalJSON(b []byte) error {
	var n uint32
	if err := json.Unmarshal(b, &n); err == nil {
		*h = HexID(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("identifier must be a number or string, got %s", b)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return fmt.Errorf("invalid identifier %q: %w", s, err)
	}
	*h = HexID(v)
	return nil
}

func (h HexID) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("0x%X", uint32(h)))
}

// SelectorConfig gates a rule on payload[Index] == Value.
type SelectorConfig struct {
	Index int   `json:"index"`
	Value HexID `json:"value"`
}

// RuleConfig is the JSON form of decode.Rule.
type RuleConfig struct {
	Name     string          `json:"name"`
	Kind     string          `json:"kind"`
	Base     HexID           `json:"base,omitempty"`
	Mask     HexID           `json:"mask,omitempty"`
	Min      HexID           `json:"min,omitempty"`
	Max      HexID           `json:"max,omitempty"`
	Selector *SelectorConfig `json:"selector,omitempty"`
	Offset   *int            `json:"offset,omitempty"`
	Log      bool            `json:"log"`
	Plot     bool            `json:"plot"`
}

// TrackConfig pairs a command identifier with its feedback identifier.
type TrackConfig struct {
	Label    string `json:"label"`
	Command  HexID  `json:"command"`
	Feedback HexID  `json:"feedback"`
}

// ClassConfig is the JSON form of monitor.ClassRule.
type ClassConfig struct {
	Class string `json:"class"`
	Min   HexID  `json:"min"`
	Max   HexID  `json:"max"`
}

func (rc RuleConfig) rule() (decode.Rule, error) {
	kind, err := decode.ParseKind(rc.Kind)
	if err != nil {
		return decode.Rule{}, fmt.Errorf("rule %q: %w", rc.Name, err)
	}
	r := decode.Rule{
		Name: rc.Name,
		Kind: kind,
		Base: uint32(rc.Base),
		Mask: uint32(rc.Mask),
		Min:  uint32(rc.Min),
		Max:  uint32(rc.Max),
		Log:  rc.Log,
		Plot: rc.Plot,
	}
	if rc.Selector != nil {
		if rc.Selector.Value > 0xFF {
			return decode.Rule{}, fmt.Errorf("rule %q: selector value 0x%X exceeds one byte", rc.Name, uint32(rc.Selector.Value))
		}
		r.Selector = &decode.Selector{Index: rc.Selector.Index, Value: byte(rc.Selector.Value)}
	}
	if kind == decode.KindPosition {
		r.Offset = decode.DefaultPositionOffset
		if rc.Offset != nil {
			r.Offset = *rc.Offset
		}
	}
	return r, nil
}

// Profile builds the immutable decode profile: the custom rules when any
// are configured, otherwise the named built-in profile. Custom tracks
// replace the built-in ones.
func (c *Config) Profile() (*decode.Profile, error) {
	var tracks []decode.Track
	for _, tc := range c.Tracks {
		tracks = append(tracks, decode.Track{
			Label:    tc.Label,
			Command:  uint32(tc.Command),
			Feedback: uint32(tc.Feedback),
		})
	}

	if len(c.Rules) == 0 {
		p, err := decode.Builtin(c.GetProfileName(), c.GetModules(), c.GetPositionSelector())
		if err != nil {
			return nil, err
		}
		if tracks == nil {
			return p, nil
		}
		return decode.NewProfile(p.Name(), p.Rules(), tracks)
	}

	rules := make([]decode.Rule, 0, len(c.Rules))
	for _, rc := range c.Rules {
		r, err := rc.rule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return decode.NewProfile(c.GetProfileName(), rules, tracks)
}
