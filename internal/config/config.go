// Package config loads the servotrace session configuration.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/servotrace/internal/decode"
	"github.com/banshee-data/servotrace/internal/ingest"
	"github.com/banshee-data/servotrace/internal/monitor"
	"github.com/banshee-data/servotrace/internal/transport"
)

// DefaultConfigPath is the checked-in defaults file.
const DefaultConfigPath = "config/servotrace.defaults.json"

const maxFileSize = 1 * 1024 * 1024

// Defaults applied by the Get* accessors.
const (
	DefaultSource           = "mock"
	DefaultWindow           = 10 * time.Second
	DefaultMaxPoints        = 1000
	DefaultAngleScale       = 10000.0
	DefaultReceiveTimeout   = time.Second
	DefaultTickInterval     = 50 * time.Millisecond
	DefaultStatsInterval    = time.Second
	DefaultExportDir        = "can_output"
	DefaultOnTransportError = "transient"
	DefaultYMin             = -90.0
	DefaultYMax             = 90.0
)

// Config is the root session configuration. Every field is optional;
// omitted fields fall back to the defaults above.
type Config struct {
	Source           *string                `json:"source,omitempty"`
	ProfileName      *string                `json:"profile,omitempty"`
	Window           *string                `json:"window,omitempty"` // duration string like "10s"
	MaxPoints        *int                   `json:"max_points,omitempty"`
	AngleScale       *float64               `json:"angle_scale,omitempty"`
	ReceiveTimeout   *string                `json:"receive_timeout,omitempty"`
	TickInterval     *string                `json:"tick_interval,omitempty"`
	StatsInterval    *string                `json:"stats_interval,omitempty"`
	Modules          *int                   `json:"modules,omitempty"`
	PositionSelector *int                   `json:"position_selector,omitempty"`
	ExportDir        *string                `json:"export_dir,omitempty"`
	SQLitePath       *string                `json:"sqlite_path,omitempty"`
	OnTransportError *string                `json:"on_transport_error,omitempty"`
	YMin             *float64               `json:"y_min,omitempty"`
	YMax             *float64               `json:"y_max,omitempty"`
	Bitrate          *int                   `json:"bitrate,omitempty"`
	Serial           *transport.PortOptions `json:"serial,omitempty"`
	Rules            []RuleConfig           `json:"rules,omitempty"`
	Tracks           []TrackConfig          `json:"tracks,omitempty"`
	Classes          []ClassConfig          `json:"classes,omitempty"`
}

// Load reads a Config from a JSON file and validates it.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a JSON document.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching parent
// directories so tests can run from any package. It panics on failure.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func parseDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, d)
	}
	return nil
}

// Validate checks that set values are usable. Unset values are always
// valid.
func (c *Config) Validate() error {
	for name, v := range map[string]*string{
		"window":          c.Window,
		"receive_timeout": c.ReceiveTimeout,
		"tick_interval":   c.TickInterval,
		"stats_interval":  c.StatsInterval,
	} {
		if err := parseDuration(name, v); err != nil {
			return err
		}
	}
	if c.ProfileName != nil && len(c.Rules) == 0 {
		switch *c.ProfileName {
		case decode.ProfileCommandResponse, decode.ProfileRange:
		default:
			return fmt.Errorf("unknown profile %q (custom profiles need rules)", *c.ProfileName)
		}
	}
	if c.MaxPoints != nil && *c.MaxPoints <= 0 {
		return fmt.Errorf("max_points must be positive, got %d", *c.MaxPoints)
	}
	if c.AngleScale != nil && *c.AngleScale <= 0 {
		return fmt.Errorf("angle_scale must be positive, got %f", *c.AngleScale)
	}
	if c.Modules != nil && (*c.Modules < 1 || *c.Modules > 255) {
		return fmt.Errorf("modules must be between 1 and 255, got %d", *c.Modules)
	}
	if c.PositionSelector != nil && (*c.PositionSelector < 0 || *c.PositionSelector > 0xFF) {
		return fmt.Errorf("position_selector must fit in one byte, got %d", *c.PositionSelector)
	}
	if c.OnTransportError != nil {
		if _, err := parsePolicy(*c.OnTransportError); err != nil {
			return err
		}
	}
	if c.GetYMin() >= c.GetYMax() {
		return fmt.Errorf("y_min (%g) must be below y_max (%g)", c.GetYMin(), c.GetYMax())
	}
	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}
	if c.Bitrate != nil {
		if _, err := transport.SetupCommands(*c.Bitrate); err != nil {
			return err
		}
	}
	if len(c.Rules) > 0 {
		if _, err := c.Profile(); err != nil {
			return err
		}
	}
	if _, err := c.GetClasses(); err != nil {
		return err
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetSource returns the frame source URI.
func (c *Config) GetSource() string {
	if c.Source == nil || *c.Source == "" {
		return DefaultSource
	}
	return *c.Source
}

// GetProfileName returns the profile name.
func (c *Config) GetProfileName() string {
	if c.ProfileName == nil || *c.ProfileName == "" {
		if len(c.Rules) > 0 {
			return "custom"
		}
		return decode.ProfileCommandResponse
	}
	return *c.ProfileName
}

func (c *Config) GetWindow() time.Duration { return durationOr(c.Window, DefaultWindow) }

func (c *Config) GetMaxPoints() int {
	if c.MaxPoints == nil {
		return DefaultMaxPoints
	}
	return *c.MaxPoints
}

func (c *Config) GetAngleScale() float64 {
	if c.AngleScale == nil {
		return DefaultAngleScale
	}
	return *c.AngleScale
}

// GetReceiveTimeout returns the receive timeout clamped to the range the
// ingest loop accepts.
func (c *Config) GetReceiveTimeout() time.Duration {
	return ingest.ClampTimeout(durationOr(c.ReceiveTimeout, DefaultReceiveTimeout))
}

func (c *Config) GetTickInterval() time.Duration {
	return durationOr(c.TickInterval, DefaultTickInterval)
}

func (c *Config) GetStatsInterval() time.Duration {
	return durationOr(c.StatsInterval, DefaultStatsInterval)
}

func (c *Config) GetModules() int {
	if c.Modules == nil {
		return decode.DefaultModules
	}
	return *c.Modules
}

func (c *Config) GetPositionSelector() byte {
	if c.PositionSelector == nil {
		return decode.DefaultPositionMarker
	}
	return byte(*c.PositionSelector)
}

func (c *Config) GetExportDir() string {
	if c.ExportDir == nil || *c.ExportDir == "" {
		return DefaultExportDir
	}
	return *c.ExportDir
}

// GetSQLitePath returns the database export path; empty disables it.
func (c *Config) GetSQLitePath() string {
	if c.SQLitePath == nil {
		return ""
	}
	return *c.SQLitePath
}

func (c *Config) GetYMin() float64 {
	if c.YMin == nil {
		return DefaultYMin
	}
	return *c.YMin
}

func (c *Config) GetYMax() float64 {
	if c.YMax == nil {
		return DefaultYMax
	}
	return *c.YMax
}

func (c *Config) GetBitrate() int {
	if c.Bitrate == nil {
		return 0
	}
	return *c.Bitrate
}

func (c *Config) GetSerial() transport.PortOptions {
	if c.Serial == nil {
		return transport.PortOptions{}
	}
	return *c.Serial
}

func parsePolicy(s string) (ingest.Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stop":
		return ingest.StopOnError, nil
	case "continue":
		return ingest.ContinueOnError, nil
	case "transient", "":
		return ingest.ContinueOnTransient, nil
	}
	return nil, fmt.Errorf("on_transport_error must be stop, continue or transient, got %q", s)
}

// GetPolicy returns the transport error policy.
func (c *Config) GetPolicy() ingest.Policy {
	name := DefaultOnTransportError
	if c.OnTransportError != nil {
		name = *c.OnTransportError
	}
	p, err := parsePolicy(name)
	if err != nil {
		return ingest.ContinueOnTransient
	}
	return p
}

// GetClasses returns the frame statistics class partition.
func (c *Config) GetClasses() ([]monitor.ClassRule, error) {
	if len(c.Classes) == 0 {
		return monitor.DefaultClasses(), nil
	}
	out := make([]monitor.ClassRule, 0, len(c.Classes))
	for i, cc := range c.Classes {
		switch monitor.Class(cc.Class) {
		case monitor.ClassControl, monitor.ClassFeedback, monitor.ClassDebug, monitor.ClassOther:
		default:
			return nil, fmt.Errorf("classes[%d]: unknown class %q", i, cc.Class)
		}
		if cc.Min > cc.Max {
			return nil, fmt.Errorf("classes[%d]: empty range 0x%X-0x%X", i, uint32(cc.Min), uint32(cc.Max))
		}
		out = append(out, monitor.ClassRule{Class: monitor.Class(cc.Class), Min: uint32(cc.Min), Max: uint32(cc.Max)})
	}
	return out, nil
}

// TransportOptions returns the options passed to transport.Open.
func (c *Config) TransportOptions() transport.Options {
	return transport.Options{
		Serial:  c.GetSerial(),
		Bitrate: c.GetBitrate(),
		Profile: c.GetProfileName(),
		Modules: c.GetModules(),
	}
}
