// Package monitor reports live CAN traffic statistics and exposes the
// debug HTTP routes for a running session.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/servotrace/internal/canframe"
	"github.com/banshee-data/servotrace/internal/monitoring"
	"github.com/banshee-data/servotrace/internal/timeutil"
)

// Class groups identifiers by role on the bus.
type Class string

const (
	ClassControl  Class = "control"
	ClassFeedback Class = "feedback"
	ClassDebug    Class = "debug"
	ClassOther    Class = "other"
)

// ClassRule assigns identifiers in [Min, Max] to Class.
type ClassRule struct {
	Class Class  `json:"class"`
	Min   uint32 `json:"min"`
	Max   uint32 `json:"max"`
}

// DefaultClasses partitions a seven joint array: control frames at
// 0x001-0x007 and 0x201-0x207 through 0x401-0x407, feedback at 0x101-0x107
// and 0x501-0x507, debug at 0x700.
func DefaultClasses() []ClassRule {
	return []ClassRule{
		{ClassControl, 0x001, 0x007},
		{ClassControl, 0x201, 0x207},
		{ClassControl, 0x301, 0x307},
		{ClassControl, 0x401, 0x407},
		{ClassFeedback, 0x101, 0x107},
		{ClassFeedback, 0x501, 0x507},
		{ClassDebug, 0x700, 0x700},
	}
}

// StatsSnapshot is one reporting interval.
type StatsSnapshot struct {
	Frames         uint64           `json:"frames"`
	Bytes          uint64           `json:"bytes"`
	FramesPerSec   float64          `json:"frames_per_sec"`
	Counts         map[Class]uint64 `json:"counts"`
	MeanIntervalMs float64          `json:"mean_interval_ms"`
	StdIntervalMs  float64          `json:"std_interval_ms"`
	Matched        bool             `json:"control_feedback_matched"`
	Duration       time.Duration    `json:"duration"`
	Timestamp      time.Time        `json:"timestamp"`
}

// FrameStats accumulates per-interval frame counts and inter-arrival times.
// It implements ingest.Observer.
type FrameStats struct {
	mu        sync.Mutex
	classes   []ClassRule
	clock     timeutil.Clock
	counts    map[Class]uint64
	frames    uint64
	bytes     uint64
	intervals []float64
	lastTS    float64
	haveLast  bool
	lastReset time.Time
	latest    *StatsSnapshot
}

// NewFrameStats creates a collector. A nil classes slice uses
// DefaultClasses.
func NewFrameStats(classes []ClassRule, clock timeutil.Clock) *FrameStats {
	if classes == nil {
		classes = DefaultClasses()
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &FrameStats{
		classes:   append([]ClassRule(nil), classes...),
		clock:     clock,
		counts:    make(map[Class]uint64),
		lastReset: clock.Now(),
	}
}

// Classify returns the class of an identifier.
func (s *FrameStats) Classify(id uint32) Class {
	for _, r := range s.classes {
		if id >= r.Min && id <= r.Max {
			return r.Class
		}
	}
	return ClassOther
}

// Observe records one frame.
func (s *FrameStats) Observe(f canframe.Frame) {
	class := s.Classify(f.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	s.bytes += uint64(len(f.Data))
	s.counts[class]++
	if s.haveLast && f.Timestamp >= s.lastTS {
		s.intervals = append(s.intervals, f.Timestamp-s.lastTS)
	}
	s.lastTS, s.haveLast = f.Timestamp, true
}

// GetAndReset closes the current interval and returns its snapshot.
func (s *FrameStats) GetAndReset() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	snap := StatsSnapshot{
		Frames:    s.frames,
		Bytes:     s.bytes,
		Counts:    s.counts,
		Duration:  now.Sub(s.lastReset),
		Timestamp: now,
		Matched:   s.counts[ClassControl] == s.counts[ClassFeedback],
	}
	if secs := snap.Duration.Seconds(); secs > 0 {
		snap.FramesPerSec = float64(s.frames) / secs
	}
	if len(s.intervals) > 0 {
		mean, std := stat.MeanStdDev(s.intervals, nil)
		snap.MeanIntervalMs = mean * 1000
		if len(s.intervals) > 1 {
			snap.StdIntervalMs = std * 1000
		}
	}

	s.frames, s.bytes = 0, 0
	s.counts = make(map[Class]uint64)
	s.intervals = s.intervals[:0]
	s.lastReset = now
	s.latest = &snap
	return snap
}

// Latest returns the most recently closed interval, or nil before the first
// report.
func (s *FrameStats) Latest() *StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil
	}
	snap := *s.latest
	snap.Counts = make(map[Class]uint64, len(s.latest.Counts))
	for k, v := range s.latest.Counts {
		snap.Counts[k] = v
	}
	return &snap
}

// FormatStats renders a snapshot as a single log line.
func FormatStats(snap StatsSnapshot) string {
	classes := make([]string, 0, len(snap.Counts))
	for c := range snap.Counts {
		classes = append(classes, string(c))
	}
	sort.Strings(classes)
	parts := make([]string, 0, len(classes))
	for _, c := range classes {
		parts = append(parts, fmt.Sprintf("%s=%d", c, snap.Counts[Class(c)]))
	}

	msg := fmt.Sprintf("CAN stats (/sec): %.1f frames, avg interval %.3f ms", snap.FramesPerSec, snap.MeanIntervalMs)
	if snap.StdIntervalMs > 0 {
		msg += fmt.Sprintf(" (sd %.3f)", snap.StdIntervalMs)
	}
	if len(parts) > 0 {
		msg += ", " + strings.Join(parts, " ")
	}
	if snap.Matched {
		msg += ", control/feedback matched"
	} else {
		msg += ", control/feedback MISMATCH"
	}
	return msg
}

// LogStats closes the interval and logs it when any frame was seen.
func (s *FrameStats) LogStats() StatsSnapshot {
	snap := s.GetAndReset()
	if snap.Frames > 0 {
		monitoring.Logf("%s", FormatStats(snap))
	}
	return snap
}

// Run logs statistics every interval until ctx is cancelled.
func (s *FrameStats) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			s.LogStats()
		}
	}
}
