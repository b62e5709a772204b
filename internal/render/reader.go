// Package render periodically snapshots the live series store and hands the
// result to a chart sink. The store lock is only held while a snapshot is
// copied; sinks always work on owned data.
package render

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/servotrace/internal/decode"
	"github.com/banshee-data/servotrace/internal/monitoring"
	"github.com/banshee-data/servotrace/internal/series"
	"github.com/banshee-data/servotrace/internal/timeutil"
)

// Defaults for ReaderConfig.
const (
	DefaultWindow   = 10 * time.Second
	DefaultInterval = 50 * time.Millisecond
	DefaultYMin     = -90.0
	DefaultYMax     = 90.0
)

// Point is a plotted sample. X is seconds relative to the newest sample in
// the store, so it lies in [-window, 0].
type Point struct {
	X, Y float64
}

// TrackView is one command/feedback pair ready to draw.
type TrackView struct {
	Label      string
	CommandID  uint32
	FeedbackID uint32
	Command    []Point
	Feedback   []Point
}

// Frame is everything a sink needs to draw one refresh.
type Frame struct {
	Time    time.Time
	Latest  float64
	HasData bool
	Window  time.Duration
	YMin    float64
	YMax    float64
	Tracks  []TrackView
}

// Sink draws frames. Render is called from the reader goroutine only.
type Sink interface {
	Render(ctx context.Context, f Frame) error
}

// Sinks fans a frame out to several sinks and returns the first error.
type Sinks []Sink

// Render implements Sink.
func (s Sinks) Render(ctx context.Context, f Frame) error {
	var first error
	for _, sink := range s {
		if err := sink.Render(ctx, f); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ReaderConfig configures a Reader.
type ReaderConfig struct {
	Series   *series.Store
	Tracks   []decode.Track
	Sink     Sink
	Window   time.Duration
	Interval time.Duration
	YMin     float64
	YMax     float64
	Clock    timeutil.Clock
}

// Reader is the periodic consumer of the series store.
type Reader struct {
	cfg    ReaderConfig
	frames atomic.Uint64
	errors atomic.Uint64
}

// NewReader applies defaults and returns a Reader.
func NewReader(cfg ReaderConfig) *Reader {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.YMin == 0 && cfg.YMax == 0 {
		cfg.YMin, cfg.YMax = DefaultYMin, DefaultYMax
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Reader{cfg: cfg}
}

// Rendered returns the number of frames handed to the sink and how many of
// those failed.
func (r *Reader) Rendered() (frames, errors uint64) {
	return r.frames.Load(), r.errors.Load()
}

// Snapshot builds a Frame from the current store contents.
func (r *Reader) Snapshot(now time.Time) Frame {
	window := r.cfg.Window.Seconds()
	ids := make([]uint32, 0, 2*len(r.cfg.Tracks))
	for _, t := range r.cfg.Tracks {
		ids = append(ids, t.Command, t.Feedback)
	}
	pts, latest, ok := r.cfg.Series.SnapshotAll(ids, window)
	f := Frame{
		Time:    now,
		Latest:  latest,
		HasData: ok,
		Window:  r.cfg.Window,
		YMin:    r.cfg.YMin,
		YMax:    r.cfg.YMax,
		Tracks:  make([]TrackView, 0, len(r.cfg.Tracks)),
	}
	for _, t := range r.cfg.Tracks {
		f.Tracks = append(f.Tracks, TrackView{
			Label:      t.Label,
			CommandID:  t.Command,
			FeedbackID: t.Feedback,
			Command:    relative(pts[t.Command], latest),
			Feedback:   relative(pts[t.Feedback], latest),
		})
	}
	return f
}

func relative(pts []series.Point, latest float64) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Point{X: p.T - latest, Y: p.V}
	}
	return out
}

// Run renders one frame per tick until ctx is cancelled. Sink errors are
// logged and counted; they do not stop the reader.
func (r *Reader) Run(ctx context.Context) error {
	ticker := r.cfg.Clock.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			f := r.Snapshot(now)
			r.frames.Add(1)
			if err := r.cfg.Sink.Render(ctx, f); err != nil {
				if n := r.errors.Add(1); n == 1 || n%100 == 0 {
					monitoring.Logf("render: sink error (%d so far): %v", n, err)
				}
			}
		}
	}
}
