// Package ingest runs the producer loop: it receives frames from a
// transport.Source, decodes them with a decode.Profile and commits the
// samples to the live series store and the module log.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/servotrace/internal/canframe"
	"github.com/banshee-data/servotrace/internal/decode"
	"github.com/banshee-data/servotrace/internal/modulelog"
	"github.com/banshee-data/servotrace/internal/monitoring"
	"github.com/banshee-data/servotrace/internal/series"
	"github.com/banshee-data/servotrace/internal/timeutil"
	"github.com/banshee-data/servotrace/internal/transport"
)

// Receive timeout bounds.
const (
	DefaultTimeout = time.Second
	MinTimeout     = 100 * time.Millisecond
	MaxTimeout     = time.Second
)

// ErrAlreadyStarted is returned by Start on a loop that is not idle.
var ErrAlreadyStarted = errors.New("ingest: loop already started")

// State is the lifecycle state of a Loop.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// TransportError wraps an error returned by the frame source.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// Action is a Policy decision.
type Action int

const (
	ActionContinue Action = iota
	ActionStop
)

// Policy decides whether the loop survives a transport error.
type Policy func(err *TransportError) Action

// StopOnError ends the loop on the first transport error.
func StopOnError(*TransportError) Action { return ActionStop }

// ContinueOnError logs and keeps receiving.
func ContinueOnError(*TransportError) Action { return ActionContinue }

// ContinueOnTransient keeps receiving after transport.ErrTransient errors
// and network timeouts, and stops on anything else.
func ContinueOnTransient(err *TransportError) Action {
	if errors.Is(err, transport.ErrTransient) {
		return ActionContinue
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ActionContinue
	}
	return ActionStop
}

// Observer sees every received frame before it is decoded.
type Observer interface {
	Observe(f canframe.Frame)
}

// Config configures a Loop. Source and Profile are required; Series and Log
// may be nil to skip that sink.
type Config struct {
	Source  transport.Source
	Profile *decode.Profile
	Series  *series.Store
	Log     *modulelog.Store

	// Timeout is the per-receive wait, clamped to [MinTimeout, MaxTimeout].
	Timeout    time.Duration
	Policy     Policy
	AngleScale float64
	// Clock stamps frames that arrive without a timestamp.
	Clock    timeutil.Clock
	Observer Observer
}

// Stats are the loop counters.
type Stats struct {
	Received        uint64 `json:"received"`
	Decoded         uint64 `json:"decoded"`
	Malformed       uint64 `json:"malformed"`
	Unroutable      uint64 `json:"unroutable"`
	TransportErrors uint64 `json:"transport_errors"`
}

// Loop is a single-use ingestion loop.
type Loop struct {
	cfg   Config
	state atomic.Int32
	done  chan struct{}

	received        atomic.Uint64
	decoded         atomic.Uint64
	malformed       atomic.Uint64
	unroutable      atomic.Uint64
	transportErrors atomic.Uint64
}

// ClampTimeout applies the default and bounds to a receive timeout.
func ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultTimeout
	case d < MinTimeout:
		return MinTimeout
	case d > MaxTimeout:
		return MaxTimeout
	}
	return d
}

// New creates an idle Loop.
func New(cfg Config) *Loop {
	cfg.Timeout = ClampTimeout(cfg.Timeout)
	if cfg.Policy == nil {
		cfg.Policy = StopOnError
	}
	if cfg.AngleScale == 0 {
		cfg.AngleScale = decode.DefaultAngleScale
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Loop{cfg: cfg, done: make(chan struct{})}
}

// Timeout returns the effective receive timeout.
func (l *Loop) Timeout() time.Duration { return l.cfg.Timeout }

// State returns the current lifecycle state.
func (l *Loop) State() State { return State(l.state.Load()) }

// Done is closed once the loop has reached StateStopped.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Stats returns a snapshot of the counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Received:        l.received.Load(),
		Decoded:         l.decoded.Load(),
		Malformed:       l.malformed.Load(),
		Unroutable:      l.unroutable.Load(),
		TransportErrors: l.transportErrors.Load(),
	}
}

// Stop requests the loop to finish. A running loop notices the request at the
// top of its next iteration, so it stops within one receive timeout. Stopping
// an idle loop moves it straight to StateStopped.
func (l *Loop) Stop() {
	if l.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
		close(l.done)
		return
	}
	l.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
}

// Start runs the loop on the calling goroutine until Stop is called, ctx is
// cancelled, the source is exhausted, or the policy rejects a transport
// error. It returns nil after Stop or end of input, ctx.Err() after
// cancellation and a *TransportError when the policy stops the loop.
func (l *Loop) Start(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyStarted
	}
	defer func() {
		l.state.Store(int32(StateStopped))
		close(l.done)
	}()

	name := "custom"
	if l.cfg.Profile != nil {
		name = l.cfg.Profile.Name()
	}
	monitoring.Logf("ingest: started profile=%s timeout=%v", name, l.cfg.Timeout)

	for {
		if l.State() != StateRunning {
			monitoring.Logf("ingest: stopped %+v", l.Stats())
			return nil
		}
		if err := ctx.Err(); err != nil {
			monitoring.Logf("ingest: stopping due to context cancellation %+v", l.Stats())
			return err
		}

		f, ok, err := l.cfg.Source.Receive(l.cfg.Timeout)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				monitoring.Logf("ingest: source closed %+v", l.Stats())
				return nil
			}
			terr := &TransportError{Err: err}
			l.transportErrors.Add(1)
			if l.cfg.Policy(terr) == ActionStop {
				monitoring.Logf("ingest: stopping on %v", terr)
				return terr
			}
			monitoring.Logf("ingest: %v", terr)
			continue
		}
		if !ok {
			continue
		}
		l.handle(f)
	}
}

func (l *Loop) handle(f canframe.Frame) {
	l.received.Add(1)
	if f.Timestamp == 0 {
		f.Timestamp = canframe.Seconds(l.cfg.Clock.Now())
	}
	if l.cfg.Observer != nil {
		l.cfg.Observer.Observe(f)
	}

	d, outcome := l.cfg.Profile.Decode(f)
	switch outcome {
	case decode.OutcomeUnroutable:
		l.unroutable.Add(1)
		return
	case decode.OutcomeMalformed:
		l.malformed.Add(1)
		return
	}
	l.decoded.Add(1)

	if d.Rule.Plot && l.cfg.Series != nil {
		l.cfg.Series.Put(f.ID, f.Timestamp, decode.Angle(d.Raw(), l.cfg.AngleScale))
	}
	if d.Rule.Log && l.cfg.Log != nil {
		switch d.Rule.Kind {
		case decode.KindServo:
			l.cfg.Log.RecordServo(d.Servo)
		case decode.KindPosition:
			l.cfg.Log.RecordCommand(decode.CommandSample(d.Position))
		default:
			l.cfg.Log.RecordCommand(d.Command)
		}
	}
}
