package transport

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/servotrace/internal/canframe"
	"github.com/banshee-data/servotrace/internal/decode"
	"github.com/banshee-data/servotrace/internal/timeutil"
)

// SyntheticConfig configures a Synthetic source.
type SyntheticConfig struct {
	// Profile is decode.ProfileCommandResponse or decode.ProfileRange.
	Profile string
	Modules int
	// Interval between rounds; every module emits a command and a feedback
	// frame per round. Zero emits rounds back to back.
	Interval time.Duration
	// Amplitude of the generated motion in degrees.
	Amplitude float64
	// Period of the generated motion.
	Period time.Duration
	// Lag of the feedback behind the command.
	Lag   time.Duration
	Clock timeutil.Clock
}

// Synthetic generates sinusoidal servo traffic for dev runs and demos.
type Synthetic struct {
	cfg     SyntheticConfig
	mu      sync.Mutex
	next    time.Time
	pending []canframe.Frame
	closed  bool
	done    chan struct{}
}

// NewSynthetic creates a generator, applying defaults for zero fields.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.Profile == "" {
		cfg.Profile = decode.ProfileCommandResponse
	}
	if cfg.Modules <= 0 {
		cfg.Modules = decode.DefaultModules
	}
	if cfg.Amplitude == 0 {
		cfg.Amplitude = 45
	}
	if cfg.Period <= 0 {
		cfg.Period = 4 * time.Second
	}
	if cfg.Lag == 0 {
		cfg.Lag = 120 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Synthetic{cfg: cfg, next: cfg.Clock.Now(), done: make(chan struct{})}
}

func (s *Synthetic) angle(t time.Time, module int) float64 {
	phase := 2 * math.Pi * float64(module) / float64(s.cfg.Modules)
	sec := float64(t.UnixNano()) / 1e9
	return s.cfg.Amplitude * math.Sin(2*math.Pi*sec/s.cfg.Period.Seconds()+phase)
}

func rawAngle(deg float64) uint32 {
	return uint32(int32(math.Round(deg * decode.DefaultAngleScale)))
}

// Round builds one round of frames stamped at t.
func (s *Synthetic) Round(t time.Time) []canframe.Frame {
	ts := canframe.Seconds(t)
	frames := make([]canframe.Frame, 0, 2*s.cfg.Modules)
	for i := 1; i <= s.cfg.Modules; i++ {
		target := s.angle(t, i)
		actual := s.angle(t.Add(-s.cfg.Lag), i)

		cmd := make([]byte, 8)
		binary.LittleEndian.PutUint32(cmd[0:4], rawAngle(target))

		var fb []byte
		var cmdID, fbID uint32
		if s.cfg.Profile == decode.ProfileRange {
			cmdID, fbID = 0x0200+uint32(i), 0x0100+uint32(i)
			fb = make([]byte, 8)
			fb[1] = decode.DefaultPositionMarker
			binary.LittleEndian.PutUint32(fb[2:6], rawAngle(actual))
		} else {
			cmdID, fbID = 0x0200+uint32(i), 0x0500+uint32(i)
			fb = make([]byte, decode.ServoLen)
			binary.LittleEndian.PutUint32(fb[0:4], uint32(int32(math.Abs(target-actual)*10)))
			binary.LittleEndian.PutUint32(fb[4:8], uint32(int32((target-actual)*100)))
			binary.LittleEndian.PutUint32(fb[8:12], rawAngle(actual))
		}
		frames = append(frames,
			canframe.New(cmdID, cmd, ts),
			canframe.New(fbID, fb, ts),
		)
	}
	return frames
}

// Receive implements Source.
func (s *Synthetic) Receive(timeout time.Duration) (canframe.Frame, bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return canframe.Frame{}, false, ErrClosed
	}
	if len(s.pending) > 0 {
		f := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		return f, true, nil
	}
	wait := s.next.Sub(s.cfg.Clock.Now())
	s.mu.Unlock()

	if wait > 0 {
		expired := wait > timeout
		if expired {
			wait = timeout
		}
		select {
		case <-s.cfg.Clock.After(wait):
		case <-s.done:
			return canframe.Frame{}, false, ErrClosed
		}
		if expired {
			return canframe.Frame{}, false, nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return canframe.Frame{}, false, ErrClosed
	}
	now := s.cfg.Clock.Now()
	s.pending = s.Round(now)
	s.next = now.Add(s.cfg.Interval)
	f := s.pending[0]
	s.pending = s.pending[1:]
	return f, true, nil
}

// Close implements Source.
func (s *Synthetic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}
