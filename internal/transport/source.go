// Package transport provides the frame sources the ingestion loop reads
// from: SLCAN serial adapters, Linux SocketCAN, UDP CAN gateways, pcap
// replays, an in-process loopback and a synthetic generator for dev runs.
package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/servotrace/internal/canframe"
	"github.com/banshee-data/servotrace/internal/timeutil"
)

var (
	// ErrClosed is returned by Receive once the source has been closed or
	// has reached the end of its input.
	ErrClosed = errors.New("transport: source closed")

	// ErrTransient marks errors after which the source is still usable,
	// such as a single undecodable line or datagram.
	ErrTransient = errors.New("transport: transient error")
)

// Source yields CAN frames. Receive blocks for at most timeout; when no frame
// arrives in that time it returns ok == false and a nil error.
type Source interface {
	Receive(timeout time.Duration) (f canframe.Frame, ok bool, err error)
	Close() error
}

func transient(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransient, fmt.Sprintf(format, args...))
}

// Options configures Open.
type Options struct {
	Serial PortOptions
	// Bitrate is the nominal CAN bitrate configured on SLCAN adapters.
	Bitrate int
	// Profile selects the identifier layout the synthetic source emits.
	Profile string
	Modules int
	// Interval between synthetic rounds; defaults to DefaultSyntheticInterval.
	Interval time.Duration
	Clock    timeutil.Clock
}

// DefaultSyntheticInterval paces the mock source at 100 rounds per second.
const DefaultSyntheticInterval = 10 * time.Millisecond

// Open creates a source from a URI:
//
//	socketcan:can0
//	slcan:/dev/ttyACM0
//	udp::8881
//	pcap:capture.pcap
//	mock
func Open(uri string, opts Options) (Source, error) {
	scheme, target, _ := strings.Cut(uri, ":")
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	switch scheme {
	case "socketcan", "can":
		s, err := OpenSocketCAN(target)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "slcan", "serial":
		s, err := OpenSerial(target, opts.Serial, opts.Bitrate, opts.Clock)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "udp":
		s, err := ListenUDP(target, opts.Clock)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "pcap":
		s, err := OpenPcap(target)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "mock", "synthetic":
		interval := opts.Interval
		if interval == 0 {
			interval = DefaultSyntheticInterval
		}
		return NewSynthetic(SyntheticConfig{Profile: opts.Profile, Modules: opts.Modules, Interval: interval, Clock: opts.Clock}), nil
	}
	return nil, fmt.Errorf("unknown source %q", uri)
}
