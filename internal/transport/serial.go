package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/servotrace/internal/canframe"
	"github.com/banshee-data/servotrace/internal/monitoring"
	"github.com/banshee-data/servotrace/internal/timeutil"
)

// PortOptions describes the serial line settings for an SLCAN adapter.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// DefaultBaudRate suits USB CDC adapters, which ignore the line rate.
const DefaultBaudRate = 115200

// Normalize validates the options and applies defaults for unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into the go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// slcanBitrates maps nominal bitrates to the Lawicel "Sn" setup commands.
var slcanBitrates = map[int]string{
	10000:   "S0",
	20000:   "S1",
	50000:   "S2",
	100000:  "S3",
	125000:  "S4",
	250000:  "S5",
	500000:  "S6",
	800000:  "S7",
	1000000: "S8",
}

// SetupCommands returns the lines sent to an SLCAN adapter to close any open
// channel, set the bitrate and open the channel.
func SetupCommands(bitrate int) ([]string, error) {
	if bitrate == 0 {
		bitrate = 1000000
	}
	s, ok := slcanBitrates[bitrate]
	if !ok {
		return nil, fmt.Errorf("unsupported SLCAN bitrate %d", bitrate)
	}
	return []string{"C", s, "O"}, nil
}

// SerialPorter is the minimal interface needed from a serial port, so tests
// can substitute a pipe.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// SLCANSource reads SLCAN receive lines from a serial port.
type SLCANSource[T SerialPorter] struct {
	port  T
	clock timeutil.Clock

	lines chan string
	errs  chan error
	done  chan struct{}
	// set once the reader has finished and its error was reported
	ended bool

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// OpenSerial opens path with go.bug.st/serial, configures the adapter and
// starts reading.
func OpenSerial(path string, opts PortOptions, bitrate int, clock timeutil.Clock) (*SLCANSource[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	setup, err := SetupCommands(bitrate)
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	src := NewSLCANSource[serial.Port](port, clock)
	for _, cmd := range setup {
		if err := src.SendCommand(cmd); err != nil {
			src.Close()
			return nil, fmt.Errorf("slcan setup %q: %w", cmd, err)
		}
	}
	monitoring.Logf("SLCAN adapter %s open at %d bit/s", path, bitrate)
	return src, nil
}

// NewSLCANSource wraps an already configured port and starts its reader
// goroutine.
func NewSLCANSource[T SerialPorter](port T, clock timeutil.Clock) *SLCANSource[T] {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &SLCANSource[T]{
		port:  port,
		clock: clock,
		lines: make(chan string, 256),
		errs:  make(chan error, 1),
		done:  make(chan struct{}),
	}
	go s.read()
	return s
}

// scanSLCAN splits on '\r' and '\n'. A bell (0x07) is the adapter's error
// reply and is passed through as its own token.
func scanSLCAN(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n\a"); i >= 0 {
		if data[i] == '\a' {
			return i + 1, data[:i+1], nil
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (s *SLCANSource[T]) read() {
	defer close(s.lines)
	scan := bufio.NewScanner(s.port)
	scan.Split(scanSLCAN)
	for scan.Scan() {
		select {
		case s.lines <- scan.Text():
		case <-s.done:
			return
		}
	}
	err := scan.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case s.errs <- err:
	case <-s.done:
	}
}

// SendCommand writes one command line, adding the '\r' terminator.
func (s *SLCANSource[T]) SendCommand(cmd string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !strings.HasSuffix(cmd, "\r") {
		cmd += "\r"
	}
	n, err := s.port.Write([]byte(cmd))
	if err != nil {
		return err
	}
	if n != len(cmd) {
		return io.ErrShortWrite
	}
	return nil
}

// Send transmits a frame through the adapter.
func (s *SLCANSource[T]) Send(f canframe.Frame) error {
	line, err := canframe.FormatSLCAN(f)
	if err != nil {
		return err
	}
	return s.SendCommand(line)
}

// Receive implements Source. Empty lines and transmit acknowledgements are
// skipped; an unparsable line or an adapter error reply is transient. Lines
// read before the port failed are all delivered before the failure, which
// is reported once; later calls return ErrClosed.
func (s *SLCANSource[T]) Receive(timeout time.Duration) (canframe.Frame, bool, error) {
	if s.ended {
		return canframe.Frame{}, false, ErrClosed
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-s.done:
			return canframe.Frame{}, false, ErrClosed
		case line, ok := <-s.lines:
			if !ok {
				s.ended = true
				return canframe.Frame{}, false, s.readErr()
			}
			switch line {
			case "", "z", "Z":
				continue
			case "\a":
				return canframe.Frame{}, false, transient("slcan adapter reported an error")
			}
			f, err := canframe.ParseSLCAN(line)
			if err != nil {
				return canframe.Frame{}, false, transient("%v", err)
			}
			f.Timestamp = canframe.Seconds(s.clock.Now())
			return f, true, nil
		case <-timer.C:
			return canframe.Frame{}, false, nil
		}
	}
}

// readErr maps the reader's final error. The reader queues it before
// closing lines, so it is already buffered unless the source was closed.
func (s *SLCANSource[T]) readErr() error {
	select {
	case err := <-s.errs:
		if errors.Is(err, io.EOF) {
			return ErrClosed
		}
		return fmt.Errorf("serial read: %w", err)
	default:
		return ErrClosed
	}
}

// Close closes the adapter channel and the port.
func (s *SLCANSource[T]) Close() error {
	s.closeOnce.Do(func() {
		// best effort: the adapter may already be gone
		_ = s.SendCommand("C")
		close(s.done)
		s.closeErr = s.port.Close()
	})
	return s.closeErr
}
