package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/servotrace/internal/canframe"
	"github.com/banshee-data/servotrace/internal/decode"
	"github.com/banshee-data/servotrace/internal/monitoring"
	"github.com/banshee-data/servotrace/internal/timeutil"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestLoopback(t *testing.T) {
	l := NewLoopback(4)

	t.Run("timeout is not an error", func(t *testing.T) {
		_, ok, err := l.Receive(10 * time.Millisecond)
		assert.False(t, ok)
		assert.NoError(t, err)
	})

	t.Run("frames and errors in order", func(t *testing.T) {
		boom := errors.New("boom")
		require.NoError(t, l.Send(canframe.New(0x201, []byte{1, 0, 0, 0}, 1)))
		require.NoError(t, l.Fail(boom))

		f, ok, err := l.Receive(time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint32(0x201), f.ID)

		_, ok, err = l.Receive(time.Second)
		assert.False(t, ok)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("closed", func(t *testing.T) {
		require.NoError(t, l.Close())
		require.NoError(t, l.Close())
		_, _, err := l.Receive(time.Second)
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, l.Send(canframe.Frame{}), ErrClosed)
	})
}

func TestPortOptionsNormalize(t *testing.T) {
	got, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}, got)

	got, err = PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "even"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "E", got.Parity)

	for _, bad := range []PortOptions{
		{DataBits: 9},
		{StopBits: 3},
		{Parity: "mark"},
	} {
		_, err := bad.Normalize()
		assert.Error(t, err, "%+v", bad)
	}
}

func TestPortOptionsSerialMode(t *testing.T) {
	mode, err := PortOptions{StopBits: 2, Parity: "O"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, DefaultBaudRate, mode.BaudRate)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.OddParity, mode.Parity)

	_, err = PortOptions{DataBits: 4}.SerialMode()
	assert.Error(t, err)
}

func TestSetupCommands(t *testing.T) {
	cmds, err := SetupCommands(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "S8", "O"}, cmds)

	cmds, err = SetupCommands(500000)
	require.NoError(t, err)
	assert.Equal(t, "S6", cmds[1])

	_, err = SetupCommands(333333)
	assert.Error(t, err)
}

// pipePort is a SerialPorter whose reads come from a pipe and whose writes
// are captured.
type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
}

func newPipePort() *pipePort {
	r, w := io.Pipe()
	return &pipePort{r: r, w: w}
}

func (p *pipePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *pipePort) Close() error {
	p.w.Close()
	return p.r.Close()
}

func (p *pipePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func TestSLCANSource(t *testing.T) {
	port := newPipePort()
	clock := timeutil.NewMockClock(epoch)
	src := NewSLCANSource(port, clock)
	defer src.Close()

	go func() {
		io.WriteString(port.w, "z\rt201464000000\r\x07garbage\rT00000501110\r")
	}()

	f, ok, err := src.Receive(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(0x201), f.ID)
	assert.Equal(t, []byte{0x64, 0, 0, 0}, f.Data)
	assert.Equal(t, canframe.Seconds(epoch), f.Timestamp)

	_, ok, err = src.Receive(time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrTransient, "bell reply")

	_, ok, err = src.Receive(time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrTransient, "garbage line")

	f, ok, err = src.Receive(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, f.Extended)
	assert.Equal(t, uint32(0x501), f.ID)
	assert.Equal(t, []byte{0x10}, f.Data)

	_, ok, err = src.Receive(20 * time.Millisecond)
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestSLCANSourceSendAndClose(t *testing.T) {
	port := newPipePort()
	src := NewSLCANSource(port, nil)

	require.NoError(t, src.Send(canframe.New(0x201, []byte{1, 2}, 0)))
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())

	assert.Equal(t, "t20120102\rC\r", port.Written())

	_, _, err := src.Receive(time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSLCANSourceEOF(t *testing.T) {
	port := newPipePort()
	src := NewSLCANSource(port, nil)
	defer src.Close()

	port.w.Close()
	_, _, err := src.Receive(time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

// replayPort serves a fixed byte stream and then fails with err.
type replayPort struct {
	r   *bytes.Reader
	err error
}

func (p *replayPort) Read(b []byte) (int, error) {
	if p.r.Len() == 0 {
		return 0, p.err
	}
	return p.r.Read(b)
}

func (p *replayPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *replayPort) Close() error { return nil }

func slcanStream(n int) []byte {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		buf.WriteString("t2014640000" + fmt.Sprintf("%02X", i%256) + "\r")
	}
	return buf.Bytes()
}

func drainSLCAN(t *testing.T, src Source) (int, error) {
	t.Helper()
	n := 0
	for {
		_, ok, err := src.Receive(time.Second)
		if err != nil {
			return n, err
		}
		require.True(t, ok, "unexpected timeout after %d frames", n)
		n++
	}
}

func TestSLCANSourceDeliversBufferedLinesBeforeEOF(t *testing.T) {
	const frames = 200
	for trial := 0; trial < 10; trial++ {
		port := &replayPort{r: bytes.NewReader(slcanStream(frames)), err: io.EOF}
		src := NewSLCANSource(port, nil)

		// let the reader run ahead and hit EOF with lines still queued
		time.Sleep(5 * time.Millisecond)
		n, err := drainSLCAN(t, src)
		assert.ErrorIs(t, err, ErrClosed)
		assert.Equal(t, frames, n, "trial %d", trial)
		src.Close()
	}
}

func TestSLCANSourceReadErrorReportedOnce(t *testing.T) {
	unplugged := errors.New("device not configured")
	port := &replayPort{r: bytes.NewReader(slcanStream(3)), err: unplugged}
	src := NewSLCANSource(port, nil)
	defer src.Close()

	n, err := drainSLCAN(t, src)
	assert.Equal(t, 3, n)
	assert.ErrorIs(t, err, unplugged)
	assert.NotErrorIs(t, err, ErrTransient)

	for i := 0; i < 3; i++ {
		_, ok, err := src.Receive(10 * time.Millisecond)
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrClosed)
	}
}

func TestUDPSource(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	src, err := ListenUDP("127.0.0.1:0", clock)
	require.NoError(t, err)
	defer src.Close()

	conn, err := net.Dial("udp", src.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	a, err := canframe.New(0x201, []byte{0x64, 0, 0, 0}, 0).MarshalGateway()
	require.NoError(t, err)
	b, err := canframe.New(0x501, []byte{1}, 0).MarshalGateway()
	require.NoError(t, err)
	_, err = conn.Write(append(a, b...))
	require.NoError(t, err)

	f, ok, err := src.Receive(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(0x201), f.ID)
	assert.Equal(t, canframe.Seconds(epoch), f.Timestamp)

	f, ok, err = src.Receive(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(0x501), f.ID)

	_, err = conn.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	_, ok, err = src.Receive(time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrTransient)

	_, ok, err = src.Receive(20 * time.Millisecond)
	assert.False(t, ok)
	assert.NoError(t, err)

	require.NoError(t, src.Close())
	_, _, err = src.Receive(time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

// deadlineErrorSocket fails every SetReadDeadline and times out every read.
type deadlineErrorSocket struct {
	reads int
}

func (s *deadlineErrorSocket) ReadFromUDP([]byte) (int, *net.UDPAddr, error) {
	s.reads++
	return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: os.ErrDeadlineExceeded}
}

func (s *deadlineErrorSocket) SetReadDeadline(time.Time) error {
	return errors.New("set deadline: bad file descriptor")
}

func (s *deadlineErrorSocket) LocalAddr() net.Addr { return &net.UDPAddr{} }

func (s *deadlineErrorSocket) Close() error { return nil }

func TestUDPSourceLogsDeadlineErrorOnce(t *testing.T) {
	rec, restore := monitoring.Capture()
	defer restore()

	sock := &deadlineErrorSocket{}
	src := NewUDPSource(sock, nil)
	for i := 0; i < 3; i++ {
		_, ok, err := src.Receive(10 * time.Millisecond)
		assert.False(t, ok)
		assert.NoError(t, err)
	}
	assert.Equal(t, 3, sock.reads)

	var logged []string
	for _, line := range rec.Lines() {
		if strings.Contains(line, "failed to set UDP read deadline") {
			logged = append(logged, line)
		}
	}
	require.Len(t, logged, 1)
	assert.Contains(t, logged[0], "bad file descriptor")
}

func TestPcapReplay(t *testing.T) {
	frames := []canframe.Frame{
		canframe.New(0x201, []byte{0x64, 0, 0, 0}, 1.5),
		canframe.New(0x1ABCDE, []byte{1, 2, 3}, 2.25),
		canframe.New(0x501, make([]byte, 16), 3),
	}
	var buf bytes.Buffer
	require.NoError(t, WritePcap(&buf, frames))

	path := filepath.Join(t.TempDir(), "capture.pcap")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	src, err := OpenPcap(path)
	require.NoError(t, err)
	defer src.Close()

	var got []canframe.Frame
	for {
		f, ok, err := src.Receive(time.Second)
		if errors.Is(err, ErrClosed) {
			break
		}
		require.NoError(t, err)
		require.True(t, ok)
		got = append(got, f)
	}
	if diff := cmp.Diff(frames, got); diff != "" {
		t.Errorf("replayed frames mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenPcapRejectsOtherLinkTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eth.pcap")
	// pcap header with LINKTYPE_ETHERNET
	hdr := []byte{
		0xd4, 0xc3, 0xb2, 0xa1, 2, 0, 4, 0,
		0, 0, 0, 0, 0, 0, 0, 0,
		0xff, 0xff, 0, 0, 1, 0, 0, 0,
	}
	require.NoError(t, os.WriteFile(path, hdr, 0o644))
	_, err := OpenPcap(path)
	assert.Error(t, err)

	_, err = OpenPcap(filepath.Join(t.TempDir(), "missing.pcap"))
	assert.Error(t, err)
}

func TestSyntheticProfilesDecode(t *testing.T) {
	for _, name := range []string{decode.ProfileCommandResponse, decode.ProfileRange} {
		t.Run(name, func(t *testing.T) {
			profile, err := decode.Builtin(name, 3, decode.DefaultPositionMarker)
			require.NoError(t, err)

			src := NewSynthetic(SyntheticConfig{Profile: name, Modules: 3, Clock: timeutil.NewMockClock(epoch)})
			defer src.Close()

			for i := 0; i < 12; i++ {
				f, ok, err := src.Receive(time.Second)
				require.NoError(t, err)
				require.True(t, ok)
				d, outcome := profile.Decode(f)
				require.Equal(t, decode.OutcomeDecoded, outcome, "frame %s", f)
				deg := decode.Angle(d.Raw(), decode.DefaultAngleScale)
				assert.LessOrEqual(t, deg, 45.0)
				assert.GreaterOrEqual(t, deg, -45.0)
			}
		})
	}
}

func TestSyntheticWaitsForInterval(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	src := NewSynthetic(SyntheticConfig{Modules: 1, Interval: time.Second, Clock: clock})
	defer src.Close()

	for i := 0; i < 2; i++ {
		_, ok, err := src.Receive(time.Second)
		require.NoError(t, err)
		require.True(t, ok)
	}

	got := make(chan bool, 1)
	go func() {
		_, ok, _ := src.Receive(100 * time.Millisecond)
		got <- ok
	}()
	var ok bool
wait:
	for {
		select {
		case ok = <-got:
			break wait
		default:
			clock.Advance(10 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
	assert.False(t, ok, "round not yet due")

	require.NoError(t, src.Close())
	_, _, err := src.Receive(time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenUnknown(t *testing.T) {
	_, err := Open("carrier-pigeon:1", Options{})
	assert.Error(t, err)

	src, err := Open("mock", Options{Modules: 2})
	require.NoError(t, err)
	assert.NoError(t, src.Close())
}
