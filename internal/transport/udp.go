package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/servotrace/internal/canframe"
	"github.com/banshee-data/servotrace/internal/monitoring"
	"github.com/banshee-data/servotrace/internal/timeutil"
)

// UDPSocket is the subset of *net.UDPConn the gateway source reads from.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	Close() error
}

// UDPSource receives datagrams from a CAN-to-Ethernet gateway. Each datagram
// carries one or more 13 byte gateway records.
type UDPSource struct {
	conn    UDPSocket
	clock   timeutil.Clock
	buf     []byte
	pending []canframe.Frame

	deadlineErrLogged bool

	closeOnce sync.Once
	closeErr  error
}

// ListenUDP binds address (for example ":8881") and returns a UDPSource.
func ListenUDP(address string, clock timeutil.Clock) (*UDPSource, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	return NewUDPSource(conn, clock), nil
}

// NewUDPSource wraps an already bound socket.
func NewUDPSource(conn UDPSocket, clock timeutil.Clock) *UDPSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &UDPSource{conn: conn, clock: clock, buf: make([]byte, 2048)}
}

// Addr returns the bound local address.
func (u *UDPSource) Addr() net.Addr { return u.conn.LocalAddr() }

// Receive implements Source. Frames from one datagram are delivered one per
// call and share the datagram's arrival time.
func (u *UDPSource) Receive(timeout time.Duration) (canframe.Frame, bool, error) {
	if len(u.pending) > 0 {
		f := u.pending[0]
		u.pending = u.pending[1:]
		return f, true, nil
	}

	if err := u.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		// the read may block past timeout; keep going
		if !u.deadlineErrLogged {
			monitoring.Logf("failed to set UDP read deadline: %v", err)
			u.deadlineErrLogged = true
		}
	}
	n, _, err := u.conn.ReadFromUDP(u.buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return canframe.Frame{}, false, nil
		}
		if errors.Is(err, net.ErrClosed) {
			return canframe.Frame{}, false, ErrClosed
		}
		return canframe.Frame{}, false, fmt.Errorf("UDP read error: %w", err)
	}

	frames, err := canframe.ParseGateway(u.buf[:n])
	if err != nil {
		return canframe.Frame{}, false, transient("%v", err)
	}
	ts := canframe.Seconds(u.clock.Now())
	for i := range frames {
		frames[i].Timestamp = ts
	}
	u.pending = frames[1:]
	return frames[0], true, nil
}

// Close implements Source.
func (u *UDPSource) Close() error {
	u.closeOnce.Do(func() { u.closeErr = u.conn.Close() })
	return u.closeErr
}
