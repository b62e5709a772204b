//go:build linux

package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/banshee-data/servotrace/internal/canframe"
)

// SocketCANSource reads from a Linux raw CAN socket with CAN FD frames
// enabled.
type SocketCANSource struct {
	fd    int
	iface string
	buf   []byte

	mu      sync.Mutex
	closed  bool
	timeout time.Duration
}

// OpenSocketCAN binds a raw CAN socket to iface (e.g. "can0").
func OpenSocketCAN(iface string) (*SocketCANSource, error) {
	netIf, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan %s: %w", iface, err)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socketcan socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socketcan enable FD frames: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: netIf.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socketcan bind %s: %w", iface, err)
	}
	return &SocketCANSource{fd: fd, iface: iface, buf: make([]byte, canframe.FDFrameSize)}, nil
}

func (s *SocketCANSource) setTimeout(d time.Duration) error {
	if d == s.timeout {
		return nil
	}
	tv := unix.NsecToTimeval(d.Nanoseconds())
	if err := unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return err
	}
	s.timeout = d
	return nil
}

// Receive implements Source. The kernel timestamps are not requested; frames
// are stamped on arrival in user space.
func (s *SocketCANSource) Receive(timeout time.Duration) (canframe.Frame, bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return canframe.Frame{}, false, ErrClosed
	}
	err := s.setTimeout(timeout)
	s.mu.Unlock()
	if err != nil {
		return canframe.Frame{}, false, fmt.Errorf("socketcan timeout: %w", err)
	}

	n, err := unix.Read(s.fd, s.buf)
	if err != nil {
		switch {
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
			return canframe.Frame{}, false, nil
		case errors.Is(err, unix.EBADF):
			return canframe.Frame{}, false, ErrClosed
		case errors.Is(err, unix.ENETDOWN), errors.Is(err, unix.ENOBUFS):
			return canframe.Frame{}, false, transient("socketcan %s: %v", s.iface, err)
		}
		return canframe.Frame{}, false, fmt.Errorf("socketcan read %s: %w", s.iface, err)
	}
	f, err := canframe.UnmarshalSocketCAN(s.buf[:n], canframe.HostOrder)
	if err != nil {
		return canframe.Frame{}, false, transient("%v", err)
	}
	f.Timestamp = canframe.Seconds(time.Now())
	return f, true, nil
}

// Close implements Source.
func (s *SocketCANSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}
