//go:build !linux

package transport

import (
	"errors"
	"time"

	"github.com/banshee-data/servotrace/internal/canframe"
)

// SocketCANSource is only available on Linux.
type SocketCANSource struct{}

// OpenSocketCAN reports that SocketCAN is unsupported on this platform.
func OpenSocketCAN(iface string) (*SocketCANSource, error) {
	return nil, errors.New("socketcan is only supported on linux")
}

func (*SocketCANSource) Receive(time.Duration) (canframe.Frame, bool, error) {
	return canframe.Frame{}, false, ErrClosed
}

func (*SocketCANSource) Close() error { return nil }
