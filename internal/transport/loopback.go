package transport

import (
	"sync"
	"time"

	"github.com/banshee-data/servotrace/internal/canframe"
)

// Loopback is an in-process Source fed by Send. Errors can be injected with
// Fail to exercise error handling.
type Loopback struct {
	ch        chan item
	done      chan struct{}
	closeOnce sync.Once
}

type item struct {
	frame canframe.Frame
	err   error
}

// NewLoopback creates a Loopback with the given queue capacity.
func NewLoopback(capacity int) *Loopback {
	if capacity <= 0 {
		capacity = 64
	}
	return &Loopback{ch: make(chan item, capacity), done: make(chan struct{})}
}

// Send queues a frame. It returns ErrClosed after Close.
func (l *Loopback) Send(f canframe.Frame) error {
	return l.push(item{frame: f})
}

// Fail queues an error to be returned by Receive.
func (l *Loopback) Fail(err error) error {
	return l.push(item{err: err})
}

func (l *Loopback) push(it item) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.ch <- it:
		return nil
	case <-l.done:
		return ErrClosed
	}
}

// Receive implements Source.
func (l *Loopback) Receive(timeout time.Duration) (canframe.Frame, bool, error) {
	select {
	case it := <-l.ch:
		return l.deliver(it)
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case it := <-l.ch:
		return l.deliver(it)
	case <-l.done:
		return canframe.Frame{}, false, ErrClosed
	case <-timer.C:
		return canframe.Frame{}, false, nil
	}
}

func (l *Loopback) deliver(it item) (canframe.Frame, bool, error) {
	if it.err != nil {
		return canframe.Frame{}, false, it.err
	}
	return it.frame, true, nil
}

// Close implements Source. Queued frames are discarded.
func (l *Loopback) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}
