package monitor

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/servotrace/internal/canframe"
	"github.com/banshee-data/servotrace/internal/ingest"
)

// Tail fans received frames out to live subscribers as candump style lines.
// Slow subscribers miss lines rather than stall the ingest loop.
type Tail struct {
	mu          sync.Mutex
	subscribers map[string]chan string
	buffer      int
}

// NewTail creates a Tail whose subscriber channels hold buffer lines.
func NewTail(buffer int) *Tail {
	if buffer <= 0 {
		buffer = 64
	}
	return &Tail{subscribers: make(map[string]chan string), buffer: buffer}
}

// Subscribe registers a new subscriber.
func (t *Tail) Subscribe() (string, <-chan string) {
	id := uuid.NewString()
	ch := make(chan string, t.buffer)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber.
func (t *Tail) Unsubscribe(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.subscribers[id]; ok {
		close(ch)
		delete(t.subscribers, id)
	}
}

// Subscribers returns the number of active subscribers.
func (t *Tail) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}

// Observe formats f and offers it to every subscriber.
func (t *Tail) Observe(f canframe.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.subscribers) == 0 {
		return
	}
	line := fmt.Sprintf("(%.6f) %s", f.Timestamp, f)
	for _, ch := range t.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}

// Close drops all subscribers.
func (t *Tail) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ch := range t.subscribers {
		close(ch)
		delete(t.subscribers, id)
	}
}

// Observers calls each observer in turn.
type Observers []ingest.Observer

func (o Observers) Observe(f canframe.Frame) {
	for _, obs := range o {
		obs.Observe(f)
	}
}
