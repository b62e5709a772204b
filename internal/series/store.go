// Package series holds the bounded, time-windowed per-identifier series that
// feed the live plot.
//
// A Store is shared between one producer (the ingestion loop calling Put)
// and one or more readers (the render tick calling Snapshot). A single mutex
// guards all series; it is held for one append or one copy-out and never
// across I/O.
package series

import (
	"sort"
	"sync"
)

// DefaultMaxPoints is the per-identifier capacity used when none is given:
// 100 frames per second over a 10 second window.
const DefaultMaxPoints = 1000

// Point is one (timestamp, value) observation.
type Point struct {
	T float64
	V float64
}

// ring is a fixed-capacity FIFO. head indexes the oldest element. ordered
// stays true while every push had T >= the previous push.
type ring struct {
	buf     []Point
	head    int
	n       int
	last    float64
	ordered bool
}

func (r *ring) push(p Point) {
	if r.n > 0 && p.T < r.last {
		r.ordered = false
	}
	r.last = p.T
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = p
		r.n++
		return
	}
	// full: overwrite the oldest entry and advance head
	r.buf[r.head] = p
	r.head = (r.head + 1) % len(r.buf)
}

func (r *ring) at(i int) Point { return r.buf[(r.head+i)%len(r.buf)] }

// Store maps identifiers to capped series and tracks the latest timestamp
// seen across all of them.
type Store struct {
	mu        sync.Mutex
	maxPoints int
	series    map[uint32]*ring
	latest    float64
	seen      bool
}

// New creates a Store with the given per-identifier capacity.
func New(maxPoints int) *Store {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	return &Store{
		maxPoints: maxPoints,
		series:    make(map[uint32]*ring),
	}
}

// MaxPoints returns the per-identifier capacity.
func (s *Store) MaxPoints() int { return s.maxPoints }

// Put appends (t, v) to the series for id, evicting the oldest entry once
// the series is at capacity.
func (s *Store) Put(id uint32, t, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.series[id]
	if !ok {
		r = &ring{buf: make([]Point, s.maxPoints), ordered: true}
		s.series[id] = r
	}
	r.push(Point{T: t, V: v})
	if !s.seen || t > s.latest {
		s.latest = t
		s.seen = true
	}
}

// Snapshot returns a copy of the points for id with T > Latest()-window in
// ascending T order. The result never aliases the store's buffers.
func (s *Store) Snapshot(id uint32, window float64) []Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(id, window)
}

// SnapshotAll copies the windowed points for each id together with the
// latest timestamp they were filtered against, all under one lock. Every
// returned point has T <= latest.
func (s *Store) SnapshotAll(ids []uint32, window float64) (map[uint32][]Point, float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint32][]Point, len(ids))
	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		out[id] = s.snapshotLocked(id, window)
	}
	return out, s.latest, s.seen
}

func (s *Store) snapshotLocked(id uint32, window float64) []Point {
	r, ok := s.series[id]
	if !ok || r.n == 0 {
		return nil
	}
	cutoff := s.latest - window

	if !r.ordered {
		var out []Point
		for i := 0; i < r.n; i++ {
			if p := r.at(i); p.T > cutoff {
				out = append(out, p)
			}
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].T < out[j].T })
		return out
	}

	// In-order series: the visible points are a suffix of the ring.
	start := r.n
	for start > 0 && r.at(start-1).T > cutoff {
		start--
	}
	out := make([]Point, 0, r.n-start)
	for i := start; i < r.n; i++ {
		out = append(out, r.at(i))
	}
	return out
}

// Latest returns the maximum timestamp seen by Put, and false before the
// first Put.
func (s *Store) Latest() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.seen
}

// Len returns the number of points stored for id.
func (s *Store) Len(id uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.series[id]; ok {
		return r.n
	}
	return 0
}

// IDs returns the identifiers with at least one point, in ascending order.
func (s *Store) IDs() []uint32 {
	s.mu.Lock()
	ids := make([]uint32, 0, len(s.series))
	for id := range s.series {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
