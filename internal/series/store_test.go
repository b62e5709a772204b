package series

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotWindow(t *testing.T) {
	s := New(100)
	for i := 0; i <= 20; i++ {
		s.Put(0x201, float64(i), float64(i)*10)
	}

	got := s.Snapshot(0x201, 5)
	want := []Point{{16, 160}, {17, 170}, {18, 180}, {19, 190}, {20, 200}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Snapshot mismatch (-want +got):\n%s", diff)
	}

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, 20.0, latest)

	assert.Nil(t, s.Snapshot(0x999, 5))
	assert.Len(t, s.Snapshot(0x201, 1000), 21)
	assert.Empty(t, s.Snapshot(0x201, 0))
}

func TestSnapshotAnchoredOnGlobalLatest(t *testing.T) {
	s := New(10)
	s.Put(1, 1, 1)
	s.Put(1, 2, 2)
	s.Put(2, 30, 3)

	// id 1 is stale relative to the newest frame on id 2.
	assert.Empty(t, s.Snapshot(1, 10))
	assert.Len(t, s.Snapshot(1, 28.5), 1)
	assert.Len(t, s.Snapshot(2, 10), 1)
}

func TestPropertyWindowMatchesFilter(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 50; iter++ {
		capacity := 1 + rng.Intn(50)
		s := New(capacity)
		var all []Point
		ts := 0.0
		n := rng.Intn(200)
		for i := 0; i < n; i++ {
			ts += rng.Float64()
			p := Point{T: ts, V: rng.NormFloat64()}
			s.Put(5, p.T, p.V)
			all = append(all, p)
		}
		window := rng.Float64() * 20

		stored := all
		if len(stored) > capacity {
			stored = stored[len(stored)-capacity:]
		}
		var want []Point
		for _, p := range stored {
			if p.T > ts-window {
				want = append(want, p)
			}
		}
		got := s.Snapshot(5, window)
		if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b []Point) bool {
			if len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i] != b[i] {
					return false
				}
			}
			return true
		})); diff != "" {
			t.Fatalf("iteration %d (cap %d, window %.2f) mismatch:\n%s", iter, capacity, window, diff)
		}
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	s := New(3)
	for i := 1; i <= 5; i++ {
		s.Put(7, float64(i), float64(i))
		assert.LessOrEqual(t, s.Len(7), 3)
	}
	assert.Equal(t, 3, s.Len(7))
	assert.Equal(t, []Point{{3, 3}, {4, 4}, {5, 5}}, s.Snapshot(7, 100))

	s.Put(7, 6, 6)
	assert.Equal(t, []Point{{4, 4}, {5, 5}, {6, 6}}, s.Snapshot(7, 100))
}

func TestDefaultCapacity(t *testing.T) {
	s := New(0)
	assert.Equal(t, DefaultMaxPoints, s.MaxPoints())
	for i := 0; i < DefaultMaxPoints+10; i++ {
		s.Put(1, float64(i)*0.01, 0)
	}
	assert.Equal(t, DefaultMaxPoints, s.Len(1))
}

func TestSnapshotIsOwnedCopy(t *testing.T) {
	s := New(2)
	s.Put(1, 1, 10)
	s.Put(1, 2, 20)

	snap := s.Snapshot(1, 100)
	snap[0].V = -1

	s.Put(1, 3, 30) // evicts (1,10) and reuses its slot
	assert.Equal(t, []Point{{1, -1}, {2, 20}}, snap)
	assert.Equal(t, []Point{{2, 20}, {3, 30}}, s.Snapshot(1, 100))
}

func TestSnapshotOutOfOrderPuts(t *testing.T) {
	s := New(10)
	s.Put(1, 5, 5)
	s.Put(1, 3, 3)
	s.Put(1, 9, 9)
	s.Put(1, 1, 1)

	assert.Equal(t, []Point{{3, 3}, {5, 5}, {9, 9}}, s.Snapshot(1, 7))
	latest, _ := s.Latest()
	assert.Equal(t, 9.0, latest)
}

func TestSnapshotAllSharesOneAnchor(t *testing.T) {
	s := New(0)
	s.Put(1, 10, 1)
	s.Put(1, 20, 2)
	s.Put(2, 25, 3)

	pts, latest, ok := s.SnapshotAll([]uint32{1, 2, 3, 1}, 12)
	require.True(t, ok)
	assert.Equal(t, 25.0, latest)
	if diff := cmp.Diff(map[uint32][]Point{
		1: {{T: 20, V: 2}},
		2: {{T: 25, V: 3}},
		3: nil,
	}, pts); diff != "" {
		t.Errorf("SnapshotAll mismatch (-want +got):\n%s", diff)
	}

	_, _, ok = New(0).SnapshotAll([]uint32{1}, 12)
	assert.False(t, ok)
}

func TestIDs(t *testing.T) {
	s := New(1)
	_, ok := s.Latest()
	assert.False(t, ok)

	s.Put(0x501, 1, 1)
	s.Put(0x201, 1, 1)
	s.Put(0x101, 1, 1)
	assert.Equal(t, []uint32{0x101, 0x201, 0x501}, s.IDs())
}

// TestConcurrentPutSnapshot interleaves a producer and several readers. Each
// point carries V == 2*T so a torn write would be visible. Run with -race.
func TestConcurrentPutSnapshot(t *testing.T) {
	const (
		ids       = 4
		perID     = 5000
		capacity  = 64
		window    = 50.0
		readers   = 3
		readIters = 2000
	)
	s := New(capacity)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(1))
		for i := 0; i < perID; i++ {
			for id := uint32(0); id < ids; id++ {
				ts := float64(i) + float64(id)*0.1
				s.Put(id, ts, 2*ts)
			}
			if rng.Intn(100) == 0 {
				// let readers in
				_ = s.Len(0)
			}
		}
	}()

	errs := make(chan string, readers)
	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < readIters; i++ {
				id := uint32(rng.Intn(ids))
				snap := s.Snapshot(id, window)
				if len(snap) > capacity {
					errs <- "snapshot exceeds capacity"
					return
				}
				for j, p := range snap {
					if p.V != 2*p.T {
						errs <- "torn point observed"
						return
					}
					if j > 0 && snap[j-1].T >= p.T {
						errs <- "snapshot not ascending"
						return
					}
				}
			}
		}(int64(r + 10))
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Fatal(msg)
	}

	for id := uint32(0); id < ids; id++ {
		assert.Equal(t, capacity, s.Len(id))
	}
}
