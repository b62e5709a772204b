package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	before := time.Now()
	assert.False(t, c.Now().Before(before))
	assert.GreaterOrEqual(t, c.Since(before), time.Duration(0))

	tk := c.NewTicker(time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker did not fire")
	}
}

func TestMockClockAfter(t *testing.T) {
	c := NewMockClock(epoch)
	ch := c.After(time.Second)

	c.Advance(500 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case got := <-ch:
		assert.Equal(t, epoch.Add(time.Second), got)
	default:
		t.Fatal("did not fire at deadline")
	}

	select {
	case <-c.After(0):
	default:
		t.Fatal("zero duration fires immediately")
	}
}

func TestMockTicker(t *testing.T) {
	c := NewMockClock(epoch)
	tk := c.NewTicker(50 * time.Millisecond)

	select {
	case <-c.TickerCreated():
	default:
		t.Fatal("ticker creation not signalled")
	}

	c.Advance(10 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("ticked early")
	default:
	}

	c.Advance(40 * time.Millisecond)
	got := <-tk.C()
	assert.Equal(t, epoch.Add(50*time.Millisecond), got)
	assert.Equal(t, 50*time.Millisecond, c.Since(epoch))

	tk.Stop()
	c.Advance(time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockTickerDropsWhenFull(t *testing.T) {
	c := NewMockClock(epoch)
	tk := c.NewTicker(time.Millisecond)
	for i := 0; i < 5; i++ {
		c.Advance(time.Millisecond)
	}
	require.Len(t, tk.C(), 1)
}
