package testutil

import (
	"sync"
	"testing"
	"time"
)

func TestClockPinsAndAdvances(t *testing.T) {
	c := NewClockAt(1000)
	if got := c.Now().UnixMilli(); got != 1000 {
		t.Errorf("Now() = %d, want 1000", got)
	}

	c.Advance(5 * time.Millisecond)
	if got := c.Now().UnixMilli(); got != 1005 {
		t.Errorf("after Advance: Now() = %d, want 1005", got)
	}

	c.SetMillis(9000)
	if got := c.Now().UnixMilli(); got != 9000 {
		t.Errorf("after SetMillis: Now() = %d, want 9000", got)
	}
}

func TestClockConcurrentAccess(t *testing.T) {
	c := NewClockAt(0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Advance(time.Millisecond)
		}()
		go func() {
			defer wg.Done()
			_ = c.Now()
		}()
	}
	wg.Wait()

	if got := c.Now().UnixMilli(); got != 10 {
		t.Errorf("after 10 concurrent advances: Now() = %d, want 10", got)
	}
}
