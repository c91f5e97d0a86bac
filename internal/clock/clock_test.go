package clock

import (
	"testing"
	"time"
)

func TestVirtualAdvanceFiresWaiters(t *testing.T) {
	start := time.Date(2025, 1, 6, 9, 15, 0, 0, time.UTC)
	v := NewVirtual(start)

	ch1 := v.After(10 * time.Second)
	ch2 := v.After(30 * time.Second)

	v.Advance(start.Add(15 * time.Second))

	select {
	case ts := <-ch1:
		if ts.Before(start.Add(10 * time.Second)) {
			t.Fatalf("waiter fired early at %v", ts)
		}
	default:
		t.Fatal("10s waiter did not fire after 15s advance")
	}

	select {
	case <-ch2:
		t.Fatal("30s waiter fired after only 15s")
	default:
	}

	v.Advance(start.Add(31 * time.Second))
	select {
	case <-ch2:
	default:
		t.Fatal("30s waiter did not fire after 31s advance")
	}
}

func TestVirtualNeverGoesBackward(t *testing.T) {
	start := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	v := NewVirtual(start)
	v.Advance(start.Add(time.Minute))
	v.Advance(start) // must be ignored
	if got := v.Now(); !got.Equal(start.Add(time.Minute)) {
		t.Fatalf("clock moved backward: %v", got)
	}
}

func TestVirtualZeroAfterFiresImmediately(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	select {
	case <-v.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}
