package session

import (
	"testing"
	"time"
)

func TestReconnectDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 250 * time.Millisecond},
		{1, 250 * time.Millisecond},
		{2, 500 * time.Millisecond},
		{3, 750 * time.Millisecond},
		{4, time.Second},
		{100, time.Second},
	}
	for _, c := range cases {
		if got := reconnectDelay(c.attempt); got != c.want {
			t.Fatalf("reconnectDelay(%d)=%v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestReconnectDelay_MonotonicUpToCap(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		d := reconnectDelay(attempt)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		if d > time.Second {
			t.Fatalf("delay %v exceeds cap", d)
		}
		prev = d
	}
}
