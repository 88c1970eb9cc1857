package session

import "time"

const (
	reconnectStep     = 250 * time.Millisecond
	reconnectDelayCap = time.Second
)

// reconnectDelay returns the wait before reconnect attempt n (1-based).
// The ramp is linear and capped so a flapping upstream is retried
// quickly but never hammered.
func reconnectDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(attempt) * reconnectStep
	if d > reconnectDelayCap {
		return reconnectDelayCap
	}
	return d
}
