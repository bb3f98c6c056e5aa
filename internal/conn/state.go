package conn

import (
	"math"
	"time"
)

// State is the connection lifecycle state shared by all subscribers.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateJoining
	StateLive
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateJoining:
		return "joining"
	case StateLive:
		return "live"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// maxBackoff caps the reconnect delay.
const maxBackoff = 300 * time.Second

// Backoff returns the reconnect delay for the given consecutive failure
// count: min(300, 1.25^retries) seconds. The cap is applied before the
// Duration conversion; past ~100 retries the float exceeds int64 range
// and the conversion would wrap negative.
func Backoff(retries int) time.Duration {
	secs := math.Pow(1.25, float64(retries))
	if secs > maxBackoff.Seconds() {
		return maxBackoff
	}
	return time.Duration(secs * float64(time.Second))
}
