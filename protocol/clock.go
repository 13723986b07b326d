package protocol

import (
	"strconv"
	"time"
)

// Clock supplies the two time bases the bus cares about: a monotonic reading
// for timeouts and a wall reading for cron evaluation and heartbeat
// payloads. The two are unrelated and must not be mixed.
type Clock interface {
	// Monotonic returns a strictly non-decreasing duration since an
	// arbitrary fixed origin.
	Monotonic() time.Duration

	// Wall returns the current wall-clock time.
	Wall() time.Time
}

type systemClock struct {
	origin time.Time
}

// NewSystemClock returns a Clock backed by the system time sources.
func NewSystemClock() Clock {
	return &systemClock{origin: time.Now()}
}

func (c *systemClock) Monotonic() time.Duration {
	// time.Since reads the runtime monotonic clock carried in origin, so
	// wall adjustments do not move this value backwards.
	return time.Since(c.origin)
}

func (c *systemClock) Wall() time.Time {
	return time.Now()
}

// WallTimestamp formats a wall-clock instant as decimal seconds since epoch,
// the form heartbeat payloads carry on the wire.
func WallTimestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
