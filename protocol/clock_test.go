package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemClockMonotonic(t *testing.T) {
	clock := NewSystemClock()

	first := clock.Monotonic()
	second := clock.Monotonic()

	assert.GreaterOrEqual(t, second, first)
}

func TestWallTimestamp(t *testing.T) {
	instant := time.Unix(1500000000, 0)

	assert.Equal(t, "1500000000", WallTimestamp(instant))
}
