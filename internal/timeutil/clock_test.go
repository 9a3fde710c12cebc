package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockClock(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	assert.Equal(t, start, c.Now())

	c.Advance(1500 * time.Millisecond)
	assert.Equal(t, start.Add(1500*time.Millisecond), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestStampOrNow(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(now)

	assert.Equal(t, now, StampOrNow(c, time.Time{}))

	given := now.Add(-time.Minute)
	assert.Equal(t, given, StampOrNow(c, given))
}

func TestRealClockMovesForward(t *testing.T) {
	var c Clock = RealClock{}
	a := c.Now()
	b := c.Now()
	assert.False(t, b.Before(a))
}
