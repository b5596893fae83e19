package stealth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCubicBezierEndpoints(t *testing.T) {
	assert.InDelta(t, 10.0, CubicBezier(10, 50, 80, 200, 0), 1e-9)
	assert.InDelta(t, 200.0, CubicBezier(10, 50, 80, 200, 1), 1e-9)

	// Stays within the control hull for monotone control points.
	mid := CubicBezier(0, 30, 70, 100, 0.5)
	assert.Greater(t, mid, 0.0)
	assert.Less(t, mid, 100.0)
}

func TestEaseInOutCubic(t *testing.T) {
	assert.InDelta(t, 0.0, easeInOutCubic(0), 1e-9)
	assert.InDelta(t, 0.5, easeInOutCubic(0.5), 1e-9)
	assert.InDelta(t, 1.0, easeInOutCubic(1), 1e-9)

	// Slow start, fast middle.
	assert.Less(t, easeInOutCubic(0.1), 0.1)
	assert.Greater(t, easeInOutCubic(0.9), 0.9)
}

func TestSleepRandomBounds(t *testing.T) {
	start := time.Now()
	SleepRandom(10, 20)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)

	// Inverted bounds collapse to min instead of panicking.
	SleepRandom(5, 1)
}

func TestInActiveWindow(t *testing.T) {
	// Unparseable bounds are permissive.
	assert.True(t, InActiveWindow("", ""))
	assert.True(t, InActiveWindow("9am", "10pm"))

	now := time.Now()
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)
	// Only meaningful when the window does not wrap midnight.
	if before.Day() == now.Day() && after.Day() == now.Day() {
		assert.True(t, InActiveWindow(before.Format("15:04"), after.Format("15:04")))
		assert.False(t, InActiveWindow(after.Format("15:04"), after.Add(time.Hour).Format("15:04")))
	}
}

func TestRandomNearbyRune(t *testing.T) {
	for i := 0; i < 20; i++ {
		got := randomNearbyRune('a')
		assert.Contains(t, []string{"s", "q", "w", "z"}, got)
	}
	// Unmapped runes still produce a plausible substitute.
	assert.Len(t, randomNearbyRune('9'), 1)
}
