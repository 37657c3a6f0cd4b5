// Package tracking maintains smoothed per-trip speed state fed by streaming
// position samples.
package tracking

import (
	"time"

	"bus-tracker/internal/geo"
)

const (
	DefaultAlpha       = 0.2
	DefaultStableAfter = 3
)

// SpeedTracker smooths per-trip speed with an exponential moving average.
// Not safe for concurrent use on its own; Store serializes access per trip.
type SpeedTracker struct {
	alpha       float64
	stableAfter int

	lastPoint geo.Point
	lastAt    time.Time
	emaKph    float64
	hasEMA    bool
	count     int
}

func NewSpeedTracker(alpha float64, stableAfter int) *SpeedTracker {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	if stableAfter <= 0 {
		stableAfter = DefaultStableAfter
	}
	return &SpeedTracker{alpha: alpha, stableAfter: stableAfter}
}

// Update feeds one sample. at is the timestamp the sample carries for speed
// derivation; samples are applied in arrival order, never reordered. Reported
// speed wins over derivation. When no speed is reported and elapsed time since
// the previous sample is not positive, the update is skipped and prior state
// kept.
func (t *SpeedTracker) Update(p geo.Point, at time.Time, reportedKph *float64) {
	if t.count == 0 {
		if reportedKph != nil {
			t.emaKph = *reportedKph
			t.hasEMA = true
		}
		t.lastPoint = p
		t.lastAt = at
		t.count = 1
		return
	}

	var instant float64
	if reportedKph != nil {
		instant = *reportedKph
	} else {
		elapsed := at.Sub(t.lastAt)
		if elapsed <= 0 {
			return
		}
		distKm := geo.Distance(t.lastPoint, p) / 1000.0
		instant = distKm / elapsed.Hours()
	}

	if t.hasEMA {
		t.emaKph = t.alpha*instant + (1-t.alpha)*t.emaKph
	} else {
		t.emaKph = instant
		t.hasEMA = true
	}
	t.count++
	t.lastPoint = p
	t.lastAt = at
}

// SpeedKph returns the smoothed speed, false while no speed is derivable yet.
func (t *SpeedTracker) SpeedKph() (float64, bool) {
	return t.emaKph, t.hasEMA
}

// Stable reports whether enough samples were seen to trust the average.
func (t *SpeedTracker) Stable() bool { return t.count >= t.stableAfter }

func (t *SpeedTracker) Count() int { return t.count }

// Reset clears to the uninitialized state.
func (t *SpeedTracker) Reset() {
	*t = SpeedTracker{alpha: t.alpha, stableAfter: t.stableAfter}
}
