// Package eta projects arrival times from smoothed speed and classifies
// schedule deviation.
package eta

import (
	"fmt"
	"math"
	"time"

	"bus-tracker/internal/geo"
)

type Confidence string

const (
	ConfidenceLow      Confidence = "low"      // no usable speed, ETA unknown
	ConfidenceMedium   Confidence = "medium"   // tracker present but not yet stable
	ConfidenceHigh     Confidence = "high"     // tracker present and stable
	ConfidenceFallback Confidence = "fallback" // fallback speed, no tracker
)

type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severity breakpoints above the configurable threshold. Fixed.
const (
	severityHighMin     = 10
	severityCriticalMin = 15
)

const DefaultDelayThresholdMin = 5

// SpeedSource is the read side of a tracking.SpeedTracker.
type SpeedSource interface {
	SpeedKph() (float64, bool)
	Stable() bool
}

type ETA struct {
	DistanceMeters float64
	SpeedKph       float64
	Seconds        float64
	Minutes        int
	Known          bool
	Confidence     Confidence
}

// ComputeETA projects the arrival at nextStop from the current position.
// tracker may be nil; fallbackKph <= 0 means no fallback. When no usable speed
// exists the result is explicitly unknown rather than a division by zero.
func ComputeETA(current, nextStop geo.Point, tracker SpeedSource, fallbackKph float64) ETA {
	dist := geo.Distance(current, nextStop)

	speed := 0.0
	haveTracker := tracker != nil
	haveSpeed := false
	if haveTracker {
		if s, ok := tracker.SpeedKph(); ok {
			speed = s
			haveSpeed = true
		}
	}
	if !haveSpeed && fallbackKph > 0 {
		speed = fallbackKph
		haveSpeed = true
		haveTracker = false // confidence reflects the fallback, not the tracker
	}
	if !haveSpeed || speed <= 0 {
		return ETA{DistanceMeters: dist, Known: false, Confidence: ConfidenceLow}
	}

	conf := ConfidenceFallback
	if haveTracker {
		if tracker.Stable() {
			conf = ConfidenceHigh
		} else {
			conf = ConfidenceMedium
		}
	}

	seconds := dist / (speed * 1000 / 3600)
	return ETA{
		DistanceMeters: dist,
		SpeedKph:       speed,
		Seconds:        seconds,
		Minutes:        int(math.Round(seconds / 60)),
		Known:          true,
		Confidence:     conf,
	}
}

type Delay struct {
	Minutes  int
	Delayed  bool
	Severity Severity
}

// CheckDelay compares the projected arrival (now + etaMinutes) with the
// scheduled time of day ("HH:MM", interpreted in now's location on now's day).
// thresholdMin <= 0 falls back to the default of 5 minutes.
func CheckDelay(now time.Time, scheduledTimeOfDay string, etaMinutes, thresholdMin int) (Delay, error) {
	if thresholdMin <= 0 {
		thresholdMin = DefaultDelayThresholdMin
	}
	scheduled, err := atTimeOfDay(now, scheduledTimeOfDay)
	if err != nil {
		return Delay{}, err
	}

	projected := now.Add(time.Duration(etaMinutes) * time.Minute)
	delayMin := int(math.Round(projected.Sub(scheduled).Minutes()))
	if delayMin < 0 {
		delayMin = 0
	}

	d := Delay{Minutes: delayMin, Delayed: delayMin >= thresholdMin}
	switch {
	case delayMin < thresholdMin:
		d.Severity = SeverityNone
	case delayMin < severityHighMin:
		d.Severity = SeverityMedium
	case delayMin < severityCriticalMin:
		d.Severity = SeverityHigh
	default:
		d.Severity = SeverityCritical
	}
	return d, nil
}

// AtOrAbove reports whether s is at least min on the none<medium<high<critical
// scale.
func (s Severity) AtOrAbove(min Severity) bool {
	return severityRank(s) >= severityRank(min)
}

func severityRank(s Severity) int {
	switch s {
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

func atTimeOfDay(now time.Time, hhmm string) (time.Time, error) {
	var h, m int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &h, &m); err != nil {
		return time.Time{}, fmt.Errorf("invalid time of day %q: %w", hhmm, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return time.Time{}, fmt.Errorf("invalid time of day %q", hhmm)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location()), nil
}
