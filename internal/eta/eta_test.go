package eta

import (
	"math"
	"testing"
	"time"

	"bus-tracker/internal/geo"
)

type fakeSpeed struct {
	kph    float64
	ok     bool
	stable bool
}

func (f *fakeSpeed) SpeedKph() (float64, bool) { return f.kph, f.ok }
func (f *fakeSpeed) Stable() bool              { return f.stable }

var (
	cur  = geo.Point{Lat: 41.3851, Lng: 2.1734}
	stop = geo.Point{Lat: 41.3900, Lng: 2.1800}
)

func TestComputeETAUnknownSpeed(t *testing.T) {
	tests := []struct {
		name     string
		tracker  SpeedSource
		fallback float64
	}{
		{"no tracker, no fallback", nil, 0},
		{"tracker without speed", &fakeSpeed{ok: false}, 0},
		{"tracker with zero speed", &fakeSpeed{kph: 0, ok: true}, 0},
		{"negative fallback", nil, -5},
	}
	for _, tc := range tests {
		got := ComputeETA(cur, stop, tc.tracker, tc.fallback)
		if got.Known {
			t.Errorf("%s: ETA should be unknown", tc.name)
		}
		if got.Confidence != ConfidenceLow {
			t.Errorf("%s: confidence = %q, want %q", tc.name, got.Confidence, ConfidenceLow)
		}
		if got.DistanceMeters <= 0 {
			t.Errorf("%s: distance must still be computed", tc.name)
		}
	}
}

func TestComputeETAConfidence(t *testing.T) {
	if got := ComputeETA(cur, stop, &fakeSpeed{kph: 30, ok: true, stable: true}, 0); got.Confidence != ConfidenceHigh {
		t.Errorf("stable tracker: confidence = %q, want high", got.Confidence)
	}
	if got := ComputeETA(cur, stop, &fakeSpeed{kph: 30, ok: true, stable: false}, 0); got.Confidence != ConfidenceMedium {
		t.Errorf("unstable tracker: confidence = %q, want medium", got.Confidence)
	}
	if got := ComputeETA(cur, stop, nil, 25); got.Confidence != ConfidenceFallback {
		t.Errorf("fallback speed: confidence = %q, want fallback", got.Confidence)
	}
}

func TestComputeETAMath(t *testing.T) {
	got := ComputeETA(cur, stop, &fakeSpeed{kph: 36, ok: true, stable: true}, 0)
	if !got.Known {
		t.Fatalf("ETA unexpectedly unknown")
	}
	wantSeconds := got.DistanceMeters / 10.0 // 36 km/h = 10 m/s
	if math.Abs(got.Seconds-wantSeconds) > 1e-9 {
		t.Errorf("Seconds = %v, want %v", got.Seconds, wantSeconds)
	}
	if got.Minutes != int(math.Round(wantSeconds/60)) {
		t.Errorf("Minutes = %d, want %d", got.Minutes, int(math.Round(wantSeconds/60)))
	}
}

func TestCheckDelayTiers(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)
	tests := []struct {
		etaMinutes   int
		wantDelayed  bool
		wantSeverity Severity
	}{
		{3, false, SeverityNone},
		{8, true, SeverityMedium},
		{12, true, SeverityHigh},
		{18, true, SeverityCritical},
	}
	for _, tc := range tests {
		got, err := CheckDelay(now, "07:30", tc.etaMinutes, 5)
		if err != nil {
			t.Fatalf("eta=%d: %v", tc.etaMinutes, err)
		}
		if got.Delayed != tc.wantDelayed || got.Severity != tc.wantSeverity {
			t.Errorf("eta=%d: got %+v, want delayed=%v severity=%q",
				tc.etaMinutes, got, tc.wantDelayed, tc.wantSeverity)
		}
		if got.Minutes != tc.etaMinutes {
			t.Errorf("eta=%d: delay minutes = %d", tc.etaMinutes, got.Minutes)
		}
	}
}

func TestCheckDelayBoundaries(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)
	cases := map[int]Severity{4: SeverityNone, 5: SeverityMedium, 9: SeverityMedium, 10: SeverityHigh, 14: SeverityHigh, 15: SeverityCritical}
	for eta, want := range cases {
		got, err := CheckDelay(now, "07:30", eta, 5)
		if err != nil {
			t.Fatalf("eta=%d: %v", eta, err)
		}
		if got.Severity != want {
			t.Errorf("eta=%d: severity = %q, want %q", eta, got.Severity, want)
		}
	}
}

func TestCheckDelayEarlyArrivalClampsToZero(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	got, err := CheckDelay(now, "07:30", 10, 5)
	if err != nil {
		t.Fatalf("%v", err)
	}
	if got.Minutes != 0 || got.Delayed || got.Severity != SeverityNone {
		t.Errorf("early arrival: got %+v, want zero delay", got)
	}
}

func TestCheckDelayInvalidSchedule(t *testing.T) {
	now := time.Now()
	for _, bad := range []string{"", "7:65", "25:00", "noon"} {
		if _, err := CheckDelay(now, bad, 5, 5); err == nil {
			t.Errorf("CheckDelay(%q) should fail", bad)
		}
	}
}

func TestSeverityAtOrAbove(t *testing.T) {
	if !SeverityMedium.AtOrAbove(SeverityMedium) || !SeverityCritical.AtOrAbove(SeverityMedium) {
		t.Errorf("medium/critical must be at or above medium")
	}
	if SeverityNone.AtOrAbove(SeverityMedium) {
		t.Errorf("none must not be at or above medium")
	}
}
