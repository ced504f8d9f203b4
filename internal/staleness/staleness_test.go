package staleness

import (
	"testing"
	"time"

	"fleetwatch/core-go/internal/fleet"
	"fleetwatch/core-go/internal/timespan"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func hourThreshold() Threshold {
	return Threshold{Window: time.Hour, Unit: timespan.Minutes}
}

func deviceWith(observations map[string]fleet.CapabilityObservation) fleet.Device {
	return fleet.Device{ID: "d1", Name: "Device", Observations: observations}
}

func TestClassify_fresh(t *testing.T) {
	d := deviceWith(map[string]fleet.CapabilityObservation{
		"measure_temperature": {Value: 21.5, LastUpdated: now.Add(-10 * time.Minute).Format(time.RFC3339)},
	})
	c := Classify(d, now, hourThreshold())
	if c.State != StateFresh {
		t.Fatalf("expected fresh, got %s", c.State)
	}
	if c.Age != 10*time.Minute {
		t.Fatalf("expected age 10m, got %v", c.Age)
	}
	if c.Reason() != "" {
		t.Fatalf("fresh devices carry no reason, got %q", c.Reason())
	}
}

func TestClassify_noValidTimestampIsUnknownNeverStale(t *testing.T) {
	d := deviceWith(map[string]fleet.CapabilityObservation{
		"onoff":         {Value: true, LastUpdated: ""},
		"measure_power": {Value: 3.0, LastUpdated: "not-a-date"},
	})
	c := Classify(d, now, hourThreshold())
	if c.State != StateUnknown {
		t.Fatalf("expected unknown, got %s", c.State)
	}
	if c.HasSeen {
		t.Fatalf("unknown classification must not carry a last-seen instant")
	}
	if !c.Failing() {
		t.Fatalf("unknown must count as failing")
	}
	if c.Reason() != "no updates" {
		t.Fatalf("expected reason %q, got %q", "no updates", c.Reason())
	}
}

func TestClassify_boundaryAgeIsStale(t *testing.T) {
	d := deviceWith(map[string]fleet.CapabilityObservation{
		"alarm_motion": {Value: false, LastUpdated: now.Add(-time.Hour).Format(time.RFC3339)},
	})
	// Repeated identical inputs must classify identically.
	for i := 0; i < 5; i++ {
		c := Classify(d, now, hourThreshold())
		if c.State != StateStale {
			t.Fatalf("expected stale at exact boundary, got %s", c.State)
		}
		if c.Reason() != "threshold exceeded" {
			t.Fatalf("expected reason %q, got %q", "threshold exceeded", c.Reason())
		}
	}
}

func TestClassify_keepsMostRecentAcrossCapabilities(t *testing.T) {
	d := deviceWith(map[string]fleet.CapabilityObservation{
		"measure_battery": {Value: 80.0, LastUpdated: now.Add(-3 * time.Hour).Format(time.RFC3339)},
		"onoff":           {Value: true, LastUpdated: now.Add(-5 * time.Minute).Format(time.RFC3339)},
		"dim":             {Value: 0.4, LastUpdated: "garbage"},
	})
	c := Classify(d, now, hourThreshold())
	if c.State != StateFresh {
		t.Fatalf("expected the newest capability to win, got %s", c.State)
	}
	if want := now.Add(-5 * time.Minute); !c.LastSeen.Equal(want) {
		t.Fatalf("expected last seen %v, got %v", want, c.LastSeen)
	}
}

func TestClassify_epochMillisTimestamps(t *testing.T) {
	d := deviceWith(map[string]fleet.CapabilityObservation{
		"measure_humidity": {Value: 55.0, LastUpdated: "1773748800000"}, // ms precision
	})
	c := Classify(d, now, hourThreshold())
	if !c.HasSeen {
		t.Fatalf("expected epoch-millis timestamp to parse")
	}
}

func TestClassify_noObservations(t *testing.T) {
	c := Classify(fleet.Device{ID: "empty"}, now, hourThreshold())
	if c.State != StateUnknown {
		t.Fatalf("expected unknown for a device without observations, got %s", c.State)
	}
}
