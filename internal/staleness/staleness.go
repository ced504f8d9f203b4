package staleness

import (
	"strconv"
	"strings"
	"time"

	"fleetwatch/core-go/internal/fleet"
	"fleetwatch/core-go/internal/timespan"
)

// State classifies a device's most recent activity relative to a threshold.
type State string

const (
	StateFresh   State = "fresh"
	StateStale   State = "stale"
	StateUnknown State = "unknown"
)

const (
	reasonStale   = "threshold exceeded"
	reasonUnknown = "no updates"
)

// Threshold is the freshness window, remembering the unit it was declared in
// so reports can echo the operator's own terms. Immutable once built.
type Threshold struct {
	Window time.Duration
	Unit   timespan.Unit
}

// Classification is the outcome of one staleness pass over one device.
// HasSeen distinguishes "no valid timestamp anywhere" from a real instant;
// when it is false, Age and LastSeen carry no meaning (the age is infinite).
type Classification struct {
	State    State
	Age      time.Duration
	LastSeen time.Time
	HasSeen  bool
}

// Failing reports whether the classification counts against the fleet.
// Stale and unknown both fail; their reasons stay distinct all the way to
// the report.
func (c Classification) Failing() bool {
	return c.State != StateFresh
}

// Reason is the human-readable cause for a failing classification, empty for
// fresh devices.
func (c Classification) Reason() string {
	switch c.State {
	case StateStale:
		return reasonStale
	case StateUnknown:
		return reasonUnknown
	default:
		return ""
	}
}

// Classify scans every capability observation of d, keeps the most recent
// timestamp that parses, and grades it against the threshold. The scan is an
// explicit fold with a "none found" tag rather than a numeric sentinel, so a
// single unparseable timestamp can never poison the comparison.
func Classify(d fleet.Device, now time.Time, threshold Threshold) Classification {
	var latest time.Time
	found := false

	for _, obs := range d.Observations {
		ts, ok := parseTimestamp(obs.LastUpdated)
		if !ok {
			continue
		}
		if !found || ts.After(latest) {
			latest = ts
			found = true
		}
	}

	if !found {
		return Classification{State: StateUnknown}
	}

	age := now.Sub(latest)
	state := StateFresh
	// Boundary rule: age exactly at the threshold is stale.
	if age >= threshold.Window {
		state = StateStale
	}
	return Classification{State: state, Age: age, LastSeen: latest, HasSeen: true}
}

// parseTimestamp accepts the formats hubs actually emit: RFC3339 (with or
// without sub-second precision) and epoch milliseconds.
func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts, true
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, true
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms), true
	}
	return time.Time{}, false
}
