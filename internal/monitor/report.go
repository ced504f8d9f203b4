package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fleetwatch/core-go/internal/db"
)

// FailingDevice describes one device still failing after reconciliation.
type FailingDevice struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Zone          string `json:"zone,omitempty"`
	Reason        string `json:"reason"`
	Age           string `json:"age"`
	LastSeen      string `json:"last_seen"`
	WakeIssued    bool   `json:"wake_issued"`
	WakeSucceeded bool   `json:"wake_succeeded"`
}

// Describe renders the descriptor line used in list tags and logs.
func (f FailingDevice) Describe() string {
	where := f.Name
	if f.Zone != "" {
		where = fmt.Sprintf("%s (%s)", f.Name, f.Zone)
	}
	return fmt.Sprintf("%s: %s, last seen %s", where, f.Reason, f.LastSeen)
}

// RecoveredDevice describes a device that failed the first pass but
// re-classified fresh after the delay. AfterWake distinguishes devices that
// got a successful poke from devices that recovered on their own; the two
// are deliberately not merged.
type RecoveredDevice struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AfterWake bool   `json:"after_wake"`
}

type LowBatteryDevice struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Zone  string   `json:"zone,omitempty"`
	Level *float64 `json:"level,omitempty"`
	Alarm bool     `json:"alarm"`
}

func (l LowBatteryDevice) Describe() string {
	where := l.Name
	if l.Zone != "" {
		where = fmt.Sprintf("%s (%s)", l.Name, l.Zone)
	}
	switch {
	case l.Level != nil:
		return fmt.Sprintf("%s: %.0f%%", where, *l.Level)
	case l.Alarm:
		return where + ": battery alarm"
	default:
		return where
	}
}

// Report is the terminal result of one monitoring run. Counts reflect the
// reconciled state; on a directory-fetch failure every count is the -1
// sentinel and Error is set.
type Report struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	OKCount         int `json:"ok_count"`
	NOKCount        int `json:"nok_count"`
	WokenAttempted  int `json:"woken_attempted"`
	WokenSucceeded  int `json:"woken_succeeded"`
	LowBatteryCount int `json:"low_battery_count"`

	AnyFailing bool `json:"any_failing"`

	Failing    []FailingDevice    `json:"failing,omitempty"`
	Recovered  []RecoveredDevice  `json:"recovered,omitempty"`
	LowBattery []LowBatteryDevice `json:"low_battery,omitempty"`

	Error string `json:"error,omitempty"`
}

// buildReport folds per-device outcomes into the aggregate. Recovered
// devices count as OK; the failing list holds only devices that are still
// failing after reconciliation.
func buildReport(runID string, started, completed time.Time, okCount int, probes []*probe, lowBattery []LowBatteryDevice, zones map[string]string) Report {
	r := Report{
		RunID:       runID,
		StartedAt:   started,
		CompletedAt: completed,
		OKCount:     okCount,
		LowBattery:  lowBattery,
	}
	r.LowBatteryCount = len(lowBattery)

	for _, p := range probes {
		switch p.state {
		case probeRecovered:
			r.OKCount++
			r.Recovered = append(r.Recovered, RecoveredDevice{
				ID:        p.device.ID,
				Name:      p.device.Name,
				AfterWake: p.wakeSucceeded,
			})
		default:
			c := p.classification
			r.NOKCount++
			r.Failing = append(r.Failing, FailingDevice{
				ID:            p.device.ID,
				Name:          p.device.Name,
				Zone:          zones[p.device.ZoneID],
				Reason:        c.Reason(),
				Age:           ageString(c.HasSeen, c.Age),
				LastSeen:      lastSeenString(c.HasSeen, c.LastSeen),
				WakeIssued:    p.wakeIssued,
				WakeSucceeded: p.wakeSucceeded,
			})
		}
	}

	r.AnyFailing = r.NOKCount > 0
	return r
}

func errorReport(runID string, started, completed time.Time, cause error) Report {
	return Report{
		RunID:           runID,
		StartedAt:       started,
		CompletedAt:     completed,
		OKCount:         -1,
		NOKCount:        -1,
		WokenAttempted:  -1,
		WokenSucceeded:  -1,
		LowBatteryCount: -1,
		AnyFailing:      true,
		Error:           cause.Error(),
	}
}

func ageString(hasSeen bool, age time.Duration) string {
	if !hasSeen {
		return "unknown"
	}
	if age < 0 {
		age = 0
	}
	return age.Truncate(time.Second).String()
}

func lastSeenString(hasSeen bool, lastSeen time.Time) string {
	if !hasSeen {
		return "never"
	}
	return lastSeen.UTC().Format(time.RFC3339)
}

// publishTags pushes the outbound contract to the automation layer. Each tag
// is awaited before the run ends; publish failures are logged, never fatal.
func (m *Monitor) publishTags(ctx context.Context, log zerolog.Logger, r Report) {
	if m.sink == nil {
		return
	}

	failingLines := make([]string, 0, len(r.Failing))
	for _, f := range r.Failing {
		failingLines = append(failingLines, f.Describe())
	}
	batteryLines := make([]string, 0, len(r.LowBattery))
	for _, l := range r.LowBattery {
		batteryLines = append(batteryLines, l.Describe())
	}

	tags := []struct {
		name  string
		value any
	}{
		{"fleet_ok", r.OKCount},
		{"fleet_nok", r.NOKCount},
		{"fleet_woken_attempted", r.WokenAttempted},
		{"fleet_woken_succeeded", r.WokenSucceeded},
		{"fleet_low_battery", r.LowBatteryCount},
		{"fleet_any_failing", r.AnyFailing},
		{"fleet_failing_list", strings.Join(failingLines, "\n")},
		{"fleet_low_battery_list", strings.Join(batteryLines, "\n")},
	}
	for _, t := range tags {
		if err := m.sink.Tag(ctx, t.name, t.value); err != nil {
			log.Warn().Err(err).Str("tag", t.name).Msg("failed to publish tag")
		}
	}
}

func (m *Monitor) archiveRun(ctx context.Context, log zerolog.Logger, r Report) {
	if m.archive == nil {
		return
	}

	payload, err := json.Marshal(r)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode report for archive")
		return
	}

	var lastErr *string
	if r.Error != "" {
		lastErr = &r.Error
	}
	rec := db.RunRecord{
		ID:              r.RunID,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
		OKCount:         r.OKCount,
		NOKCount:        r.NOKCount,
		WokenAttempted:  r.WokenAttempted,
		WokenSucceeded:  r.WokenSucceeded,
		LowBatteryCount: r.LowBatteryCount,
		AnyFailing:      r.AnyFailing,
		Error:           lastErr,
		Report:          payload,
	}
	if err := m.archive.InsertRun(ctx, rec); err != nil {
		log.Error().Err(err).Str("run_id", r.RunID).Msg("failed to archive run")
	}
}
