package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fleetwatch/core-go/internal/fleet"
	"fleetwatch/core-go/internal/staleness"
	"fleetwatch/core-go/internal/transport"
)

// probeState tracks one failing device through the wake-then-verify
// protocol. The transitions are linear: untested → wakeIssued (eligible
// devices only) → pendingVerification → recovered | stillFailing.
type probeState int

const (
	probeUntested probeState = iota
	probeWakeIssued
	probePendingVerification
	probeRecovered
	probeStillFailing
)

type probe struct {
	device         fleet.Device
	classification staleness.Classification
	state          probeState

	wakeIssued    bool
	wakeSucceeded bool
	wakeAt        time.Time
	wakeErr       error
}

// RunOnce executes one full monitoring pass: filter, classify, wake the
// failing subset, wait, re-fetch, re-classify exactly that subset, and
// aggregate. A directory-fetch failure is the only fatal condition; it still
// produces a report with sentinel counts and published error tags.
func (m *Monitor) RunOnce(ctx context.Context) (Report, error) {
	runID := uuid.NewString()
	started := m.now()
	log := m.log.With().Str("run_id", runID).Logger()

	m.metrics.IncMonitorRun()
	defer func() {
		m.metrics.ObserveMonitorRunDuration(m.now().Sub(started))
	}()

	log.Info().Msg("monitoring run started")

	devices, err := m.dir.Devices(ctx)
	if err != nil {
		return m.failRun(ctx, log, runID, started, fmt.Errorf("fetch device directory: %w", err))
	}

	var zones map[string]string
	if m.zones != nil {
		zones, err = m.zones.Zones(ctx)
		if err != nil {
			return m.failRun(ctx, log, runID, started, fmt.Errorf("fetch zone directory: %w", err))
		}
	}

	included := m.filterDevices(log, devices)

	now := m.now()
	okCount := 0
	var probes []*probe
	for _, d := range included {
		c := staleness.Classify(d, now, m.threshold)
		if c.Failing() {
			log.Debug().
				Str("device", d.Name).
				Str("state", string(c.State)).
				Str("reason", c.Reason()).
				Msg("device not reporting")
			probes = append(probes, &probe{device: d, classification: c})
			continue
		}
		okCount++
	}

	wokenAttempted, wokenSucceeded := m.wakeFailing(ctx, log, probes)
	m.metrics.AddWakeResults(wokenAttempted, wokenSucceeded)

	// Re-verification happens only when something failed, and strictly after
	// every wake attempt has settled.
	if len(probes) > 0 {
		if err := m.sleep(ctx, m.wakeDelay); err != nil {
			return m.failRun(ctx, log, runID, started, fmt.Errorf("validation delay interrupted: %w", err))
		}

		refetched, err := m.dir.Devices(ctx)
		if err != nil {
			return m.failRun(ctx, log, runID, started, fmt.Errorf("re-fetch device directory: %w", err))
		}
		m.reconcile(log, probes, refetched)
	}

	lowBattery := m.lowBatterySweep(included, zones)

	report := buildReport(runID, started, m.now(), okCount, probes, lowBattery, zones)
	report.WokenAttempted = wokenAttempted
	report.WokenSucceeded = wokenSucceeded

	m.metrics.SetFleetCounts(report.OKCount, report.NOKCount, report.LowBatteryCount)
	m.publishTags(ctx, log, report)
	m.archiveRun(ctx, log, report)
	m.storeReport(report)

	log.Info().
		Int("ok", report.OKCount).
		Int("nok", report.NOKCount).
		Int("woken_attempted", report.WokenAttempted).
		Int("woken_succeeded", report.WokenSucceeded).
		Int("low_battery", report.LowBatteryCount).
		Msg("monitoring run completed")

	return report, nil
}

// filterDevices applies the inclusion chain against the snapshot; transports
// are classified per device and feed the chain's transport gate.
func (m *Monitor) filterDevices(log zerolog.Logger, devices []fleet.Device) []fleet.Device {
	included := make([]fleet.Device, 0, len(devices))
	for _, d := range devices {
		dec := m.rules.Evaluate(d, transport.Classify(d))
		if !dec.Include {
			log.Debug().Str("device", d.Name).Str("reason", string(dec.Reason)).Msg("device filtered out")
			continue
		}
		included = append(included, d)
	}
	return included
}

// reconcile re-classifies the original failing set against a fresh snapshot.
// This is a closed-world re-check: devices that were fresh in the first pass
// are never re-evaluated, and a device missing from the new snapshot stays
// failing.
func (m *Monitor) reconcile(log zerolog.Logger, probes []*probe, refetched []fleet.Device) {
	byID := make(map[string]fleet.Device, len(refetched))
	for _, d := range refetched {
		byID[d.ID] = d
	}

	now := m.now()
	for _, p := range probes {
		p.state = probePendingVerification

		d, ok := byID[p.device.ID]
		if !ok {
			log.Warn().Str("device", p.device.Name).Msg("device missing from re-fetched directory")
			p.state = probeStillFailing
			continue
		}

		c := staleness.Classify(d, now, m.threshold)
		p.classification = c
		if c.Failing() {
			p.state = probeStillFailing
			continue
		}
		p.state = probeRecovered
		log.Info().
			Str("device", p.device.Name).
			Bool("after_wake", p.wakeSucceeded).
			Msg("device recovered")
	}
}

func (m *Monitor) failRun(ctx context.Context, log zerolog.Logger, runID string, started time.Time, cause error) (Report, error) {
	log.Error().Err(cause).Msg("monitoring run failed")
	m.metrics.IncMonitorRunFailure()

	report := errorReport(runID, started, m.now(), cause)

	// The outbound contract still gets defined values: sentinel counts, not
	// silence.
	if ctx == nil || ctx.Err() != nil {
		bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ctx = bg
	}
	m.publishTags(ctx, log, report)
	m.archiveRun(ctx, log, report)
	m.storeReport(report)

	return report, cause
}
