package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fleetwatch/core-go/internal/db"
	"fleetwatch/core-go/internal/fleet"
	"fleetwatch/core-go/internal/inclusion"
	"fleetwatch/core-go/internal/metrics"
	"fleetwatch/core-go/internal/staleness"
)

// Deps are the external collaborators of a monitoring run. Archive and
// Metrics are optional; everything else is required.
type Deps struct {
	Directory fleet.Directory
	Zones     fleet.ZoneDirectory
	Writer    fleet.CapabilityWriter
	Sink      fleet.TagSink
	Archive   *db.Pool
	Metrics   *metrics.Metrics
}

type Options struct {
	Threshold    staleness.Threshold
	WakeDelay    time.Duration
	PollInterval time.Duration
	RunTimeout   time.Duration

	BatteryThresholdPercent int
	BatteryAlarmCountsAsLow bool
}

type Monitor struct {
	log     zerolog.Logger
	dir     fleet.Directory
	zones   fleet.ZoneDirectory
	writer  fleet.CapabilityWriter
	sink    fleet.TagSink
	archive *db.Pool
	metrics *metrics.Metrics
	rules   *inclusion.Rules

	threshold    staleness.Threshold
	wakeDelay    time.Duration
	pollInterval time.Duration
	runTimeout   time.Duration

	batteryThreshold int
	alarmCountsAsLow bool

	// sleep and now are injectable so tests never wait on a wall clock.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	trigger chan struct{}

	mu   sync.Mutex
	last *Report
}

func New(log zerolog.Logger, deps Deps, rules *inclusion.Rules, opts Options) *Monitor {
	threshold := opts.Threshold
	if threshold.Window <= 0 {
		threshold.Window = 60 * time.Minute
	}
	wakeDelay := opts.WakeDelay
	if wakeDelay < 0 {
		wakeDelay = 0
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 15 * time.Minute
	}
	runTimeout := opts.RunTimeout
	if runTimeout <= 0 {
		runTimeout = 2 * time.Minute
	}
	batteryThreshold := opts.BatteryThresholdPercent
	if batteryThreshold <= 0 {
		batteryThreshold = 20
	}

	return &Monitor{
		log:              log,
		dir:              deps.Directory,
		zones:            deps.Zones,
		writer:           deps.Writer,
		sink:             deps.Sink,
		archive:          deps.Archive,
		metrics:          deps.Metrics,
		rules:            rules,
		threshold:        threshold,
		wakeDelay:        wakeDelay,
		pollInterval:     pollInterval,
		runTimeout:       runTimeout,
		batteryThreshold: batteryThreshold,
		alarmCountsAsLow: opts.BatteryAlarmCountsAsLow,
		sleep:            sleepWithContext,
		now:              time.Now,
		trigger:          make(chan struct{}, 1),
	}
}

// Run executes monitoring passes until ctx is done: one pass per poll
// interval, plus any manually triggered passes. Failed passes back the
// interval off instead of hammering a broken directory.
func (m *Monitor) Run(ctx context.Context) {
	if m == nil || m.dir == nil {
		return
	}

	timer := time.NewTimer(m.pollInterval)
	defer timer.Stop()

	var consecutiveFailures int
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-m.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		runCtx, cancel := context.WithTimeout(ctx, m.runTimeout)
		_, err := m.RunOnce(runCtx)
		cancel()

		if err != nil {
			consecutiveFailures++
		} else {
			consecutiveFailures = 0
		}

		timer.Reset(backoffDuration(m.pollInterval, consecutiveFailures))
	}
}

// TriggerRun queues a manual pass. Returns false when one is already queued.
func (m *Monitor) TriggerRun() bool {
	select {
	case m.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// LastReport returns the most recent report, reconciled or error-valued.
func (m *Monitor) LastReport() (Report, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Report{}, false
	}
	return *m.last, true
}

func (m *Monitor) storeReport(r Report) {
	m.mu.Lock()
	m.last = &r
	m.mu.Unlock()
}

func backoffDuration(base time.Duration, failures int) time.Duration {
	if base <= 0 {
		base = 15 * time.Minute
	}
	if failures <= 0 {
		return base
	}

	// Exponential-ish backoff: base * 2^failures, capped.
	if failures > 4 {
		failures = 4
	}
	d := base * time.Duration(1<<failures)
	if d > 2*time.Hour {
		return 2 * time.Hour
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
