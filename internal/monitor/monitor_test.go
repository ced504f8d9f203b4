package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fleetwatch/core-go/internal/fleet"
	"fleetwatch/core-go/internal/inclusion"
	"fleetwatch/core-go/internal/staleness"
	"fleetwatch/core-go/internal/timespan"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fakeDirectory struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) ([]fleet.Device, error)
}

func (f *fakeDirectory) Devices(ctx context.Context) ([]fleet.Device, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call)
}

type fakeZones struct {
	fn func(ctx context.Context) (map[string]string, error)
}

func (f *fakeZones) Zones(ctx context.Context) (map[string]string, error) {
	if f.fn == nil {
		return map[string]string{}, nil
	}
	return f.fn(ctx)
}

type fakeWriter struct {
	mu    sync.Mutex
	calls []string
	fn    func(deviceID, capability string, value any) error
}

func (f *fakeWriter) SetCapabilityValue(ctx context.Context, deviceID, capability string, value any) error {
	f.mu.Lock()
	f.calls = append(f.calls, deviceID)
	f.mu.Unlock()
	if f.fn == nil {
		return nil
	}
	return f.fn(deviceID, capability, value)
}

type fakeSink struct {
	mu   sync.Mutex
	tags map[string]any
}

func (f *fakeSink) Tag(ctx context.Context, name string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tags == nil {
		f.tags = make(map[string]any)
	}
	f.tags[name] = value
	return nil
}

func (f *fakeSink) get(name string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tags[name]
}

func sensorRules() *inclusion.Rules {
	return inclusion.NewRules(zerolog.Nop(), inclusion.Config{WantedClasses: []string{"sensor"}})
}

func newTestMonitor(dir *fakeDirectory, writer *fakeWriter, sink *fakeSink, opts Options) *Monitor {
	if opts.Threshold.Window == 0 {
		opts.Threshold = staleness.Threshold{Window: time.Hour, Unit: timespan.Minutes}
	}
	m := New(zerolog.Nop(), Deps{
		Directory: dir,
		Zones:     &fakeZones{},
		Writer:    writer,
		Sink:      sink,
	}, sensorRules(), opts)
	m.now = func() time.Time { return testNow }
	m.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return m
}

func sensor(id, name string, lastUpdated string) fleet.Device {
	obs := map[string]fleet.CapabilityObservation{}
	if lastUpdated != "" {
		obs["measure_temperature"] = fleet.CapabilityObservation{Value: 20.0, LastUpdated: lastUpdated}
	}
	return fleet.Device{
		ID:           id,
		Name:         name,
		Class:        "sensor",
		Capabilities: []string{"measure_temperature"},
		Observations: obs,
	}
}

// pokeable makes a failing sensor that also exposes the onoff toggle with a
// known value, which is what wake eligibility requires.
func pokeable(id, name string, lastUpdated string) fleet.Device {
	d := sensor(id, name, lastUpdated)
	d.Capabilities = append(d.Capabilities, "onoff")
	d.Observations["onoff"] = fleet.CapabilityObservation{Value: true, LastUpdated: lastUpdated}
	return d
}

func ts(age time.Duration) string {
	return testNow.Add(-age).Format(time.RFC3339)
}

func TestRunOnce_endToEnd(t *testing.T) {
	fleetSnapshot := []fleet.Device{
		sensor("f1", "Fresh one", ts(5*time.Minute)),
		sensor("f2", "Fresh two", ts(30*time.Minute)),
		sensor("f3", "Fresh three", ts(59*time.Minute)),
		sensor("s1", "Stale hall", ts(90*time.Minute)),
		sensor("u1", "Silent cellar", ""),
	}
	dir := &fakeDirectory{fn: func(int) ([]fleet.Device, error) { return fleetSnapshot, nil }}
	sink := &fakeSink{}
	m := newTestMonitor(dir, &fakeWriter{}, sink, Options{})

	report, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if report.OKCount != 3 || report.NOKCount != 2 {
		t.Fatalf("expected ok=3 nok=2, got ok=%d nok=%d", report.OKCount, report.NOKCount)
	}
	if !report.AnyFailing {
		t.Fatalf("expected any_failing=true")
	}

	reasons := map[string]string{}
	for _, f := range report.Failing {
		reasons[f.ID] = f.Reason
	}
	if reasons["s1"] != "threshold exceeded" {
		t.Fatalf("expected stale reason for s1, got %q", reasons["s1"])
	}
	if reasons["u1"] != "no updates" {
		t.Fatalf("expected unknown reason for u1, got %q", reasons["u1"])
	}

	if got := sink.get("fleet_ok"); got != 3 {
		t.Fatalf("expected fleet_ok=3, got %v", got)
	}
	if got := sink.get("fleet_nok"); got != 2 {
		t.Fatalf("expected fleet_nok=2, got %v", got)
	}
	if got := sink.get("fleet_any_failing"); got != true {
		t.Fatalf("expected fleet_any_failing=true, got %v", got)
	}
}

func TestRunOnce_wakeFanOutIsolatesFailures(t *testing.T) {
	snapshot := []fleet.Device{
		pokeable("a", "Device A", ts(2*time.Hour)),
		pokeable("b", "Device B", ts(2*time.Hour)),
		pokeable("c", "Device C", ts(2*time.Hour)),
	}
	dir := &fakeDirectory{fn: func(int) ([]fleet.Device, error) { return snapshot, nil }}
	writer := &fakeWriter{fn: func(deviceID, _ string, _ any) error {
		if deviceID == "b" {
			return errors.New("radio timeout")
		}
		return nil
	}}
	m := newTestMonitor(dir, writer, &fakeSink{}, Options{})

	report, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if report.WokenAttempted != 3 || report.WokenSucceeded != 2 {
		t.Fatalf("expected attempted=3 succeeded=2, got %d/%d", report.WokenAttempted, report.WokenSucceeded)
	}
	if len(writer.calls) != 3 {
		t.Fatalf("expected 3 wake writes, got %d", len(writer.calls))
	}

	// B's failure must not hide A's and C's successful attempts.
	byID := map[string]FailingDevice{}
	for _, f := range report.Failing {
		byID[f.ID] = f
	}
	if !byID["a"].WakeSucceeded || !byID["c"].WakeSucceeded {
		t.Fatalf("expected a and c wake success, got %+v", byID)
	}
	if byID["b"].WakeSucceeded || !byID["b"].WakeIssued {
		t.Fatalf("expected b issued-but-failed, got %+v", byID["b"])
	}
}

func TestRunOnce_reconciliation(t *testing.T) {
	first := []fleet.Device{
		pokeable("a", "Device A", ts(2*time.Hour)),
		sensor("b", "Device B", ts(2*time.Hour)),
	}
	second := []fleet.Device{
		pokeable("a", "Device A", ts(time.Minute)), // recovered after poke
		sensor("b", "Device B", ts(2*time.Hour)),   // still stale
	}
	dir := &fakeDirectory{fn: func(call int) ([]fleet.Device, error) {
		if call == 1 {
			return first, nil
		}
		return second, nil
	}}
	sink := &fakeSink{}
	m := newTestMonitor(dir, &fakeWriter{}, sink, Options{})

	report, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	// The reconciled list replaces the original failing list.
	if len(report.Failing) != 1 || report.Failing[0].ID != "b" {
		t.Fatalf("expected only b still failing, got %+v", report.Failing)
	}
	if report.OKCount != 1 || report.NOKCount != 1 {
		t.Fatalf("expected ok=1 nok=1 after reconciliation, got ok=%d nok=%d", report.OKCount, report.NOKCount)
	}

	if len(report.Recovered) != 1 || report.Recovered[0].ID != "a" {
		t.Fatalf("expected a recovered, got %+v", report.Recovered)
	}
	// A got a successful poke; recovery is attributed to the wake.
	if !report.Recovered[0].AfterWake {
		t.Fatalf("expected recovery after wake for a")
	}

	if got := sink.get("fleet_nok"); got != 1 {
		t.Fatalf("expected reconciled fleet_nok=1, got %v", got)
	}
}

func TestRunOnce_spontaneousRecoveryIsNotAttributedToWake(t *testing.T) {
	// b has no toggle capability, so it was never woken, yet it recovers.
	first := []fleet.Device{sensor("b", "Device B", ts(2*time.Hour))}
	second := []fleet.Device{sensor("b", "Device B", ts(time.Minute))}
	dir := &fakeDirectory{fn: func(call int) ([]fleet.Device, error) {
		if call == 1 {
			return first, nil
		}
		return second, nil
	}}
	m := newTestMonitor(dir, &fakeWriter{}, &fakeSink{}, Options{})

	report, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(report.Recovered) != 1 || report.Recovered[0].AfterWake {
		t.Fatalf("expected spontaneous recovery metadata, got %+v", report.Recovered)
	}
	if report.WokenAttempted != 0 {
		t.Fatalf("expected no wake attempts, got %d", report.WokenAttempted)
	}
}

func TestRunOnce_missingDeviceStaysFailing(t *testing.T) {
	first := []fleet.Device{sensor("gone", "Vanishing", ts(2*time.Hour))}
	dir := &fakeDirectory{fn: func(call int) ([]fleet.Device, error) {
		if call == 1 {
			return first, nil
		}
		return nil, nil
	}}
	m := newTestMonitor(dir, &fakeWriter{}, &fakeSink{}, Options{})

	report, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(report.Failing) != 1 || report.Failing[0].ID != "gone" {
		t.Fatalf("expected vanished device to stay failing, got %+v", report.Failing)
	}
}

func TestRunOnce_skipsDelayAndRefetchWhenAllFresh(t *testing.T) {
	dir := &fakeDirectory{fn: func(int) ([]fleet.Device, error) {
		return []fleet.Device{sensor("f1", "Fresh", ts(time.Minute))}, nil
	}}
	m := newTestMonitor(dir, &fakeWriter{}, &fakeSink{}, Options{WakeDelay: time.Hour})

	slept := false
	m.sleep = func(ctx context.Context, d time.Duration) error {
		slept = true
		return nil
	}

	report, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if slept {
		t.Fatalf("expected no validation delay for an all-fresh fleet")
	}
	if dir.calls != 1 {
		t.Fatalf("expected a single directory fetch, got %d", dir.calls)
	}
	if report.AnyFailing {
		t.Fatalf("expected any_failing=false")
	}
}

func TestRunOnce_validationDelayUsesConfiguredValue(t *testing.T) {
	dir := &fakeDirectory{fn: func(int) ([]fleet.Device, error) {
		return []fleet.Device{sensor("s1", "Stale", ts(2*time.Hour))}, nil
	}}
	m := newTestMonitor(dir, &fakeWriter{}, &fakeSink{}, Options{WakeDelay: 42 * time.Second})

	var got time.Duration
	m.sleep = func(ctx context.Context, d time.Duration) error {
		got = d
		return nil
	}

	if _, err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got != 42*time.Second {
		t.Fatalf("expected 42s delay, got %v", got)
	}
	if dir.calls != 2 {
		t.Fatalf("expected re-fetch after delay, got %d calls", dir.calls)
	}
}

func TestRunOnce_directoryErrorYieldsSentinelReport(t *testing.T) {
	dir := &fakeDirectory{fn: func(int) ([]fleet.Device, error) {
		return nil, errors.New("hub unreachable")
	}}
	sink := &fakeSink{}
	m := newTestMonitor(dir, &fakeWriter{}, sink, Options{})

	report, err := m.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected error for directory failure")
	}
	if report.OKCount != -1 || report.NOKCount != -1 {
		t.Fatalf("expected sentinel counts, got ok=%d nok=%d", report.OKCount, report.NOKCount)
	}
	if report.Error == "" {
		t.Fatalf("expected error message on report")
	}
	// The outbound contract still fires with defined values.
	if got := sink.get("fleet_ok"); got != -1 {
		t.Fatalf("expected fleet_ok=-1, got %v", got)
	}
	if got := sink.get("fleet_any_failing"); got != true {
		t.Fatalf("expected fleet_any_failing=true, got %v", got)
	}
}

func TestRunOnce_lowBattery(t *testing.T) {
	devices := []fleet.Device{
		func() fleet.Device {
			d := sensor("x", "Device X", ts(time.Minute))
			d.Capabilities = append(d.Capabilities, "measure_battery")
			d.Observations["measure_battery"] = fleet.CapabilityObservation{Value: 25.0, LastUpdated: ts(time.Minute)}
			return d
		}(),
		func() fleet.Device {
			d := sensor("y", "Device Y", ts(time.Minute))
			d.Capabilities = append(d.Capabilities, "alarm_battery")
			d.Observations["alarm_battery"] = fleet.CapabilityObservation{Value: true, LastUpdated: ts(time.Minute)}
			return d
		}(),
		func() fleet.Device {
			d := sensor("z", "Device Z", ts(time.Minute))
			d.Observations["measure_battery"] = fleet.CapabilityObservation{Value: 80.0, LastUpdated: ts(time.Minute)}
			return d
		}(),
	}
	dir := &fakeDirectory{fn: func(int) ([]fleet.Device, error) { return devices, nil }}
	sink := &fakeSink{}
	m := newTestMonitor(dir, &fakeWriter{}, sink, Options{
		BatteryThresholdPercent: 30,
		BatteryAlarmCountsAsLow: true,
	})

	report, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if report.LowBatteryCount != 2 {
		t.Fatalf("expected 2 low-battery devices, got %d: %+v", report.LowBatteryCount, report.LowBattery)
	}
	ids := map[string]bool{}
	for _, l := range report.LowBattery {
		ids[l.ID] = true
	}
	if !ids["x"] || !ids["y"] {
		t.Fatalf("expected x (percentage) and y (alarm), got %+v", report.LowBattery)
	}
	if got := sink.get("fleet_low_battery"); got != 2 {
		t.Fatalf("expected fleet_low_battery=2, got %v", got)
	}
}

func TestRunOnce_batteryAlarmIgnoredWhenNotConfigured(t *testing.T) {
	d := sensor("y", "Device Y", ts(time.Minute))
	d.Observations["alarm_battery"] = fleet.CapabilityObservation{Value: true, LastUpdated: ts(time.Minute)}
	dir := &fakeDirectory{fn: func(int) ([]fleet.Device, error) { return []fleet.Device{d}, nil }}
	m := newTestMonitor(dir, &fakeWriter{}, &fakeSink{}, Options{
		BatteryThresholdPercent: 30,
		BatteryAlarmCountsAsLow: false,
	})

	report, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if report.LowBatteryCount != 0 {
		t.Fatalf("expected no low-battery devices, got %+v", report.LowBattery)
	}
}

func TestTriggerRunAndLastReport(t *testing.T) {
	dir := &fakeDirectory{fn: func(int) ([]fleet.Device, error) { return nil, nil }}
	m := newTestMonitor(dir, &fakeWriter{}, &fakeSink{}, Options{})

	if _, ok := m.LastReport(); ok {
		t.Fatalf("expected no report before the first run")
	}
	if _, err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if _, ok := m.LastReport(); !ok {
		t.Fatalf("expected a stored report after a run")
	}

	if !m.TriggerRun() {
		t.Fatalf("expected first trigger to queue")
	}
	if m.TriggerRun() {
		t.Fatalf("expected second trigger to be rejected while one is queued")
	}
}

func TestWakeTarget_requiresKnownBooleanValue(t *testing.T) {
	d := sensor("s", "No toggle", ts(2*time.Hour))
	if _, ok := wakeTarget(&probe{device: d}); ok {
		t.Fatalf("device without the toggle capability must not be eligible")
	}

	d = pokeable("p", "Toggle", ts(2*time.Hour))
	d.Observations["onoff"] = fleet.CapabilityObservation{Value: nil}
	if _, ok := wakeTarget(&probe{device: d}); ok {
		t.Fatalf("device without a known toggle value must not be eligible")
	}

	d = pokeable("p", "Toggle", ts(2*time.Hour))
	v, ok := wakeTarget(&probe{device: d})
	if !ok || v != true {
		t.Fatalf("expected current value to be written back, got %v ok=%v", v, ok)
	}
}
