package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	monitorRunsTotal    prometheus.Counter
	monitorRunFailures  prometheus.Counter
	monitorRunDuration  prometheus.Histogram
	devicesFresh        prometheus.Gauge
	devicesFailing      prometheus.Gauge
	devicesLowBattery   prometheus.Gauge
	wakeAttemptsTotal   prometheus.Counter
	wakeSuccessesTotal  prometheus.Counter
}

// New creates a fresh Metrics registry with HTTP and monitor metrics
// registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetwatch",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by core-go",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fleetwatch",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by core-go",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	monitorRunsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetwatch",
		Name:      "monitor_runs_total",
		Help:      "Total number of monitoring runs executed",
	})

	monitorRunFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetwatch",
		Name:      "monitor_run_failures_total",
		Help:      "Monitoring runs that ended in a directory-fetch error",
	})

	monitorRunDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fleetwatch",
		Name:      "monitor_run_duration_seconds",
		Help:      "Duration of monitoring runs from start to finish",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})

	devicesFresh := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleetwatch",
		Name:      "devices_fresh",
		Help:      "Devices reporting within the freshness window after the last run",
	})

	devicesFailing := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleetwatch",
		Name:      "devices_failing",
		Help:      "Devices still failing after reconciliation in the last run",
	})

	devicesLowBattery := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleetwatch",
		Name:      "devices_low_battery",
		Help:      "Devices at or below the battery threshold after the last run",
	})

	wakeAttemptsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetwatch",
		Name:      "wake_attempts_total",
		Help:      "Corrective wake writes issued",
	})

	wakeSuccessesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetwatch",
		Name:      "wake_successes_total",
		Help:      "Corrective wake writes that succeeded",
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		monitorRunsTotal,
		monitorRunFailures,
		monitorRunDuration,
		devicesFresh,
		devicesFailing,
		devicesLowBattery,
		wakeAttemptsTotal,
		wakeSuccessesTotal,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		monitorRunsTotal:    monitorRunsTotal,
		monitorRunFailures:  monitorRunFailures,
		monitorRunDuration:  monitorRunDuration,
		devicesFresh:        devicesFresh,
		devicesFailing:      devicesFailing,
		devicesLowBattery:   devicesLowBattery,
		wakeAttemptsTotal:   wakeAttemptsTotal,
		wakeSuccessesTotal:  wakeSuccessesTotal,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// IncMonitorRun increments the monitor run counter.
func (m *Metrics) IncMonitorRun() {
	if m == nil {
		return
	}
	m.monitorRunsTotal.Inc()
}

// IncMonitorRunFailure counts a run that died on a directory fetch.
func (m *Metrics) IncMonitorRunFailure() {
	if m == nil {
		return
	}
	m.monitorRunFailures.Inc()
}

// ObserveMonitorRunDuration observes a monitoring run duration.
func (m *Metrics) ObserveMonitorRunDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.monitorRunDuration.Observe(duration.Seconds())
}

// SetFleetCounts publishes the reconciled per-run gauges.
func (m *Metrics) SetFleetCounts(fresh, failing, lowBattery int) {
	if m == nil {
		return
	}
	m.devicesFresh.Set(float64(fresh))
	m.devicesFailing.Set(float64(failing))
	m.devicesLowBattery.Set(float64(lowBattery))
}

// AddWakeResults accumulates wake fan-out outcomes.
func (m *Metrics) AddWakeResults(attempted, succeeded int) {
	if m == nil {
		return
	}
	m.wakeAttemptsTotal.Add(float64(attempted))
	m.wakeSuccessesTotal.Add(float64(succeeded))
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
