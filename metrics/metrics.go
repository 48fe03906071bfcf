// Package metrics exposes studio loop and trigger counters to Prometheus.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry implements the observer interfaces of mixer, render, trigger and
// control.
type Registry struct {
	registry      *prometheus.Registry
	frameSeconds  prometheus.Histogram
	skipsTotal    *prometheus.CounterVec
	faultsTotal   *prometheus.CounterVec
	meterSeconds  prometheus.Histogram
	sources       prometheus.Gauge
	triggersTotal *prometheus.CounterVec
	programTotal  prometheus.Counter
	requestsTotal prometheus.Counter
	errorsTotal   prometheus.Counter

	mu          sync.Mutex
	programSeen int
}

func New() *Registry {
	registry := prometheus.NewRegistry()

	frameSeconds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "onair_render_tick_seconds",
		Help:    "Time spent composing one program frame",
		Buckets: []float64{.001, .0025, .005, .01, .02, .033, .05, .1},
	})
	skipsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "onair_render_skipped_total",
		Help: "Render ticks skipped, by reason",
	}, []string{"reason"})
	faultsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "onair_loop_faults_total",
		Help: "Loop ticks that failed and were skipped",
	}, []string{"loop"})
	meterSeconds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "onair_meter_tick_seconds",
		Help:    "Time spent computing one set of audio levels",
		Buckets: []float64{.0001, .0005, .001, .0025, .005, .01},
	})
	sources := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "onair_audio_sources",
		Help: "Audio sources in the mix",
	})
	triggersTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "onair_triggers_total",
		Help: "Trigger events dispatched, by kind and whether a binding consumed them",
	}, []string{"kind", "consumed"})
	programTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "onair_program_changes_total",
		Help: "Times the program composition changed",
	})
	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "onair_http_requests_total",
		Help: "Control API requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "onair_http_errors_total",
		Help: "Control API responses with status 4xx or 5xx",
	})

	registry.MustRegister(
		frameSeconds,
		skipsTotal,
		faultsTotal,
		meterSeconds,
		sources,
		triggersTotal,
		programTotal,
		requestsTotal,
		errorsTotal,
	)

	return &Registry{
		registry:      registry,
		frameSeconds:  frameSeconds,
		skipsTotal:    skipsTotal,
		faultsTotal:   faultsTotal,
		meterSeconds:  meterSeconds,
		sources:       sources,
		triggersTotal: triggersTotal,
		programTotal:  programTotal,
		requestsTotal: requestsTotal,
		errorsTotal:   errorsTotal,
	}
}

func (m *Registry) ObserveFrame(d time.Duration) {
	m.frameSeconds.Observe(d.Seconds())
}

func (m *Registry) ObserveSkip(reason string) {
	m.skipsTotal.WithLabelValues(reason).Inc()
}

func (m *Registry) ObserveFault(loop string) {
	m.faultsTotal.WithLabelValues(loop).Inc()
}

func (m *Registry) ObserveMeterTick(d time.Duration, sources int) {
	m.meterSeconds.Observe(d.Seconds())
	m.sources.Set(float64(sources))
}

func (m *Registry) ObserveTrigger(kind string, consumed bool) {
	c := "false"
	if consumed {
		c = "true"
	}
	m.triggersTotal.WithLabelValues(kind, c).Inc()
}

// SetProgramChanges syncs the program change counter with the engine's
// running total. Counters only move forward, so a lower n is ignored.
func (m *Registry) SetProgramChanges(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > m.programSeen {
		m.programTotal.Add(float64(n - m.programSeen))
		m.programSeen = n
	}
}

func (m *Registry) IncRequests() { m.requestsTotal.Inc() }

func (m *Registry) IncErrors() { m.errorsTotal.Inc() }

// Handler serves the registry. refresh runs before each scrape to update
// values that are pulled rather than pushed.
func (m *Registry) Handler(refresh func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if refresh != nil {
			refresh()
		}
		h.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}

// RequestMiddleware counts control API requests and error responses.
func RequestMiddleware(m *Registry) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrap := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrap, r)
			m.IncRequests()
			if wrap.status >= 400 {
				m.IncErrors()
			}
		})
	}
}
