// Package metrics holds the Prometheus collectors of the tavern process.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tavern"

// Metrics 汇总各服务使用的指标。所有方法对 nil 接收者安全。
type Metrics struct {
	generationRequests *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	generationTokens   *prometheus.CounterVec

	synthesisRequests   *prometheus.CounterVec
	synthesisCharacters prometheus.Counter
	cacheEntries        prometheus.Gauge

	playbackSessions *prometheus.CounterVec
	effectsPlayed    *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers every collector on reg. A nil reg uses a private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		generationRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Text generation requests by provider and status.",
		}, []string{"provider", "status"}),
		generationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Text generation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		generationTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_tokens_total",
			Help:      "Tokens reported by the text backend.",
		}, []string{"kind"}),
		synthesisRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_requests_total",
			Help:      "Speech synthesis lookups by result (hit, miss, error).",
		}, []string{"result"}),
		synthesisCharacters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_characters_total",
			Help:      "Characters sent to the speech backend.",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "synthesis_cache_entries",
			Help:      "Live entries in the speech audio cache.",
		}),
		playbackSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_sessions_total",
			Help:      "Speech playback sessions by outcome.",
		}, []string{"outcome"}),
		effectsPlayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "effects_played_total",
			Help:      "Sound cues started by key.",
		}, []string{"key"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.generationRequests, m.generationDuration, m.generationTokens,
		m.synthesisRequests, m.synthesisCharacters, m.cacheEntries,
		m.playbackSessions, m.effectsPlayed,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// ObserveGeneration records one text generation call.
func (m *Metrics) ObserveGeneration(provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.generationRequests.WithLabelValues(provider, status).Inc()
	m.generationDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// AddTokens records backend-reported token usage.
func (m *Metrics) AddTokens(prompt, completion int) {
	if m == nil {
		return
	}
	m.generationTokens.WithLabelValues("prompt").Add(float64(prompt))
	m.generationTokens.WithLabelValues("completion").Add(float64(completion))
}

// SynthesisLookup records a cache hit, miss or error.
func (m *Metrics) SynthesisLookup(result string) {
	if m == nil {
		return
	}
	m.synthesisRequests.WithLabelValues(result).Inc()
}

// AddSynthesisCharacters records characters sent to the speech backend.
func (m *Metrics) AddSynthesisCharacters(n int) {
	if m == nil {
		return
	}
	m.synthesisCharacters.Add(float64(n))
}

// SetCacheEntries sets the live cache size.
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(n))
}

// PlaybackEnded records how a speech session finished.
func (m *Metrics) PlaybackEnded(outcome string) {
	if m == nil {
		return
	}
	m.playbackSessions.WithLabelValues(outcome).Inc()
}

// EffectPlayed records a started cue.
func (m *Metrics) EffectPlayed(key string) {
	if m == nil {
		return
	}
	m.effectsPlayed.WithLabelValues(key).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
