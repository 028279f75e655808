package manager

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ttftSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "llmnode",
			Subsystem: "inference",
			Name:      "ttft_seconds",
			Help:      "Time to first generated token",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"engine_id"},
	)

	tokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmnode",
			Subsystem: "inference",
			Name:      "tokens_total",
			Help:      "Total generated tokens",
		},
		[]string{"engine_id"},
	)

	tokensPerSecond = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "llmnode",
			Subsystem: "inference",
			Name:      "tokens_per_second",
			Help:      "Generation throughput per call",
			Buckets:   []float64{1, 5, 10, 20, 40, 80, 160, 320},
		},
		[]string{"engine_id"},
	)

	admissionRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmnode",
			Subsystem: "admission",
			Name:      "rejections_total",
			Help:      "Requests rejected before reaching an engine",
		},
		[]string{"reason"},
	)

	engineFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmnode",
			Subsystem: "engine",
			Name:      "faults_total",
			Help:      "Engine calls that returned an error or panicked",
		},
		[]string{"engine_id"},
	)

	pluginRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmnode",
			Subsystem: "plugins",
			Name:      "restages_total",
			Help:      "Plugin directory restages by reason",
		},
		[]string{"reason"},
	)

	pluginSwaps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "llmnode",
		Subsystem: "plugins",
		Name:      "swaps_total",
		Help:      "Engines hot-swapped into the registry",
	})

	watchdogArms = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "llmnode",
		Subsystem: "engine",
		Name:      "watchdog_armed_total",
		Help:      "Engine calls guarded by an armed watchdog",
	})

	activeRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "llmnode",
		Subsystem: "inference",
		Name:      "active_requests",
		Help:      "Requests currently inside the orchestrator",
	})
)

func init() {
	prometheus.MustRegister(ttftSeconds, tokensTotal, tokensPerSecond, admissionRejections,
		engineFaults, pluginRestarts, pluginSwaps, watchdogArms, activeRequests)
}

// TokenMetrics describes one generation call.
type TokenMetrics struct {
	ModelID  string
	EngineID string
	Tokens   int
	// TTFT is zero when no token was produced.
	TTFT     time.Duration
	Duration time.Duration
	// TokensPerSecond is Tokens over Duration.
	TokensPerSecond float64
}

// tokenMeter collects per-token timestamps through InferParams.OnToken.
type tokenMeter struct {
	mu    sync.Mutex
	now   func() time.Time
	start time.Time
	first time.Time
	count int
}

func newTokenMeter(now func() time.Time) *tokenMeter {
	return &tokenMeter{now: now, start: now()}
}

func (t *tokenMeter) onToken(_ uint32, at time.Time) {
	if at.IsZero() {
		at = t.now()
	}
	t.mu.Lock()
	if t.count == 0 {
		t.first = at
	}
	t.count++
	t.mu.Unlock()
}

func (t *tokenMeter) finish(modelID, engineID string) TokenMetrics {
	end := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	tm := TokenMetrics{ModelID: modelID, EngineID: engineID, Tokens: t.count, Duration: end.Sub(t.start)}
	if t.count > 0 {
		tm.TTFT = t.first.Sub(t.start)
		if tm.TTFT < 0 {
			tm.TTFT = 0
		}
	}
	if secs := tm.Duration.Seconds(); secs > 0 {
		tm.TokensPerSecond = float64(t.count) / secs
	}
	return tm
}

func (m *Manager) recordTokens(tm TokenMetrics) {
	tokensTotal.WithLabelValues(tm.EngineID).Add(float64(tm.Tokens))
	if tm.Tokens > 0 {
		ttftSeconds.WithLabelValues(tm.EngineID).Observe(tm.TTFT.Seconds())
		tokensPerSecond.WithLabelValues(tm.EngineID).Observe(tm.TokensPerSecond)
	}
	m.log.Debug().
		Str("model", tm.ModelID).
		Str("engine_id", tm.EngineID).
		Int("tokens", tm.Tokens).
		Dur("ttft", tm.TTFT).
		Float64("tokens_per_sec", tm.TokensPerSecond).
		Msg("generation metrics")
	if m.tokenHook != nil {
		m.tokenHook(tm)
	}
}
