package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the Prometheus instruments of the chat backend.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RetrievalLatency   prometheus.Histogram
	CandidatesScanned  prometheus.Histogram
	MemoriesInjected   prometheus.Histogram
	CompletionLatency  prometheus.Histogram
	ChatRequests       *prometheus.CounterVec
	EmbeddingsBackfill prometheus.Counter
}

func New(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RetrievalLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_retrieval_latency_ms",
			Help:      "Latency of a memory retrieval in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		CandidatesScanned: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_candidates_scanned",
			Help:      "User turns scored per retrieval.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		MemoriesInjected: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memories_injected",
			Help:      "Memories injected into an assembled prompt.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10},
		}),
		CompletionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_ms",
			Help:      "Latency of the language-model call in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		}),
		ChatRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat requests by outcome.",
		}, []string{"outcome"}),
		EmbeddingsBackfill: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embeddings_backfilled_total",
			Help:      "User turns whose embedding was recomputed by the batch job.",
		}),
	}
}

func (m *Metrics) ObserveRetrieval(d time.Duration, candidates int) {
	if m == nil {
		return
	}
	m.RetrievalLatency.Observe(float64(d.Microseconds()) / 1000)
	m.CandidatesScanned.Observe(float64(candidates))
}

func (m *Metrics) ObserveInjected(n int) {
	if m == nil {
		return
	}
	m.MemoriesInjected.Observe(float64(n))
}

func (m *Metrics) ObserveCompletion(d time.Duration) {
	if m == nil {
		return
	}
	m.CompletionLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) IncChat(outcome string) {
	if m == nil {
		return
	}
	m.ChatRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddBackfilled(n int) {
	if m == nil {
		return
	}
	m.EmbeddingsBackfill.Add(float64(n))
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
