package auth

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRecorder receives authentication outcomes
type MetricsRecorder interface {
	RecordAuthentication(outcome string, source string)
	RecordSessionLookup(result string)
	RecordStoreRetry()
	RecordStoreLatency(d time.Duration)
	RecordDowngrade()
	RecordTokenIssued(kind TokenKind)
}

// Session lookup results
const (
	SessionHit   = "hit"
	SessionMiss  = "miss"
	SessionError = "error"
)

// OutcomeSuccess labels a resolved request; failures use the error kind.
const OutcomeSuccess = "success"

type noopMetrics struct{}

func (noopMetrics) RecordAuthentication(string, string) {}
func (noopMetrics) RecordSessionLookup(string)          {}
func (noopMetrics) RecordStoreRetry()                   {}
func (noopMetrics) RecordStoreLatency(time.Duration)    {}
func (noopMetrics) RecordDowngrade()                    {}
func (noopMetrics) RecordTokenIssued(TokenKind)         {}

// Collector is the prometheus MetricsRecorder
type Collector struct {
	authentications *prometheus.CounterVec
	sessionLookups  *prometheus.CounterVec
	storeRetries    prometheus.Counter
	storeLatency    prometheus.Histogram
	downgrades      prometheus.Counter
	tokensIssued    *prometheus.CounterVec
}

var _ MetricsRecorder = (*Collector)(nil)

// NewCollector creates a Collector and registers it with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authentications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gymauth_authentications_total",
			Help: "Authentication attempts by outcome and credential source",
		}, []string{"outcome", "source"}),
		sessionLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gymauth_session_lookups_total",
			Help: "Session cache lookups by result",
		}, []string{"result"}),
		storeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gymauth_store_retries_total",
			Help: "Credential store calls retried after a transient failure",
		}),
		storeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gymauth_store_latency_seconds",
			Help:    "Credential store call latency",
			Buckets: prometheus.DefBuckets,
		}),
		downgrades: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gymauth_member_downgrades_total",
			Help: "Expired members downgraded to non_member",
		}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gymauth_tokens_issued_total",
			Help: "Tokens issued by kind",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.authentications,
		c.sessionLookups,
		c.storeRetries,
		c.storeLatency,
		c.downgrades,
		c.tokensIssued,
	)

	return c
}

func (c *Collector) RecordAuthentication(outcome string, source string) {
	if source == "" {
		source = "none"
	}
	c.authentications.WithLabelValues(outcome, source).Inc()
}

func (c *Collector) RecordSessionLookup(result string) {
	c.sessionLookups.WithLabelValues(result).Inc()
}

func (c *Collector) RecordStoreRetry() {
	c.storeRetries.Inc()
}

func (c *Collector) RecordStoreLatency(d time.Duration) {
	c.storeLatency.Observe(d.Seconds())
}

func (c *Collector) RecordDowngrade() {
	c.downgrades.Inc()
}

func (c *Collector) RecordTokenIssued(kind TokenKind) {
	c.tokensIssued.WithLabelValues(string(kind)).Inc()
}

// MetricsHandler serves the scrape endpoint for gatherer
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
