package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the decision pipeline.
// Register once at startup and share.
type Metrics struct {
	DecisionsTotal    *prometheus.CounterVec
	RiskScore         prometheus.Histogram
	ChallengesIssued  prometheus.Counter
	ChallengeOutcomes *prometheus.CounterVec
	GeoLookupFailures prometheus.Counter
	AuditWriteErrors  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ztverify",
			Name:      "decisions_total",
			Help:      "Login decisions by outcome.",
		}, []string{"decision"}),
		RiskScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ztverify",
			Name:      "risk_score",
			Help:      "Distribution of computed risk scores (0-100).",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		ChallengesIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ztverify",
			Name:      "challenges_issued_total",
			Help:      "OTP challenges successfully issued and delivered.",
		}),
		ChallengeOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ztverify",
			Name:      "challenge_verifications_total",
			Help:      "OTP verification attempts by outcome.",
		}, []string{"outcome"}),
		GeoLookupFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ztverify",
			Name:      "geo_lookup_failures_total",
			Help:      "Geolocation lookups that failed or timed out.",
		}),
		AuditWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ztverify",
			Name:      "audit_write_errors_total",
			Help:      "Audit log writes that failed and failed the request.",
		}),
	}
}
