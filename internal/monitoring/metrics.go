package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	AuthorityRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fiscal_authority_requests_total",
			Help: "Total number of tax authority API calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	AuthorityRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fiscal_authority_request_duration_seconds",
			Help:    "Duration of tax authority API calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"operation"},
	)
	SubmissionStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fiscal_submissions_total",
			Help: "Total number of submission status changes by kind and status",
		},
		[]string{"kind", "status"},
	)
	TokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fiscal_token_refreshes_total",
			Help: "Total number of access token refreshes by outcome",
		},
		[]string{"outcome"},
	)
	SchedulerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fiscal_scheduler_runs_total",
			Help: "Total number of background job runs by job",
		},
		[]string{"job"},
	)
	UnmappedAuthorityStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fiscal_unmapped_authority_status_total",
			Help: "Authority status strings missing from the lookup table",
		},
		[]string{"status"},
	)
	RPCRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fiscal_rpc_requests_total",
			Help: "Total number of gRPC calls by method and status code",
		},
		[]string{"method", "code"},
	)
	RateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fiscal_rate_limit_rejections_total",
			Help: "Total number of calls refused by the local rate limiter",
		},
		[]string{"integration", "operation"},
	)
)

func InitMetrics() {
	for name, c := range map[string]prometheus.Collector{
		"AuthorityRequests":        AuthorityRequests,
		"AuthorityRequestDuration": AuthorityRequestDuration,
		"SubmissionStatus":         SubmissionStatus,
		"TokenRefreshes":           TokenRefreshes,
		"SchedulerRuns":            SchedulerRuns,
		"UnmappedAuthorityStatus":  UnmappedAuthorityStatus,
		"RateLimitRejections":      RateLimitRejections,
		"RPCRequests":              RPCRequests,
	} {
		if err := prometheus.Register(c); err != nil {
			log.Error().Err(err).Msgf("Failed to register %s metric", name)
		}
	}
}
