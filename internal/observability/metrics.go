package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce         sync.Once
	httpRequestsTotal    *prometheus.CounterVec
	httpLatencySeconds   *prometheus.HistogramVec
	httpErrorsTotal      *prometheus.CounterVec
	attemptsCompleted    *prometheus.CounterVec
	answersFlagged       *prometheus.CounterVec
	masteryRecomputes    *prometheus.CounterVec
	submissionsCompleted *prometheus.CounterVec
	eventsPublishedTotal *prometheus.CounterVec
	masteryCacheLookups  *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API and the assessment engine.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gema_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_http_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		attemptsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_attempts_completed_total",
			Help: "Test attempts that reached COMPLETED.",
		}, []string{"purpose", "passed"})

		answersFlagged = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_answers_flagged_total",
			Help: "Homework answers routed to teacher review.",
		}, []string{"reason"})

		masteryRecomputes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_mastery_recomputes_total",
			Help: "Mastery rows recomputed from history.",
		}, []string{"scope"})

		submissionsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_task_submissions_completed_total",
			Help: "Homework task submissions completed, by terminal status and lateness.",
		}, []string{"status", "late"})

		eventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_events_published_total",
			Help: "Domain events published per transport.",
		}, []string{"type", "transport"})

		masteryCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_mastery_cache_lookups_total",
			Help: "Mastery overview cache lookups by result.",
		}, []string{"result"})

		prometheus.MustRegister(
			httpRequestsTotal, httpLatencySeconds, httpErrorsTotal,
			attemptsCompleted, answersFlagged, masteryRecomputes,
			submissionsCompleted, eventsPublishedTotal, masteryCacheLookups,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// AttemptsCompleted counts completed test attempts.
func AttemptsCompleted() *prometheus.CounterVec {
	RegisterMetrics()
	return attemptsCompleted
}

// AnswersFlagged counts answers that need a teacher.
func AnswersFlagged() *prometheus.CounterVec {
	RegisterMetrics()
	return answersFlagged
}

// MasteryRecomputes counts paragraph and chapter recomputations.
func MasteryRecomputes() *prometheus.CounterVec {
	RegisterMetrics()
	return masteryRecomputes
}

// SubmissionsCompleted counts completed homework task submissions.
func SubmissionsCompleted() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsCompleted
}

// EventsPublished counts published domain events.
func EventsPublished() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsPublishedTotal
}

// MasteryCacheLookups counts overview cache hits and misses.
func MasteryCacheLookups() *prometheus.CounterVec {
	RegisterMetrics()
	return masteryCacheLookups
}
