// Package metrics exposes Prometheus collectors for TrialConsent.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every TrialConsent metric. A nil *Collector is valid and
// records nothing, so components can be built without metrics in tests.
type Collector struct {
	submissionsTotal    *prometheus.CounterVec
	reviewDecisions     *prometheus.CounterVec
	chatResolutions     *prometheus.CounterVec
	speechRequests      *prometheus.CounterVec
	noticeAttempts      *prometheus.CounterVec
	activeFormSessions  prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector registers the collectors with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		submissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialconsent_submissions_total",
				Help: "Consent submissions by outcome",
			},
			[]string{"result"},
		),
		reviewDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialconsent_review_decisions_total",
				Help: "Administrative review decisions by resulting status",
			},
			[]string{"status"},
		),
		chatResolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialconsent_chat_resolutions_total",
				Help: "Assistant replies by context and resolution tier",
			},
			[]string{"context", "tier"},
		),
		speechRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialconsent_speech_requests_total",
				Help: "Speech synthesis requests by path taken",
			},
			[]string{"path"},
		),
		noticeAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialconsent_notice_attempts_total",
				Help: "Notification delivery attempts by kind and result",
			},
			[]string{"kind", "result"},
		),
		activeFormSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "trialconsent_form_sessions_active",
				Help: "Form sessions currently held in memory",
			},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialconsent_http_requests_total",
				Help: "HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "code"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trialconsent_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
			[]string{"route"},
		),
	}
}

// RecordSubmission counts a submission outcome: created, duplicate or failed.
func (c *Collector) RecordSubmission(result string) {
	if c == nil {
		return
	}
	c.submissionsTotal.WithLabelValues(result).Inc()
}

// RecordReviewDecision counts an approve or reject.
func (c *Collector) RecordReviewDecision(status string) {
	if c == nil {
		return
	}
	c.reviewDecisions.WithLabelValues(status).Inc()
}

// RecordChatResolution counts which tier answered a chat message.
func (c *Collector) RecordChatResolution(context, tier string) {
	if c == nil {
		return
	}
	c.chatResolutions.WithLabelValues(context, tier).Inc()
}

// RecordSpeech counts whether the primary synthesizer or the local fallback was used.
func (c *Collector) RecordSpeech(path string) {
	if c == nil {
		return
	}
	c.speechRequests.WithLabelValues(path).Inc()
}

// RecordNoticeAttempt counts one delivery attempt of a queued notice.
func (c *Collector) RecordNoticeAttempt(kind, result string) {
	if c == nil {
		return
	}
	c.noticeAttempts.WithLabelValues(kind, result).Inc()
}

// SetActiveFormSessions reports the number of in-memory form sessions.
func (c *Collector) SetActiveFormSessions(n int) {
	if c == nil {
		return
	}
	c.activeFormSessions.Set(float64(n))
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, route string, code int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.httpRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
