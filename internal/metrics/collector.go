package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mxverify/mxverify/internal/learning"
	"github.com/mxverify/mxverify/internal/probe"
)

// Collector exposes verification metrics on the Prometheus registry. It
// implements learning.SuggestionSink and the dispatcher's Observer so both
// can report without depending on this package's types.
type Collector struct {
	probesTotal       *prometheus.CounterVec
	probeDuration     *prometheus.HistogramVec
	rechecksTotal     *prometheus.CounterVec
	greylistsTotal    *prometheus.CounterVec
	blacklistsTotal   *prometheus.CounterVec
	suggestionsTotal  *prometheus.CounterVec
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	requestEmails     *prometheus.HistogramVec
	queueDepth        prometheus.Gauge
	mxResolutionTotal *prometheus.CounterVec
}

func NewCollector() *Collector {
	return newCollector(prometheus.DefaultRegisterer)
}

func newCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		probesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mxverify_probes_total",
				Help: "Total number of SMTP probes by organization and resulting status",
			},
			[]string{"organization", "status"},
		),

		probeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mxverify_probe_duration_seconds",
				Help:    "Duration of a single SMTP probe",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 15, 30},
			},
			[]string{"organization"},
		),

		rechecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mxverify_rechecks_total",
				Help: "Total number of anti-greylisting rechecks scheduled",
			},
			[]string{"organization"},
		),

		greylistsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mxverify_greylists_total",
				Help: "Total number of greylisting responses observed",
			},
			[]string{"organization"},
		),

		blacklistsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mxverify_blacklists_total",
				Help: "Total number of blocklist rejections observed",
			},
			[]string{"organization"},
		),

		suggestionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mxverify_learning_suggestions_total",
				Help: "Total profile change suggestions emitted by the learning store",
			},
			[]string{"direction"},
		),

		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mxverify_verification_requests_total",
				Help: "Total verification requests by final status",
			},
			[]string{"status"},
		),

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mxverify_verification_request_duration_seconds",
				Help:    "End-to-end time from dequeue to final status",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"status"},
		),

		requestEmails: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mxverify_verification_request_emails",
				Help:    "Number of emails per verification request",
				Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
			},
			[]string{"kind"},
		),

		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mxverify_queue_depth",
				Help: "Current number of jobs waiting in the verification queue",
			},
		),

		mxResolutionTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mxverify_mx_resolutions_total",
				Help: "Total MX resolutions by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// ProbeCompleted implements the dispatcher Observer. One call covers the
// counter, the duration histogram, and the greylist/blocklist tallies so the
// dispatcher reports each probe exactly once.
func (c *Collector) ProbeCompleted(organization string, status probe.Status, outcome *probe.Outcome, elapsed time.Duration) {
	c.probesTotal.With(prometheus.Labels{
		"organization": organization,
		"status":       string(status),
	}).Inc()
	c.probeDuration.With(prometheus.Labels{
		"organization": organization,
	}).Observe(elapsed.Seconds())

	if outcome == nil {
		return
	}
	if outcome.Greylisted {
		c.greylistsTotal.With(prometheus.Labels{"organization": organization}).Inc()
	}
	if outcome.Disabled {
		c.blacklistsTotal.With(prometheus.Labels{"organization": organization}).Inc()
	}
}

// RecheckScheduled implements the dispatcher Observer.
func (c *Collector) RecheckScheduled(organization string) {
	c.rechecksTotal.With(prometheus.Labels{
		"organization": organization,
	}).Inc()
}

// MXResolved implements the dispatcher Observer.
func (c *Collector) MXResolved(outcome string) {
	c.mxResolutionTotal.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// Suggest implements learning.SuggestionSink.
func (c *Collector) Suggest(s learning.Suggestion) {
	c.suggestionsTotal.With(prometheus.Labels{
		"direction": s.Direction,
	}).Inc()
}

func (c *Collector) RecordRequestFinished(status string, emails int, elapsed time.Duration) {
	c.requestsTotal.With(prometheus.Labels{"status": status}).Inc()
	c.requestDuration.With(prometheus.Labels{"status": status}).Observe(elapsed.Seconds())
	c.requestEmails.With(prometheus.Labels{"kind": "processed"}).Observe(float64(emails))
}

func (c *Collector) RecordRequestAccepted(emails int) {
	c.requestEmails.With(prometheus.Labels{"kind": "accepted"}).Observe(float64(emails))
}

func (c *Collector) SetQueueDepth(depth int64) {
	c.queueDepth.Set(float64(depth))
}
