package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	ReadingsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "readings_submitted_total",
		Help: "Meter readings submitted by reading takers",
	})

	ReadingDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reading_decisions_total",
			Help: "Meter readings moved out of Pending, by outcome",
		},
		[]string{"outcome"},
	)

	StatementsGenerated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statements_generated_total",
		Help: "Tenant statements saved",
	})

	UpstreamFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_failures_total",
			Help: "Failed calls to document storage, pdf rendering, mail or field devices",
		},
		[]string{"dependency"},
	)
)

var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		RequestCounter,
		RequestDuration,
		ReadingsSubmitted,
		ReadingDecisions,
		StatementsGenerated,
		UpstreamFailures,
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
