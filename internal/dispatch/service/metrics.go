package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_requests_total",
		Help: "Trip dispatch attempts grouped by outcome.",
	}, []string{"result"})

	dispatchRequestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_request_seconds",
		Help:    "Time spent running the dispatch transaction.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	completionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trip_completions_total",
		Help: "Trip completion attempts grouped by outcome.",
	}, []string{"result"})

	historyReadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "history_observations_total",
		Help: "Isolation harness runs grouped by mode.",
	}, []string{"mode"})
)
