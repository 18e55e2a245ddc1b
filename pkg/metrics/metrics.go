package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WatchStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hop_watch_started_total",
			Help: "Total number of transfer watches started by route",
		}, []string{"route"})

	WatchFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hop_watch_finished_total",
			Help: "Total number of transfer watches finished by route and outcome",
		}, []string{"route", "outcome"})

	PollIterations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hop_watch_poll_iterations_total",
			Help: "Total number of destination chain poll iterations by route",
		}, []string{"route"})

	WatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hop_watch_duration_seconds",
			Help:    "Time from watch start to its terminal state",
			Buckets: []float64{1, 10, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"route"})
)
