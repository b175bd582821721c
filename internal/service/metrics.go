package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vnml_sessions_in_memory",
		Help: "Sessions currently held in memory by the engine service.",
	})
	sessionsResumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vnml_sessions_resumed_total",
		Help: "Sessions restored from the turn store.",
	})
	turnsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vnml_turns_committed_total",
		Help: "Turns committed and persisted.",
	})
)
