package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cald_commands_total",
		Help: "Cumulative number of command channel messages, by opcode and outcome.",
	}, []string{"op", "outcome"})
	persistSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cald_persist_seconds",
		Help:    "Duration of backing file rewrites.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
	storeEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cald_store_events",
		Help: "Number of events currently held by the store.",
	})
)
