// Copyright 2024-2026 Aiku AI

package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "channelguard_dispatch_events",
	Help: "Number of gateway events routed through the dispatcher",
}, []string{"kind"})

var panicCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "channelguard_dispatch_panics",
	Help: "Number of handler panics recovered by the dispatcher",
})

var queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "channelguard_dispatch_queue_depth",
	Help: "Events queued across all channel workers",
})
