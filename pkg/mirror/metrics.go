// Copyright 2024-2026 Aiku AI

package mirror

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var fanoutCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "channelguard_mirror_operations",
	Help: "Number of mirror operations fanned out to destinations",
}, []string{"kind"})

var fanoutErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "channelguard_mirror_errors",
	Help: "Number of mirror operations that failed at a destination",
}, []string{"kind"})

var attachmentFallbackCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "channelguard_mirror_attachment_fallbacks",
	Help: "Number of times attachment delivery fell back to per-file or text-only",
})
