// Copyright 2024-2026 Aiku AI

package watchdog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var alertCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "channelguard_watchdog_alerts",
	Help: "Number of watchdog alerts posted",
}, []string{"track"})
