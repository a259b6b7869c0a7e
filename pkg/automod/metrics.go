// Copyright 2024-2026 Aiku AI

package automod

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var deleteCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "channelguard_automod_deletions",
	Help: "Number of messages deleted by moderation policy",
}, []string{"mode"})

var dmFailureCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "channelguard_automod_dm_failures",
	Help: "Number of deletion notice DMs that could not be delivered",
})

var autoReactionCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "channelguard_automod_reactions",
	Help: "Number of auto-reactions applied",
})
