// Copyright 2024-2026 Aiku AI

package gateway

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

// DefaultNotifyWindow is how long a notice key suppresses repeats.
const DefaultNotifyWindow = 10 * time.Minute

// Notifier sends direct messages with repeat suppression: the same key is
// delivered at most once per window. Used for destination onboarding DMs so
// a misconfigured mirror does not spam a guild owner on every event.
type Notifier struct {
	client Client
	seen   *expirable.LRU[string, struct{}]
	log    zerolog.Logger
}

// NewNotifier creates a Notifier. A non-positive window uses
// DefaultNotifyWindow.
func NewNotifier(client Client, window time.Duration, log zerolog.Logger) *Notifier {
	if window <= 0 {
		window = DefaultNotifyWindow
	}
	return &Notifier{
		client: client,
		seen:   expirable.NewLRU[string, struct{}](1024, nil, window),
		log:    log.With().Str("component", "notifier").Logger(),
	}
}

// DMOnce sends body to the user's DM channel unless the key fired within the
// suppression window. Delivery failures are logged, never propagated.
func (n *Notifier) DMOnce(ctx context.Context, userID int64, key, body string) {
	if _, dup := n.seen.Get(key); dup {
		return
	}
	n.seen.Add(key, struct{}{})

	dmChannel, err := n.client.OpenDM(ctx, userID)
	if err != nil {
		n.log.Warn().Err(err).Int64("user_id", userID).Str("key", key).
			Msg("Failed to open DM channel for notice")
		return
	}
	if _, err := n.client.Send(ctx, dmChannel, SendRequest{Body: body}); err != nil {
		n.log.Warn().Err(err).Int64("user_id", userID).Str("key", key).
			Msg("Failed to deliver notice DM")
	}
}
