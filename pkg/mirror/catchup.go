// Copyright 2024-2026 Aiku AI

package mirror

import (
	"context"
	"fmt"
)

// catchupPageSize is how many messages one history call fetches.
const catchupPageSize = 100

// Catchup replays historical messages in (from, to] through the new-message
// path in ascending order, for operator recovery after downtime. A zero to
// means "up to the present". Messages that were already mirrored produce
// duplicate destination posts; the operator picks from accordingly. Returns
// the number of messages processed.
func (e *Engine) Catchup(ctx context.Context, channelID, from, to int64) (int, error) {
	processed := 0
	after := from
	before := int64(0)
	if to != 0 {
		// History is exclusive of its upper bound; the catchup range includes to.
		before = to + 1
	}
	for {
		page, err := e.client.History(ctx, channelID, after, before, catchupPageSize)
		if err != nil {
			return processed, fmt.Errorf("failed to fetch history after %d: %w", after, err)
		}
		if len(page) == 0 {
			break
		}
		for _, msg := range page {
			if err := e.HandleMessage(ctx, msg); err != nil {
				e.log.Err(err).Int64("channel_id", channelID).Int64("message_id", msg.ID).
					Msg("Catchup message failed, continuing")
			}
			processed++
		}
		after = page[len(page)-1].ID
		if len(page) < catchupPageSize {
			break
		}
	}
	e.log.Info().Int64("channel_id", channelID).Int("messages", processed).Msg("Catchup complete")
	return processed, nil
}
