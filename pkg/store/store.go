// Copyright 2024-2026 Aiku AI

// Package store defines the durable configuration boundary. State is
// namespaced per guild, channel, or user and addressed by a string key; the
// Update operation serializes concurrent read-modify-write cycles of the same
// key, which the mirror engine relies on for its link table.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrBusy is returned when the backing store cannot take a write right now.
// Callers treat it as transient; UpdateWithRetry handles the backoff.
var ErrBusy = errors.New("store: busy")

// ScopeKind selects the namespace of a scope.
type ScopeKind string

const (
	ScopeGuild   ScopeKind = "guild"
	ScopeChannel ScopeKind = "channel"
	ScopeUser    ScopeKind = "user"
)

// Scope addresses one namespace instance.
type Scope struct {
	Kind ScopeKind
	ID   int64
}

// GuildScope is shorthand for a guild-namespaced scope.
func GuildScope(id int64) Scope { return Scope{Kind: ScopeGuild, ID: id} }

// ChannelScope is shorthand for a channel-namespaced scope.
func ChannelScope(id int64) Scope { return Scope{Kind: ScopeChannel, ID: id} }

// UserScope is shorthand for a user-namespaced scope.
func UserScope(id int64) Scope { return Scope{Kind: ScopeUser, ID: id} }

// Store is the persistence interface the core consumes. Values are JSON
// documents; Get returns nil with no error for missing keys.
type Store interface {
	Get(ctx context.Context, scope Scope, key string) (json.RawMessage, error)
	Set(ctx context.Context, scope Scope, key string, value any) error
	// Update runs fn under a per-(scope, key) write lock. fn receives the
	// current value (nil if unset) and returns the replacement; returning an
	// error aborts without writing.
	Update(ctx context.Context, scope Scope, key string, fn func(raw json.RawMessage) (any, error)) error
	// AllChannels returns the stored value of key for every channel scope
	// that has one.
	AllChannels(ctx context.Context, key string) (map[int64]json.RawMessage, error)
}

// GetJSON loads and unmarshals a value. The bool reports whether the key was
// set.
func GetJSON[T any](ctx context.Context, s Store, scope Scope, key string) (T, bool, error) {
	var out T
	raw, err := s.Get(ctx, scope, key)
	if err != nil {
		return out, false, err
	}
	if raw == nil {
		return out, false, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, err
	}
	return out, true, nil
}

// UpdateJSON is Update with typed unmarshal/marshal around fn. Missing keys
// hand fn the zero value.
func UpdateJSON[T any](ctx context.Context, s Store, scope Scope, key string, fn func(cur T) (T, error)) error {
	return s.Update(ctx, scope, key, func(raw json.RawMessage) (any, error) {
		var cur T
		if raw != nil {
			if err := json.Unmarshal(raw, &cur); err != nil {
				return nil, err
			}
		}
		return fn(cur)
	})
}

// maxBusyBackoff caps the ErrBusy retry delay.
const maxBusyBackoff = time.Second

// UpdateWithRetry retries Update on ErrBusy with exponential backoff up to
// maxBusyBackoff per attempt, five attempts total.
func UpdateWithRetry(ctx context.Context, s Store, scope Scope, key string, fn func(raw json.RawMessage) (any, error)) error {
	delay := 25 * time.Millisecond
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = s.Update(ctx, scope, key, fn)
		if !errors.Is(err, ErrBusy) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxBusyBackoff {
			delay = maxBusyBackoff
		}
	}
	return err
}
