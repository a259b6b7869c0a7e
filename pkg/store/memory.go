// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory is a Store kept entirely in process memory. Tests and the replay
// harness use it; the binary uses SQLite.
type Memory struct {
	mu   sync.Mutex
	data map[Scope]map[string]json.RawMessage
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[Scope]map[string]json.RawMessage)}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Get(_ context.Context, scope Scope, key string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[scope][key]
	if !ok {
		return nil, nil
	}
	cp := make(json.RawMessage, len(raw))
	copy(cp, raw)
	return cp, nil
}

func (m *Memory) Set(_ context.Context, scope Scope, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(scope, key, raw)
	return nil
}

func (m *Memory) setLocked(scope Scope, key string, raw json.RawMessage) {
	if m.data[scope] == nil {
		m.data[scope] = make(map[string]json.RawMessage)
	}
	m.data[scope][key] = raw
}

func (m *Memory) Update(_ context.Context, scope Scope, key string, fn func(raw json.RawMessage) (any, error)) error {
	// The single mutex covers the whole read-modify-write, which satisfies
	// the per-key serialization contract.
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.data[scope][key]
	next, err := fn(cur)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return err
	}
	m.setLocked(scope, key, raw)
	return nil
}

func (m *Memory) AllChannels(_ context.Context, key string) (map[int64]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]json.RawMessage)
	for scope, keys := range m.data {
		if scope.Kind != ScopeChannel {
			continue
		}
		if raw, ok := keys[key]; ok {
			cp := make(json.RawMessage, len(raw))
			copy(cp, raw)
			out[scope.ID] = cp
		}
	}
	return out, nil
}
