// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warden-dev/warden/internal/moderation"
	"github.com/warden-dev/warden/internal/rules"
	wardenerr "github.com/warden-dev/warden/pkg/errors"
)

func init() {
	RegisterBackend("memory", func(string) (Store, error) {
		return NewMemoryStore(), nil
	})
}

// MemoryStore is a goroutine-safe in-process Store used by tests and by
// ephemeral deployments that do not need a durable audit trail.
type MemoryStore struct {
	mu        sync.RWMutex
	rules     map[string]*rules.Rule
	incidents []*moderation.Incident
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: map[string]*rules.Rule{}}
}

func (m *MemoryStore) SaveRule(_ context.Context, rule *rules.Rule) error {
	if rule == nil || rule.ID == "" {
		return wardenerr.New(wardenerr.CodeStoreInvalidInput, "rule must have an id")
	}
	m.mu.Lock()
	m.rules[rule.ID] = rule
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteRule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return wardenerr.New(wardenerr.CodeStoreRuleNotFound, "rule not found",
			wardenerr.FieldRuleID(id))
	}
	delete(m.rules, id)
	return nil
}

func (m *MemoryStore) LoadRules(_ context.Context) ([]*rules.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*rules.Rule, 0, len(m.rules))
	for _, rule := range m.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) SaveIncident(_ context.Context, incident *moderation.Incident) error {
	if incident == nil || incident.ID == "" {
		return wardenerr.New(wardenerr.CodeStoreInvalidInput, "incident must have an id")
	}
	m.mu.Lock()
	m.incidents = append(m.incidents, incident)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) LoadIncidents(_ context.Context, filter IncidentFilter) ([]*moderation.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*moderation.Incident
	for _, inc := range m.incidents {
		if filter.ChatID != "" && inc.ChatID != filter.ChatID {
			continue
		}
		if filter.UserID != "" && inc.UserID != filter.UserID {
			continue
		}
		if filter.Action != "" && inc.Action != filter.Action {
			continue
		}
		if !filter.Since.IsZero() && inc.OccurredAt.Before(filter.Since) {
			continue
		}
		out = append(out, inc)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Incidents returns a copy of every stored incident, newest last.
func (m *MemoryStore) Incidents() []*moderation.Incident {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*moderation.Incident(nil), m.incidents...)
}

func (m *MemoryStore) Close() error { return nil }
