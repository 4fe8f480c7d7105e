// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package store defines the persistence interface consumed by the rule
// service and the scheduler. The core never assumes a storage technology
// beyond these operations; backends register themselves by name.
package store

import (
	"context"
	"time"

	"github.com/warden-dev/warden/internal/moderation"
	"github.com/warden-dev/warden/internal/rules"
	"github.com/warden-dev/warden/pkg/types"
)

// RuleStore persists moderation rules. SaveRule happens before the
// registry publishes the in-memory view, so a crash between the two leaves
// storage ahead of the cache, never behind it; startup rebuilds the cache
// from LoadRules.
type RuleStore interface {
	SaveRule(ctx context.Context, rule *rules.Rule) error
	DeleteRule(ctx context.Context, id string) error
	LoadRules(ctx context.Context) ([]*rules.Rule, error)
}

// IncidentStore persists the audit trail of enforced decisions.
type IncidentStore interface {
	SaveIncident(ctx context.Context, incident *moderation.Incident) error
	LoadIncidents(ctx context.Context, filter IncidentFilter) ([]*moderation.Incident, error)
}

// Store is the combined persistence interface.
type Store interface {
	RuleStore
	IncidentStore
	Close() error
}

// IncidentFilter narrows LoadIncidents. Zero values mean "any".
type IncidentFilter struct {
	ChatID string
	UserID string
	Action types.Action
	Since  time.Time
	Limit  int
}
