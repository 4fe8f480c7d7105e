// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package server

import (
	"context"

	"github.com/warden-dev/warden/internal/moderation"
	"github.com/warden-dev/warden/internal/rules"
	"github.com/warden-dev/warden/internal/scheduler"
	"github.com/warden-dev/warden/internal/store"
	"github.com/warden-dev/warden/pkg/types"
)

// RuleService is the rule management surface the server consumes.
type RuleService interface {
	AddRule(ctx context.Context, spec rules.AddSpec) (*rules.Rule, error)
	RemoveRule(ctx context.Context, id string) error
	ListRules(ctx context.Context, chatID string) []*rules.Rule
}

// StageController is the stage control surface the server consumes.
type StageController interface {
	StageStates() []scheduler.StageState
	PauseStage(id types.StageID, reason string) error
	ResumeStage(id types.StageID) error
}

// IncidentReader is the incident query surface the server consumes.
type IncidentReader interface {
	LoadIncidents(ctx context.Context, filter store.IncidentFilter) ([]*moderation.Incident, error)
}

// Services bundles the dependencies the REST routes call into.
type Services struct {
	Rules     RuleService
	Stages    StageController
	Incidents IncidentReader
}
