// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/warden-dev/warden/internal/moderation"
	"github.com/warden-dev/warden/internal/rules"
	"github.com/warden-dev/warden/internal/scheduler"
	"github.com/warden-dev/warden/internal/store"
	wardenerr "github.com/warden-dev/warden/pkg/errors"
	"github.com/warden-dev/warden/pkg/types"
)

// RegisterServices sets the service dependencies and registers REST routes.
func (s *Server) RegisterServices(svc *Services) {
	s.services = svc
	s.registerRoutes()
}

func (s *Server) registerRoutes() {
	// Rule endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/api/v1/rules",
		Summary:     "List rules",
		Tags:        []string{"rules"},
	}, s.handleListRules)

	huma.Register(s.api, huma.Operation{
		OperationID:   "add-rule",
		Method:        http.MethodPost,
		Path:          "/api/v1/rules",
		Summary:       "Add a rule",
		Tags:          []string{"rules"},
		DefaultStatus: http.StatusCreated,
	}, s.handleAddRule)

	huma.Register(s.api, huma.Operation{
		OperationID: "remove-rule",
		Method:      http.MethodDelete,
		Path:        "/api/v1/rules/{id}",
		Summary:     "Remove a rule",
		Tags:        []string{"rules"},
	}, s.handleRemoveRule)

	// Stage endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "list-stages",
		Method:      http.MethodGet,
		Path:        "/api/v1/stages",
		Summary:     "List detector stage states",
		Tags:        []string{"stages"},
	}, s.handleListStages)

	huma.Register(s.api, huma.Operation{
		OperationID: "pause-stage",
		Method:      http.MethodPost,
		Path:        "/api/v1/stages/{stage}/pause",
		Summary:     "Pause a detector stage",
		Tags:        []string{"stages"},
	}, s.handlePauseStage)

	huma.Register(s.api, huma.Operation{
		OperationID: "resume-stage",
		Method:      http.MethodPost,
		Path:        "/api/v1/stages/{stage}/resume",
		Summary:     "Resume a detector stage",
		Tags:        []string{"stages"},
	}, s.handleResumeStage)

	// Incident endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "list-incidents",
		Method:      http.MethodGet,
		Path:        "/api/v1/incidents",
		Summary:     "List enforcement incidents",
		Tags:        []string{"incidents"},
	}, s.handleListIncidents)
}

// RuleBody is the JSON representation of a rule.
type RuleBody struct {
	ID               string    `json:"id"`
	Description      string    `json:"description"`
	Action           string    `json:"action"`
	DurationSeconds  int64     `json:"duration_seconds,omitempty"`
	ChatID           string    `json:"chat_id,omitempty"`
	Stage            string    `json:"stage"`
	Kind             string    `json:"kind"`
	Pattern          string    `json:"pattern,omitempty"`
	Category         string    `json:"category,omitempty"`
	Severity         int       `json:"severity"`
	SuppressesGlobal bool      `json:"suppresses_global,omitempty"`
	Origin           string    `json:"origin"`
	CreatedAt        time.Time `json:"created_at"`
}

func ruleBody(r *rules.Rule) RuleBody {
	return RuleBody{
		ID:               r.ID,
		Description:      r.Description,
		Action:           string(r.Action),
		DurationSeconds:  int64(r.Duration / time.Second),
		ChatID:           r.ChatID,
		Stage:            string(r.Stage),
		Kind:             string(r.Kind),
		Pattern:          r.Pattern,
		Category:         r.Category,
		Severity:         int(r.Severity),
		SuppressesGlobal: r.SuppressesGlobal,
		Origin:           string(r.Origin),
		CreatedAt:        r.CreatedAt,
	}
}

type listRulesInput struct {
	ChatID string `query:"chat_id" doc:"Return the effective rule view for this chat; empty lists every rule"`
}
type listRulesOutput struct {
	Body struct {
		Rules []RuleBody `json:"rules"`
	}
}

func (s *Server) handleListRules(ctx context.Context, input *listRulesInput) (*listRulesOutput, error) {
	listed := s.services.Rules.ListRules(ctx, input.ChatID)
	out := &listRulesOutput{}
	out.Body.Rules = make([]RuleBody, 0, len(listed))
	for _, r := range listed {
		out.Body.Rules = append(out.Body.Rules, ruleBody(r))
	}
	return out, nil
}

type addRuleInput struct {
	Body struct {
		Description      string `json:"description" doc:"Natural-language rule description"`
		Action           string `json:"action" enum:"warn,delete,mute,ban"`
		DurationSeconds  int64  `json:"duration_seconds,omitempty" doc:"Mute or ban duration; 0 applies the action default"`
		ChatID           string `json:"chat_id,omitempty" doc:"Empty makes the rule global"`
		Stage            string `json:"stage,omitempty" enum:",pattern,classifier,contextual" doc:"Detector override; empty lets classification route the rule"`
		Pattern          string `json:"pattern,omitempty"`
		Category         string `json:"category,omitempty"`
		SuppressesGlobal bool   `json:"suppresses_global,omitempty"`
	}
}
type addRuleOutput struct {
	Body RuleBody
}

func (s *Server) handleAddRule(ctx context.Context, input *addRuleInput) (*addRuleOutput, error) {
	action, ok := types.ParseAction(input.Body.Action)
	if !ok {
		return nil, huma.Error422UnprocessableEntity(fmt.Sprintf("unknown action %q", input.Body.Action))
	}
	spec := rules.AddSpec{
		Description:      input.Body.Description,
		Action:           action,
		Duration:         time.Duration(input.Body.DurationSeconds) * time.Second,
		ChatID:           input.Body.ChatID,
		Origin:           rules.OriginAdmin,
		SuppressesGlobal: input.Body.SuppressesGlobal,
		Pattern:          input.Body.Pattern,
		Category:         input.Body.Category,
	}
	if input.Body.Stage != "" {
		id, ok := types.ParseStageID(input.Body.Stage)
		if !ok {
			return nil, huma.Error422UnprocessableEntity(fmt.Sprintf("unknown stage %q", input.Body.Stage))
		}
		spec.Stage = id
	}

	rule, err := s.services.Rules.AddRule(ctx, spec)
	if err != nil {
		if wardenerr.IsInvalidInput(err) {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
		return nil, huma.Error500InternalServerError("adding rule", err)
	}
	return &addRuleOutput{Body: ruleBody(rule)}, nil
}

type removeRuleInput struct {
	ID string `path:"id"`
}
type removeRuleOutput struct {
	Body struct {
		Removed string `json:"removed"`
	}
}

func (s *Server) handleRemoveRule(ctx context.Context, input *removeRuleInput) (*removeRuleOutput, error) {
	if err := s.services.Rules.RemoveRule(ctx, input.ID); err != nil {
		if wardenerr.IsNotFound(err) {
			return nil, huma.Error404NotFound(fmt.Sprintf("rule %q not found", input.ID))
		}
		return nil, huma.Error500InternalServerError("removing rule", err)
	}
	out := &removeRuleOutput{}
	out.Body.Removed = input.ID
	return out, nil
}

type listStagesOutput struct {
	Body struct {
		Stages []scheduler.StageState `json:"stages"`
	}
}

func (s *Server) handleListStages(_ context.Context, _ *struct{}) (*listStagesOutput, error) {
	out := &listStagesOutput{}
	out.Body.Stages = s.services.Stages.StageStates()
	return out, nil
}

type pauseStageInput struct {
	Stage string `path:"stage"`
	Body  struct {
		Reason string `json:"reason,omitempty"`
	}
}
type stageActionOutput struct {
	Body struct {
		Stage  string `json:"stage"`
		Status string `json:"status"`
	}
}

func (s *Server) handlePauseStage(_ context.Context, input *pauseStageInput) (*stageActionOutput, error) {
	id, ok := types.ParseStageID(input.Stage)
	if !ok {
		return nil, huma.Error404NotFound(fmt.Sprintf("stage %q not found", input.Stage))
	}
	reason := input.Body.Reason
	if reason == "" {
		reason = "paused by operator"
	}
	if err := s.services.Stages.PauseStage(id, reason); err != nil {
		if wardenerr.IsNotFound(err) {
			return nil, huma.Error404NotFound(err.Error())
		}
		return nil, huma.Error500InternalServerError("pausing stage", err)
	}
	out := &stageActionOutput{}
	out.Body.Stage = string(id)
	out.Body.Status = string(types.StagePaused)
	return out, nil
}

type resumeStageInput struct {
	Stage string `path:"stage"`
}

func (s *Server) handleResumeStage(_ context.Context, input *resumeStageInput) (*stageActionOutput, error) {
	id, ok := types.ParseStageID(input.Stage)
	if !ok {
		return nil, huma.Error404NotFound(fmt.Sprintf("stage %q not found", input.Stage))
	}
	if err := s.services.Stages.ResumeStage(id); err != nil {
		if wardenerr.IsNotFound(err) {
			return nil, huma.Error404NotFound(err.Error())
		}
		if wardenerr.HasCode(err, wardenerr.CodeStageTransitionInvalid) {
			return nil, huma.Error409Conflict(err.Error())
		}
		return nil, huma.Error500InternalServerError("resuming stage", err)
	}
	out := &stageActionOutput{}
	out.Body.Stage = string(id)
	out.Body.Status = string(types.StageActive)
	return out, nil
}

// IncidentBody is the JSON representation of an incident.
type IncidentBody struct {
	ID         string    `json:"id"`
	RuleID     string    `json:"rule_id,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	Action     string    `json:"action"`
	Severity   int       `json:"severity"`
	ChatID     string    `json:"chat_id"`
	UserID     string    `json:"user_id"`
	MessageID  string    `json:"message_id"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func incidentBody(inc *moderation.Incident) IncidentBody {
	return IncidentBody{
		ID:         inc.ID,
		RuleID:     inc.RuleID,
		Stage:      string(inc.Stage),
		Action:     string(inc.Action),
		Severity:   int(inc.Severity),
		ChatID:     inc.ChatID,
		UserID:     inc.UserID,
		MessageID:  inc.MessageID,
		Reason:     inc.Reason,
		OccurredAt: inc.OccurredAt,
	}
}

type listIncidentsInput struct {
	ChatID string    `query:"chat_id"`
	UserID string    `query:"user_id"`
	Action string    `query:"action"`
	Since  time.Time `query:"since"`
	Limit  int       `query:"limit" minimum:"0" maximum:"1000"`
}
type listIncidentsOutput struct {
	Body struct {
		Incidents []IncidentBody `json:"incidents"`
	}
}

func (s *Server) handleListIncidents(ctx context.Context, input *listIncidentsInput) (*listIncidentsOutput, error) {
	filter := store.IncidentFilter{
		ChatID: input.ChatID,
		UserID: input.UserID,
		Since:  input.Since,
		Limit:  input.Limit,
	}
	if input.Action != "" {
		action, ok := types.ParseAction(input.Action)
		if !ok {
			return nil, huma.Error422UnprocessableEntity(fmt.Sprintf("unknown action %q", input.Action))
		}
		filter.Action = action
	}

	incidents, err := s.services.Incidents.LoadIncidents(ctx, filter)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing incidents", err)
	}
	out := &listIncidentsOutput{}
	out.Body.Incidents = make([]IncidentBody, 0, len(incidents))
	for _, inc := range incidents {
		out.Body.Incidents = append(out.Body.Incidents, incidentBody(inc))
	}
	return out, nil
}
