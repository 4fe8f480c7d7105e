// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package rules holds the moderation rule model, the lock-free registry
// serving merged per-chat views to detectors, and the service that creates
// and removes rules through the persistence layer.
package rules

import (
	"time"

	"github.com/warden-dev/warden/pkg/types"
)

// Kind describes how a rule is matched by its stage.
type Kind string

const (
	// KindPattern rules carry a compiled detection pattern.
	KindPattern Kind = "pattern"
	// KindSemantic rules carry a classifier category label.
	KindSemantic Kind = "semantic"
	// KindContextual rules carry only the natural-language description,
	// interpreted by the contextual-reasoning stage.
	KindContextual Kind = "contextual"
)

// Origin records who created a rule.
type Origin string

const (
	OriginAdmin Origin = "admin"
	OriginAuto  Origin = "auto"
)

// DefaultMuteDuration applies when a mute rule carries no explicit
// duration. Bans without a duration are unbounded.
const DefaultMuteDuration = 15 * time.Minute

// Rule is one moderation rule. Immutable once created; removal is the only
// mutation, and it is explicit, never time-based.
type Rule struct {
	ID          string
	Description string
	Action      types.Action
	// Duration qualifies mute and ban actions. Zero means the default:
	// DefaultMuteDuration for mute, unbounded for ban.
	Duration time.Duration
	// ChatID scopes the rule to one chat; empty means global.
	ChatID   string
	Stage    types.StageID
	Kind     Kind
	Pattern  string
	Category string
	Severity types.Severity
	// SuppressesGlobal marks a chat-scoped rule that hides global rules of
	// the same category from this chat's effective view.
	SuppressesGlobal bool
	Origin           Origin
	CreatedAt        time.Time
	Metadata         map[string]string
}

// Global reports whether the rule applies to every chat.
func (r *Rule) Global() bool {
	return r.ChatID == ""
}

// EffectiveDuration resolves the zero-duration defaults for the rule's
// action. Unbounded bans return zero.
func (r *Rule) EffectiveDuration() time.Duration {
	if r.Duration > 0 {
		return r.Duration
	}
	if r.Action == types.ActionMute {
		return DefaultMuteDuration
	}
	return 0
}
