// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package types

import "strings"

// Action is the moderation action a verdict or rule carries.
type Action string

const (
	ActionNone   Action = "none"
	ActionWarn   Action = "warn"
	ActionDelete Action = "delete"
	ActionMute   Action = "mute"
	ActionBan    Action = "ban"
)

// Valid reports whether a is a recognized moderation action.
func (a Action) Valid() bool {
	switch a {
	case ActionNone, ActionWarn, ActionDelete, ActionMute, ActionBan:
		return true
	default:
		return false
	}
}

// Decisive reports whether the action terminates stage evaluation for a
// message. ActionNone is the identity value and never short-circuits.
func (a Action) Decisive() bool {
	return a != ActionNone && a != ""
}

// ParseAction parses a case-insensitive string into an Action.
func ParseAction(s string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", false
	}
	return a, true
}
