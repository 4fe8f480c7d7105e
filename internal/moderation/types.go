// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package moderation holds the domain entities that flow through the
// batching, pipeline, and scheduling layers: envelopes in, verdicts and
// decisions out, incidents persisted.
package moderation

import (
	"time"

	"github.com/warden-dev/warden/pkg/types"
)

// ImagePayload is one opaque image attached to a message. Either Data or
// URL is set depending on how the platform adapter delivered it.
type ImagePayload struct {
	Data        []byte
	ContentType string
	URL         string
}

// Ref returns an addressable reference for the payload: the URL when the
// platform handed one over, otherwise empty (callers fall back to Data).
func (p ImagePayload) Ref() string {
	return p.URL
}

// MessageEnvelope is the immutable unit of work. The platform adapter
// creates it; the batcher owns it until handoff to the pipeline; nothing
// mutates it after creation.
type MessageEnvelope struct {
	ChatID     string
	UserID     string
	MessageID  string
	Text       string
	Images     []ImagePayload
	ReceivedAt time.Time
	Metadata   map[string]string
}

// ContentText returns the text payload to evaluate, empty when the message
// carries only media.
func (e *MessageEnvelope) ContentText() string {
	return e.Text
}

// FlushReason records what triggered a batch flush.
type FlushReason string

const (
	FlushSize  FlushReason = "size"
	FlushDelay FlushReason = "delay"
	FlushDrain FlushReason = "drain"
)

// Batch is an ordered set of envelopes flushed together. The scheduler and
// pipeline own it for the duration of processing.
type Batch struct {
	Envelopes []*MessageEnvelope
	CreatedAt time.Time
	Reason    FlushReason
}

// Size returns the number of envelopes in the batch.
func (b *Batch) Size() int {
	return len(b.Envelopes)
}

// StageVerdict is the decision of one detector stage for one message.
// A stage contributes at most one verdict per message per pass; internal
// text/image evaluation is resolved before returning.
type StageVerdict struct {
	Stage    types.StageID
	RuleID   string
	Severity types.Severity
	Action   types.Action
	Reason   string
	Source   types.Source
	Details  map[string]any
}

// Decisive reports whether the verdict short-circuits later stages.
func (v *StageVerdict) Decisive() bool {
	return v != nil && v.Action.Decisive()
}

// Fallback builds the no-action verdict a stage returns when an expected
// failure mode (timeout, malformed response, bad rule) prevents a real
// evaluation. Pipeline progress is never blocked by it.
func Fallback(stage types.StageID, reason string) *StageVerdict {
	return &StageVerdict{
		Stage:  stage,
		Action: types.ActionNone,
		Reason: reason,
		Details: map[string]any{
			"fallback": true,
		},
	}
}

// IsFallback reports whether the verdict was produced by a degraded
// evaluation rather than a clean pass.
func (v *StageVerdict) IsFallback() bool {
	if v == nil || v.Details == nil {
		return false
	}
	b, _ := v.Details["fallback"].(bool)
	return b
}

// FinalDecision is the aggregator output for a single message: the winning
// action plus the verdict that produced it. Action none means no
// enforcement; it is the explicit identity value, not an error.
type FinalDecision struct {
	Action    types.Action
	Duration  time.Duration
	RuleID    string
	Stage     types.StageID
	Reason    string
	ChatID    string
	UserID    string
	MessageID string
	Verdict   *StageVerdict
	Evaluated []types.StageID
}

// NoAction builds the explicit no-action decision for a message.
func NoAction(env *MessageEnvelope, evaluated []types.StageID) *FinalDecision {
	return &FinalDecision{
		Action:    types.ActionNone,
		ChatID:    env.ChatID,
		UserID:    env.UserID,
		MessageID: env.MessageID,
		Evaluated: evaluated,
	}
}

// Enforceable reports whether the decision requires a platform action.
func (d *FinalDecision) Enforceable() bool {
	return d != nil && d.Action.Decisive()
}

// Incident is the persisted audit record of one enforced decision.
type Incident struct {
	ID         string
	RuleID     string
	Stage      types.StageID
	Action     types.Action
	Severity   types.Severity
	ChatID     string
	UserID     string
	MessageID  string
	Reason     string
	Details    map[string]any
	OccurredAt time.Time
}

// IncidentFrom converts an enforceable decision into its audit record.
// The caller assigns the ID.
func IncidentFrom(d *FinalDecision, now time.Time) *Incident {
	inc := &Incident{
		RuleID:     d.RuleID,
		Stage:      d.Stage,
		Action:     d.Action,
		ChatID:     d.ChatID,
		UserID:     d.UserID,
		MessageID:  d.MessageID,
		Reason:     d.Reason,
		OccurredAt: now,
	}
	if d.Verdict != nil {
		inc.Severity = d.Verdict.Severity
		inc.Details = d.Verdict.Details
	}
	return inc
}
