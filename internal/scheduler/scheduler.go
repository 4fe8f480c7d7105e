// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package scheduler owns the runtime lifecycle of the moderation core:
// stage warmup and state transitions, batch dispatch under a bounded
// in-flight window, incident persistence, and graceful shutdown.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/warden-dev/warden/internal/batch"
	"github.com/warden-dev/warden/internal/moderation"
	"github.com/warden-dev/warden/internal/pipeline"
	"github.com/warden-dev/warden/internal/store"
	wardenerr "github.com/warden-dev/warden/pkg/errors"
	"github.com/warden-dev/warden/pkg/types"
)

// DecisionHandler receives every final decision, enforceable or not.
// The platform adapter registers one to carry out enforcement.
type DecisionHandler func(ctx context.Context, decision *moderation.FinalDecision)

// Config sizes the scheduler. Zero values fall back to the defaults.
type Config struct {
	// MaxInFlight bounds the number of batches processed concurrently.
	// The dispatch loop stops pulling from the batcher once the window is
	// full, which propagates backpressure into the batcher's queue depth.
	MaxInFlight int64 `mapstructure:"max_in_flight"`
	// ShutdownGrace is how long Close waits for in-flight batches before
	// cancelling their processing context, forcing I/O stages to complete
	// with fallback verdicts.
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
	// FailureThreshold is the consecutive degraded-evaluation count that
	// auto-pauses a stage.
	FailureThreshold int `mapstructure:"failure_threshold"`
	// AutoResumeAfter is the pause duration applied on auto-pause. The
	// stage resumes at the first dispatch snapshot past the deadline.
	AutoResumeAfter time.Duration `mapstructure:"auto_resume_after"`
}

const (
	defaultMaxInFlight      = 4
	defaultShutdownGrace    = 10 * time.Second
	defaultFailureThreshold = 5
	defaultAutoResume       = time.Minute
)

func (c Config) withDefaults() Config {
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = defaultMaxInFlight
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = defaultShutdownGrace
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.AutoResumeAfter <= 0 {
		c.AutoResumeAfter = defaultAutoResume
	}
	return c
}

// StageState is a point-in-time snapshot of one stage's runtime state.
type StageState struct {
	ID       types.StageID     `json:"id"`
	Status   types.StageStatus `json:"status"`
	Reason   string            `json:"reason,omitempty"`
	PausedAt time.Time         `json:"paused_at,omitzero"`
	ResumeAt time.Time         `json:"resume_at,omitzero"`
	Failures int               `json:"consecutive_failures"`
}

type stageState struct {
	status   types.StageStatus
	reason   string
	pausedAt time.Time
	resumeAt time.Time // zero means manual resume only
}

// Scheduler dispatches flushed batches into the pipeline and runs the
// stage state machine. It implements pipeline.HealthObserver.
type Scheduler struct {
	cfg       Config
	pipeline  *pipeline.Pipeline
	batcher   *batch.Batcher
	incidents store.IncidentStore
	handler   DecisionHandler
	logger    *slog.Logger

	sem *semaphore.Weighted

	mu     sync.Mutex
	states map[types.StageID]*stageState
	health map[types.StageID]*stageHealth

	procCtx    context.Context
	procCancel context.CancelFunc

	started   bool
	loopDone  chan struct{}
	inFlight  sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	nowFunc func() time.Time
}

var _ pipeline.HealthObserver = (*Scheduler)(nil)

// New wires a Scheduler over the pipeline and batcher. Incidents may be
// nil when persistence is disabled.
func New(cfg Config, p *pipeline.Pipeline, b *batch.Batcher, incidents store.IncidentStore, handler DecisionHandler) *Scheduler {
	cfg = cfg.withDefaults()
	procCtx, procCancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cfg:        cfg,
		pipeline:   p,
		batcher:    b,
		incidents:  incidents,
		handler:    handler,
		logger:     slog.With("component", "scheduler"),
		sem:        semaphore.NewWeighted(cfg.MaxInFlight),
		states:     make(map[types.StageID]*stageState),
		health:     make(map[types.StageID]*stageHealth),
		procCtx:    procCtx,
		procCancel: procCancel,
		loopDone:   make(chan struct{}),
		nowFunc:    time.Now,
	}
	for _, stage := range p.Stages() {
		s.states[stage.ID()] = &stageState{status: types.StageWarming}
		s.health[stage.ID()] = newStageHealth(cfg.FailureThreshold)
	}
	p.SetObserver(s)
	return s
}

// Start warms every stage and begins dispatching batches. A stage whose
// warmup fails starts paused and requires a manual resume; the rest of
// the pipeline runs without it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	for _, stage := range s.pipeline.Stages() {
		id := stage.ID()
		if err := stage.Warmup(ctx); err != nil {
			s.logger.Error("stage warmup failed", "stage", id, "error", err)
			s.transition(id, types.StagePaused, wardenerr.Wrap(err,
				wardenerr.CodeStageWarmupFailure, "warmup").Error(), time.Time{})
			continue
		}
		s.transition(id, types.StageActive, "", time.Time{})
		s.logger.Info("stage warmed", "stage", id)
	}

	go s.run()
	return nil
}

// run pulls batches until the batcher's outbound channel closes. Each
// batch occupies one slot of the in-flight window for its whole
// processing, including decision handling.
func (s *Scheduler) run() {
	defer close(s.loopDone)

	for flushed := range s.batcher.Out() {
		if err := s.sem.Acquire(s.procCtx, 1); err != nil {
			// Shutdown grace expired mid-drain. Process inline so the
			// batch still completes, with stages degrading to fallbacks.
			s.dispatch(flushed)
			continue
		}
		s.inFlight.Add(1)
		go func(flushed *moderation.Batch) {
			defer s.inFlight.Done()
			defer s.sem.Release(1)
			s.dispatch(flushed)
		}(flushed)
	}
}

func (s *Scheduler) dispatch(flushed *moderation.Batch) {
	active := s.activeSet()
	decisions := s.pipeline.Process(s.procCtx, flushed, active)
	for _, decision := range decisions {
		s.finish(decision)
	}
}

// finish persists the incident for an enforceable decision and invokes
// the decision handler. Persistence failure is logged and does not
// suppress enforcement.
func (s *Scheduler) finish(decision *moderation.FinalDecision) {
	if decision.Enforceable() && s.incidents != nil {
		incident := moderation.IncidentFrom(decision, s.nowFunc())
		incident.ID = uuid.NewString()
		if err := s.incidents.SaveIncident(s.procCtx, incident); err != nil {
			s.logger.Error("incident persistence failed",
				"message_id", decision.MessageID, "rule_id", decision.RuleID,
				"error", wardenerr.Wrap(err, wardenerr.CodeStoreIncidentSaveFailure, "saving incident"))
		}
	}
	if s.handler != nil {
		s.handler(s.procCtx, decision)
	}
}

// activeSet snapshots stage states for one dispatch. Auto-resume
// deadlines are realized here: a paused stage whose deadline has passed
// flips back to active before the snapshot is taken.
func (s *Scheduler) activeSet() pipeline.ActiveSet {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	set := make(pipeline.ActiveSet, len(s.states))
	for id, st := range s.states {
		if st.status == types.StagePaused && !st.resumeAt.IsZero() && !now.Before(st.resumeAt) {
			st.status = types.StageActive
			st.reason = ""
			st.pausedAt = time.Time{}
			st.resumeAt = time.Time{}
			s.health[id].recordSuccess()
			s.logger.Info("stage auto-resumed", "stage", id)
		}
		if st.status == types.StageActive {
			set[id] = true
		}
	}
	return set
}

// PauseStage pauses a stage until ResumeStage is called. Pausing an
// already paused stage updates the reason.
func (s *Scheduler) PauseStage(id types.StageID, reason string) error {
	if _, ok := s.lookup(id); !ok {
		return wardenerr.Errorf(wardenerr.CodeStageNotFound, "unknown stage %q", id)
	}
	s.transition(id, types.StagePaused, reason, time.Time{})
	s.logger.Info("stage paused", "stage", id, "reason", reason)
	return nil
}

// ResumeStage returns a paused stage to active and resets its failure
// streak. Resuming an active stage is a no-op.
func (s *Scheduler) ResumeStage(id types.StageID) error {
	st, ok := s.lookup(id)
	if !ok {
		return wardenerr.Errorf(wardenerr.CodeStageNotFound, "unknown stage %q", id)
	}
	if st.Status == types.StageWarming {
		return wardenerr.Errorf(wardenerr.CodeStageTransitionInvalid,
			"stage %q is still warming", id)
	}
	s.mu.Lock()
	s.states[id].status = types.StageActive
	s.states[id].reason = ""
	s.states[id].pausedAt = time.Time{}
	s.states[id].resumeAt = time.Time{}
	s.mu.Unlock()
	s.health[id].recordSuccess()
	s.logger.Info("stage resumed", "stage", id)
	return nil
}

// StageStates returns a snapshot of every stage in pipeline order.
func (s *Scheduler) StageStates() []StageState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]StageState, 0, len(s.states))
	for _, stage := range s.pipeline.Stages() {
		id := stage.ID()
		st := s.states[id]
		out = append(out, StageState{
			ID:       id,
			Status:   st.status,
			Reason:   st.reason,
			PausedAt: st.pausedAt,
			ResumeAt: st.resumeAt,
			Failures: s.health[id].streak(),
		})
	}
	return out
}

func (s *Scheduler) lookup(id types.StageID) (StageState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return StageState{}, false
	}
	return StageState{ID: id, Status: st.status, Reason: st.reason}, true
}

func (s *Scheduler) transition(id types.StageID, status types.StageStatus, reason string, resumeAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return
	}
	st.status = status
	st.reason = reason
	if status == types.StagePaused {
		st.pausedAt = s.nowFunc()
		st.resumeAt = resumeAt
	} else {
		st.pausedAt = time.Time{}
		st.resumeAt = time.Time{}
	}
}

// StageDegraded implements pipeline.HealthObserver. Crossing the
// consecutive-failure threshold auto-pauses the stage with an
// auto-resume deadline.
func (s *Scheduler) StageDegraded(id types.StageID, reason string) {
	h, ok := s.health[id]
	if !ok {
		return
	}
	if !h.recordFailure() {
		return
	}
	resumeAt := s.nowFunc().Add(s.cfg.AutoResumeAfter)
	s.transition(id, types.StagePaused, "degraded: "+reason, resumeAt)
	s.logger.Warn("stage auto-paused after repeated failures",
		"stage", id, "reason", reason,
		"threshold", s.cfg.FailureThreshold, "resume_at", resumeAt)
}

// StageRecovered implements pipeline.HealthObserver.
func (s *Scheduler) StageRecovered(id types.StageID) {
	if h, ok := s.health[id]; ok {
		h.recordSuccess()
	}
}

// Close drains the batcher, waits for in-flight batches within the
// shutdown grace, then cancels their processing context so I/O stages
// force-complete with fallback verdicts. Every ingested message still
// receives a decision. Idempotent.
func (s *Scheduler) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.close(ctx)
	})
	return s.closeErr
}

func (s *Scheduler) close(ctx context.Context) error {
	s.logger.Info("scheduler shutting down")

	if err := s.batcher.Close(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		s.procCancel()
		return nil
	}

	finished := make(chan struct{})
	go func() {
		<-s.loopDone
		s.inFlight.Wait()
		close(finished)
	}()

	grace := time.NewTimer(s.cfg.ShutdownGrace)
	defer grace.Stop()

	select {
	case <-finished:
		s.procCancel()
		return nil
	case <-grace.C:
		// Force-complete: cancelled contexts degrade remaining stage
		// calls into fallback verdicts instead of losing messages.
		s.logger.Warn("shutdown grace expired, cancelling in-flight processing")
		s.procCancel()
	case <-ctx.Done():
		s.procCancel()
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return wardenerr.Wrap(ctx.Err(), wardenerr.CodeSchedulerShutdownTimeout,
			"waiting for in-flight batches")
	}
}
