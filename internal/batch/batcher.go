// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package batch decouples message arrival rate from processing rate.
// Ingest never blocks the caller; a background goroutine owns the flush
// timer and the outbound handoff to the scheduler.
package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warden-dev/warden/internal/moderation"
	wardenerr "github.com/warden-dev/warden/pkg/errors"
)

// Config sizes the batcher. Zero values fall back to the defaults.
type Config struct {
	// MaxSize flushes a batch as soon as it accumulates this many envelopes.
	MaxSize int
	// MaxDelay flushes whatever has accumulated this long after the current
	// batch was opened, even a single message. The timer is anchored to
	// batch opening, never reset by later enqueues, so a steady trickle
	// cannot starve flushing.
	MaxDelay time.Duration
	// QueueDepth bounds unflushed envelopes. Past it, Ingest rejects the
	// newest envelope (documented overflow policy: reject-newest preserves
	// the latency of everything already queued).
	QueueDepth int
}

const (
	defaultMaxSize    = 50
	defaultMaxDelay   = 500 * time.Millisecond
	defaultQueueDepth = 1000
)

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = defaultMaxSize
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = defaultQueueDepth
	}
	return c
}

// Batcher accumulates envelopes and flushes batches by size or delay.
type Batcher struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	pending  []*moderation.MessageEnvelope
	openedAt time.Time
	closed   bool

	kick    chan struct{}
	out     chan *moderation.Batch
	closing chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	nowFunc   func() time.Time
}

// New creates a Batcher and starts its flush goroutine. Call Close to
// drain and stop it.
func New(cfg Config) *Batcher {
	b := &Batcher{
		cfg:     cfg.withDefaults(),
		logger:  slog.With("component", "batcher"),
		kick:    make(chan struct{}, 1),
		out:     make(chan *moderation.Batch, 1),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		nowFunc: time.Now,
	}
	go b.run()
	return b
}

// Out is the stream of flushed batches. It is closed after Close has
// drained the final partial batch.
func (b *Batcher) Out() <-chan *moderation.Batch {
	return b.out
}

// Ingest enqueues an envelope and returns immediately. It fails with
// batcher.queue.overloaded past the configured queue depth and with
// batcher.closed after shutdown; it never blocks on backlog.
func (b *Batcher) Ingest(env *moderation.MessageEnvelope) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return wardenerr.New(wardenerr.CodeBatcherClosed, "batcher is shut down")
	}
	if len(b.pending) >= b.cfg.QueueDepth {
		b.mu.Unlock()
		return wardenerr.New(wardenerr.CodeBatcherOverloaded, "ingestion backlog exceeded",
			wardenerr.Field("queue_depth", b.cfg.QueueDepth),
			wardenerr.FieldChatID(env.ChatID))
	}
	if len(b.pending) == 0 {
		b.openedAt = b.nowFunc()
	}
	b.pending = append(b.pending, env)
	b.mu.Unlock()

	select {
	case b.kick <- struct{}{}:
	default:
	}
	return nil
}

// Close flushes any partial batch, closes Out, and stops the flush
// goroutine. Draining is mandatory, not best-effort. Idempotent; the
// context bounds how long Close waits for the handoff.
func (b *Batcher) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		close(b.closing)
	})

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return wardenerr.Wrap(ctx.Err(), wardenerr.CodeBatcherClosed, "waiting for batcher drain")
	}
}

func (b *Batcher) run() {
	defer close(b.done)
	defer close(b.out)

	timer := time.NewTimer(b.cfg.MaxDelay)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	disarm := func() {
		if armed && !timer.Stop() {
			<-timer.C
		}
		armed = false
	}

	for {
		select {
		case <-b.kick:
			for {
				batch := b.cut(b.cfg.MaxSize, moderation.FlushSize)
				if batch == nil {
					break
				}
				disarm()
				b.emit(batch)
			}
			// Arm the delay timer for a freshly opened batch.
			b.mu.Lock()
			openedAt, size := b.openedAt, len(b.pending)
			b.mu.Unlock()
			if size > 0 && !armed {
				timer.Reset(b.cfg.MaxDelay - b.nowFunc().Sub(openedAt))
				armed = true
			}

		case <-timer.C:
			armed = false
			if batch := b.cut(0, moderation.FlushDelay); batch != nil {
				b.emit(batch)
			}

		case <-b.closing:
			disarm()
			for {
				batch := b.cut(0, moderation.FlushDrain)
				if batch == nil {
					return
				}
				b.emit(batch)
			}
		}
	}
}

// cut removes up to max envelopes (all of them when max is 0 or the
// backlog is below max for a size cut). Size cuts require a full batch.
func (b *Batcher) cut(max int, reason moderation.FlushReason) *moderation.Batch {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return nil
	}
	n := len(b.pending)
	if max > 0 {
		if n < max {
			return nil
		}
		n = max
	}

	envelopes := make([]*moderation.MessageEnvelope, n)
	copy(envelopes, b.pending[:n])
	rest := b.pending[n:]
	b.pending = append(b.pending[:0:0], rest...)
	if len(b.pending) > 0 {
		// A new batch opens now; its delay window starts here.
		b.openedAt = b.nowFunc()
	}

	return &moderation.Batch{
		Envelopes: envelopes,
		CreatedAt: b.nowFunc(),
		Reason:    reason,
	}
}

// emit hands the batch to the scheduler. It may block this goroutine, but
// never an Ingest caller.
func (b *Batcher) emit(batch *moderation.Batch) {
	b.logger.Debug("batch flushed", "size", batch.Size(), "reason", batch.Reason)
	b.out <- batch
}
