// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package batch_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-dev/warden/internal/batch"
	"github.com/warden-dev/warden/internal/moderation"
	wardenerr "github.com/warden-dev/warden/pkg/errors"
)

func envelope(i int) *moderation.MessageEnvelope {
	return &moderation.MessageEnvelope{
		ChatID:     "chat-1",
		UserID:     "user-1",
		MessageID:  fmt.Sprintf("msg-%d", i),
		Text:       fmt.Sprintf("message %d", i),
		ReceivedAt: time.Now(),
	}
}

func receive(t *testing.T, b *batch.Batcher, within time.Duration) *moderation.Batch {
	t.Helper()
	select {
	case got, ok := <-b.Out():
		require.True(t, ok, "out channel closed early")
		return got
	case <-time.After(within):
		t.Fatal("no batch flushed in time")
		return nil
	}
}

func TestFlushBySize(t *testing.T) {
	b := batch.New(batch.Config{MaxSize: 3, MaxDelay: time.Minute})
	defer func() { _ = b.Close(context.Background()) }()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Ingest(envelope(i)))
	}

	got := receive(t, b, time.Second)
	assert.Equal(t, 3, got.Size())
	assert.Equal(t, moderation.FlushSize, got.Reason)
}

func TestFlushByDelay(t *testing.T) {
	b := batch.New(batch.Config{MaxSize: 100, MaxDelay: 30 * time.Millisecond})
	defer func() { _ = b.Close(context.Background()) }()

	require.NoError(t, b.Ingest(envelope(0)))

	got := receive(t, b, time.Second)
	assert.Equal(t, 1, got.Size())
	assert.Equal(t, moderation.FlushDelay, got.Reason)
}

func TestDelayAnchoredToBatchOpen(t *testing.T) {
	// A steady trickle must not push the delay flush out indefinitely.
	b := batch.New(batch.Config{MaxSize: 100, MaxDelay: 80 * time.Millisecond})
	defer func() { _ = b.Close(context.Background()) }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			_ = b.Ingest(envelope(i))
			time.Sleep(10 * time.Millisecond)
		}
	}()

	got := receive(t, b, 500*time.Millisecond)
	assert.Equal(t, moderation.FlushDelay, got.Reason)
	assert.Less(t, got.Size(), 20, "flush should happen before the trickle ends")
	<-done
}

func TestSizeFlushSplitsBacklog(t *testing.T) {
	b := batch.New(batch.Config{MaxSize: 2, MaxDelay: 50 * time.Millisecond})
	defer func() { _ = b.Close(context.Background()) }()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Ingest(envelope(i)))
	}

	first := receive(t, b, time.Second)
	second := receive(t, b, time.Second)
	assert.Equal(t, 2, first.Size())
	assert.Equal(t, 2, second.Size())

	// The remainder goes out on the delay timer.
	rest := receive(t, b, time.Second)
	assert.Equal(t, 1, rest.Size())
	assert.Equal(t, moderation.FlushDelay, rest.Reason)
}

func TestOverflowRejectsNewest(t *testing.T) {
	b := batch.New(batch.Config{MaxSize: 100, MaxDelay: time.Minute, QueueDepth: 2})
	defer func() { _ = b.Close(context.Background()) }()

	require.NoError(t, b.Ingest(envelope(0)))
	require.NoError(t, b.Ingest(envelope(1)))

	err := b.Ingest(envelope(2))
	require.Error(t, err)
	assert.True(t, wardenerr.HasCode(err, wardenerr.CodeBatcherOverloaded))

	// The queued envelopes are untouched.
	got := receive(t, b, time.Second)
	assert.Equal(t, 2, got.Size())
	assert.Equal(t, "msg-0", got.Envelopes[0].MessageID)
	assert.Equal(t, "msg-1", got.Envelopes[1].MessageID)
}

func TestCloseDrainsPartialBatch(t *testing.T) {
	b := batch.New(batch.Config{MaxSize: 100, MaxDelay: time.Minute})

	require.NoError(t, b.Ingest(envelope(0)))
	require.NoError(t, b.Ingest(envelope(1)))

	closed := make(chan error, 1)
	go func() { closed <- b.Close(context.Background()) }()

	got := receive(t, b, time.Second)
	assert.Equal(t, 2, got.Size())
	assert.Equal(t, moderation.FlushDrain, got.Reason)

	require.NoError(t, <-closed)

	_, ok := <-b.Out()
	assert.False(t, ok, "out must be closed after drain")
}

func TestIngestAfterClose(t *testing.T) {
	b := batch.New(batch.Config{})
	require.NoError(t, b.Close(context.Background()))

	err := b.Ingest(envelope(0))
	require.Error(t, err)
	assert.True(t, wardenerr.HasCode(err, wardenerr.CodeBatcherClosed))
}

func TestCloseIsIdempotent(t *testing.T) {
	b := batch.New(batch.Config{})
	require.NoError(t, b.Close(context.Background()))
	require.NoError(t, b.Close(context.Background()))
}
