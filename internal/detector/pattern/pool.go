// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package pattern

import (
	"context"
	"sync"
)

// pool is a bounded worker pool for CPU-bound matching. It is sized
// independently from I/O concurrency so pattern matching never starves
// the goroutines waiting on external detector calls.
type pool struct {
	queue   chan func()
	closing chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func newPool(workers, depth int) *pool {
	p := &pool{
		queue:   make(chan func(), depth),
		closing: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case fn := <-p.queue:
			fn()
		case <-p.closing:
			// Drain queued work before exiting.
			for {
				select {
				case fn := <-p.queue:
					fn()
				default:
					return
				}
			}
		}
	}
}

// submit enqueues fn, waiting for a queue slot if the pool is saturated.
// The context bounds the wait.
func (p *pool) submit(ctx context.Context, fn func()) error {
	select {
	case p.queue <- fn:
		return nil
	case <-p.closing:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops the workers after draining queued work.
func (p *pool) close() {
	p.once.Do(func() { close(p.closing) })
	p.wg.Wait()
}
