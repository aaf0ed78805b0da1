// Package batch groups items into size- or time-bounded batches for
// higher-throughput downstream writes.
package batch

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Processor buffers items and hands them to a callback in batches of at
// most the configured size. A full buffer processes on the adder's
// goroutine; an underfull one is flushed by a single one-shot timer that
// re-arms on the next add after it fires.
type Processor[T any] struct {
	ctx     context.Context
	size    int
	timeout time.Duration
	fn      func(context.Context, []T) error

	mu        sync.Mutex
	buffer    []T
	lastBatch time.Time
	timerLive bool
}

// New builds a Processor. |ctx| scopes timer-driven flushes; size- and
// Flush-driven ones run under the caller's context.
func New[T any](ctx context.Context, size int, timeout time.Duration, fn func(context.Context, []T) error) *Processor[T] {
	if size <= 0 {
		size = 1
	}
	return &Processor[T]{
		ctx:       ctx,
		size:      size,
		timeout:   timeout,
		fn:        fn,
		lastBatch: time.Now(),
	}
}

// Add appends |item| to the buffer, processing a batch immediately once
// the buffer reaches the configured size. Callback errors surface to the
// adder; the failed batch is not re-buffered.
func (p *Processor[T]) Add(ctx context.Context, item T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buffer = append(p.buffer, item)
	if len(p.buffer) >= p.size {
		return p.processLocked(ctx)
	}
	if !p.timerLive {
		p.timerLive = true
		time.AfterFunc(p.timeout, p.onTimer)
	}
	return nil
}

func (p *Processor[T]) onTimer() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.timerLive = false
	if len(p.buffer) != 0 && time.Since(p.lastBatch) >= p.timeout {
		// Logged rather than surfaced: no caller is on this goroutine.
		_ = p.processLocked(p.ctx)
	}
}

// Flush drains the buffer, processing batches until it is empty or the
// callback fails.
func (p *Processor[T]) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.buffer) > 0 {
		if err := p.processLocked(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor[T]) processLocked(ctx context.Context) error {
	if len(p.buffer) == 0 || p.fn == nil {
		return nil
	}
	var n = p.size
	if n > len(p.buffer) {
		n = len(p.buffer)
	}
	var items = make([]T, n)
	copy(items, p.buffer[:n])
	p.buffer = append(p.buffer[:0], p.buffer[n:]...)
	p.lastBatch = time.Now()

	if err := p.fn(ctx, items); err != nil {
		log.WithFields(log.Fields{"items": len(items), "err": err}).
			Error("failed to process batch")
		return err
	}
	log.WithField("items", len(items)).Info("processed batch")
	return nil
}
