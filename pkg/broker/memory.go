package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dyluth/cerebrum/internal/logger"
	"github.com/dyluth/cerebrum/pkg/protocol"
	"golang.org/x/sync/semaphore"
)

// Memory is the in-process broker. It is safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	subs   map[protocol.Topic][]Handler
	closed bool

	taps   []Tap
	sem    *semaphore.Weighted
	policy Policy

	ctx        context.Context
	handlerCtx context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	pending    atomic.Int64
	dispatched atomic.Int64
	dropped    atomic.Int64
	failed     atomic.Int64
}

var _ Broker = (*Memory)(nil)

type handlerKey struct{}

// InHandler reports whether ctx belongs to a handler invocation of this
// package's brokers.
func InHandler(ctx context.Context) bool {
	return ctx.Value(handlerKey{}) != nil
}

// NewMemory creates an in-process broker.
func NewMemory(opts ...Option) *Memory {
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())

	b := &Memory{
		subs:       make(map[protocol.Topic][]Handler),
		taps:       o.taps,
		policy:     o.policy,
		ctx:        ctx,
		handlerCtx: context.WithValue(ctx, handlerKey{}, struct{}{}),
		cancel:     cancel,
	}
	if o.maxConcurrent > 0 {
		b.sem = semaphore.NewWeighted(int64(o.maxConcurrent))
	}
	return b
}

// Subscribe registers handler for every future publish to topic.
func (b *Memory) Subscribe(topic protocol.Topic, handler Handler) error {
	if err := topic.Validate(); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("nil handler for topic %s", topic)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.subs[topic] = append(b.subs[topic], handler)
	return nil
}

// Publish schedules one invocation per current subscriber of msg's topic.
// Publishing to a topic without subscribers, or after Close, is a silent
// drop. Only PolicyBlock can make Publish wait, and only for pool slots;
// publishes made from inside a handler are queued instead.
func (b *Memory) Publish(ctx context.Context, msg protocol.Message) error {
	if msg == nil {
		return fmt.Errorf("cannot publish nil message")
	}
	topic := msg.Topic()

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		logger.DebugCF("broker", "Dropped message published after close", logger.Fields{
			"topic":   topic.String(),
			"task_id": msg.CorrelationID(),
		})
		return nil
	}
	handlers := make([]Handler, len(b.subs[topic]))
	copy(handlers, b.subs[topic])
	b.wg.Add(len(handlers))
	b.pending.Add(int64(len(handlers)))
	b.mu.RUnlock()

	for _, tap := range b.taps {
		tap(msg)
	}

	if len(handlers) == 0 {
		logger.DebugCF("broker", "No subscribers, message dropped", logger.Fields{
			"topic":   topic.String(),
			"task_id": msg.CorrelationID(),
		})
		return nil
	}

	for i, h := range handlers {
		if err := b.dispatch(ctx, msg, h); err != nil {
			// Release the invocations that were never scheduled.
			for range handlers[i:] {
				b.abandon()
			}
			return fmt.Errorf("failed to dispatch %s: %w", topic, err)
		}
	}
	return nil
}

func (b *Memory) dispatch(ctx context.Context, msg protocol.Message, h Handler) error {
	if b.sem == nil {
		go b.invoke(msg, h, false)
		return nil
	}

	switch b.policy {
	case PolicyBlock:
		// A handler holds a slot while it publishes the next hop, so
		// waiting here could need its own slot. Queue those instead.
		if InHandler(ctx) {
			b.queue(msg, h)
			return nil
		}
		if err := b.acquire(ctx); err != nil {
			return err
		}
		go b.invoke(msg, h, true)

	case PolicyDrop:
		if !b.sem.TryAcquire(1) {
			b.dropped.Add(1)
			b.abandon()
			logger.WarnCF("broker", "Handler pool saturated, invocation dropped", logger.Fields{
				"topic":   msg.Topic().String(),
				"task_id": msg.CorrelationID(),
			})
			return nil
		}
		go b.invoke(msg, h, true)

	default:
		b.queue(msg, h)
	}
	return nil
}

// queue waits for a slot in its own goroutine.
func (b *Memory) queue(msg protocol.Message, h Handler) {
	go func() {
		if err := b.acquire(context.Background()); err != nil {
			b.dropped.Add(1)
			b.abandon()
			return
		}
		b.invoke(msg, h, true)
	}()
}

// acquire waits for a pool slot until ctx or the broker is done.
func (b *Memory) acquire(ctx context.Context) error {
	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(b.ctx, cancel)
	defer stop()
	return b.sem.Acquire(actx, 1)
}

func (b *Memory) abandon() {
	b.pending.Add(-1)
	b.wg.Done()
}

func (b *Memory) invoke(msg protocol.Message, h Handler, release bool) {
	defer b.wg.Done()
	defer b.pending.Add(-1)
	if release {
		defer b.sem.Release(1)
	}
	b.dispatched.Add(1)

	defer func() {
		if r := recover(); r != nil {
			b.failed.Add(1)
			logger.ErrorCF("broker", "Handler panicked", logger.Fields{
				"topic":   msg.Topic().String(),
				"task_id": msg.CorrelationID(),
				"panic":   fmt.Sprint(r),
			})
		}
	}()

	if err := h(b.handlerCtx, msg); err != nil {
		b.failed.Add(1)
		logger.WarnCF("broker", "Handler failed", logger.Fields{
			"topic":   msg.Topic().String(),
			"task_id": msg.CorrelationID(),
			"error":   err.Error(),
		})
	}
}

// Stats returns a snapshot of broker counters.
func (b *Memory) Stats() Stats {
	b.mu.RLock()
	subs := 0
	for _, hs := range b.subs {
		subs += len(hs)
	}
	b.mu.RUnlock()

	return Stats{
		Subscriptions: subs,
		Pending:       b.pending.Load(),
		Dispatched:    b.dispatched.Load(),
		Dropped:       b.dropped.Load(),
		Failed:        b.failed.Load(),
	}
}

// Close stops accepting messages and waits for in-flight handlers until
// ctx is done. Handlers still running at that point see their context
// cancelled. Close is idempotent.
func (b *Memory) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		b.cancel()
		return nil
	case <-ctx.Done():
		b.cancel()
		return fmt.Errorf("%d handler invocations still running: %w", b.pending.Load(), ctx.Err())
	}
}
