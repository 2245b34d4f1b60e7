package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/dyluth/cerebrum/internal/logger"
	"github.com/dyluth/cerebrum/pkg/protocol"
	"github.com/redis/go-redis/v9"
)

// Redis carries messages over Redis Pub/Sub. Every process connected to
// the same instance receives every message and dispatches it to its own
// local subscribers. Delivery is at-most-once, as with Memory.
type Redis struct {
	rdb      *redis.Client
	instance string
	local    *Memory

	mu      sync.Mutex
	pubsub  *redis.PubSub
	started bool
	closed  bool
	done    chan struct{}
}

var _ Broker = (*Redis)(nil)

// NewRedis creates a Redis-backed broker for instance. The client is
// owned by the caller and is not closed by Close. Options apply to the
// local dispatcher.
func NewRedis(rdb *redis.Client, instance string, opts ...Option) (*Redis, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if err := ValidateInstance(instance); err != nil {
		return nil, err
	}
	return &Redis{
		rdb:      rdb,
		instance: instance,
		local:    NewMemory(opts...),
		done:     make(chan struct{}),
	}, nil
}

// Start subscribes to every topic channel of the instance and waits for
// Redis to confirm the subscription. Messages published before Start
// returns are not received.
func (r *Redis) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.started {
		return nil
	}

	pubsub := r.rdb.PSubscribe(ctx, TopicPattern(r.instance))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to topic channels: %w", err)
	}

	r.pubsub = pubsub
	r.started = true
	go r.receive(pubsub.Channel())

	logger.InfoCF("broker", "Subscribed to Redis topic channels", logger.Fields{
		"instance": r.instance,
		"pattern":  TopicPattern(r.instance),
	})
	return nil
}

func (r *Redis) receive(ch <-chan *redis.Message) {
	defer close(r.done)

	for msg := range ch {
		topic, err := TopicFromChannel(r.instance, msg.Channel)
		if err != nil {
			logger.WarnCF("broker", "Ignoring message on unknown channel", logger.Fields{
				"channel": msg.Channel,
				"error":   err.Error(),
			})
			continue
		}

		decoded, err := protocol.Decode(topic, []byte(msg.Payload))
		if err != nil {
			logger.WarnCF("broker", "Skipping undecodable message", logger.Fields{
				"topic": topic.String(),
				"error": err.Error(),
			})
			continue
		}

		if err := r.local.Publish(context.Background(), decoded); err != nil {
			logger.WarnCF("broker", "Local dispatch failed", logger.Fields{
				"topic": topic.String(),
				"error": err.Error(),
			})
		}
	}
}

// Subscribe registers a local handler.
func (r *Redis) Subscribe(topic protocol.Topic, handler Handler) error {
	return r.local.Subscribe(topic, handler)
}

// Publish encodes msg and publishes it to the topic channel.
func (r *Redis) Publish(ctx context.Context, msg protocol.Message) error {
	if msg == nil {
		return fmt.Errorf("cannot publish nil message")
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, TopicChannel(r.instance, msg.Topic()), data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Topic(), err)
	}
	return nil
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Stats returns the local dispatcher's counters.
func (r *Redis) Stats() Stats {
	return r.local.Stats()
}

// Close stops receiving and drains local handlers until ctx is done.
func (r *Redis) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	pubsub := r.pubsub
	r.mu.Unlock()

	if pubsub != nil {
		if err := pubsub.Close(); err != nil {
			logger.WarnCF("broker", "Failed to close subscription", logger.Fields{"error": err.Error()})
		}
		select {
		case <-r.done:
		case <-ctx.Done():
		}
	}
	return r.local.Close(ctx)
}
