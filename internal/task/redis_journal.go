package task

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dyluth/cerebrum/pkg/broker"
	"github.com/dyluth/cerebrum/pkg/protocol"
	"github.com/redis/go-redis/v9"
)

// Key returns the Redis hash holding a task.
// Pattern: cerebrum:{instance}:task:{task_id}
func Key(instance, taskID string) string {
	return fmt.Sprintf("cerebrum:%s:task:%s", instance, taskID)
}

// EventsChannel returns the Pub/Sub channel carrying journal events.
// Pattern: cerebrum:{instance}:task_events
func EventsChannel(instance string) string {
	return fmt.Sprintf("cerebrum:%s:task_events", instance)
}

// RedisJournal mirrors every task into a Redis hash and publishes each
// transition as JSON.
type RedisJournal struct {
	rdb      *redis.Client
	instance string
}

// NewRedisJournal returns a journal for instance. The client is owned by
// the caller.
func NewRedisJournal(rdb *redis.Client, instance string) (*RedisJournal, error) {
	if err := broker.ValidateInstance(instance); err != nil {
		return nil, err
	}
	return &RedisJournal{rdb: rdb, instance: instance}, nil
}

// Record implements Journal.
func (j *RedisJournal) Record(ctx context.Context, rec Record, tr Transition) error {
	hash, err := recordToHash(rec)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(NewEvent(rec, tr))
	if err != nil {
		return fmt.Errorf("failed to marshal task event: %w", err)
	}

	pipe := j.rdb.Pipeline()
	pipe.HSet(ctx, Key(j.instance, rec.ID), hash)
	pipe.Publish(ctx, EventsChannel(j.instance), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write task %s to Redis: %w", rec.ID, err)
	}
	return nil
}

// Get reads a task back. Returns redis.Nil when it does not exist.
func (j *RedisJournal) Get(ctx context.Context, taskID string) (*Record, error) {
	hash, err := j.rdb.HGetAll(ctx, Key(j.instance, taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read task from Redis: %w", err)
	}
	if len(hash) == 0 {
		return nil, redis.Nil
	}
	return hashToRecord(hash)
}

// List reads every task of the instance. Keys that vanish between the
// scan and the read are skipped.
func (j *RedisJournal) List(ctx context.Context) ([]*Record, error) {
	pattern := Key(j.instance, "*")
	var records []*Record
	iter := j.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		hash, err := j.rdb.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", iter.Val(), err)
		}
		if len(hash) == 0 {
			continue
		}
		rec, err := hashToRecord(hash)
		if err != nil {
			return nil, fmt.Errorf("corrupt task %s: %w", iter.Val(), err)
		}
		records = append(records, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan tasks: %w", err)
	}
	return records, nil
}

// Subscription delivers journal events until closed.
type Subscription struct {
	events <-chan Event
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the event channel. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Errors returns decode failures. The subscription continues after them.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call more than once.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Subscribe follows journal events published after the call returns.
func (j *RedisJournal) Subscribe(ctx context.Context) (*Subscription, error) {
	pubsub := j.rdb.Subscribe(ctx, EventsChannel(j.instance))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to task events: %w", err)
	}

	events := make(chan Event, 10)
	errs := make(chan error, 10)
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(events)
		defer close(errs)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					select {
					case errs <- fmt.Errorf("failed to unmarshal task event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}
				select {
				case events <- ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{events: events, errors: errs, cancel: cancel}, nil
}

func recordToHash(rec Record) (map[string]interface{}, error) {
	filter, err := json.Marshal(rec.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal filter: %w", err)
	}
	history, err := json.Marshal(rec.History)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal history: %w", err)
	}
	return map[string]interface{}{
		"id":            rec.ID,
		"ticker":        rec.Ticker,
		"filter":        string(filter),
		"interactive":   strconv.FormatBool(rec.Interactive),
		"state":         string(rec.State),
		"retries":       rec.Retries,
		"review_passes": rec.ReviewPasses,
		"history":       string(history),
		"error":         rec.Err,
		"created_at_ms": rec.CreatedAt.UnixMilli(),
		"updated_at_ms": rec.UpdatedAt.UnixMilli(),
	}, nil
}

func hashToRecord(hash map[string]string) (*Record, error) {
	retries, err := strconv.Atoi(hash["retries"])
	if err != nil {
		return nil, fmt.Errorf("invalid retries field: %w", err)
	}
	passes, err := strconv.Atoi(hash["review_passes"])
	if err != nil {
		return nil, fmt.Errorf("invalid review_passes field: %w", err)
	}

	var filter protocol.Filter
	if raw := hash["filter"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &filter); err != nil {
			return nil, fmt.Errorf("failed to unmarshal filter: %w", err)
		}
	}
	var history []Transition
	if raw := hash["history"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &history); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history: %w", err)
		}
	}

	interactive, _ := strconv.ParseBool(hash["interactive"])
	created, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	updated, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)

	return &Record{
		ID:           hash["id"],
		Ticker:       hash["ticker"],
		Filter:       filter,
		Interactive:  interactive,
		State:        State(hash["state"]),
		Retries:      retries,
		ReviewPasses: passes,
		History:      history,
		Err:          hash["error"],
		CreatedAt:    time.UnixMilli(created),
		UpdatedAt:    time.UnixMilli(updated),
	}, nil
}
