package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dyluth/cerebrum/pkg/protocol"
)

// ErrClosed is returned by Subscribe after the broker has been closed.
var ErrClosed = errors.New("broker closed")

// Handler processes one delivered message. A returned error is logged by
// the broker and otherwise ignored.
type Handler func(ctx context.Context, msg protocol.Message) error

// Tap observes every published message synchronously, in publish order,
// before any handler is scheduled. Taps must not block.
type Tap func(msg protocol.Message)

// Broker is the publish/subscribe contract shared by all transports.
type Broker interface {
	Subscribe(topic protocol.Topic, handler Handler) error
	Publish(ctx context.Context, msg protocol.Message) error
	Stats() Stats
	Close(ctx context.Context) error
}

// Stats is a point-in-time snapshot of broker activity.
type Stats struct {
	Subscriptions int   `json:"subscriptions"`
	Pending       int64 `json:"pending"`
	Dispatched    int64 `json:"dispatched"`
	Dropped       int64 `json:"dropped"`
	Failed        int64 `json:"failed"`
}

// Policy selects the behaviour when the handler pool is saturated.
type Policy string

const (
	PolicyQueue Policy = "queue"
	PolicyBlock Policy = "block"
	PolicyDrop  Policy = "drop"
)

// ParsePolicy converts a configuration string into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyQueue, PolicyBlock, PolicyDrop:
		return p, nil
	case "":
		return PolicyQueue, nil
	default:
		return "", fmt.Errorf("invalid backpressure policy %q (must be 'queue', 'block', or 'drop')", s)
	}
}

type options struct {
	maxConcurrent int
	policy        Policy
	taps          []Tap
}

// Option configures a broker.
type Option func(*options)

// WithMaxConcurrent bounds the number of handler invocations running at
// once. Zero or a negative value means unbounded.
func WithMaxConcurrent(n int) Option {
	return func(o *options) {
		o.maxConcurrent = n
	}
}

// WithPolicy sets the backpressure policy used when the pool is full.
func WithPolicy(p Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithTap registers an observer for every published message.
func WithTap(tap Tap) Option {
	return func(o *options) {
		o.taps = append(o.taps, tap)
	}
}

func buildOptions(opts []Option) options {
	o := options{policy: PolicyQueue}
	for _, opt := range opts {
		opt(&o)
	}
	if o.policy == "" {
		o.policy = PolicyQueue
	}
	return o
}
