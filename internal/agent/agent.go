// Package agent implements the three roles of an analysis run: the intake
// agent facing the operator, the market analyst and the chief analyst.
//
// Agents never call each other. Each one subscribes to its topics on the
// broker, moves tasks through the registry and publishes the next message.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dyluth/cerebrum/internal/completion"
	"github.com/dyluth/cerebrum/internal/config"
	"github.com/dyluth/cerebrum/internal/logger"
	"github.com/dyluth/cerebrum/internal/printer"
	"github.com/dyluth/cerebrum/internal/prompt"
	"github.com/dyluth/cerebrum/internal/task"
	"github.com/dyluth/cerebrum/pkg/broker"
	"github.com/dyluth/cerebrum/pkg/protocol"
)

// Agent is the capability shared by every role.
type Agent interface {
	Role() string
	// HandleTask processes one delivered message.
	HandleTask(ctx context.Context, msg protocol.Message) error
	// CallCompletion sends a conversation to the role's model.
	CallCompletion(ctx context.Context, messages []protocol.ChatMessage) (string, error)
	// Run blocks until ctx is cancelled or shutdown is requested.
	Run(ctx context.Context) error
	// RequestShutdown stops the agent. Safe to call more than once.
	RequestShutdown()
	Done() <-chan struct{}
}

// Deps are the collaborators shared by all agents of a run.
type Deps struct {
	Broker     broker.Broker
	Completion completion.Client
	Registry   *task.Registry
	Narrator   *printer.Narrator
	Workflow   config.WorkflowConfig
}

func (d Deps) validate() error {
	switch {
	case d.Broker == nil:
		return errors.New("agent: broker is required")
	case d.Completion == nil:
		return errors.New("agent: completion client is required")
	case d.Registry == nil:
		return errors.New("agent: task registry is required")
	}
	return nil
}

func (d Deps) interactive() bool {
	return d.Workflow.Interactive
}

func (d Deps) shutdownOnReport() bool {
	return d.Workflow.ShutdownOnReport == nil || *d.Workflow.ShutdownOnReport
}

// base carries the lifecycle every role shares.
type base struct {
	role string
	deps Deps

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	handle func(ctx context.Context, msg protocol.Message) error
}

// newBase greets the operator through the role's model. A failed greeting
// fails construction.
func newBase(ctx context.Context, role string, deps Deps) (*base, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Narrator == nil {
		deps.Narrator = printer.Discard()
	}

	agentCtx, cancel := context.WithCancel(context.Background())
	b := &base{role: role, deps: deps, ctx: agentCtx, cancel: cancel}

	greeting, err := b.CallCompletion(ctx, prompt.Greeting(role))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s greeting failed: %w", role, err)
	}
	deps.Narrator.Say(role, "[Greeting] %s", greeting)
	return b, nil
}

// register subscribes handle to topics and the agent to system shutdown.
func (b *base) register(handle func(context.Context, protocol.Message) error, topics ...protocol.Topic) error {
	b.handle = handle
	for _, topic := range topics {
		if err := b.deps.Broker.Subscribe(topic, b.dispatch); err != nil {
			return fmt.Errorf("%s failed to subscribe to %s: %w", b.role, topic, err)
		}
	}
	err := b.deps.Broker.Subscribe(protocol.TopicShutdown, func(context.Context, protocol.Message) error {
		b.RequestShutdown()
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s failed to subscribe to %s: %w", b.role, protocol.TopicShutdown, err)
	}
	logger.DebugCF(b.role, "Subscribed", logger.Fields{"topics": topics})
	return nil
}

func (b *base) Role() string {
	return b.role
}

// CallCompletion implements Agent.
func (b *base) CallCompletion(ctx context.Context, messages []protocol.ChatMessage) (string, error) {
	return b.deps.Completion.Complete(ctx, b.role, messages)
}

// Run implements Agent.
func (b *base) Run(ctx context.Context) error {
	logger.InfoCF(b.role, "Agent running", nil)
	select {
	case <-ctx.Done():
		b.RequestShutdown()
	case <-b.ctx.Done():
	}
	return nil
}

// RequestShutdown implements Agent.
func (b *base) RequestShutdown() {
	b.once.Do(func() {
		b.cancel()
		logger.InfoCF(b.role, "Agent shut down", nil)
	})
}

// Done implements Agent.
func (b *base) Done() <-chan struct{} {
	return b.ctx.Done()
}

func (b *base) alive() bool {
	return b.ctx.Err() == nil
}

// dispatch wraps every role handler: stopped agents drop messages, the
// handler context ends with the agent, and a failed handler fails the task.
func (b *base) dispatch(ctx context.Context, msg protocol.Message) error {
	if !b.alive() {
		logger.DebugCF(b.role, "Agent stopped, ignoring message", logger.Fields{
			"topic":   msg.Topic(),
			"task_id": msg.CorrelationID(),
		})
		return nil
	}

	hctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(b.ctx, cancel)
	defer stop()

	err := b.handle(hctx, msg)
	if err == nil {
		return nil
	}
	if !b.alive() && errors.Is(err, context.Canceled) {
		logger.DebugCF(b.role, "Handler cancelled by shutdown", logger.Fields{"topic": msg.Topic()})
		return nil
	}
	b.fail(ctx, msg, err)
	return err
}

// fail marks the task failed and reports it on the dead-letter topic.
func (b *base) fail(ctx context.Context, msg protocol.Message, cause error) {
	id := msg.CorrelationID()
	logger.ErrorCF(b.role, "Task handler failed", logger.Fields{
		"topic":   msg.Topic(),
		"task_id": id,
		"error":   cause.Error(),
	})
	if msg.Topic() == protocol.TopicTaskFailed {
		return
	}
	if id != "" {
		if _, err := b.deps.Registry.Fail(ctx, id, cause); err != nil {
			logger.WarnCF(b.role, "Failed to mark task failed", logger.Fields{"task_id": id, "error": err.Error()})
		}
	}
	failed := &protocol.TaskFailed{TaskID: id, Role: b.role, Stage: msg.Topic(), Error: cause.Error()}
	if err := b.deps.Broker.Publish(ctx, failed); err != nil {
		logger.ErrorCF(b.role, "Failed to publish task failure", logger.Fields{"task_id": id, "error": err.Error()})
	}
}

// expect returns the task when it is in one of states. Messages for
// unknown tasks or tasks that already moved on are skipped.
func (b *base) expect(id string, states ...task.State) (task.Record, bool) {
	rec, err := b.deps.Registry.Get(id)
	if err != nil {
		logger.WarnCF(b.role, "Ignoring message for unknown task", logger.Fields{"task_id": id})
		return task.Record{}, false
	}
	for _, s := range states {
		if rec.State == s {
			return rec, true
		}
	}
	logger.WarnCF(b.role, "Ignoring message for task in unexpected state", logger.Fields{
		"task_id":  id,
		"state":    rec.State,
		"expected": states,
	})
	return rec, false
}

func (b *base) publish(ctx context.Context, msg protocol.Message) error {
	if err := b.deps.Broker.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Topic(), err)
	}
	return nil
}

func (b *base) say(format string, a ...any) {
	b.deps.Narrator.Say(b.role, format, a...)
}

func (b *base) block(heading, body string) {
	b.deps.Narrator.Block(b.role, heading, body)
}

func unexpected(role string, msg protocol.Message) error {
	return fmt.Errorf("%s cannot handle %s (%T)", role, msg.Topic(), msg)
}
