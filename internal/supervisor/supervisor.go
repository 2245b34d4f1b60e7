// Package supervisor wires a run together: it builds the broker, the task
// registry and the agents, starts them, and joins them when the run ends.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/cerebrum/internal/agent"
	"github.com/dyluth/cerebrum/internal/completion"
	"github.com/dyluth/cerebrum/internal/config"
	"github.com/dyluth/cerebrum/internal/console"
	"github.com/dyluth/cerebrum/internal/logger"
	"github.com/dyluth/cerebrum/internal/marketdata"
	"github.com/dyluth/cerebrum/internal/printer"
	"github.com/dyluth/cerebrum/internal/task"
	"github.com/dyluth/cerebrum/pkg/broker"
	"github.com/dyluth/cerebrum/pkg/protocol"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Options supplies the collaborators of a run. Only Config is required;
// the rest are built from it when nil.
type Options struct {
	Config     *config.Config
	Completion completion.Client
	Provider   marketdata.Provider
	Input      console.Collector
	Narrator   *printer.Narrator
	// Redis is used for the redis transport instead of dialling
	// Config.Broker.RedisURL. It is not closed by the supervisor.
	Redis *redis.Client
}

// Supervisor owns one run.
type Supervisor struct {
	cfg      *config.Config
	broker   broker.Broker
	registry *task.Registry
	journal  task.Journal
	narrator *printer.Narrator

	rdb       *redis.Client
	ownsRedis bool
	health    *HealthServer

	intake *agent.Intake
	agents []agent.Agent
	exited map[string]chan struct{}
	group  *errgroup.Group

	running  atomic.Bool
	started  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	report   string
	failures []protocol.TaskFailed
}

// New builds the broker, registry and agents. Agents greet the operator
// during construction, so New performs one completion per role.
func New(ctx context.Context, opts Options) (*Supervisor, error) {
	if opts.Config == nil {
		return nil, errors.New("supervisor: config is required")
	}
	cfg := opts.Config
	narrator := opts.Narrator
	if narrator == nil {
		narrator = printer.Discard()
	}

	s := &Supervisor{
		cfg:      cfg,
		narrator: narrator,
		exited:   make(map[string]chan struct{}),
		done:     make(chan struct{}),
	}

	if err := s.buildBroker(ctx, opts.Redis); err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			s.closeTransport(context.Background())
		}
	}()

	retries := 3
	if cfg.Workflow.MaxFeedbackRetries != nil {
		retries = *cfg.Workflow.MaxFeedbackRetries
	}
	s.registry = task.NewRegistry(retries, s.journal)

	client := opts.Completion
	if client == nil {
		c, err := completion.New(cfg.Completion)
		if err != nil {
			return nil, err
		}
		client = c
	}
	provider := opts.Provider
	if provider == nil {
		p, err := marketdata.Select(cfg.MarketData)
		if err != nil {
			return nil, err
		}
		provider = p
	}

	if err := s.broker.Subscribe(protocol.TopicShutdown, s.onShutdown); err != nil {
		return nil, err
	}
	if err := s.broker.Subscribe(protocol.TopicTaskFailed, s.onFailure); err != nil {
		return nil, err
	}

	deps := agent.Deps{
		Broker:     s.broker,
		Completion: client,
		Registry:   s.registry,
		Narrator:   narrator,
		Workflow:   cfg.Workflow,
	}

	intake, err := agent.NewIntake(ctx, deps, opts.Input)
	if err != nil {
		return nil, err
	}
	reviewer, err := agent.NewReviewer(ctx, deps)
	if err != nil {
		return nil, err
	}
	analyst, err := agent.NewAnalyst(ctx, deps, provider)
	if err != nil {
		return nil, err
	}
	s.intake = intake
	s.agents = []agent.Agent{intake, reviewer, analyst}

	if cfg.Supervisor.HealthAddr != "" {
		s.health = NewHealthServer(cfg.Supervisor.HealthAddr, s)
	}

	ok = true
	return s, nil
}

func (s *Supervisor) buildBroker(ctx context.Context, rdb *redis.Client) error {
	bcfg := s.cfg.Broker
	opts := []broker.Option{
		broker.WithMaxConcurrent(bcfg.MaxConcurrent),
		broker.WithPolicy(bcfg.Policy()),
		broker.WithTap(logMessage),
	}

	if bcfg.Transport != config.TransportRedis {
		s.broker = broker.NewMemory(opts...)
		s.journal = task.NewMemoryJournal()
		return nil
	}

	if rdb == nil {
		redisOpts, err := redis.ParseURL(bcfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid broker.redis_url: %w", err)
		}
		rdb = redis.NewClient(redisOpts)
		s.ownsRedis = true
	}
	s.rdb = rdb

	rb, err := broker.NewRedis(rdb, bcfg.Instance, opts...)
	if err != nil {
		s.closeRedis()
		return err
	}
	if err := rb.Start(ctx); err != nil {
		s.closeRedis()
		return fmt.Errorf("failed to start redis broker: %w", err)
	}
	journal, err := task.NewRedisJournal(rdb, bcfg.Instance)
	if err != nil {
		_ = rb.Close(ctx)
		s.closeRedis()
		return err
	}
	s.broker = rb
	s.journal = journal
	logger.InfoCF("supervisor", "Redis transport connected", logger.Fields{"instance": bcfg.Instance})
	return nil
}

// Start runs every agent. The run ends on system/shutdown or when ctx is
// cancelled.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("supervisor already started")
	}
	if s.health != nil {
		if err := s.health.Start(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range s.agents {
		a := a
		exited := make(chan struct{})
		s.exited[a.Role()] = exited
		g.Go(func() error {
			defer close(exited)
			return a.Run(gctx)
		})
	}
	s.group = g
	s.running.Store(true)

	go func() {
		select {
		case <-ctx.Done():
			s.stop("context cancelled")
		case <-s.done:
		}
	}()

	logger.InfoCF("supervisor", "Run started", logger.Fields{"agents": len(s.agents)})
	return nil
}

// Submit publishes the operator's request.
func (s *Supervisor) Submit(ctx context.Context, ticker string, filter protocol.Filter) error {
	return s.broker.Publish(ctx, &protocol.UserInput{
		Data: protocol.UserInputData{Ticker: ticker, Filter: filter},
	})
}

// Shutdown publishes system/shutdown and waits for the agents to be joined.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	err := s.broker.Publish(ctx, &protocol.Shutdown{})
	s.stop("shutdown requested")
	return err
}

// Close ends the run and releases the broker, health server and any Redis
// connection the supervisor opened.
func (s *Supervisor) Close(ctx context.Context) error {
	s.stop("closing")
	var errs []error
	if s.health != nil {
		if err := s.health.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.closeTransport(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Done is closed once every agent has been joined or abandoned.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Running reports whether the agents are running.
func (s *Supervisor) Running() bool {
	return s.running.Load()
}

// Report returns the report carried by the shutdown message, if any.
func (s *Supervisor) Report() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// Failures returns every task failure seen during the run.
func (s *Supervisor) Failures() []protocol.TaskFailed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.TaskFailed(nil), s.failures...)
}

// Registry exposes the task records of the run.
func (s *Supervisor) Registry() *task.Registry {
	return s.registry
}

// Stats returns the broker counters.
func (s *Supervisor) Stats() broker.Stats {
	return s.broker.Stats()
}

// Ping checks the Redis connection, when there is one.
func (s *Supervisor) Ping(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Ping(ctx).Err()
}

// Transport names the broker transport in use.
func (s *Supervisor) Transport() string {
	if s.rdb != nil {
		return config.TransportRedis
	}
	return config.TransportMemory
}

func (s *Supervisor) onShutdown(_ context.Context, msg protocol.Message) error {
	if m, ok := msg.(*protocol.Shutdown); ok && m.Report() != "" {
		s.mu.Lock()
		s.report = m.Report()
		s.mu.Unlock()
	}
	go s.stop("system shutdown received")
	return nil
}

func (s *Supervisor) onFailure(_ context.Context, msg protocol.Message) error {
	if m, ok := msg.(*protocol.TaskFailed); ok {
		s.mu.Lock()
		s.failures = append(s.failures, *m)
		s.mu.Unlock()
	}
	return nil
}

// stop requests shutdown on every agent and joins them against a single
// join timeout. Agents that do not exit in time are logged and abandoned.
func (s *Supervisor) stop(reason string) {
	s.stopOnce.Do(func() {
		logger.InfoCF("supervisor", "Stopping agents", logger.Fields{"reason": reason})
		s.narrator.Say("supervisor", "Shutting down (%s).", reason)

		for _, a := range s.agents {
			a.RequestShutdown()
		}

		timeout := s.cfg.Supervisor.JoinTimeout
		if timeout <= 0 {
			timeout = 3 * time.Second
		}
		roles := make([]string, len(s.agents))
		for i, a := range s.agents {
			roles[i] = a.Role()
		}
		for _, role := range join(roles, s.exited, timeout) {
			logger.WarnCF("supervisor", "Agent did not stop in time", logger.Fields{
				"role":    role,
				"timeout": timeout.String(),
			})
		}
		if s.group != nil {
			go func() {
				if err := s.group.Wait(); err != nil {
					logger.WarnCF("supervisor", "Agent exited with error", logger.Fields{"error": err.Error()})
				}
			}()
		}

		s.running.Store(false)
		close(s.done)
		logger.InfoCF("supervisor", "All agents stopped", nil)
	})
}

// join waits for the exited channel of each role against one shared
// deadline and returns the roles still running when it passes.
func join(roles []string, exited map[string]chan struct{}, timeout time.Duration) []string {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var stragglers []string
	expired := false
	for _, role := range roles {
		ch, ok := exited[role]
		if !ok {
			continue
		}
		if !expired {
			select {
			case <-ch:
				continue
			case <-timer.C:
				expired = true
			}
		}
		select {
		case <-ch:
		default:
			stragglers = append(stragglers, role)
		}
	}
	return stragglers
}

func (s *Supervisor) closeTransport(ctx context.Context) error {
	var err error
	if s.broker != nil {
		err = s.broker.Close(ctx)
	}
	s.closeRedis()
	return err
}

func (s *Supervisor) closeRedis() {
	if s.ownsRedis && s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			logger.DebugCF("supervisor", "Failed to close redis client", logger.Fields{"error": err.Error()})
		}
		s.ownsRedis = false
	}
}

func logMessage(msg protocol.Message) {
	logger.DebugCF("supervisor", "Message published", logger.Fields{
		"topic":   msg.Topic().String(),
		"task_id": msg.CorrelationID(),
	})
}
