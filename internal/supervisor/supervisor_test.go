package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/cerebrum/internal/completion"
	"github.com/dyluth/cerebrum/internal/config"
	"github.com/dyluth/cerebrum/internal/marketdata"
	"github.com/dyluth/cerebrum/internal/task"
	"github.com/dyluth/cerebrum/pkg/broker"
	"github.com/dyluth/cerebrum/pkg/protocol"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct{ err error }

func (p stubProvider) Name() string { return "stub" }

func (p stubProvider) Retrieve(_ context.Context, ticker string, _ protocol.Filter) (*marketdata.Series, error) {
	if p.err != nil {
		return nil, p.err
	}
	s := &marketdata.Series{Ticker: ticker}
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		c := 50 + float64(i%5)
		s.Bars = append(s.Bars, marketdata.Bar{Time: day.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 500})
	}
	return s, nil
}

func echoCompletion() completion.Client {
	var mu sync.Mutex
	n := 0
	return completion.Func(func(_ context.Context, role string, _ []protocol.ChatMessage) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s says %d", role, n), nil
	})
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Supervisor.JoinTimeout = time.Second
	require.NoError(t, cfg.Validate())
	return cfg
}

func startSupervisor(t *testing.T, opts Options) *Supervisor {
	t.Helper()
	if opts.Completion == nil {
		opts.Completion = echoCompletion()
	}
	if opts.Provider == nil {
		opts.Provider = stubProvider{}
	}
	s, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Close(ctx)
	})
	require.NoError(t, s.Start(context.Background()))
	return s
}

func waitDone(t *testing.T, s *Supervisor) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not finish")
	}
}

func TestSupervisor_RunToReport(t *testing.T) {
	s := startSupervisor(t, Options{Config: testConfig(t)})
	assert.True(t, s.Running())

	require.NoError(t, s.Submit(context.Background(), "AAPL", protocol.DefaultFilter()))
	waitDone(t, s)

	assert.False(t, s.Running())
	assert.Contains(t, s.Report(), "market_analyst says")
	assert.Empty(t, s.Failures())
	assert.Equal(t, 1, s.Registry().Len())
	assert.Empty(t, s.Registry().Active())

	// Stopping again is a no-op.
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestSupervisor_BlockPolicySmallPool(t *testing.T) {
	for _, scope := range []string{config.ReviewPerAgent, config.ReviewPerTask} {
		t.Run(scope, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Broker.MaxConcurrent = 1
			cfg.Broker.Backpressure = "block"
			cfg.Workflow.ReviewScope = scope
			require.NoError(t, cfg.Validate())

			s := startSupervisor(t, Options{Config: cfg})
			require.NoError(t, s.Submit(context.Background(), "AAPL", protocol.DefaultFilter()))
			waitDone(t, s)

			assert.NotEmpty(t, s.Report(), "stats: %+v", s.Stats())
			assert.Empty(t, s.Failures())
		})
	}
}

func TestJoin_SharedDeadline(t *testing.T) {
	stopped := make(chan struct{})
	close(stopped)
	exited := map[string]chan struct{}{
		"user_proxy":     make(chan struct{}),
		"chief_analyst":  stopped,
		"market_analyst": make(chan struct{}),
	}
	roles := []string{"user_proxy", "chief_analyst", "market_analyst", "not_started"}

	start := time.Now()
	stragglers := join(roles, exited, 100*time.Millisecond)
	elapsed := time.Since(start)

	assert.Equal(t, []string{"user_proxy", "market_analyst"}, stragglers)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 190*time.Millisecond, "stragglers share one deadline")

	assert.Empty(t, join([]string{"chief_analyst"}, exited, time.Second))
}

func TestSupervisor_FailureEndsRun(t *testing.T) {
	s := startSupervisor(t, Options{
		Config:   testConfig(t),
		Provider: stubProvider{err: marketdata.ErrNoData},
	})
	require.NoError(t, s.Submit(context.Background(), "AAPL", protocol.DefaultFilter()))
	waitDone(t, s)

	failures := s.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, protocol.TopicMarketAnalysis, failures[0].Stage)
	assert.Empty(t, s.Report())
}

func TestSupervisor_ShutdownAndContextCancel(t *testing.T) {
	t.Run("shutdown", func(t *testing.T) {
		s := startSupervisor(t, Options{Config: testConfig(t)})
		require.NoError(t, s.Shutdown(context.Background()))
		waitDone(t, s)
		assert.False(t, s.Running())
	})

	t.Run("context", func(t *testing.T) {
		s, err := New(context.Background(), Options{
			Config:     testConfig(t),
			Completion: echoCompletion(),
			Provider:   stubProvider{},
		})
		require.NoError(t, err)
		defer s.Close(context.Background())

		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, s.Start(ctx))
		assert.Error(t, s.Start(ctx), "start twice")
		cancel()
		waitDone(t, s)
	})
}

func TestNew_Errors(t *testing.T) {
	t.Run("no config", func(t *testing.T) {
		_, err := New(context.Background(), Options{})
		assert.Error(t, err)
	})

	t.Run("greeting failure", func(t *testing.T) {
		_, err := New(context.Background(), Options{
			Config: testConfig(t),
			Completion: completion.Func(func(context.Context, string, []protocol.ChatMessage) (string, error) {
				return "", errors.New("401 unauthorized")
			}),
			Provider: stubProvider{},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "greeting failed")
	})

	t.Run("unsupported provider", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.MarketData.Providers = []config.MarketDataProvider{{Name: "Finhub", Priority: 1}}
		_, err := New(context.Background(), Options{Config: cfg, Completion: echoCompletion()})
		assert.ErrorIs(t, err, marketdata.ErrUnsupportedProvider)
	})

	t.Run("interactive without input", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Workflow.Interactive = true
		_, err := New(context.Background(), Options{Config: cfg, Completion: echoCompletion(), Provider: stubProvider{}})
		assert.Error(t, err)
	})
}

func TestSupervisor_RedisTransport(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := testConfig(t)
	cfg.Broker.Transport = config.TransportRedis
	cfg.Broker.RedisURL = "redis://" + mr.Addr()
	cfg.Broker.Instance = "it"

	journal, err := task.NewRedisJournal(rdb, "it")
	require.NoError(t, err)
	sub, err := journal.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	s := startSupervisor(t, Options{Config: cfg, Redis: rdb})
	assert.Equal(t, config.TransportRedis, s.Transport())
	require.NoError(t, s.Ping(context.Background()))

	require.NoError(t, s.Submit(context.Background(), "MSFT", protocol.DefaultFilter()))
	waitDone(t, s)
	assert.Contains(t, s.Report(), "market_analyst says")

	var last task.Event
	timeout := time.After(2 * time.Second)
	for last.To != task.StateTerminal {
		select {
		case last = <-sub.Events():
		case <-timeout:
			t.Fatal("terminal event not journaled")
		}
	}
	rec, err := journal.Get(context.Background(), last.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "MSFT", rec.Ticker)
	assert.Equal(t, task.StateTerminal, rec.State)
}

type fakeStatus struct {
	running   bool
	transport string
	pingErr   error
}

func (f fakeStatus) Running() bool { return f.running }
func (f fakeStatus) Stats() broker.Stats { return broker.Stats{Subscriptions: 7} }
func (f fakeStatus) Transport() string { return f.transport }
func (f fakeStatus) Ping(ctx context.Context) error { return f.pingErr }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name   string
		status fakeStatus
		method string
		code   int
		redis  string
	}{
		{"running memory", fakeStatus{running: true, transport: "memory"}, http.MethodGet, http.StatusOK, ""},
		{"running redis", fakeStatus{running: true, transport: "redis"}, http.MethodGet, http.StatusOK, "connected"},
		{"redis down", fakeStatus{running: true, transport: "redis", pingErr: errors.New("dial tcp: refused")}, http.MethodGet, http.StatusServiceUnavailable, "disconnected"},
		{"stopped", fakeStatus{transport: "memory"}, http.MethodGet, http.StatusServiceUnavailable, ""},
		{"wrong method", fakeStatus{running: true}, http.MethodPost, http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthServer("127.0.0.1:0", tt.status)
			rec := httptest.NewRecorder()
			h.healthCheckHandler(rec, httptest.NewRequest(tt.method, "/healthz", nil))
			assert.Equal(t, tt.code, rec.Code)
			if tt.method != http.MethodGet {
				return
			}
			var body HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.redis, body.Redis)
			assert.Equal(t, 7, body.Broker.Subscriptions)
		})
	}
}

func TestHealthServer_Serves(t *testing.T) {
	cfg := testConfig(t)
	cfg.Supervisor.HealthAddr = "127.0.0.1:0"
	s := startSupervisor(t, Options{Config: cfg})

	resp, err := http.Get("http://" + s.health.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Running)
	assert.Equal(t, "memory", body.Transport)
	assert.Positive(t, body.Broker.Subscriptions)
}
