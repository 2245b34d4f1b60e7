package commands

import (
	"context"
	"fmt"

	"github.com/dyluth/cerebrum/internal/config"
	"github.com/dyluth/cerebrum/internal/printer"
	"github.com/dyluth/cerebrum/internal/task"
	"github.com/redis/go-redis/v9"
)

// openJournal connects to the Redis task journal of instance. The URL and
// instance fall back to the broker section of the configuration.
func openJournal(ctx context.Context, cfg *config.Config, redisURL, instance string) (*task.RedisJournal, *redis.Client, string, error) {
	if redisURL == "" {
		redisURL = cfg.Broker.RedisURL
	}
	if instance == "" {
		instance = cfg.Broker.Instance
	}
	if redisURL == "" {
		return nil, nil, "", printer.Error(
			"no Redis URL",
			"The task journal is only written when the broker uses the redis transport.",
			[]string{
				"Pass --redis-url redis://localhost:6379",
				"Or set REDIS_URL, as the running instance does",
			},
		)
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, "", printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", redisURL),
			map[string]string{"error": err.Error()},
			[]string{"Check the instance is running with broker.transport: redis"},
		)
	}

	journal, err := task.NewRedisJournal(rdb, instance)
	if err != nil {
		rdb.Close()
		return nil, nil, "", printer.Error("invalid instance name", err.Error(), nil)
	}
	return journal, rdb, instance, nil
}
