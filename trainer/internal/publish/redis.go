// Package publish stores run reports in Redis so dashboards and later runs
// can compare results. Each report lives under rulwatch:run:<id> with the
// configured retention; rulwatch:runs is a sorted set of ids scored by
// completion time.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rulwatch/rulwatch/trainer/internal/config"
)

const (
	keyPrefix = "rulwatch:run:"
	indexKey  = "rulwatch:runs"
)

// ErrNotFound is returned by Get when the run is unknown or expired.
var ErrNotFound = errors.New("publish: run not found")

// Publisher writes run reports to Redis.
type Publisher struct {
	client    *redis.Client
	retention time.Duration
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg config.PublishConfig) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       cfg.RedisAddr,
		Password:   cfg.Password(),
		DB:         cfg.DB,
		MaxRetries: 3,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("publish: connect to redis %s: %w", cfg.RedisAddr, err)
	}
	return &Publisher{client: client, retention: cfg.Retention}, nil
}

// RunKey returns the Redis key holding the report of runID.
func RunKey(runID string) string { return keyPrefix + runID }

// Publish stores report as JSON and indexes runID at time at. The index
// entry is trimmed of members older than the retention window.
func (p *Publisher) Publish(ctx context.Context, runID string, at time.Time, report any) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("publish: marshal report: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, RunKey(runID), data, p.retention)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(at.Unix()), Member: runID})
	if p.retention > 0 {
		cutoff := at.Add(-p.retention).Unix()
		pipe.ZRemRangeByScore(ctx, indexKey, "-inf", fmt.Sprintf("(%d", cutoff))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish: store run %s: %w", runID, err)
	}
	return nil
}

// Get returns the raw JSON report of runID.
func (p *Publisher) Get(ctx context.Context, runID string) ([]byte, error) {
	data, err := p.client.Get(ctx, RunKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("publish: get run %s: %w", runID, err)
	}
	return data, nil
}

// Recent returns up to n run ids, newest first.
func (p *Publisher) Recent(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	ids, err := p.client.ZRevRange(ctx, indexKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("publish: list runs: %w", err)
	}
	return ids, nil
}

// Close releases the Redis connection pool.
func (p *Publisher) Close() error {
	return p.client.Close()
}
