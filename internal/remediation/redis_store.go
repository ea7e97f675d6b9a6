package remediation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const historyKey = "complyforge:history"

// RedisStore is a Redis-backed Store using a sorted set scored by execution
// start time, so range queries map directly to ZRANGEBYSCORE.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed history store. A zero ttl keeps
// history forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Append records the execution in the history sorted set.
func (s *RedisStore) Append(ctx context.Context, exec *Execution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("encoding execution %s: %w", exec.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, historyKey, redis.Z{
		Score:  float64(exec.StartedAt.UnixNano()),
		Member: data,
	})
	if s.ttl > 0 {
		pipe.Expire(ctx, historyKey, s.ttl)
		// Trim members older than the retention window on every append so
		// the set does not grow unbounded under a refreshed key TTL.
		cutoff := time.Now().Add(-s.ttl).UnixNano()
		pipe.ZRemRangeByScore(ctx, historyKey, "-inf", fmt.Sprintf("%d", cutoff))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending execution %s to history: %w", exec.ID, err)
	}
	return nil
}

// Range returns executions started within [start, end).
func (s *RedisStore) Range(ctx context.Context, start, end time.Time) ([]*Execution, error) {
	if end.IsZero() {
		end = time.Now().UTC().Add(time.Second)
	}

	members, err := s.client.ZRangeByScore(ctx, historyKey, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", start.UnixNano()),
		Max: fmt.Sprintf("(%d", end.UnixNano()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("reading history range: %w", err)
	}

	executions := make([]*Execution, 0, len(members))
	for _, member := range members {
		var exec Execution
		if err := json.Unmarshal([]byte(member), &exec); err != nil {
			return nil, fmt.Errorf("decoding history entry: %w", err)
		}
		executions = append(executions, &exec)
	}
	return executions, nil
}
