package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of Checkpointer.
//
// Each thread is stored as a hash of encoded checkpoints keyed by step plus a
// sorted set of its steps. A set of thread ids backs Threads. RedisStore also
// implements HistoryReader and Deleter.
type RedisStore struct {
	client backend.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisTTL sets the expiration applied to a thread's keys on every save.
// Zero keeps threads forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithRedisPrefix sets the key prefix. The default is "stategraph:".
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a RedisStore connected to address.
func NewRedisStore(address, password string, db int, opts ...RedisOption) *RedisStore {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(client, opts...)
}

// NewRedisStoreFromClient creates a RedisStore from an existing client.
func NewRedisStoreFromClient(client backend.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "stategraph:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) checkpointsKey(threadID string) string {
	return s.prefix + "checkpoints:" + threadID
}

func (s *RedisStore) stepsKey(threadID string) string {
	return s.prefix + "steps:" + threadID
}

func (s *RedisStore) threadsKey() string {
	return s.prefix + "threads"
}

// Save stores cp, replacing any checkpoint with the same thread and step.
func (s *RedisStore) Save(ctx context.Context, cp Checkpoint) error {
	if cp.ThreadID == "" {
		return errMissingThread
	}
	data, err := encode(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	step := strconv.Itoa(cp.Step)
	_, err = s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.HSet(ctx, s.checkpointsKey(cp.ThreadID), step, data)
		pipe.ZAdd(ctx, s.stepsKey(cp.ThreadID), backend.Z{Score: float64(cp.Step), Member: step})
		pipe.SAdd(ctx, s.threadsKey(), cp.ThreadID)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.checkpointsKey(cp.ThreadID), s.ttl)
			pipe.Expire(ctx, s.stepsKey(cp.ThreadID), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load returns the checkpoint with the highest step of threadID.
func (s *RedisStore) Load(ctx context.Context, threadID string) (Checkpoint, error) {
	steps, err := s.client.ZRevRange(ctx, s.stepsKey(threadID), 0, 0).Result()
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to load steps: %w", err)
	}
	if len(steps) == 0 {
		return Checkpoint{}, ErrNotFound
	}

	data, err := s.client.HGet(ctx, s.checkpointsKey(threadID), steps[0]).Bytes()
	if errors.Is(err, backend.Nil) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return decode(data)
}

// History returns up to limit checkpoints of threadID, newest first.
func (s *RedisStore) History(ctx context.Context, threadID string, limit int) ([]Checkpoint, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	steps, err := s.client.ZRevRange(ctx, s.stepsKey(threadID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}
	if len(steps) == 0 {
		return nil, nil
	}

	values, err := s.client.HMGet(ctx, s.checkpointsKey(threadID), steps...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoints: %w", err)
	}

	out := make([]Checkpoint, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		cp, err := decode([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Delete removes every checkpoint of threadID.
func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Del(ctx, s.checkpointsKey(threadID), s.stepsKey(threadID))
		pipe.SRem(ctx, s.threadsKey(), threadID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	return nil
}

// Threads returns every thread id whose checkpoints have not expired, sorted.
func (s *RedisStore) Threads(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.threadsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := s.client.Exists(ctx, s.stepsKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check thread %s: %w", id, err)
		}
		if n > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
