// Package sink mirrors the level-2 delta stream into external systems. Sinks
// read from a marketdata.Publisher sink channel and never slow the sequencer:
// when they fall behind, the publisher drops deltas for them.
package sink

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nathanyu/level2-book/internal/domain"
)

// RedisClient abstracts the Redis operations used by RedisMirror.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...any) error
	HDel(ctx context.Context, key string, fields ...string) error
	Del(ctx context.Context, keys ...string) error
}

// goRedis adapts *redis.Client to RedisClient.
type goRedis struct {
	client *redis.Client
}

func (g goRedis) HSet(ctx context.Context, key string, values ...any) error {
	return g.client.HSet(ctx, key, values...).Err()
}

func (g goRedis) HDel(ctx context.Context, key string, fields ...string) error {
	return g.client.HDel(ctx, key, fields...).Err()
}

func (g goRedis) Del(ctx context.Context, keys ...string) error {
	return g.client.Del(ctx, keys...).Err()
}

// NewRedisClient connects to Redis and verifies the connection with PING.
// The returned close func releases the connection pool.
func NewRedisClient(ctx context.Context, addr, password string, db int) (RedisClient, func() error, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return goRedis{client: client}, client.Close, nil
}

// RedisMirror keeps a Redis copy of the aggregated book:
//
//	Key:    l2:{instrument}:{bid|ask}
//	Fields: price -> aggregate quantity
//	Meta:   l2:{instrument}:meta, field seq -> last applied sequence number
//
// A zero-quantity delta deletes the price field.
type RedisMirror struct {
	client     RedisClient
	instrument string
	logger     *zap.Logger
}

// NewRedisMirror creates a mirror for one instrument.
func NewRedisMirror(client RedisClient, instrument string, logger *zap.Logger) *RedisMirror {
	return &RedisMirror{
		client:     client,
		instrument: instrument,
		logger:     logger.Named("redis-mirror"),
	}
}

// SideKey returns the hash key holding one side of the book.
func (m *RedisMirror) SideKey(side domain.Side) string {
	return fmt.Sprintf("l2:%s:%s", m.instrument, side)
}

func (m *RedisMirror) metaKey() string {
	return fmt.Sprintf("l2:%s:meta", m.instrument)
}

// Run clears any stale mirror, then applies deltas from feed until it is
// closed or ctx is cancelled.
func (m *RedisMirror) Run(ctx context.Context, feed <-chan domain.Delta) error {
	// The book is in-memory only, so a previous run's mirror is stale.
	if err := m.client.Del(ctx, m.SideKey(domain.SideBid), m.SideKey(domain.SideAsk), m.metaKey()); err != nil {
		return fmt.Errorf("reset redis mirror: %w", err)
	}
	m.logger.Info("mirroring book", zap.String("instrument", m.instrument))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-feed:
			if !ok {
				return nil
			}
			if err := m.apply(ctx, d); err != nil {
				m.logger.Warn("mirror write failed", zap.Uint64("seq", d.Seq), zap.Error(err))
			}
		}
	}
}

func (m *RedisMirror) apply(ctx context.Context, d domain.Delta) error {
	key := m.SideKey(d.Side)
	price := strconv.FormatInt(d.Price, 10)

	if d.Quantity == 0 {
		if err := m.client.HDel(ctx, key, price); err != nil {
			return err
		}
	} else if err := m.client.HSet(ctx, key, price, strconv.FormatInt(d.Quantity, 10)); err != nil {
		return err
	}
	return m.client.HSet(ctx, m.metaKey(), "seq", strconv.FormatUint(d.Seq, 10))
}
