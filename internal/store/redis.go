// ABOUTME: Redis-backed best-effort snapshot store for room state
// ABOUTME: Absence of a snapshot is not an error; memory stays authoritative
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/syncjam/syncjam-go/internal/room"
)

const (
	// SnapshotTTL bounds how long a stale room snapshot survives.
	SnapshotTTL = 24 * time.Hour

	defaultKey = "syncjam:room"
	opTimeout  = 2 * time.Second
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore persists room snapshots in Redis.
type RedisStore struct {
	client *redis.Client
	key    string
	logger zerolog.Logger
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(cfg RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to snapshot store")

	return &RedisStore{
		client: client,
		key:    defaultKey,
		logger: logger,
	}, nil
}

// Load returns the stored snapshot, or nil when none exists.
func (s *RedisStore) Load(ctx context.Context) (*room.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot load: %w", err)
	}

	var snap room.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("snapshot decode: %w", err)
	}
	return &snap, nil
}

// Save stores the snapshot with the configured TTL.
func (s *RedisStore) Save(ctx context.Context, snap room.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot encode: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, SnapshotTTL).Err(); err != nil {
		return fmt.Errorf("snapshot save: %w", err)
	}
	return nil
}

// Healthy reports whether Redis answers a ping.
func (s *RedisStore) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.client.Ping(ctx).Err() == nil
}

// Close releases the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
