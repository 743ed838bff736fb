package descriptor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mediagate/pkg/types"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SharedStore is a descriptor tier shared by several gateway replicas. It
// holds raw remote objects; descriptors are rebuilt locally on read.
type SharedStore interface {
	// Get returns nil without error when id is absent
	Get(ctx context.Context, id types.ObjectID) (*types.RemoteObject, error)
	Set(ctx context.Context, id types.ObjectID, obj *types.RemoteObject, ttl time.Duration) error
	Delete(ctx context.Context, id types.ObjectID) error
}

// RedisConfig configures the redis tier
type RedisConfig struct {
	Addr     string
	DB       int
	Password string
	Prefix   string
}

// RedisStore keeps remote objects in redis as JSON
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore creates a new redis-backed shared store
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "mediagate:object:"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	})
	return &RedisStore{rdb: rdb, prefix: prefix, logger: logger}
}

// Ping checks that redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *RedisStore) key(id types.ObjectID) string {
	return s.prefix + id.String()
}

func (s *RedisStore) Get(ctx context.Context, id types.ObjectID) (*types.RemoteObject, error) {
	b, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var obj types.RemoteObject
	if err := json.Unmarshal(b, &obj); err != nil {
		s.logger.Warn("Discarding unreadable shared descriptor",
			zap.String("key", s.key(id)),
			zap.Error(err))
		return nil, nil
	}
	return &obj, nil
}

func (s *RedisStore) Set(ctx context.Context, id types.ObjectID, obj *types.RemoteObject, ttl time.Duration) error {
	b, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encode object %s: %w", id, err)
	}
	return s.rdb.Set(ctx, s.key(id), b, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, id types.ObjectID) error {
	return s.rdb.Del(ctx, s.key(id)).Err()
}

// Close closes the redis client
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
