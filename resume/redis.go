package resume

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/bitrise-io/chunk-uploader/chunkuploader"
	"github.com/redis/go-redis/v9"
)

var _ chunkuploader.ResumeStore = (*RedisStore)(nil)

// RedisConfig ...
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL expires idle records. Zero keeps them forever.
	TTL time.Duration
}

// RedisStore keeps each resume record in a Redis set, so several machines can share one ledger.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, config RedisConfig) (*RedisStore, error) {
	if config.Addr == "" {
		config.Addr = "localhost:6379"
	}

	options := &redis.Options{
		Addr: config.Addr,
		DB:   config.DB,
	}
	if config.Password != "" {
		options.Password = config.Password
	}
	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", config.Addr, err)
	}

	return NewRedisStoreWithClient(client, config.KeyPrefix, config.TTL), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "chunk-uploader:resume:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) Load(ctx context.Context, key string) ([]uint32, error) {
	members, err := s.client.SMembers(ctx, s.prefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("load resume record: %w", err)
	}

	indices := make([]uint32, 0, len(members))
	for _, member := range members {
		index, err := strconv.ParseUint(member, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid chunk index %q in resume record", member)
		}
		indices = append(indices, uint32(index))
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices, nil
}

func (s *RedisStore) MarkComplete(ctx context.Context, key string, index uint32) error {
	redisKey := s.prefix + key
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, redisKey, strconv.FormatUint(uint64(index), 10))
		if s.ttl > 0 {
			pipe.Expire(ctx, redisKey, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record chunk %d: %w", index, err)
	}
	return nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("reset resume record: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
