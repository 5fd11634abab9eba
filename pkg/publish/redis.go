package publish

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/matzehuels/vpmlisting/pkg/errors"
	"github.com/matzehuels/vpmlisting/pkg/vpm"
)

// DefaultRedisKey is the key a listing is stored under when none is given.
const DefaultRedisKey = "vpmlisting:index"

// RedisConfig holds connection settings for a Redis publisher.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Key is the key holding the listing document.
	Key string
	// TTL expires the key; zero keeps it until the next publish.
	TTL time.Duration
}

// redisClient is the part of *redis.Client the publisher uses.
type redisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Close() error
}

// Redis publishes a listing to a single Redis key.
type Redis struct {
	client redisClient
	key    string
	ttl    time.Duration
}

// NewRedis connects to the server in cfg and verifies it answers.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "redis address is required")
	}
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, errors.Wrap(errors.ErrCodeFetch, err, "connect to redis at %s", cfg.Addr)
	}
	return newRedis(c, cfg), nil
}

func newRedis(c redisClient, cfg RedisConfig) *Redis {
	key := cfg.Key
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: c, key: key, ttl: cfg.TTL}
}

func (r *Redis) Publish(ctx context.Context, l *vpm.Listing) error {
	data, err := Encode(l)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeFetch, err, "store listing at redis key %s", r.key)
	}
	return nil
}

// Load returns the stored listing, or nil with no error when the key is unset.
func (r *Redis) Load(ctx context.Context) (*vpm.Listing, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFetch, err, "read redis key %s", r.key)
	}
	var l vpm.Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "parse redis key %s", r.key)
	}
	return &l, nil
}

func (r *Redis) Close() error { return r.client.Close() }

var (
	_ Publisher = (*Redis)(nil)
	_ Loader    = (*Redis)(nil)
)
