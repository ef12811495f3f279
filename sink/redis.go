package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"github.com/tryfix/windowsync/data"
)

// RedisClient is the part of redis.UniversalClient the sink uses.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

type RedisOption func(r *Redis)

// WithTTL expires written keys after ttl, zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

func WithRedisKeyValue(fn KeyValueFunc) RedisOption {
	return func(r *Redis) {
		r.keyValue = fn
	}
}

func WithRedisLogger(logger log.Logger) RedisOption {
	return func(r *Redis) {
		r.logger = logger
	}
}

// Redis SETs every committed record.
type Redis struct {
	client   RedisClient
	keyValue KeyValueFunc
	ttl      time.Duration
	logger   log.Logger
}

func NewRedis(client RedisClient, opts ...RedisOption) (*Redis, error) {
	if client == nil {
		return nil, errors.New(`windowsync.sink.Redis: client cannot be nil`)
	}

	r := &Redis{
		client:   client,
		keyValue: RecordKeyValue,
		logger:   log.NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	r.logger = r.logger.NewLog(log.Prefixed(`redis-sink`))

	return r, nil
}

// NewRedisClient connects to a single redis node and pings it.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.WithPrevious(err, fmt.Sprintf(`cannot reach redis on %s`, addr))
	}

	return client, nil
}

func (r *Redis) Commit(ctx context.Context, record *data.Record) error {
	key, value, err := r.keyValue(record)
	if err != nil {
		return errors.WithPrevious(err, `cannot map record to a redis key`)
	}

	if err := r.client.Set(ctx, string(key), value, r.ttl).Err(); err != nil {
		return errors.WithPrevious(err, fmt.Sprintf(`cannot set redis key %s`, key))
	}

	r.logger.TraceContext(ctx, fmt.Sprintf(`%s committed as %s`, record, key))

	return nil
}

func (r *Redis) String() string {
	return `redis`
}
