package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/comercio-backoffice/pkg/config"
	"github.com/angelmondragon/comercio-backoffice/pkg/logger"
)

// Every key this service writes lives under bo:<kind>:...
const (
	keyNamespace   = "bo"
	kindIdempotent = "idempotency"
	kindLock       = "lock"
)

// ErrNotInitialized is returned by a Client that holds no connection.
var ErrNotInitialized = errors.New("redis client not initialized")

// releaseScript deletes KEYS[1] only while it still holds ARGV[1].
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// IdempotencyStore is what the HTTP idempotency guard needs: claim a key, read
// it back, overwrite it with the final response and release it on failure.
type IdempotencyStore interface {
	IdempotencyKey(scope, id string) string
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	Get(context.Context, string) (string, error)
	Set(context.Context, string, any, time.Duration) error
	Del(context.Context, ...string) error
}

// Client backs request idempotency on the API and the single-runner lock of the
// cron worker.
type Client struct {
	store cmdable
	raw   *redis.Client
}

// New connects using cfg and fails fast when the server does not answer PING.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "redis_db", opts.DB), "redis connection established")
	}
	return &Client{store: raw, raw: raw}, nil
}

// optionsFromConfig starts from the URL when one is given and lets explicit
// config fill whatever the URL left unset.
func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	opts := &redis.Options{Addr: cfg.Address, Password: cfg.Password}
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	case cfg.Address == "":
		return nil, errors.New("redis url or address is required")
	}

	for _, fill := range []struct {
		dst *int
		src int
	}{
		{&opts.DB, cfg.DB},
		{&opts.PoolSize, cfg.PoolSize},
		{&opts.MinIdleConns, cfg.MinIdleConns},
	} {
		if *fill.dst == 0 {
			*fill.dst = fill.src
		}
	}
	for _, fill := range []struct {
		dst *time.Duration
		src time.Duration
	}{
		{&opts.DialTimeout, cfg.DialTimeout},
		{&opts.ReadTimeout, cfg.ReadTimeout},
		{&opts.WriteTimeout, cfg.WriteTimeout},
	} {
		if *fill.dst == 0 {
			*fill.dst = fill.src
		}
	}
	return opts, nil
}

func (c *Client) conn() (cmdable, error) {
	if c == nil || c.store == nil {
		return nil, ErrNotInitialized
	}
	return c.store, nil
}

// IdempotencyKey scopes a client-supplied Idempotency-Key.
func (c *Client) IdempotencyKey(scope, id string) string {
	return joinKey(kindIdempotent, scope, id)
}

// LockKey names the lock held by one kind of background runner.
func (c *Client) LockKey(name string) string {
	return joinKey(kindLock, name)
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	conn, err := c.conn()
	if err != nil {
		return "", err
	}
	return conn.Get(ctx, key).Result()
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	conn, err := c.conn()
	if err != nil {
		return err
	}
	return conn.Set(ctx, key, value, ttl).Err()
}

// SetNX reports whether this call created key.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	conn, err := c.conn()
	if err != nil {
		return false, err
	}
	return conn.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	conn, err := c.conn()
	if err != nil {
		return err
	}
	return conn.Del(ctx, keys...).Err()
}

// DelIfValue deletes key only while it still holds value, so a lock owner never
// releases a lock that expired and was taken by another runner.
func (c *Client) DelIfValue(ctx context.Context, key, value string) (bool, error) {
	conn, err := c.conn()
	if err != nil {
		return false, err
	}
	n, err := conn.Eval(ctx, releaseScript, []string{key}, value).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *Client) Ping(ctx context.Context) error {
	conn, err := c.conn()
	if err != nil {
		return err
	}
	return conn.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

func joinKey(kind string, parts ...string) string {
	key := []string{keyNamespace, kind}
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			key = append(key, p)
		}
	}
	return strings.Join(key, ":")
}
