// Package redis disponibiliza a implementação do storage baseada em Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/ports"
)

// incrementScript incrementa todas as KEYS e só define TTL nas chaves que
// ainda não têm expiração (criadas agora). Um script roda de forma atômica no
// servidor, então dois incrementos concorrentes nunca veem o mesmo valor.
var incrementScript = redis.NewScript(`
local out = {}
for i, key in ipairs(KEYS) do
  local v = redis.call('INCR', key)
  local ttl = redis.call('PTTL', key)
  if ttl == -1 then
    local want = tonumber(ARGV[i])
    if want > 0 then
      redis.call('PEXPIRE', key, want)
      ttl = want
    end
  end
  out[#out + 1] = v
  out[#out + 1] = ttl
end
return out
`)

var decrementScript = redis.NewScript(`
local v = tonumber(redis.call('GET', KEYS[1]) or '0')
if v > 0 then
  return redis.call('DECR', KEYS[1])
end
return 0
`)

const scanCount = 200

type Storage struct {
	client  *redis.Client
	timeout time.Duration
}

var _ ports.CounterStore = (*Storage)(nil)

type Config struct {
	Addr     string
	Password string
	DB       int
	// Timeout limita cada chamada individual ao Redis.
	Timeout time.Duration
}

func New(cfg Config) (*Storage, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromClient(client, cfg.Timeout), nil
}

// NewFromClient embrulha um cliente existente sem validar conectividade.
func NewFromClient(client *redis.Client, timeout time.Duration) *Storage {
	return &Storage{client: client, timeout: timeout}
}

func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Storage) Increment(ctx context.Context, incs ...ports.Increment) ([]ports.Counter, error) {
	if len(incs) == 0 {
		return nil, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	keys := make([]string, len(incs))
	args := make([]any, len(incs))
	for i, inc := range incs {
		keys[i] = inc.Key
		args[i] = inc.TTL.Milliseconds()
	}

	values, err := incrementScript.Run(ctx, s.client, keys, args...).Int64Slice()
	if err != nil {
		return nil, err
	}
	if len(values) != 2*len(incs) {
		return nil, fmt.Errorf("unexpected increment reply length %d", len(values))
	}

	out := make([]ports.Counter, len(incs))
	for i := range incs {
		out[i] = ports.Counter{Value: values[2*i], TTL: pttl(values[2*i+1])}
	}
	return out, nil
}

func (s *Storage) Decrement(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return decrementScript.Run(ctx, s.client, []string{key}).Err()
}

func (s *Storage) Counts(ctx context.Context, keys ...string) ([]int64, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]int64, len(keys))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %s is not an integer: %w", keys[i], err)
		}
		out[i] = n
	}
	return out, nil
}

func (s *Storage) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *Storage) Get(ctx context.Context, key string) (ports.Entry, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pipe := s.client.TxPipeline()
	get := pipe.Get(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return ports.Entry{}, false, err
	}

	value, err := get.Result()
	if errors.Is(err, redis.Nil) {
		return ports.Entry{}, false, nil
	}
	if err != nil {
		return ports.Entry{}, false, err
	}
	remaining := ttl.Val()
	if remaining < 0 {
		remaining = 0
	}
	return ports.Entry{Value: value, TTL: remaining}, true, nil
}

func (s *Storage) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Del(ctx, keys...).Err()
}

func (s *Storage) Keys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", scanCount).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

func (s *Storage) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// pttl converte a resposta de PTTL; -1 (sem expiração) e -2 viram zero.
func pttl(ms int64) time.Duration {
	if ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
