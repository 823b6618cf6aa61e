package ratelimit

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Counter increment and expiry set in one script so the window cannot be
// over-admitted by a check-then-increment race.
const hitScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`

const peekScript = `
local count = redis.call("GET", KEYS[1])
if count == false then
  return {0, -1}
end
return {tonumber(count), redis.call("PTTL", KEYS[1])}
`

type redisStore struct {
	client *redis.Client
	hit    *redis.Script
	peek   *redis.Script
}

func NewRedisStore(client *redis.Client) Store {
	if client == nil {
		return nil
	}
	return &redisStore{
		client: client,
		hit:    redis.NewScript(hitScript),
		peek:   redis.NewScript(peekScript),
	}
}

func (s *redisStore) Hit(ctx context.Context, key string, window time.Duration) (WindowState, error) {
	if key == "" {
		return WindowState{}, errors.New("rate limit key is empty")
	}
	if window <= 0 {
		return WindowState{}, errors.New("rate limit window must be positive")
	}
	res, err := s.hit.Run(ctx, s.client, []string{key}, window.Milliseconds()).Slice()
	if err != nil {
		return WindowState{}, err
	}
	return parseWindowState(res, window)
}

func (s *redisStore) Peek(ctx context.Context, key string) (WindowState, error) {
	if key == "" {
		return WindowState{}, errors.New("rate limit key is empty")
	}
	res, err := s.peek.Run(ctx, s.client, []string{key}).Slice()
	if err != nil {
		return WindowState{}, err
	}
	return parseWindowState(res, 0)
}

func parseWindowState(res []interface{}, window time.Duration) (WindowState, error) {
	if len(res) < 2 {
		return WindowState{}, errors.New("invalid rate limit script response")
	}
	count, ok := res[0].(int64)
	if !ok {
		return WindowState{}, errors.New("invalid rate limit count")
	}
	ttlMillis, ok := res[1].(int64)
	if !ok {
		return WindowState{}, errors.New("invalid rate limit ttl")
	}

	ttl := time.Duration(ttlMillis) * time.Millisecond
	if ttlMillis < 0 {
		// PEXPIRE can race with expiry between INCR and PTTL; treat the
		// key as a fresh window.
		ttl = window
	}
	return WindowState{Count: count, TTL: ttl}, nil
}
