package httpx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter is a fixed window counter shared by every service instance.
type RedisCounter struct {
	rdb    *redis.Client
	window time.Duration
	prefix string
}

// The script returns the hit count and the remaining window in milliseconds.
var redisFixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

func NewRedisCounter(rdb *redis.Client, window time.Duration, prefix string) *RedisCounter {
	if window <= 0 {
		window = time.Minute
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisCounter{rdb: rdb, window: window, prefix: prefix}
}

func (c *RedisCounter) Incr(ctx context.Context, key string) (int64, time.Duration, error) {
	res, err := redisFixedWindowScript.Run(ctx, c.rdb, []string{c.prefix + ":" + key}, c.window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected rate limit script result %v", res)
	}
	ttl := time.Duration(res[1]) * time.Millisecond
	if ttl < 0 {
		ttl = c.window
	}
	return res[0], ttl, nil
}
