package cache

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter 按key限流的接口
type RateLimiter interface {
	// Allow 判断key的请求是否允许通过
	Allow(ctx context.Context, key string) (bool, error)
}

// 令牌桶算法的Lua脚本，时间以毫秒计
const tokenBucketScript = `
local tokens_key = KEYS[1] .. ":tokens"
local timestamp_key = KEYS[1] .. ":ts"
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local tokens = tonumber(redis.call("get", tokens_key) or burst)
local last_update = tonumber(redis.call("get", timestamp_key) or 0)

-- 按经过的时间补充令牌
local elapsed = math.max(0, now - last_update) / 1000
local new_tokens = math.min(burst, tokens + elapsed * rate)

if new_tokens < 1 then
	return 0
end

new_tokens = new_tokens - 1
redis.call("psetex", tokens_key, ttl, new_tokens)
redis.call("psetex", timestamp_key, ttl, now)

return 1
`

// TokenBucketRateLimiter 基于Redis的令牌桶限流器，多实例共享配额
type TokenBucketRateLimiter struct {
	redisClient RedisClient
	prefix      string
	rate        float64 // 每秒生成的令牌数量
	burst       int     // 令牌桶最大容量
}

// NewTokenBucketRateLimiter 创建令牌桶限流器
func NewTokenBucketRateLimiter(client RedisClient, prefix string, r float64, burst int) *TokenBucketRateLimiter {
	return &TokenBucketRateLimiter{
		redisClient: client,
		prefix:      fmt.Sprintf("rate_limit:%s", prefix),
		rate:        r,
		burst:       burst,
	}
}

// Allow 判断请求是否允许通过
func (l *TokenBucketRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.redisClient == nil {
		return false, ErrRedisNotAvailable
	}

	// 令牌从空到满所需时间的两倍作为过期时间
	ttl := int64(2000 * float64(l.burst) / l.rate)
	if ttl < 1000 {
		ttl = 1000
	}

	now := time.Now().UnixMilli()
	result, err := l.redisClient.Eval(ctx, tokenBucketScript,
		[]string{l.prefix + ":" + key}, now, l.rate, l.burst, ttl).Result()
	if err != nil {
		return false, err
	}

	n, ok := result.(int64)
	return ok && n == 1, nil
}

// LocalRateLimiter 进程内限流器，每个key一个 rate.Limiter
type LocalRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewLocalRateLimiter 创建进程内限流器
func NewLocalRateLimiter(r float64, burst int) *LocalRateLimiter {
	return &LocalRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(r),
		burst:    burst,
	}
}

// Allow 判断请求是否允许通过
func (l *LocalRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow(), nil
}

// FallbackRateLimiter 优先使用Redis限流，Redis出错时降级为本地限流
type FallbackRateLimiter struct {
	primary  RateLimiter
	fallback RateLimiter
}

// NewFallbackRateLimiter 创建带降级的限流器，primary可为nil
func NewFallbackRateLimiter(primary, fallback RateLimiter) *FallbackRateLimiter {
	return &FallbackRateLimiter{primary: primary, fallback: fallback}
}

// Allow 判断请求是否允许通过
func (l *FallbackRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.primary != nil {
		allowed, err := l.primary.Allow(ctx, key)
		if err == nil {
			return allowed, nil
		}
		log.Printf("Redis限流检查失败，降级为本地限流: %v", err)
	}
	return l.fallback.Allow(ctx, key)
}
