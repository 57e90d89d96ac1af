package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisClient 介面定義，*redis.Client 滿足此介面
type RedisClient interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

var tokenBucketScript = `
	local key = KEYS[1]
	local capacity = tonumber(ARGV[1])
	local rate = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
	local currentTokens = tonumber(bucket[1])
	local lastRefill = tonumber(bucket[2])

	if currentTokens == nil then
		currentTokens = capacity
		lastRefill = now
	end

	local elapsedSeconds = (now - lastRefill) / 1000000000
	currentTokens = math.min(capacity, currentTokens + elapsedSeconds * rate)

	local allowed = 0
	if currentTokens >= 1 then
		currentTokens = currentTokens - 1
		allowed = 1
	end

	redis.call('HSET', key, 'tokens', currentTokens, 'last_refill', now)
	redis.call('EXPIRE', key, ttl)
	return allowed
`

// RedisTokenBucket 多個 BFF 實例共用額度
// redis 無法使用時放行請求並記錄 log
type RedisTokenBucket struct {
	LimiterConfig
	client RedisClient
	prefix string
	logger *zerolog.Logger
}

func NewRedisTokenBucket(client RedisClient, config *LimiterConfig, prefix string, logger *zerolog.Logger) *RedisTokenBucket {
	rb := &RedisTokenBucket{
		client: client,
		prefix: prefix,
		logger: logger,
	}
	if config != nil {
		rb.LimiterConfig = *config
	} else {
		rb.LimiterConfig = GetDefaultLimiterConfig()
	}
	if rb.logger == nil {
		nop := zerolog.Nop()
		rb.logger = &nop
	}
	return rb
}

var _ Limiter = (*RedisTokenBucket)(nil)

func (r *RedisTokenBucket) Allow(ctx context.Context, key string) bool {
	ttl := int64(r.IdleTTL / time.Second)
	if ttl <= 0 {
		ttl = 60
	}
	result, err := r.client.Eval(
		ctx,
		tokenBucketScript,
		[]string{r.prefix + ":ratelimit:" + key},
		r.Capacity,
		r.Rate,
		time.Now().UnixNano(),
		ttl,
	).Int64()
	if err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("redis rate limiter unavailable, allow request")
		return true
	}
	return result == 1
}

// Stop bucket 狀態在 redis，client 由呼叫端關閉
func (r *RedisTokenBucket) Stop() {}
