package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter 以 key 區分額度，key 通常為購物車 owner
type Limiter interface {
	Allow(ctx context.Context, key string) bool
	Stop()
}

type LimiterConfig struct {
	Capacity   int
	Rate       float64       // tokens/秒
	RefillRate time.Duration // 補充時間間隔
	// IdleTTL 超過時間沒有請求的 bucket 會被回收
	IdleTTL time.Duration
}

func GetDefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		Capacity:   20,
		Rate:       10,
		RefillRate: 100 * time.Millisecond,
		IdleTTL:    10 * time.Minute,
	}
}

/*
TokenBucket 單一 key 的 bucket
請使用 defer 呼叫 Stop()
*/
type TokenBucket struct {
	LimiterConfig
	current      atomic.Int64
	lastRefilled atomic.Int64
	cancel       chan struct{}
	once         sync.Once
}

func NewTokenBucket(config *LimiterConfig) *TokenBucket {
	t := &TokenBucket{
		cancel: make(chan struct{}),
	}
	if config != nil {
		t.LimiterConfig = *config
	} else {
		t.LimiterConfig = GetDefaultLimiterConfig()
	}

	t.current.Store(int64(t.Capacity))
	t.lastRefilled.Store(time.Now().UnixNano())
	go t.background()
	return t
}

func (t *TokenBucket) Allow() bool {
	for {
		current := t.current.Load()
		if current <= 0 {
			return false
		}
		if t.current.CompareAndSwap(current, current-1) {
			return true
		}
	}
}

// Tokens 目前剩餘數量
func (t *TokenBucket) Tokens() int64 {
	return t.current.Load()
}

// 不足一個 token 時不更新 lastRefilled，小數部分留到下次累積
func (t *TokenBucket) refill(now int64) {
	for {
		current := t.current.Load()
		if current >= int64(t.Capacity) {
			t.lastRefilled.Store(now)
			return
		}
		elapsed := time.Duration(now - t.lastRefilled.Load())
		toAdd := int64(elapsed.Seconds() * t.Rate)
		if toAdd <= 0 {
			return
		}
		next := current + toAdd
		if next > int64(t.Capacity) {
			next = int64(t.Capacity)
		}
		if t.current.CompareAndSwap(current, next) {
			t.lastRefilled.Store(now)
			return
		}
	}
}

func (t *TokenBucket) background() {
	ticker := time.NewTicker(t.RefillRate)
	defer ticker.Stop()

	for {
		select {
		case <-t.cancel:
			return
		case <-ticker.C:
			t.refill(time.Now().UnixNano())
		}
	}
}

func (t *TokenBucket) Stop() {
	t.once.Do(func() {
		close(t.cancel)
	})
}
