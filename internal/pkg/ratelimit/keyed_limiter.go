package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucketEntry struct {
	bucket   *TokenBucket
	lastSeen time.Time
}

// KeyedLimiter 每個 key 一個 TokenBucket，閒置的 bucket 由背景程序回收
type KeyedLimiter struct {
	cfg     LimiterConfig
	mu      sync.Mutex
	buckets map[string]*bucketEntry
	cancel  chan struct{}
	once    sync.Once
}

func NewKeyedLimiter(config *LimiterConfig) *KeyedLimiter {
	cfg := GetDefaultLimiterConfig()
	if config != nil {
		cfg = *config
	}
	l := &KeyedLimiter{
		cfg:     cfg,
		buckets: make(map[string]*bucketEntry),
		cancel:  make(chan struct{}),
	}
	if cfg.IdleTTL > 0 {
		go l.janitor()
	}
	return l
}

var _ Limiter = (*KeyedLimiter)(nil)

func (l *KeyedLimiter) Allow(ctx context.Context, key string) bool {
	l.mu.Lock()
	e, ok := l.buckets[key]
	if !ok {
		e = &bucketEntry{bucket: NewTokenBucket(&l.cfg)}
		l.buckets[key] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()
	return e.bucket.Allow()
}

func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *KeyedLimiter) evictIdle(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.buckets {
		if now.Sub(e.lastSeen) > l.cfg.IdleTTL {
			e.bucket.Stop()
			delete(l.buckets, key)
		}
	}
}

func (l *KeyedLimiter) janitor() {
	ticker := time.NewTicker(l.cfg.IdleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-l.cancel:
			return
		case now := <-ticker.C:
			l.evictIdle(now)
		}
	}
}

func (l *KeyedLimiter) Stop() {
	l.once.Do(func() {
		close(l.cancel)
		l.mu.Lock()
		defer l.mu.Unlock()
		for key, e := range l.buckets {
			e.bucket.Stop()
			delete(l.buckets, key)
		}
	})
}
