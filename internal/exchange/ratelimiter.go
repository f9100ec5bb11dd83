package exchange

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// RateLimiter 令牌桶限流器
type RateLimiter struct {
	rate       float64
	capacity   float64
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewRateLimiter 创建新的限流器
func NewRateLimiter(rate float64, capacity int) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &RateLimiter{
		rate:       rate,
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		lastUpdate: time.Now(),
	}
}

// Acquire 尝试获取令牌，失败时返回需要等待的时间
func (rl *RateLimiter) Acquire(tokens int) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastUpdate).Seconds()
	rl.tokens = min(rl.capacity, rl.tokens+elapsed*rl.rate)
	rl.lastUpdate = now

	if rl.tokens >= float64(tokens) {
		rl.tokens -= float64(tokens)
		return true, 0
	}

	waitSec := (float64(tokens) - rl.tokens) / rl.rate
	waitSec = max(0.01, min(waitSec, 1.0))
	return false, time.Duration(waitSec * float64(time.Second))
}

// Wait 等待直到可以获取令牌或ctx结束
func (rl *RateLimiter) Wait(ctx context.Context, tokens int) error {
	for {
		ok, wait := rl.Acquire(tokens)
		if ok {
			return nil
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// BackoffManager 退避管理器（处理429/418限流）
type BackoffManager struct {
	backoffUntil map[string]time.Time
	backoffLevel map[string]int
	mu           sync.RWMutex
	maxLevel     int
	maxSec       float64
}

// NewBackoffManager 创建退避管理器
func NewBackoffManager(maxLevel int, maxSec float64) *BackoffManager {
	return &BackoffManager{
		backoffUntil: make(map[string]time.Time),
		backoffLevel: make(map[string]int),
		maxLevel:     maxLevel,
		maxSec:       maxSec,
	}
}

// Until 退避截止时间（零值表示无退避）
func (bm *BackoffManager) Until(endpoint string) time.Time {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return bm.backoffUntil[endpoint]
}

// WaitBackoff 等待退避窗口
func (bm *BackoffManager) WaitBackoff(ctx context.Context, endpoint string) error {
	for {
		until := bm.Until(endpoint)
		if until.IsZero() || time.Now().After(until) {
			return nil
		}
		wait := time.Until(until)
		if wait > time.Second {
			wait = time.Second
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// SetBackoff 设置退避窗口
func (bm *BackoffManager) SetBackoff(endpoint string, waitSec float64) {
	if waitSec <= 0 {
		return
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()

	until := time.Now().Add(time.Duration(waitSec * float64(time.Second)))
	cur, exists := bm.backoffUntil[endpoint]
	if !exists || until.After(cur) {
		bm.backoffUntil[endpoint] = until
	}
}

// ResetBackoff 重置退避
func (bm *BackoffManager) ResetBackoff(endpoint string) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	delete(bm.backoffUntil, endpoint)
	bm.backoffLevel[endpoint] = 0
}

// OnRateLimited 处理限流，返回建议等待时间
func (bm *BackoffManager) OnRateLimited(endpoint string, status int, retryAfter *float64) float64 {
	bm.mu.Lock()
	level := bm.backoffLevel[endpoint]
	bm.backoffLevel[endpoint] = min(bm.maxLevel, level+1)
	bm.mu.Unlock()

	var waitSec float64
	if retryAfter != nil {
		waitSec = *retryAfter
	} else {
		// 418表示IP被封禁，基数更大
		base := 60.0
		if status != 418 {
			base = 1.0
		}
		multiplier := 1.0
		for i := 0; i < min(level, bm.maxLevel); i++ {
			multiplier *= 2.0
		}
		waitSec = min(base*multiplier, bm.maxSec)
	}

	// 抖动
	waitSec = max(1.0, min(waitSec, bm.maxSec))
	waitSec += min(0.1*waitSec, 1.0)

	bm.SetBackoff(endpoint, waitSec)
	return waitSec
}

// ParseRetryAfter 解析Retry-After头
func ParseRetryAfter(value string) *float64 {
	if value == "" {
		return nil
	}

	if sec, err := strconv.ParseFloat(value, 64); err == nil {
		if sec >= 0 {
			return &sec
		}
	}

	if t, err := time.Parse(time.RFC1123, value); err == nil {
		wait := time.Until(t).Seconds()
		if wait >= 0 {
			return &wait
		}
	}

	return nil
}
