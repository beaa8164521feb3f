package risk

import (
	"sync"
	"time"

	"yield-engine/model"
)

// Breaker reduce-only 熔断器：汇总等级达到 critical 即锁定，
// 之后连续 releaseTicks 个 tick 非 critical 才释放。同一 tick 内多次评估只计一次。
type Breaker struct {
	releaseTicks int

	mu           sync.RWMutex
	engaged      bool
	calm         int
	lastCritical time.Time
	lastCalm     time.Time
}

// NewBreaker 创建熔断器
func NewBreaker(releaseTicks int) *Breaker {
	if releaseTicks <= 0 {
		releaseTicks = 1
	}
	return &Breaker{releaseTicks: releaseTicks}
}

// Observe 记录一次评估结果，返回是否处于 reduce-only 以及本次的边沿
func (b *Breaker) Observe(ts time.Time, level model.RiskLevel) (engaged, triggered, released bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if level == model.RiskCritical {
		b.calm = 0
		b.lastCritical = ts
		if !b.engaged {
			b.engaged = true
			return true, true, false
		}
		return true, false, false
	}
	if !b.engaged {
		return false, false, false
	}
	if !ts.After(b.lastCritical) || !ts.After(b.lastCalm) {
		return true, false, false
	}
	b.calm++
	b.lastCalm = ts
	if b.calm >= b.releaseTicks {
		b.engaged = false
		b.calm = 0
		return false, false, true
	}
	return true, false, false
}

// Engaged 当前是否处于 reduce-only
func (b *Breaker) Engaged() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.engaged
}
