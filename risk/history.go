package risk

import (
	"sync"

	"yield-engine/model"
)

// History 有界的评估历史，用于趋势判断
type History struct {
	mu    sync.RWMutex
	cap   int
	items []model.RiskAssessment
}

// NewHistory 创建历史窗口
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 64
	}
	return &History{cap: capacity, items: make([]model.RiskAssessment, 0, capacity)}
}

// Push 追加；同一时间戳覆盖最后一条
func (h *History) Push(a model.RiskAssessment) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.items); n > 0 && h.items[n-1].Timestamp.Equal(a.Timestamp) {
		h.items[n-1] = a
		return
	}
	if len(h.items) == h.cap {
		copy(h.items, h.items[1:])
		h.items = h.items[:h.cap-1]
	}
	h.items = append(h.items, a)
}

// Last 最近 n 条（旧到新）
func (h *History) Last(n int) []model.RiskAssessment {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n > len(h.items) {
		n = len(h.items)
	}
	return append([]model.RiskAssessment(nil), h.items[len(h.items)-n:]...)
}

// Deteriorating 最近 n 条中某风险指标是否单调恶化
func (h *History) Deteriorating(t model.RiskType, n int, higherIsWorse bool) bool {
	items := h.Last(n)
	if n < 2 || len(items) < n {
		return false
	}
	for i := 1; i < len(items); i++ {
		prev, ok1 := items[i-1].Metrics[t]
		cur, ok2 := items[i].Metrics[t]
		if !ok1 || !ok2 {
			return false
		}
		if higherIsWorse && cur <= prev {
			return false
		}
		if !higherIsWorse && cur >= prev {
			return false
		}
	}
	return true
}
