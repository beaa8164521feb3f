package pnl

import (
	"sync"
	"time"

	"yield-engine/model"
)

// Summary 运行期累计结果
type Summary struct {
	Start       time.Time
	End         time.Time
	StartEquity float64
	EndEquity   float64
	Flows       float64
	PeakEquity  float64
	MaxDrawdown float64 // 比例，0.03 表示 3%
	Attribution model.Attribution
	Ticks       int
}

// Running 累计权益曲线与归因
type Running struct {
	mu          sync.RWMutex
	first       model.EquitySnapshot
	last        model.EquitySnapshot
	started     bool
	flows       float64
	peak        float64
	maxDrawdown float64
	cumulative  model.Attribution
	ticks       int
}

// NewRunning 创建累计器
func NewRunning() *Running {
	return &Running{}
}

// Seed 以执行前的权益作为曲线起点；之后的 Observe 不再覆盖起点
func (r *Running) Seed(eq model.EquitySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.first = eq
	r.peak = eq.Total
	r.started = true
}

// Observe 记录一个 tick 结束时的权益及其归因
func (r *Running) Observe(eq model.EquitySnapshot, attr *model.Attribution) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		r.first = eq
		r.started = true
	}
	r.last = eq
	r.ticks++
	if attr != nil {
		r.cumulative.Add(*attr)
		r.flows += attr.Flows
	}
	adjusted := eq.Total - r.flows
	if adjusted > r.peak {
		r.peak = adjusted
	}
	if r.peak > 0 {
		if dd := (r.peak - adjusted) / r.peak; dd > r.maxDrawdown {
			r.maxDrawdown = dd
		}
	}
}

// First 首个权益快照
func (r *Running) First() (model.EquitySnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.first, r.started
}

// Summary 当前累计结果
func (r *Running) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attr := model.Attribution{From: r.cumulative.From, To: r.cumulative.To, Delta: r.cumulative.Delta, Flows: r.cumulative.Flows,
		Buckets: make(map[model.Bucket]float64, len(r.cumulative.Buckets))}
	for b, v := range r.cumulative.Buckets {
		attr.Buckets[b] = v
	}
	return Summary{
		Start:       r.first.Timestamp,
		End:         r.last.Timestamp,
		StartEquity: r.first.Total,
		EndEquity:   r.last.Total,
		Flows:       r.flows,
		PeakEquity:  r.peak,
		MaxDrawdown: r.maxDrawdown,
		Attribution: attr,
		Ticks:       r.ticks,
	}
}

// AnnualizedYield 运行至今的年化收益
func (r *Running) AnnualizedYield() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.started {
		return 0
	}
	return AnnualizedYield(r.first, r.last, r.flows)
}
