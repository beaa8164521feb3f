package execution

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"yield-engine/model"
)

// Venue 场所适配器：提交指令、查询结算状态、查询场所侧持仓。
// 同一个 operation id 重复提交必须返回同一个确认（幂等）。
type Venue interface {
	Submit(ctx context.Context, instr model.ExecutionInstruction) (model.Confirmation, error)
	Status(ctx context.Context, operationID string) (model.Confirmation, error)
	QueryPosition(ctx context.Context, venue string) (map[model.PositionKey]decimal.Decimal, error)
}

// AtomicSubmitter 支持整组原子结算的适配器：要么全部结算，要么全部不生效。
type AtomicSubmitter interface {
	SubmitAtomic(ctx context.Context, instrs []model.ExecutionInstruction) ([]model.Confirmation, error)
}

// Router venue 名称 -> 适配器
type Router struct {
	mu       sync.RWMutex
	venues   map[string]Venue
	fallback Venue
}

// NewRouter fallback 为空时，未注册的 venue 路由失败
func NewRouter(fallback Venue) *Router {
	return &Router{venues: make(map[string]Venue), fallback: fallback}
}

// Register 注册适配器（覆盖同名）
func (r *Router) Register(venue string, v Venue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.venues[venue] = v
}

// Route 查找 venue 对应的适配器
func (r *Router) Route(venue string) (Venue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.venues[venue]; ok {
		return v, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: no adapter for venue %q", model.ErrExecutionFailed, venue)
}

// Venues 已注册的 venue 名称
func (r *Router) Venues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.venues))
	for v := range r.venues {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// routeGroup atomic 组必须落在同一个支持原子提交的适配器上
func (r *Router) routeGroup(instrs []model.ExecutionInstruction) (AtomicSubmitter, error) {
	var first Venue
	for _, instr := range instrs {
		v, err := r.Route(instr.Venue())
		if err != nil {
			return nil, err
		}
		if first == nil {
			first = v
			continue
		}
		if v != first {
			return nil, fmt.Errorf("%w: atomic group spans adapters (%s)", model.ErrExecutionFailed, instr.Venue())
		}
	}
	as, ok := first.(AtomicSubmitter)
	if !ok {
		return nil, fmt.Errorf("%w: adapter for %s cannot settle atomic groups", model.ErrExecutionFailed, instrs[0].Venue())
	}
	return as, nil
}
