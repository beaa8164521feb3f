package execution

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"yield-engine/infrastructure/logger"
	"yield-engine/inventory"
	"yield-engine/model"
)

// Metrics 执行相关指标
type Metrics interface {
	RecordInstruction(operation, result string)
	RecordRetry(operation string)
	RecordMismatch()
	RecordSubmitLatency(venue string, seconds float64)
}

type nopMetrics struct{}

func (nopMetrics) RecordInstruction(string, string)     {}
func (nopMetrics) RecordRetry(string)                   {}
func (nopMetrics) RecordMismatch()                      {}
func (nopMetrics) RecordSubmitLatency(string, float64) {}

// Result 一个单元的执行结果
type Result struct {
	Unit          model.Unit
	Confirmations []model.Confirmation
	Pending       bool // 已提交但尚未结算，留待下一个 tick 轮询
	Positions     model.PositionSnapshot
}

type inflight struct {
	unit   model.Unit
	venues []Venue
}

// Coordinator 执行协调器：按单元分发指令，把确认结果写入账本并完成对账握手。
// 同一时刻只有一个单元在执行；调用方保证串行调用。
type Coordinator struct {
	router    *Router
	ledger    *inventory.Ledger
	policy    RetryPolicy
	tolerance float64
	log       *logger.Logger
	metrics   Metrics

	mu       sync.Mutex
	inflight []inflight
}

// Config 协调器参数
type Config struct {
	Policy    RetryPolicy
	Tolerance float64 // 声明意图与实际确认的相对容差
}

// NewCoordinator 创建协调器；log/metrics 可为 nil
func NewCoordinator(router *Router, ledger *inventory.Ledger, cfg Config, log *logger.Logger, metrics Metrics) *Coordinator {
	if log == nil {
		log = logger.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Coordinator{
		router:    router,
		ledger:    ledger,
		policy:    cfg.Policy,
		tolerance: cfg.Tolerance,
		log:       log,
		metrics:   metrics,
	}
}

// InFlight 已提交未结算的单元数
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// Dispatch 分发一个单元（单条指令或一个 atomic 组），应用确认并完成对账握手。
func (c *Coordinator) Dispatch(ctx context.Context, unit model.Unit) (Result, error) {
	res := Result{Unit: unit}
	if len(unit.Instructions) == 0 {
		return res, nil
	}
	for i, instr := range unit.Instructions {
		if err := c.ledger.Expect(instr); err != nil {
			c.forget(unit.Instructions[:i])
			return res, err
		}
	}

	confs, venues, err := c.submit(ctx, unit)
	if err != nil {
		c.forget(unit.Instructions)
		for _, instr := range unit.Instructions {
			c.metrics.RecordInstruction(string(instr.Operation()), "failed")
		}
		return res, err
	}
	res.Confirmations = confs

	for _, conf := range confs {
		if !conf.Settled() {
			c.mu.Lock()
			c.inflight = append(c.inflight, inflight{unit: unit, venues: venues})
			c.mu.Unlock()
			res.Pending = true
			c.log.LogExecution("pending", unit.ID(), map[string]interface{}{"instructions": len(unit.Instructions)})
			return res, nil
		}
	}

	snap, err := c.settle(ctx, unit, confs)
	res.Positions = snap
	return res, err
}

// Poll 轮询在途单元；已全部结算的单元应用到账本并返回。
func (c *Coordinator) Poll(ctx context.Context) ([]Result, error) {
	c.mu.Lock()
	pending := c.inflight
	c.inflight = nil
	c.mu.Unlock()

	var (
		done []Result
		keep []inflight
	)
	for i, f := range pending {
		confs := make([]model.Confirmation, 0, len(f.unit.Instructions))
		settled := true
		for j, instr := range f.unit.Instructions {
			var conf model.Confirmation
			err := c.policy.Do(ctx, func(ctx context.Context) error {
				var err error
				conf, err = f.venues[j].Status(ctx, instr.ID())
				return err
			}, c.onRetry(instr))
			if err != nil {
				c.requeue(append(keep, pending[i:]...))
				return done, err
			}
			if !conf.Settled() {
				settled = false
				break
			}
			confs = append(confs, conf)
		}
		if !settled {
			keep = append(keep, f)
			continue
		}
		snap, err := c.settle(ctx, f.unit, confs)
		if err != nil {
			c.requeue(append(keep, pending[i+1:]...))
			return done, err
		}
		done = append(done, Result{Unit: f.unit, Confirmations: confs, Positions: snap})
	}
	c.requeue(keep)
	return done, nil
}

func (c *Coordinator) requeue(items []inflight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight = append(items, c.inflight...)
}

func (c *Coordinator) forget(instrs []model.ExecutionInstruction) {
	for _, instr := range instrs {
		c.ledger.Forget(instr.ID())
	}
}

func (c *Coordinator) onRetry(instr model.ExecutionInstruction) RetryFunc {
	return func(attempt int, elapsed time.Duration, err error) {
		c.metrics.RecordRetry(string(instr.Operation()))
		c.log.LogRetry(instr.ID(), attempt, elapsed, err)
	}
}

// submit 提交单元，返回与指令一一对应的确认及其适配器
func (c *Coordinator) submit(ctx context.Context, unit model.Unit) ([]model.Confirmation, []Venue, error) {
	if unit.Atomic && len(unit.Instructions) > 1 {
		as, err := c.router.routeGroup(unit.Instructions)
		if err != nil {
			return nil, nil, err
		}
		var confs []model.Confirmation
		started := time.Now()
		err = c.policy.Do(ctx, func(ctx context.Context) error {
			var err error
			confs, err = as.SubmitAtomic(ctx, unit.Instructions)
			return err
		}, c.onRetry(unit.Instructions[0]))
		c.metrics.RecordSubmitLatency(unit.Instructions[0].Venue(), time.Since(started).Seconds())
		if err != nil {
			return nil, nil, err
		}
		if len(confs) != len(unit.Instructions) {
			return nil, nil, fmt.Errorf("%w: atomic group %s returned %d confirmations for %d instructions",
				model.ErrReconciliationMismatch, unit.ID(), len(confs), len(unit.Instructions))
		}
		v := as.(Venue)
		venues := make([]Venue, len(confs))
		for i := range venues {
			venues[i] = v
		}
		return confs, venues, nil
	}

	instr := unit.Instructions[0]
	v, err := c.router.Route(instr.Venue())
	if err != nil {
		return nil, nil, err
	}
	var conf model.Confirmation
	started := time.Now()
	c.log.LogExecution("submit", instr.ID(), map[string]interface{}{
		"operation": instr.Operation(),
		"venue":     instr.Venue(),
		"amount":    instr.Amount(),
	})
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		conf, err = v.Submit(ctx, instr)
		return err
	}, c.onRetry(instr))
	c.metrics.RecordSubmitLatency(instr.Venue(), time.Since(started).Seconds())
	if err != nil {
		return nil, nil, err
	}
	return []model.Confirmation{conf}, []Venue{v}, nil
}

// settle 应用确认并执行握手；握手在实盘按重试策略重查场所持仓
func (c *Coordinator) settle(ctx context.Context, unit model.Unit, confs []model.Confirmation) (model.PositionSnapshot, error) {
	for i, conf := range confs {
		if conf.OperationID != unit.Instructions[i].ID() {
			c.metrics.RecordMismatch()
			return model.PositionSnapshot{}, fmt.Errorf("%w: confirmation %s does not match instruction %s",
				model.ErrReconciliationMismatch, conf.OperationID, unit.Instructions[i].ID())
		}
		if err := c.checkIntent(unit.Instructions[i], conf); err != nil {
			c.metrics.RecordMismatch()
			return model.PositionSnapshot{}, err
		}
	}
	snap, err := c.ledger.ApplyConfirmedBatch(confs)
	if err != nil {
		c.metrics.RecordMismatch()
		return snap, err
	}
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		return c.checkVenues(ctx, unit)
	}, c.onRetry(unit.Instructions[0]))
	if err != nil {
		c.metrics.RecordMismatch()
		return snap, err
	}
	for _, instr := range unit.Instructions {
		c.metrics.RecordInstruction(string(instr.Operation()), "settled")
		c.log.LogExecution("settled", instr.ID(), map[string]interface{}{
			"operation": instr.Operation(),
			"venue":     instr.Venue(),
		})
	}
	return snap, nil
}

func (c *Coordinator) within(actual, expected decimal.Decimal) bool {
	a, _ := actual.Float64()
	e, _ := expected.Float64()
	return math.Abs(a-e) <= c.tolerance*math.Max(math.Abs(e), math.Abs(a))+1e-9
}

// checkIntent 声明的预期变动必须在容差内出现；未声明的变动只允许落在指令自身的 source/dest 上
func (c *Coordinator) checkIntent(instr model.ExecutionInstruction, conf model.Confirmation) error {
	actual := make(map[model.PositionKey]decimal.Decimal)
	for _, d := range conf.Deltas {
		actual[d.Key] = actual[d.Key].Add(d.Quantity)
	}
	declared := make(map[model.PositionKey]bool)
	for _, d := range instr.Expected() {
		declared[d.Key] = true
		if !c.within(actual[d.Key], d.Quantity) {
			return fmt.Errorf("%w: %s expected %s on %s, confirmed %s",
				model.ErrReconciliationMismatch, instr.ID(), d.Quantity, d.Key, actual[d.Key])
		}
	}
	for k := range actual {
		if !declared[k] && !instr.Touches(k) {
			return fmt.Errorf("%w: %s touched undeclared position %s", model.ErrReconciliationMismatch, instr.ID(), k)
		}
	}
	return nil
}

// checkVenues 账本与各相关场所的持仓查询结果一致
func (c *Coordinator) checkVenues(ctx context.Context, unit model.Unit) error {
	venues := make(map[string]bool)
	for _, instr := range unit.Instructions {
		for _, k := range []model.PositionKey{instr.Source(), instr.Dest()} {
			if k.Venue != "" && k.Venue != model.ExternalVenue {
				venues[k.Venue] = true
			}
		}
	}
	names := make([]string, 0, len(venues))
	for v := range venues {
		names = append(names, v)
	}
	sort.Strings(names)

	ledger := c.ledger.Positions(time.Time{})
	for _, name := range names {
		v, err := c.router.Route(name)
		if err != nil {
			return err
		}
		remote, err := v.QueryPosition(ctx, name)
		if err != nil {
			return err
		}
		local := ledger.Venue(name)
		for k, q := range remote {
			if !c.within(local[k], q) {
				return fmt.Errorf("%w: %s ledger %s venue %s", model.ErrReconciliationMismatch, k, local[k], q)
			}
		}
		for k, q := range local {
			if _, ok := remote[k]; !ok && !c.within(q, decimal.Zero) {
				return fmt.Errorf("%w: %s ledger %s missing at venue", model.ErrReconciliationMismatch, k, q)
			}
		}
	}
	return nil
}
