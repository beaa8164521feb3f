package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"yield-engine/config"
	"yield-engine/execution"
	"yield-engine/exposure"
	"yield-engine/infrastructure/logger"
	"yield-engine/internal/store"
	"yield-engine/inventory"
	"yield-engine/model"
	"yield-engine/pnl"
	"yield-engine/reserve"
	"yield-engine/risk"
	"yield-engine/strategy"
)

// StateProvider 按 tick 时间点提供协议状态
type StateProvider interface {
	State(ts time.Time, instruments []model.PositionKey) (model.ProtocolState, error)
}

// StateObserver 需要同步当前 tick 状态的组件（模拟场所）
type StateObserver interface {
	SetState(st model.ProtocolState)
}

// Alerter 告警
type Alerter interface {
	SendCritical(message string, fields map[string]interface{}) error
	SendWarning(message string, fields map[string]interface{}) error
}

// Metrics 编排器指标
type Metrics interface {
	RecordTick(seconds float64)
	RecordBypass()
	UpdateQueueDepth(n int)
	UpdateEquity(value float64)
	UpdateNetDelta(value float64)
	UpdateReserveRatio(value float64)
	UpdateRiskLevel(riskType string, level int)
	UpdateReduceOnly(on bool)
	RecordSignal(kind string)
}

type nopMetrics struct{}

func (nopMetrics) RecordTick(float64)             {}
func (nopMetrics) RecordBypass()                  {}
func (nopMetrics) UpdateQueueDepth(int)           {}
func (nopMetrics) UpdateEquity(float64)           {}
func (nopMetrics) UpdateNetDelta(float64)         {}
func (nopMetrics) UpdateReserveRatio(float64)     {}
func (nopMetrics) UpdateRiskLevel(string, int)    {}
func (nopMetrics) UpdateReduceOnly(bool)          {}
func (nopMetrics) RecordSignal(string)            {}

// 失败报告中的组件名
const (
	componentOracle       = "oracle"
	componentPosition     = "position_ledger"
	componentExposure     = "exposure"
	componentRisk         = "risk"
	componentPnL          = "pnl"
	componentReserve      = "reserve"
	componentStrategy     = "strategy"
	componentExecution    = "execution"
	componentOrchestrator = "orchestrator"
)

// Components 编排器依赖，由容器构造一次后以引用注入
type Components struct {
	Oracle      StateProvider
	Observers   []StateObserver
	Ledger      *inventory.Ledger
	Exposure    *exposure.Calculator
	Risk        *risk.Assessor
	Notifier    *risk.Notifier
	Attributor  *pnl.Attributor
	Running     *pnl.Running
	Reserve     *reserve.Monitor
	Decider     *strategy.Decider
	Coordinator *execution.Coordinator
	Sink        store.Sink
	Alerts      Alerter
	Logger      *logger.Logger
	Metrics     Metrics
}

// Config 编排器配置
type Config struct {
	RunID         string
	Mode          string
	ExecutionMode config.ExecutionMode
	Instruments   []model.PositionKey
	YieldBounds   config.YieldBounds
	TrendWindow   int // 趋势预警窗口（tick 数）
}

// ConfigFromRun 从运行配置提取编排器配置
func ConfigFromRun(cfg config.RunConfig) Config {
	return Config{
		RunID:         cfg.RunID,
		Mode:          cfg.Mode,
		ExecutionMode: cfg.ExecutionMode,
		Instruments:   append([]model.PositionKey(nil), cfg.Instruments...),
		YieldBounds:   cfg.YieldBounds,
		TrendWindow:   cfg.TrendWindow,
	}
}

// view 一次监控链的输出
type view struct {
	positions model.PositionSnapshot
	exposure  model.ExposureVector
	risk      model.RiskAssessment
	equity    model.EquitySnapshot
	reserve   model.ReserveSnapshot
}

// Orchestrator 紧循环编排器：每个 tick 按 Position → Exposure → Risk → P&L/Reserve 顺序
// 刷新状态，再决定调用策略或旁路执行队列，每个执行单元结算后完成对账并重跑监控链。
// tick 之间互斥，Tick/Run 不可并发调用。
type Orchestrator struct {
	cfg Config
	c   Components
	sm  *StateMachine

	tick     int
	last     *model.EquitySnapshot // 上一个 tick 结束时的权益
	queue    []model.Unit
	requests []strategy.Request
	signals  map[model.SignalKind]int
	trending map[string]bool // 当前处于恶化趋势中的指标

	mu      sync.RWMutex
	inbox   []strategy.Request
	stopped bool
	halted  *FailureReport
	status  Status
}

// New 创建编排器
func New(cfg Config, c Components) (*Orchestrator, error) {
	if err := validateComponents(c); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrConfigInvalid, err)
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.TrendWindow < 2 {
		cfg.TrendWindow = 3
	}
	if c.Logger == nil {
		c.Logger = logger.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = nopMetrics{}
	}
	if c.Sink == nil {
		c.Sink = store.NopSink{}
	}
	if c.Running == nil {
		c.Running = pnl.NewRunning()
	}
	if c.Notifier == nil {
		c.Notifier = risk.NewNotifier(nil, c.Logger)
	}
	o := &Orchestrator{
		cfg:     cfg,
		c:       c,
		sm:      NewStateMachine(),
		signals:  make(map[model.SignalKind]int),
		trending: make(map[string]bool),
	}
	o.status = Status{RunID: cfg.RunID, State: StateIdle, ReserveStatus: model.ReserveAdequate}
	return o, nil
}

func validateComponents(c Components) error {
	switch {
	case c.Oracle == nil:
		return errors.New("oracle is required")
	case c.Ledger == nil:
		return errors.New("position ledger is required")
	case c.Exposure == nil:
		return errors.New("exposure calculator is required")
	case c.Risk == nil:
		return errors.New("risk assessor is required")
	case c.Attributor == nil:
		return errors.New("pnl attributor is required")
	case c.Reserve == nil:
		return errors.New("reserve monitor is required")
	case c.Decider == nil:
		return errors.New("strategy decider is required")
	case c.Coordinator == nil:
		return errors.New("execution coordinator is required")
	case c.Reserve.Key() != c.Decider.CashKey():
		// 储备补足只会回到策略现金，两者不一致时缺口永远无法关闭
		return fmt.Errorf("reserve position %s must be the strategy cash position %s", c.Reserve.Key(), c.Decider.CashKey())
	}
	return nil
}

// RunID 本次运行标识
func (o *Orchestrator) RunID() string { return o.cfg.RunID }

// Enqueue 接收一个出入金请求；请求只在 tick 开始时被取出
func (o *Orchestrator) Enqueue(req strategy.Request) string {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	o.mu.Lock()
	o.inbox = append(o.inbox, req)
	tick := o.status.Tick
	o.mu.Unlock()
	o.c.Logger.Info("request received",
		zap.String("request_id", req.ID),
		zap.String("kind", string(req.Kind)),
		zap.Float64("amount", req.Amount))
	o.c.Sink.LogEvent(store.Event{
		RunID:     o.cfg.RunID,
		Tick:      tick,
		Timestamp: time.Now().UTC(),
		Kind:      store.EventRequest,
		Fields:    map[string]interface{}{"request_id": req.ID, "kind": string(req.Kind), "amount": req.Amount},
	})
	return req.ID
}

// Stop 在当前 tick 结束后停止运行
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped = true
}

func (o *Orchestrator) isStopped() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stopped
}

// Halted 已中止时返回失败报告
func (o *Orchestrator) Halted() *FailureReport {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.halted
}

// Status 状态查询
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s := o.status
	s.State = o.sm.Current()
	s.InFlight = o.c.Coordinator.InFlight()
	s.PendingRequest = len(o.inbox) + s.PendingRequest
	s.Halted = o.halted
	return s
}

func (o *Orchestrator) drainInbox() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, o.inbox...)
	o.inbox = nil
}

func (o *Orchestrator) consume(id string) {
	for i, r := range o.requests {
		if r.ID == id {
			o.requests = append(o.requests[:i], o.requests[i+1:]...)
			return
		}
	}
}

// fail 生成失败报告并中止运行
func (o *Orchestrator) fail(ts time.Time, component string, err error) error {
	var report *FailureReport
	if errors.As(err, &report) {
		return report
	}
	report = &FailureReport{
		RunID:     o.cfg.RunID,
		Tick:      o.tick,
		Timestamp: ts,
		State:     o.sm.Current(),
		Component: component,
		Cause:     err,
	}
	o.mu.Lock()
	o.halted = report
	o.mu.Unlock()

	fields := report.Fields()
	o.c.Logger.LogError(err, fields)
	if o.c.Alerts != nil {
		_ = o.c.Alerts.SendCritical("RunHalted", fields)
	}
	o.c.Sink.LogEvent(store.Event{RunID: o.cfg.RunID, Tick: o.tick, Timestamp: ts, Kind: store.EventFailure, Fields: fields})
	return report
}

func (o *Orchestrator) enter(ts time.Time, s State) error {
	if err := o.sm.Transition(s); err != nil {
		return o.fail(ts, componentOrchestrator, err)
	}
	return nil
}

// observe 运行监控链：Position → Exposure → Risk → P&L/Reserve
func (o *Orchestrator) observe(ts time.Time, st model.ProtocolState) (view, error) {
	var v view
	if err := o.enter(ts, StatePositionUpdated); err != nil {
		return v, err
	}
	v.positions = o.c.Ledger.Positions(ts)

	if err := o.enter(ts, StateExposureComputed); err != nil {
		return v, err
	}
	exp, err := o.c.Exposure.Compute(v.positions, st)
	if err != nil {
		return v, o.fail(ts, componentExposure, err)
	}
	v.exposure = exp

	if err := o.enter(ts, StateRiskAssessed); err != nil {
		return v, err
	}
	ra, err := o.c.Risk.Assess(exp, v.positions, st)
	if err != nil {
		return v, o.fail(ts, componentRisk, err)
	}
	v.risk = ra
	for _, sig := range o.c.Notifier.Signals(ra) {
		o.signal(sig, false)
	}

	if err := o.enter(ts, StatePnLComputed); err != nil {
		return v, err
	}
	eq, err := o.c.Attributor.ComputeEquity(v.positions, st)
	if err != nil {
		return v, o.fail(ts, componentPnL, err)
	}
	v.equity = eq
	bal, err := o.c.Reserve.Balance(v.positions, st)
	if err != nil {
		return v, o.fail(ts, componentReserve, err)
	}
	rs, sig := o.c.Reserve.Evaluate(eq, bal)
	v.reserve = rs
	if sig != nil {
		o.signal(*sig, true)
	}
	o.trends(ts, v)

	o.c.Metrics.UpdateEquity(eq.Total)
	o.c.Metrics.UpdateNetDelta(exp.ReportingNetDelta)
	o.c.Metrics.UpdateReserveRatio(rs.Ratio)
	o.c.Metrics.UpdateReduceOnly(ra.ReduceOnly)
	for t, l := range ra.Levels {
		o.c.Metrics.UpdateRiskLevel(string(t), int(l))
	}
	return v, nil
}

// signal 统计并持久化控制信号；熔断信号的日志与告警由 Notifier 负责
func (o *Orchestrator) signal(sig model.Signal, notify bool) {
	o.signals[sig.Kind]++
	o.c.Metrics.RecordSignal(string(sig.Kind))
	fields := map[string]interface{}{"kind": string(sig.Kind)}
	for k, v := range sig.Detail {
		fields[k] = v
	}
	if notify {
		o.c.Logger.LogSignal(string(sig.Kind), sig.Detail)
		if o.c.Alerts != nil {
			if sig.Kind == model.SignalReserveCritical {
				_ = o.c.Alerts.SendCritical(string(sig.Kind), sig.Detail)
			} else {
				_ = o.c.Alerts.SendWarning(string(sig.Kind), sig.Detail)
			}
		}
	}
	o.c.Sink.LogEvent(store.Event{RunID: o.cfg.RunID, Tick: o.tick, Timestamp: sig.Timestamp, Kind: store.EventSignal, Fields: fields})
}

// trends 风险指标或偏低的储备比例在最近 TrendWindow 个 tick 内持续恶化时发出预警，
// 只在进入趋势的边沿触发一次
func (o *Orchestrator) trends(ts time.Time, v view) {
	n := o.cfg.TrendWindow
	types := make([]string, 0, len(v.risk.Metrics))
	for t := range v.risk.Metrics {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, name := range types {
		t := model.RiskType(name)
		value := v.risk.Metrics[t]
		on := !math.IsInf(value, 0) && o.c.Risk.Deteriorating(t, n)
		o.edge("risk:"+name, on, model.Signal{
			Kind:      model.SignalRiskDeteriorating,
			Timestamp: ts,
			Detail:    map[string]interface{}{"risk_type": name, "value": value, "window": n},
		})
	}
	on := v.reserve.Status != model.ReserveAdequate && o.c.Reserve.Declining(n)
	o.edge("reserve", on, model.Signal{
		Kind:      model.SignalReserveDeclining,
		Timestamp: ts,
		Detail:    map[string]interface{}{"ratio": v.reserve.Ratio, "status": string(v.reserve.Status), "window": n},
	})
}

func (o *Orchestrator) edge(key string, on bool, sig model.Signal) {
	was := o.trending[key]
	o.trending[key] = on
	if on && !was {
		o.signal(sig, true)
	}
}

// reconcile 对账：checkpoint 之后账本变化必须等于已确认变动之和
func (o *Orchestrator) reconcile(ts time.Time, cp inventory.Checkpoint) error {
	if err := o.enter(ts, StateReconciling); err != nil {
		return err
	}
	if err := o.c.Ledger.VerifySince(cp); err != nil {
		return o.fail(ts, componentPosition, err)
	}
	return nil
}

// flows 外部出入金按确认的钱包变动估值，入金为正
func flows(res execution.Result, st model.ProtocolState) (float64, error) {
	var total float64
	for i, instr := range res.Unit.Instructions {
		src, dst := instr.Source(), instr.Dest()
		var key model.PositionKey
		sign := 1.0
		switch {
		case src.Venue == model.ExternalVenue && dst.Venue != model.ExternalVenue:
			key = dst
		case dst.Venue == model.ExternalVenue && src.Venue != model.ExternalVenue:
			key, sign = src, -1
		default:
			continue
		}
		if i >= len(res.Confirmations) {
			break
		}
		for _, d := range res.Confirmations[i].Deltas {
			if d.Key != key {
				continue
			}
			q, _ := d.Quantity.Abs().Float64()
			v, err := st.Value(key, q, model.PerpEntry{})
			if err != nil {
				return 0, err
			}
			total += sign * v
		}
	}
	return total, nil
}

// dropEntries reduce-only 生效后丢弃队列中的加仓单元
func (o *Orchestrator) dropEntries(ts time.Time) {
	kept := o.queue[:0]
	dropped := 0
	for _, u := range o.queue {
		if u.Kind.IsEntry() {
			dropped++
			continue
		}
		kept = append(kept, u)
	}
	o.queue = kept
	if dropped > 0 {
		o.c.Logger.LogTick("entries_dropped", o.tick, map[string]interface{}{"dropped": dropped, "timestamp": ts})
	}
}

// Tick 执行一个完整 tick；返回错误时运行已中止
func (o *Orchestrator) Tick(ctx context.Context, ts time.Time) error {
	if h := o.Halted(); h != nil {
		return h
	}
	started := time.Now()
	o.tick++
	o.drainInbox()

	st, err := o.c.Oracle.State(ts, o.cfg.Instruments)
	if err != nil {
		return o.fail(ts, componentOracle, err)
	}
	for _, obs := range o.c.Observers {
		obs.SetState(st)
	}

	cp := o.c.Ledger.Checkpoint(ts)
	v, err := o.observe(ts, st)
	if err != nil {
		return err
	}
	pre := v.equity

	var attr model.Attribution
	if o.last == nil {
		o.c.Running.Seed(pre)
	} else {
		move, err := o.c.Attributor.Attribute(*o.last, pre, 0)
		if err != nil {
			return o.fail(ts, componentPnL, err)
		}
		attr.Add(move)
	}

	var (
		netFlows float64
		settled  bool
		polled   bool
	)
	if len(o.queue) == 0 && o.c.Coordinator.InFlight() == 0 {
		if err := o.enter(ts, StateStrategyInvoked); err != nil {
			return err
		}
		dec, err := o.c.Decider.Decide(strategy.Input{
			Equity:     v.equity,
			Reserve:    v.reserve,
			ReduceOnly: v.risk.ReduceOnly,
			FirstTick:  o.tick == 1,
			Requests:   append([]strategy.Request(nil), o.requests...),
		})
		if err != nil {
			return o.fail(ts, componentStrategy, err)
		}
		if dec.RequestID != "" {
			o.consume(dec.RequestID)
		}
		if dec.Act {
			o.queue = append(o.queue, dec.Action.Units()...)
			o.c.Logger.LogTick("decision", o.tick, map[string]interface{}{
				"kind":         string(dec.Action.Kind),
				"reason":       dec.Action.Reason,
				"amount":       dec.Action.TargetAmount,
				"instructions": len(dec.Action.Instructions),
				"atomic":       dec.Action.Atomic,
			})
		}
	} else {
		if err := o.enter(ts, StateExecutionBypass); err != nil {
			return err
		}
		o.c.Metrics.RecordBypass()
		results, err := o.c.Coordinator.Poll(ctx)
		if err != nil {
			return o.fail(ts, componentExecution, err)
		}
		for _, res := range results {
			f, err := flows(res, st)
			if err != nil {
				return o.fail(ts, componentPnL, err)
			}
			netFlows += f
			o.logExecution(ts, res)
		}
		polled = len(results) > 0
	}

	for {
		switch {
		case polled:
			// 上一 tick 在途的单元已结算，先对账
			polled = false
			if err := o.reconcile(ts, cp); err != nil {
				return err
			}
			settled = true
		case len(o.queue) > 0 && o.c.Coordinator.InFlight() == 0:
			if err := o.enter(ts, StateInstructionsDispatched); err != nil {
				return err
			}
			unit := o.queue[0]
			o.queue = o.queue[1:]
			res, err := o.c.Coordinator.Dispatch(ctx, unit)
			if err != nil {
				return o.fail(ts, componentExecution, err)
			}
			if !res.Pending {
				f, err := flows(res, st)
				if err != nil {
					return o.fail(ts, componentPnL, err)
				}
				netFlows += f
				o.logExecution(ts, res)
			}
			if err := o.reconcile(ts, cp); err != nil {
				return err
			}
			settled = true
		}

		if len(o.queue) == 0 || o.c.Coordinator.InFlight() > 0 || o.sm.Current() != StateReconciling {
			break
		}
		// 队列未清空：重跑监控链后继续分发
		if v, err = o.observe(ts, st); err != nil {
			return err
		}
		if v.risk.ReduceOnly {
			o.dropEntries(ts)
		}
		if err := o.enter(ts, StateExecutionBypass); err != nil {
			return err
		}
		if len(o.queue) == 0 {
			break
		}
	}
	// 本 tick 没有可分发的单元（持有不动或单元仍在途）时同样经过分发与对账
	if s := o.sm.Current(); s == StateStrategyInvoked || s == StateExecutionBypass {
		if err := o.enter(ts, StateInstructionsDispatched); err != nil {
			return err
		}
		if err := o.reconcile(ts, cp); err != nil {
			return err
		}
	}
	if err := o.enter(ts, StateTickComplete); err != nil {
		return err
	}

	post := v.equity
	if settled {
		post, err = o.c.Attributor.ComputeEquity(o.c.Ledger.Positions(ts), st)
		if err != nil {
			return o.fail(ts, componentPnL, err)
		}
	}
	exec, err := o.c.Attributor.Attribute(pre, post, netFlows)
	if err != nil {
		return o.fail(ts, componentPnL, err)
	}
	attr.Add(exec)
	o.c.Running.Observe(post, &attr)
	o.last = &post

	if entries := o.c.Ledger.Journal(cp.Seq); len(entries) > 0 {
		o.c.Ledger.TrimJournal(entries[len(entries)-1].Seq)
	}
	o.finish(ts, started, post, v)
	return o.enter(ts, StateIdle)
}

func (o *Orchestrator) logExecution(ts time.Time, res execution.Result) {
	o.c.Sink.LogEvent(store.Event{
		RunID:     o.cfg.RunID,
		Tick:      o.tick,
		Timestamp: ts,
		Kind:      store.EventExecution,
		Fields: map[string]interface{}{
			"unit":         res.Unit.ID(),
			"kind":         string(res.Unit.Kind),
			"atomic":       res.Unit.Atomic,
			"instructions": len(res.Unit.Instructions),
		},
	})
}

func (o *Orchestrator) finish(ts time.Time, started time.Time, post model.EquitySnapshot, v view) {
	apy := o.c.Running.AnnualizedYield()
	inflight := o.c.Coordinator.InFlight()
	o.c.Metrics.RecordTick(time.Since(started).Seconds())
	o.c.Metrics.UpdateQueueDepth(len(o.queue) + inflight)
	o.c.Metrics.UpdateEquity(post.Total)

	fields := map[string]interface{}{
		"timestamp":      ts,
		"equity":         post.Total,
		"apy":            apy,
		"net_delta":      v.exposure.ReportingNetDelta,
		"risk":           v.risk.Aggregate.String(),
		"reduce_only":    v.risk.ReduceOnly,
		"reserve_status": string(v.reserve.Status),
		"reserve_ratio":  v.reserve.Ratio,
		"queue":          len(o.queue),
		"in_flight":      inflight,
	}
	o.c.Logger.LogTick("tick_complete", o.tick, fields)
	o.c.Sink.LogEvent(store.Event{RunID: o.cfg.RunID, Tick: o.tick, Timestamp: ts, Kind: store.EventTick, Fields: fields})

	o.mu.Lock()
	o.status = Status{
		RunID:          o.cfg.RunID,
		Tick:           o.tick,
		Timestamp:      ts,
		Equity:         post.Total,
		AnnualizedAPY:  apy,
		ReduceOnly:     v.risk.ReduceOnly,
		ReserveStatus:  v.reserve.Status,
		QueueDepth:     len(o.queue),
		PendingRequest: len(o.requests),
	}
	o.mu.Unlock()
}

// Run 按时钟循环执行 tick，结束后汇总结果并写入结果存储。
// 上下文取消视为正常停止；其余错误以失败报告中止运行。
func (o *Orchestrator) Run(ctx context.Context, clock Clock) (RunResult, error) {
	o.c.Logger.Info("run starting",
		zap.String("run_id", o.cfg.RunID),
		zap.String("mode", o.cfg.Mode),
		zap.String("execution_mode", string(o.cfg.ExecutionMode)))

	var (
		runErr error
		lastTS time.Time
	)
	for !o.isStopped() {
		ts, ok, err := clock.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				runErr = o.fail(lastTS, componentOrchestrator, err)
			}
			break
		}
		if !ok {
			break
		}
		lastTS = ts
		if err := o.Tick(ctx, ts); err != nil {
			runErr = err
			break
		}
	}

	res := o.result()
	if runErr == nil && o.cfg.ExecutionMode == config.ModeBacktest && res.Ticks > 1 {
		if err := pnl.CheckYield(res.AnnualizedYield, o.cfg.YieldBounds.Min, o.cfg.YieldBounds.Max); err != nil {
			runErr = o.fail(lastTS, componentPnL, err)
		}
	}
	res.Failure = o.Halted()
	o.c.Sink.StoreResult(o.cfg.RunID, res)

	o.c.Logger.Info("run finished",
		zap.String("run_id", o.cfg.RunID),
		zap.Int("ticks", res.Ticks),
		zap.Float64("end_equity", res.EndEquity),
		zap.Float64("annualized_yield", res.AnnualizedYield),
		zap.Bool("halted", res.Failure != nil))
	return res, runErr
}

func (o *Orchestrator) result() RunResult {
	sum := o.c.Running.Summary()
	signals := make(map[model.SignalKind]int, len(o.signals))
	for k, n := range o.signals {
		signals[k] = n
	}
	return RunResult{
		RunID:           o.cfg.RunID,
		Mode:            o.cfg.Mode,
		ExecutionMode:   string(o.cfg.ExecutionMode),
		Start:           sum.Start,
		End:             sum.End,
		Ticks:           o.tick,
		StartEquity:     sum.StartEquity,
		EndEquity:       sum.EndEquity,
		Flows:           sum.Flows,
		AnnualizedYield: o.c.Running.AnnualizedYield(),
		MaxDrawdown:     sum.MaxDrawdown,
		Attribution:     sum.Attribution.Buckets,
		Signals:         signals,
	}
}
