package sim

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"yield-engine/model"
)

type failure struct {
	remaining int
	err       error
}

type pendingFill struct {
	polls  int
	deltas []model.PositionDelta
}

// Venue 回测用的模拟场所：以当前 tick 的预言机价格同步成交，维护自己的余额簿。
// 一个实例可以承载所有场所（通过 execution.Router 的 fallback 注册）。
type Venue struct {
	mu        sync.Mutex
	fee       float64
	state     model.ProtocolState
	book      *book
	confirmed map[string]model.Confirmation
	pending   map[string]*pendingFill
	failures  map[model.Operation]*failure
	delays    map[model.Operation]int
}

// NewVenue 以与账本相同的初始持仓创建模拟场所
func NewVenue(feeBps float64, initial []model.PositionDelta) *Venue {
	return &Venue{
		fee:       feeBps / 10000,
		book:      newBook(initial),
		confirmed: make(map[string]model.Confirmation),
		pending:   make(map[string]*pendingFill),
		failures:  make(map[model.Operation]*failure),
		delays:    make(map[model.Operation]int),
	}
}

// SetState 设置当前 tick 的市场状态，之后的成交均按该状态定价
func (v *Venue) SetState(st model.ProtocolState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = st
}

// FailOn 接下来 times 次该类型操作提交失败；err 为空时为 ErrExecutionFailed
func (v *Venue) FailOn(op model.Operation, times int, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err == nil {
		err = model.ErrExecutionFailed
	}
	v.failures[op] = &failure{remaining: times, err: err}
}

// DelaySettlement 该类型操作提交后需要轮询 polls 次才结算
func (v *Venue) DelaySettlement(op model.Operation, polls int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.delays[op] = polls
}

// Adjust 直接修改场所侧余额，模拟场外变动
func (v *Venue) Adjust(key model.PositionKey, qty float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.book.qty[key] = v.book.qty[key].Add(decimal.NewFromFloat(qty))
}

// Balance 场所侧余额
func (v *Venue) Balance(key model.PositionKey) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.book.float(key)
}

func (v *Venue) injected(op model.Operation) error {
	f, ok := v.failures[op]
	if !ok || f.remaining <= 0 {
		return nil
	}
	f.remaining--
	return fmt.Errorf("%w: injected %s failure", f.err, op)
}

// Submit 同步成交；重复的 operation id 返回已有确认
func (v *Venue) Submit(ctx context.Context, instr model.ExecutionInstruction) (model.Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return model.Confirmation{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if conf, ok := v.confirmed[instr.ID()]; ok {
		return conf, nil
	}
	if err := v.injected(instr.Operation()); err != nil {
		return model.Confirmation{}, err
	}
	scratch := v.book.clone()
	deltas, err := v.fill(scratch, instr)
	if err != nil {
		return model.Confirmation{}, err
	}
	if polls := v.delays[instr.Operation()]; polls > 0 {
		v.pending[instr.ID()] = &pendingFill{polls: polls, deltas: deltas}
		conf := model.Confirmation{OperationID: instr.ID(), Status: model.ConfirmationPending, Timestamp: v.state.Timestamp}
		v.confirmed[instr.ID()] = conf
		return conf, nil
	}
	v.book = scratch
	conf := model.Confirmation{OperationID: instr.ID(), Status: model.ConfirmationSettled, Deltas: deltas, Timestamp: v.state.Timestamp}
	v.confirmed[instr.ID()] = conf
	return conf, nil
}

// SubmitAtomic 整组在副本上依次成交，全部成功才提交
func (v *Venue) SubmitAtomic(ctx context.Context, instrs []model.ExecutionInstruction) ([]model.Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if conf, ok := v.confirmed[instrs[0].ID()]; ok {
		out := []model.Confirmation{conf}
		for _, instr := range instrs[1:] {
			out = append(out, v.confirmed[instr.ID()])
		}
		return out, nil
	}
	scratch := v.book.clone()
	out := make([]model.Confirmation, 0, len(instrs))
	for _, instr := range instrs {
		if err := v.injected(instr.Operation()); err != nil {
			return nil, err
		}
		deltas, err := v.fill(scratch, instr)
		if err != nil {
			return nil, fmt.Errorf("atomic group rolled back at %s: %w", instr.ID(), err)
		}
		out = append(out, model.Confirmation{OperationID: instr.ID(), Status: model.ConfirmationSettled, Deltas: deltas, Timestamp: v.state.Timestamp})
	}
	v.book = scratch
	for _, conf := range out {
		v.confirmed[conf.OperationID] = conf
	}
	return out, nil
}

// Status 查询确认；延迟结算的操作在轮询足够次数后结算
func (v *Venue) Status(ctx context.Context, operationID string) (model.Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return model.Confirmation{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	conf, ok := v.confirmed[operationID]
	if !ok {
		return conf, fmt.Errorf("%w: unknown operation %s", model.ErrExecutionFailed, operationID)
	}
	p, ok := v.pending[operationID]
	if !ok {
		return conf, nil
	}
	p.polls--
	if p.polls > 0 {
		return conf, nil
	}
	if err := v.book.apply(p.deltas); err != nil {
		return conf, err
	}
	delete(v.pending, operationID)
	conf = model.Confirmation{OperationID: operationID, Status: model.ConfirmationSettled, Deltas: p.deltas, Timestamp: v.state.Timestamp}
	v.confirmed[operationID] = conf
	return conf, nil
}

// QueryPosition 场所侧余额
func (v *Venue) QueryPosition(ctx context.Context, venue string) (map[model.PositionKey]decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.book.venue(venue), nil
}

func external(k model.PositionKey) bool {
	return k.Venue == model.ExternalVenue
}

// move 从 src 扣 debit、向 dst 入 credit（均为 src/dst 自身单位），返回变动并应用到 b
func move(b *book, src model.PositionKey, debit float64, dst model.PositionKey, credit float64) ([]model.PositionDelta, error) {
	var deltas []model.PositionDelta
	if !external(src) {
		amt, err := b.debit(src, decimal.NewFromFloat(debit))
		if err != nil {
			return nil, err
		}
		deltas = append(deltas, model.PositionDelta{Key: src, Quantity: amt.Neg()})
	}
	if !external(dst) {
		deltas = append(deltas, model.Delta(dst, credit))
	}
	return deltas, b.apply(deltas)
}

// fill 按操作类型计算成交变动
func (v *Venue) fill(b *book, instr model.ExecutionInstruction) ([]model.PositionDelta, error) {
	st := v.state
	src, dst, a := instr.Source(), instr.Dest(), instr.Amount()
	if a == 0 {
		return nil, fmt.Errorf("%w: zero amount %s", model.ErrExecutionFailed, instr.ID())
	}
	if instr.Operation() != model.OpPerp && a < 0 {
		return nil, fmt.Errorf("%w: negative amount %s", model.ErrExecutionFailed, instr.ID())
	}
	switch instr.Operation() {
	case model.OpTransfer:
		if src.Asset != dst.Asset {
			return nil, fmt.Errorf("%w: transfer across assets %s -> %s", model.ErrExecutionFailed, src, dst)
		}
		return move(b, src, a, dst, a)
	case model.OpTrade:
		px, err := st.PriceIn(src.Asset, dst.Asset)
		if err != nil {
			return nil, err
		}
		return move(b, src, a, dst, a*px*(1-v.fee))
	case model.OpSupply, model.OpStake:
		idx, err := st.Index(dst)
		if err != nil {
			return nil, err
		}
		return move(b, src, a, dst, a/idx)
	case model.OpWithdraw, model.OpUnstake:
		idx, err := st.Index(src)
		if err != nil {
			return nil, err
		}
		return move(b, src, a/idx, dst, a)
	case model.OpBorrow:
		// source 为负债 key，负债 scaled 余额增加
		idx, err := st.Index(src)
		if err != nil {
			return nil, err
		}
		deltas := []model.PositionDelta{model.Delta(src, a/idx), model.Delta(dst, a)}
		return deltas, b.apply(deltas)
	case model.OpRepay:
		idx, err := st.Index(dst)
		if err != nil {
			return nil, err
		}
		owed, _ := b.qty[dst].Float64()
		return move(b, src, a, dst, -math.Min(a/idx, owed))
	case model.OpPerp:
		return v.fillPerp(b, src, dst, a)
	default:
		return nil, fmt.Errorf("%w: unsupported operation %q", model.ErrExecutionFailed, instr.Operation())
	}
}

// fillPerp 以标记价成交；手续费与已实现盈亏结算到保证金
func (v *Venue) fillPerp(b *book, margin, key model.PositionKey, qty float64) ([]model.PositionDelta, error) {
	st := v.state
	mark, err := st.Mark(key)
	if err != nil {
		return nil, err
	}
	funding, err := st.Index(key)
	if err != nil {
		return nil, err
	}
	pm, err := st.Price(margin.Asset)
	if err != nil {
		return nil, err
	}
	fill := decimal.NewFromFloat(qty)
	_, _, realized := model.ApplyPerpFill(b.qty[key], b.entries[key], fill, mark, funding)
	fee := math.Abs(qty) * mark * v.fee
	change := (realized - fee) / pm

	deltas := []model.PositionDelta{{Key: key, Quantity: fill, Price: mark, Funding: funding}}
	if change < 0 {
		amt, err := b.debit(margin, decimal.NewFromFloat(-change))
		if err != nil {
			return nil, err
		}
		deltas = append(deltas, model.PositionDelta{Key: margin, Quantity: amt.Neg()})
	} else if change > 0 {
		deltas = append(deltas, model.Delta(margin, change))
	}
	return deltas, b.apply(deltas)
}
