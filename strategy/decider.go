package strategy

import (
	"fmt"
	"math"

	"yield-engine/model"
)

// IdleEntryThreshold 闲置资金超过权益该比例时重新部署
const IdleEntryThreshold = 0.05

// reserveExitHeadroom 储备补足时额外多退出的比例，覆盖手续费
const reserveExitHeadroom = 0.01

// RequestKind 外部资金请求类型
type RequestKind string

const (
	RequestDeposit  RequestKind = "deposit"
	RequestWithdraw RequestKind = "withdraw"
)

// Request 外部出入金请求，只在 tick 之间被接收
type Request struct {
	ID     string
	Kind   RequestKind
	Amount float64
}

// Input 一次决策所需的只读输入
type Input struct {
	Equity     model.EquitySnapshot
	Reserve    model.ReserveSnapshot
	ReduceOnly bool
	FirstTick  bool
	Requests   []Request // 按到达顺序
}

// Decision 决策结果。Act 为 false 表示本 tick 持有不动。
// RequestID 非空时表示该请求已被本次决策消费。
type Decision struct {
	Action    model.StrategyAction
	Act       bool
	RequestID string
}

// DeciderConfig 决策策略参数
type DeciderConfig struct {
	ReduceFraction float64 // reduce-only 每次减仓占权益比例，>=1 表示全部退出
	Backtest       bool
	InitialCapital float64
}

// Decider 每 tick 至多调用一次，把风险/储备/请求状态映射为一个标准化动作。
type Decider struct {
	strategy Strategy
	base     base
	cfg      DeciderConfig
}

// NewDecider 创建决策器
func NewDecider(s Strategy, p Params, cfg DeciderConfig) (*Decider, error) {
	b, err := newBase(p)
	if err != nil {
		return nil, err
	}
	if cfg.ReduceFraction <= 0 {
		return nil, fmt.Errorf("%w: reduce fraction must be > 0", model.ErrConfigInvalid)
	}
	return &Decider{strategy: s, base: b, cfg: cfg}, nil
}

// Strategy 返回绑定的策略
func (d *Decider) Strategy() Strategy { return d.strategy }

// CashKey 储备补足与出入金使用的钱包 share class 持仓
func (d *Decider) CashKey() model.PositionKey { return d.base.cash() }

// Decide 按优先级选择动作：reduce-only 减仓 > 储备补足 > 出入金请求 > 部署 > dust > 持有。
func (d *Decider) Decide(in Input) (Decision, error) {
	dec, err := d.decide(in)
	if err != nil {
		return dec, err
	}
	if dec.Act {
		if err := ValidateAction(dec.Action, in.ReduceOnly); err != nil {
			return dec, err
		}
	}
	// 回测首个 tick 有初始资金却没有任何动作，说明配置无法部署资金
	if d.cfg.Backtest && in.FirstTick && d.cfg.InitialCapital > 0 && !dec.Act {
		return dec, fmt.Errorf("%w: first tick with initial capital %.2f produced no action for %s",
			model.ErrConfigInvalid, d.cfg.InitialCapital, d.strategy.Name())
	}
	return dec, nil
}

func (d *Decider) decide(in Input) (Decision, error) {
	eq := in.Equity
	deployed := d.base.deployed(eq) > 0

	if in.ReduceOnly && deployed {
		var (
			act model.StrategyAction
			err error
		)
		if d.cfg.ReduceFraction >= 1 {
			act, err = d.strategy.ExitFull(eq)
		} else {
			act, err = d.strategy.ExitPartial(eq, eq.Total*d.cfg.ReduceFraction)
			act.Reason = "reduce_only"
		}
		if err != nil {
			return Decision{}, err
		}
		if !act.Empty() {
			return Decision{Action: act, Act: true}, nil
		}
	}

	if deployed && (in.Reserve.Status == model.ReserveLow || in.Reserve.Status == model.ReserveCritical) {
		act, err := d.strategy.ExitPartial(eq, in.Reserve.Deficit()*(1+reserveExitHeadroom))
		if err != nil {
			return Decision{}, err
		}
		act.Reason = "reserve_" + string(in.Reserve.Status)
		if !act.Empty() {
			return Decision{Action: act, Act: true}, nil
		}
	}

	for _, req := range in.Requests {
		if req.Kind == RequestDeposit && in.ReduceOnly {
			continue
		}
		act, err := d.request(eq, req)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Action: act, Act: !act.Empty(), RequestID: req.ID}, nil
	}

	if !in.ReduceOnly && (in.FirstTick || d.base.idle(eq) > IdleEntryThreshold*eq.Total) {
		act, err := d.strategy.EntryFull(eq)
		if err != nil {
			return Decision{}, err
		}
		if !act.Empty() {
			return Decision{Action: act, Act: true}, nil
		}
	}

	act, err := d.strategy.SellDust(eq)
	if err != nil {
		return Decision{}, err
	}
	if !act.Empty() {
		return Decision{Action: act, Act: true}, nil
	}
	return Decision{}, nil
}

// request 把出入金请求包装为带外部划转的部分进出场动作
func (d *Decider) request(eq model.EquitySnapshot, req Request) (model.StrategyAction, error) {
	ext := model.PositionKey{Venue: model.ExternalVenue, Kind: model.KindWallet, Asset: d.base.p.ShareClass}
	cash := d.base.cash()
	if req.Amount <= 0 {
		return d.base.action(model.ActionExitPartial, 0, string(req.Kind)), nil
	}
	switch req.Kind {
	case RequestDeposit:
		in := d.base.transfer(ext, cash, req.Amount)
		act, err := d.strategy.EntryPartial(eq, req.Amount*(1-d.base.p.ReserveRatio))
		if err != nil {
			return act, err
		}
		act.Instructions = append([]model.ExecutionInstruction{in}, act.Instructions...)
		act.Reason = "deposit"
		return act, nil
	case RequestWithdraw:
		act, err := d.strategy.ExitPartial(eq, req.Amount)
		if err != nil {
			return act, err
		}
		available := eq.Positions.Float(cash) + act.TargetAmount
		out := math.Min(req.Amount, available)
		if out > 0 {
			act.Instructions = append(act.Instructions, d.base.transfer(cash, ext, out))
		}
		act.Kind = model.ActionExitPartial
		act.TargetAmount = out
		act.Reason = "withdraw"
		return act, nil
	default:
		return model.StrategyAction{}, fmt.Errorf("%w: unknown request kind %q", model.ErrConfigInvalid, req.Kind)
	}
}

// ValidateAction reduce-only 下只允许减仓类动作
func ValidateAction(action model.StrategyAction, reduceOnly bool) error {
	if reduceOnly && action.Kind.IsEntry() && !action.Empty() {
		return fmt.Errorf("%w: %s (%s)", model.ErrReduceOnlyViolation, action.Kind, action.Reason)
	}
	return nil
}
