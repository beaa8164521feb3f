package strategy

import (
	"fmt"
	"math"

	"yield-engine/model"
)

// ReserveHeadroom 部署资金时在储备目标之上额外保留的比例，避免收益增长使储备立即跌破目标
const ReserveHeadroom = 0.02

// base 各策略共用的指令构建与 dust 处理
type base struct {
	p    Params
	fee  float64
	core map[string]bool
}

func newBase(p Params, core ...string) (base, error) {
	if p.ShareClass == "" || p.WalletVenue == "" {
		return base{}, fmt.Errorf("%w: share class and wallet venue are required", model.ErrConfigInvalid)
	}
	b := base{p: p, fee: p.FeeBps / 10000, core: map[string]bool{p.ShareClass: true}}
	for _, a := range core {
		b.core[a] = true
	}
	return b, nil
}

// universe 策略使用的持仓必须在持仓宇宙内，启动时才能校验其数据覆盖
func (b base) universe(keys ...model.PositionKey) error {
	known := make(map[model.PositionKey]bool, len(b.p.Instruments))
	for _, k := range b.p.Instruments {
		known[k] = true
	}
	for _, k := range keys {
		if !known[k] {
			return fmt.Errorf("%w: position %s is not listed in instruments", model.ErrConfigInvalid, k)
		}
	}
	return nil
}

func (b base) walletKey(asset string) model.PositionKey {
	return model.PositionKey{Venue: b.p.WalletVenue, Kind: model.KindWallet, Asset: asset}
}

func (b base) cash() model.PositionKey {
	return b.walletKey(b.p.ShareClass)
}

func (b base) action(kind model.ActionKind, amount float64, reason string, instrs ...model.ExecutionInstruction) model.StrategyAction {
	return model.StrategyAction{
		Kind:           kind,
		TargetAmount:   amount,
		TargetCurrency: b.p.ShareClass,
		Instructions:   instrs,
		Reason:         reason,
	}
}

// reserveTarget 带余量的储备目标
func (b base) reserveTarget(eq model.EquitySnapshot) float64 {
	return eq.Total * b.p.ReserveRatio * (1 + ReserveHeadroom)
}

// idle 钱包中超过储备目标的 share class 资金
func (b base) idle(eq model.EquitySnapshot) float64 {
	return math.Max(0, eq.Positions.Float(b.cash())-b.reserveTarget(eq))
}

// deployed 钱包 share class 余额以外的权益
func (b base) deployed(eq model.EquitySnapshot) float64 {
	return math.Max(0, eq.Total-eq.Positions.Float(b.cash()))
}

// targetBase 计算部署额与储备额
func (b base) targetBase(eq model.EquitySnapshot) Target {
	reserve := b.reserveTarget(eq)
	return Target{
		Deployed: math.Max(0, eq.Total-reserve),
		Reserve:  reserve,
		Holdings: map[model.PositionKey]float64{b.cash(): reserve},
	}
}

// entryAmount 以目标部署额为参照，受钱包闲置资金约束
func (b base) entryAmount(eq model.EquitySnapshot, target Target) float64 {
	return math.Min(math.Max(0, target.Deployed-b.deployed(eq)), b.idle(eq))
}

// exitFraction 退出金额对应的部署资金比例
func (b base) exitFraction(eq model.EquitySnapshot, amount float64) float64 {
	d := b.deployed(eq)
	if d <= 0 || amount <= 0 {
		return 0
	}
	return math.Min(1, amount/d)
}

func expect(key model.PositionKey, qty float64) []model.PositionDelta {
	if key.Venue == model.ExternalVenue || key.IsZero() {
		return nil
	}
	return []model.PositionDelta{model.Delta(key, qty)}
}

func legs(src model.PositionKey, out float64, dst model.PositionKey, in float64) []model.PositionDelta {
	return append(expect(src, -out), expect(dst, in)...)
}

// transfer 同资产划转
func (b base) transfer(src, dst model.PositionKey, amount float64) model.ExecutionInstruction {
	venue := src.Venue
	if venue == model.ExternalVenue {
		venue = dst.Venue
	}
	return model.NewInstruction(model.InstructionSpec{
		Operation: model.OpTransfer, Venue: venue, Source: src, Dest: dst, Amount: amount,
		Expected: legs(src, amount, dst, amount),
	})
}

// trade 现货兑换，返回预期成交数量
func (b base) trade(st model.ProtocolState, src, dst model.PositionKey, amount float64) (model.ExecutionInstruction, float64, error) {
	px, err := st.PriceIn(src.Asset, dst.Asset)
	if err != nil {
		return model.ExecutionInstruction{}, 0, err
	}
	out := amount * px * (1 - b.fee)
	return model.NewInstruction(model.InstructionSpec{
		Operation: model.OpTrade, Venue: src.Venue, Source: src, Dest: dst, Amount: amount,
		Expected: legs(src, amount, dst, out),
	}), out, nil
}

// supply 存入借贷协议，amount 为基础资产数量
func (b base) supply(st model.ProtocolState, src, dst model.PositionKey, amount float64) (model.ExecutionInstruction, error) {
	idx, err := st.Index(dst)
	if err != nil {
		return model.ExecutionInstruction{}, err
	}
	return model.NewInstruction(model.InstructionSpec{
		Operation: model.OpSupply, Venue: dst.Venue, Source: src, Dest: dst, Amount: amount,
		Expected: legs(src, amount, dst, amount/idx),
	}), nil
}

// withdraw 从借贷协议取回 amount 基础资产
func (b base) withdraw(st model.ProtocolState, src, dst model.PositionKey, amount float64) (model.ExecutionInstruction, error) {
	idx, err := st.Index(src)
	if err != nil {
		return model.ExecutionInstruction{}, err
	}
	return model.NewInstruction(model.InstructionSpec{
		Operation: model.OpWithdraw, Venue: src.Venue, Source: src, Dest: dst, Amount: amount,
		Expected: legs(src, amount/idx, dst, amount),
	}), nil
}

// stake 质押 amount 基础资产，返回预期 LST 数量
func (b base) stake(st model.ProtocolState, src, dst model.PositionKey, amount float64) (model.ExecutionInstruction, float64, error) {
	rate, err := st.Index(dst)
	if err != nil {
		return model.ExecutionInstruction{}, 0, err
	}
	out := amount / rate
	return model.NewInstruction(model.InstructionSpec{
		Operation: model.OpStake, Venue: dst.Venue, Source: src, Dest: dst, Amount: amount,
		Expected: legs(src, amount, dst, out),
	}), out, nil
}

// unstake 赎回 LST，amount 为换回的基础资产数量
func (b base) unstake(st model.ProtocolState, src, dst model.PositionKey, amount float64) (model.ExecutionInstruction, error) {
	rate, err := st.Index(src)
	if err != nil {
		return model.ExecutionInstruction{}, err
	}
	return model.NewInstruction(model.InstructionSpec{
		Operation: model.OpUnstake, Venue: src.Venue, Source: src, Dest: dst, Amount: amount,
		Expected: legs(src, amount/rate, dst, amount),
	}), nil
}

// perp 永续开平仓，qty 带符号；margin 承担手续费与已实现盈亏。返回以保证金资产计的手续费。
func (b base) perp(st model.ProtocolState, margin, key model.PositionKey, qty float64) (model.ExecutionInstruction, float64, error) {
	mark, err := st.Mark(key)
	if err != nil {
		return model.ExecutionInstruction{}, 0, err
	}
	pm, err := st.Price(margin.Asset)
	if err != nil {
		return model.ExecutionInstruction{}, 0, err
	}
	fee := math.Abs(qty) * mark * b.fee / pm
	return model.NewInstruction(model.InstructionSpec{
		Operation: model.OpPerp, Venue: key.Venue, Source: margin, Dest: key, Amount: qty,
		Expected: expect(key, qty),
	}), fee, nil
}

// closePerp 平掉 fraction 比例的合约，返回指令与保证金预期净变化（已实现盈亏 − 手续费）
func (b base) closePerp(eq model.EquitySnapshot, margin, key model.PositionKey, fraction float64) (model.ExecutionInstruction, float64, bool, error) {
	q := eq.Positions.Float(key)
	if q == 0 || fraction <= 0 {
		return model.ExecutionInstruction{}, 0, false, nil
	}
	closeQty := -q * fraction
	instr, fee, err := b.perp(eq.State, margin, key, closeQty)
	if err != nil {
		return instr, 0, false, err
	}
	realizedUSD, err := eq.State.ValueUSD(key, q*fraction, eq.Positions.Entry(key))
	if err != nil {
		return instr, 0, false, err
	}
	pm, err := eq.State.Price(margin.Asset)
	if err != nil {
		return instr, 0, false, err
	}
	return instr, realizedUSD/pm - fee, true, nil
}

// dustHoldings 钱包/现货中非核心资产的余额
func (b base) dustHoldings(eq model.EquitySnapshot) ([]model.PositionKey, float64, error) {
	var keys []model.PositionKey
	total := 0.0
	for _, key := range eq.Positions.Keys() {
		if !key.Kind.IsBalance() || b.core[key.Asset] {
			continue
		}
		q := eq.Positions.Float(key)
		if q <= 0 {
			continue
		}
		v, err := eq.State.Value(key, q, model.PerpEntry{})
		if err != nil {
			return nil, 0, err
		}
		keys = append(keys, key)
		total += v
	}
	return keys, total, nil
}

// SellDust dust 总价值严格大于 dust_delta × equity 时卖出为 share class；否则返回空指令动作。
// 多个币种时作为 atomic 组整体结算。
func (b base) SellDust(eq model.EquitySnapshot) (model.StrategyAction, error) {
	keys, total, err := b.dustHoldings(eq)
	if err != nil {
		return model.StrategyAction{}, err
	}
	act := b.action(model.ActionSellDust, total, "dust")
	if len(keys) == 0 || total <= b.p.DustDelta*eq.Total {
		return act, nil
	}
	for _, key := range keys {
		dst := model.PositionKey{Venue: key.Venue, Kind: key.Kind, Asset: b.p.ShareClass}
		instr, _, err := b.trade(eq.State, key, dst, eq.Positions.Float(key))
		if err != nil {
			return model.StrategyAction{}, err
		}
		act.Instructions = append(act.Instructions, instr)
	}
	act.Atomic = len(act.Instructions) > 1
	return act, nil
}
