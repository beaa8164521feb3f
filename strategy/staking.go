package strategy

import (
	"fmt"

	"yield-engine/model"
)

// StakingNeutral 质押 + 永续对冲：换成基础资产质押为 LST，交易所空单对冲价格敞口。
type StakingNeutral struct {
	base
	underlying model.PositionKey // 钱包中的基础资产
	lst        model.PositionKey
	margin     model.PositionKey
	short      model.PositionKey
	leverage   float64
	hedge      float64
}

// NewStakingNeutral 构造 staking_neutral 策略
func NewStakingNeutral(p Params) (Strategy, error) {
	sp := p.Strategy
	if sp.StakingVenue == "" || sp.LST == "" || sp.Underlying == "" || sp.PerpVenue == "" {
		return nil, fmt.Errorf("%w: staking_neutral requires staking_venue, lst, underlying and perp_venue", model.ErrConfigInvalid)
	}
	b, err := newBase(p, sp.Underlying, sp.LST)
	if err != nil {
		return nil, err
	}
	swap := sp.SwapVenue
	if swap == "" {
		swap = p.WalletVenue
	}
	if swap != p.WalletVenue {
		return nil, fmt.Errorf("%w: staking_neutral swaps in the wallet venue", model.ErrConfigInvalid)
	}
	s := &StakingNeutral{
		base:       b,
		underlying: model.PositionKey{Venue: p.WalletVenue, Kind: model.KindWallet, Asset: sp.Underlying},
		lst:        model.PositionKey{Venue: sp.StakingVenue, Kind: model.KindLST, Asset: sp.LST},
		margin:     model.PositionKey{Venue: sp.PerpVenue, Kind: model.KindSpot, Asset: p.ShareClass},
		short:      model.PositionKey{Venue: sp.PerpVenue, Kind: model.KindPerp, Asset: sp.Underlying},
		leverage:   sp.Leverage,
		hedge:      sp.HedgeRatio,
	}
	if err := b.universe(s.cash(), s.underlying, s.lst, s.margin, s.short); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *StakingNeutral) Name() string { return ModeStakingNeutral }
func (s *StakingNeutral) CoreAssets() []string {
	return []string{s.p.ShareClass, s.underlying.Asset, s.lst.Asset}
}

func (s *StakingNeutral) split(c float64) (stake, margin float64) {
	margin = c / (s.leverage + 1)
	return c - margin, margin
}

func (s *StakingNeutral) CalculateTargetPosition(eq model.EquitySnapshot) (Target, error) {
	t := s.targetBase(eq)
	stakeCash, margin := s.split(t.Deployed)
	px, err := eq.State.PriceIn(s.underlying.Asset, s.p.ShareClass)
	if err != nil {
		return t, err
	}
	rate, err := eq.State.Index(s.lst)
	if err != nil {
		return t, err
	}
	units := stakeCash / px
	t.Holdings[s.lst] = units / rate
	t.Holdings[s.short] = -units * s.hedge
	t.Holdings[s.margin] = margin
	return t, nil
}

func (s *StakingNeutral) EntryFull(eq model.EquitySnapshot) (model.StrategyAction, error) {
	t, err := s.CalculateTargetPosition(eq)
	if err != nil {
		return model.StrategyAction{}, err
	}
	act, err := s.deploy(eq, s.entryAmount(eq, t))
	act.Kind = model.ActionEntryFull
	return act, err
}

func (s *StakingNeutral) EntryPartial(eq model.EquitySnapshot, amount float64) (model.StrategyAction, error) {
	act, err := s.deploy(eq, amount)
	act.Kind = model.ActionEntryPartial
	return act, err
}

func (s *StakingNeutral) deploy(eq model.EquitySnapshot, amount float64) (model.StrategyAction, error) {
	act := s.action(model.ActionEntryPartial, amount, "stake_and_hedge")
	if amount <= 0 {
		return act, nil
	}
	stakeCash, margin := s.split(amount)
	swap, units, err := s.trade(eq.State, s.cash(), s.underlying, stakeCash)
	if err != nil {
		return act, err
	}
	stake, _, err := s.stake(eq.State, s.underlying, s.lst, units)
	if err != nil {
		return act, err
	}
	short, _, err := s.perp(eq.State, s.margin, s.short, -units*s.hedge)
	if err != nil {
		return act, err
	}
	act.Instructions = append(act.Instructions, swap, stake, s.transfer(s.cash(), s.margin, margin), short)
	return act, nil
}

func (s *StakingNeutral) ExitFull(eq model.EquitySnapshot) (model.StrategyAction, error) {
	act, err := s.unwind(eq, 1)
	act.Kind = model.ActionExitFull
	return act, err
}

func (s *StakingNeutral) ExitPartial(eq model.EquitySnapshot, amount float64) (model.StrategyAction, error) {
	return s.unwind(eq, s.exitFraction(eq, amount))
}

func (s *StakingNeutral) unwind(eq model.EquitySnapshot, fraction float64) (model.StrategyAction, error) {
	act := s.action(model.ActionExitPartial, 0, "unstake_and_unhedge")
	if fraction <= 0 {
		return act, nil
	}
	returned := 0.0
	units := eq.Positions.Float(s.underlying) * fraction
	if q := eq.Positions.Float(s.lst) * fraction; q > 0 {
		rate, err := eq.State.Index(s.lst)
		if err != nil {
			return act, err
		}
		instr, err := s.unstake(eq.State, s.lst, s.underlying, q*rate)
		if err != nil {
			return act, err
		}
		act.Instructions = append(act.Instructions, instr)
		units += q * rate
	}
	if units > 0 {
		sell, out, err := s.trade(eq.State, s.underlying, s.cash(), units)
		if err != nil {
			return act, err
		}
		act.Instructions = append(act.Instructions, sell)
		returned += out
	}
	cash := eq.Positions.Float(s.margin) * fraction
	closeInstr, pnl, ok, err := s.closePerp(eq, s.margin, s.short, fraction)
	if err != nil {
		return act, err
	}
	if ok {
		act.Instructions = append(act.Instructions, closeInstr)
		cash += pnl
	}
	if cash > 0 {
		act.Instructions = append(act.Instructions, s.transfer(s.margin, s.cash(), cash))
		returned += cash
	}
	act.TargetAmount = returned
	return act, nil
}
