package strategy

import (
	"fmt"

	"yield-engine/model"
)

// Basis 期现套利：资金划入交易所，买入现货并以永续空单对冲，赚取基差与资金费。
type Basis struct {
	base
	venueCash model.PositionKey // 交易所 share class 余额，兼作保证金
	spot      model.PositionKey
	short     model.PositionKey
	leverage  float64
	hedge     float64
}

// NewBasis 构造 basis 策略
func NewBasis(p Params) (Strategy, error) {
	sp := p.Strategy
	if sp.SpotVenue == "" || sp.Underlying == "" {
		return nil, fmt.Errorf("%w: basis requires strategy.spot_venue and strategy.underlying", model.ErrConfigInvalid)
	}
	b, err := newBase(p, sp.Underlying)
	if err != nil {
		return nil, err
	}
	perpVenue := sp.PerpVenue
	if perpVenue == "" {
		perpVenue = sp.SpotVenue
	}
	if perpVenue != sp.SpotVenue {
		return nil, fmt.Errorf("%w: basis perp margin must live on the spot venue", model.ErrConfigInvalid)
	}
	s := &Basis{
		base:      b,
		venueCash: model.PositionKey{Venue: sp.SpotVenue, Kind: model.KindSpot, Asset: p.ShareClass},
		spot:      model.PositionKey{Venue: sp.SpotVenue, Kind: model.KindSpot, Asset: sp.Underlying},
		short:     model.PositionKey{Venue: perpVenue, Kind: model.KindPerp, Asset: sp.Underlying},
		leverage:  sp.Leverage,
		hedge:     sp.HedgeRatio,
	}
	if err := b.universe(s.cash(), s.venueCash, s.spot, s.short); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Basis) Name() string         { return ModeBasis }
func (s *Basis) CoreAssets() []string { return []string{s.p.ShareClass, s.spot.Asset} }

// split 资金 C 拆为现货 C·L/(L+1) 与保证金 C/(L+1)
func (s *Basis) split(c float64) (spot, margin float64) {
	margin = c / (s.leverage + 1)
	return c - margin, margin
}

func (s *Basis) CalculateTargetPosition(eq model.EquitySnapshot) (Target, error) {
	t := s.targetBase(eq)
	spotCash, margin := s.split(t.Deployed)
	px, err := eq.State.PriceIn(s.spot.Asset, s.p.ShareClass)
	if err != nil {
		return t, err
	}
	units := spotCash / px
	t.Holdings[s.spot] = units
	t.Holdings[s.short] = -units * s.hedge
	t.Holdings[s.venueCash] = margin
	return t, nil
}

func (s *Basis) EntryFull(eq model.EquitySnapshot) (model.StrategyAction, error) {
	t, err := s.CalculateTargetPosition(eq)
	if err != nil {
		return model.StrategyAction{}, err
	}
	act, err := s.deploy(eq, s.entryAmount(eq, t))
	act.Kind = model.ActionEntryFull
	return act, err
}

func (s *Basis) EntryPartial(eq model.EquitySnapshot, amount float64) (model.StrategyAction, error) {
	act, err := s.deploy(eq, amount)
	act.Kind = model.ActionEntryPartial
	return act, err
}

func (s *Basis) deploy(eq model.EquitySnapshot, amount float64) (model.StrategyAction, error) {
	act := s.action(model.ActionEntryPartial, amount, "cash_and_carry")
	if amount <= 0 {
		return act, nil
	}
	spotCash, _ := s.split(amount)
	act.Instructions = append(act.Instructions, s.transfer(s.cash(), s.venueCash, amount))
	buy, units, err := s.trade(eq.State, s.venueCash, s.spot, spotCash)
	if err != nil {
		return act, err
	}
	short, _, err := s.perp(eq.State, s.venueCash, s.short, -units*s.hedge)
	if err != nil {
		return act, err
	}
	act.Instructions = append(act.Instructions, buy, short)
	return act, nil
}

func (s *Basis) ExitFull(eq model.EquitySnapshot) (model.StrategyAction, error) {
	act, err := s.unwind(eq, 1)
	act.Kind = model.ActionExitFull
	return act, err
}

func (s *Basis) ExitPartial(eq model.EquitySnapshot, amount float64) (model.StrategyAction, error) {
	return s.unwind(eq, s.exitFraction(eq, amount))
}

// unwind 按比例平空单、卖现货，并把交易所资金划回钱包
func (s *Basis) unwind(eq model.EquitySnapshot, fraction float64) (model.StrategyAction, error) {
	act := s.action(model.ActionExitPartial, 0, "unwind_carry")
	if fraction <= 0 {
		return act, nil
	}
	cash := eq.Positions.Float(s.venueCash) * fraction
	closeInstr, pnl, ok, err := s.closePerp(eq, s.venueCash, s.short, fraction)
	if err != nil {
		return act, err
	}
	if ok {
		act.Instructions = append(act.Instructions, closeInstr)
		cash += pnl
	}
	if units := eq.Positions.Float(s.spot) * fraction; units > 0 {
		sell, out, err := s.trade(eq.State, s.spot, s.venueCash, units)
		if err != nil {
			return act, err
		}
		act.Instructions = append(act.Instructions, sell)
		cash += out
	}
	if cash > 0 {
		act.Instructions = append(act.Instructions, s.transfer(s.venueCash, s.cash(), cash))
	}
	act.TargetAmount = cash
	return act, nil
}
