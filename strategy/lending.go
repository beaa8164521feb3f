package strategy

import (
	"fmt"
	"math"

	"yield-engine/model"
)

// Lending 纯借贷：将储备之外的 share class 资金存入借贷协议。
type Lending struct {
	base
	pool model.PositionKey
}

// NewLending 构造 pure_lending 策略
func NewLending(p Params) (Strategy, error) {
	b, err := newBase(p)
	if err != nil {
		return nil, err
	}
	if p.Strategy.LendingVenue == "" {
		return nil, fmt.Errorf("%w: pure_lending requires strategy.lending_venue", model.ErrConfigInvalid)
	}
	s := &Lending{
		base: b,
		pool: model.PositionKey{Venue: p.Strategy.LendingVenue, Kind: model.KindSupply, Asset: p.ShareClass},
	}
	if err := b.universe(s.cash(), s.pool); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Lending) Name() string         { return ModePureLending }
func (s *Lending) CoreAssets() []string { return []string{s.p.ShareClass} }

func (s *Lending) CalculateTargetPosition(eq model.EquitySnapshot) (Target, error) {
	t := s.targetBase(eq)
	idx, err := eq.State.Index(s.pool)
	if err != nil {
		return t, err
	}
	t.Holdings[s.pool] = t.Deployed / idx
	return t, nil
}

func (s *Lending) EntryFull(eq model.EquitySnapshot) (model.StrategyAction, error) {
	t, err := s.CalculateTargetPosition(eq)
	if err != nil {
		return model.StrategyAction{}, err
	}
	act, err := s.deploy(eq, s.entryAmount(eq, t))
	act.Kind = model.ActionEntryFull
	return act, err
}

func (s *Lending) EntryPartial(eq model.EquitySnapshot, amount float64) (model.StrategyAction, error) {
	act, err := s.deploy(eq, amount)
	act.Kind = model.ActionEntryPartial
	return act, err
}

func (s *Lending) deploy(eq model.EquitySnapshot, amount float64) (model.StrategyAction, error) {
	act := s.action(model.ActionEntryPartial, amount, "supply")
	if amount <= 0 {
		return act, nil
	}
	instr, err := s.supply(eq.State, s.cash(), s.pool, amount)
	if err != nil {
		return act, err
	}
	act.Instructions = append(act.Instructions, instr)
	return act, nil
}

func (s *Lending) ExitFull(eq model.EquitySnapshot) (model.StrategyAction, error) {
	act, err := s.unwind(eq, math.Inf(1))
	act.Kind = model.ActionExitFull
	return act, err
}

func (s *Lending) ExitPartial(eq model.EquitySnapshot, amount float64) (model.StrategyAction, error) {
	return s.unwind(eq, amount)
}

func (s *Lending) unwind(eq model.EquitySnapshot, amount float64) (model.StrategyAction, error) {
	act := s.action(model.ActionExitPartial, 0, "withdraw")
	q := eq.Positions.Float(s.pool)
	if q <= 0 || amount <= 0 {
		return act, nil
	}
	idx, err := eq.State.Index(s.pool)
	if err != nil {
		return act, err
	}
	amt := math.Min(amount, q*idx)
	instr, err := s.withdraw(eq.State, s.pool, s.cash(), amt)
	if err != nil {
		return act, err
	}
	act.TargetAmount = amt
	act.Instructions = append(act.Instructions, instr)
	return act, nil
}
