package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yield-engine/model"
)

func newLendingDecider(t *testing.T, cfg DeciderConfig) *Decider {
	t.Helper()
	p := params(0.05, 0.001)
	s, err := NewLending(p)
	require.NoError(t, err)
	if cfg.ReduceFraction == 0 {
		cfg.ReduceFraction = 0.5
	}
	d, err := NewDecider(s, p, cfg)
	require.NoError(t, err)
	return d
}

func adequate() model.ReserveSnapshot {
	return model.ReserveSnapshot{Status: model.ReserveAdequate}
}

func TestDecideFirstTickDeploys(t *testing.T) {
	d := newLendingDecider(t, DeciderConfig{Backtest: true, InitialCapital: 100000})
	dec, err := d.Decide(Input{
		Equity:    equity(100000, map[model.PositionKey]float64{wallet: 100000}),
		Reserve:   adequate(),
		FirstTick: true,
	})
	require.NoError(t, err)
	assert.True(t, dec.Act)
	assert.Equal(t, model.ActionEntryFull, dec.Action.Kind)
}

func TestDecideFirstTickWithoutActionFails(t *testing.T) {
	d := newLendingDecider(t, DeciderConfig{Backtest: true, InitialCapital: 100000})
	_, err := d.Decide(Input{
		Equity:    equity(100000, map[model.PositionKey]float64{pool: 100000}),
		Reserve:   adequate(),
		FirstTick: true,
	})
	assert.ErrorIs(t, err, model.ErrConfigInvalid)
}

func TestDecideHoldsWhenNothingToDo(t *testing.T) {
	d := newLendingDecider(t, DeciderConfig{Backtest: true, InitialCapital: 100000})
	dec, err := d.Decide(Input{
		Equity:  equity(100000, map[model.PositionKey]float64{wallet: 5100, pool: 94900}),
		Reserve: adequate(),
	})
	require.NoError(t, err)
	assert.False(t, dec.Act)
}

func TestDecideReduceOnlyExits(t *testing.T) {
	d := newLendingDecider(t, DeciderConfig{})
	dec, err := d.Decide(Input{
		Equity:     equity(100000, map[model.PositionKey]float64{wallet: 5100, pool: 94900}),
		Reserve:    adequate(),
		ReduceOnly: true,
	})
	require.NoError(t, err)
	require.True(t, dec.Act)
	assert.Equal(t, model.ActionExitPartial, dec.Action.Kind)
	assert.InDelta(t, 50000, dec.Action.TargetAmount, 1e-9)

	full := newLendingDecider(t, DeciderConfig{ReduceFraction: 1})
	dec, err = full.Decide(Input{
		Equity:     equity(100000, map[model.PositionKey]float64{wallet: 5100, pool: 94900}),
		Reserve:    adequate(),
		ReduceOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ActionExitFull, dec.Action.Kind)
}

func TestDecideReserveDeficit(t *testing.T) {
	d := newLendingDecider(t, DeciderConfig{})
	reserve := model.ReserveSnapshot{Target: 5000, Actual: 2000, Status: model.ReserveLow}
	dec, err := d.Decide(Input{
		Equity:  equity(100000, map[model.PositionKey]float64{wallet: 2000, pool: 98000}),
		Reserve: reserve,
	})
	require.NoError(t, err)
	require.True(t, dec.Act)
	assert.Equal(t, model.ActionExitPartial, dec.Action.Kind)
	assert.Equal(t, "reserve_low", dec.Action.Reason)
	assert.InDelta(t, 3030, dec.Action.TargetAmount, 1e-9)
}

func TestDecideRequests(t *testing.T) {
	d := newLendingDecider(t, DeciderConfig{})
	eq := equity(100000, map[model.PositionKey]float64{wallet: 5100, pool: 94900})

	dec, err := d.Decide(Input{Equity: eq, Reserve: adequate(), Requests: []Request{{ID: "w1", Kind: RequestWithdraw, Amount: 1000}}})
	require.NoError(t, err)
	assert.Equal(t, "w1", dec.RequestID)
	require.Len(t, dec.Action.Instructions, 2)
	out := dec.Action.Instructions[1]
	assert.Equal(t, model.ExternalVenue, out.Dest().Venue)
	require.Len(t, out.Expected(), 1, "external side is not tracked")

	dec, err = d.Decide(Input{Equity: eq, Reserve: adequate(), Requests: []Request{{ID: "d1", Kind: RequestDeposit, Amount: 1000}}})
	require.NoError(t, err)
	assert.Equal(t, model.ActionEntryPartial, dec.Action.Kind)
	require.Len(t, dec.Action.Instructions, 2)
	assert.Equal(t, model.OpTransfer, dec.Action.Instructions[0].Operation())
	assert.InDelta(t, 950, dec.Action.Instructions[1].Amount(), 1e-9)

	// reduce-only 下入金延后，不消费请求
	dec, err = d.Decide(Input{
		Equity:     equity(100000, map[model.PositionKey]float64{wallet: 100000}),
		Reserve:    adequate(),
		ReduceOnly: true,
		Requests:   []Request{{ID: "d2", Kind: RequestDeposit, Amount: 1000}},
	})
	require.NoError(t, err)
	assert.False(t, dec.Act)
	assert.Empty(t, dec.RequestID)
}

func TestValidateAction(t *testing.T) {
	entry := model.StrategyAction{Kind: model.ActionEntryPartial, Instructions: []model.ExecutionInstruction{
		model.NewInstruction(model.InstructionSpec{Operation: model.OpSupply}),
	}}
	assert.ErrorIs(t, ValidateAction(entry, true), model.ErrReduceOnlyViolation)
	assert.NoError(t, ValidateAction(entry, false))

	exit := entry
	exit.Kind = model.ActionExitPartial
	assert.NoError(t, ValidateAction(exit, true))
}
