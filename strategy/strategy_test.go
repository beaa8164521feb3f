package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yield-engine/config"
	"yield-engine/model"
)

var (
	t0     = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	wallet = model.PositionKey{Venue: "wallet", Kind: model.KindWallet, Asset: "USDT"}
	pool   = model.PositionKey{Venue: "aave_v3", Kind: model.KindSupply, Asset: "USDT"}
	arb    = model.PositionKey{Venue: "wallet", Kind: model.KindWallet, Asset: "ARB"}
	op     = model.PositionKey{Venue: "wallet", Kind: model.KindWallet, Asset: "OP"}
	cexUSD = model.PositionKey{Venue: "binance", Kind: model.KindSpot, Asset: "USDT"}
	cexETH = model.PositionKey{Venue: "binance", Kind: model.KindSpot, Asset: "ETH"}
	perpK  = model.PositionKey{Venue: "binance", Kind: model.KindPerp, Asset: "ETH"}
	lstK   = model.PositionKey{Venue: "etherfi", Kind: model.KindLST, Asset: "weETH"}
	ethW   = model.PositionKey{Venue: "wallet", Kind: model.KindWallet, Asset: "ETH"}
)

func state() model.ProtocolState {
	st := model.NewProtocolState(t0, "USDT")
	st.Prices["USDT"] = 1
	st.Prices["ETH"] = 2000
	st.Prices["ARB"] = 1
	st.Prices["OP"] = 2
	st.Indices[pool] = 1
	st.Indices[lstK] = 1.25
	st.Indices[perpK] = 0
	st.Marks[perpK] = 2000
	st.Underlying["weETH"] = "ETH"
	return st
}

func equity(total float64, bal map[model.PositionKey]float64) model.EquitySnapshot {
	pos := model.NewPositionSnapshot(t0)
	for k, v := range bal {
		pos.Quantities[k] = decimal.NewFromFloat(v)
	}
	return model.EquitySnapshot{Timestamp: t0, ShareClass: "USDT", Total: total, Assets: total, Positions: pos, State: state()}
}

func params(ratio, dust float64) Params {
	return Params{
		ShareClass:   "USDT",
		WalletVenue:  "wallet",
		ReserveRatio: ratio,
		DustDelta:    dust,
		Instruments:  []model.PositionKey{wallet, pool, arb, op, cexUSD, cexETH, perpK, lstK, ethW},
		Strategy: config.StrategyParams{
			LendingVenue: "aave_v3",
			SpotVenue:    "binance",
			PerpVenue:    "binance",
			StakingVenue: "etherfi",
			Underlying:   "ETH",
			LST:          "weETH",
			Leverage:     3,
			HedgeRatio:   1,
		},
	}
}

func deltaOf(t *testing.T, instr model.ExecutionInstruction, key model.PositionKey) float64 {
	t.Helper()
	for _, d := range instr.Expected() {
		if d.Key == key {
			f, _ := d.Quantity.Float64()
			return f
		}
	}
	t.Fatalf("no expected delta for %s in %s", key, instr)
	return 0
}

func TestFactory(t *testing.T) {
	f := NewStrategyFactory()
	assert.Equal(t, []string{ModeBasis, ModePureLending, ModeStakingNeutral}, f.Modes())

	s, err := f.CreateStrategy(ModePureLending, params(0.05, 0.002))
	require.NoError(t, err)
	assert.Equal(t, ModePureLending, s.Name())

	_, err = f.CreateStrategy("martingale", params(0.05, 0.002))
	assert.ErrorIs(t, err, model.ErrConfigInvalid)

	p := params(0.05, 0.002)
	p.Strategy.LendingVenue = ""
	_, err = f.CreateStrategy(ModePureLending, p)
	assert.ErrorIs(t, err, model.ErrConfigInvalid)
}

func TestConstructorsRejectPositionsOutsideUniverse(t *testing.T) {
	f := NewStrategyFactory()
	cases := []struct {
		mode    string
		missing model.PositionKey
	}{
		{ModePureLending, pool},
		{ModePureLending, wallet},
		{ModeBasis, perpK},
		{ModeBasis, cexUSD},
		{ModeStakingNeutral, lstK},
		{ModeStakingNeutral, ethW},
	}
	for _, tc := range cases {
		t.Run(tc.mode+"/"+tc.missing.String(), func(t *testing.T) {
			p := params(0.05, 0.002)
			p.Instruments = nil
			for _, k := range params(0.05, 0.002).Instruments {
				if k != tc.missing {
					p.Instruments = append(p.Instruments, k)
				}
			}
			_, err := f.CreateStrategy(tc.mode, p)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrConfigInvalid)
			assert.Contains(t, err.Error(), tc.missing.String())
		})
	}

	for _, mode := range f.Modes() {
		_, err := f.CreateStrategy(mode, params(0.05, 0.002))
		assert.NoError(t, err, mode)
	}
}

func TestLendingEntryAndExit(t *testing.T) {
	s, err := NewLending(params(0.05, 0.002))
	require.NoError(t, err)

	eq := equity(100000, map[model.PositionKey]float64{wallet: 100000})
	target, err := s.CalculateTargetPosition(eq)
	require.NoError(t, err)
	assert.InDelta(t, 5100, target.Reserve, 1e-9)
	assert.InDelta(t, 94900, target.Holdings[pool], 1e-9)

	act, err := s.EntryFull(eq)
	require.NoError(t, err)
	assert.Equal(t, model.ActionEntryFull, act.Kind)
	require.Len(t, act.Instructions, 1)
	instr := act.Instructions[0]
	assert.Equal(t, model.OpSupply, instr.Operation())
	assert.Equal(t, "aave_v3", instr.Venue())
	assert.InDelta(t, -94900, deltaOf(t, instr, wallet), 1e-6)
	assert.InDelta(t, 94900, deltaOf(t, instr, pool), 1e-6)

	deployed := equity(100000, map[model.PositionKey]float64{wallet: 5100, pool: 94900})
	act, err = s.ExitPartial(deployed, 1000)
	require.NoError(t, err)
	require.Len(t, act.Instructions, 1)
	assert.Equal(t, model.OpWithdraw, act.Instructions[0].Operation())
	assert.InDelta(t, 1000, act.TargetAmount, 1e-9)

	act, err = s.ExitFull(deployed)
	require.NoError(t, err)
	assert.Equal(t, model.ActionExitFull, act.Kind)
	assert.InDelta(t, 94900, act.TargetAmount, 1e-6)
}

func TestSellDustThreshold(t *testing.T) {
	s, err := NewLending(params(0.05, 0.001))
	require.NoError(t, err)

	// 100 ARB + 25 OP = 150 > 0.001 × 100000
	eq := equity(100000, map[model.PositionKey]float64{wallet: 99850, arb: 100, op: 25})
	act, err := s.SellDust(eq)
	require.NoError(t, err)
	assert.Equal(t, model.ActionSellDust, act.Kind)
	require.Len(t, act.Instructions, 2)
	assert.True(t, act.Atomic, "multi-token dust sale settles as one unit")
	for _, instr := range act.Instructions {
		assert.Equal(t, model.OpTrade, instr.Operation())
		assert.Equal(t, "USDT", instr.Dest().Asset)
	}

	eq = equity(100000, map[model.PositionKey]float64{wallet: 99950, arb: 50})
	act, err = s.SellDust(eq)
	require.NoError(t, err)
	assert.True(t, act.Empty())
	assert.Equal(t, model.ActionSellDust, act.Kind)

	// 恰好等于阈值不触发
	eq = equity(100000, map[model.PositionKey]float64{wallet: 99900, arb: 100})
	act, err = s.SellDust(eq)
	require.NoError(t, err)
	assert.True(t, act.Empty())

	eq = equity(100000, map[model.PositionKey]float64{wallet: 99800, arb: 200})
	act, err = s.SellDust(eq)
	require.NoError(t, err)
	require.Len(t, act.Instructions, 1)
	assert.False(t, act.Atomic)

	// dust_delta 0.002：阈值 200，150 不触发，恰好 200 不触发，超过才卖出
	s, err = NewLending(params(0.05, 0.002))
	require.NoError(t, err)
	for _, tc := range []struct {
		dust float64
		sell bool
	}{{150, false}, {200, false}, {201, true}} {
		eq = equity(100000, map[model.PositionKey]float64{wallet: 100000 - tc.dust, arb: tc.dust})
		act, err = s.SellDust(eq)
		require.NoError(t, err)
		assert.Equal(t, tc.sell, !act.Empty(), "dust %v", tc.dust)
	}
}

func TestBasisEntryShape(t *testing.T) {
	s, err := NewBasis(params(0, 0.002))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"USDT", "ETH"}, s.CoreAssets())

	eq := equity(10000, map[model.PositionKey]float64{wallet: 10000})
	act, err := s.EntryFull(eq)
	require.NoError(t, err)
	require.Len(t, act.Instructions, 3)

	ops := []model.Operation{}
	for _, instr := range act.Instructions {
		ops = append(ops, instr.Operation())
	}
	assert.Equal(t, []model.Operation{model.OpTransfer, model.OpTrade, model.OpPerp}, ops)

	buy := act.Instructions[1]
	assert.InDelta(t, -7500, deltaOf(t, buy, cexUSD), 1e-9)
	assert.InDelta(t, 3.75, deltaOf(t, buy, cexETH), 1e-9)

	short := act.Instructions[2]
	assert.InDelta(t, -3.75, short.Amount(), 1e-9)
	require.Len(t, short.Expected(), 1, "margin movements are settled by the venue")
	assert.Equal(t, perpK, short.Expected()[0].Key)
}

func TestBasisUnwindReturnsCash(t *testing.T) {
	s, err := NewBasis(params(0, 0.002))
	require.NoError(t, err)

	eq := equity(10000, map[model.PositionKey]float64{cexUSD: 2500, cexETH: 3.75, perpK: -3.75})
	eq.Positions.Entries[perpK] = model.PerpEntry{Price: 1900}
	act, err := s.ExitFull(eq)
	require.NoError(t, err)
	require.Len(t, act.Instructions, 3)
	assert.Equal(t, model.OpPerp, act.Instructions[0].Operation())
	assert.InDelta(t, 3.75, act.Instructions[0].Amount(), 1e-9)

	back := act.Instructions[2]
	assert.Equal(t, model.OpTransfer, back.Operation())
	// 2500 保证金 + 7500 现货 − 375 空单亏损
	assert.InDelta(t, 9625, back.Amount(), 1e-6)
	assert.InDelta(t, 9625, deltaOf(t, back, wallet), 1e-6)
}

func TestStakingNeutralEntryShape(t *testing.T) {
	s, err := NewStakingNeutral(params(0, 0.002))
	require.NoError(t, err)

	eq := equity(8000, map[model.PositionKey]float64{wallet: 8000})
	act, err := s.EntryFull(eq)
	require.NoError(t, err)
	require.Len(t, act.Instructions, 4)

	swap, stake, margin, short := act.Instructions[0], act.Instructions[1], act.Instructions[2], act.Instructions[3]
	assert.Equal(t, model.OpTrade, swap.Operation())
	assert.InDelta(t, 6000, swap.Amount(), 1e-9)
	assert.Equal(t, model.OpStake, stake.Operation())
	assert.InDelta(t, 3, stake.Amount(), 1e-9)
	assert.InDelta(t, 2.4, deltaOf(t, stake, lstK), 1e-9)
	assert.Equal(t, model.OpTransfer, margin.Operation())
	assert.InDelta(t, 2000, margin.Amount(), 1e-9)
	assert.Equal(t, model.OpPerp, short.Operation())
	assert.InDelta(t, -3, short.Amount(), 1e-9)
}
