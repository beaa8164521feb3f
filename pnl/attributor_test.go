package pnl

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yield-engine/model"
)

var (
	t0     = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	wallet = model.PositionKey{Venue: "wallet", Kind: model.KindWallet, Asset: "USDT"}
	supply = model.PositionKey{Venue: "aave_v3", Kind: model.KindSupply, Asset: "USDT"}
	lst    = model.PositionKey{Venue: "etherfi", Kind: model.KindLST, Asset: "weETH"}
	perp   = model.PositionKey{Venue: "binance", Kind: model.KindPerp, Asset: "ETH"}
	margin = model.PositionKey{Venue: "binance", Kind: model.KindSpot, Asset: "USDT"}
)

func lendingState(ts time.Time, index float64) model.ProtocolState {
	st := model.NewProtocolState(ts, "USDT")
	st.Prices["USDT"] = 1
	st.Indices[supply] = index
	return st
}

func lendingBook() model.PositionSnapshot {
	pos := model.NewPositionSnapshot(t0)
	pos.Quantities[wallet] = decimal.NewFromInt(5000)
	pos.Quantities[supply] = decimal.NewFromInt(95000)
	return pos
}

func TestComputeEquityUsesTickIndex(t *testing.T) {
	a := NewAttributor("USDT")
	pos := lendingBook()
	eq0, err := a.ComputeEquity(pos, lendingState(t0, 1.0))
	require.NoError(t, err)
	eq1, err := a.ComputeEquity(pos, lendingState(t0.Add(time.Hour), 1.01))
	require.NoError(t, err)
	assert.InDelta(t, 100000, eq0.Total, 1e-9)
	assert.InDelta(t, 100950, eq1.Total, 1e-6)

	again, err := a.ComputeEquity(pos, lendingState(t0.Add(time.Hour), 1.01))
	require.NoError(t, err)
	assert.Equal(t, eq1.Total, again.Total)

	_, err = a.ComputeEquity(pos, model.NewProtocolState(t0, "USDT"))
	assert.ErrorIs(t, err, model.ErrDataUnavailable)
}

func TestLendingYieldSanity(t *testing.T) {
	// 10 天、5% APY 的存款指数
	a := NewAttributor("USDT")
	pos := lendingBook()
	run := NewRunning()
	var prev model.EquitySnapshot
	for day := 0; day <= 10; day++ {
		ts := t0.Add(time.Duration(day) * 24 * time.Hour)
		eq, err := a.ComputeEquity(pos, lendingState(ts, 1+0.05*float64(day)/365))
		require.NoError(t, err)
		if day == 0 {
			run.Observe(eq, nil)
		} else {
			attr, err := a.Attribute(prev, eq, 0)
			require.NoError(t, err)
			run.Observe(eq, &attr)
		}
		prev = eq
	}
	apy := run.AnnualizedYield()
	assert.InDelta(t, 0.0475, apy, 1e-6)
	require.NoError(t, CheckYield(apy, 0, 0.10))

	sum := run.Summary()
	assert.InDelta(t, sum.EndEquity-sum.StartEquity, sum.Attribution.Buckets[model.BucketLending], 1e-6)
	assert.InDelta(t, 0, sum.Attribution.Buckets[model.BucketFees], 1e-6)
	assert.Equal(t, 11, sum.Ticks)
}

func TestStaleIndexCaughtByBounds(t *testing.T) {
	// 指数单位错误（例如未按 ray 缩放）使收益放大两个数量级
	a := NewAttributor("USDT")
	pos := lendingBook()
	first, err := a.ComputeEquity(pos, lendingState(t0, 1.0))
	require.NoError(t, err)
	last, err := a.ComputeEquity(pos, lendingState(t0.Add(10*24*time.Hour), 1.137))
	require.NoError(t, err)
	apy := AnnualizedYield(first, last, 0)
	assert.Greater(t, apy, 1.0)
	assert.ErrorIs(t, CheckYield(apy, 0, 0.10), model.ErrYieldOutOfBounds)
}

func basisState(ts time.Time, px, mark, funding, rate float64) model.ProtocolState {
	st := model.NewProtocolState(ts, "USDT")
	st.Prices["USDT"] = 1
	st.Prices["ETH"] = px
	st.Indices[lst] = rate
	st.Indices[perp] = funding
	st.Marks[perp] = mark
	st.Underlying["weETH"] = "ETH"
	return st
}

func TestAttributionDecomposesExactly(t *testing.T) {
	a := NewAttributor("USDT")
	pos := model.NewPositionSnapshot(t0)
	pos.Quantities[lst] = decimal.NewFromInt(10)
	pos.Quantities[perp] = decimal.NewFromFloat(-10.5)
	pos.Quantities[margin] = decimal.NewFromInt(7000)
	pos.Entries[perp] = model.PerpEntry{Price: 2000, Funding: 1}

	eq0, err := a.ComputeEquity(pos, basisState(t0, 2000, 2002, 1, 1.05))
	require.NoError(t, err)
	eq1, err := a.ComputeEquity(pos, basisState(t0.Add(time.Hour), 2100, 2098, 3, 1.051))
	require.NoError(t, err)

	attr, err := a.Attribute(eq0, eq1, 0)
	require.NoError(t, err)
	assert.InDelta(t, attr.Delta, attr.Sum(), 1e-9)
	assert.InDelta(t, 0, attr.Buckets[model.BucketFees], 1e-6)
	assert.InDelta(t, 10.5*2, attr.Buckets[model.BucketFunding], 1e-9, "short receives funding")
	assert.InDelta(t, 10*0.001*2100, attr.Buckets[model.BucketStaking], 1e-9)
	// perp basis: -10.5 * ((2098-2002) - (2100-2000))
	assert.InDelta(t, 42, attr.Buckets[model.BucketBasis], 1e-9)
}

func TestAttributionFeesAndFlows(t *testing.T) {
	a := NewAttributor("USDT")
	pos := lendingBook()
	eq0, err := a.ComputeEquity(pos, lendingState(t0, 1))
	require.NoError(t, err)

	// 入金 1000，同时一次兑换损失 3 的手续费
	next := pos.Clone()
	next.Quantities[wallet] = decimal.NewFromInt(4997)
	next.Quantities[supply] = decimal.NewFromInt(96000)
	eq1, err := a.ComputeEquity(next, lendingState(t0.Add(time.Hour), 1))
	require.NoError(t, err)

	attr, err := a.Attribute(eq0, eq1, 1000)
	require.NoError(t, err)
	assert.InDelta(t, -3, attr.Buckets[model.BucketFees], 1e-9)
	assert.InDelta(t, 997, attr.Delta, 1e-9)
}
