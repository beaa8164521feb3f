package exposure

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yield-engine/model"
)

var ts0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func hedgedBook() (model.PositionSnapshot, model.ProtocolState) {
	lst := model.PositionKey{Venue: "etherfi", Kind: model.KindLST, Asset: "weETH"}
	perp := model.PositionKey{Venue: "binance", Kind: model.KindPerp, Asset: "ETH"}
	margin := model.PositionKey{Venue: "binance", Kind: model.KindSpot, Asset: "USDT"}

	pos := model.NewPositionSnapshot(ts0)
	pos.Quantities[lst] = decimal.NewFromInt(10)
	pos.Quantities[perp] = decimal.NewFromFloat(-10.5)
	pos.Quantities[margin] = decimal.NewFromInt(7000)

	st := model.NewProtocolState(ts0, "USDT")
	st.Prices["USDT"] = 1
	st.Prices["ETH"] = 2000
	st.Indices[lst] = 1.05
	st.Indices[perp] = 0
	st.Marks[perp] = 2000
	st.Underlying["weETH"] = "ETH"
	return pos, st
}

func TestComputeHedged(t *testing.T) {
	pos, st := hedgedBook()
	c := NewCalculator("USDT", "USDT")
	vec, err := c.Compute(pos, st)
	require.NoError(t, err)
	assert.InDelta(t, 0, vec.NetDelta, 1e-9, "lst long offsets perp short")
	assert.InDelta(t, 7000, vec.Exposures["USDT"], 1e-9)
	assert.InDelta(t, 0, DeltaRatio(vec), 1e-12)

	again, err := c.Compute(pos, st)
	require.NoError(t, err)
	assert.Equal(t, vec, again)
}

func TestComputeMeasuredInETH(t *testing.T) {
	pos, st := hedgedBook()
	pos.Quantities[model.PositionKey{Venue: "binance", Kind: model.KindPerp, Asset: "ETH"}] = decimal.NewFromInt(-5)
	vec, err := NewCalculator("ETH", "USDT").Compute(pos, st)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, vec.NetDelta, 1e-9, "usdt margin is the only non-measurement exposure")
	assert.InDelta(t, 5.5, vec.Exposures["ETH"], 1e-9)
	assert.InDelta(t, 7000, vec.ReportingNetDelta, 1e-9)
}

func TestComputeMissingData(t *testing.T) {
	pos, st := hedgedBook()
	delete(st.Prices, "ETH")
	_, err := NewCalculator("USDT", "USDT").Compute(pos, st)
	assert.ErrorIs(t, err, model.ErrDataUnavailable)
}
