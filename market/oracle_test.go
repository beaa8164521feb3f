package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yield-engine/data"
	"yield-engine/model"
)

var (
	ts0     = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	supply  = model.PositionKey{Venue: "aave_v3", Kind: model.KindSupply, Asset: "USDT"}
	lst     = model.PositionKey{Venue: "etherfi", Kind: model.KindLST, Asset: "weETH"}
	perp    = model.PositionKey{Venue: "binance", Kind: model.KindPerp, Asset: "ETH"}
	wallet  = model.PositionKey{Venue: "wallet", Kind: model.KindWallet, Asset: "USDT"}
	allKeys = []model.PositionKey{wallet, supply, lst, perp}
)

func fixture() *data.Series {
	s := data.NewSeries()
	s.Add(data.SourcePrice, "USDT", ts0, 1)
	s.Add(data.SourcePrice, "ETH", ts0, 3000)
	s.Add(data.SourceIndex, supply.String(), ts0, 1.02)
	s.Add(data.SourceIndex, lst.String(), ts0, 1.05)
	s.Add(data.SourceIndex, perp.String(), ts0, 0)
	s.Add(data.SourceMark, perp.String(), ts0, 3003)
	return s
}

func TestOracleState(t *testing.T) {
	o := NewOracle(fixture(), "USDT", map[string]string{"weETH": "ETH"}, nil)
	st, err := o.State(ts0, allKeys)
	require.NoError(t, err)

	assert.Equal(t, 3000.0, st.Prices["ETH"])
	assert.Equal(t, 1.02, st.Indices[supply])
	assert.Equal(t, 1.05, st.Indices[lst])
	assert.Equal(t, 3003.0, st.Marks[perp])
	v, err := st.Value(lst, 2, model.PerpEntry{})
	require.NoError(t, err)
	assert.InDelta(t, 2*1.05*3000, v, 1e-9)
}

func TestOracleStateMissingIndexFailsFast(t *testing.T) {
	o := NewOracle(fixture(), "USDT", map[string]string{"weETH": "ETH"}, nil)
	_, err := o.State(ts0.Add(time.Hour), allKeys)
	assert.ErrorIs(t, err, model.ErrDataUnavailable)

	s := fixture()
	s.Add(data.SourceIndex, "aave_v3:debt:USDT", ts0.Add(time.Hour), 1)
	o = NewOracle(s, "USDT", nil, nil)
	_, err = o.State(ts0, []model.PositionKey{{Venue: "aave_v3", Kind: model.KindDebt, Asset: "USDT"}})
	assert.ErrorIs(t, err, model.ErrDataUnavailable)
}

func TestOracleRequirements(t *testing.T) {
	o := NewOracle(fixture(), "USDT", nil, nil)
	_, err := o.Requirements([]model.PositionKey{lst})
	assert.ErrorIs(t, err, model.ErrConfigInvalid)

	reqs, err := o.Requirements([]model.PositionKey{wallet, perp})
	require.NoError(t, err)
	assert.Contains(t, reqs, data.Requirement{Source: data.SourceMark, Key: perp.String()})
	assert.Contains(t, reqs, data.Requirement{Source: data.SourcePrice, Key: "ETH"})
}
