package reserve

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yield-engine/model"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func equityAt(i int, total float64) model.EquitySnapshot {
	return model.EquitySnapshot{Timestamp: t0.Add(time.Duration(i) * time.Hour), Total: total}
}

func newMonitor() *Monitor {
	return NewMonitor(Config{Ratio: 0.05, Currency: "USDT", WalletVenue: "wallet"})
}

func TestDropIntoCriticalEmitsOneSignal(t *testing.T) {
	m := newMonitor()
	var signals []model.Signal
	for i, bal := range []float64{5100, 2400, 2400} {
		snap, sig := m.Evaluate(equityAt(i, 100000), bal)
		assert.InDelta(t, 5000, snap.Target, 1e-9)
		if sig != nil {
			signals = append(signals, *sig)
		}
	}
	require.Len(t, signals, 1)
	assert.Equal(t, model.SignalReserveCritical, signals[0].Kind)
	assert.Equal(t, model.ReserveCritical, m.Status())
}

func TestBoundaries(t *testing.T) {
	cases := []struct {
		actual float64
		want   model.ReserveStatus
	}{
		{5000, model.ReserveAdequate},
		{4999.99, model.ReserveLow},
		{2500, model.ReserveLow},
		{2499.99, model.ReserveCritical},
	}
	for _, tc := range cases {
		_, got := Classify(tc.actual, 5000)
		assert.Equal(t, tc.want, got, "actual=%v", tc.actual)
	}
	ratio, status := Classify(0, 0)
	assert.Equal(t, model.ReserveAdequate, status)
	assert.Equal(t, 1.0, ratio)
}

func TestEdgeTriggeredSequence(t *testing.T) {
	m := newMonitor()
	kinds := []model.SignalKind{}
	for i, bal := range []float64{4000, 3900, 2000, 3000, 6000, 3000} {
		if _, sig := m.Evaluate(equityAt(i, 100000), bal); sig != nil {
			kinds = append(kinds, sig.Kind)
		}
	}
	assert.Equal(t, []model.SignalKind{
		model.SignalReserveLow,
		model.SignalReserveCritical,
		model.SignalReserveLow,
		model.SignalReserveLow,
	}, kinds)
	assert.False(t, m.Declining(3))
}

func TestBalanceAndDeclining(t *testing.T) {
	m := newMonitor()
	pos := model.NewPositionSnapshot(t0)
	pos.Quantities[m.Key()] = decimal.NewFromInt(4000)
	pos.Quantities[model.PositionKey{Venue: "wallet", Kind: model.KindWallet, Asset: "ETH"}] = decimal.NewFromInt(1)
	st := model.NewProtocolState(t0, "USDT")
	st.Prices["USDT"] = 1
	bal, err := m.Balance(pos, st)
	require.NoError(t, err)
	assert.Equal(t, 4000.0, bal)

	for i, b := range []float64{5000, 4500, 4000} {
		m.Evaluate(equityAt(i, 100000), b)
	}
	assert.True(t, m.Declining(3))
}
