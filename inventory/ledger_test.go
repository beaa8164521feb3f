package inventory

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yield-engine/model"
)

var (
	ts     = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	wallet = model.PositionKey{Venue: "wallet", Kind: model.KindWallet, Asset: "USDT"}
	supply = model.PositionKey{Venue: "aave_v3", Kind: model.KindSupply, Asset: "USDT"}
	perp   = model.PositionKey{Venue: "binance", Kind: model.KindPerp, Asset: "ETH"}
)

func newLedger() *Ledger {
	return NewLedger([]model.PositionDelta{model.Delta(wallet, 100000)})
}

func supplyInstr(id string, amount float64) model.ExecutionInstruction {
	return model.NewInstruction(model.InstructionSpec{
		ID: id, Operation: model.OpSupply, Source: wallet, Dest: supply, Amount: amount,
	})
}

func settled(id string, deltas ...model.PositionDelta) model.Confirmation {
	return model.Confirmation{OperationID: id, Status: model.ConfirmationSettled, Deltas: deltas, Timestamp: ts}
}

func TestApplyConfirmedExecution(t *testing.T) {
	l := newLedger()
	require.NoError(t, l.Expect(supplyInstr("op-1", 1000)))

	snap, err := l.ApplyConfirmedExecution(settled("op-1", model.Delta(wallet, -1000), model.Delta(supply, 990)))
	require.NoError(t, err)
	assert.True(t, snap.Quantity(wallet).Equal(decimal.NewFromInt(99000)))
	assert.True(t, snap.Quantity(supply).Equal(decimal.NewFromInt(990)))
	assert.Equal(t, 0, l.Outstanding())
}

func TestUnmatchedConfirmationIsMismatch(t *testing.T) {
	l := newLedger()
	before := l.Positions(ts)

	_, err := l.ApplyConfirmedExecution(settled("ghost", model.Delta(wallet, -1)))
	assert.ErrorIs(t, err, model.ErrReconciliationMismatch)
	assert.Equal(t, before.Quantities, l.Positions(ts).Quantities)

	require.NoError(t, l.Expect(supplyInstr("op-1", 1)))
	_, err = l.ApplyConfirmedExecution(settled("op-1", model.Delta(wallet, -1), model.Delta(supply, 1)))
	require.NoError(t, err)
	_, err = l.ApplyConfirmedExecution(settled("op-1", model.Delta(wallet, -1), model.Delta(supply, 1)))
	assert.ErrorIs(t, err, model.ErrReconciliationMismatch, "replayed confirmation")
	assert.ErrorIs(t, l.Expect(supplyInstr("op-1", 1)), model.ErrReconciliationMismatch)
}

func TestPendingConfirmationRejected(t *testing.T) {
	l := newLedger()
	require.NoError(t, l.Expect(supplyInstr("op-1", 1)))
	_, err := l.ApplyConfirmedExecution(model.Confirmation{OperationID: "op-1", Status: model.ConfirmationPending})
	assert.ErrorIs(t, err, model.ErrReconciliationMismatch)
	assert.Equal(t, 1, l.Outstanding())
}

func TestBatchIsAllOrNothing(t *testing.T) {
	l := newLedger()
	require.NoError(t, l.Expect(supplyInstr("a", 10)))
	require.NoError(t, l.Expect(supplyInstr("b", 10)))
	before := l.Positions(ts)

	_, err := l.ApplyConfirmedBatch([]model.Confirmation{
		settled("a", model.Delta(wallet, -10), model.Delta(supply, 10)),
		settled("b", model.Delta(wallet, -200000), model.Delta(supply, 200000)),
	})
	require.ErrorIs(t, err, model.ErrReconciliationMismatch)
	assert.Equal(t, before.Quantities, l.Positions(ts).Quantities)
	assert.Equal(t, 2, l.Outstanding())
	assert.Empty(t, l.Journal(0))
}

func TestVerifySince(t *testing.T) {
	l := newLedger()
	cp := l.Checkpoint(ts)
	require.NoError(t, l.Expect(supplyInstr("a", 10)))
	_, err := l.ApplyConfirmedExecution(settled("a", model.Delta(wallet, -10), model.Delta(supply, 10)))
	require.NoError(t, err)
	require.NoError(t, l.VerifySince(cp))

	// 绕过唯一修改入口
	l.mu.Lock()
	l.qty[wallet] = l.qty[wallet].Add(decimal.NewFromInt(1))
	l.mu.Unlock()
	assert.ErrorIs(t, l.VerifySince(cp), model.ErrReconciliationMismatch)

	l.TrimJournal(l.Checkpoint(ts).Seq)
	assert.Empty(t, l.Journal(0))
}

func TestPerpEntryAveraging(t *testing.T) {
	l := newLedger()
	fill := func(id string, qty, price, funding float64) {
		require.NoError(t, l.Expect(model.NewInstruction(model.InstructionSpec{ID: id, Operation: model.OpPerp, Dest: perp, Amount: qty})))
		d := model.Delta(perp, qty)
		d.Price, d.Funding = price, funding
		_, err := l.ApplyConfirmedExecution(settled(id, d))
		require.NoError(t, err)
	}
	fill("p1", -1, 3000, 10)
	fill("p2", -1, 3100, 20)
	snap := l.Positions(ts)
	assert.True(t, snap.Quantity(perp).Equal(decimal.NewFromInt(-2)))
	assert.InDelta(t, 3050, snap.Entry(perp).Price, 1e-9)
	assert.InDelta(t, 15, snap.Entry(perp).Funding, 1e-9)

	fill("p3", 1, 3200, 30)
	snap = l.Positions(ts)
	assert.InDelta(t, 3050, snap.Entry(perp).Price, 1e-9, "reduction keeps entry")

	fill("p4", 1, 3200, 30)
	assert.Equal(t, model.PerpEntry{}, l.Positions(ts).Entry(perp))
}
