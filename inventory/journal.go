package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"yield-engine/model"
)

// JournalEntry 一条已应用的确认
type JournalEntry struct {
	Seq         uint64
	OperationID string
	Timestamp   time.Time
	Deltas      []model.PositionDelta
}

// Checkpoint 账本某一时刻的状态与日志序号
type Checkpoint struct {
	Seq      uint64
	Snapshot model.PositionSnapshot
}

// Checkpoint 记录当前状态，供 VerifySince 对账
func (l *Ledger) Checkpoint(ts time.Time) Checkpoint {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Checkpoint{Seq: l.seq, Snapshot: l.snapshotLocked(ts)}
}

// Journal 返回 seq 之后的日志
func (l *Ledger) Journal(since uint64) []JournalEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]JournalEntry, 0)
	for _, e := range l.journal {
		if e.Seq > since {
			out = append(out, e)
		}
	}
	return out
}

// VerifySince 校验 当前持仓 − checkpoint 持仓 == checkpoint 之后所有确认变动之和（十进制精确比较）。
func (l *Ledger) VerifySince(cp Checkpoint) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	sum := make(map[model.PositionKey]decimal.Decimal)
	for _, e := range l.journal {
		if e.Seq <= cp.Seq {
			continue
		}
		for _, d := range e.Deltas {
			sum[d.Key] = sum[d.Key].Add(d.Quantity)
		}
	}
	diff := l.snapshotLocked(cp.Snapshot.Timestamp).Diff(cp.Snapshot)
	for k, d := range diff {
		if !d.Equal(sum[k]) {
			return fmt.Errorf("%w: %s moved %s but confirmed effects sum to %s", model.ErrReconciliationMismatch, k, d, sum[k])
		}
	}
	for k, s := range sum {
		if _, ok := diff[k]; !ok && !s.IsZero() {
			return fmt.Errorf("%w: %s confirmed %s but ledger unchanged", model.ErrReconciliationMismatch, k, s)
		}
	}
	return nil
}

// TrimJournal 丢弃 seq 及之前的日志（已对账）
func (l *Ledger) TrimJournal(seq uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := 0
	for i < len(l.journal) && l.journal[i].Seq <= seq {
		i++
	}
	l.journal = append([]JournalEntry(nil), l.journal[i:]...)
}
