package inventory

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"yield-engine/model"
)

// Ledger 持仓账本：跨 venue、跨工具类型的权威持仓记录。
// 唯一的修改入口是已确认的执行结果，与策略模式无关。
type Ledger struct {
	mu       sync.RWMutex
	qty      map[model.PositionKey]decimal.Decimal
	entries  map[model.PositionKey]model.PerpEntry
	expected map[string]struct{}
	consumed map[string]struct{}
	journal  []JournalEntry
	seq      uint64
}

// NewLedger 以初始资金建账
func NewLedger(initial []model.PositionDelta) *Ledger {
	l := &Ledger{
		qty:      make(map[model.PositionKey]decimal.Decimal),
		entries:  make(map[model.PositionKey]model.PerpEntry),
		expected: make(map[string]struct{}),
		consumed: make(map[string]struct{}),
	}
	for _, d := range initial {
		l.qty[d.Key] = l.qty[d.Key].Add(d.Quantity)
		if d.Key.Kind == model.KindPerp && !d.Quantity.IsZero() {
			l.entries[d.Key] = model.PerpEntry{Price: d.Price, Funding: d.Funding}
		}
	}
	return l
}

// Positions 只读快照
func (l *Ledger) Positions(ts time.Time) model.PositionSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked(ts)
}

func (l *Ledger) snapshotLocked(ts time.Time) model.PositionSnapshot {
	snap := model.NewPositionSnapshot(ts)
	for k, q := range l.qty {
		snap.Quantities[k] = q
	}
	for k, e := range l.entries {
		snap.Entries[k] = e
	}
	return snap
}

// Expect 分发前登记指令 id；只有登记过的 id 的确认才能被应用
func (l *Ledger) Expect(instr model.ExecutionInstruction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := instr.ID()
	if id == "" {
		return fmt.Errorf("%w: instruction without operation id", model.ErrReconciliationMismatch)
	}
	if _, done := l.consumed[id]; done {
		return fmt.Errorf("%w: operation %s already consumed", model.ErrReconciliationMismatch, id)
	}
	l.expected[id] = struct{}{}
	return nil
}

// Forget 撤回登记（分发失败且无任何确认时）
func (l *Ledger) Forget(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.expected, id)
}

// Outstanding 已登记但未确认的操作数
func (l *Ledger) Outstanding() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.expected)
}

// ApplyConfirmedExecution 应用单个已结算确认，返回更新后的快照。
// 无法匹配到已登记指令的确认返回 ErrReconciliationMismatch，不丢弃也不猜测。
func (l *Ledger) ApplyConfirmedExecution(conf model.Confirmation) (model.PositionSnapshot, error) {
	return l.ApplyConfirmedBatch([]model.Confirmation{conf})
}

// ApplyConfirmedBatch 原子应用一组确认：先全部校验，再全部应用；任一失败则不做任何修改。
func (l *Ledger) ApplyConfirmedBatch(confs []model.Confirmation) (model.PositionSnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Time{}
	seen := make(map[string]struct{}, len(confs))
	for _, c := range confs {
		if err := l.checkLocked(c); err != nil {
			return l.snapshotLocked(ts), err
		}
		if _, dup := seen[c.OperationID]; dup {
			return l.snapshotLocked(ts), fmt.Errorf("%w: duplicate confirmation %s in batch", model.ErrReconciliationMismatch, c.OperationID)
		}
		seen[c.OperationID] = struct{}{}
		if c.Timestamp.After(ts) {
			ts = c.Timestamp
		}
	}

	qty := make(map[model.PositionKey]decimal.Decimal)
	entries := make(map[model.PositionKey]model.PerpEntry)
	get := func(k model.PositionKey) decimal.Decimal {
		if q, ok := qty[k]; ok {
			return q
		}
		return l.qty[k]
	}
	for _, c := range confs {
		for _, d := range c.Deltas {
			cur := get(d.Key)
			if d.Key.Kind == model.KindPerp {
				entry, ok := entries[d.Key]
				if !ok {
					entry = l.entries[d.Key]
				}
				next, e, _ := model.ApplyPerpFill(cur, entry, d.Quantity, d.Price, d.Funding)
				qty[d.Key] = next
				entries[d.Key] = e
				continue
			}
			next := cur.Add(d.Quantity)
			if next.IsNegative() {
				return l.snapshotLocked(ts), fmt.Errorf("%w: %s would go negative (%s)", model.ErrReconciliationMismatch, d.Key, next)
			}
			qty[d.Key] = next
		}
	}

	for k, q := range qty {
		l.qty[k] = q
	}
	for k, e := range entries {
		if e == (model.PerpEntry{}) {
			delete(l.entries, k)
			continue
		}
		l.entries[k] = e
	}
	for _, c := range confs {
		delete(l.expected, c.OperationID)
		l.consumed[c.OperationID] = struct{}{}
		l.seq++
		l.journal = append(l.journal, JournalEntry{
			Seq:         l.seq,
			OperationID: c.OperationID,
			Timestamp:   c.Timestamp,
			Deltas:      append([]model.PositionDelta(nil), c.Deltas...),
		})
	}
	return l.snapshotLocked(ts), nil
}

func (l *Ledger) checkLocked(c model.Confirmation) error {
	if !c.Settled() {
		return fmt.Errorf("%w: confirmation %s is %s", model.ErrReconciliationMismatch, c.OperationID, c.Status)
	}
	if _, done := l.consumed[c.OperationID]; done {
		return fmt.Errorf("%w: operation %s already applied", model.ErrReconciliationMismatch, c.OperationID)
	}
	if _, ok := l.expected[c.OperationID]; !ok {
		return fmt.Errorf("%w: no instruction registered for operation %q", model.ErrReconciliationMismatch, c.OperationID)
	}
	for _, d := range c.Deltas {
		if !d.Key.Kind.Valid() || d.Key.Venue == "" || d.Key.Asset == "" {
			return fmt.Errorf("%w: operation %s has invalid key %s", model.ErrReconciliationMismatch, c.OperationID, d.Key)
		}
	}
	return nil
}
