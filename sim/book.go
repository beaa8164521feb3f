package sim

import (
	"fmt"

	"github.com/shopspring/decimal"

	"yield-engine/model"
)

// clampEpsilon 扣款超出余额的相对误差在此范围内时按余额扣尽，吸收浮点估算误差
var clampEpsilon = decimal.NewFromFloat(1e-6)

// book 模拟场所侧的余额簿
type book struct {
	qty     map[model.PositionKey]decimal.Decimal
	entries map[model.PositionKey]model.PerpEntry
}

func newBook(initial []model.PositionDelta) *book {
	b := &book{
		qty:     make(map[model.PositionKey]decimal.Decimal),
		entries: make(map[model.PositionKey]model.PerpEntry),
	}
	for _, d := range initial {
		b.qty[d.Key] = b.qty[d.Key].Add(d.Quantity)
		if d.Key.Kind == model.KindPerp && !d.Quantity.IsZero() {
			b.entries[d.Key] = model.PerpEntry{Price: d.Price, Funding: d.Funding}
		}
	}
	return b
}

func (b *book) clone() *book {
	out := &book{
		qty:     make(map[model.PositionKey]decimal.Decimal, len(b.qty)),
		entries: make(map[model.PositionKey]model.PerpEntry, len(b.entries)),
	}
	for k, q := range b.qty {
		out.qty[k] = q
	}
	for k, e := range b.entries {
		out.entries[k] = e
	}
	return out
}

func (b *book) float(k model.PositionKey) float64 {
	f, _ := b.qty[k].Float64()
	return f
}

// debit 计算扣款数量，微小超额按余额扣尽
func (b *book) debit(k model.PositionKey, amount decimal.Decimal) (decimal.Decimal, error) {
	have := b.qty[k]
	if have.GreaterThanOrEqual(amount) {
		return amount, nil
	}
	if amount.Sub(have).LessThanOrEqual(amount.Mul(clampEpsilon)) {
		return have, nil
	}
	return decimal.Zero, fmt.Errorf("%w: insufficient %s: have %s need %s", model.ErrExecutionFailed, k, have, amount)
}

// apply 应用一组变动；非 perp 持仓不允许为负
func (b *book) apply(deltas []model.PositionDelta) error {
	for _, d := range deltas {
		cur := b.qty[d.Key]
		if d.Key.Kind == model.KindPerp {
			next, entry, _ := model.ApplyPerpFill(cur, b.entries[d.Key], d.Quantity, d.Price, d.Funding)
			b.qty[d.Key] = next
			if entry == (model.PerpEntry{}) {
				delete(b.entries, d.Key)
			} else {
				b.entries[d.Key] = entry
			}
			continue
		}
		next := cur.Add(d.Quantity)
		if next.IsNegative() {
			return fmt.Errorf("%w: %s would go negative", model.ErrExecutionFailed, d.Key)
		}
		b.qty[d.Key] = next
	}
	return nil
}

// venue 返回某个场所的非零余额
func (b *book) venue(name string) map[model.PositionKey]decimal.Decimal {
	out := make(map[model.PositionKey]decimal.Decimal)
	for k, q := range b.qty {
		if k.Venue == name && !q.IsZero() {
			out[k] = q
		}
	}
	return out
}
