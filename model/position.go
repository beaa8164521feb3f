package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentKind 持仓工具类型
type InstrumentKind string

const (
	// KindWallet 链上钱包余额
	KindWallet InstrumentKind = "wallet"
	// KindSpot 交易所现货余额
	KindSpot InstrumentKind = "spot"
	// KindSupply 借贷协议存款（scaled 余额，需乘以 supply index）
	KindSupply InstrumentKind = "supply"
	// KindDebt 借贷协议负债（scaled 余额，正数表示欠款）
	KindDebt InstrumentKind = "debt"
	// KindLST 流动性质押代币
	KindLST InstrumentKind = "lst"
	// KindPerp 永续合约，带符号，单位为基础资产数量
	KindPerp InstrumentKind = "perp"
)

// Valid 判断类型是否合法
func (k InstrumentKind) Valid() bool {
	switch k {
	case KindWallet, KindSpot, KindSupply, KindDebt, KindLST, KindPerp:
		return true
	default:
		return false
	}
}

// IsBalance 是否为可直接划转的余额（钱包/交易所现货）
func (k InstrumentKind) IsBalance() bool {
	return k == KindWallet || k == KindSpot
}

// PositionKey 唯一标识一笔持仓：(venue, instrument-kind, instrument-id)
type PositionKey struct {
	Venue string         `yaml:"venue" json:"venue"`
	Kind  InstrumentKind `yaml:"kind" json:"kind"`
	Asset string         `yaml:"asset" json:"asset"`
}

func (k PositionKey) String() string {
	return k.Venue + ":" + string(k.Kind) + ":" + k.Asset
}

// IsZero 判断是否为空 key
func (k PositionKey) IsZero() bool {
	return k.Venue == "" && k.Kind == "" && k.Asset == ""
}

// PerpEntry 衍生品持仓的加权开仓价与开仓时的累计资金费率指数。
type PerpEntry struct {
	Price   float64 `json:"price"`
	Funding float64 `json:"funding"`
}

// PositionDelta 一次确认成交对单个持仓的变动。
type PositionDelta struct {
	Key      PositionKey     `json:"key"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    float64         `json:"price,omitempty"`   // 成交价，仅 perp 使用
	Funding  float64         `json:"funding,omitempty"` // 成交时累计资金费率指数，仅 perp 使用
}

// Delta 便捷构造
func Delta(key PositionKey, qty float64) PositionDelta {
	return PositionDelta{Key: key, Quantity: decimal.NewFromFloat(qty)}
}

// PositionSnapshot 某一时刻所有 venue 的持仓快照。
type PositionSnapshot struct {
	Timestamp  time.Time
	Quantities map[PositionKey]decimal.Decimal
	Entries    map[PositionKey]PerpEntry
}

// NewPositionSnapshot 创建空快照
func NewPositionSnapshot(ts time.Time) PositionSnapshot {
	return PositionSnapshot{
		Timestamp:  ts,
		Quantities: make(map[PositionKey]decimal.Decimal),
		Entries:    make(map[PositionKey]PerpEntry),
	}
}

// Quantity 返回持仓数量，不存在时为 0
func (s PositionSnapshot) Quantity(key PositionKey) decimal.Decimal {
	if q, ok := s.Quantities[key]; ok {
		return q
	}
	return decimal.Zero
}

// Float 返回 float64 形式的持仓数量
func (s PositionSnapshot) Float(key PositionKey) float64 {
	f, _ := s.Quantity(key).Float64()
	return f
}

// Entry 返回衍生品开仓信息
func (s PositionSnapshot) Entry(key PositionKey) PerpEntry {
	return s.Entries[key]
}

// Keys 返回按字典序排列的非零持仓 key，保证遍历确定性
func (s PositionSnapshot) Keys() []PositionKey {
	keys := make([]PositionKey, 0, len(s.Quantities))
	for k, q := range s.Quantities {
		if q.IsZero() {
			continue
		}
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys
}

// IsEmpty 所有持仓均为零
func (s PositionSnapshot) IsEmpty() bool {
	return len(s.Keys()) == 0
}

// Venue 返回某个 venue 下的所有持仓
func (s PositionSnapshot) Venue(venue string) map[PositionKey]decimal.Decimal {
	out := make(map[PositionKey]decimal.Decimal)
	for k, q := range s.Quantities {
		if k.Venue == venue {
			out[k] = q
		}
	}
	return out
}

// Clone 深拷贝
func (s PositionSnapshot) Clone() PositionSnapshot {
	out := NewPositionSnapshot(s.Timestamp)
	for k, q := range s.Quantities {
		out.Quantities[k] = q
	}
	for k, e := range s.Entries {
		out.Entries[k] = e
	}
	return out
}

// Diff 返回相对 prev 的非零数量变化
func (s PositionSnapshot) Diff(prev PositionSnapshot) map[PositionKey]decimal.Decimal {
	out := make(map[PositionKey]decimal.Decimal)
	for k, q := range s.Quantities {
		if d := q.Sub(prev.Quantity(k)); !d.IsZero() {
			out[k] = d
		}
	}
	for k, q := range prev.Quantities {
		if _, ok := s.Quantities[k]; ok {
			continue
		}
		if !q.IsZero() {
			out[k] = q.Neg()
		}
	}
	return out
}

// SortKeys 原地排序
func SortKeys(keys []PositionKey) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
}

// ApplyPerpFill 以加权平均方式更新衍生品开仓信息。
// 加仓时开仓价与资金费指数按数量加权；减仓时保持不变并返回平掉部分的已实现盈亏；
// 反手时剩余部分以成交价重新开仓。
func ApplyPerpFill(qty decimal.Decimal, entry PerpEntry, fill decimal.Decimal, price, funding float64) (decimal.Decimal, PerpEntry, float64) {
	next := qty.Add(fill)
	if fill.IsZero() {
		return qty, entry, 0
	}
	q, _ := qty.Float64()
	f, _ := fill.Float64()
	switch {
	case qty.IsZero() || qty.Sign() == fill.Sign():
		n, _ := next.Float64()
		return next, PerpEntry{
			Price:   (q*entry.Price + f*price) / n,
			Funding: (q*entry.Funding + f*funding) / n,
		}, 0
	case next.IsZero() || next.Sign() == qty.Sign():
		closed := -f
		realized := closed*(price-entry.Price) - closed*(funding-entry.Funding)
		if next.IsZero() {
			return next, PerpEntry{}, realized
		}
		return next, entry, realized
	default:
		realized := q*(price-entry.Price) - q*(funding-entry.Funding)
		return next, PerpEntry{Price: price, Funding: funding}, realized
	}
}
