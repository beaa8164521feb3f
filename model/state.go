package model

import (
	"fmt"
	"time"
)

// NumeraireUSD 所有价格的计价单位
const NumeraireUSD = "USD"

// ProtocolState 某一 tick 精确时间点的市场/协议取值：价格、协议指数、标记价格。
// 由 market.Oracle 按 tick 时间戳拉取，不允许缓存或使用常量替代。
type ProtocolState struct {
	Timestamp  time.Time
	ShareClass string
	Prices     map[string]float64      // asset -> USD
	Indices    map[PositionKey]float64 // supply/debt index、LST 兑换率、perp 累计资金费（USD/单位）
	Marks      map[PositionKey]float64 // perp 标记价格（USD）
	Underlying map[string]string       // LST -> 基础资产
}

// NewProtocolState 创建空状态
func NewProtocolState(ts time.Time, shareClass string) ProtocolState {
	return ProtocolState{
		Timestamp:  ts,
		ShareClass: shareClass,
		Prices:     make(map[string]float64),
		Indices:    make(map[PositionKey]float64),
		Marks:      make(map[PositionKey]float64),
		Underlying: make(map[string]string),
	}
}

// Price 返回资产的美元价格
func (s ProtocolState) Price(asset string) (float64, error) {
	if asset == NumeraireUSD {
		return 1, nil
	}
	p, ok := s.Prices[asset]
	if !ok || p <= 0 {
		return 0, fmt.Errorf("%w: price %s at %s", ErrDataUnavailable, asset, s.Timestamp.Format(time.RFC3339))
	}
	return p, nil
}

// PriceIn 以 quote 计价的 asset 价格
func (s ProtocolState) PriceIn(asset, quote string) (float64, error) {
	if asset == quote {
		return 1, nil
	}
	pa, err := s.Price(asset)
	if err != nil {
		return 0, err
	}
	pq, err := s.Price(quote)
	if err != nil {
		return 0, err
	}
	return pa / pq, nil
}

// Index 返回协议指数
func (s ProtocolState) Index(key PositionKey) (float64, error) {
	v, ok := s.Indices[key]
	if !ok || (v <= 0 && key.Kind != KindPerp) {
		return 0, fmt.Errorf("%w: index %s at %s", ErrDataUnavailable, key, s.Timestamp.Format(time.RFC3339))
	}
	return v, nil
}

// Mark 返回 perp 标记价格
func (s ProtocolState) Mark(key PositionKey) (float64, error) {
	v, ok := s.Marks[key]
	if !ok || v <= 0 {
		return 0, fmt.Errorf("%w: mark %s at %s", ErrDataUnavailable, key, s.Timestamp.Format(time.RFC3339))
	}
	return v, nil
}

// UnderlyingAsset 返回持仓对应的基础资产
func (s ProtocolState) UnderlyingAsset(key PositionKey) (string, error) {
	if key.Kind != KindLST {
		return key.Asset, nil
	}
	u, ok := s.Underlying[key.Asset]
	if !ok || u == "" {
		return "", fmt.Errorf("%w: no underlying configured for lst %s", ErrConfigInvalid, key.Asset)
	}
	return u, nil
}

// UnderlyingUnits 将持仓数量折算为基础资产数量；debt 为负，perp 保留符号。
func (s ProtocolState) UnderlyingUnits(key PositionKey, qty float64) (string, float64, error) {
	switch key.Kind {
	case KindWallet, KindSpot, KindPerp:
		return key.Asset, qty, nil
	case KindSupply, KindDebt:
		idx, err := s.Index(key)
		if err != nil {
			return "", 0, err
		}
		if key.Kind == KindDebt {
			return key.Asset, -qty * idx, nil
		}
		return key.Asset, qty * idx, nil
	case KindLST:
		asset, err := s.UnderlyingAsset(key)
		if err != nil {
			return "", 0, err
		}
		rate, err := s.Index(key)
		if err != nil {
			return "", 0, err
		}
		return asset, qty * rate, nil
	default:
		return "", 0, fmt.Errorf("%w: unknown instrument kind %q", ErrConfigInvalid, key.Kind)
	}
}

// ValueUSD 持仓的美元价值。perp 的价值为未实现盈亏减去开仓以来的资金费。
func (s ProtocolState) ValueUSD(key PositionKey, qty float64, entry PerpEntry) (float64, error) {
	if key.Kind == KindPerp {
		mark, err := s.Mark(key)
		if err != nil {
			return 0, err
		}
		funding, err := s.Index(key)
		if err != nil {
			return 0, err
		}
		return qty*(mark-entry.Price) - qty*(funding-entry.Funding), nil
	}
	asset, units, err := s.UnderlyingUnits(key, qty)
	if err != nil {
		return 0, err
	}
	p, err := s.Price(asset)
	if err != nil {
		return 0, err
	}
	return units * p, nil
}

// Value 持仓以 share class 计价的价值
func (s ProtocolState) Value(key PositionKey, qty float64, entry PerpEntry) (float64, error) {
	usd, err := s.ValueUSD(key, qty, entry)
	if err != nil {
		return 0, err
	}
	p, err := s.Price(s.ShareClass)
	if err != nil {
		return 0, err
	}
	return usd / p, nil
}
