package pnl

import (
	"fmt"

	"yield-engine/model"
)

// Attributor 计算权益并将区间权益变化拆分到各收益来源。
// 与策略模式无关，唯一的模式相关输入是报告币种。
type Attributor struct {
	shareClass string
}

// NewAttributor 创建归因器
func NewAttributor(shareClass string) *Attributor {
	return &Attributor{shareClass: shareClass}
}

// ComputeEquity 以 tick 精确时刻的协议指数与价格折算全部持仓，资产减负债。
func (a *Attributor) ComputeEquity(positions model.PositionSnapshot, state model.ProtocolState) (model.EquitySnapshot, error) {
	if state.ShareClass != a.shareClass {
		return model.EquitySnapshot{}, fmt.Errorf("%w: state share class %q, want %q", model.ErrConfigInvalid, state.ShareClass, a.shareClass)
	}
	eq := model.EquitySnapshot{
		Timestamp:  state.Timestamp,
		ShareClass: a.shareClass,
		Positions:  positions,
		State:      state,
	}
	for _, key := range positions.Keys() {
		v, err := state.Value(key, positions.Float(key), positions.Entry(key))
		if err != nil {
			return eq, err
		}
		if key.Kind == model.KindDebt {
			eq.Debt += -v
		} else {
			eq.Assets += v
		}
	}
	eq.Total = eq.Assets - eq.Debt
	return eq, nil
}

// Attribute 归因：市场类桶按上一时刻持仓与本时刻状态精确分解，fees 为剩余项（交易成本）。
// flows 为区间内外部出入金净额（入金为正），不计入任何桶。
func (a *Attributor) Attribute(prev, curr model.EquitySnapshot, flows float64) (model.Attribution, error) {
	out := model.Attribution{
		From:    prev.Timestamp,
		To:      curr.Timestamp,
		Delta:   curr.Total - prev.Total,
		Flows:   flows,
		Buckets: make(map[model.Bucket]float64, len(model.Buckets)),
	}
	for _, b := range model.Buckets {
		out.Buckets[b] = 0
	}
	s0, s1 := prev.State, curr.State
	sc0, err := s0.Price(a.shareClass)
	if err != nil {
		return out, err
	}
	sc1, err := s1.Price(a.shareClass)
	if err != nil {
		return out, err
	}
	rel := func(st model.ProtocolState, asset string, sc float64) (float64, error) {
		p, err := st.Price(asset)
		if err != nil {
			return 0, err
		}
		return p / sc, nil
	}

	market := 0.0
	pos := prev.Positions
	for _, key := range pos.Keys() {
		q := pos.Float(key)
		switch key.Kind {
		case model.KindWallet, model.KindSpot:
			p0, err := rel(s0, key.Asset, sc0)
			if err != nil {
				return out, err
			}
			p1, err := rel(s1, key.Asset, sc1)
			if err != nil {
				return out, err
			}
			out.Buckets[model.BucketDelta] += q * (p1 - p0)

		case model.KindSupply, model.KindDebt, model.KindLST:
			sign := 1.0
			if key.Kind == model.KindDebt {
				sign = -1
			}
			asset, err := s1.UnderlyingAsset(key)
			if err != nil {
				return out, err
			}
			i0, err := s0.Index(key)
			if err != nil {
				return out, err
			}
			i1, err := s1.Index(key)
			if err != nil {
				return out, err
			}
			p0, err := rel(s0, asset, sc0)
			if err != nil {
				return out, err
			}
			p1, err := rel(s1, asset, sc1)
			if err != nil {
				return out, err
			}
			bucket := model.BucketLending
			if key.Kind == model.KindLST {
				bucket = model.BucketStaking
			}
			out.Buckets[bucket] += sign * q * (i1 - i0) * p1
			out.Buckets[model.BucketDelta] += sign * q * i0 * (p1 - p0)

		case model.KindPerp:
			entry := pos.Entry(key)
			m0, err := s0.Mark(key)
			if err != nil {
				return out, err
			}
			m1, err := s1.Mark(key)
			if err != nil {
				return out, err
			}
			f0, err := s0.Index(key)
			if err != nil {
				return out, err
			}
			f1, err := s1.Index(key)
			if err != nil {
				return out, err
			}
			p0, err := s0.Price(key.Asset)
			if err != nil {
				return out, err
			}
			p1, err := s1.Price(key.Asset)
			if err != nil {
				return out, err
			}
			v0 := q*(m0-entry.Price) - q*(f0-entry.Funding)
			out.Buckets[model.BucketFunding] += -q * (f1 - f0) / sc1
			out.Buckets[model.BucketDelta] += q*(p1-p0)/sc1 + v0*(1/sc1-1/sc0)
			out.Buckets[model.BucketBasis] += q * ((m1 - m0) - (p1 - p0)) / sc1
		}
	}
	for _, b := range model.Buckets {
		if b != model.BucketFees {
			market += out.Buckets[b]
		}
	}
	out.Buckets[model.BucketFees] = out.Delta - flows - market
	return out, nil
}
