package market

import (
	"fmt"
	"time"

	"yield-engine/data"
	"yield-engine/model"
)

// Oracle 绑定唯一数据源，按 tick 精确时间戳解析价格、协议指数与标记价格。
// 不缓存任何值：同一 key 在不同 tick 必须重新取数。
type Oracle struct {
	src        data.Source
	shareClass string
	underlying map[string]string
	pub        *Publisher
}

// NewOracle 创建 Oracle；underlying 为 LST -> 基础资产映射
func NewOracle(src data.Source, shareClass string, underlying map[string]string, pub *Publisher) *Oracle {
	u := make(map[string]string, len(underlying))
	for k, v := range underlying {
		u[k] = v
	}
	return &Oracle{src: src, shareClass: shareClass, underlying: u, pub: pub}
}

// ShareClass 报告币种
func (o *Oracle) ShareClass() string { return o.shareClass }

// Price 资产美元价格
func (o *Oracle) Price(asset string, ts time.Time) (float64, error) {
	if asset == model.NumeraireUSD {
		return 1, nil
	}
	v, err := o.src.Value(data.SourcePrice, asset, ts)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("%w: non-positive price %s=%v", model.ErrDataUnavailable, asset, v)
	}
	return v, nil
}

// Index 借贷指数 / LST 兑换率 / perp 累计资金费
func (o *Oracle) Index(key model.PositionKey, ts time.Time) (float64, error) {
	v, err := o.src.Value(data.SourceIndex, key.String(), ts)
	if err != nil {
		return 0, err
	}
	if v <= 0 && key.Kind != model.KindPerp {
		return 0, fmt.Errorf("%w: non-positive index %s=%v", model.ErrDataUnavailable, key, v)
	}
	return v, nil
}

// Mark perp 标记价格
func (o *Oracle) Mark(key model.PositionKey, ts time.Time) (float64, error) {
	v, err := o.src.Value(data.SourceMark, key.String(), ts)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("%w: non-positive mark %s=%v", model.ErrDataUnavailable, key, v)
	}
	return v, nil
}

// Requirements 给定持仓宇宙，列出每个 tick 必须存在的数据项，用于启动时快速失败校验。
func (o *Oracle) Requirements(instruments []model.PositionKey) ([]data.Requirement, error) {
	seen := make(map[data.Requirement]bool)
	var out []data.Requirement
	add := func(r data.Requirement) {
		if r.Source == data.SourcePrice && r.Key == model.NumeraireUSD {
			return
		}
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	add(data.Requirement{Source: data.SourcePrice, Key: o.shareClass})
	for _, key := range instruments {
		asset := key.Asset
		switch key.Kind {
		case model.KindSupply, model.KindDebt:
			add(data.Requirement{Source: data.SourceIndex, Key: key.String()})
		case model.KindLST:
			u, ok := o.underlying[key.Asset]
			if !ok || u == "" {
				return nil, fmt.Errorf("%w: no underlying configured for lst %s", model.ErrConfigInvalid, key.Asset)
			}
			asset = u
			add(data.Requirement{Source: data.SourceIndex, Key: key.String()})
		case model.KindPerp:
			add(data.Requirement{Source: data.SourceIndex, Key: key.String()})
			add(data.Requirement{Source: data.SourceMark, Key: key.String()})
		}
		add(data.Requirement{Source: data.SourcePrice, Key: asset})
	}
	return out, nil
}

// State 拉取 ts 时刻持仓宇宙所需的全部取值；任一缺失即返回 ErrDataUnavailable。
func (o *Oracle) State(ts time.Time, instruments []model.PositionKey) (model.ProtocolState, error) {
	st := model.NewProtocolState(ts, o.shareClass)
	for k, v := range o.underlying {
		st.Underlying[k] = v
	}
	reqs, err := o.Requirements(instruments)
	if err != nil {
		return st, err
	}
	for _, r := range reqs {
		switch r.Source {
		case data.SourcePrice:
			v, err := o.Price(r.Key, ts)
			if err != nil {
				return st, err
			}
			st.Prices[r.Key] = v
		}
	}
	for _, key := range instruments {
		switch key.Kind {
		case model.KindSupply, model.KindDebt, model.KindLST:
			v, err := o.Index(key, ts)
			if err != nil {
				return st, err
			}
			st.Indices[key] = v
		case model.KindPerp:
			f, err := o.Index(key, ts)
			if err != nil {
				return st, err
			}
			m, err := o.Mark(key, ts)
			if err != nil {
				return st, err
			}
			st.Indices[key] = f
			st.Marks[key] = m
		}
	}
	if o.pub != nil {
		o.pub.PublishState(st)
	}
	return st, nil
}
