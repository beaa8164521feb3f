package exposure

import (
	"math"
	"sort"

	"yield-engine/model"
)

// Calculator 从持仓推导方向性敞口。
// 行为只由计量资产与报告币种两个参数决定，不按策略模式分支。
type Calculator struct {
	measurement string
	reporting   string
}

// NewCalculator 创建计算器
func NewCalculator(measurementAsset, reportingCurrency string) *Calculator {
	return &Calculator{measurement: measurementAsset, reporting: reportingCurrency}
}

// Compute 无副作用；对同一输入重复调用结果相同。
func (c *Calculator) Compute(positions model.PositionSnapshot, state model.ProtocolState) (model.ExposureVector, error) {
	vec := model.ExposureVector{
		Timestamp:         state.Timestamp,
		MeasurementAsset:  c.measurement,
		ReportingCurrency: c.reporting,
		Exposures:         make(map[string]float64),
	}
	for _, key := range positions.Keys() {
		asset, units, err := state.UnderlyingUnits(key, positions.Float(key))
		if err != nil {
			return vec, err
		}
		px, err := state.PriceIn(asset, c.measurement)
		if err != nil {
			return vec, err
		}
		vec.Exposures[asset] += units * px
	}
	assets := make([]string, 0, len(vec.Exposures))
	for asset := range vec.Exposures {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		e := vec.Exposures[asset]
		if e > 0 {
			vec.GrossLong += e
		} else {
			vec.GrossShort += -e
		}
		if asset != c.measurement {
			vec.NetDelta += e
		}
	}
	px, err := state.PriceIn(c.measurement, c.reporting)
	if err != nil {
		return vec, err
	}
	vec.ReportingNetDelta = vec.NetDelta * px
	return vec, nil
}

// DeltaRatio |净敞口| / 总多头，总多头为 0 时为 0
func DeltaRatio(v model.ExposureVector) float64 {
	if v.GrossLong <= 0 {
		return 0
	}
	return math.Abs(v.NetDelta) / v.GrossLong
}
