package risk

import (
	"math"

	"yield-engine/exposure"
	"yield-engine/model"
)

// Input 单次评估的输入
type Input struct {
	Exposure  model.ExposureVector
	Positions model.PositionSnapshot
	State     model.ProtocolState
}

// Evaluator 计算某一风险类型的指标值。
type Evaluator interface {
	Type() model.RiskType
	// HigherIsWorse 指标方向：true 表示越大越危险
	HigherIsWorse() bool
	Metric(in Input) (float64, error)
}

// DeltaEvaluator |净敞口| / 总多头
type DeltaEvaluator struct{}

func (DeltaEvaluator) Type() model.RiskType { return model.RiskDelta }
func (DeltaEvaluator) HigherIsWorse() bool  { return true }
func (DeltaEvaluator) Metric(in Input) (float64, error) {
	return exposure.DeltaRatio(in.Exposure), nil
}

// LTVEvaluator 各借贷 venue 负债价值 / 存款价值，取最大
type LTVEvaluator struct{}

func (LTVEvaluator) Type() model.RiskType { return model.RiskLTV }
func (LTVEvaluator) HigherIsWorse() bool  { return true }
func (LTVEvaluator) Metric(in Input) (float64, error) {
	supplied := make(map[string]float64)
	borrowed := make(map[string]float64)
	for _, key := range in.Positions.Keys() {
		if key.Kind != model.KindSupply && key.Kind != model.KindDebt {
			continue
		}
		v, err := in.State.Value(key, in.Positions.Float(key), model.PerpEntry{})
		if err != nil {
			return 0, err
		}
		if key.Kind == model.KindSupply {
			supplied[key.Venue] += v
		} else {
			borrowed[key.Venue] += -v
		}
	}
	worst := 0.0
	for venue, debt := range borrowed {
		if debt <= 0 {
			continue
		}
		col := supplied[venue]
		if col <= 0 {
			return math.Inf(1), nil
		}
		worst = math.Max(worst, debt/col)
	}
	return worst, nil
}

// MarginEvaluator 交易所保证金率：(现货余额 + 未实现盈亏) / 合约名义价值，取各 venue 最小
type MarginEvaluator struct{}

func (MarginEvaluator) Type() model.RiskType { return model.RiskCEXMargin }
func (MarginEvaluator) HigherIsWorse() bool  { return false }
func (MarginEvaluator) Metric(in Input) (float64, error) {
	collateral := make(map[string]float64)
	notional := make(map[string]float64)
	sc, err := in.State.Price(in.State.ShareClass)
	if err != nil {
		return 0, err
	}
	for _, key := range in.Positions.Keys() {
		if key.Kind != model.KindSpot && key.Kind != model.KindPerp {
			continue
		}
		qty := in.Positions.Float(key)
		v, err := in.State.Value(key, qty, in.Positions.Entry(key))
		if err != nil {
			return 0, err
		}
		collateral[key.Venue] += v
		if key.Kind == model.KindPerp {
			mark, err := in.State.Mark(key)
			if err != nil {
				return 0, err
			}
			notional[key.Venue] += math.Abs(qty) * mark / sc
		}
	}
	worst := math.Inf(1)
	for venue, n := range notional {
		if n <= 0 {
			continue
		}
		worst = math.Min(worst, collateral[venue]/n)
	}
	return worst, nil
}

// DefaultEvaluators 内置评估器
func DefaultEvaluators() []Evaluator {
	return []Evaluator{DeltaEvaluator{}, LTVEvaluator{}, MarginEvaluator{}}
}
