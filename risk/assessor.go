package risk

import (
	"yield-engine/model"
)

// Assessor 对启用的风险类型逐一评估，汇总等级并驱动 reduce-only 熔断器。
type Assessor struct {
	enabled    []model.RiskType
	limits     map[model.RiskType]Limit
	evaluators map[model.RiskType]Evaluator
	breaker    *Breaker
	history    *History
}

// NewAssessor 构造评估器；未启用的类型不产生任何评估
func NewAssessor(enabled []model.RiskType, limits map[model.RiskType]Limit, breaker *Breaker, history *History, evaluators ...Evaluator) *Assessor {
	a := &Assessor{
		enabled:    append([]model.RiskType(nil), enabled...),
		limits:     make(map[model.RiskType]Limit, len(limits)),
		evaluators: make(map[model.RiskType]Evaluator, len(evaluators)),
		breaker:    breaker,
		history:    history,
	}
	for t, l := range limits {
		a.limits[t] = l
	}
	for _, e := range evaluators {
		a.evaluators[e.Type()] = e
	}
	if a.breaker == nil {
		a.breaker = NewBreaker(1)
	}
	if a.history == nil {
		a.history = NewHistory(0)
	}
	return a
}

// Evaluate 纯计算：各类型等级与指标，不触碰熔断器与历史
func (a *Assessor) Evaluate(in Input) (model.RiskAssessment, error) {
	out := model.RiskAssessment{
		Timestamp: in.State.Timestamp,
		Levels:    make(map[model.RiskType]model.RiskLevel, len(a.enabled)),
		Metrics:   make(map[model.RiskType]float64, len(a.enabled)),
	}
	for _, t := range a.enabled {
		lim, hasLimit := a.limits[t]
		ev, hasEval := a.evaluators[t]
		if !hasLimit || !hasEval {
			out.Levels[t] = model.RiskUnknown
			continue
		}
		m, err := ev.Metric(in)
		if err != nil {
			return out, err
		}
		out.Metrics[t] = m
		out.Levels[t] = lim.Level(m, ev.HigherIsWorse())
	}
	out.Aggregate = Worst(out.Levels)
	return out, nil
}

// Assess 评估并更新熔断器与历史
func (a *Assessor) Assess(exp model.ExposureVector, positions model.PositionSnapshot, state model.ProtocolState) (model.RiskAssessment, error) {
	out, err := a.Evaluate(Input{Exposure: exp, Positions: positions, State: state})
	if err != nil {
		return out, err
	}
	out.ReduceOnly, out.BreakerTriggered, out.BreakerReleased = a.breaker.Observe(out.Timestamp, out.Aggregate)
	a.history.Push(out)
	return out, nil
}

// ReduceOnly 当前熔断状态
func (a *Assessor) ReduceOnly() bool {
	return a.breaker.Engaged()
}

// Deteriorating 某风险指标最近 n 次是否持续恶化
func (a *Assessor) Deteriorating(t model.RiskType, n int) bool {
	ev, ok := a.evaluators[t]
	if !ok {
		return false
	}
	return a.history.Deteriorating(t, n, ev.HigherIsWorse())
}
