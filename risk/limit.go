package risk

import "yield-engine/model"

// Limit 风险阈值
type Limit struct {
	Warning  float64
	Critical float64
}

// Level 按指标方向映射到风险等级
func (l Limit) Level(metric float64, higherIsWorse bool) model.RiskLevel {
	if higherIsWorse {
		switch {
		case metric >= l.Critical:
			return model.RiskCritical
		case metric >= l.Warning:
			return model.RiskWarning
		default:
			return model.RiskSafe
		}
	}
	switch {
	case metric <= l.Critical:
		return model.RiskCritical
	case metric <= l.Warning:
		return model.RiskWarning
	default:
		return model.RiskSafe
	}
}

// Worst 汇总等级：取最差，unknown 忽略，无评估时为 safe
func Worst(levels map[model.RiskType]model.RiskLevel) model.RiskLevel {
	agg := model.RiskSafe
	for _, l := range levels {
		if l == model.RiskUnknown {
			continue
		}
		if l > agg {
			agg = l
		}
	}
	return agg
}
