package risk

import (
	"yield-engine/infrastructure/alert"
	"yield-engine/infrastructure/logger"
	"yield-engine/model"
)

// AlertClient 抽象告警发送。
type AlertClient interface {
	SendCritical(message string, fields map[string]interface{}) error
	SendInfo(message string, fields map[string]interface{}) error
}

var _ AlertClient = (*alert.Manager)(nil)

// Notifier 将熔断边沿转为信号并告警。
type Notifier struct {
	alert AlertClient
	log   *logger.Logger
}

func NewNotifier(alert AlertClient, log *logger.Logger) *Notifier {
	if log == nil {
		log = logger.NewNop()
	}
	return &Notifier{alert: alert, log: log}
}

// Signals 返回本次评估产生的熔断信号（至多一个）并发送告警
func (n *Notifier) Signals(a model.RiskAssessment) []model.Signal {
	var kind model.SignalKind
	switch {
	case a.BreakerTriggered:
		kind = model.SignalBreakerTriggered
	case a.BreakerReleased:
		kind = model.SignalBreakerReleased
	default:
		return nil
	}
	detail := map[string]interface{}{"aggregate": a.Aggregate.String()}
	for t, l := range a.Levels {
		detail[string(t)] = l.String()
	}
	sig := model.Signal{Kind: kind, Timestamp: a.Timestamp, Detail: detail}
	n.log.LogSignal(string(kind), detail)
	if n.alert != nil {
		if kind == model.SignalBreakerTriggered {
			_ = n.alert.SendCritical("CircuitBreakerTriggered", detail)
		} else {
			_ = n.alert.SendInfo("CircuitBreakerReleased", detail)
		}
	}
	return []model.Signal{sig}
}
