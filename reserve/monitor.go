package reserve

import (
	"sync"

	"yield-engine/model"
)

// 状态阈值：ratio >= 1 充足；[0.5, 1) 偏低（恰好 50% 归为偏低）；< 0.5 危险。
const (
	AdequateRatio = 1.0
	LowRatio      = 0.5
)

// Config 储备金参数
type Config struct {
	Ratio       float64 // 目标储备占权益比例
	Currency    string  // 储备币种
	WalletVenue string  // 储备所在钱包
	HistorySize int
}

// Monitor 储备金监控：按状态迁移边沿触发信号，避免信号风暴。
type Monitor struct {
	cfg Config

	mu      sync.RWMutex
	status  model.ReserveStatus
	history []model.ReserveSnapshot
}

// NewMonitor 初始状态为 adequate
func NewMonitor(cfg Config) *Monitor {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 256
	}
	return &Monitor{cfg: cfg, status: model.ReserveAdequate}
}

// Key 储备持仓 key
func (m *Monitor) Key() model.PositionKey {
	return model.PositionKey{Venue: m.cfg.WalletVenue, Kind: model.KindWallet, Asset: m.cfg.Currency}
}

// Balance 钱包中储备币种余额，折算为 share class
func (m *Monitor) Balance(positions model.PositionSnapshot, state model.ProtocolState) (float64, error) {
	key := m.Key()
	qty := positions.Float(key)
	if qty == 0 {
		return 0, nil
	}
	return state.Value(key, qty, model.PerpEntry{})
}

// Classify 按比例分级；目标为 0 时视为充足
func Classify(actual, target float64) (float64, model.ReserveStatus) {
	if target <= 0 {
		return 1, model.ReserveAdequate
	}
	ratio := actual / target
	switch {
	case ratio >= AdequateRatio:
		return ratio, model.ReserveAdequate
	case ratio >= LowRatio:
		return ratio, model.ReserveLow
	default:
		return ratio, model.ReserveCritical
	}
}

// Evaluate 计算储备状态；仅在状态迁移进入 low/critical 时返回信号
func (m *Monitor) Evaluate(equity model.EquitySnapshot, reserveBalance float64) (model.ReserveSnapshot, *model.Signal) {
	target := equity.Total * m.cfg.Ratio
	if target < 0 {
		target = 0
	}
	ratio, status := Classify(reserveBalance, target)
	snap := model.ReserveSnapshot{
		Timestamp: equity.Timestamp,
		Target:    target,
		Actual:    reserveBalance,
		Ratio:     ratio,
		Status:    status,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.push(snap)
	prev := m.status
	m.status = status
	if status == prev || status == model.ReserveAdequate {
		return snap, nil
	}
	kind := model.SignalReserveLow
	if status == model.ReserveCritical {
		kind = model.SignalReserveCritical
	}
	return snap, &model.Signal{
		Kind:      kind,
		Timestamp: equity.Timestamp,
		Detail: map[string]interface{}{
			"target": target,
			"actual": reserveBalance,
			"ratio":  ratio,
			"from":   string(prev),
		},
	}
}

func (m *Monitor) push(s model.ReserveSnapshot) {
	if n := len(m.history); n > 0 && m.history[n-1].Timestamp.Equal(s.Timestamp) {
		m.history[n-1] = s
		return
	}
	if len(m.history) == m.cfg.HistorySize {
		m.history = append(m.history[:0], m.history[1:]...)
	}
	m.history = append(m.history, s)
}

// Status 当前状态
func (m *Monitor) Status() model.ReserveStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Declining 最近 n 个 tick 储备比例是否持续下降
func (m *Monitor) Declining(n int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n < 2 || len(m.history) < n {
		return false
	}
	tail := m.history[len(m.history)-n:]
	for i := 1; i < len(tail); i++ {
		if tail[i].Ratio >= tail[i-1].Ratio {
			return false
		}
	}
	return true
}
