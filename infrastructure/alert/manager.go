package alert

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// 告警级别
const (
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

// Alert 告警信息
type Alert struct {
	Level     string
	Message   string // 告警名，如 ReserveCritical、RunHalted
	Timestamp time.Time
	Fields    map[string]interface{}
}

// Channel 告警通道接口
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Throttler 按 key 限流，同一 key 在 interval 内只放行一次
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	now      func() time.Time
	mu       sync.Mutex
}

func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
		now:      time.Now,
	}
}

// Allow 检查是否允许发送
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	last, ok := t.lastSent[key]
	if !ok || now.Sub(last) >= t.interval {
		t.lastSent[key] = now
		return true
	}
	return false
}

// Clear 清空所有限流记录
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// Manager 告警管理器：限流后扇出到所有通道，并给每条告警附加公共字段（如 run_id）。
type Manager struct {
	channels []Channel
	throttle *Throttler
	common   map[string]interface{}
	mu       sync.RWMutex
}

// NewManager throttleInterval 为 0 时不限流
func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
		common:   make(map[string]interface{}),
	}
}

// SetCommonField 设置附加到每条告警上的字段
func (m *Manager) SetCommonField(key string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.common[key] = value
}

// SendAlert 发送告警。被限流时静默忽略；仅当所有通道都失败时返回错误。
func (m *Manager) SendAlert(alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	if !m.throttle.Allow(alert.Level + ":" + alert.Message) {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.common) > 0 {
		fields := make(map[string]interface{}, len(alert.Fields)+len(m.common))
		for k, v := range m.common {
			fields[k] = v
		}
		for k, v := range alert.Fields {
			fields[k] = v
		}
		alert.Fields = fields
	}

	var errs error
	sent := 0
	for _, ch := range m.channels {
		if err := ch.Send(alert); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("channel %s: %w", ch.Name(), err))
			continue
		}
		sent++
	}
	if sent == 0 {
		return errs
	}
	return nil
}

func (m *Manager) SendInfo(message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Level: LevelInfo, Message: message, Fields: fields})
}

func (m *Manager) SendWarning(message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Level: LevelWarning, Message: message, Fields: fields})
}

func (m *Manager) SendError(message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Level: LevelError, Message: message, Fields: fields})
}

func (m *Manager) SendCritical(message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Level: LevelCritical, Message: message, Fields: fields})
}

// AddChannel 添加告警通道
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// Channels 通道名列表
func (m *Manager) Channels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// ResetThrottle 重置限流器
func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
}
