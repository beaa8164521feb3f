package alert

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"yield-engine/infrastructure/logger"
)

// LogChannel 把告警写入结构化日志
type LogChannel struct {
	name string
	log  *logger.Logger
}

func NewLogChannel(name string, log *logger.Logger) *LogChannel {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogChannel{name: name, log: log}
}

func (c *LogChannel) Send(alert Alert) error {
	fields := []zap.Field{
		zap.String("event", "alert"),
		zap.String("alert", alert.Message),
		zap.String("level", alert.Level),
		zap.Time("timestamp", alert.Timestamp),
	}
	// 字段按 key 排序，日志输出稳定
	keys := make([]string, 0, len(alert.Fields))
	for k := range alert.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.Any(k, alert.Fields[k]))
	}

	switch alert.Level {
	case LevelCritical, LevelError:
		c.log.Error("alert", fields...)
	case LevelWarning:
		c.log.Warn("alert", fields...)
	default:
		c.log.Info("alert", fields...)
	}
	return nil
}

func (c *LogChannel) Name() string {
	return c.name
}

// MockChannel 记录告警，测试用
type MockChannel struct {
	name      string
	mu        sync.Mutex
	alerts    []Alert
	shouldErr bool
}

func NewMockChannel(name string) *MockChannel {
	return &MockChannel{name: name}
}

func (c *MockChannel) Send(alert Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shouldErr {
		return errors.New("mock error")
	}
	c.alerts = append(c.alerts, alert)
	return nil
}

func (c *MockChannel) Name() string {
	return c.name
}

// GetAlerts 已接收告警的副本
func (c *MockChannel) GetAlerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Alert(nil), c.alerts...)
}

func (c *MockChannel) SetShouldError(shouldErr bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldErr = shouldErr
}

func (c *MockChannel) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}
