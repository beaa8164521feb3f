package store

import (
	"time"
)

// Event 运行事件：tick 摘要、信号、执行结果、失败报告。
type Event struct {
	RunID     string                 `json:"run_id"`
	Tick      int                    `json:"tick"`
	Timestamp time.Time              `json:"timestamp"`
	Kind      string                 `json:"kind"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// 事件类型
const (
	EventTick      = "tick"
	EventSignal    = "signal"
	EventExecution = "execution"
	EventRequest   = "request"
	EventFailure   = "failure"
)

// Sink 持久化边界：即发即忘，不阻塞 tick 循环。
type Sink interface {
	LogEvent(ev Event)
	StoreResult(runID string, result interface{})
}

// Backend 具体存储实现
type Backend interface {
	WriteEvent(ev Event) error
	WriteResult(runID string, payload []byte) error
	Close() error
}

// NopSink 丢弃所有事件
type NopSink struct{}

func (NopSink) LogEvent(Event)                   {}
func (NopSink) StoreResult(string, interface{}) {}
