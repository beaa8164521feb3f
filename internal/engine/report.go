package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"yield-engine/model"
)

// FailureReport 中止运行的结构化失败报告
type FailureReport struct {
	RunID     string
	Tick      int
	Timestamp time.Time
	State     State
	Component string
	Cause     error
}

func (f *FailureReport) Error() string {
	return fmt.Sprintf("run %s halted at tick %d (%s) in %s: %v", f.RunID, f.Tick, f.State, f.Component, f.Cause)
}

func (f *FailureReport) Unwrap() error { return f.Cause }

// Fields 日志/告警字段
func (f *FailureReport) Fields() map[string]interface{} {
	return map[string]interface{}{
		"run_id":    f.RunID,
		"tick":      f.Tick,
		"timestamp": f.Timestamp,
		"state":     string(f.State),
		"component": f.Component,
		"cause":     f.Cause.Error(),
	}
}

func (f *FailureReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Fields())
}

// UnmarshalJSON 读回已持久化的报告；原因只保留文本
func (f *FailureReport) UnmarshalJSON(raw []byte) error {
	var aux struct {
		RunID     string    `json:"run_id"`
		Tick      int       `json:"tick"`
		Timestamp time.Time `json:"timestamp"`
		State     State     `json:"state"`
		Component string    `json:"component"`
		Cause     string    `json:"cause"`
	}
	if err := json.Unmarshal(raw, &aux); err != nil {
		return err
	}
	*f = FailureReport{
		RunID:     aux.RunID,
		Tick:      aux.Tick,
		Timestamp: aux.Timestamp,
		State:     aux.State,
		Component: aux.Component,
		Cause:     errors.New(aux.Cause),
	}
	return nil
}

// RunResult 一次运行的汇总结果，写入结果存储
type RunResult struct {
	RunID           string                   `json:"run_id"`
	Mode            string                   `json:"mode"`
	ExecutionMode   string                   `json:"execution_mode"`
	Start           time.Time                `json:"start"`
	End             time.Time                `json:"end"`
	Ticks           int                      `json:"ticks"`
	StartEquity     float64                  `json:"start_equity"`
	EndEquity       float64                  `json:"end_equity"`
	Flows           float64                  `json:"flows"`
	AnnualizedYield float64                  `json:"annualized_yield"`
	MaxDrawdown     float64                  `json:"max_drawdown"`
	Attribution     map[model.Bucket]float64 `json:"attribution"`
	Signals         map[model.SignalKind]int `json:"signals"`
	Failure         *FailureReport           `json:"failure,omitempty"`
}

// Status 状态查询
type Status struct {
	RunID          string              `json:"run_id"`
	State          State               `json:"state"`
	Tick           int                 `json:"tick"`
	Timestamp      time.Time           `json:"timestamp"`
	Equity         float64             `json:"equity"`
	AnnualizedAPY  float64             `json:"annualized_yield"`
	ReduceOnly     bool                `json:"reduce_only"`
	ReserveStatus  model.ReserveStatus `json:"reserve_status"`
	QueueDepth     int                 `json:"queue_depth"`
	InFlight       int                 `json:"in_flight"`
	PendingRequest int                 `json:"pending_requests"`
	Halted         *FailureReport      `json:"halted,omitempty"`
}
