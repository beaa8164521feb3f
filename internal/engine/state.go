package engine

import (
	"fmt"
	"sync"
)

// State 单个 tick 内的编排状态
type State string

const (
	StateIdle                   State = "idle"
	StatePositionUpdated        State = "position_updated"
	StateExposureComputed       State = "exposure_computed"
	StateRiskAssessed           State = "risk_assessed"
	StatePnLComputed            State = "pnl_computed"
	StateStrategyInvoked        State = "strategy_invoked"
	StateExecutionBypass        State = "execution_bypass"
	StateInstructionsDispatched State = "instructions_dispatched"
	StateReconciling            State = "reconciling"
	StateTickComplete           State = "tick_complete"
)

// StateTransition 状态转换
type StateTransition struct {
	From State
	To   State
}

// StateMachine tick 状态机；不允许跳过任何状态，也不允许原地转换。
type StateMachine struct {
	mu          sync.RWMutex
	current     State
	path        []State // 本 tick 离开 Idle 之后经过的状态
	transitions map[StateTransition]bool
}

// NewStateMachine 创建状态机，初始为 Idle
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		current:     StateIdle,
		transitions: make(map[StateTransition]bool),
	}
	sm.initializeTransitions()
	return sm
}

func (sm *StateMachine) initializeTransitions() {
	legalTransitions := []StateTransition{
		// 监控链：严格顺序
		{StateIdle, StatePositionUpdated},
		{StatePositionUpdated, StateExposureComputed},
		{StateExposureComputed, StateRiskAssessed},
		{StateRiskAssessed, StatePnLComputed},

		// 两条子路径
		{StatePnLComputed, StateStrategyInvoked},
		{StatePnLComputed, StateExecutionBypass},

		// 策略路径：持有不动时分发零个单元
		{StateStrategyInvoked, StateInstructionsDispatched},

		// 旁路：继续分发队列；在途单元本 tick 结算后直接对账
		{StateExecutionBypass, StateInstructionsDispatched},
		{StateExecutionBypass, StateReconciling},

		{StateInstructionsDispatched, StateReconciling},

		// 队列未清空则重跑监控链
		{StateReconciling, StatePositionUpdated},
		{StateReconciling, StateTickComplete},

		{StateTickComplete, StateIdle},
	}
	for _, t := range legalTransitions {
		sm.transitions[t] = true
	}
}

// ValidateTransition 验证状态转换是否合法
func (sm *StateMachine) ValidateTransition(from, to State) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if !sm.transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("illegal state transition: %s -> %s", from, to)
	}
	return nil
}

// Transition 校验并切换到 to
func (sm *StateMachine) Transition(to State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.transitions[StateTransition{From: sm.current, To: to}] {
		return fmt.Errorf("illegal state transition: %s -> %s", sm.current, to)
	}
	if sm.current == StateIdle {
		sm.path = sm.path[:0]
	}
	sm.path = append(sm.path, to)
	sm.current = to
	return nil
}

// Path 最近一个 tick 经过的状态序列
func (sm *StateMachine) Path() []State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return append([]State(nil), sm.path...)
}

// Current 当前状态
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// AllowedTransitions 返回当前状态所有合法的目标状态
func (sm *StateMachine) AllowedTransitions(current State) []State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	allowed := make([]State, 0, 2)
	for t := range sm.transitions {
		if t.From == current {
			allowed = append(allowed, t.To)
		}
	}
	return allowed
}
