package model

// ActionKind 标准化策略动作
type ActionKind string

const (
	ActionEntryFull    ActionKind = "entry_full"
	ActionEntryPartial ActionKind = "entry_partial"
	ActionExitFull     ActionKind = "exit_full"
	ActionExitPartial  ActionKind = "exit_partial"
	ActionSellDust     ActionKind = "sell_dust"
)

// IsEntry 是否为加仓动作（reduce-only 下禁止）
func (k ActionKind) IsEntry() bool {
	return k == ActionEntryFull || k == ActionEntryPartial
}

// StrategyAction 策略输出：目标金额 + 有序指令列表。
type StrategyAction struct {
	Kind           ActionKind
	TargetAmount   float64
	TargetCurrency string
	Instructions   []ExecutionInstruction
	Atomic         bool
	Reason         string
}

// Empty 指令列表为空（no-op）
func (a StrategyAction) Empty() bool {
	return len(a.Instructions) == 0
}

// Units 按分发单元拆分：atomic 动作整体为一个单元，否则每条指令一个单元，保持原有顺序。
func (a StrategyAction) Units() []Unit {
	if len(a.Instructions) == 0 {
		return nil
	}
	if a.Atomic {
		return []Unit{{Kind: a.Kind, Instructions: append([]ExecutionInstruction(nil), a.Instructions...), Atomic: true}}
	}
	units := make([]Unit, 0, len(a.Instructions))
	for _, instr := range a.Instructions {
		units = append(units, Unit{Kind: a.Kind, Instructions: []ExecutionInstruction{instr}})
	}
	return units
}

// Unit 执行协调器一次分发的单位：单条指令或一个 atomic 组。
type Unit struct {
	Kind         ActionKind
	Instructions []ExecutionInstruction
	Atomic       bool
}

// ID 单元标识，取第一条指令的 id
func (u Unit) ID() string {
	if len(u.Instructions) == 0 {
		return ""
	}
	return u.Instructions[0].ID()
}
