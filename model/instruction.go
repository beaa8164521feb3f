package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Operation 执行指令类型
type Operation string

const (
	OpTransfer Operation = "transfer" // 同资产在 venue 间划转
	OpTrade    Operation = "trade"    // 现货兑换
	OpSupply   Operation = "supply"   // 存入借贷协议
	OpWithdraw Operation = "withdraw" // 从借贷协议取出
	OpBorrow   Operation = "borrow"   // 借款
	OpRepay    Operation = "repay"    // 还款
	OpStake    Operation = "stake"    // 质押换取 LST
	OpUnstake  Operation = "unstake"  // 赎回 LST
	OpPerp     Operation = "perp"     // 永续开/平仓，数量带符号
)

// ExternalVenue 代表系统外部（入金来源/出金去向）
const ExternalVenue = "external"

// ExecutionInstruction 一个原子工作单元（划转、交易或合约调用）。
// 由策略创建，由执行协调器恰好消费一次，创建后不可修改。
type ExecutionInstruction struct {
	id       string
	op       Operation
	venue    string
	source   PositionKey
	dest     PositionKey
	amount   float64
	expected []PositionDelta
}

// InstructionSpec 构造指令所需参数
type InstructionSpec struct {
	ID        string // 为空时自动生成
	Operation Operation
	Venue     string
	Source    PositionKey
	Dest      PositionKey
	Amount    float64
	Expected  []PositionDelta
}

// NewInstruction 创建不可变指令；ID 为空时生成 uuid。
func NewInstruction(spec InstructionSpec) ExecutionInstruction {
	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}
	venue := spec.Venue
	if venue == "" {
		venue = spec.Dest.Venue
	}
	expected := make([]PositionDelta, len(spec.Expected))
	copy(expected, spec.Expected)
	return ExecutionInstruction{
		id:       id,
		op:       spec.Operation,
		venue:    venue,
		source:   spec.Source,
		dest:     spec.Dest,
		amount:   spec.Amount,
		expected: expected,
	}
}

func (i ExecutionInstruction) ID() string            { return i.id }
func (i ExecutionInstruction) Operation() Operation  { return i.op }
func (i ExecutionInstruction) Venue() string         { return i.venue }
func (i ExecutionInstruction) Source() PositionKey   { return i.source }
func (i ExecutionInstruction) Dest() PositionKey     { return i.dest }
func (i ExecutionInstruction) Amount() float64       { return i.amount }
func (i ExecutionInstruction) IsZero() bool          { return i.id == "" }

// Expected 返回声明的预期持仓变动（副本）
func (i ExecutionInstruction) Expected() []PositionDelta {
	out := make([]PositionDelta, len(i.expected))
	copy(out, i.expected)
	return out
}

// Touches 判断 key 是否属于本指令的 source/dest 腿
func (i ExecutionInstruction) Touches(key PositionKey) bool {
	return key == i.source || key == i.dest
}

func (i ExecutionInstruction) String() string {
	return fmt.Sprintf("%s[%s %s %.8g %s->%s]", i.id, i.op, i.venue, i.amount, i.source, i.dest)
}

// ConfirmationStatus 确认状态
type ConfirmationStatus string

const (
	ConfirmationSettled ConfirmationStatus = "settled"
	ConfirmationPending ConfirmationStatus = "pending"
)

// Confirmation venue 对指令的确认结果
type Confirmation struct {
	OperationID string             `json:"operation_id"`
	Status      ConfirmationStatus `json:"status"`
	Deltas      []PositionDelta    `json:"deltas"`
	Timestamp   time.Time          `json:"timestamp"`
}

// Settled 是否已结算
func (c Confirmation) Settled() bool {
	return c.Status == ConfirmationSettled
}
