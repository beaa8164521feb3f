package model

import "time"

// ExposureVector 各资产的方向性敞口，以计量资产（measurement asset）计价。
type ExposureVector struct {
	Timestamp         time.Time
	MeasurementAsset  string
	ReportingCurrency string
	Exposures         map[string]float64
	NetDelta          float64 // 除计量资产外的净敞口
	GrossLong         float64
	GrossShort        float64
	ReportingNetDelta float64 // NetDelta 折算为 share class
}

// RiskLevel 风险等级
type RiskLevel int

const (
	RiskUnknown RiskLevel = iota
	RiskSafe
	RiskWarning
	RiskCritical
)

func (l RiskLevel) String() string {
	switch l {
	case RiskSafe:
		return "safe"
	case RiskWarning:
		return "warning"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// RiskType 风险类型
type RiskType string

const (
	RiskDelta     RiskType = "delta"
	RiskLTV       RiskType = "ltv"
	RiskCEXMargin RiskType = "cex_margin"
)

// RiskAssessment 每个已启用风险类型的等级 + 汇总等级（取最差）。
type RiskAssessment struct {
	Timestamp        time.Time
	Levels           map[RiskType]RiskLevel
	Metrics          map[RiskType]float64
	Aggregate        RiskLevel
	ReduceOnly       bool // 熔断：仅允许减仓动作
	BreakerTriggered bool // 本次评估 reduce-only 由关到开
	BreakerReleased  bool // 本次评估 reduce-only 由开到关
}

// Bucket 收益归因桶
type Bucket string

const (
	BucketBasis   Bucket = "basis"
	BucketFunding Bucket = "funding"
	BucketDelta   Bucket = "delta"
	BucketLending Bucket = "lending"
	BucketStaking Bucket = "staking"
	BucketFees    Bucket = "fees"
)

// Buckets 固定顺序
var Buckets = []Bucket{BucketBasis, BucketFunding, BucketDelta, BucketLending, BucketStaking, BucketFees}

// EquitySnapshot 以 share class 计价的总权益。
type EquitySnapshot struct {
	Timestamp  time.Time
	ShareClass string
	Total      float64
	Assets     float64
	Debt       float64
	Positions  PositionSnapshot
	State      ProtocolState
}

// Attribution 区间权益变化按来源拆分
type Attribution struct {
	From    time.Time
	To      time.Time
	Delta   float64            // 权益变化（含外部出入金）
	Flows   float64            // 外部出入金净额，不计入任何桶
	Buckets map[Bucket]float64
}

// Add 累加另一段归因
func (a *Attribution) Add(other Attribution) {
	if a.Buckets == nil {
		a.Buckets = make(map[Bucket]float64, len(Buckets))
	}
	if a.From.IsZero() || (!other.From.IsZero() && other.From.Before(a.From)) {
		a.From = other.From
	}
	if other.To.After(a.To) {
		a.To = other.To
	}
	a.Delta += other.Delta
	a.Flows += other.Flows
	for b, v := range other.Buckets {
		a.Buckets[b] += v
	}
}

// Sum 所有桶之和
func (a Attribution) Sum() float64 {
	var s float64
	for _, v := range a.Buckets {
		s += v
	}
	return s
}

// ReserveStatus 储备金充足度
type ReserveStatus string

const (
	ReserveAdequate ReserveStatus = "adequate"
	ReserveLow      ReserveStatus = "low"
	ReserveCritical ReserveStatus = "critical"
)

// ReserveSnapshot 储备金评估结果
type ReserveSnapshot struct {
	Timestamp time.Time
	Target    float64
	Actual    float64
	Ratio     float64 // Actual / Target
	Status    ReserveStatus
}

// Deficit 距离目标的缺口
func (r ReserveSnapshot) Deficit() float64 {
	if r.Actual >= r.Target {
		return 0
	}
	return r.Target - r.Actual
}

// SignalKind 控制信号类型（不是错误）
type SignalKind string

const (
	SignalReserveLow       SignalKind = "reserve_low"
	SignalReserveCritical  SignalKind = "reserve_critical"
	SignalBreakerTriggered SignalKind = "circuit_breaker_triggered"
	SignalBreakerReleased  SignalKind = "circuit_breaker_released"

	// 趋势预警：指标在连续若干 tick 内持续恶化
	SignalRiskDeteriorating SignalKind = "risk_deteriorating"
	SignalReserveDeclining  SignalKind = "reserve_declining"
)

// Signal 边沿触发的控制信号
type Signal struct {
	Kind      SignalKind
	Timestamp time.Time
	Detail    map[string]interface{}
}
