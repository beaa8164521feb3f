package strategy

import (
	"fmt"
	"sort"
	"sync"

	"yield-engine/config"
	"yield-engine/model"
)

// Strategy 策略决策单元：把当前权益转换为标准化动作与有序指令。
type Strategy interface {
	Name() string
	// CoreAssets 策略主动持有的资产，其余非 share class 余额视为 dust
	CoreAssets() []string
	CalculateTargetPosition(eq model.EquitySnapshot) (Target, error)
	EntryFull(eq model.EquitySnapshot) (model.StrategyAction, error)
	EntryPartial(eq model.EquitySnapshot, amount float64) (model.StrategyAction, error)
	ExitFull(eq model.EquitySnapshot) (model.StrategyAction, error)
	ExitPartial(eq model.EquitySnapshot, amount float64) (model.StrategyAction, error)
	SellDust(eq model.EquitySnapshot) (model.StrategyAction, error)
}

// Target 目标持仓：部署资金、储备金与各持仓目标数量
type Target struct {
	Deployed float64
	Reserve  float64
	Holdings map[model.PositionKey]float64
}

// Params 策略构造参数（来自已校验的运行配置）
type Params struct {
	ShareClass   string
	WalletVenue  string
	ReserveRatio float64
	DustDelta    float64
	FeeBps       float64
	Instruments  []model.PositionKey
	Strategy     config.StrategyParams
}

// ParamsFromConfig 从运行配置提取策略参数
func ParamsFromConfig(cfg config.RunConfig) Params {
	return Params{
		ShareClass:   cfg.ShareClass,
		WalletVenue:  cfg.WalletVenue,
		ReserveRatio: cfg.ReserveRatio,
		DustDelta:    cfg.DustDelta,
		FeeBps:       cfg.Execution.FeeBps,
		Instruments:  append([]model.PositionKey(nil), cfg.Instruments...),
		Strategy:     cfg.Strategy,
	}
}

// Constructor 按参数构造策略
type Constructor func(p Params) (Strategy, error)

// StrategyFactory mode -> 构造函数注册表；每次运行构造一次，运行中不再切换。
type StrategyFactory struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewStrategyFactory 创建注册表并注册内置策略
func NewStrategyFactory() *StrategyFactory {
	f := &StrategyFactory{ctors: make(map[string]Constructor)}
	f.Register(ModePureLending, NewLending)
	f.Register(ModeBasis, NewBasis)
	f.Register(ModeStakingNeutral, NewStakingNeutral)
	return f
}

// 内置模式
const (
	ModePureLending    = "pure_lending"
	ModeBasis          = "basis"
	ModeStakingNeutral = "staking_neutral"
)

// Register 注册（覆盖同名）
func (f *StrategyFactory) Register(mode string, c Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[mode] = c
}

// Modes 已注册模式
func (f *StrategyFactory) Modes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.ctors))
	for m := range f.ctors {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// CreateStrategy creates a strategy instance for the given mode.
func (f *StrategyFactory) CreateStrategy(mode string, p Params) (Strategy, error) {
	f.mu.RLock()
	c, ok := f.ctors[mode]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy mode %q", model.ErrConfigInvalid, mode)
	}
	return c(p)
}
