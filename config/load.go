package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"yield-engine/infrastructure/logger"
	"yield-engine/model"
)

// ExecutionMode 运行模式
type ExecutionMode string

const (
	ModeBacktest ExecutionMode = "backtest"
	ModeLive     ExecutionMode = "live"
)

// RunConfig 单次运行的完整配置，加载并校验后以只读方式注入各组件。
type RunConfig struct {
	RunID         string        `yaml:"run_id"`
	Mode          string        `yaml:"mode"`           // 策略注册表 key
	ExecutionMode ExecutionMode `yaml:"execution_mode"` // backtest / live

	ShareClass      string  `yaml:"share_class"` // 报告币种
	Asset           string  `yaml:"asset"`       // 敞口计量资产
	WalletVenue     string  `yaml:"wallet_venue"`
	ReserveRatio    float64 `yaml:"reserve_ratio"`
	ReserveCurrency string  `yaml:"reserve_currency"` // 必须与 share_class 一致
	DustDelta       float64 `yaml:"dust_delta"`

	EnabledRiskTypes       []model.RiskType             `yaml:"enabled_risk_types"`
	RiskLimits             map[model.RiskType]RiskLimit `yaml:"risk_limits"`
	ReduceOnlyReleaseTicks int                          `yaml:"reduce_only_release_ticks"`
	ReduceFraction         float64                      `yaml:"reduce_fraction"` // reduce-only 时每次减仓占权益比例，>=1 表示全部退出
	TrendWindow            int                          `yaml:"trend_window"`    // 风险/储备趋势预警的连续 tick 数

	InitialCapital  float64             `yaml:"initial_capital"`
	InitialBalances []Balance           `yaml:"initial_balances"`
	Instruments     []model.PositionKey `yaml:"instruments"`
	LSTUnderlying   map[string]string   `yaml:"lst_underlying"`

	Start        time.Time     `yaml:"start"`
	End          time.Time     `yaml:"end"`
	TickInterval time.Duration `yaml:"tick_interval"`

	Strategy    StrategyParams  `yaml:"strategy"`
	Execution   ExecutionConfig `yaml:"execution"`
	YieldBounds YieldBounds     `yaml:"yield_bounds"`
	Data        DataConfig      `yaml:"data"`
	Sinks       SinkConfig      `yaml:"sinks"`
	Log         logger.Config   `yaml:"log"`

	MetricsAddr   string `yaml:"metrics_addr"`
	TelemetryAddr string `yaml:"telemetry_addr"`
	ControlDir    string `yaml:"control_dir"`
}

// RiskLimit 单个风险类型的阈值
type RiskLimit struct {
	Warning  float64 `yaml:"warning"`
	Critical float64 `yaml:"critical"`
}

// Balance 初始持仓
type Balance struct {
	model.PositionKey `yaml:",inline"`
	Amount            float64 `yaml:"amount"`
}

// StrategyParams 策略参数，各策略按需读取。
type StrategyParams struct {
	LendingVenue string  `yaml:"lending_venue"`
	SpotVenue    string  `yaml:"spot_venue"` // 交易所现货
	PerpVenue    string  `yaml:"perp_venue"`
	SwapVenue    string  `yaml:"swap_venue"` // 链上兑换，默认与钱包相同
	StakingVenue string  `yaml:"staking_venue"`
	Underlying   string  `yaml:"underlying"` // 如 ETH
	LST          string  `yaml:"lst"`        // 如 weETH
	Leverage     float64 `yaml:"leverage"`   // perp 杠杆，决定保证金占比
	HedgeRatio   float64 `yaml:"hedge_ratio"`
}

// ExecutionConfig 执行参数
type ExecutionConfig struct {
	Timeout            time.Duration `yaml:"timeout"`
	MaxAttempts        int           `yaml:"max_attempts"`
	Backoff            time.Duration `yaml:"backoff"`
	ReconcileTolerance float64       `yaml:"reconcile_tolerance"` // 相对容差
	FeeBps             float64       `yaml:"fee_bps"`             // 回测撮合手续费
}

// YieldBounds 年化收益合理区间
type YieldBounds struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// DefaultYieldBounds 未配置时的年化区间
var DefaultYieldBounds = YieldBounds{Min: -0.05, Max: 0.15}

// DataConfig 数据源
type DataConfig struct {
	Path         string        `yaml:"path"`
	MaxStaleness time.Duration `yaml:"max_staleness"` // 实盘 as-of 查询允许的最大陈旧度
}

// SinkConfig 持久化/遥测
type SinkConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	EventsFile  string `yaml:"events_file"`
	ResultsDir  string `yaml:"results_dir"`
	QueueSize   int    `yaml:"queue_size"`
}

// IsBacktest 便捷判断
func (c *RunConfig) IsBacktest() bool {
	return c.ExecutionMode == ModeBacktest
}

// RiskEnabled 判断风险类型是否启用
func (c *RunConfig) RiskEnabled(t model.RiskType) bool {
	for _, e := range c.EnabledRiskTypes {
		if e == t {
			return true
		}
	}
	return false
}

// InitialDeltas 初始持仓转换为账本建账用的变动
func (c *RunConfig) InitialDeltas() []model.PositionDelta {
	out := make([]model.PositionDelta, 0, len(c.InitialBalances))
	for _, b := range c.InitialBalances {
		out = append(out, model.Delta(b.PositionKey, b.Amount))
	}
	return out
}

// Parse 解析 YAML 并填充默认值、校验。
func Parse(raw []byte) (RunConfig, error) {
	var cfg RunConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: parse yaml: %v", model.ErrConfigInvalid, err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Load reads YAML config from path and applies defaults + validation.
func Load(path string) (RunConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("%w: read config: %v", model.ErrConfigInvalid, err)
	}
	return Parse(raw)
}

// LoadWithEnvOverrides loads config then overrides deployment fields from env vars if present.
func LoadWithEnvOverrides(path string) (RunConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("YE_RUN_ID"); v != "" {
		cfg.RunID = v
	}
	if v := os.Getenv("YE_DATA_PATH"); v != "" {
		cfg.Data.Path = v
	}
	if v := os.Getenv("YE_POSTGRES_DSN"); v != "" {
		cfg.Sinks.PostgresDSN = v
	}
	if v := os.Getenv("YE_CONTROL_DIR"); v != "" {
		cfg.ControlDir = v
	}
	return cfg, Validate(cfg)
}

// ApplyDefaults 填充可选字段默认值
func ApplyDefaults(cfg *RunConfig) {
	if cfg.WalletVenue == "" {
		cfg.WalletVenue = "wallet"
	}
	if cfg.ReserveCurrency == "" {
		cfg.ReserveCurrency = cfg.ShareClass
	}
	if cfg.Asset == "" {
		cfg.Asset = cfg.ShareClass
	}
	if cfg.ReduceOnlyReleaseTicks <= 0 {
		cfg.ReduceOnlyReleaseTicks = 1
	}
	if cfg.ReduceFraction <= 0 {
		cfg.ReduceFraction = 0.5
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Hour
	}
	if cfg.Strategy.SwapVenue == "" {
		cfg.Strategy.SwapVenue = cfg.WalletVenue
	}
	if cfg.Strategy.Leverage <= 0 {
		cfg.Strategy.Leverage = 3
	}
	if cfg.Strategy.HedgeRatio <= 0 {
		cfg.Strategy.HedgeRatio = 1
	}
	if cfg.Execution.Timeout <= 0 {
		cfg.Execution.Timeout = 30 * time.Second
	}
	if cfg.Execution.MaxAttempts <= 0 {
		cfg.Execution.MaxAttempts = 3
	}
	if cfg.Execution.Backoff <= 0 {
		cfg.Execution.Backoff = 5 * time.Second
	}
	if cfg.Execution.ReconcileTolerance <= 0 {
		cfg.Execution.ReconcileTolerance = 0.01
	}
	// 默认区间为个位数年化附近；数量级偏离说明指数数据有误
	if cfg.YieldBounds == (YieldBounds{}) {
		cfg.YieldBounds = DefaultYieldBounds
	}
	if cfg.TrendWindow <= 0 {
		cfg.TrendWindow = 3
	}
	if cfg.Data.MaxStaleness <= 0 {
		cfg.Data.MaxStaleness = cfg.TickInterval
	}
	if cfg.Sinks.QueueSize <= 0 {
		cfg.Sinks.QueueSize = 1024
	}
	if cfg.Log.Level == "" {
		cfg.Log = logger.DefaultConfig()
	}
	if len(cfg.InitialBalances) == 0 && cfg.InitialCapital > 0 {
		cfg.InitialBalances = []Balance{{
			PositionKey: model.PositionKey{Venue: cfg.WalletVenue, Kind: model.KindWallet, Asset: cfg.ShareClass},
			Amount:      cfg.InitialCapital,
		}}
	}
	// 初始持仓必须属于持仓宇宙，否则无法估值
	for _, b := range cfg.InitialBalances {
		found := false
		for _, k := range cfg.Instruments {
			if k == b.PositionKey {
				found = true
				break
			}
		}
		if !found {
			cfg.Instruments = append(cfg.Instruments, b.PositionKey)
		}
	}
}
