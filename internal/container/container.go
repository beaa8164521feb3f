package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"yield-engine/config"
	"yield-engine/data"
	"yield-engine/execution"
	"yield-engine/exposure"
	"yield-engine/infrastructure/alert"
	"yield-engine/infrastructure/logger"
	"yield-engine/infrastructure/monitor"
	"yield-engine/infrastructure/telemetry"
	"yield-engine/internal/control"
	"yield-engine/internal/engine"
	"yield-engine/internal/store"
	"yield-engine/inventory"
	"yield-engine/market"
	"yield-engine/model"
	"yield-engine/pnl"
	"yield-engine/reserve"
	"yield-engine/risk"
	"yield-engine/sim"
	"yield-engine/strategy"
)

const alertThrottle = 5 * time.Minute

// Container 每次运行构造一份组件图，组件之间只通过引用协作。
type Container struct {
	cfg *config.RunConfig

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager

	// 数据
	series    *data.Series
	stamps    []time.Time // 回测 tick 时间点
	publisher *market.Publisher
	oracle    *market.Oracle

	// 核心组件
	ledger       *inventory.Ledger
	venue        *sim.Venue
	coordinator  *execution.Coordinator
	decider      *strategy.Decider
	orchestrator *engine.Orchestrator

	// 输出
	backends store.Fanout
	sink     *store.AsyncSink
	hub      *telemetry.Hub
	control  *control.Watcher

	lifecycle *LifecycleManager
}

// New 加载配置（含环境变量覆盖）并创建容器
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewFromConfig(cfg), nil
}

// NewFromConfig 使用已校验的配置创建容器
func NewFromConfig(cfg config.RunConfig) *Container {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	return &Container{
		cfg:       &cfg,
		lifecycle: NewLifecycleManager(),
	}
}

// Build 构建所有组件；任一步失败都不会留下半初始化的运行
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildData(); err != nil {
		return fmt.Errorf("build data failed: %w", err)
	}
	if err := c.buildCore(); err != nil {
		return fmt.Errorf("build core failed: %w", err)
	}
	if err := c.buildOutputs(); err != nil {
		return fmt.Errorf("build outputs failed: %w", err)
	}
	if err := c.buildOrchestrator(); err != nil {
		return fmt.Errorf("build orchestrator failed: %w", err)
	}
	if err := c.registerLifecycleComponents(); err != nil {
		return fmt.Errorf("register components failed: %w", err)
	}
	c.logger.Info("container built",
		zap.String("mode", c.cfg.Mode),
		zap.String("execution_mode", string(c.cfg.ExecutionMode)),
		zap.Int("instruments", len(c.cfg.Instruments)))
	return nil
}

func (c *Container) buildInfrastructure() error {
	base, err := logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}
	c.logger = base.WithFields(map[string]interface{}{"run_id": c.cfg.RunID})
	c.monitor = monitor.New(monitor.DefaultConfig())
	c.alerts = alert.NewManager([]alert.Channel{alert.NewLogChannel("log", c.logger)}, alertThrottle)
	c.alerts.SetCommonField("run_id", c.cfg.RunID)
	return nil
}

func (c *Container) buildData() error {
	series, err := data.LoadCSV(c.cfg.Data.Path)
	if err != nil {
		return err
	}
	c.series = series
	c.publisher = market.NewPublisher()

	var src data.Source = series
	if !c.cfg.IsBacktest() {
		src = data.NewAsOf(series, c.cfg.Data.MaxStaleness)
	}
	c.oracle = market.NewOracle(src, c.cfg.ShareClass, c.cfg.LSTUnderlying, c.publisher)

	if c.cfg.IsBacktest() {
		c.stamps = engine.Grid(c.cfg.Start, c.cfg.End, c.cfg.TickInterval)
		reqs, err := c.oracle.Requirements(c.cfg.Instruments)
		if err != nil {
			return err
		}
		// 启动即校验：任一 tick 缺数据都在第一个 tick 之前失败
		if err := series.Require(reqs, c.stamps); err != nil {
			return err
		}
	}
	c.logger.Info("data loaded",
		zap.String("path", c.cfg.Data.Path),
		zap.Int("observations", series.Len()),
		zap.Int("ticks", len(c.stamps)))
	return nil
}

func (c *Container) buildCore() error {
	initial := c.cfg.InitialDeltas()
	c.ledger = inventory.NewLedger(initial)
	// 回测与实盘纸面交易都由模拟场所成交；真实适配器按场所注册到 router
	c.venue = sim.BuildVenue(*c.cfg)
	router := execution.NewRouter(c.venue)
	c.coordinator = execution.NewCoordinator(router, c.ledger, execution.Config{
		Policy:    execution.PolicyFor(*c.cfg),
		Tolerance: c.cfg.Execution.ReconcileTolerance,
	}, c.logger, c.monitor)

	params := strategy.ParamsFromConfig(*c.cfg)
	strat, err := strategy.NewStrategyFactory().CreateStrategy(c.cfg.Mode, params)
	if err != nil {
		return err
	}
	c.decider, err = strategy.NewDecider(strat, params, strategy.DeciderConfig{
		ReduceFraction: c.cfg.ReduceFraction,
		Backtest:       c.cfg.IsBacktest(),
		InitialCapital: c.cfg.InitialCapital,
	})
	return err
}

func (c *Container) buildOutputs() error {
	var backends store.Fanout
	if c.cfg.Sinks.EventsFile != "" || c.cfg.Sinks.ResultsDir != "" {
		fb, err := store.NewFileBackend(c.cfg.Sinks.EventsFile, c.cfg.Sinks.ResultsDir)
		if err != nil {
			return err
		}
		backends = append(backends, fb)
	}
	if c.cfg.Sinks.PostgresDSN != "" {
		gb, err := store.NewGormBackend(c.cfg.Sinks.PostgresDSN)
		if err != nil {
			return multierr.Append(err, backends.Close())
		}
		backends = append(backends, gb)
	}
	if c.cfg.TelemetryAddr != "" {
		c.hub = telemetry.NewHub(256, c.logger)
		backends = append(backends, c.hub)
	}
	c.backends = backends
	c.sink = store.NewAsyncSink(backends, c.cfg.Sinks.QueueSize, c.logger, c.monitor.RecordSinkDrop)
	return nil
}

func riskLimits(cfg config.RunConfig) map[model.RiskType]risk.Limit {
	out := make(map[model.RiskType]risk.Limit, len(cfg.RiskLimits))
	for t, l := range cfg.RiskLimits {
		out[t] = risk.Limit{Warning: l.Warning, Critical: l.Critical}
	}
	return out
}

func (c *Container) buildOrchestrator() error {
	assessor := risk.NewAssessor(
		c.cfg.EnabledRiskTypes,
		riskLimits(*c.cfg),
		risk.NewBreaker(c.cfg.ReduceOnlyReleaseTicks),
		risk.NewHistory(256),
		risk.DefaultEvaluators()...,
	)
	o, err := engine.New(engine.ConfigFromRun(*c.cfg), engine.Components{
		Oracle:      c.oracle,
		Observers:   []engine.StateObserver{c.venue},
		Ledger:      c.ledger,
		Exposure:    exposure.NewCalculator(c.cfg.Asset, c.cfg.ShareClass),
		Risk:        assessor,
		Notifier:    risk.NewNotifier(c.alerts, c.logger),
		Attributor:  pnl.NewAttributor(c.cfg.ShareClass),
		Running:     pnl.NewRunning(),
		Reserve:     reserve.NewMonitor(reserve.Config{Ratio: c.cfg.ReserveRatio, Currency: c.cfg.ReserveCurrency, WalletVenue: c.cfg.WalletVenue}),
		Decider:     c.decider,
		Coordinator: c.coordinator,
		Sink:        c.sink,
		Alerts:      c.alerts,
		Logger:      c.logger,
		Metrics:     c.monitor,
	})
	if err != nil {
		return err
	}
	c.orchestrator = o
	if c.cfg.ControlDir != "" {
		c.control, err = control.NewWatcher(c.cfg.ControlDir, o, c.logger)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Container) registerLifecycleComponents() error {
	// 逆序停止：sink 最后关闭，确保之前的事件都已排空
	c.lifecycle.Register("sink", &sinkComponent{sink: c.sink})
	if c.hub != nil {
		c.lifecycle.Register("telemetry_hub", &hubComponent{hub: c.hub, pub: c.publisher})
		mux := http.NewServeMux()
		mux.Handle("/ws", c.hub.Handler())
		c.lifecycle.Register("telemetry_server", &httpServerComponent{
			name:    "telemetry_server",
			handler: mux,
			addr:    c.cfg.TelemetryAddr,
			logger:  c.logger,
		})
	}
	if c.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", c.monitor.Handler())
		mux.Handle("/status", statusHandler(c.orchestrator))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := c.HealthCheck(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
		c.lifecycle.Register("metrics_server", &httpServerComponent{
			name:    "metrics_server",
			handler: mux,
			addr:    c.cfg.MetricsAddr,
			logger:  c.logger,
		})
	}
	if c.control != nil {
		c.lifecycle.Register("control_watcher", c.control)
	}
	return nil
}

// Start 启动后台组件
func (c *Container) Start(ctx context.Context) error {
	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	c.logger.Info("container started")
	return nil
}

// Clock 回测按数据时间点回放，实盘按 tick 粒度轮询
func (c *Container) Clock() engine.Clock {
	if c.cfg.IsBacktest() {
		return engine.NewReplayClock(c.stamps)
	}
	return engine.NewPollingClock(c.cfg.TickInterval, c.cfg.End)
}

// Run 以容器时钟运行直到结束、停止请求或失败
func (c *Container) Run(ctx context.Context) (engine.RunResult, error) {
	return c.orchestrator.Run(ctx, c.Clock())
}

// Stop 停止后台组件并刷出日志
func (c *Container) Stop() error {
	c.orchestrator.Stop()
	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	c.logger.Info("container stopped", zap.Int("sink_dropped", c.sink.Dropped()))
	// stdout 上的 Sync 在部分平台返回 EINVAL，忽略
	_ = c.logger.Close()
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

func (c *Container) Config() config.RunConfig           { return *c.cfg }
func (c *Container) Orchestrator() *engine.Orchestrator { return c.orchestrator }
func (c *Container) Monitor() *monitor.Monitor          { return c.monitor }
func (c *Container) Logger() *logger.Logger             { return c.logger }
