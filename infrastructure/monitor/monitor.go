package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus 指标收集器，每次运行一个独立 registry。
type Monitor struct {
	registry *prometheus.Registry

	// tick 指标
	ticks       prometheus.Counter
	tickLatency prometheus.Histogram
	bypassTicks prometheus.Counter

	// 执行指标
	instructions *prometheus.CounterVec
	retries      *prometheus.CounterVec
	mismatches   prometheus.Counter
	submitTime   *prometheus.HistogramVec
	queueDepth   prometheus.Gauge

	// 权益与风险
	equity       prometheus.Gauge
	netDelta     prometheus.Gauge
	reserveRatio prometheus.Gauge
	riskLevel    *prometheus.GaugeVec
	reduceOnly   prometheus.Gauge
	signals      *prometheus.CounterVec

	// 持久化
	sinkDrops prometheus.Counter
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "ye",
		Subsystem: "engine",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help}
	}

	m := &Monitor{
		registry: reg,

		ticks: factory.NewCounter(prometheus.CounterOpts(opts("ticks_total", "完成的 tick 总数"))),
		tickLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "tick_duration_seconds",
			Help:      "单个 tick 处理耗时（秒）",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
		bypassTicks: factory.NewCounter(prometheus.CounterOpts(opts("bypass_ticks_total", "跳过策略直接执行队列的 tick 数"))),

		instructions: factory.NewCounterVec(prometheus.CounterOpts(opts("instructions_total", "按操作与结果统计的指令数")),
			[]string{"operation", "result"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts(opts("retries_total", "执行重试次数")),
			[]string{"operation"}),
		mismatches: factory.NewCounter(prometheus.CounterOpts(opts("reconciliation_mismatches_total", "对账不一致次数"))),
		submitTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "venue_submit_seconds",
			Help:      "venue 提交延迟（秒）",
			Buckets:   prometheus.DefBuckets,
		}, []string{"venue"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts(opts("queue_depth", "待执行单元数"))),

		equity:       factory.NewGauge(prometheus.GaugeOpts(opts("equity", "以 share class 计的总权益"))),
		netDelta:     factory.NewGauge(prometheus.GaugeOpts(opts("net_delta", "以 share class 计的净敞口"))),
		reserveRatio: factory.NewGauge(prometheus.GaugeOpts(opts("reserve_ratio", "储备金实际/目标"))),
		riskLevel: factory.NewGaugeVec(prometheus.GaugeOpts(opts("risk_level", "风险等级 0=unknown 1=safe 2=warning 3=critical")),
			[]string{"type"}),
		reduceOnly: factory.NewGauge(prometheus.GaugeOpts(opts("reduce_only", "熔断状态 1=仅减仓"))),
		signals: factory.NewCounterVec(prometheus.CounterOpts(opts("signals_total", "控制信号次数")),
			[]string{"kind"}),

		sinkDrops: factory.NewCounter(prometheus.CounterOpts(opts("sink_dropped_total", "持久化队列满时丢弃的事件数"))),
	}

	return m
}

// tick 相关方法
func (m *Monitor) RecordTick(seconds float64) {
	m.ticks.Inc()
	m.tickLatency.Observe(seconds)
}

func (m *Monitor) RecordBypass() {
	m.bypassTicks.Inc()
}

// 执行相关方法
func (m *Monitor) RecordInstruction(operation, result string) {
	m.instructions.WithLabelValues(operation, result).Inc()
}

func (m *Monitor) RecordRetry(operation string) {
	m.retries.WithLabelValues(operation).Inc()
}

func (m *Monitor) RecordMismatch() {
	m.mismatches.Inc()
}

func (m *Monitor) RecordSubmitLatency(venue string, seconds float64) {
	m.submitTime.WithLabelValues(venue).Observe(seconds)
}

func (m *Monitor) UpdateQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// 权益与风险
func (m *Monitor) UpdateEquity(value float64) {
	m.equity.Set(value)
}

func (m *Monitor) UpdateNetDelta(value float64) {
	m.netDelta.Set(value)
}

func (m *Monitor) UpdateReserveRatio(value float64) {
	m.reserveRatio.Set(value)
}

func (m *Monitor) UpdateRiskLevel(riskType string, level int) {
	m.riskLevel.WithLabelValues(riskType).Set(float64(level))
}

func (m *Monitor) UpdateReduceOnly(on bool) {
	if on {
		m.reduceOnly.Set(1)
		return
	}
	m.reduceOnly.Set(0)
}

func (m *Monitor) RecordSignal(kind string) {
	m.signals.WithLabelValues(kind).Inc()
}

func (m *Monitor) RecordSinkDrop() {
	m.sinkDrops.Inc()
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
