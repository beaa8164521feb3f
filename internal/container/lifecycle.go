package container

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"yield-engine/infrastructure/logger"
	"yield-engine/infrastructure/telemetry"
	"yield-engine/internal/engine"
	"yield-engine/internal/store"
	"yield-engine/market"
)

// Lifecycle 生命周期接口
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop() error
	Health() error
}

// LifecycleManager 按注册顺序启动，逆序停止
type LifecycleManager struct {
	components []Lifecycle
	names      []string
	mu         sync.RWMutex
}

func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{}
}

// Register 注册组件
func (m *LifecycleManager) Register(name string, component Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component)
	m.names = append(m.names, name)
}

// StartAll 按顺序启动；任一失败则逆序停止已启动的组件
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, component := range m.components {
		if err := component.Start(ctx); err != nil {
			var rollback error
			for j := i - 1; j >= 0; j-- {
				rollback = multierr.Append(rollback, m.components[j].Stop())
			}
			return multierr.Combine(fmt.Errorf("start %s: %w", m.names[i], err), rollback)
		}
	}
	return nil
}

// StopAll 逆序停止所有组件，汇总全部错误
func (m *LifecycleManager) StopAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs error
	for i := len(m.components) - 1; i >= 0; i-- {
		if err := m.components[i].Stop(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stop %s: %w", m.names[i], err))
		}
	}
	return errs
}

// CheckHealth 检查所有组件健康状态
func (m *LifecycleManager) CheckHealth() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs error
	for i, component := range m.components {
		if err := component.Health(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s unhealthy: %w", m.names[i], err))
		}
	}
	return errs
}

// httpServerComponent HTTP服务器组件
type httpServerComponent struct {
	name    string
	handler http.Handler
	addr    string
	logger  *logger.Logger
	server  *http.Server
	started bool
	mu      sync.Mutex
}

func (h *httpServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return nil
	}

	srv := &http.Server{
		Addr:              h.addr,
		Handler:           h.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	h.server = srv

	go func() {
		h.logger.Info("http server listening", zap.String("component", h.name), zap.String("addr", h.addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.LogError(err, map[string]interface{}{
				"component": h.name,
				"action":    "listen",
			})
		}
	}()

	h.started = true
	return nil
}

func (h *httpServerComponent) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started || h.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", h.name, err)
	}
	h.logger.Info("http server stopped", zap.String("component", h.name))
	h.started = false
	return nil
}

func (h *httpServerComponent) Health() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return fmt.Errorf("%s not started", h.name)
	}
	return nil
}

// sinkComponent 停止时排空异步队列
type sinkComponent struct {
	sink *store.AsyncSink
}

func (s *sinkComponent) Start(context.Context) error { return nil }
func (s *sinkComponent) Stop() error                 { return s.sink.Close() }
func (s *sinkComponent) Health() error               { return nil }

// hubComponent 遥测广播与协议状态转发
type hubComponent struct {
	hub    *telemetry.Hub
	pub    *market.Publisher
	cancel context.CancelFunc
}

func (h *hubComponent) Start(ctx context.Context) error {
	ctx, h.cancel = context.WithCancel(ctx)
	go h.hub.Run(ctx)
	go h.hub.Follow(ctx, h.pub.SubscribeState())
	return nil
}

func (h *hubComponent) Stop() error {
	if h.cancel != nil {
		h.cancel()
	}
	return h.hub.Close()
}

func (h *hubComponent) Health() error { return nil }

// statusHandler 状态查询接口
func statusHandler(o *engine.Orchestrator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(o.Status())
	})
}
