package control

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"yield-engine/infrastructure/logger"
	"yield-engine/model"
	"yield-engine/strategy"
)

// 请求类型
const (
	KindDeposit  = string(strategy.RequestDeposit)
	KindWithdraw = string(strategy.RequestWithdraw)
	KindStop     = "stop"
)

const (
	doneSuffix     = ".done"
	rejectedSuffix = ".rejected"
)

// Request 控制目录中的一个请求文件
type Request struct {
	ID     string  `yaml:"id"`
	Type   string  `yaml:"type"`
	Amount float64 `yaml:"amount"`
}

// Target 请求的接收方（编排器）
type Target interface {
	Enqueue(req strategy.Request) string
	Stop()
}

// ParseRequest 解析并校验请求
func ParseRequest(raw []byte) (Request, error) {
	var req Request
	if err := yaml.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("%w: decode request: %v", model.ErrConfigInvalid, err)
	}
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	switch req.Type {
	case KindDeposit, KindWithdraw:
		if req.Amount <= 0 {
			return req, fmt.Errorf("%w: %s amount must be positive, got %v", model.ErrConfigInvalid, req.Type, req.Amount)
		}
	case KindStop:
	default:
		return req, fmt.Errorf("%w: unknown request type %q", model.ErrConfigInvalid, req.Type)
	}
	return req, nil
}

// Watcher 监听控制目录，把新出现的 *.yaml 请求投递给编排器，处理后改名为 *.done。
// 编排器只在 tick 之间取出请求。
type Watcher struct {
	dir     string
	target  Target
	log     *logger.Logger
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	handled  int
	stopChan chan struct{}
	doneChan chan struct{}
	started  bool
}

func NewWatcher(dir string, target Target, log *logger.Logger) (*Watcher, error) {
	if dir == "" {
		return nil, errors.New("control dir is empty")
	}
	if log == nil {
		log = logger.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create control dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		dir:      dir,
		target:   target,
		log:      log,
		watcher:  fw,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start 处理目录中已有的请求，然后开始监听
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch control dir: %w", err)
	}
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()

	w.scan()
	go w.watch(ctx)
	return nil
}

// Stop 停止监听；可重复调用
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	select {
	case <-w.stopChan:
		w.mu.Unlock()
		return nil
	default:
		close(w.stopChan)
	}
	w.mu.Unlock()

	if started {
		select {
		case <-w.doneChan:
		case <-time.After(time.Second):
		}
	}
	return w.watcher.Close()
}

// Health 监听协程是否仍在运行
func (w *Watcher) Health() error {
	select {
	case <-w.doneChan:
		return errors.New("control watcher stopped")
	default:
		return nil
	}
}

// Handled 已处理的请求文件数
func (w *Watcher) Handled() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.handled
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneChan)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 && isRequestFile(event.Name) {
				w.handle(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("control watcher error", zap.Error(err))
		}
	}
}

func isRequestFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yaml" || ext == ".yml"
}

func (w *Watcher) scan() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Warn("control dir scan failed", zap.Error(err))
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isRequestFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	// 按文件名顺序投递
	sort.Strings(names)
	for _, name := range names {
		w.handle(filepath.Join(w.dir, name))
	}
}

func (w *Watcher) handle(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		// 已被处理并改名
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		w.log.Warn("read control request failed", zap.String("file", path), zap.Error(err))
		return
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		// 文件尚未写完，等待后续 Write 事件
		return
	}

	req, err := ParseRequest(raw)
	if err != nil {
		w.log.LogError(err, map[string]interface{}{"action": "control_request", "file": path})
		w.finish(path, rejectedSuffix)
		return
	}

	if req.Type == KindStop {
		w.target.Stop()
		w.log.Info("stop requested", zap.String("file", path))
	} else {
		id := w.target.Enqueue(strategy.Request{
			ID:     req.ID,
			Kind:   strategy.RequestKind(req.Type),
			Amount: req.Amount,
		})
		w.log.Info("control request delivered",
			zap.String("file", path),
			zap.String("request_id", id),
			zap.String("type", req.Type),
			zap.Float64("amount", req.Amount))
	}
	w.finish(path, doneSuffix)
}

func (w *Watcher) finish(path, suffix string) {
	if err := os.Rename(path, path+suffix); err != nil {
		w.log.Warn("rename control request failed", zap.String("file", path), zap.Error(err))
	}
	w.mu.Lock()
	w.handled++
	w.mu.Unlock()
}
