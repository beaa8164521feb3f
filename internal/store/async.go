package store

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"yield-engine/infrastructure/logger"
)

type job struct {
	event  *Event
	runID  string
	result []byte
}

// AsyncSink 有界队列 + 单个写协程。队列满时丢弃事件并计数，结果写入不丢弃。
type AsyncSink struct {
	backend Backend
	log     *logger.Logger
	onDrop  func()

	queue chan job
	wg    sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewAsyncSink 创建并启动写协程；onDrop 可为 nil
func NewAsyncSink(backend Backend, size int, log *logger.Logger, onDrop func()) *AsyncSink {
	if size <= 0 {
		size = 1024
	}
	if log == nil {
		log = logger.NewNop()
	}
	s := &AsyncSink{
		backend: backend,
		log:     log,
		onDrop:  onDrop,
		queue:   make(chan job, size),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

func (s *AsyncSink) loop() {
	defer s.wg.Done()
	for j := range s.queue {
		var err error
		if j.event != nil {
			err = s.backend.WriteEvent(*j.event)
		} else {
			err = s.backend.WriteResult(j.runID, j.result)
		}
		if err != nil {
			s.log.Warn("sink write failed", zap.Error(err))
		}
	}
}

// LogEvent 非阻塞入队
func (s *AsyncSink) LogEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- job{event: &ev}:
	default:
		s.dropped++
		if s.onDrop != nil {
			s.onDrop()
		}
	}
}

// StoreResult 序列化后入队；结果只在运行结束时写一次，允许阻塞等待队列空位
func (s *AsyncSink) StoreResult(runID string, result interface{}) {
	payload, err := json.Marshal(result)
	if err != nil {
		s.log.Error("marshal run result failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue <- job{runID: runID, result: payload}
}

// Dropped 丢弃的事件数
func (s *AsyncSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close 停止接收、写完队列并关闭后端
func (s *AsyncSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
	return s.backend.Close()
}
