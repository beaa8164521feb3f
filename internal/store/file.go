package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileBackend 事件写 JSONL，运行结果写 <results_dir>/<run_id>.json（先写临时文件再 rename）。
type FileBackend struct {
	mu         sync.Mutex
	events     *os.File
	enc        *json.Encoder
	resultsDir string
}

// NewFileBackend eventsPath 或 resultsDir 为空时跳过对应输出
func NewFileBackend(eventsPath, resultsDir string) (*FileBackend, error) {
	b := &FileBackend{resultsDir: resultsDir}
	if eventsPath != "" {
		if err := os.MkdirAll(filepath.Dir(eventsPath), 0o755); err != nil {
			return nil, fmt.Errorf("create events dir: %w", err)
		}
		f, err := os.OpenFile(eventsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open events file: %w", err)
		}
		b.events = f
		b.enc = json.NewEncoder(f)
	}
	if resultsDir != "" {
		if err := os.MkdirAll(resultsDir, 0o755); err != nil {
			return nil, fmt.Errorf("create results dir: %w", err)
		}
	}
	return b, nil
}

func (b *FileBackend) WriteEvent(ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enc == nil {
		return nil
	}
	return b.enc.Encode(ev)
}

func (b *FileBackend) WriteResult(runID string, payload []byte) error {
	if b.resultsDir == "" {
		return nil
	}
	path := filepath.Join(b.resultsDir, runID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return os.Rename(tmp, path)
}

func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.events == nil {
		return nil
	}
	err := b.events.Close()
	b.events, b.enc = nil, nil
	return err
}
