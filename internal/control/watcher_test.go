package control

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yield-engine/model"
	"yield-engine/strategy"
)

type fakeTarget struct {
	mu       sync.Mutex
	requests []strategy.Request
	stopped  bool
}

func (f *fakeTarget) Enqueue(req strategy.Request) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.ID == "" {
		req.ID = "generated"
	}
	f.requests = append(f.requests, req)
	return req.ID
}

func (f *fakeTarget) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeTarget) snapshot() ([]strategy.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]strategy.Request(nil), f.requests...), f.stopped
}

// drop 先写临时文件再改名，模拟原子投递
func drop(t *testing.T, dir, name, body string) {
	t.Helper()
	tmp := filepath.Join(dir, name+".tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(body), 0o644))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, name)))
}

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest([]byte("type: Deposit\namount: 5000\n"))
	require.NoError(t, err)
	assert.Equal(t, KindDeposit, req.Type)
	assert.Equal(t, 5000.0, req.Amount)

	_, err = ParseRequest([]byte("type: stop\n"))
	assert.NoError(t, err)

	for _, raw := range []string{"type: withdraw\namount: 0\n", "type: rebalance\n", "type: [\n"} {
		_, err := ParseRequest([]byte(raw))
		assert.ErrorIs(t, err, model.ErrConfigInvalid, raw)
	}
}

func TestWatcherProcessesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("type: withdraw\namount: 10\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("id: dep-1\ntype: deposit\namount: 20\n"), 0o644))

	target := &fakeTarget{}
	w, err := NewWatcher(dir, target, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	reqs, _ := target.snapshot()
	require.Len(t, reqs, 2)
	assert.Equal(t, "dep-1", reqs[0].ID)
	assert.Equal(t, strategy.RequestDeposit, reqs[0].Kind)
	assert.Equal(t, strategy.RequestWithdraw, reqs[1].Kind)
	assert.FileExists(t, filepath.Join(dir, "a.yaml.done"))
	assert.FileExists(t, filepath.Join(dir, "b.yaml.done"))
}

func TestWatcherDeliversNewRequests(t *testing.T) {
	dir := t.TempDir()
	target := &fakeTarget{}
	w, err := NewWatcher(dir, target, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	drop(t, dir, "dep.yaml", "type: deposit\namount: 1000\n")
	require.Eventually(t, func() bool {
		reqs, _ := target.snapshot()
		return len(reqs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	drop(t, dir, "bad.yaml", "type: withdraw\namount: -5\n")
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "bad.yaml.rejected"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	drop(t, dir, "halt.yaml", "type: stop\n")
	require.Eventually(t, func() bool {
		_, stopped := target.snapshot()
		return stopped
	}, 2*time.Second, 10*time.Millisecond)

	reqs, _ := target.snapshot()
	assert.Len(t, reqs, 1, "rejected request is not delivered")
	assert.Equal(t, 1000.0, reqs[0].Amount)
	assert.FileExists(t, filepath.Join(dir, "dep.yaml.done"))
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), &fakeTarget{}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
	assert.Error(t, w.Health())
}
