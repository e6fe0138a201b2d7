package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []FileEvent
}

func (r *eventRecorder) record(e FileEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) ops() []FileOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FileOp, len(r.events))
	for i, e := range r.events {
		out[i] = e.Op
	}
	return out
}

func newTestWatcher(t *testing.T, path string) (*FileWatcher, *eventRecorder) {
	t.Helper()
	w, err := NewFileWatcher([]string{path},
		WithPollInterval(10*time.Millisecond),
		WithDebounceDelay(20*time.Millisecond),
		WithWatcherLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)
	rec := &eventRecorder{}
	w.OnChange(rec.record)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	return w, rec
}

func TestNewFileWatcher_Defaults(t *testing.T) {
	f := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(f, []byte("key: val"), 0o644))

	w, err := NewFileWatcher([]string{f})
	require.NoError(t, err)

	assert.Equal(t, []string{f}, w.Paths())
	assert.False(t, w.IsRunning())
	assert.Equal(t, 100*time.Millisecond, w.debounceDelay)
	assert.Equal(t, time.Second, w.pollInterval)
}

func TestNewFileWatcher_NonExistentPath(t *testing.T) {
	w, err := NewFileWatcher([]string{"/nonexistent/path/config.yaml"})
	require.NoError(t, err)
	require.NotNil(t, w)
}

func TestFileWatcher_Lifecycle(t *testing.T) {
	f := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(f, []byte("a"), 0o644))

	w, err := NewFileWatcher([]string{f}, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())
	assert.Error(t, w.Start(context.Background()))

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop())

	// 可以重新启动
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
}

func TestFileWatcher_DetectsWrite(t *testing.T) {
	f := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(f, []byte("a"), 0o644))
	_, rec := newTestWatcher(t, f)

	require.NoError(t, os.WriteFile(f, []byte("changed content"), 0o644))

	assert.Eventually(t, func() bool {
		ops := rec.ops()
		return len(ops) == 1 && ops[0] == FileOpWrite
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileWatcher_DetectsCreateAndRemove(t *testing.T) {
	f := filepath.Join(t.TempDir(), "late.yaml")
	_, rec := newTestWatcher(t, f)

	require.NoError(t, os.WriteFile(f, []byte("a"), 0o644))
	assert.Eventually(t, func() bool {
		ops := rec.ops()
		return len(ops) == 1 && ops[0] == FileOpCreate
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(f))
	assert.Eventually(t, func() bool {
		ops := rec.ops()
		return len(ops) == 2 && ops[1] == FileOpRemove
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileWatcher_ContextCancel(t *testing.T) {
	f := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(f, []byte("a"), 0o644))

	w, err := NewFileWatcher([]string{f}, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool { return !w.IsRunning() }, time.Second, 10*time.Millisecond)
}

func TestFileOp_String(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "UNKNOWN", FileOp(99).String())
}
