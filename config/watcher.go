// 配置文件变更监听器实现。
//
// 通过轮询文件修改时间与大小检测变更，经防抖合并后触发回调。
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileWatcher polls configuration files and reports changes.
type FileWatcher struct {
	mu sync.RWMutex

	// 配置
	paths         []string
	pollInterval  time.Duration
	debounceDelay time.Duration

	// 状态
	running bool
	stop    chan struct{}
	done    chan struct{}
	states  map[string]fileState

	// 回调
	callbacks []func(event FileEvent)

	logger *zap.Logger
}

type fileState struct {
	modTime time.Time
	size    int64
}

// FileEvent represents a file change event
type FileEvent struct {
	// 变更的文件路径
	Path string `json:"path"`
	// 操作类型
	Op FileOp `json:"op"`
	// 检测到变更的时间
	Timestamp time.Time `json:"timestamp"`
}

// FileOp represents file operation types
type FileOp int

const (
	// FileOpCreate 表示文件已创建
	FileOpCreate FileOp = iota
	// FileOpWrite 表示文件已被修改
	FileOpWrite
	// FileOpRemove 表示文件已被删除
	FileOpRemove
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// --- 文件监听器选项 ---

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithDebounceDelay sets how long events are coalesced before dispatch.
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.debounceDelay = d
	}
}

// WithPollInterval sets how often files are checked.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.pollInterval = d
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		w.logger = logger
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher creates a watcher for paths. Paths that do not exist yet are
// watched for creation.
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		pollInterval:  time.Second,
		debounceDelay: 100 * time.Millisecond,
		states:        make(map[string]fileState),
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(w)
	}
	if w.pollInterval <= 0 {
		w.pollInterval = time.Second
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"))

	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
		}
		if _, err := os.Stat(abs); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to stat path %s: %w", path, err)
			}
			w.logger.Warn("config file does not exist, will watch for creation", zap.String("path", abs))
		}
		w.paths = append(w.paths, abs)
	}

	return w, nil
}

// OnChange registers a callback for file change events
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins polling. It returns an error if the watcher is already running.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	for _, path := range w.paths {
		if st, ok := statFile(path); ok {
			w.states[path] = st
		}
	}

	go w.loop(ctx, w.stop, w.done)

	w.logger.Info("file watcher started",
		zap.Strings("paths", w.paths),
		zap.Duration("poll_interval", w.pollInterval),
		zap.Duration("debounce_delay", w.debounceDelay))

	return nil
}

// Stop stops the watcher and waits for the polling goroutine to exit.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stop)
	done := w.done
	w.mu.Unlock()

	<-done
	w.logger.Info("file watcher stopped")
	return nil
}

func (w *FileWatcher) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	pending := make(map[string]FileEvent)
	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			return
		case <-stop:
			return
		case <-ticker.C:
			events := w.checkFiles()
			if len(events) == 0 {
				continue
			}
			for _, e := range events {
				pending[e.Path] = e
			}
			debounce = time.After(w.debounceDelay)
		case <-debounce:
			debounce = nil
			w.dispatch(pending)
			pending = make(map[string]FileEvent)
		}
	}
}

// checkFiles compares the current state of every path against the last seen state.
func (w *FileWatcher) checkFiles() []FileEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	var events []FileEvent
	for _, path := range w.paths {
		st, exists := statFile(path)
		last, tracked := w.states[path]
		switch {
		case !exists && tracked:
			delete(w.states, path)
			events = append(events, FileEvent{Path: path, Op: FileOpRemove, Timestamp: now})
		case exists && !tracked:
			w.states[path] = st
			events = append(events, FileEvent{Path: path, Op: FileOpCreate, Timestamp: now})
		case exists && st != last:
			w.states[path] = st
			events = append(events, FileEvent{Path: path, Op: FileOpWrite, Timestamp: now})
		}
	}
	return events
}

func (w *FileWatcher) dispatch(events map[string]FileEvent) {
	w.mu.RLock()
	callbacks := make([]func(FileEvent), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, evt := range events {
		w.logger.Debug("dispatching file event",
			zap.String("path", evt.Path),
			zap.String("op", evt.Op.String()))
		for _, cb := range callbacks {
			cb(evt)
		}
	}
}

// Paths returns the list of watched paths
func (w *FileWatcher) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	paths := make([]string, len(w.paths))
	copy(paths, w.paths)
	return paths
}

// IsRunning returns whether the watcher is running
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func statFile(path string) (fileState, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return fileState{}, false
	}
	return fileState{modTime: info.ModTime(), size: info.Size()}, true
}
