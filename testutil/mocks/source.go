// MockSource 是 catalog.Source 的测试模拟实现。
//
// 支持固定结果、延迟、错误注入、阻塞直到取消以及调用记录。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/catalogflow/catalog"
)

// MockSource 是可脚本化的数据源
type MockSource struct {
	id string

	mu        sync.Mutex
	results   []catalog.Result
	hits      int64
	hitsSet   bool
	err       error
	delay     time.Duration
	block     bool
	available bool
	details   []catalog.ProcessingDetail
	queryFunc func(ctx context.Context, req *catalog.QueryRequest) (*catalog.SourceResponse, error)
	calls     []*catalog.QueryRequest
	cancelled int
}

// NewMockSource 创建新的 MockSource
func NewMockSource(id string) *MockSource {
	return &MockSource{id: id, available: true}
}

// WithResults 设置返回结果
func (m *MockSource) WithResults(results ...catalog.Result) *MockSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = results
	return m
}

// WithHits 设置上报的命中数，默认等于结果数
func (m *MockSource) WithHits(hits int64) *MockSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits = hits
	m.hitsSet = true
	return m
}

// WithError 设置返回错误
func (m *MockSource) WithError(err error) *MockSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay 设置响应延迟，延迟期间尊重 ctx 取消
func (m *MockSource) WithDelay(d time.Duration) *MockSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithBlock 使查询阻塞直到 ctx 被取消
func (m *MockSource) WithBlock() *MockSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block = true
	return m
}

// WithAvailability 设置 IsAvailable 的返回值
func (m *MockSource) WithAvailability(available bool) *MockSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = available
	return m
}

// WithProcessingDetails 设置数据源自带的诊断信息
func (m *MockSource) WithProcessingDetails(details ...catalog.ProcessingDetail) *MockSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.details = details
	return m
}

// WithQueryFunc 设置自定义查询函数，优先于其它配置
func (m *MockSource) WithQueryFunc(fn func(ctx context.Context, req *catalog.QueryRequest) (*catalog.SourceResponse, error)) *MockSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryFunc = fn
	return m
}

// ID 返回数据源 ID
func (m *MockSource) ID() string { return m.id }

// IsAvailable 实现 catalog.AvailabilityChecker
func (m *MockSource) IsAvailable(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// Describe 实现 catalog.Describer
func (m *MockSource) Describe() catalog.SourceDescriptor {
	return catalog.SourceDescriptor{ID: m.id, Kind: "mock", Title: "Mock " + m.id}
}

// Query 实现 catalog.Source
func (m *MockSource) Query(ctx context.Context, req *catalog.QueryRequest) (*catalog.SourceResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	fn := m.queryFunc
	delay, block, err := m.delay, m.block, m.err
	results := append([]catalog.Result(nil), m.results...)
	hits := int64(len(results))
	if m.hitsSet {
		hits = m.hits
	}
	details := append([]catalog.ProcessingDetail(nil), m.details...)
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	if block {
		<-ctx.Done()
		m.markCancelled()
		return nil, ctx.Err()
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			m.markCancelled()
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &catalog.SourceResponse{Results: results, Hits: hits, ProcessingDetails: details}, nil
}

func (m *MockSource) markCancelled() {
	m.mu.Lock()
	m.cancelled++
	m.mu.Unlock()
}

// Calls 返回收到的请求
func (m *MockSource) Calls() []*catalog.QueryRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*catalog.QueryRequest(nil), m.calls...)
}

// CallCount 返回调用次数
func (m *MockSource) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Cancelled 返回因 ctx 取消而中止的调用次数
func (m *MockSource) Cancelled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}
