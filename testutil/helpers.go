// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数和断言
//
// 使用方法:
//
//	results := testutil.CollectResults(t, resp)
//	testutil.AssertEventuallyTrue(t, func() bool { return condition }, 5*time.Second)
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/BaSui01/catalogflow/catalog"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 📦 查询响应辅助
// =============================================================================

// CollectResults 读取响应直到关闭，返回全部结果
func CollectResults(t testing.TB, resp *catalog.QueryResponse) []catalog.Result {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out []catalog.Result
	for {
		r, ok, err := resp.Next(ctx)
		if err != nil {
			t.Fatalf("response was not closed in time: %v", err)
		}
		if !ok {
			return out
		}
		out = append(out, r)
	}
}

// ResultIDs 提取结果的 Metacard ID
func ResultIDs(results []catalog.Result) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		if r.Metacard != nil {
			ids[i] = r.Metacard.ID
		}
	}
	return ids
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertEventuallyTrue 断言条件最终为真
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()

	if !WaitFor(condition, timeout) {
		t.Error("condition was not satisfied within timeout")
	}
}

// AssertJSONEqual 断言两个值的 JSON 表示相等
func AssertJSONEqual(t *testing.T, expected, actual any) {
	t.Helper()

	if MustJSON(expected) != MustJSON(actual) {
		t.Errorf("JSON mismatch:\nexpected: %s\nactual:   %s", MustJSON(expected), MustJSON(actual))
	}
}

// =============================================================================
// ⏳ 等待辅助
// =============================================================================

// WaitFor 轮询等待条件满足
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return condition()
}

// =============================================================================
// 🔧 数据辅助
// =============================================================================

// MustJSON 序列化为 JSON 字符串，失败时 panic
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
