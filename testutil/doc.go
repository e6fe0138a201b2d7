/*
Package testutil 提供 catalogflow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 响应辅助: CollectResults / ResultIDs，读取联邦查询的流式响应
  - 异步断言: AssertEventuallyTrue / WaitFor
  - 数据工具: MustJSON / AssertJSONEqual

# 子包

  - testutil/mocks: MockSource，可脚本化的数据源（延迟、失败、阻塞、调用记录）
  - testutil/fixtures: 预置 Metacard 与结果集

# 使用示例

	ctx := testutil.TestContext(t)
	src := mocks.NewMockSource("alpha").WithResults(fixtures.Results("alpha", 4)...)
	resp, err := strategy.Federate(ctx, []catalog.Source{src}, req)
	results := testutil.CollectResults(t, resp)
*/
package testutil
