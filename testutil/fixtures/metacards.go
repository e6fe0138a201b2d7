// Package fixtures 提供测试用的预置 Metacard 与结果集。
package fixtures

import (
	"fmt"
	"time"

	"github.com/BaSui01/catalogflow/catalog"
)

// BaseTime 是预置数据的时间基准
var BaseTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Metacard 创建带基本字段的 Metacard
func Metacard(sourceID, id string) *catalog.Metacard {
	created := BaseTime
	return &catalog.Metacard{
		ID:          id,
		SourceID:    sourceID,
		Title:       "Record " + id,
		ContentType: "application/json",
		Created:     &created,
		Modified:    &created,
		Effective:   &created,
	}
}

// Results 为 sourceID 创建 n 个结果，相关度依次递减（1.0, 0.9, ...），
// effective 时间依次递增一小时
func Results(sourceID string, n int) []catalog.Result {
	out := make([]catalog.Result, n)
	for i := 0; i < n; i++ {
		mc := Metacard(sourceID, fmt.Sprintf("%s-%d", sourceID, i+1))
		eff := BaseTime.Add(time.Duration(i) * time.Hour)
		mc.Effective = &eff
		out[i] = catalog.Result{
			Metacard:       mc,
			RelevanceScore: catalog.Float64(1.0 - float64(i)/10),
		}
	}
	return out
}

// ScoredResult 创建指定相关度的结果
func ScoredResult(sourceID, id string, score float64) catalog.Result {
	return catalog.Result{Metacard: Metacard(sourceID, id), RelevanceScore: catalog.Float64(score)}
}

// Located 创建带坐标的 Metacard
func Located(sourceID, id string, lat, lon float64) *catalog.Metacard {
	mc := Metacard(sourceID, id)
	mc.Location = &catalog.Point{Lat: lat, Lon: lon}
	return mc
}
