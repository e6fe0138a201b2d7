// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/catalogflow/federation"
	"github.com/BaSui01/catalogflow/types"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，同时实现 federation.Observer
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 联邦查询指标
	federationsTotal    *prometheus.CounterVec
	federationDuration  *prometheus.HistogramVec
	federationReturned  *prometheus.HistogramVec
	federationFanout    *prometheus.HistogramVec
	federationHitsTotal *prometheus.CounterVec

	// 数据源指标
	sourceQueriesTotal  *prometheus.CounterVec
	sourceQueryDuration *prometheus.HistogramVec
	sourceHitsTotal     *prometheus.CounterVec

	// 摄取指标
	ingestTotal *prometheus.CounterVec

	reg       prometheus.Registerer
	namespace string
	logger    *zap.Logger
}

var _ federation.Observer = (*Collector)(nil)

// NewCollector 创建注册到默认 Registerer 的指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegisterer(prometheus.DefaultRegisterer, namespace, logger)
}

// NewCollectorWithRegisterer 创建注册到指定 Registerer 的指标收集器，
// reg 为 nil 时指标不注册（测试用）
func NewCollectorWithRegisterer(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		reg:       reg,
		namespace: namespace,
		logger:    logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 联邦查询指标
	c.federationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "federated_queries_total",
			Help:      "Total number of federated queries",
		},
		[]string{"strategy", "outcome"}, // outcome: complete, partial
	)

	c.federationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "federated_query_duration_seconds",
			Help:      "Federated query duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"strategy"},
	)

	c.federationReturned = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "federated_results_returned",
			Help:      "Results returned per federated query",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"strategy"},
	)

	c.federationFanout = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "federated_query_sources",
			Help:      "Sources queried per federated query",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"strategy"},
	)

	c.federationHitsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "federated_hits_total",
			Help:      "Total hits reported across federated queries",
		},
		[]string{"strategy"},
	)

	// 数据源指标
	c.sourceQueriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_queries_total",
			Help:      "Total number of per-source queries",
		},
		[]string{"source", "status"}, // status: success, error, timeout
	)

	c.sourceQueryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_query_duration_seconds",
			Help:      "Per-source query duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"source"},
	)

	c.sourceHitsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_hits_total",
			Help:      "Total hits reported by each source",
		},
		[]string{"source"},
	)

	c.ingestTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_metacards_total",
			Help:      "Total number of metacards ingested",
		},
		[]string{"source", "status"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🌐 联邦查询指标记录
// =============================================================================

// SourceCompleted 记录单个数据源的查询结果
func (c *Collector) SourceCompleted(ev federation.SourceEvent) {
	status := "success"
	switch {
	case ev.TimedOut || types.IsErrorCode(ev.Err, types.ErrTimeout):
		status = "timeout"
	case ev.Err != nil:
		status = "error"
	}
	c.sourceQueriesTotal.WithLabelValues(ev.SourceID, status).Inc()
	c.sourceQueryDuration.WithLabelValues(ev.SourceID).Observe(ev.Elapsed.Seconds())
	if ev.Hits > 0 {
		c.sourceHitsTotal.WithLabelValues(ev.SourceID).Add(float64(ev.Hits))
	}
}

// FederationCompleted 记录一次联邦查询
func (c *Collector) FederationCompleted(ev federation.FederationEvent) {
	outcome := "complete"
	if ev.Failed > 0 {
		outcome = "partial"
	}
	c.federationsTotal.WithLabelValues(ev.Strategy, outcome).Inc()
	c.federationDuration.WithLabelValues(ev.Strategy).Observe(ev.Elapsed.Seconds())
	c.federationReturned.WithLabelValues(ev.Strategy).Observe(float64(ev.Returned))
	c.federationFanout.WithLabelValues(ev.Strategy).Observe(float64(ev.Sources))
	if ev.Hits > 0 {
		c.federationHitsTotal.WithLabelValues(ev.Strategy).Add(float64(ev.Hits))
	}
}

// RecordIngest 记录摄取的 Metacard 数量
func (c *Collector) RecordIngest(sourceID string, count int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.ingestTotal.WithLabelValues(sourceID, status).Add(float64(count))
}

// =============================================================================
// 🔌 运行时状态采集
// =============================================================================

// ObserveGauge 注册按需采样的 Gauge，如工作池活跃数、数据库连接数
func (c *Collector) ObserveGauge(name, help string, labels prometheus.Labels, fn func() float64) error {
	return c.register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   c.namespace,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	}, fn))
}

// ObserveCounter 注册按需采样的 Counter，如缓存命中数
func (c *Collector) ObserveCounter(name, help string, labels prometheus.Labels, fn func() float64) error {
	return c.register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   c.namespace,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	}, fn))
}

func (c *Collector) register(col prometheus.Collector) error {
	if c.reg == nil {
		return nil
	}
	if err := c.reg.Register(col); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			c.logger.Debug("metric already registered")
			return nil
		}
		return err
	}
	return nil
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
