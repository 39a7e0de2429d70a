package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		BrokerCallsTotal, BrokerCallDuration, BrokerRetriesTotal,
		CacheRequestsTotal,
	)
}

// 代理调用结果标签
const (
	OutcomeSuccess  = "success"
	OutcomeCacheHit = "cache_hit"
	OutcomeFallback = "fallback"
	OutcomeFailure  = "failure"
	OutcomeDisabled = "disabled"
)

// BrokerCallsTotal 代理调用总数（按服务、方法、结果）
var BrokerCallsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "medqa_broker_calls_total",
		Help: "代理调用总数",
	},
	[]string{"service", "method", "outcome"},
)

// BrokerCallDuration 一次逻辑调用耗时（含重试与退避，秒）
var BrokerCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "medqa_broker_call_duration_seconds",
		Help:    "代理调用耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"service", "method"},
)

// BrokerRetriesTotal 重试次数（不含首次）
var BrokerRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "medqa_broker_retries_total",
		Help: "代理重试次数",
	},
	[]string{"service"},
)

// CacheRequestsTotal 各层缓存命中情况
var CacheRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "medqa_cache_requests_total",
		Help: "缓存查询次数",
	},
	[]string{"layer", "result"}, // layer: broker | time | memory; result: hit | miss
)

// ObserveCache 记录一次缓存查询
func ObserveCache(layer string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheRequestsTotal.WithLabelValues(layer, result).Inc()
}

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
