package diag

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry: 进程内私有指标注册表（不含默认 Go 运行时采集器）。
var Registry = prometheus.NewRegistry()

var (
	opTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "fp",
		Name:      "op_total",
		Help:      "Operations by component, stage and result (success|error|passthrough|dropped).",
	}, []string{"comp", "stage", "result"})

	errorTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "fp",
		Name:      "error_total",
		Help:      "Errors by component and classification code.",
	}, []string{"comp", "code"})

	opDuration = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fp",
		Name:      "op_duration_seconds",
		Help:      "Stage durations.",
		Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
	}, []string{"comp", "stage"})
)

// IncOp 累加操作计数。
func IncOp(comp, stage, result string) {
	opTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数。
func IncError(comp string, code Code) {
	errorTotal.WithLabelValues(comp, string(code)).Inc()
}

// ObserveDuration 记录阶段耗时。
func ObserveDuration(comp, stage string, d time.Duration) {
	opDuration.WithLabelValues(comp, stage).Observe(d.Seconds())
}

// WriteTextfile 以 Prometheus 文本格式原子写出全部指标（node_exporter textfile 约定）。
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}

// OpCounter 返回预先解析标签的计数器，供逐 token 热路径使用。
func OpCounter(comp, stage, result string) prometheus.Counter {
	return opTotal.WithLabelValues(comp, stage, result)
}
