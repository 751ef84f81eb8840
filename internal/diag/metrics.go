package diag

import (
	"github.com/prometheus/client_golang/prometheus"
)

// 进程级指标（独立 Registry，不污染默认全局注册表）：
// - llmdoc_op_total{comp,stage,result}
// - llmdoc_error_total{comp,code}
// - llmdoc_op_duration_ms{comp,stage}
// - llmdoc_budget_shrink_total{phase}
var (
	registry = prometheus.NewRegistry()

	opTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llmdoc_op_total",
		Help: "Operations by component, stage and result.",
	}, []string{"comp", "stage", "result"})

	errorTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llmdoc_error_total",
		Help: "Errors by component and classified code.",
	}, []string{"comp", "code"})

	opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llmdoc_op_duration_ms",
		Help:    "Stage duration in milliseconds.",
		Buckets: []float64{10, 50, 100, 500, 1000, 5000, 15000, 60000, 300000},
	}, []string{"comp", "stage"})

	budgetShrink = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llmdoc_budget_shrink_total",
		Help: "Times the shared completion budget was lowered.",
	}, []string{"phase"})
)

func init() {
	registry.MustRegister(opTotal, errorTotal, opDuration, budgetShrink)
}

// Registry 返回进程级指标注册表。
func Registry() *prometheus.Registry { return registry }

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) { opTotal.WithLabelValues(comp, stage, result).Inc() }

// IncError 按分类累加错误计数。
func IncError(comp, code string) { errorTotal.WithLabelValues(comp, code).Inc() }

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// IncBudgetShrink 记录一次共享输出预算下调。
func IncBudgetShrink(phase string) { budgetShrink.WithLabelValues(phase).Inc() }

// WriteTextfile 以文本暴露格式写出全部指标（原子替换）。
func WriteTextfile(path string) error { return prometheus.WriteToTextfile(path, registry) }
