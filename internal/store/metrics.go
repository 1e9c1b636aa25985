package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

/*
metrics 规则存储指标
*/
type metrics struct {
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
	enabled  prometheus.Gauge
	total    prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &metrics{
		ops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portfwd",
			Subsystem: "rule_store",
			Name:      "operations_total",
			Help:      "规则存储操作次数",
		}, []string{"op", "result"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "portfwd",
			Subsystem: "rule_store",
			Name:      "operation_duration_seconds",
			Help:      "规则存储操作耗时",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op"}),
		enabled: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "portfwd",
			Subsystem: "rule_store",
			Name:      "enabled_rules",
			Help:      "最近一次读取时已启用的规则数",
		}),
		total: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "portfwd",
			Subsystem: "rule_store",
			Name:      "rules",
			Help:      "最近一次读取时的规则总数",
		}),
	}
}

/*
observe 记录一次操作的结果与耗时
*/
func (m *metrics) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = FromError(err).String()
	}
	m.ops.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
