// =============================================================================
// 文件: internal/metrics/gauges.go
// 描述: 应用层实时埋点（Counter/Histogram）- 每条消息的方向与大小
// =============================================================================
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// 消息方向
const (
	DirectionSend = "send"
	DirectionRecv = "recv"
)

// AppMetrics 应用层指标集合
type AppMetrics struct {
	Messages     *prometheus.CounterVec
	MessageBytes *prometheus.HistogramVec
	Errors       *prometheus.CounterVec
}

// NewAppMetrics 创建指标集合并注册到 registry
func NewAppMetrics(registry prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "messages_total",
			Help:      "Application messages passed to Send or returned by Recv",
		}, []string{"direction"}),

		MessageBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "message_bytes",
			Help:      "Application message size in bytes",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 8), // 16B .. 256KB
		}, []string{"direction"}),

		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "errors_total",
			Help:      "Application level errors",
		}, []string{"type"}),
	}

	if registry != nil {
		registry.MustRegister(m.Messages, m.MessageBytes, m.Errors)
	}
	return m
}

// RecordMessage 记录一条消息
func (m *AppMetrics) RecordMessage(direction string, size int) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(direction).Inc()
	m.MessageBytes.WithLabelValues(direction).Observe(float64(size))
}

// RecordError 记录错误
func (m *AppMetrics) RecordError(errorType string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(errorType).Inc()
}
