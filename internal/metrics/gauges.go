// =============================================================================
// 文件: internal/metrics/gauges.go
// 描述: 实时埋点指标（Counter/Gauge）
// =============================================================================
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// WraithMetrics 全局指标集合
type WraithMetrics struct {
	// 会话相关
	ActiveSessions prometheus.Gauge
	SessionsTotal  *prometheus.CounterVec

	// 消息相关
	MessagesTotal *prometheus.CounterVec
	BytesTotal    *prometheus.CounterVec

	// 重传引擎相关
	FramesReplayed    prometheus.Counter
	DuplicatesDropped prometheus.Counter
	AcksTotal         *prometheus.CounterVec
	PendingFrames     prometheus.Gauge
	BufferedBytes     prometheus.Gauge
	Reconnects        prometheus.Counter
	CloseTimeouts     prometheus.Counter

	// 错误相关
	Errors *prometheus.CounterVec
}

// NewWraithMetrics 创建指标集合
func NewWraithMetrics(registry *prometheus.Registry) *WraithMetrics {
	m := &WraithMetrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wraith",
			Name:      "active_sessions",
			Help:      "Number of active retransmitter sessions",
		}),

		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wraith",
			Name:      "sessions_total",
			Help:      "Total sessions by terminal status",
		}, []string{"status"}),

		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wraith",
			Name:      "messages_total",
			Help:      "Total application messages processed",
		}, []string{"direction"}),

		BytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wraith",
			Name:      "bytes_total",
			Help:      "Total application payload bytes",
		}, []string{"direction"}),

		FramesReplayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wraith",
			Subsystem: "retrans",
			Name:      "frames_replayed_total",
			Help:      "Total frames replayed after reconnect",
		}),

		DuplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wraith",
			Subsystem: "retrans",
			Name:      "duplicates_dropped_total",
			Help:      "Total duplicate inbound frames suppressed",
		}),

		AcksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wraith",
			Subsystem: "retrans",
			Name:      "acks_total",
			Help:      "Total acknowledgement frames",
		}, []string{"direction"}),

		PendingFrames: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wraith",
			Subsystem: "retrans",
			Name:      "pending_frames",
			Help:      "Frames awaiting cumulative acknowledgement",
		}),

		BufferedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wraith",
			Subsystem: "retrans",
			Name:      "buffered_bytes",
			Help:      "Bytes held in the pending buffer",
		}),

		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wraith",
			Subsystem: "retrans",
			Name:      "reconnects_total",
			Help:      "Total automatic transport reconnects",
		}),

		CloseTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wraith",
			Subsystem: "retrans",
			Name:      "close_timeouts_total",
			Help:      "Total sessions terminated by close timeout",
		}),

		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wraith",
			Name:      "errors_total",
			Help:      "Total errors by type",
		}, []string{"type"}),
	}

	// 注册所有指标
	registry.MustRegister(
		m.ActiveSessions,
		m.SessionsTotal,
		m.MessagesTotal,
		m.BytesTotal,
		m.FramesReplayed,
		m.DuplicatesDropped,
		m.AcksTotal,
		m.PendingFrames,
		m.BufferedBytes,
		m.Reconnects,
		m.CloseTimeouts,
		m.Errors,
	)

	return m
}

// RecordSessionOpened 记录会话建立
func (m *WraithMetrics) RecordSessionOpened() {
	m.ActiveSessions.Inc()
}

// RecordSessionClosed 记录会话结束
func (m *WraithMetrics) RecordSessionClosed(status string) {
	m.ActiveSessions.Dec()
	m.SessionsTotal.WithLabelValues(status).Inc()
}

// RecordMessage 记录一条应用消息
func (m *WraithMetrics) RecordMessage(direction string, size int) {
	m.MessagesTotal.WithLabelValues(direction).Inc()
	m.BytesTotal.WithLabelValues(direction).Add(float64(size))
}

// RecordError 记录错误
func (m *WraithMetrics) RecordError(errType string) {
	m.Errors.WithLabelValues(errType).Inc()
}
