package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 串口主控业务指标
type AppMetrics struct {
	SerialBytesReceived prometheus.Counter
	SerialBytesSent     prometheus.Counter
	// SerialWritesDropped 未连接时被丢弃的写入
	SerialWritesDropped prometheus.Counter
	FramesSent          prometheus.Counter
	FramesReceived      prometheus.Counter
	// DecodeErrors labels: reason
	DecodeErrors *prometheus.CounterVec
	// CommandsTotal labels: command, result=ok|error
	CommandsTotal *prometheus.CounterVec
	// MasterState 0 wait_init, 1 connected, 2 disconnected
	MasterState         prometheus.Gauge
	FeedbackSubscribers prometheus.Gauge
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		SerialBytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "serial_bytes_received_total",
			Help: "Total bytes read from the serial channel.",
		}),
		SerialBytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "serial_bytes_sent_total",
			Help: "Total bytes written to the serial channel.",
		}),
		SerialWritesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "serial_writes_dropped_total",
			Help: "Writes dropped because no channel was open.",
		}),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mabmgb_frames_sent_total",
			Help: "MAB/MGB packets encoded and queued for transmission.",
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mabmgb_frames_received_total",
			Help: "MAB/MGB packets decoded from the channel.",
		}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mabmgb_decode_errors_total",
			Help: "Inbound frames dropped by reason.",
		}, []string{"reason"}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "master_commands_total",
			Help: "Master commands executed by name and result.",
		}, []string{"command", "result"}),
		MasterState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "master_state",
			Help: "Current master state (0 wait_init, 1 connected, 2 disconnected).",
		}),
		FeedbackSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedback_subscribers",
			Help: "Current number of feedback stream subscribers.",
		}),
	}
	reg.MustRegister(
		m.SerialBytesReceived, m.SerialBytesSent, m.SerialWritesDropped,
		m.FramesSent, m.FramesReceived, m.DecodeErrors,
		m.CommandsTotal, m.MasterState, m.FeedbackSubscribers,
	)
	return m
}

// ObserveCommand 记录一次命令执行结果
func (m *AppMetrics) ObserveCommand(command string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CommandsTotal.WithLabelValues(command, result).Inc()
}
