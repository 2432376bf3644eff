// Package server Prometheus 指标导出
package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"labflow-admin/internal/runctl"
	"labflow-admin/internal/timeline"
)

// Metrics 包含所有 API Server 指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// 时间线指标
	TimelineCompilesTotal   *prometheus.CounterVec
	TimelineCompileDuration prometheus.Histogram
	TimelineTicksTotal      prometheus.Counter
	TimelineTickDuration    prometheus.Histogram
	TimelineSessionsActive  prometheus.Gauge

	// run 控制命令指标
	RunCommandsTotal   *prometheus.CounterVec
	RunCommandDuration *prometheus.HistogramVec

	// run 事件指标
	RunEventsTotal *prometheus.CounterVec

	// WebSocket 指标
	WSConnectionsActive prometheus.Gauge
	WSMessagesTotal     *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics 创建指标实例并注册到 reg
//
// reg 为 nil 时创建独立的 Registry（测试中可重复创建）。
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		TimelineCompilesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "timeline_compiles_total",
				Help:      "Timeline compilations by result",
			},
			[]string{"result"},
		),
		TimelineCompileDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "timeline_compile_duration_seconds",
				Help:      "Timeline compilation duration in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
		TimelineTicksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "timeline_ticks_total",
				Help:      "Total timeline clock ticks processed",
			},
		),
		TimelineTickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "timeline_tick_duration_seconds",
				Help:      "Time spent projecting one tick",
				Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
			},
		),
		TimelineSessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "timeline_sessions_active",
				Help:      "Active live timeline sessions",
			},
		),
		RunCommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "run_commands_total",
				Help:      "Run control commands by op and result",
			},
			[]string{"op", "result"},
		),
		RunCommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_command_duration_seconds",
				Help:      "Run manager request duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"op"},
		),
		RunEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "run_events_total",
				Help:      "Run events consumed from the event bus",
			},
			[]string{"type"},
		),
		WSConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_connections_active",
				Help:      "Active WebSocket connections",
			},
		),
		WSMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_messages_total",
				Help:      "Total WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}
}

// MetricsMiddleware 创建 HTTP 指标中间件
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		// 包装 ResponseWriter 以捕获状态码
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter 包装 http.ResponseWriter 以捕获状态码
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath 规范化路径，将 ID 替换为占位符，避免高基数
//
//	/api/v1/workflows/wf-1/timeline -> /api/v1/workflows/{id}/timeline
//	/api/v1/runs/r1/tasks/B/skip    -> /api/v1/runs/{id}/tasks/{id}/skip
func normalizePath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 4 || parts[0] != "api" || parts[1] != "v1" {
		return path
	}
	switch parts[2] {
	case "workflows", "workcells", "runs":
	default:
		return path
	}
	// 集合下的固定子路由保持原样
	switch parts[3] {
	case "validate", "import", "active":
		return path
	}
	parts[3] = "{id}"
	if len(parts) >= 6 && parts[4] == "tasks" {
		parts[5] = "{id}"
	}
	return "/" + strings.Join(parts, "/")
}

// Handler 返回 Prometheus HTTP Handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCompile 记录一次时间线编译
func (m *Metrics) ObserveCompile(err error, elapsed time.Duration) {
	result := "ok"
	switch {
	case errors.Is(err, timeline.ErrCyclicDependency):
		result = "cycle"
	case err != nil:
		result = "error"
	}
	m.TimelineCompilesTotal.WithLabelValues(result).Inc()
	m.TimelineCompileDuration.Observe(elapsed.Seconds())
}

// ObserveTick 记录一次时间线 tick（timeline.TickObserver）
func (m *Metrics) ObserveTick(_ timeline.Frame, elapsed time.Duration) {
	m.TimelineTicksTotal.Inc()
	m.TimelineTickDuration.Observe(elapsed.Seconds())
}

// ObserveCommand 记录一次 run 控制命令（runctl.ResultHook）
func (m *Metrics) ObserveCommand(op runctl.Op, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.RunCommandsTotal.WithLabelValues(string(op), result).Inc()
	m.RunCommandDuration.WithLabelValues(string(op)).Observe(elapsed.Seconds())
}

// RecordRunEvent 记录消费的 run 事件
func (m *Metrics) RecordRunEvent(eventType string) {
	m.RunEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordWSMessage 记录 WebSocket 消息
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessagesTotal.WithLabelValues(direction, msgType).Inc()
}

// WSConnectionOpened WebSocket 连接打开
func (m *Metrics) WSConnectionOpened() {
	m.WSConnectionsActive.Inc()
	m.TimelineSessionsActive.Inc()
}

// WSConnectionClosed WebSocket 连接关闭
func (m *Metrics) WSConnectionClosed() {
	m.WSConnectionsActive.Dec()
	m.TimelineSessionsActive.Dec()
}
