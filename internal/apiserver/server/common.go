// Package server 组装 API Server：路由、中间件、指标与实时时间线推送
//
// 文件组织：
//   - common.go: Handler 定义与通用工具函数
//   - handler.go: 路由与中间件
//   - metrics.go: Prometheus 指标
//   - openapi.go: OpenAPI 契约校验
//   - runsync.go: run 事件同步
//   - timeline_ws.go: WebSocket 实时时间线
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"labflow-admin/internal/apiserver/run"
	"labflow-admin/internal/apiserver/workflow"
	"labflow-admin/internal/config"
	"labflow-admin/internal/shared/cache"
	"labflow-admin/internal/shared/storage"
)

// Deps Handler 依赖
//
// Cache、Runs、Archive、Sync 可以为空：
//   - Cache 为空时 run 状态只从存储和 run manager 读取
//   - Runs 为空时控制接口返回 503，时间线不轮询 run 状态
//   - Archive 为空时导出/导入返回 503
//   - Sync 为空时时间线只依赖轮询获取状态变化
type Deps struct {
	Store   storage.PersistentStore
	Cache   cache.RunStateCache
	Runs    run.Controller
	Archive workflow.Archive
	Sync    *RunSync
	Metrics *Metrics
	Config  *config.Config
}

// Handler API 处理器
//
// Handler 是所有 HTTP API 的入口，负责：
//   - 路由请求到各领域包（workflow / workcell / run）
//   - 实时时间线 WebSocket
//   - 指标与请求校验中间件
type Handler struct {
	store   storage.PersistentStore
	cache   cache.RunStateCache
	runs    run.Controller
	archive workflow.Archive
	sync    *RunSync
	metrics *Metrics

	corsOrigins      []string
	validateRequests bool
	tickInterval     time.Duration
	tickSize         float64
	pollInterval     time.Duration
}

// NewHandler 创建 Handler 实例
func NewHandler(d Deps) *Handler {
	cfg := d.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	h := &Handler{
		store:            d.Store,
		cache:            d.Cache,
		runs:             d.Runs,
		archive:          d.Archive,
		sync:             d.Sync,
		metrics:          d.Metrics,
		corsOrigins:      cfg.Server.CORSOrigins,
		validateRequests: cfg.Server.ValidateRequests,
		tickInterval:     cfg.Timeline.TickInterval,
		tickSize:         cfg.Timeline.TickSize,
		pollInterval:     cfg.RunManager.PollInterval,
	}
	if h.metrics == nil {
		h.metrics = NewMetrics("labflow", nil)
	}
	return h
}

// GetMetrics 返回指标实例
func (h *Handler) GetMetrics() *Metrics {
	return h.metrics
}

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 将错误信息以 JSON 格式写入 HTTP 响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Health 健康检查接口
//
// 路由: GET /health
//
// 返回 {"status": "ok"} 表示服务正常运行。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
