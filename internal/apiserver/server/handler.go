package server

import (
	"log"
	"net/http"
	"strings"

	"labflow-admin/internal/apiserver/run"
	"labflow-admin/internal/apiserver/workcell"
	"labflow-admin/internal/apiserver/workflow"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康检查与指标:
//   - GET /health
//   - GET /metrics
//
// 工作流库 (Workflow):
//   - GET/POST          /api/v1/workflows
//   - POST              /api/v1/workflows/validate
//   - POST              /api/v1/workflows/import
//   - GET/PUT/DELETE    /api/v1/workflows/{id}
//   - GET               /api/v1/workflows/{id}/timeline?t=
//   - POST              /api/v1/workflows/{id}/export
//
// 工作单元 (Workcell):
//   - GET/POST          /api/v1/workcells
//   - GET/PUT/DELETE    /api/v1/workcells/{id}
//   - GET               /api/v1/workcells/{id}/compatibility?workflow_id=
//
// 执行 (Run):
//   - GET  /api/v1/runs, /api/v1/runs/active, /api/v1/runs/{id}
//   - POST /api/v1/runs/{id}/{pause|resume|stop}
//   - POST /api/v1/runs/{id}/tasks/{task}/{skip|retry}
//
// WebSocket:
//   - GET /ws/runs/{id}/timeline - 实时时间线
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", h.metrics.Handler())

	workflowHandler := workflow.NewHandler(h.store, h.archive, h.metrics.ObserveCompile)
	workflowHandler.RegisterRoutes(mux)

	workcellHandler := workcell.NewHandler(h.store)
	workcellHandler.RegisterRoutes(mux)

	runHandler := run.NewHandler(h.store, h.cache, h.runs)
	runHandler.RegisterRoutes(mux)

	var apiHandler http.Handler = mux
	if h.validateRequests {
		router, err := LoadContract()
		if err != nil {
			log.Printf("[server.contract.failed] error=%v, request validation disabled", err)
		} else {
			apiHandler = ValidationMiddleware(router)(apiHandler)
		}
	}

	// 应用指标中间件到 REST API
	apiHandler = h.metrics.MetricsMiddleware(apiHandler)
	corsHandler := corsMiddleware(h.corsOrigins)(apiHandler)

	// 顶层路由，WebSocket 绕过 metrics 中间件（避免 http.Hijacker 问题）
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /ws/runs/{id}/timeline", h.TimelineWebSocket)
	topMux.Handle("/", corsHandler)

	return topMux
}

// corsMiddleware 添加 CORS 头支持跨域请求
//
// origins 为空或包含 "*" 时允许任意来源。
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimSuffix(o, "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
