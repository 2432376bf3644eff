// Package run 执行领域 - HTTP 处理
//
// run 的状态机由外部 run manager 独占维护：这里只读取 run，
// 控制操作转发给 runctl，结果在后续状态事件中观察。
package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"labflow-admin/internal/runctl"
	"labflow-admin/internal/shared/cache"
	"labflow-admin/internal/shared/model"
	"labflow-admin/internal/shared/storage"
)

// Controller 定义 run handler 需要的 run manager 接口（由 runctl.Client 实现）
type Controller interface {
	Do(ctx context.Context, cmd runctl.Command) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
}

// Handler 执行领域 HTTP 处理器
type Handler struct {
	store      storage.RunStore
	cache      cache.RunStateCache // 可选
	controller Controller
}

// NewHandler 创建执行处理器
//
// cache 可以为 nil；controller 为 nil 时控制接口返回 503。
func NewHandler(store storage.RunStore, runCache cache.RunStateCache, controller Controller) *Handler {
	return &Handler{store: store, cache: runCache, controller: controller}
}

// RegisterRoutes 注册执行相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/runs", h.List)
	mux.HandleFunc("GET /api/v1/runs/active", h.ListActive)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.Get)
	mux.HandleFunc("POST /api/v1/runs/{id}/{op}", h.Command)
	mux.HandleFunc("POST /api/v1/runs/{id}/tasks/{task}/{op}", h.TaskCommand)
}

// RunView run 及其当前可用的控制操作
type RunView struct {
	*model.Run
	Controls map[string]bool `json:"controls"`
}

func newRunView(run *model.Run) RunView {
	return RunView{Run: run, Controls: run.Controls()}
}

// Get 获取单个 Run 详情
// GET /api/v1/runs/{id}
//
// 本地没有记录时回源 run manager，并把结果写回本地。
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	run, err := h.store.GetRun(ctx, id)
	if err == nil {
		writeJSON(w, http.StatusOK, newRunView(run))
		return
	}
	if !errors.Is(err, storage.ErrNotFound) {
		log.Printf("[run.get.failed] run_id=%s error=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if h.controller == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	run, err = h.controller.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, runctl.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		log.Printf("[run.get.remote.failed] run_id=%s error=%v", id, err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("get failed: %v", err))
		return
	}

	if err := h.store.UpsertRun(ctx, run); err != nil {
		log.Printf("[run.get.upsert.failed] run_id=%s error=%v", id, err)
	}
	if h.cache != nil {
		if err := h.cache.SetRunState(ctx, cache.FromRun(run)); err != nil {
			log.Printf("[run.get.cache.failed] run_id=%s error=%v", id, err)
		}
	}
	writeJSON(w, http.StatusOK, newRunView(run))
}

// List 列出 run
// GET /api/v1/runs?workflow_id=&state=&limit=&offset=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.RunFilter{WorkflowID: q.Get("workflow_id")}
	if s := q.Get("state"); s != "" {
		state := model.RunState(s)
		if !state.Valid() {
			writeError(w, http.StatusBadRequest, "invalid state")
			return
		}
		filter.State = state
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	filter.ListOptions = storage.ListOptions{Limit: limit, Offset: offset}.Normalize()

	runs, err := h.store.ListRuns(r.Context(), filter)
	if err != nil {
		log.Printf("[run.list.failed] error=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	views := make([]RunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, newRunView(run))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": views, "count": len(views)})
}

// ListActive 列出缓存中未终止的 run ID
// GET /api/v1/runs/active
func (h *Handler) ListActive(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"run_ids": []string{}, "count": 0})
		return
	}
	ids, err := h.cache.ListActiveRuns(r.Context())
	if err != nil {
		log.Printf("[run.active.failed] error=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to list active runs")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"run_ids": ids, "count": len(ids)})
}

// Command run 级控制命令
// POST /api/v1/runs/{id}/{pause|resume|stop}
func (h *Handler) Command(w http.ResponseWriter, r *http.Request) {
	op, ok := runctl.ParseOp(r.PathValue("op"))
	if !ok || op.TaskScoped() {
		writeError(w, http.StatusBadRequest, "unknown run command: "+r.PathValue("op"))
		return
	}
	h.dispatch(w, r, runctl.Command{Op: op, RunID: r.PathValue("id")})
}

// TaskCommand 任务级控制命令
// POST /api/v1/runs/{id}/tasks/{task}/{skip|retry}
func (h *Handler) TaskCommand(w http.ResponseWriter, r *http.Request) {
	op, ok := runctl.ParseOp(r.PathValue("op"))
	if !ok || !op.TaskScoped() {
		writeError(w, http.StatusBadRequest, "unknown task command: "+r.PathValue("op"))
		return
	}
	h.dispatch(w, r, runctl.Command{Op: op, RunID: r.PathValue("id"), TaskID: r.PathValue("task")})
}

// dispatch 转发命令；命令被接受不代表 run 状态已改变
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, cmd runctl.Command) {
	if h.controller == nil {
		writeError(w, http.StatusServiceUnavailable, "run manager is not configured")
		return
	}

	log.Printf("[run.command.start] run_id=%s op=%s task_id=%s", cmd.RunID, cmd.Op, cmd.TaskID)
	if err := h.controller.Do(r.Context(), cmd); err != nil {
		log.Printf("[run.command.failed] run_id=%s op=%s task_id=%s error=%v", cmd.RunID, cmd.Op, cmd.TaskID, err)
		if errors.Is(err, runctl.ErrInvalidCommand) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, fmt.Sprintf("%s failed: %v", cmd.Op, err))
		return
	}

	log.Printf("[run.command.sent] run_id=%s op=%s task_id=%s", cmd.RunID, cmd.Op, cmd.TaskID)
	resp := map[string]string{"status": "accepted", "op": string(cmd.Op), "run_id": cmd.RunID}
	if cmd.TaskID != "" {
		resp["task_id"] = cmd.TaskID
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// ============================================================================
// 工具函数
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
