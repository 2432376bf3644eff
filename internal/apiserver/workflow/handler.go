// Package workflow 工作流库 - HTTP 处理
//
// 工作流定义的增删改查、时间线快照与校验，以及基于对象存储的导出/导入。
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"labflow-admin/internal/shared/model"
	"labflow-admin/internal/shared/objstore"
	"labflow-admin/internal/shared/storage"
	"labflow-admin/internal/taskgraph"
	"labflow-admin/internal/timeline"
)

// maxBodyBytes 工作流请求体上限
const maxBodyBytes = 4 << 20

// Archive 工作流归档存储（由 objstore.Client 实现）
type Archive interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

// CompileObserver 每次时间线编译后的回调（用于指标）
type CompileObserver func(err error, elapsed time.Duration)

// Handler 工作流 HTTP 处理器
type Handler struct {
	store   storage.WorkflowStore
	archive Archive
	observe CompileObserver
}

// NewHandler 创建工作流处理器
//
// archive 为 nil 时导出/导入接口返回 503。
func NewHandler(store storage.WorkflowStore, archive Archive, observe CompileObserver) *Handler {
	return &Handler{store: store, archive: archive, observe: observe}
}

// RegisterRoutes 注册工作流相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/workflows", h.List)
	mux.HandleFunc("POST /api/v1/workflows", h.Create)
	mux.HandleFunc("POST /api/v1/workflows/validate", h.Validate)
	mux.HandleFunc("POST /api/v1/workflows/import", h.Import)
	mux.HandleFunc("GET /api/v1/workflows/{id}", h.Get)
	mux.HandleFunc("PUT /api/v1/workflows/{id}", h.Update)
	mux.HandleFunc("DELETE /api/v1/workflows/{id}", h.Delete)
	mux.HandleFunc("GET /api/v1/workflows/{id}/timeline", h.Timeline)
	mux.HandleFunc("POST /api/v1/workflows/{id}/export", h.Export)
}

// WriteRequest 创建/更新工作流的请求体
//
// Config 与 Source 二选一：Source 为 JSON 或 YAML 格式的工作流文件内容。
type WriteRequest struct {
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Config      *model.WorkflowConfig `json:"config,omitempty"`
	Source      string                `json:"source,omitempty"`
}

func (req *WriteRequest) workflowConfig() (*model.WorkflowConfig, error) {
	if req.Source != "" {
		return model.ParseWorkflowConfig([]byte(req.Source))
	}
	if req.Config == nil {
		return nil, errors.New("config or source is required")
	}
	return req.Config, nil
}

// WorkflowResponse 工作流及其配置告警
type WorkflowResponse struct {
	*model.Workflow
	Warnings []taskgraph.ConfigurationError `json:"warnings,omitempty"`
}

// TimelineResponse 时间线快照
type TimelineResponse struct {
	WorkflowID string             `json:"workflow_id,omitempty"`
	Timeline   *timeline.Timeline `json:"timeline"`
	Stats      timeline.Stats     `json:"stats"`
}

// ValidateResponse 校验结果
type ValidateResponse struct {
	Valid         bool                           `json:"valid"`
	Error         string                         `json:"error,omitempty"`
	Cycle         []string                       `json:"cycle,omitempty"`
	Warnings      []taskgraph.ConfigurationError `json:"warnings"`
	TotalDuration float64                        `json:"total_duration"`
	Unassigned    []string                       `json:"unassigned,omitempty"`
}

// ImportRequest 从对象存储导入工作流
type ImportRequest struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// compile 编译时间线并通知观察者
func (h *Handler) compile(cfg *model.WorkflowConfig) (*timeline.Timeline, error) {
	began := time.Now()
	tl, err := timeline.Compile(cfg)
	if h.observe != nil {
		h.observe(err, time.Since(began))
	}
	return tl, err
}

// writeCycle 循环依赖响应：422 + 环上任务与路径
func writeCycle(w http.ResponseWriter, err error) bool {
	var cycle *timeline.CyclicDependencyError
	if !errors.As(err, &cycle) {
		return false
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
		"error":   err.Error(),
		"task_id": cycle.TaskID,
		"path":    cycle.Path,
	})
	return true
}

// List 列出工作流
// GET /api/v1/workflows
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	workflows, err := h.store.ListWorkflows(r.Context(), listOptions(r))
	if err != nil {
		log.Printf("[workflow.list.failed] error=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to list workflows")
		return
	}
	if workflows == nil {
		workflows = []*model.Workflow{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"workflows": workflows, "count": len(workflows)})
}

// Create 创建工作流
// POST /api/v1/workflows
//
// 配置告警随响应返回；循环依赖的配置被拒绝（422）。
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req WriteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	cfg, err := req.workflowConfig()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.createWorkflow(w, r, req.Name, req.Description, cfg)
}

func (h *Handler) createWorkflow(w http.ResponseWriter, r *http.Request, name, description string, cfg *model.WorkflowConfig) {
	tl, err := h.compile(cfg)
	if err != nil {
		log.Printf("[workflow.create.rejected] name=%s error=%v", name, err)
		if !writeCycle(w, err) {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	wf := &model.Workflow{
		ID:          generateID("wf"),
		Name:        name,
		Description: description,
		Config:      *cfg,
	}
	if err := h.store.CreateWorkflow(r.Context(), wf); err != nil {
		log.Printf("[workflow.create.failed] workflow_id=%s error=%v", wf.ID, err)
		writeError(w, storageStatus(err), "failed to create workflow")
		return
	}

	log.Printf("[workflow.create.success] workflow_id=%s tasks=%d warnings=%d", wf.ID, len(cfg.Tasks), len(tl.Warnings))
	writeJSON(w, http.StatusCreated, WorkflowResponse{Workflow: wf, Warnings: tl.Warnings})
}

// Get 获取工作流
// GET /api/v1/workflows/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	wf, err := h.store.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, storageStatus(err), "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// Update 更新工作流
// PUT /api/v1/workflows/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req WriteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wf, err := h.store.GetWorkflow(r.Context(), id)
	if err != nil {
		writeError(w, storageStatus(err), "workflow not found")
		return
	}
	if req.Name != "" {
		wf.Name = req.Name
	}
	if req.Description != "" {
		wf.Description = req.Description
	}

	var warnings []taskgraph.ConfigurationError
	if req.Config != nil || req.Source != "" {
		cfg, err := req.workflowConfig()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		tl, err := h.compile(cfg)
		if err != nil {
			log.Printf("[workflow.update.rejected] workflow_id=%s error=%v", id, err)
			if !writeCycle(w, err) {
				writeError(w, http.StatusBadRequest, err.Error())
			}
			return
		}
		wf.Config = *cfg
		warnings = tl.Warnings
	}

	if err := h.store.UpdateWorkflow(r.Context(), wf); err != nil {
		log.Printf("[workflow.update.failed] workflow_id=%s error=%v", id, err)
		writeError(w, storageStatus(err), "failed to update workflow")
		return
	}
	log.Printf("[workflow.update.success] workflow_id=%s", id)
	writeJSON(w, http.StatusOK, WorkflowResponse{Workflow: wf, Warnings: warnings})
}

// Delete 删除工作流
// DELETE /api/v1/workflows/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.DeleteWorkflow(r.Context(), id); err != nil {
		writeError(w, storageStatus(err), "failed to delete workflow")
		return
	}
	log.Printf("[workflow.delete.success] workflow_id=%s", id)
	w.WriteHeader(http.StatusNoContent)
}

// Timeline 时间线快照
// GET /api/v1/workflows/{id}/timeline?t=<seconds>
//
// t 缺省为 0，超出 [0, total_duration] 时截断。
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	at := 0.0
	if v := r.URL.Query().Get("t"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			writeError(w, http.StatusBadRequest, "invalid t")
			return
		}
		at = f
	}

	wf, err := h.store.GetWorkflow(r.Context(), id)
	if err != nil {
		writeError(w, storageStatus(err), "workflow not found")
		return
	}

	tl, err := h.compile(&wf.Config)
	if err != nil {
		log.Printf("[workflow.timeline.failed] workflow_id=%s error=%v", id, err)
		if !writeCycle(w, err) {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if at < 0 {
		at = 0
	}
	if at > tl.TotalDuration {
		at = tl.TotalDuration
	}
	stats := tl.Project(at)
	writeJSON(w, http.StatusOK, TimelineResponse{WorkflowID: id, Timeline: tl, Stats: stats})
}

// Validate 校验工作流配置（不保存）
// POST /api/v1/workflows/validate
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req WriteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg, err := req.workflowConfig()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := ValidateResponse{Warnings: taskgraph.Validate(cfg)}
	tl, err := h.compile(cfg)
	if err != nil {
		resp.Error = err.Error()
		var cycle *timeline.CyclicDependencyError
		if errors.As(err, &cycle) {
			resp.Cycle = cycle.Path
		}
	} else {
		resp.Valid = true
		resp.TotalDuration = tl.TotalDuration
		resp.Unassigned = tl.Unassigned
	}
	if resp.Warnings == nil {
		resp.Warnings = []taskgraph.ConfigurationError{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Export 把工作流配置以 YAML 导出到对象存储
// POST /api/v1/workflows/{id}/export
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "object storage is not configured")
		return
	}
	id := r.PathValue("id")

	wf, err := h.store.GetWorkflow(r.Context(), id)
	if err != nil {
		writeError(w, storageStatus(err), "workflow not found")
		return
	}
	data, err := wf.Config.ToYAML()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode workflow")
		return
	}

	key := objstore.WorkflowKey(id)
	if err := h.archive.Upload(r.Context(), key, bytes.NewReader(data), int64(len(data)), "application/yaml"); err != nil {
		log.Printf("[workflow.export.failed] workflow_id=%s key=%s error=%v", id, key, err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("export failed: %v", err))
		return
	}
	log.Printf("[workflow.export.success] workflow_id=%s key=%s bytes=%d", id, key, len(data))
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "size": len(data)})
}

// Import 从对象存储导入工作流（作为新工作流创建）
// POST /api/v1/workflows/import
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "object storage is not configured")
		return
	}

	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Key == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "key and name are required")
		return
	}

	rc, err := h.archive.Download(r.Context(), req.Key)
	if err != nil {
		log.Printf("[workflow.import.failed] key=%s error=%v", req.Key, err)
		if errors.Is(err, objstore.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		writeError(w, http.StatusBadGateway, fmt.Sprintf("import failed: %v", err))
		return
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("import failed: %v", err))
		return
	}
	cfg, err := model.ParseWorkflowConfig(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Printf("[workflow.import.start] key=%s tasks=%d", req.Key, len(cfg.Tasks))
	h.createWorkflow(w, r, req.Name, req.Description, cfg)
}
