// Package workcell 工作单元 - HTTP 处理
package workcell

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strings"

	"labflow-admin/internal/shared/model"
	"labflow-admin/internal/shared/storage"
)

// Store 定义 workcell handler 需要的存储接口
type Store interface {
	storage.WorkcellStore
	GetWorkflow(ctx context.Context, id string) (*model.Workflow, error)
}

// Handler 工作单元 HTTP 处理器
type Handler struct {
	store Store
}

// NewHandler 创建工作单元处理器
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册工作单元相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/workcells", h.List)
	mux.HandleFunc("POST /api/v1/workcells", h.Create)
	mux.HandleFunc("GET /api/v1/workcells/{id}", h.Get)
	mux.HandleFunc("PUT /api/v1/workcells/{id}", h.Update)
	mux.HandleFunc("DELETE /api/v1/workcells/{id}", h.Delete)
	mux.HandleFunc("GET /api/v1/workcells/{id}/compatibility", h.Compatibility)
}

// WriteRequest 创建/更新工作单元的请求体
type WriteRequest struct {
	Name        string                            `json:"name"`
	Description string                            `json:"description,omitempty"`
	Instruments map[string]model.InstrumentDriver `json:"instruments"`
}

// CompatibilityResponse 工作流在工作单元上的可运行性
//
// MissingTypes 为工作流任务用到、但工作单元没有提供的仪器类型。
type CompatibilityResponse struct {
	WorkcellID   string   `json:"workcell_id"`
	WorkflowID   string   `json:"workflow_id"`
	Compatible   bool     `json:"compatible"`
	MissingTypes []string `json:"missing_types"`
}

// List 列出工作单元
// GET /api/v1/workcells
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	cells, err := h.store.ListWorkcells(r.Context(), listOptions(r))
	if err != nil {
		log.Printf("[workcell.list.failed] error=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to list workcells")
		return
	}
	if cells == nil {
		cells = []*model.Workcell{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"workcells": cells, "count": len(cells)})
}

// Create 创建工作单元
// POST /api/v1/workcells
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if msg := validateInstruments(req.Instruments); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	wc := &model.Workcell{
		ID:          generateID("wc"),
		Name:        req.Name,
		Description: req.Description,
		Instruments: req.Instruments,
	}
	if wc.Instruments == nil {
		wc.Instruments = map[string]model.InstrumentDriver{}
	}
	if err := h.store.CreateWorkcell(r.Context(), wc); err != nil {
		log.Printf("[workcell.create.failed] workcell_id=%s error=%v", wc.ID, err)
		writeError(w, storageStatus(err), "failed to create workcell")
		return
	}
	log.Printf("[workcell.create.success] workcell_id=%s instruments=%d", wc.ID, len(wc.Instruments))
	writeJSON(w, http.StatusCreated, wc)
}

// Get 获取工作单元
// GET /api/v1/workcells/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	wc, err := h.store.GetWorkcell(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, storageStatus(err), "workcell not found")
		return
	}
	writeJSON(w, http.StatusOK, wc)
}

// Update 更新工作单元
// PUT /api/v1/workcells/{id}
//
// instruments 字段存在时整体替换。
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateInstruments(req.Instruments); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	wc, err := h.store.GetWorkcell(r.Context(), id)
	if err != nil {
		writeError(w, storageStatus(err), "workcell not found")
		return
	}
	if req.Name != "" {
		wc.Name = req.Name
	}
	if req.Description != "" {
		wc.Description = req.Description
	}
	if req.Instruments != nil {
		wc.Instruments = req.Instruments
	}

	if err := h.store.UpdateWorkcell(r.Context(), wc); err != nil {
		log.Printf("[workcell.update.failed] workcell_id=%s error=%v", id, err)
		writeError(w, storageStatus(err), "failed to update workcell")
		return
	}
	writeJSON(w, http.StatusOK, wc)
}

// Delete 删除工作单元
// DELETE /api/v1/workcells/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.DeleteWorkcell(r.Context(), id); err != nil {
		writeError(w, storageStatus(err), "failed to delete workcell")
		return
	}
	log.Printf("[workcell.delete.success] workcell_id=%s", id)
	w.WriteHeader(http.StatusNoContent)
}

// Compatibility 检查工作流所需的仪器类型是否都由工作单元提供
// GET /api/v1/workcells/{id}/compatibility?workflow_id=
func (h *Handler) Compatibility(w http.ResponseWriter, r *http.Request) {
	workflowID := r.URL.Query().Get("workflow_id")
	if workflowID == "" {
		writeError(w, http.StatusBadRequest, "workflow_id is required")
		return
	}

	wc, err := h.store.GetWorkcell(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, storageStatus(err), "workcell not found")
		return
	}
	wf, err := h.store.GetWorkflow(r.Context(), workflowID)
	if err != nil {
		writeError(w, storageStatus(err), "workflow not found")
		return
	}

	missing := MissingInstrumentTypes(wc, &wf.Config)
	writeJSON(w, http.StatusOK, CompatibilityResponse{
		WorkcellID:   wc.ID,
		WorkflowID:   wf.ID,
		Compatible:   len(missing) == 0,
		MissingTypes: missing,
	})
}

// MissingInstrumentTypes 返回工作流任务需要、工作单元未提供的仪器类型（排序去重）
func MissingInstrumentTypes(wc *model.Workcell, cfg *model.WorkflowConfig) []string {
	provided := wc.InstrumentTypes()
	seen := make(map[string]bool)
	missing := []string{}
	for _, spec := range cfg.Tasks {
		t := spec.InstrumentType
		if provided[t] || seen[t] {
			continue
		}
		seen[t] = true
		missing = append(missing, t)
	}
	sort.Strings(missing)
	return missing
}

func validateInstruments(instruments map[string]model.InstrumentDriver) string {
	for id, inst := range instruments {
		if inst.Type == "" {
			return "instrument " + id + ": type is required"
		}
	}
	return ""
}
