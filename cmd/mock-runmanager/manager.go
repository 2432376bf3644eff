package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"labflow-admin/internal/shared/eventbus"
	"labflow-admin/internal/shared/model"
)

// manager 进程内 run manager
//
// 状态机：
//
//	STARTING → RUNNING → (PAUSING → PAUSED → RESUMING → RUNNING)* → COMPLETED
//	任意非终止状态 → STOPPING → STOPPED
//
// 中间状态（PAUSING/RESUMING/STOPPING/STARTING）在 settle 后推进；
// RUNNING 累计时长达到 duration 时自动完成。每次状态变化发布一条 run 事件。
type manager struct {
	bus    eventbus.RunStateBus
	settle time.Duration

	mu   sync.Mutex
	runs map[string]*mockRun
}

type mockRun struct {
	model.Run
	duration time.Duration // 0 表示不自动完成
	ran      time.Duration // RUNNING 累计时长
	since    time.Time     // 进入当前状态的时间
	skipped  map[string]bool
}

func newManager(bus eventbus.RunStateBus, settle time.Duration) *manager {
	return &manager{bus: bus, settle: settle, runs: make(map[string]*mockRun)}
}

func (m *manager) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/v1/runs", m.list)
	mux.HandleFunc("POST /api/v1/runs", m.create)
	mux.HandleFunc("GET /api/v1/runs/{id}", m.get)
	mux.HandleFunc("POST /api/v1/runs/{id}/{op}", m.command)
	mux.HandleFunc("POST /api/v1/runs/{id}/tasks/{task}/{op}", m.taskCommand)
	return mux
}

type createRequest struct {
	WorkflowID string  `json:"workflow_id"`
	WorkcellID string  `json:"workcell_id"`
	Duration   float64 `json:"duration"` // 秒
}

func (m *manager) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkflowID == "" {
		writeError(w, http.StatusBadRequest, "workflow_id is required")
		return
	}
	now := time.Now().UTC()
	run := &mockRun{
		Run: model.Run{
			ID:         newRunID(),
			WorkflowID: req.WorkflowID,
			WorkcellID: req.WorkcellID,
			State:      model.RunStateStarting,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		duration: time.Duration(req.Duration * float64(time.Second)),
		since:    now,
		skipped:  make(map[string]bool),
	}

	m.mu.Lock()
	m.runs[run.ID] = run
	snapshot := run.Run
	m.mu.Unlock()

	log.Printf("[runmanager.create] run_id=%s workflow_id=%s", run.ID, run.WorkflowID)
	m.publish(r.Context(), eventbus.EventRunState, snapshot, "")
	writeJSON(w, http.StatusCreated, snapshot)
}

func (m *manager) list(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	out := make([]model.Run, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, run.Run)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": out, "count": len(out)})
}

func (m *manager) get(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	run, ok := m.runs[r.PathValue("id")]
	var snapshot model.Run
	if ok {
		snapshot = run.Run
	}
	m.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// transitions 命令 → (允许的当前状态, 目标中间状态)
var transitions = map[string]struct {
	from []model.RunState
	to   model.RunState
}{
	"pause":  {[]model.RunState{model.RunStateRunning}, model.RunStatePausing},
	"resume": {[]model.RunState{model.RunStatePaused}, model.RunStateResuming},
	"stop": {[]model.RunState{
		model.RunStateStarting, model.RunStateRunning, model.RunStatePausing,
		model.RunStatePaused, model.RunStateResuming,
	}, model.RunStateStopping},
}

func (m *manager) command(w http.ResponseWriter, r *http.Request) {
	id, op := r.PathValue("id"), r.PathValue("op")
	tr, ok := transitions[op]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown command: "+op)
		return
	}

	m.mu.Lock()
	run, ok := m.runs[id]
	if !ok {
		m.mu.Unlock()
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	allowed := false
	for _, s := range tr.from {
		if run.State == s {
			allowed = true
			break
		}
	}
	if !allowed {
		state := run.State
		m.mu.Unlock()
		writeError(w, http.StatusConflict, "cannot "+op+" run in state "+string(state))
		return
	}
	m.setState(run, tr.to, time.Now())
	snapshot := run.Run
	m.mu.Unlock()

	log.Printf("[runmanager.command] run_id=%s op=%s state=%s", id, op, snapshot.State)
	m.publish(r.Context(), eventbus.EventRunState, snapshot, "")
	writeJSON(w, http.StatusAccepted, snapshot)
}

func (m *manager) taskCommand(w http.ResponseWriter, r *http.Request) {
	id, taskID, op := r.PathValue("id"), r.PathValue("task"), r.PathValue("op")
	var eventType eventbus.EventType
	switch op {
	case "skip":
		eventType = eventbus.EventTaskSkipped
	case "retry":
		eventType = eventbus.EventTaskRetried
	default:
		writeError(w, http.StatusBadRequest, "unknown task command: "+op)
		return
	}

	m.mu.Lock()
	run, ok := m.runs[id]
	if !ok {
		m.mu.Unlock()
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if run.IsTerminal() || run.State == model.RunStateStopping {
		state := run.State
		m.mu.Unlock()
		writeError(w, http.StatusConflict, "run is "+string(state))
		return
	}
	run.skipped[taskID] = op == "skip"
	snapshot := run.Run
	m.mu.Unlock()

	log.Printf("[runmanager.task] run_id=%s task_id=%s op=%s", id, taskID, op)
	m.publish(r.Context(), eventType, snapshot, taskID)
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "task_id": taskID, "op": op})
}

// advance 推进中间状态与自动完成，并发布状态事件
func (m *manager) advance(ctx context.Context, now time.Time) {
	for _, run := range m.transition(now) {
		log.Printf("[runmanager.transition] run_id=%s state=%s", run.ID, run.State)
		m.publish(ctx, eventbus.EventRunState, run, "")
	}
}

// transition 返回发生变化的 run 快照
func (m *manager) transition(now time.Time) []model.Run {
	m.mu.Lock()
	defer m.mu.Unlock()

	var changed []model.Run
	for _, run := range m.runs {
		next := run.State
		switch run.State {
		case model.RunStateStarting, model.RunStateResuming:
			if now.Sub(run.since) >= m.settle {
				next = model.RunStateRunning
			}
		case model.RunStatePausing:
			if now.Sub(run.since) >= m.settle {
				next = model.RunStatePaused
			}
		case model.RunStateStopping:
			if now.Sub(run.since) >= m.settle {
				next = model.RunStateStopped
			}
		case model.RunStateRunning:
			if run.duration > 0 && run.ran+now.Sub(run.since) >= run.duration {
				next = model.RunStateCompleted
			}
		}
		if next != run.State {
			m.setState(run, next, now)
			changed = append(changed, run.Run)
		}
	}
	return changed
}

// setState 调用方持有 m.mu
func (m *manager) setState(run *mockRun, state model.RunState, now time.Time) {
	if run.State == model.RunStateRunning {
		run.ran += now.Sub(run.since)
	}
	run.State = state
	run.since = now
	run.UpdatedAt = now.UTC()
}

func (m *manager) loop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.advance(ctx, now)
		}
	}
}

func (m *manager) publish(ctx context.Context, eventType eventbus.EventType, run model.Run, taskID string) {
	if m.bus == nil {
		return
	}
	event := &eventbus.RunStateEvent{
		Type:       eventType,
		RunID:      run.ID,
		WorkflowID: run.WorkflowID,
		WorkcellID: run.WorkcellID,
		State:      run.State,
		TaskID:     taskID,
		Timestamp:  run.UpdatedAt,
	}
	if err := m.bus.PublishRunState(ctx, event); err != nil {
		log.Printf("[runmanager.publish.failed] run_id=%s error=%v", run.ID, err)
	}
}

func newRunID() string {
	b := make([]byte, 6)
	rand.Read(b)
	return "run-" + hex.EncodeToString(b)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
