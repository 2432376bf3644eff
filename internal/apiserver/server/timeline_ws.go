package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"labflow-admin/internal/runctl"
	"labflow-admin/internal/shared/model"
	"labflow-admin/internal/shared/storage"
	"labflow-admin/internal/timeline"
	"labflow-admin/pkg/logging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	// replace 消息携带完整工作流配置
	wsMaxMessageSize = 1 << 20
)

var timelineUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许跨域（开发环境）
	},
}

// TimelineMessage 服务端推送消息
type TimelineMessage struct {
	Type      string         `json:"type"` // frame
	Data      timeline.Frame `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// TimelineCommand 客户端消息
//
//	{"type": "replace", "config": {...}}   用编辑后的配置重新编译时间线
type TimelineCommand struct {
	Type   string                `json:"type"`
	Config *model.WorkflowConfig `json:"config,omitempty"`
}

// TimelineWebSocket 实时时间线推送
//
// 路由: GET /ws/runs/{id}/timeline?elapsed=
//
// 升级前解析 run 与工作流并编译时间线：run 不存在返回 404，
// 循环依赖返回 422。升级后每个 tick 推送一帧，run 状态变化
// 通过 RunSync 事件和定期轮询 run manager 获得。
func (h *Handler) TimelineWebSocket(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	run, err := h.resolveRun(r.Context(), runID)
	if err != nil {
		log.Printf("[timeline.ws.run_not_found] run_id=%s error=%v", runID, err)
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if run.WorkflowID == "" {
		writeError(w, http.StatusNotFound, "run has no workflow")
		return
	}
	wf, err := h.store.GetWorkflow(r.Context(), run.WorkflowID)
	if err != nil {
		log.Printf("[timeline.ws.workflow_not_found] run_id=%s workflow_id=%s error=%v", runID, run.WorkflowID, err)
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	began := time.Now()
	tl, err := timeline.Compile(&wf.Config)
	h.metrics.ObserveCompile(err, time.Since(began))
	if err != nil {
		var cycle *timeline.CyclicDependencyError
		if errors.As(err, &cycle) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"error":   err.Error(),
				"task_id": cycle.TaskID,
				"path":    cycle.Path,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var elapsed float64
	if v := r.URL.Query().Get("elapsed"); v != "" {
		elapsed, err = strconv.ParseFloat(v, 64)
		if err != nil || elapsed < 0 || math.IsNaN(elapsed) || math.IsInf(elapsed, 0) {
			writeError(w, http.StatusBadRequest, "invalid elapsed")
			return
		}
	}

	conn, err := timelineUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[timeline.ws.upgrade_failed] run_id=%s error=%v", runID, err)
		return
	}
	defer conn.Close()

	h.metrics.WSConnectionOpened()
	defer h.metrics.WSConnectionClosed()
	log.Printf("[timeline.ws.connected] run_id=%s workflow_id=%s state=%s total=%g", runID, run.WorkflowID, run.State, tl.TotalDuration)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	opts := []timeline.Option{
		timeline.WithRunState(run.State),
		timeline.WithElapsed(elapsed),
		timeline.WithTickObserver(h.metrics.ObserveTick),
		timeline.WithLogger(logging.Default("timeline").WithWorkflowID(run.WorkflowID)),
	}
	if h.tickInterval > 0 {
		opts = append(opts, timeline.WithInterval(h.tickInterval))
	}
	if h.tickSize > 0 {
		opts = append(opts, timeline.WithTickSize(h.tickSize))
	}
	session := timeline.NewSession(runID, tl, opts...)
	defer session.Close()
	frames := session.Start(ctx)

	go h.readTimelineCommands(ctx, cancel, conn, session)
	go h.followRunState(ctx, run, session)

	h.writeTimelineFrames(ctx, conn, frames)
	log.Printf("[timeline.ws.disconnected] run_id=%s", runID)
}

// resolveRun 依次从缓存、存储、run manager 读取 run
func (h *Handler) resolveRun(ctx context.Context, runID string) (*model.Run, error) {
	if h.cache != nil {
		entry, err := h.cache.GetRunState(ctx, runID)
		if err == nil && entry != nil && entry.WorkflowID != "" {
			return &model.Run{
				ID:         entry.RunID,
				WorkflowID: entry.WorkflowID,
				WorkcellID: entry.WorkcellID,
				State:      entry.State,
				UpdatedAt:  entry.UpdatedAt,
			}, nil
		}
	}

	run, err := h.store.GetRun(ctx, runID)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, storage.ErrNotFound) || h.runs == nil {
		return nil, err
	}

	run, err = h.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := h.store.UpsertRun(ctx, run); err != nil {
		log.Printf("[timeline.ws.persist_failed] run_id=%s error=%v", runID, err)
	}
	return run, nil
}

// readTimelineCommands 读取客户端消息，连接断开时取消会话
func (h *Handler) readTimelineCommands(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, session *timeline.Session) {
	defer cancel()

	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[timeline.ws.read_failed] error=%v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var cmd TimelineCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Printf("[timeline.ws.bad_message] error=%v", err)
			continue
		}
		h.metrics.RecordWSMessage("in", cmd.Type)

		switch cmd.Type {
		case "replace":
			if cmd.Config == nil {
				continue
			}
			session.Replace(cmd.Config)
		default:
			log.Printf("[timeline.ws.unknown_message] type=%s", cmd.Type)
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// followRunState 把 run 状态变化送入会话
//
// 事件优先；轮询兜底（事件总线不可用或漏消息时）。
func (h *Handler) followRunState(ctx context.Context, run *model.Run, session *timeline.Session) {
	var events <-chan model.RunState
	if h.sync != nil {
		ch, stop := h.sync.Watch(run.ID)
		defer stop()
		events = ch
	}

	var poll <-chan time.Time
	if h.runs != nil && h.pollInterval > 0 {
		ticker := time.NewTicker(h.pollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}

	current := run.State
	update := func(state model.RunState) {
		if state == current || !state.Valid() {
			return
		}
		current = state
		session.SetRunState(state)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-session.Done():
			return
		case state := <-events:
			update(state)
		case <-poll:
			latest, err := h.runs.GetRun(ctx, run.ID)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Printf("[timeline.ws.poll_failed] run_id=%s error=%v", run.ID, err)
				}
				if errors.Is(err, runctl.ErrRunNotFound) {
					return
				}
				continue
			}
			update(latest.State)
		}
	}
}

// writeTimelineFrames 推送帧直到会话结束，最后一帧后正常关闭连接
func (h *Handler) writeTimelineFrames(ctx context.Context, conn *websocket.Conn, frames <-chan timeline.Frame) {
	pingTicker := time.NewTicker(wsPingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case f, ok := <-frames:
			if !ok {
				closeConn(conn, "session closed")
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			msg := TimelineMessage{Type: "frame", Data: f, Timestamp: time.Now()}
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("[timeline.ws.write_failed] run_id=%s error=%v", f.RunID, err)
				return
			}
			h.metrics.RecordWSMessage("out", "frame")
			if f.Final {
				closeConn(conn, "timeline complete")
				return
			}
		}
	}
}

func closeConn(conn *websocket.Conn, reason string) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
}
