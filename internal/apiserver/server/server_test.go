// Package server - 路由、实时时间线与 run 事件同步测试
//
// 使用 storage.MemoryStore / cache.MemoryCache / eventbus.MemoryBus 隔离外部依赖，
// 每个测试使用独立的 Prometheus Registry。
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow-admin/internal/config"
	"labflow-admin/internal/runctl"
	"labflow-admin/internal/shared/cache"
	"labflow-admin/internal/shared/eventbus"
	"labflow-admin/internal/shared/model"
	"labflow-admin/internal/shared/storage"
)

// ============================================================================
// Mock 实现
// ============================================================================

// fakeRuns 模拟 run manager（实现 run.Controller）
type fakeRuns struct {
	mu   sync.Mutex
	runs map[string]model.Run
	cmds []runctl.Command
}

func newFakeRuns(runs ...model.Run) *fakeRuns {
	f := &fakeRuns{runs: make(map[string]model.Run)}
	for _, r := range runs {
		f.runs[r.ID] = r
	}
	return f
}

func (f *fakeRuns) Do(ctx context.Context, cmd runctl.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return nil
}

func (f *fakeRuns) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[runID]
	if !ok {
		return nil, &runctl.CommandError{Op: runctl.OpGet, RunID: runID, StatusCode: http.StatusNotFound, Err: runctl.ErrRunNotFound}
	}
	return &r, nil
}

func (f *fakeRuns) setState(runID string, state model.RunState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.runs[runID]
	r.State = state
	f.runs[runID] = r
}

// ============================================================================
// 测试工具
// ============================================================================

// abcConfig A、B 并行（各 5s），C 依赖 A、B（5s），总时长 10s
func abcConfig() model.WorkflowConfig {
	return model.WorkflowConfig{
		Tasks: map[string]model.TaskSpec{
			"A": {InstrumentType: "X", Duration: 5, Action: "a"},
			"B": {InstrumentType: "X", Duration: 5, Action: "b"},
			"C": {InstrumentType: "X", Duration: 5, Action: "c", Dependencies: []string{"A", "B"}},
		},
		Instruments: map[string]model.Instrument{"x1": {Type: "X", Capacity: 1}},
	}
}

type testEnv struct {
	handler *Handler
	store   *storage.MemoryStore
	cache   *cache.MemoryCache
	bus     *eventbus.MemoryBus
	sync    *RunSync
	server  *httptest.Server
}

func newTestEnv(t *testing.T, runs *fakeRuns, tweak func(*config.Config)) *testEnv {
	t.Helper()
	cfg := &config.Config{}
	cfg.Timeline.TickInterval = 5 * time.Millisecond
	cfg.Timeline.TickSize = 1
	cfg.RunManager.PollInterval = time.Hour
	if tweak != nil {
		tweak(cfg)
	}

	env := &testEnv{
		store: storage.NewMemoryStore(),
		cache: cache.NewMemoryCache(),
		bus:   eventbus.NewMemoryBus(),
	}
	metrics := NewMetrics("test", prometheus.NewRegistry())
	env.sync = NewRunSync(env.bus, env.store, env.cache, metrics)

	deps := Deps{
		Store:   env.store,
		Cache:   env.cache,
		Sync:    env.sync,
		Metrics: metrics,
		Config:  cfg,
	}
	if runs != nil {
		deps.Runs = runs
	}
	env.handler = NewHandler(deps)
	env.server = httptest.NewServer(env.handler.Router())
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) seed(t *testing.T, cfg model.WorkflowConfig, run *model.Run) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.CreateWorkflow(ctx, &model.Workflow{ID: "wf-1", Name: "abc", Config: cfg}))
	if run != nil {
		require.NoError(t, e.store.UpsertRun(ctx, run))
	}
}

func (e *testEnv) dial(t *testing.T, runID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws/runs/" + runID + "/timeline"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err, "WebSocket 连接失败")
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) TimelineMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg TimelineMessage
	require.NoError(t, conn.ReadJSON(&msg), "读取帧失败")
	return msg
}

// readUntil 读取帧直到 match 返回 true
func readUntil(t *testing.T, conn *websocket.Conn, match func(TimelineMessage) bool) TimelineMessage {
	t.Helper()
	for i := 0; i < 500; i++ {
		msg := readFrame(t, conn)
		if match(msg) {
			return msg
		}
	}
	t.Fatal("未等到期望的帧")
	return TimelineMessage{}
}

func (s *RunSync) watcherCount(runID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers[runID])
}

// ============================================================================
// 实时时间线
// ============================================================================

func TestTimelineWebSocket_RunsToMakespan(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.seed(t, abcConfig(), &model.Run{ID: "run-1", WorkflowID: "wf-1", State: model.RunStateRunning})

	conn := env.dial(t, "run-1")

	first := readFrame(t, conn)
	assert.Equal(t, "frame", first.Type)
	assert.Equal(t, "run-1", first.Data.RunID)
	assert.Equal(t, 10.0, first.Data.Stats.TotalDuration)
	assert.Len(t, first.Data.Tasks, 3)

	final := readUntil(t, conn, func(m TimelineMessage) bool { return m.Data.Final })
	assert.Equal(t, 10.0, final.Data.Stats.CurrentTime)
	assert.Equal(t, 3, final.Data.Stats.TaskStats[model.TaskStateCompleted])
	assert.Equal(t, 100, final.Data.Stats.InstrumentUtilization["X"])
	assert.Equal(t, []string{"X"}, final.Data.Stats.Overcommitted)

	// 最后一帧后服务端正常关闭连接
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "期望正常关闭，得到 %v", err)
}

func TestTimelineWebSocket_ClockFrozenUntilRunning(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.seed(t, abcConfig(), &model.Run{ID: "run-1", WorkflowID: "wf-1", State: model.RunStatePaused})

	conn := env.dial(t, "run-1")
	for i := 0; i < 5; i++ {
		msg := readFrame(t, conn)
		assert.Equal(t, model.RunStatePaused, msg.Data.RunState)
		assert.Equal(t, 0.0, msg.Data.Stats.CurrentTime, "暂停时时钟不应前进")
	}

	require.Eventually(t, func() bool { return env.sync.watcherCount("run-1") == 1 }, 2*time.Second, 5*time.Millisecond)
	env.sync.handle(context.Background(), &eventbus.RunStateEvent{
		Type:      eventbus.EventRunState,
		RunID:     "run-1",
		State:     model.RunStateRunning,
		Timestamp: time.Now(),
	})

	final := readUntil(t, conn, func(m TimelineMessage) bool { return m.Data.Final })
	assert.Equal(t, model.RunStateRunning, final.Data.RunState)
	assert.Equal(t, 10.0, final.Data.Stats.CurrentTime)

	entry, err := env.cache.GetRunState(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, model.RunStateRunning, entry.State)
	assert.Equal(t, "wf-1", entry.WorkflowID, "缓存应保留已知的 workflow_id")
}

func TestTimelineWebSocket_PollsRunManager(t *testing.T) {
	runs := newFakeRuns(model.Run{ID: "run-1", WorkflowID: "wf-1", State: model.RunStatePaused})
	env := newTestEnv(t, runs, func(c *config.Config) {
		c.RunManager.PollInterval = 10 * time.Millisecond
	})
	env.seed(t, abcConfig(), nil)

	// store 中没有 run，从 run manager 回源并落库
	conn := env.dial(t, "run-1")
	first := readFrame(t, conn)
	assert.Equal(t, model.RunStatePaused, first.Data.RunState)

	stored, err := env.store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", stored.WorkflowID)

	runs.setState("run-1", model.RunStateRunning)
	final := readUntil(t, conn, func(m TimelineMessage) bool { return m.Data.Final })
	assert.Equal(t, model.RunStateRunning, final.Data.RunState)
}

func TestTimelineWebSocket_Replace(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.seed(t, abcConfig(), &model.Run{ID: "run-1", WorkflowID: "wf-1", State: model.RunStatePaused})

	conn := env.dial(t, "run-1")
	first := readFrame(t, conn)
	assert.Equal(t, 10.0, first.Data.Stats.TotalDuration)

	longer := abcConfig()
	longer.Tasks["C"] = model.TaskSpec{InstrumentType: "X", Duration: 20, Action: "c", Dependencies: []string{"A", "B"}}
	require.NoError(t, conn.WriteJSON(TimelineCommand{Type: "replace", Config: &longer}))

	replaced := readUntil(t, conn, func(m TimelineMessage) bool { return m.Data.Stats.TotalDuration == 25 })
	assert.Empty(t, replaced.Data.Error)

	// 循环依赖：保留原时间线，错误写入帧
	cyclic := abcConfig()
	cyclic.Tasks["A"] = model.TaskSpec{InstrumentType: "X", Duration: 5, Action: "a", Dependencies: []string{"C"}}
	require.NoError(t, conn.WriteJSON(TimelineCommand{Type: "replace", Config: &cyclic}))

	failed := readUntil(t, conn, func(m TimelineMessage) bool { return m.Data.Error != "" })
	assert.Contains(t, failed.Data.Error, "cyclic")
	assert.Equal(t, 25.0, failed.Data.Stats.TotalDuration)
}

func TestTimelineWebSocket_CycleRejectedBeforeUpgrade(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	cyclic := abcConfig()
	cyclic.Tasks["A"] = model.TaskSpec{InstrumentType: "X", Duration: 5, Action: "a", Dependencies: []string{"C"}}
	env.seed(t, cyclic, &model.Run{ID: "run-1", WorkflowID: "wf-1", State: model.RunStateRunning})

	resp, err := http.Get(env.server.URL + "/ws/runs/run-1/timeline")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var body struct {
		Error  string   `json:"error"`
		TaskID string   `json:"task_id"`
		Path   []string `json:"path"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.TaskID)
	assert.NotEmpty(t, body.Path)
}

func TestTimelineWebSocket_Errors(t *testing.T) {
	env := newTestEnv(t, newFakeRuns(), nil)
	env.seed(t, abcConfig(), &model.Run{ID: "orphan", State: model.RunStateRunning})

	tests := []struct {
		name string
		path string
		want int
	}{
		{"未知 run", "/ws/runs/missing/timeline", http.StatusNotFound},
		{"run 没有工作流", "/ws/runs/orphan/timeline", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(env.server.URL + tt.path)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	require.NoError(t, env.store.UpsertRun(context.Background(), &model.Run{ID: "run-1", WorkflowID: "wf-1", State: model.RunStateRunning}))
	for _, bad := range []string{"-3", "NaN", "Inf"} {
		resp, err := http.Get(env.server.URL + "/ws/runs/run-1/timeline?elapsed=" + bad)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "elapsed=%s", bad)
	}
}

func TestTimelineWebSocket_Elapsed(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.seed(t, abcConfig(), &model.Run{ID: "run-1", WorkflowID: "wf-1", State: model.RunStatePaused})

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/runs/run-1/timeline?elapsed=7"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	first := readFrame(t, conn)
	assert.Equal(t, 7.0, first.Data.Stats.CurrentTime)
	assert.Equal(t, 2, first.Data.Stats.TaskStats[model.TaskStateCompleted])
	assert.Equal(t, 1, first.Data.Stats.TaskStats[model.TaskStateRunning])
}

// ============================================================================
// 路由与中间件
// ============================================================================

func TestRouter_HealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(env.server.URL + "/api/v1/workflows")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `test_http_requests_total{method="GET",path="/api/v1/workflows",status="200"} 1`)
}

func TestRouter_WorkflowAndRunRoutes(t *testing.T) {
	runs := newFakeRuns(model.Run{ID: "run-1", WorkflowID: "wf-1", State: model.RunStateRunning})
	env := newTestEnv(t, runs, nil)
	env.seed(t, abcConfig(), nil)

	resp, err := http.Get(env.server.URL + "/api/v1/workflows/wf-1/timeline?t=7")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(env.server.URL+"/api/v1/runs/run-1/pause", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Post(env.server.URL+"/api/v1/runs/run-1/tasks/C/skip", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	runs.mu.Lock()
	defer runs.mu.Unlock()
	require.Len(t, runs.cmds, 2)
	assert.Equal(t, runctl.OpPause, runs.cmds[0].Op)
	assert.Equal(t, runctl.OpSkip, runs.cmds[1].Op)
	assert.Equal(t, "C", runs.cmds[1].TaskID)
}

func TestRouter_CORS(t *testing.T) {
	env := newTestEnv(t, nil, func(c *config.Config) {
		c.Server.CORSOrigins = []string{"http://dashboard.local"}
	})

	req, _ := http.NewRequest(http.MethodOptions, env.server.URL+"/api/v1/workflows", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://dashboard.local", resp.Header.Get("Access-Control-Allow-Origin"))

	req, _ = http.NewRequest(http.MethodGet, env.server.URL+"/health", nil)
	req.Header.Set("Origin", "http://evil.local")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRouter_RequestValidation(t *testing.T) {
	env := newTestEnv(t, nil, func(c *config.Config) {
		c.Server.ValidateRequests = true
	})

	post := func(path, body string) *http.Response {
		resp, err := http.Post(env.server.URL+path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	assert.Equal(t, http.StatusBadRequest, post("/api/v1/workflows", `{"name": 5}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post("/api/v1/workflows/import", `{"key": "k"}`).StatusCode)

	valid := `{"name": "abc", "config": {"tasks": {"A": {"instrument_type": "X", "duration": 5, "action": "a"}}, "instruments": {"x1": {"type": "X"}}}}`
	assert.Equal(t, http.StatusCreated, post("/api/v1/workflows", valid).StatusCode)

	resp, err := http.Get(env.server.URL + "/api/v1/runs?limit=9999")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "limit 超过契约上限应被拒绝")

	// 契约外的路径交给 ServeMux
	resp, err = http.Get(env.server.URL + "/api/v1/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLoadContract(t *testing.T) {
	router, err := LoadContract()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows/wf-1/timeline", nil)
	route, params, err := router.FindRoute(req)
	require.NoError(t, err)
	assert.Equal(t, "getWorkflowTimeline", route.Operation.OperationID)
	assert.Equal(t, "wf-1", params["id"])
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/health":                          "/health",
		"/api/v1/workflows":                "/api/v1/workflows",
		"/api/v1/workflows/validate":       "/api/v1/workflows/validate",
		"/api/v1/workflows/wf-1":           "/api/v1/workflows/{id}",
		"/api/v1/workflows/wf-1/timeline":  "/api/v1/workflows/{id}/timeline",
		"/api/v1/workcells/wc-1":           "/api/v1/workcells/{id}",
		"/api/v1/runs/active":              "/api/v1/runs/active",
		"/api/v1/runs/run-1/pause":         "/api/v1/runs/{id}/pause",
		"/api/v1/runs/run-1/tasks/B/retry": "/api/v1/runs/{id}/tasks/{id}/retry",
		"/api/v1/other/x":                  "/api/v1/other/x",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizePath(in), in)
	}
}

// ============================================================================
// RunSync
// ============================================================================

func TestRunSync_Handle(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	runCache := cache.NewMemoryCache()
	s := NewRunSync(eventbus.NewMemoryBus(), store, runCache, NewMetrics("sync_test", nil))

	require.NoError(t, store.UpsertRun(ctx, &model.Run{ID: "run-1", WorkflowID: "wf-1", WorkcellID: "wc-1", State: model.RunStateStarting}))

	states, stop := s.Watch("run-1")
	defer stop()

	s.handle(ctx, &eventbus.RunStateEvent{Type: eventbus.EventRunState, RunID: "run-1", State: model.RunStateRunning})

	select {
	case st := <-states:
		assert.Equal(t, model.RunStateRunning, st)
	case <-time.After(time.Second):
		t.Fatal("watcher 未收到状态")
	}

	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStateRunning, run.State)
	assert.Equal(t, "wf-1", run.WorkflowID)

	entry, err := runCache.GetRunState(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "wc-1", entry.WorkcellID)

	// 任务级事件不修改 run
	s.handle(ctx, &eventbus.RunStateEvent{Type: eventbus.EventTaskSkipped, RunID: "run-1", TaskID: "B"})
	run, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStateRunning, run.State)
	select {
	case st := <-states:
		t.Fatalf("任务事件不应通知 watcher: %s", st)
	default:
	}
}

func TestRunSync_RunConsumesBus(t *testing.T) {
	bus := eventbus.NewMemoryBus()
	store := storage.NewMemoryStore()
	s := NewRunSync(bus, store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// 订阅是异步建立的，重复发布直到落库
	require.Eventually(t, func() bool {
		_ = bus.PublishRunState(ctx, &eventbus.RunStateEvent{
			Type: eventbus.EventRunState, RunID: "run-9", WorkflowID: "wf-9", State: model.RunStatePaused,
		})
		run, err := store.GetRun(ctx, "run-9")
		return err == nil && run.State == model.RunStatePaused
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("RunSync 未退出")
	}
}

// flakyBus 前两次订阅分别失败和立即关闭，之后委托给 MemoryBus
type flakyBus struct {
	*eventbus.MemoryBus
	mu    sync.Mutex
	calls int
}

func (b *flakyBus) SubscribeRunStates(ctx context.Context) (<-chan *eventbus.RunStateEvent, error) {
	b.mu.Lock()
	b.calls++
	n := b.calls
	b.mu.Unlock()

	switch n {
	case 1:
		return nil, errors.New("connection refused")
	case 2:
		ch := make(chan *eventbus.RunStateEvent)
		close(ch)
		return ch, nil
	}
	return b.MemoryBus.SubscribeRunStates(ctx)
}

func (b *flakyBus) subscribeCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func TestRunSync_ResubscribesAfterLostSubscription(t *testing.T) {
	bus := &flakyBus{MemoryBus: eventbus.NewMemoryBus()}
	store := storage.NewMemoryStore()
	s := NewRunSync(bus, store, nil, nil)
	s.retryMin = time.Millisecond
	s.retryMax = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		_ = bus.PublishRunState(ctx, &eventbus.RunStateEvent{
			Type: eventbus.EventRunState, RunID: "run-7", WorkflowID: "wf-7", State: model.RunStateRunning,
		})
		run, err := store.GetRun(ctx, "run-7")
		return err == nil && run.State == model.RunStateRunning
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, bus.subscribeCalls(), 3)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("RunSync 未退出")
	}
}

func TestRunSync_WatchCancel(t *testing.T) {
	s := NewRunSync(eventbus.NewMemoryBus(), storage.NewMemoryStore(), nil, nil)
	_, stop := s.Watch("run-1")
	assert.Equal(t, 1, s.watcherCount("run-1"))
	stop()
	stop()
	assert.Equal(t, 0, s.watcherCount("run-1"))

	// 积压时保留最新状态
	ch, stop2 := s.Watch("run-2")
	defer stop2()
	for i := 0; i < 10; i++ {
		s.notify("run-2", model.RunStatePaused)
	}
	s.notify("run-2", model.RunStateRunning)
	var last model.RunState
	for len(ch) > 0 {
		last = <-ch
	}
	assert.Equal(t, model.RunStateRunning, last, fmt.Sprintf("最后状态 %s", last))
}
