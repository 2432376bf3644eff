// Package workflow 工作流库 - Handler 单元测试
//
// 使用 storage.MemoryStore 与内存归档隔离外部依赖。
package workflow

import (
	"bytes"
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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow-admin/internal/shared/model"
	"labflow-admin/internal/shared/objstore"
	"labflow-admin/internal/shared/storage"
	"labflow-admin/internal/timeline"
)

// ============================================================================
// Mock 实现
// ============================================================================

// memoryArchive 内存归档（实现 Archive 接口）
type memoryArchive struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
}

func newMemoryArchive() *memoryArchive {
	return &memoryArchive{objects: make(map[string][]byte)}
}

func (a *memoryArchive) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	if a.uploadErr != nil {
		return a.uploadErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[key] = data
	return nil
}

func (a *memoryArchive) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", objstore.ErrObjectNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// ============================================================================
// 测试工具
// ============================================================================

const abcJSON = `{
  "tasks": {
    "A": {"instrument_type": "X", "duration": 5, "action": "a"},
    "B": {"instrument_type": "X", "duration": 5, "action": "b"},
    "C": {"instrument_type": "X", "duration": 5, "action": "c", "dependencies": ["A", "B"]}
  },
  "instruments": {"x1": {"type": "X", "capacity": 1}}
}`

const cycleYAML = `
tasks:
  A: {instrument_type: X, duration: 1, action: a, dependencies: [B]}
  B: {instrument_type: X, duration: 1, action: b, dependencies: [A]}
instruments:
  x1: {type: X}
`

type testEnv struct {
	mux      *http.ServeMux
	store    *storage.MemoryStore
	archive  *memoryArchive
	compiles []error
}

func newTestEnv(t *testing.T, withArchive bool) *testEnv {
	t.Helper()
	env := &testEnv{mux: http.NewServeMux(), store: storage.NewMemoryStore()}
	var archive Archive
	if withArchive {
		env.archive = newMemoryArchive()
		archive = env.archive
	}
	h := NewHandler(env.store, archive, func(err error, _ time.Duration) {
		env.compiles = append(env.compiles, err)
	})
	h.RegisterRoutes(env.mux)
	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seed(t *testing.T, id string, cfg *model.WorkflowConfig) {
	t.Helper()
	require.NoError(t, e.store.CreateWorkflow(context.Background(), &model.Workflow{ID: id, Name: id, Config: *cfg}))
}

func createBody(t *testing.T, name string, cfg json.RawMessage) string {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{"name": name, "config": cfg})
	require.NoError(t, err)
	return string(b)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// ============================================================================
// CRUD
// ============================================================================

func TestCreateAndGet(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do("POST", "/api/v1/workflows", createBody(t, "abc", json.RawMessage(abcJSON)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	created := decode[model.Workflow](t, w)
	assert.True(t, strings.HasPrefix(created.ID, "wf-"))
	assert.Len(t, created.Config.Tasks, 3)

	w = env.do("GET", "/api/v1/workflows/"+created.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[model.Workflow](t, w)
	assert.Equal(t, "abc", got.Name)
	assert.Equal(t, []string{"A", "B"}, got.Config.Tasks["C"].Dependencies)
}

func TestCreateFromYAMLSource(t *testing.T) {
	env := newTestEnv(t, false)
	source := "tasks:\n  A: {instrument_type: X, duration: 2, action: a}\ninstruments:\n  x1: {type: X}\n"
	body, _ := json.Marshal(map[string]string{"name": "yaml", "source": source})

	w := env.do("POST", "/api/v1/workflows", string(body))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	got := decode[model.Workflow](t, w)
	assert.Equal(t, 2.0, got.Config.Tasks["A"].Duration)
}

func TestCreateReturnsWarnings(t *testing.T) {
	env := newTestEnv(t, false)
	cfg := `{"tasks": {"A": {"instrument_type": "Z", "duration": 1, "action": "a", "dependencies": ["ghost"]}},
	         "instruments": {"x1": {"type": "X"}}}`

	w := env.do("POST", "/api/v1/workflows", createBody(t, "warn", json.RawMessage(cfg)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[map[string]interface{}](t, w)
	warnings, ok := resp["warnings"].([]interface{})
	require.True(t, ok, "warnings missing: %s", w.Body.String())
	assert.Len(t, warnings, 2)
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t, false)

	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/api/v1/workflows", "not json").Code)
	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/api/v1/workflows", `{"config": {}}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/api/v1/workflows", `{"name": "x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/api/v1/workflows", `{"name": "x", "source": "   "}`).Code)
}

func TestCreateRejectsCycle(t *testing.T) {
	env := newTestEnv(t, false)
	body, _ := json.Marshal(map[string]string{"name": "cyc", "source": cycleYAML})

	w := env.do("POST", "/api/v1/workflows", string(body))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	resp := decode[map[string]interface{}](t, w)
	assert.Contains(t, resp["error"], "cyclic dependency")
	path, _ := resp["path"].([]interface{})
	assert.Len(t, path, 3)

	list, err := env.store.ListWorkflows(context.Background(), storage.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list)
	require.Len(t, env.compiles, 1)
	assert.True(t, errors.Is(env.compiles[0], timeline.ErrCyclicDependency))
}

func TestListUpdateDelete(t *testing.T) {
	env := newTestEnv(t, false)
	env.seed(t, "wf-1", &model.WorkflowConfig{})

	w := env.do("GET", "/api/v1/workflows?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[map[string]interface{}](t, w)
	assert.EqualValues(t, 1, list["count"])

	w = env.do("PUT", "/api/v1/workflows/wf-1", createBody(t, "renamed", json.RawMessage(abcJSON)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got, err := env.store.GetWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Len(t, got.Config.Tasks, 3)

	body, _ := json.Marshal(map[string]string{"source": cycleYAML})
	assert.Equal(t, http.StatusUnprocessableEntity, env.do("PUT", "/api/v1/workflows/wf-1", string(body)).Code)

	assert.Equal(t, http.StatusNoContent, env.do("DELETE", "/api/v1/workflows/wf-1", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do("GET", "/api/v1/workflows/wf-1", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do("DELETE", "/api/v1/workflows/wf-1", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do("PUT", "/api/v1/workflows/wf-1", `{"name": "x"}`).Code)
}

// ============================================================================
// 时间线
// ============================================================================

func TestTimelineSnapshot(t *testing.T) {
	env := newTestEnv(t, false)
	var cfg model.WorkflowConfig
	require.NoError(t, json.Unmarshal([]byte(abcJSON), &cfg))
	env.seed(t, "wf-abc", &cfg)

	w := env.do("GET", "/api/v1/workflows/wf-abc/timeline?t=7", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[TimelineResponse](t, w)
	assert.Equal(t, 10.0, resp.Timeline.TotalDuration)
	assert.Equal(t, 7.0, resp.Stats.CurrentTime)
	assert.Equal(t, 2, resp.Stats.TaskStats[model.TaskStateCompleted])
	assert.Equal(t, 1, resp.Stats.TaskStats[model.TaskStateRunning])
	assert.Equal(t, 100, resp.Stats.InstrumentUtilization["X"])
	assert.Equal(t, []string{"X"}, resp.Stats.Overcommitted)

	states := map[string]model.TaskState{}
	for _, task := range resp.Timeline.Tasks {
		states[task.ID] = task.State
	}
	assert.Equal(t, model.TaskStateRunning, states["C"])
}

func TestTimelineClampsTime(t *testing.T) {
	env := newTestEnv(t, false)
	var cfg model.WorkflowConfig
	require.NoError(t, json.Unmarshal([]byte(abcJSON), &cfg))
	env.seed(t, "wf-abc", &cfg)

	resp := decode[TimelineResponse](t, env.do("GET", "/api/v1/workflows/wf-abc/timeline?t=99", ""))
	assert.Equal(t, 10.0, resp.Stats.CurrentTime)
	assert.Equal(t, 3, resp.Stats.TaskStats[model.TaskStateCompleted])

	resp = decode[TimelineResponse](t, env.do("GET", "/api/v1/workflows/wf-abc/timeline?t=-3", ""))
	assert.Equal(t, 0.0, resp.Stats.CurrentTime)

	for _, bad := range []string{"abc", "NaN", "Inf", "-Inf", "1e400"} {
		w := env.do("GET", "/api/v1/workflows/wf-abc/timeline?t="+bad, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, "t=%s", bad)
		assert.Contains(t, w.Body.String(), "invalid t", "t=%s", bad)
	}
	assert.Equal(t, http.StatusNotFound, env.do("GET", "/api/v1/workflows/missing/timeline", "").Code)
}

func TestTimelineCycleIs422(t *testing.T) {
	env := newTestEnv(t, false)
	cfg, err := model.ParseWorkflowConfig([]byte(cycleYAML))
	require.NoError(t, err)
	env.seed(t, "wf-cyc", cfg)

	w := env.do("GET", "/api/v1/workflows/wf-cyc/timeline", "")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decode[map[string]interface{}](t, w)
	assert.Contains(t, []interface{}{"A", "B"}, resp["task_id"])
}

func TestValidate(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do("POST", "/api/v1/workflows/validate", createBody(t, "", json.RawMessage(abcJSON)))
	require.Equal(t, http.StatusOK, w.Code)
	ok := decode[ValidateResponse](t, w)
	assert.True(t, ok.Valid)
	assert.Equal(t, 10.0, ok.TotalDuration)
	assert.Empty(t, ok.Warnings)

	body, _ := json.Marshal(map[string]string{"source": cycleYAML})
	w = env.do("POST", "/api/v1/workflows/validate", string(body))
	require.Equal(t, http.StatusOK, w.Code)
	bad := decode[ValidateResponse](t, w)
	assert.False(t, bad.Valid)
	assert.NotEmpty(t, bad.Error)
	assert.Len(t, bad.Cycle, 3)
}

// ============================================================================
// 导出 / 导入
// ============================================================================

func TestExportImportRoundTrip(t *testing.T) {
	env := newTestEnv(t, true)
	var cfg model.WorkflowConfig
	require.NoError(t, json.Unmarshal([]byte(abcJSON), &cfg))
	env.seed(t, "wf-abc", &cfg)

	w := env.do("POST", "/api/v1/workflows/wf-abc/export", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	exported := decode[map[string]interface{}](t, w)
	assert.Equal(t, "workflows/wf-abc.yaml", exported["key"])
	assert.Contains(t, string(env.archive.objects["workflows/wf-abc.yaml"]), "instrument_type: X")

	w = env.do("POST", "/api/v1/workflows/import", `{"key": "workflows/wf-abc.yaml", "name": "copy"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	imported := decode[model.Workflow](t, w)
	assert.NotEqual(t, "wf-abc", imported.ID)
	assert.Equal(t, "copy", imported.Name)
	assert.Equal(t, cfg.Tasks, imported.Config.Tasks)
}

func TestImportErrors(t *testing.T) {
	env := newTestEnv(t, true)
	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/api/v1/workflows/import", `{"key": "k"}`).Code)
	assert.Equal(t, http.StatusNotFound, env.do("POST", "/api/v1/workflows/import", `{"key": "missing.yaml", "name": "n"}`).Code)

	env.archive.objects["bad.yaml"] = []byte("tasks: [unclosed")
	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/api/v1/workflows/import", `{"key": "bad.yaml", "name": "n"}`).Code)
}

func TestExportUploadFailure(t *testing.T) {
	env := newTestEnv(t, true)
	env.seed(t, "wf-1", &model.WorkflowConfig{})
	env.archive.uploadErr = errors.New("connection refused")

	w := env.do("POST", "/api/v1/workflows/wf-1/export", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "export failed")
}

func TestArchiveNotConfigured(t *testing.T) {
	env := newTestEnv(t, false)
	env.seed(t, "wf-1", &model.WorkflowConfig{})
	assert.Equal(t, http.StatusServiceUnavailable, env.do("POST", "/api/v1/workflows/wf-1/export", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, env.do("POST", "/api/v1/workflows/import", `{"key": "k", "name": "n"}`).Code)
}
