// Package repository SQLite 集成测试
//
// 使用 SQLite 内存数据库验证 repository 层存储接口的正确性。
package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"labflow-admin/internal/shared/model"
	"labflow-admin/internal/shared/storage"
	"labflow-admin/internal/shared/storage/dbutil"
	sqlitedriver "labflow-admin/internal/shared/storage/driver/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore 创建用于测试的 SQLite 内存数据库 Store
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	dialect := sqlitedriver.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleConfig() model.WorkflowConfig {
	return model.WorkflowConfig{
		Tasks: map[string]model.TaskSpec{
			"pick": {InstrumentType: "arm", Duration: 4, LabwareID: "plate1", DestinationSlot: "s1"},
			"mix":  {InstrumentType: "mixer", Duration: 30, Action: "mix", Dependencies: []string{"pick"}},
		},
		Instruments: map[string]model.Instrument{
			"arm1":   {Type: "arm"},
			"mixer1": {Type: "mixer", Capacity: 2},
		},
		Labware: map[string]model.Labware{
			"plate1": {StartingLocation: model.Location{Instrument: "arm1", Slot: "a"}},
		},
	}
}

// ============================================================================
// Dialect 基础测试
// ============================================================================

func TestDialectTypes(t *testing.T) {
	d := sqlitedriver.NewDialect()
	assert.Equal(t, dbutil.DriverSQLite, d.DriverType())
	assert.Equal(t, "datetime('now')", d.CurrentTimestamp())
	assert.Equal(t, "ON CONFLICT (id) DO UPDATE SET a = 1, b = 2", d.UpsertConflict("id", []string{"a = 1", "b = 2"}))
}

func TestRebind(t *testing.T) {
	d := sqlitedriver.NewDialect()
	assert.Equal(t, "SELECT * FROM t WHERE id = ? AND name = ?",
		d.Rebind("SELECT * FROM t WHERE id = $1 AND name = $2"))
	assert.Equal(t, "UPDATE t SET state = ? WHERE id = ?",
		d.Rebind("UPDATE t SET state = $1::varchar WHERE id = $2"))
}

// ============================================================================
// Workflow 测试
// ============================================================================

func TestWorkflowCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	wf := &model.Workflow{
		ID:          "wf-001",
		Name:        "Plate prep",
		Description: "pick and mix",
		Config:      sampleConfig(),
		CreatedAt:   now,
	}
	require.NoError(t, s.CreateWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, "wf-001")
	require.NoError(t, err)
	assert.Equal(t, "Plate prep", got.Name)
	assert.Equal(t, "pick and mix", got.Description)
	assert.True(t, now.Equal(got.CreatedAt))
	require.Contains(t, got.Config.Tasks, "mix")
	assert.Equal(t, []string{"pick"}, got.Config.Tasks["mix"].Dependencies)
	assert.Equal(t, 30.0, got.Config.Tasks["mix"].Duration)
	assert.Equal(t, 2, got.Config.Instruments["mixer1"].Capacity)
	assert.Equal(t, "arm1", got.Config.Labware["plate1"].StartingLocation.Instrument)

	got.Name = "Plate prep v2"
	got.Config.Tasks["mix"] = model.TaskSpec{InstrumentType: "mixer", Duration: 45, Action: "mix"}
	require.NoError(t, s.UpdateWorkflow(ctx, got))

	again, err := s.GetWorkflow(ctx, "wf-001")
	require.NoError(t, err)
	assert.Equal(t, "Plate prep v2", again.Name)
	assert.Equal(t, 45.0, again.Config.Tasks["mix"].Duration)

	require.NoError(t, s.DeleteWorkflow(ctx, "wf-001"))
	_, err = s.GetWorkflow(ctx, "wf-001")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestWorkflowDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateWorkflow(ctx, &model.Workflow{ID: "wf-1", Name: "a"}))
	err := s.CreateWorkflow(ctx, &model.Workflow{ID: "wf-1", Name: "b"})
	assert.True(t, errors.Is(err, storage.ErrDuplicate))
}

func TestWorkflowMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.UpdateWorkflow(ctx, &model.Workflow{ID: "nope", Name: "x"})
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.True(t, errors.Is(s.DeleteWorkflow(ctx, "nope"), storage.ErrNotFound))
}

func TestListWorkflowsOrderAndPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i, id := range []string{"wf-a", "wf-b", "wf-c"} {
		require.NoError(t, s.CreateWorkflow(ctx, &model.Workflow{
			ID: id, Name: id, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.ListWorkflows(ctx, storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "wf-c", all[0].ID)
	assert.Equal(t, "wf-a", all[2].ID)

	page, err := s.ListWorkflows(ctx, storage.ListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "wf-b", page[0].ID)
}

// ============================================================================
// Workcell 测试
// ============================================================================

func TestWorkcellCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wc := &model.Workcell{
		ID:   "wc-1",
		Name: "Bench 1",
		Instruments: map[string]model.InstrumentDriver{
			"arm1": {Type: "arm", Driver: "ur5", Config: map[string]interface{}{"host": "10.0.0.5"}},
		},
	}
	require.NoError(t, s.CreateWorkcell(ctx, wc))

	got, err := s.GetWorkcell(ctx, "wc-1")
	require.NoError(t, err)
	assert.Equal(t, "ur5", got.Instruments["arm1"].Driver)
	assert.Equal(t, "10.0.0.5", got.Instruments["arm1"].Config["host"])
	assert.True(t, got.InstrumentTypes()["arm"])

	got.Instruments["mixer1"] = model.InstrumentDriver{Type: "mixer", Driver: "sim"}
	require.NoError(t, s.UpdateWorkcell(ctx, got))

	list, err := s.ListWorkcells(ctx, storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Instruments, 2)

	require.NoError(t, s.DeleteWorkcell(ctx, "wc-1"))
	_, err = s.GetWorkcell(ctx, "wc-1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

// ============================================================================
// Run 测试
// ============================================================================

func TestRunUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRun(ctx, &model.Run{
		ID: "run-1", WorkflowID: "wf-1", WorkcellID: "wc-1", State: model.RunStateStarting,
	}))

	// 状态事件只带 ID 和状态，不应清空已知的关联
	require.NoError(t, s.UpsertRun(ctx, &model.Run{ID: "run-1", State: model.RunStateRunning}))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStateRunning, got.State)
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.Equal(t, "wc-1", got.WorkcellID)

	_, err = s.GetRun(ctx, "run-404")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestListRunsFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	runs := []*model.Run{
		{ID: "r1", WorkflowID: "wf-1", State: model.RunStateRunning},
		{ID: "r2", WorkflowID: "wf-1", State: model.RunStateCompleted},
		{ID: "r3", WorkflowID: "wf-2", State: model.RunStateRunning},
	}
	for _, r := range runs {
		require.NoError(t, s.UpsertRun(ctx, r))
	}

	byWorkflow, err := s.ListRuns(ctx, storage.RunFilter{WorkflowID: "wf-1"})
	require.NoError(t, err)
	assert.Len(t, byWorkflow, 2)

	running, err := s.ListRuns(ctx, storage.RunFilter{State: model.RunStateRunning})
	require.NoError(t, err)
	assert.Len(t, running, 2)

	both, err := s.ListRuns(ctx, storage.RunFilter{WorkflowID: "wf-2", State: model.RunStateRunning})
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, "r3", both[0].ID)

	none, err := s.ListRuns(ctx, storage.RunFilter{WorkflowID: "wf-9"})
	require.NoError(t, err)
	assert.Empty(t, none)
}
