package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"labflow-admin/internal/shared/model"
)

// MemoryStore 进程内 PersistentStore 实现（测试与无数据库部署使用）
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]model.Workflow
	workcells map[string]model.Workcell
	runs      map[string]model.Run
}

var _ PersistentStore = (*MemoryStore)(nil)

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]model.Workflow),
		workcells: make(map[string]model.Workcell),
		runs:      make(map[string]model.Run),
	}
}

func (m *MemoryStore) Close() error { return nil }

// ============================================================================
// Workflow
// ============================================================================

func (m *MemoryStore) CreateWorkflow(_ context.Context, wf *model.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[wf.ID]; ok {
		return ErrDuplicate
	}
	stamp(&wf.CreatedAt, &wf.UpdatedAt)
	m.workflows[wf.ID] = *wf
	return nil
}

func (m *MemoryStore) GetWorkflow(_ context.Context, id string) (*model.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &wf, nil
}

func (m *MemoryStore) ListWorkflows(_ context.Context, opts ListOptions) ([]*model.Workflow, error) {
	m.mu.RLock()
	out := make([]*model.Workflow, 0, len(m.workflows))
	for _, wf := range m.workflows {
		wf := wf
		out = append(out, &wf)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return page(out, opts), nil
}

func (m *MemoryStore) UpdateWorkflow(_ context.Context, wf *model.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.workflows[wf.ID]
	if !ok {
		return ErrNotFound
	}
	wf.CreatedAt = old.CreatedAt
	wf.UpdatedAt = time.Now().UTC()
	m.workflows[wf.ID] = *wf
	return nil
}

func (m *MemoryStore) DeleteWorkflow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[id]; !ok {
		return ErrNotFound
	}
	delete(m.workflows, id)
	return nil
}

// ============================================================================
// Workcell
// ============================================================================

func (m *MemoryStore) CreateWorkcell(_ context.Context, wc *model.Workcell) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workcells[wc.ID]; ok {
		return ErrDuplicate
	}
	stamp(&wc.CreatedAt, &wc.UpdatedAt)
	m.workcells[wc.ID] = *wc
	return nil
}

func (m *MemoryStore) GetWorkcell(_ context.Context, id string) (*model.Workcell, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wc, ok := m.workcells[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &wc, nil
}

func (m *MemoryStore) ListWorkcells(_ context.Context, opts ListOptions) ([]*model.Workcell, error) {
	m.mu.RLock()
	out := make([]*model.Workcell, 0, len(m.workcells))
	for _, wc := range m.workcells {
		wc := wc
		out = append(out, &wc)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return page(out, opts), nil
}

func (m *MemoryStore) UpdateWorkcell(_ context.Context, wc *model.Workcell) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.workcells[wc.ID]
	if !ok {
		return ErrNotFound
	}
	wc.CreatedAt = old.CreatedAt
	wc.UpdatedAt = time.Now().UTC()
	m.workcells[wc.ID] = *wc
	return nil
}

func (m *MemoryStore) DeleteWorkcell(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workcells[id]; !ok {
		return ErrNotFound
	}
	delete(m.workcells, id)
	return nil
}

// ============================================================================
// Run
// ============================================================================

func (m *MemoryStore) UpsertRun(_ context.Context, run *model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.runs[run.ID]; ok {
		// 与 SQL 实现一致：空字段不覆盖已有值
		if run.WorkflowID == "" {
			run.WorkflowID = old.WorkflowID
		}
		if run.WorkcellID == "" {
			run.WorkcellID = old.WorkcellID
		}
		run.CreatedAt = old.CreatedAt
		run.UpdatedAt = time.Now().UTC()
	} else {
		stamp(&run.CreatedAt, &run.UpdatedAt)
	}
	m.runs[run.ID] = *run
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, id string) (*model.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &run, nil
}

func (m *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]*model.Run, error) {
	m.mu.RLock()
	out := make([]*model.Run, 0, len(m.runs))
	for _, run := range m.runs {
		if filter.WorkflowID != "" && run.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.State != "" && run.State != filter.State {
			continue
		}
		run := run
		out = append(out, &run)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return page(out, filter.ListOptions), nil
}

// stamp 为新记录填充时间戳
func stamp(created, updated *time.Time) {
	now := time.Now().UTC()
	if created.IsZero() {
		*created = now
	}
	if updated.IsZero() {
		*updated = *created
	}
}

func newerFirst(a, b time.Time, idA, idB string) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return idA < idB
}

func page[T any](items []T, opts ListOptions) []T {
	opts = opts.Normalize()
	if opts.Offset >= len(items) {
		return []T{}
	}
	end := opts.Offset + opts.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[opts.Offset:end]
}
