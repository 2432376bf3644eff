// Package storage 定义持久化存储层抽象接口
//
// 调用方只依赖接口，具体实现在子包中：
//   - repository/：SQL 实现（SQLite / PostgreSQL，通过 dbutil.Dialect 屏蔽差异）
//   - mongostore/：MongoDB 实现
//   - NewMemoryStore：进程内实现（测试与无数据库部署）
//
// run 状态缓存与事件流在独立包中：cache/、eventbus/。
package storage

import (
	"context"

	"labflow-admin/internal/shared/model"
)

// ListOptions 分页参数
type ListOptions struct {
	Limit  int
	Offset int
}

// Normalize 填充缺省分页参数
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 || o.Limit > 500 {
		o.Limit = 100
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// RunFilter run 查询条件
type RunFilter struct {
	WorkflowID string
	State      model.RunState
	ListOptions
}

// WorkflowStore 工作流库
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, wf *model.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*model.Workflow, error)
	ListWorkflows(ctx context.Context, opts ListOptions) ([]*model.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *model.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
}

// WorkcellStore 工作单元库
type WorkcellStore interface {
	CreateWorkcell(ctx context.Context, wc *model.Workcell) error
	GetWorkcell(ctx context.Context, id string) (*model.Workcell, error)
	ListWorkcells(ctx context.Context, opts ListOptions) ([]*model.Workcell, error)
	UpdateWorkcell(ctx context.Context, wc *model.Workcell) error
	DeleteWorkcell(ctx context.Context, id string) error
}

// RunStore run 记录（由 run manager 的状态事件同步而来）
type RunStore interface {
	UpsertRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*model.Run, error)
}

// PersistentStore 持久化存储
type PersistentStore interface {
	WorkflowStore
	WorkcellStore
	RunStore
	Close() error
}
