// Package cache 缓存层类型定义
package cache

import (
	"time"

	"labflow-admin/internal/shared/model"
)

// ============================================================================
// 缓存数据类型
// ============================================================================

// RunStateEntry run 状态快照
//
// 由 run 事件同步写入，时间线会话启动时优先从这里读取当前状态，
// 未命中再回源 run manager。
type RunStateEntry struct {
	RunID      string         `json:"run_id" redis:"run_id"`
	WorkflowID string         `json:"workflow_id" redis:"workflow_id"`
	WorkcellID string         `json:"workcell_id" redis:"workcell_id"`
	State      model.RunState `json:"state" redis:"state"`
	UpdatedAt  time.Time      `json:"updated_at" redis:"updated_at"`
}

// FromRun 由 Run 构造缓存条目
func FromRun(run *model.Run) *RunStateEntry {
	updated := run.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return &RunStateEntry{
		RunID:      run.ID,
		WorkflowID: run.WorkflowID,
		WorkcellID: run.WorkcellID,
		State:      run.State,
		UpdatedAt:  updated,
	}
}

// Terminal 是否处于终止状态
func (e *RunStateEntry) Terminal() bool {
	return e.State == model.RunStateStopped || e.State == model.RunStateCompleted
}

// ============================================================================
// Key 前缀和 TTL 常量
// ============================================================================

const (
	// Key 前缀
	KeyRunState   = "run_state:"
	KeyActiveRuns = "active_runs"

	// TTLRunState 默认过期时间，可通过 redis.run_state_ttl 覆盖
	TTLRunState = 24 * time.Hour
)
