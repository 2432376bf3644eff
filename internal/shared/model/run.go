// Package model 定义核心数据模型
//
// run.go 包含执行相关的数据模型定义：
//   - Run：工作流在某个工作单元上的单次执行实例
//   - RunState：执行状态枚举
package model

import (
	"time"
)

// ============================================================================
// RunState - 执行状态
// ============================================================================

// RunState 表示单次执行（Run）的状态
//
// 状态机由外部 run manager 独占维护，本系统只读取：
//   - 用于控制按钮的可用性判断（CanPause/CanResume/CanStop）
//   - 用于时间线时钟的推进判断（只有 RUNNING 时时钟前进）
//
// 暂停/恢复/停止等操作通过 runctl 以命令形式发给 run manager，
// 结果只能在下一次读取 Run 时观察到。
type RunState string

const (
	RunStateStarting  RunState = "STARTING"
	RunStateRunning   RunState = "RUNNING"
	RunStatePausing   RunState = "PAUSING"
	RunStatePaused    RunState = "PAUSED"
	RunStateResuming  RunState = "RESUMING"
	RunStateStopping  RunState = "STOPPING"
	RunStateStopped   RunState = "STOPPED"
	RunStateCompleted RunState = "COMPLETED"
)

// Valid 判断状态值是否合法
func (s RunState) Valid() bool {
	switch s {
	case RunStateStarting, RunStateRunning, RunStatePausing, RunStatePaused,
		RunStateResuming, RunStateStopping, RunStateStopped, RunStateCompleted:
		return true
	default:
		return false
	}
}

// ============================================================================
// Run - 执行实例
// ============================================================================

// Run 表示工作流的一次执行
//
// 字段说明：
//   - ID：唯一标识符，格式如 "run-abc123"
//   - WorkflowID：所执行的工作流 ID
//   - WorkcellID：执行所在的工作单元 ID
//   - State：执行状态（外部系统维护）
//   - CreatedAt / UpdatedAt：由外部系统设置
type Run struct {
	ID         string    `json:"id" bson:"_id" db:"id"`
	WorkflowID string    `json:"workflow_id" bson:"workflow_id" db:"workflow_id"`
	WorkcellID string    `json:"workcell_id" bson:"workcell_id" db:"workcell_id"`
	State      RunState  `json:"state" bson:"state" db:"state"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" bson:"updated_at" db:"updated_at"`
}

// ============================================================================
// 辅助方法
// ============================================================================

// IsTerminal 判断 Run 是否处于终止状态
func (r *Run) IsTerminal() bool {
	return r.State == RunStateStopped || r.State == RunStateCompleted
}

// IsRunning 判断 Run 是否正在运行（时间线时钟只在此状态下推进）
func (r *Run) IsRunning() bool {
	return r.State == RunStateRunning
}

// CanPause 判断是否可以发送暂停命令
func (r *Run) CanPause() bool {
	return r.State == RunStateRunning
}

// CanResume 判断是否可以发送恢复命令
func (r *Run) CanResume() bool {
	return r.State == RunStatePaused
}

// CanStop 判断是否可以发送停止命令
func (r *Run) CanStop() bool {
	switch r.State {
	case RunStateStarting, RunStateRunning, RunStatePausing, RunStatePaused, RunStateResuming:
		return true
	default:
		return false
	}
}

// CanControlTasks 判断是否可以跳过/重试单个任务
func (r *Run) CanControlTasks() bool {
	return !r.IsTerminal() && r.State != RunStateStopping
}

// Controls 返回当前状态下可用的控制操作（供前端渲染按钮）
func (r *Run) Controls() map[string]bool {
	return map[string]bool{
		"pause":  r.CanPause(),
		"resume": r.CanResume(),
		"stop":   r.CanStop(),
		"skip":   r.CanControlTasks(),
		"retry":  r.CanControlTasks(),
	}
}
