// Package eventbus 事件总线类型定义
package eventbus

import (
	"time"

	"labflow-admin/internal/shared/model"
)

// ============================================================================
// 事件类型
// ============================================================================

// EventType run 事件类型
type EventType string

const (
	// EventRunState run 状态变化
	EventRunState EventType = "run_state"
	// EventTaskSkipped 任务被跳过
	EventTaskSkipped EventType = "task_skipped"
	// EventTaskRetried 任务被重试
	EventTaskRetried EventType = "task_retried"
)

// RunStateEvent run manager 发布的 run 事件
//
// ID 由总线分配（Redis Stream 消息 ID），发布时无需填写。
type RunStateEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	RunID      string         `json:"run_id"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	WorkcellID string         `json:"workcell_id,omitempty"`
	State      model.RunState `json:"state"`
	TaskID     string         `json:"task_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Run 转换为 Run 快照
func (e *RunStateEvent) Run() *model.Run {
	return &model.Run{
		ID:         e.RunID,
		WorkflowID: e.WorkflowID,
		WorkcellID: e.WorkcellID,
		State:      e.State,
		UpdatedAt:  e.Timestamp,
	}
}

// ============================================================================
// Key 前缀和常量
// ============================================================================

const (
	// KeyRunStateEvents run 事件流（全局单条 Stream）
	KeyRunStateEvents = "run_state_events"

	// Stream 最大长度
	MaxStreamLength = 1000

	// subscriberBuffer 订阅通道缓冲
	subscriberBuffer = 100
)
