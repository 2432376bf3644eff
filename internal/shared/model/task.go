// Package model 定义核心数据模型
//
// task.go 包含工作流任务相关的数据模型定义：
//   - TaskSpec：任务的线上格式（JSON/YAML，可选字段决定任务种类）
//   - Task：规范化后的任务（显式的 TaskPayload 标签联合）
//   - TaskKind：任务种类枚举
//   - TaskState：任务运行状态枚举
package model

// ============================================================================
// TaskKind - 任务种类
// ============================================================================

// TaskKind 任务种类，由 TaskSpec 中填充的可选字段推断
//
// 多个形状同时匹配时按 pickup > dropoff > move > action 的优先级取第一个，
// 无法推断时回退为 action。
type TaskKind string

const (
	// TaskKindPickup 取件：携带 labware_id + destination_slot
	TaskKindPickup TaskKind = "pickup"

	// TaskKindDropoff 放件：携带 labware_id + destination_task
	TaskKindDropoff TaskKind = "dropoff"

	// TaskKindMove 搬运：携带 moves 列表
	TaskKindMove TaskKind = "move"

	// TaskKindAction 动作：携带 action 名称（默认种类）
	TaskKindAction TaskKind = "action"
)

// ============================================================================
// TaskState - 任务运行状态
// ============================================================================

// TaskState 表示时间线上单个任务的运行状态
//
// PENDING/RUNNING/COMPLETED 由时间线投影器根据当前时间推导；
// FAILED/SKIPPED 只能来自外部 run manager 的信号，投影器从不产生。
type TaskState string

const (
	TaskStatePending   TaskState = "PENDING"
	TaskStateRunning   TaskState = "RUNNING"
	TaskStateCompleted TaskState = "COMPLETED"
	TaskStateFailed    TaskState = "FAILED"
	TaskStateSkipped   TaskState = "SKIPPED"
)

// AllTaskStates 所有任务状态（统计时保证每个状态都有计数项）
var AllTaskStates = []TaskState{
	TaskStatePending,
	TaskStateRunning,
	TaskStateCompleted,
	TaskStateFailed,
	TaskStateSkipped,
}

// ============================================================================
// TaskSpec - 线上格式
// ============================================================================

// LabwareMove 单次耗材搬运
type LabwareMove struct {
	LabwareID       string `json:"labware_id" yaml:"labware_id" bson:"labware_id"`
	DestinationSlot string `json:"destination_slot,omitempty" yaml:"destination_slot,omitempty" bson:"destination_slot,omitempty"`
	DestinationTask string `json:"destination_task,omitempty" yaml:"destination_task,omitempty" bson:"destination_task,omitempty"`
}

// TaskSpec 工作流配置中的任务定义（线上格式）
//
// 任务种类不是显式字段，而是由下列可选字段的填充情况决定：
//   - LabwareID + DestinationSlot → pickup
//   - LabwareID + DestinationTask → dropoff
//   - Moves 非空 → move
//   - Action 非空 → action
//
// 规范化为 Task 的工作由 taskgraph 包在配置边界一次性完成。
type TaskSpec struct {
	InstrumentType string                 `json:"instrument_type" yaml:"instrument_type" bson:"instrument_type"`
	Duration       float64                `json:"duration" yaml:"duration" bson:"duration"`
	Dependencies   []string               `json:"dependencies,omitempty" yaml:"dependencies,omitempty" bson:"dependencies,omitempty"`
	Arguments      map[string]interface{} `json:"args,omitempty" yaml:"args,omitempty" bson:"args,omitempty"`

	// 种类相关的可选字段
	LabwareID       string        `json:"labware_id,omitempty" yaml:"labware_id,omitempty" bson:"labware_id,omitempty"`
	DestinationSlot string        `json:"destination_slot,omitempty" yaml:"destination_slot,omitempty" bson:"destination_slot,omitempty"`
	DestinationTask string        `json:"destination_task,omitempty" yaml:"destination_task,omitempty" bson:"destination_task,omitempty"`
	Moves           []LabwareMove `json:"moves,omitempty" yaml:"moves,omitempty" bson:"moves,omitempty"`
	Action          string        `json:"action,omitempty" yaml:"action,omitempty" bson:"action,omitempty"`
}

// ============================================================================
// Task - 规范化任务
// ============================================================================

// TaskPayload 任务种类相关的载荷（标签联合）
//
// 只有本包中的四种实现：PickupPayload、DropoffPayload、MovePayload、ActionPayload。
type TaskPayload interface {
	Kind() TaskKind
	isTaskPayload()
}

// PickupPayload 取件载荷
type PickupPayload struct {
	LabwareID       string `json:"labware_id"`
	DestinationSlot string `json:"destination_slot"`
}

// DropoffPayload 放件载荷
type DropoffPayload struct {
	LabwareID       string `json:"labware_id"`
	DestinationTask string `json:"destination_task"`
}

// MovePayload 搬运载荷
type MovePayload struct {
	Moves []LabwareMove `json:"moves"`
}

// ActionPayload 动作载荷，Action 可能为空（无法推断种类时的回退）
type ActionPayload struct {
	Action string `json:"action,omitempty"`
}

func (PickupPayload) Kind() TaskKind  { return TaskKindPickup }
func (DropoffPayload) Kind() TaskKind { return TaskKindDropoff }
func (MovePayload) Kind() TaskKind    { return TaskKindMove }
func (ActionPayload) Kind() TaskKind  { return TaskKindAction }

func (PickupPayload) isTaskPayload()  {}
func (DropoffPayload) isTaskPayload() {}
func (MovePayload) isTaskPayload()    {}
func (ActionPayload) isTaskPayload()  {}

// Task 规范化后的可调度任务
//
// 字段说明：
//   - ID：任务唯一标识，在重新计算之间保持稳定
//   - InstrumentType：执行该任务所需的仪器类型
//   - Duration：任务开始后占用仪器的秒数（非负）
//   - Dependencies：必须先完成的任务 ID
//   - Arguments：种类相关的自由参数（调度器不解释）
//   - Payload：种类相关的载荷
type Task struct {
	ID             string                 `json:"id"`
	InstrumentType string                 `json:"instrument_type"`
	Duration       float64                `json:"duration"`
	Dependencies   []string               `json:"dependencies,omitempty"`
	Arguments      map[string]interface{} `json:"args,omitempty"`
	Payload        TaskPayload            `json:"payload"`
}

// Kind 返回任务种类
func (t *Task) Kind() TaskKind {
	if t.Payload == nil {
		return TaskKindAction
	}
	return t.Payload.Kind()
}

// DependsOn 判断任务是否直接依赖 id
func (t *Task) DependsOn(id string) bool {
	for _, dep := range t.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}
