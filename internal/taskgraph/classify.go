// Package taskgraph 工作流任务图模型
//
// 负责在配置边界把线上格式的 TaskSpec 一次性转换为规范化的 model.Task
// （显式标签联合），并在调度前检查任务图的结构完整性。
//
// 结构问题（未知仪器类型、缺失依赖、负时长、无法分类的载荷）只产生
// ConfigurationError 告警，不会阻止时间线计算；循环依赖由 timeline 包检测。
package taskgraph

import (
	"strconv"

	"labflow-admin/internal/shared/model"
)

// Classify 根据 TaskSpec 中填充的可选字段推断任务种类
//
// 优先级：pickup > dropoff > move > action（先匹配者胜出），
// 没有任何形状匹配时回退为 action，从不失败。
func Classify(spec model.TaskSpec) model.TaskKind {
	switch {
	case isPickup(spec):
		return model.TaskKindPickup
	case isDropoff(spec):
		return model.TaskKindDropoff
	case isMove(spec):
		return model.TaskKindMove
	default:
		return model.TaskKindAction
	}
}

func isPickup(spec model.TaskSpec) bool {
	return spec.LabwareID != "" && spec.DestinationSlot != ""
}

func isDropoff(spec model.TaskSpec) bool {
	return spec.LabwareID != "" && spec.DestinationTask != ""
}

func isMove(spec model.TaskSpec) bool {
	return len(spec.Moves) > 0
}

// matchedShapes 返回 spec 同时匹配的形状数量（用于歧义告警）
func matchedShapes(spec model.TaskSpec) int {
	n := 0
	for _, ok := range []bool{isPickup(spec), isDropoff(spec), isMove(spec), spec.Action != ""} {
		if ok {
			n++
		}
	}
	return n
}

// Normalize 将线上格式转换为规范化任务
func Normalize(id string, spec model.TaskSpec) model.Task {
	task := model.Task{
		ID:             id,
		InstrumentType: spec.InstrumentType,
		Duration:       spec.Duration,
		Dependencies:   append([]string(nil), spec.Dependencies...),
		Arguments:      spec.Arguments,
	}

	switch Classify(spec) {
	case model.TaskKindPickup:
		task.Payload = model.PickupPayload{LabwareID: spec.LabwareID, DestinationSlot: spec.DestinationSlot}
	case model.TaskKindDropoff:
		task.Payload = model.DropoffPayload{LabwareID: spec.LabwareID, DestinationTask: spec.DestinationTask}
	case model.TaskKindMove:
		task.Payload = model.MovePayload{Moves: append([]model.LabwareMove(nil), spec.Moves...)}
	default:
		task.Payload = model.ActionPayload{Action: spec.Action}
	}
	return task
}

// Describe 生成任务的简短展示文本，只依赖任务已填充的字段
//
// 示例：
//   - action  → "liquid_handling (15s)"
//   - pickup  → "Labware: labware1"
//   - dropoff → "Labware: labware1"
//   - move    → "2 moves"
func Describe(task *model.Task) string {
	switch p := task.Payload.(type) {
	case model.PickupPayload:
		return "Labware: " + p.LabwareID
	case model.DropoffPayload:
		return "Labware: " + p.LabwareID
	case model.MovePayload:
		if len(p.Moves) == 1 {
			return "1 move"
		}
		return strconv.Itoa(len(p.Moves)) + " moves"
	case model.ActionPayload:
		name := p.Action
		if name == "" {
			name = string(model.TaskKindAction)
		}
		return name + " (" + formatSeconds(task.Duration) + ")"
	default:
		return string(model.TaskKindAction) + " (" + formatSeconds(task.Duration) + ")"
	}
}

func formatSeconds(d float64) string {
	return strconv.FormatFloat(d, 'f', -1, 64) + "s"
}
