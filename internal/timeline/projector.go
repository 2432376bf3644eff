package timeline

import (
	"math"

	"labflow-admin/internal/shared/model"
)

// Stats 某一时刻的聚合统计
//
// 字段说明：
//   - TaskStats：各状态的任务数（所有状态都有计数项，可能为 0）
//   - InstrumentUtilization：泳道利用率百分比（四舍五入，截断到 [0,100]）
//   - Overcommitted：原始利用率超过 100% 的泳道（任务时间重叠，调度器不做容量约束）
type Stats struct {
	CurrentTime           float64                 `json:"current_time"`
	TotalDuration         float64                 `json:"total_duration"`
	TaskStats             map[model.TaskState]int `json:"task_stats"`
	InstrumentUtilization map[string]int          `json:"instrument_utilization"`
	Overcommitted         []string                `json:"overcommitted,omitempty"`
}

// StateAt 推导任务在 currentTime 时刻的运行状态
//
//	currentTime >= end   → COMPLETED
//	currentTime >= start → RUNNING
//	否则                 → PENDING
func StateAt(task *TimelineTask, currentTime float64) model.TaskState {
	switch {
	case currentTime >= task.End:
		return model.TaskStateCompleted
	case currentTime >= task.Start:
		return model.TaskStateRunning
	default:
		return model.TaskStatePending
	}
}

// Project 把 currentTime 投影到时间线上：刷新每个任务的 State 并返回聚合统计
//
// 每次调用都整体重新计算，不影响任务的 Start/End。
func (tl *Timeline) Project(currentTime float64) Stats {
	stats := Stats{
		CurrentTime:           currentTime,
		TotalDuration:         tl.TotalDuration,
		TaskStats:             make(map[model.TaskState]int, len(model.AllTaskStates)),
		InstrumentUtilization: make(map[string]int, len(tl.Lanes)),
	}
	for _, s := range model.AllTaskStates {
		stats.TaskStats[s] = 0
	}

	for i := range tl.Tasks {
		task := &tl.Tasks[i]
		task.State = StateAt(task, currentTime)
		stats.TaskStats[task.State]++
	}

	for i := range tl.Lanes {
		lane := &tl.Lanes[i]
		raw := laneUtilization(lane, tl.TotalDuration)
		if raw > 100 {
			stats.Overcommitted = append(stats.Overcommitted, lane.InstrumentType)
			raw = 100
		}
		stats.InstrumentUtilization[lane.InstrumentType] = raw
	}
	return stats
}

// laneUtilization 泳道内任务时长之和 / 总时长，百分比取整，总时长为 0 时为 0
func laneUtilization(lane *Lane, total float64) int {
	if total <= 0 {
		return 0
	}
	busy := 0.0
	for _, task := range lane.tasks {
		busy += task.Duration()
	}
	pct := int(math.Round(busy / total * 100))
	if pct < 0 {
		return 0
	}
	return pct
}
