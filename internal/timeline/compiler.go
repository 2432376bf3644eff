// Package timeline 任务时间线编译与实时状态投影
//
// 核心流程：
//
//	WorkflowConfig → taskgraph.Build → Compile → Timeline
//	Timeline + currentTime → Project → Stats（每个时钟 tick 重新计算）
//
// Compile 是纯函数：对同一配置多次调用得到相同的 start/end。
// 开始时间按依赖做前向调度（关键路径式），不考虑仪器容量冲突，
// 同一泳道中时间重叠的任务会使利用率超过 100%（见 Project）。
package timeline

import (
	"labflow-admin/internal/shared/model"
	"labflow-admin/internal/taskgraph"
)

// TimelineTask 时间线上的任务
//
// Start/End 为相对工作流开始的秒数，编译后固定不变；
// State 由 Project 在每个 tick 刷新。
type TimelineTask struct {
	ID             string          `json:"id"`
	Kind           model.TaskKind  `json:"kind"`
	InstrumentType string          `json:"instrument_type"`
	Dependencies   []string        `json:"dependencies,omitempty"`
	Description    string          `json:"description"`
	Start          float64         `json:"start"`
	End            float64         `json:"end"`
	State          model.TaskState `json:"state"`
}

// Duration 返回任务占用泳道的时长
func (t *TimelineTask) Duration() float64 {
	return t.End - t.Start
}

// Lane 仪器泳道：同一仪器类型的任务集合（按时间线顺序）
type Lane struct {
	InstrumentType string   `json:"instrument_type"`
	TaskIDs        []string `json:"task_ids"`

	tasks []*TimelineTask
}

// Tasks 返回泳道中的任务
func (l *Lane) Tasks() []*TimelineTask {
	return l.tasks
}

// Timeline 编译结果
//
// 字段说明：
//   - Tasks：每个输入任务一项，按任务 ID 排序
//   - Lanes：每个声明的仪器类型一条泳道（可能为空）
//   - TotalDuration：所有任务 End 的最大值（makespan），无任务时为 0
//   - Unassigned：仪器类型未声明、因而不在任何泳道中的任务
//   - MissingDependencies：引用了不存在任务的依赖（按 0 贡献处理）
//   - Warnings：配置告警
type Timeline struct {
	Tasks               []TimelineTask                 `json:"tasks"`
	Lanes               []Lane                         `json:"lanes"`
	TotalDuration       float64                        `json:"total_duration"`
	Unassigned          []string                       `json:"unassigned,omitempty"`
	MissingDependencies map[string][]string            `json:"missing_dependencies,omitempty"`
	Warnings            []taskgraph.ConfigurationError `json:"warnings,omitempty"`

	index map[string]int
}

// Task 按 ID 查找时间线任务
func (tl *Timeline) Task(id string) (*TimelineTask, bool) {
	i, ok := tl.index[id]
	if !ok {
		return nil, false
	}
	return &tl.Tasks[i], true
}

// Lane 按仪器类型查找泳道
func (tl *Timeline) Lane(instrumentType string) (*Lane, bool) {
	for i := range tl.Lanes {
		if tl.Lanes[i].InstrumentType == instrumentType {
			return &tl.Lanes[i], true
		}
	}
	return nil, false
}

// Compile 将工作流配置编译为时间线
//
// 出现循环依赖时返回 *CyclicDependencyError，不产生部分结果。
func Compile(cfg *model.WorkflowConfig) (*Timeline, error) {
	return CompileGraph(taskgraph.Build(cfg))
}

// 三色标记
const (
	unvisited uint8 = iota
	inProgress
	done
)

// frame 显式 DFS 栈帧：next 为下一个待检查的依赖下标
type frame struct {
	idx  int
	next int
}

// CompileGraph 对规范化任务图做前向调度
//
// 每个任务的 start 为其所有依赖 end 的最大值（无依赖为 0），end = start + duration。
// 使用显式栈的深度优先遍历 + 三色标记：每个任务只计算一次，
// 遇到处于 inProgress 状态的依赖即判定为环。
func CompileGraph(g *taskgraph.Graph) (*Timeline, error) {
	n := g.Len()
	index := make(map[string]int, n)
	for i := range g.Tasks {
		index[g.Tasks[i].ID] = i
	}

	color := make([]uint8, n)
	start := make([]float64, n)
	end := make([]float64, n)
	missing := make(map[string][]string)

	for root := 0; root < n; root++ {
		if color[root] != unvisited {
			continue
		}

		color[root] = inProgress
		stack := []frame{{idx: root}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			task := &g.Tasks[top.idx]

			if top.next < len(task.Dependencies) {
				depID := task.Dependencies[top.next]
				top.next++

				di, ok := index[depID]
				if !ok {
					continue
				}
				switch color[di] {
				case inProgress:
					return nil, cycleError(g, stack, di)
				case unvisited:
					color[di] = inProgress
					stack = append(stack, frame{idx: di})
				}
				continue
			}

			// 所有依赖已解析
			s := 0.0
			for _, depID := range task.Dependencies {
				di, ok := index[depID]
				if !ok {
					if !containsID(missing[task.ID], depID) {
						missing[task.ID] = append(missing[task.ID], depID)
					}
					continue
				}
				if end[di] > s {
					s = end[di]
				}
			}
			d := task.Duration
			if d < 0 {
				d = 0
			}
			start[top.idx] = s
			end[top.idx] = s + d
			color[top.idx] = done
			stack = stack[:len(stack)-1]
		}
	}

	tl := &Timeline{
		Tasks:    make([]TimelineTask, n),
		Warnings: g.Warnings,
		index:    index,
	}
	for i := range g.Tasks {
		task := &g.Tasks[i]
		tl.Tasks[i] = TimelineTask{
			ID:             task.ID,
			Kind:           task.Kind(),
			InstrumentType: task.InstrumentType,
			Dependencies:   task.Dependencies,
			Description:    taskgraph.Describe(task),
			Start:          start[i],
			End:            end[i],
			State:          model.TaskStatePending,
		}
		if end[i] > tl.TotalDuration {
			tl.TotalDuration = end[i]
		}
	}
	if len(missing) > 0 {
		tl.MissingDependencies = missing
	}

	assignLanes(tl, g.LaneTypes)
	return tl, nil
}

// assignLanes 按仪器类型把任务放入泳道，类型未声明的任务记入 Unassigned
func assignLanes(tl *Timeline, laneTypes []string) {
	tl.Lanes = make([]Lane, len(laneTypes))
	laneIndex := make(map[string]int, len(laneTypes))
	for i, typ := range laneTypes {
		tl.Lanes[i] = Lane{InstrumentType: typ, TaskIDs: []string{}}
		laneIndex[typ] = i
	}

	for i := range tl.Tasks {
		task := &tl.Tasks[i]
		li, ok := laneIndex[task.InstrumentType]
		if !ok {
			tl.Unassigned = append(tl.Unassigned, task.ID)
			continue
		}
		lane := &tl.Lanes[li]
		lane.TaskIDs = append(lane.TaskIDs, task.ID)
		lane.tasks = append(lane.tasks, task)
	}
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// cloneLanes 复制泳道，任务指针指向 tasks（与 tl.Tasks 同序的副本）
func (tl *Timeline) cloneLanes(tasks []TimelineTask) []Lane {
	lanes := make([]Lane, len(tl.Lanes))
	for i, lane := range tl.Lanes {
		lanes[i] = Lane{
			InstrumentType: lane.InstrumentType,
			TaskIDs:        append([]string{}, lane.TaskIDs...),
			tasks:          make([]*TimelineTask, 0, len(lane.TaskIDs)),
		}
		for _, id := range lane.TaskIDs {
			lanes[i].tasks = append(lanes[i].tasks, &tasks[tl.index[id]])
		}
	}
	return lanes
}

// cycleError 从 DFS 栈中截取环路径
func cycleError(g *taskgraph.Graph, stack []frame, target int) *CyclicDependencyError {
	var path []string
	for i, f := range stack {
		if f.idx == target {
			for _, ff := range stack[i:] {
				path = append(path, g.Tasks[ff.idx].ID)
			}
			break
		}
	}
	targetID := g.Tasks[target].ID
	path = append(path, targetID)
	return &CyclicDependencyError{TaskID: targetID, Path: path}
}
