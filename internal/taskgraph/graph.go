package taskgraph

import (
	"fmt"
	"sort"

	"labflow-admin/internal/shared/model"
)

// ============================================================================
// ConfigurationError - 配置告警
// ============================================================================

// IssueCode 配置问题类型
type IssueCode string

const (
	// IssueUnknownInstrumentType 任务的仪器类型未在 instruments 中声明（任务不会出现在任何泳道）
	IssueUnknownInstrumentType IssueCode = "unknown_instrument_type"

	// IssueMissingDependency 依赖的任务不存在（对开始时间的贡献按 0 处理）
	IssueMissingDependency IssueCode = "missing_dependency"

	// IssueSelfDependency 任务依赖自身（编译时按循环依赖报错）
	IssueSelfDependency IssueCode = "self_dependency"

	// IssueNegativeDuration 时长为负（编译时按 0 处理）
	IssueNegativeDuration IssueCode = "negative_duration"

	// IssueAmbiguousPayload 载荷为空或同时匹配多种形状（按优先级分类）
	IssueAmbiguousPayload IssueCode = "ambiguous_payload"
)

// ConfigurationError 工作流配置中的结构问题
//
// 这些问题在边界处被吸收（使用约定的默认值），不会中止时间线计算。
type ConfigurationError struct {
	Code   IssueCode `json:"code"`
	TaskID string    `json:"task_id"`
	Ref    string    `json:"ref,omitempty"`
}

// Error 实现 error 接口
func (e ConfigurationError) Error() string {
	switch e.Code {
	case IssueUnknownInstrumentType:
		return fmt.Sprintf("task %s: instrument type %q is not declared", e.TaskID, e.Ref)
	case IssueMissingDependency:
		return fmt.Sprintf("task %s: dependency %q does not exist", e.TaskID, e.Ref)
	case IssueSelfDependency:
		return fmt.Sprintf("task %s: depends on itself", e.TaskID)
	case IssueNegativeDuration:
		return fmt.Sprintf("task %s: negative duration %s", e.TaskID, e.Ref)
	case IssueAmbiguousPayload:
		return fmt.Sprintf("task %s: payload is ambiguous, classified as %s", e.TaskID, e.Ref)
	default:
		return fmt.Sprintf("task %s: %s", e.TaskID, e.Code)
	}
}

// ============================================================================
// Graph - 规范化任务图
// ============================================================================

// Graph 规范化后的任务图
//
// Tasks 按 ID 排序，保证下游输出顺序确定；LaneTypes 为声明的仪器类型，
// 按仪器 ID 排序后首次出现的顺序去重。
type Graph struct {
	Tasks     []model.Task
	LaneTypes []string
	Warnings  []ConfigurationError

	index map[string]int
}

// Build 从工作流配置构建规范化任务图
//
// Build 从不失败：配置问题记录在 Warnings 中。
func Build(cfg *model.WorkflowConfig) *Graph {
	g := &Graph{index: make(map[string]int)}
	if cfg == nil {
		return g
	}

	ids := make([]string, 0, len(cfg.Tasks))
	for id := range cfg.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	g.Tasks = make([]model.Task, 0, len(ids))
	for _, id := range ids {
		g.index[id] = len(g.Tasks)
		g.Tasks = append(g.Tasks, Normalize(id, cfg.Tasks[id]))
	}

	g.LaneTypes = laneTypes(cfg.Instruments)
	g.Warnings = Validate(cfg)
	return g
}

// Task 按 ID 查找任务
func (g *Graph) Task(id string) (*model.Task, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return &g.Tasks[i], true
}

// Len 返回任务数量
func (g *Graph) Len() int {
	return len(g.Tasks)
}

func laneTypes(instruments map[string]model.Instrument) []string {
	ids := make([]string, 0, len(instruments))
	for id := range instruments {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	seen := make(map[string]bool)
	var types []string
	for _, id := range ids {
		typ := instruments[id].Type
		if typ == "" || seen[typ] {
			continue
		}
		seen[typ] = true
		types = append(types, typ)
	}
	return types
}

// Validate 检查工作流配置的结构完整性，返回按任务 ID 排序的问题列表
func Validate(cfg *model.WorkflowConfig) []ConfigurationError {
	if cfg == nil {
		return nil
	}

	declared := make(map[string]bool, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		declared[inst.Type] = true
	}

	ids := make([]string, 0, len(cfg.Tasks))
	for id := range cfg.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var issues []ConfigurationError
	for _, id := range ids {
		spec := cfg.Tasks[id]

		if !declared[spec.InstrumentType] {
			issues = append(issues, ConfigurationError{Code: IssueUnknownInstrumentType, TaskID: id, Ref: spec.InstrumentType})
		}
		if spec.Duration < 0 {
			issues = append(issues, ConfigurationError{Code: IssueNegativeDuration, TaskID: id, Ref: formatSeconds(spec.Duration)})
		}
		if n := matchedShapes(spec); n != 1 {
			issues = append(issues, ConfigurationError{Code: IssueAmbiguousPayload, TaskID: id, Ref: string(Classify(spec))})
		}
		seen := make(map[string]bool, len(spec.Dependencies))
		for _, dep := range spec.Dependencies {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			if dep == id {
				issues = append(issues, ConfigurationError{Code: IssueSelfDependency, TaskID: id, Ref: dep})
				continue
			}
			if _, ok := cfg.Tasks[dep]; !ok {
				issues = append(issues, ConfigurationError{Code: IssueMissingDependency, TaskID: id, Ref: dep})
			}
		}
	}
	return issues
}
