package timeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCyclicDependency 任务依赖存在环
var ErrCyclicDependency = errors.New("cyclic task dependency")

// CyclicDependencyError 时间线编译时检测到的循环依赖
//
// TaskID 为环上的一个任务；Path 沿依赖方向列出环（首尾相同），
// 如 A 依赖 B、B 依赖 A 时为 [A, B, A]。
type CyclicDependencyError struct {
	TaskID string   `json:"task_id"`
	Path   []string `json:"path"`
}

// Error 实现 error 接口
func (e *CyclicDependencyError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("cyclic dependency at task %s", e.TaskID)
	}
	return fmt.Sprintf("cyclic dependency at task %s: %s", e.TaskID, strings.Join(e.Path, " -> "))
}

// Is 支持 errors.Is(err, ErrCyclicDependency)
func (e *CyclicDependencyError) Is(target error) bool {
	return target == ErrCyclicDependency
}
