package runctl

import (
	"errors"
	"fmt"
)

var (
	// ErrCommandFailed 所有 CommandError 都匹配此哨兵错误
	ErrCommandFailed = errors.New("run command failed")
	// ErrRunNotFound run manager 返回 404
	ErrRunNotFound = errors.New("run not found")
	// ErrInvalidCommand 命令参数不完整（如 skip 缺少 task ID）
	ErrInvalidCommand = errors.New("invalid run command")
)

// CommandError 控制命令失败
//
// StatusCode 为 0 表示请求未到达 run manager（网络错误、超时、取消）。
type CommandError struct {
	Op         Op
	RunID      string
	TaskID     string
	StatusCode int
	Message    string
	Err        error
}

func (e *CommandError) Error() string {
	target := "run " + e.RunID
	if e.TaskID != "" {
		target += " task " + e.TaskID
	}
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s %s: status %d: %s", e.Op, target, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: status %d", e.Op, target, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Op, target, e.Err)
	default:
		return fmt.Sprintf("%s %s: failed", e.Op, target)
	}
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is 匹配 ErrCommandFailed
func (e *CommandError) Is(target error) bool {
	return target == ErrCommandFailed
}

// Temporary 请求未送达或 run manager 5xx
func (e *CommandError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}
