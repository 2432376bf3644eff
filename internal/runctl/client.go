// Package runctl run manager 控制客户端
//
// 仪表盘只负责转发用户的控制意图：
//   - Pause/Resume/Stop 作用于整个 run
//   - SkipTask/RetryTask 作用于 run 内的单个任务
//   - GetRun 读取 run 当前状态
//
// 每个操作恰好发起一次 HTTP 请求，失败返回 *CommandError，不做本地重试，
// 也不修改本地时间线或 run 状态（状态变化由 run manager 通过事件流推送）。
package runctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"labflow-admin/internal/shared/model"
	"labflow-admin/pkg/logging"
)

// Op 控制操作
type Op string

const (
	OpPause  Op = "pause"
	OpResume Op = "resume"
	OpStop   Op = "stop"
	OpSkip   Op = "skip"
	OpRetry  Op = "retry"
	OpGet    Op = "get"
)

// TaskScoped 是否为任务级操作
func (o Op) TaskScoped() bool {
	return o == OpSkip || o == OpRetry
}

// ParseOp 解析控制操作名（不含 get）
func ParseOp(s string) (Op, bool) {
	switch op := Op(strings.ToLower(s)); op {
	case OpPause, OpResume, OpStop, OpSkip, OpRetry:
		return op, true
	}
	return "", false
}

// Command 异步控制命令
type Command struct {
	Op     Op     `json:"op"`
	RunID  string `json:"run_id"`
	TaskID string `json:"task_id,omitempty"`
}

// Validate 检查命令参数
func (c Command) Validate() error {
	if _, ok := ParseOp(string(c.Op)); !ok {
		return fmt.Errorf("%w: unknown op %q", ErrInvalidCommand, c.Op)
	}
	if c.RunID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidCommand)
	}
	if c.Op.TaskScoped() && c.TaskID == "" {
		return fmt.Errorf("%w: %s requires a task id", ErrInvalidCommand, c.Op)
	}
	return nil
}

// ResultHook 每个命令完成后的回调（用于指标）
type ResultHook func(op Op, err error, elapsed time.Duration)

// Client run manager HTTP 客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
	hook       ResultHook
}

// ClientOption 客户端选项
type ClientOption func(*Client)

// WithHTTPClient 使用自定义 http.Client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithTimeout 设置请求超时
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) {
		if d > 0 {
			cl.httpClient = &http.Client{Timeout: d, Transport: cl.httpClient.Transport}
		}
	}
}

// WithLogger 设置日志器
func WithLogger(l *logging.Logger) ClientOption {
	return func(cl *Client) {
		cl.logger = l
	}
}

// WithResultHook 设置结果回调
func WithResultHook(h ResultHook) ClientOption {
	return func(cl *Client) {
		cl.hook = h
	}
}

// NewClient 创建客户端，baseURL 形如 http://runmanager:8090/api/v1
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.Default("runctl")
	}
	return c
}

// Pause 暂停 run
func (c *Client) Pause(ctx context.Context, runID string) error {
	return c.Do(ctx, Command{Op: OpPause, RunID: runID})
}

// Resume 恢复 run
func (c *Client) Resume(ctx context.Context, runID string) error {
	return c.Do(ctx, Command{Op: OpResume, RunID: runID})
}

// Stop 停止 run
func (c *Client) Stop(ctx context.Context, runID string) error {
	return c.Do(ctx, Command{Op: OpStop, RunID: runID})
}

// SkipTask 跳过 run 中的任务
func (c *Client) SkipTask(ctx context.Context, runID, taskID string) error {
	return c.Do(ctx, Command{Op: OpSkip, RunID: runID, TaskID: taskID})
}

// RetryTask 重试 run 中的任务
func (c *Client) RetryTask(ctx context.Context, runID, taskID string) error {
	return c.Do(ctx, Command{Op: OpRetry, RunID: runID, TaskID: taskID})
}

// Dispatch 异步发送命令，结果通过通道恰好投递一次
func (c *Client) Dispatch(ctx context.Context, cmd Command) <-chan error {
	result := make(chan error, 1)
	go func() {
		defer close(result)
		result <- c.Do(ctx, cmd)
	}()
	return result
}

// Do 同步发送命令
func (c *Client) Do(ctx context.Context, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return &CommandError{Op: cmd.Op, RunID: cmd.RunID, TaskID: cmd.TaskID, Err: err}
	}

	began := time.Now()
	_, err := c.send(ctx, cmd.Op, cmd.RunID, cmd.TaskID, http.MethodPost, commandPath(cmd))
	elapsed := time.Since(began)

	c.logger.CommandLog(string(cmd.Op), cmd.RunID, cmd.TaskID, elapsed, err)
	if c.hook != nil {
		c.hook(cmd.Op, err, elapsed)
	}
	return err
}

// GetRun 读取 run 当前状态
func (c *Client) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	if runID == "" {
		return nil, &CommandError{Op: OpGet, Err: fmt.Errorf("%w: run id is required", ErrInvalidCommand)}
	}

	body, err := c.send(ctx, OpGet, runID, "", http.MethodGet, "/runs/"+url.PathEscape(runID))
	if err != nil {
		return nil, err
	}

	var run model.Run
	if err := json.Unmarshal(body, &run); err != nil {
		return nil, &CommandError{Op: OpGet, RunID: runID, Err: fmt.Errorf("decode run: %w", err)}
	}
	if run.ID == "" {
		run.ID = runID
	}
	return &run, nil
}

func commandPath(cmd Command) string {
	p := "/runs/" + url.PathEscape(cmd.RunID)
	if cmd.Op.TaskScoped() {
		p += "/tasks/" + url.PathEscape(cmd.TaskID)
	}
	return p + "/" + string(cmd.Op)
}

func (c *Client) send(ctx context.Context, op Op, runID, taskID, method, path string) ([]byte, error) {
	fail := func(status int, msg string, err error) error {
		return &CommandError{Op: op, RunID: runID, TaskID: taskID, StatusCode: status, Message: msg, Err: err}
	}

	var reqBody io.Reader
	if method == http.MethodPost {
		reqBody = bytes.NewReader([]byte("{}"))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fail(0, "", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fail(0, "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fail(resp.StatusCode, "", fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var cause error
		if resp.StatusCode == http.StatusNotFound {
			cause = ErrRunNotFound
		}
		return nil, fail(resp.StatusCode, errorMessage(body), cause)
	}
	return body, nil
}

// errorMessage 提取 {"error": "..."} 形式的错误信息，否则取原文
func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
