package timeline

import (
	"context"
	"sync"
	"time"

	"labflow-admin/internal/shared/model"
	"labflow-admin/pkg/logging"
)

// Frame 某个 tick 的渲染数据（任务与泳道均为副本，可安全跨 goroutine 传递）
type Frame struct {
	RunID    string         `json:"run_id"`
	RunState model.RunState `json:"run_state"`
	Tasks    []TimelineTask `json:"tasks"`
	Lanes    []Lane         `json:"lanes"`
	Stats    Stats          `json:"stats"`
	Error    string         `json:"error,omitempty"`
	Final    bool           `json:"final"`
}

// TickObserver tick 处理完成后的回调（用于指标）
type TickObserver func(f Frame, elapsed time.Duration)

// Session 单个查看者的时间线会话
//
// Session 独占一份 Timeline 和一个可取消的 ticker：
//   - 所有状态只在 run 循环 goroutine 内修改，tick 串行处理
//   - tick 处理期间到达的 tick 被丢弃而不是排队（time.Ticker 语义）
//   - Replace 在循环内完成编译和整体替换，投影不会看到半更新的时间线
//   - ctx 取消、Close 或 currentTime 到达 TotalDuration 时停止
//
// 只有外部 run 状态为 RUNNING 时时钟才前进。
type Session struct {
	runID    string
	interval time.Duration
	tickSize float64
	logger   *logging.Logger
	observer TickObserver

	tl          *Timeline
	currentTime float64
	runState    model.RunState
	lastErr     string

	frames  chan Frame
	states  chan model.RunState
	replace chan *model.WorkflowConfig

	done      chan struct{}
	closeOnce sync.Once
	startOnce sync.Once
}

// Option 会话选项
type Option func(*Session)

// WithInterval 设置 tick 周期（默认 1s）
func WithInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithTickSize 设置每个 tick 推进的秒数（默认 1）
func WithTickSize(seconds float64) Option {
	return func(s *Session) {
		if seconds > 0 {
			s.tickSize = seconds
		}
	}
}

// WithElapsed 设置初始已用时间（如根据 run 的开始时间恢复进度）
func WithElapsed(seconds float64) Option {
	return func(s *Session) {
		if seconds > 0 {
			s.currentTime = seconds
		}
	}
}

// WithRunState 设置初始 run 状态
func WithRunState(state model.RunState) Option {
	return func(s *Session) {
		s.runState = state
	}
}

// WithLogger 设置日志器
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithTickObserver 设置 tick 回调
func WithTickObserver(fn TickObserver) Option {
	return func(s *Session) {
		s.observer = fn
	}
}

// NewSession 为 runID 创建会话，tl 由会话独占
func NewSession(runID string, tl *Timeline, opts ...Option) *Session {
	s := &Session{
		runID:    runID,
		interval: time.Second,
		tickSize: 1,
		tl:       tl,
		runState: model.RunStateStarting,
		frames:   make(chan Frame, 1),
		states:   make(chan model.RunState, 8),
		replace:  make(chan *model.WorkflowConfig, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Default("timeline")
	}
	s.logger = s.logger.WithRunID(runID)
	if s.currentTime > tl.TotalDuration {
		s.currentTime = tl.TotalDuration
	}
	return s
}

// Start 启动会话循环，返回帧通道；通道在会话停止时关闭
//
// 启动后立即发送一帧初始数据。重复调用返回同一通道。
func (s *Session) Start(ctx context.Context) <-chan Frame {
	s.startOnce.Do(func() {
		go s.run(ctx)
	})
	return s.frames
}

// SetRunState 通知外部 run 状态变化
func (s *Session) SetRunState(state model.RunState) {
	select {
	case s.states <- state:
	case <-s.done:
	}
}

// Replace 用新配置重新编译时间线
//
// 编译失败（如循环依赖）时保留原时间线，错误写入下一帧的 Error 字段。
func (s *Session) Replace(cfg *model.WorkflowConfig) {
	select {
	case s.replace <- cfg:
	case <-s.done:
	}
}

// Close 停止会话（幂等）
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Done 返回会话停止信号
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) run(ctx context.Context) {
	defer close(s.frames)
	defer s.Close()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Timeline session started",
		"total_duration", s.tl.TotalDuration,
		"current_time", s.currentTime,
		"run_state", string(s.runState))

	first := s.frame()
	if !s.emit(ctx, first) || first.Final {
		s.logger.Info("Timeline session stopped", "current_time", s.currentTime, "final", first.Final)
		return
	}

	for {
		var f Frame
		select {
		case <-ctx.Done():
			s.logger.Debug("Timeline session cancelled", "current_time", s.currentTime)
			return
		case <-s.done:
			s.logger.Debug("Timeline session closed", "current_time", s.currentTime)
			return
		case state := <-s.states:
			s.runState = state
			f = s.frame()
		case cfg := <-s.replace:
			s.reload(cfg)
			f = s.frame()
		case <-ticker.C:
			f = s.tick()
		}

		if !s.emit(ctx, f) {
			return
		}
		if f.Final {
			s.logger.Info("Timeline session reached makespan", "total_duration", s.tl.TotalDuration)
			return
		}
	}
}

// tick 推进时钟一步并重新投影
func (s *Session) tick() Frame {
	began := time.Now()
	if s.runState == model.RunStateRunning && s.currentTime < s.tl.TotalDuration {
		s.currentTime += s.tickSize
		if s.currentTime > s.tl.TotalDuration {
			s.currentTime = s.tl.TotalDuration
		}
	}
	f := s.frame()
	if s.observer != nil {
		s.observer(f, time.Since(began))
	}
	return f
}

func (s *Session) reload(cfg *model.WorkflowConfig) {
	tl, err := Compile(cfg)
	if err != nil {
		s.lastErr = err.Error()
		s.logger.WithError(err).Warn("Timeline recompile failed, keeping previous timeline")
		return
	}
	s.tl = tl
	s.lastErr = ""
	if s.currentTime > tl.TotalDuration {
		s.currentTime = tl.TotalDuration
	}
	s.logger.Info("Timeline replaced", "total_duration", tl.TotalDuration, "tasks", len(tl.Tasks))
}

func (s *Session) frame() Frame {
	stats := s.tl.Project(s.currentTime)
	tasks := append([]TimelineTask(nil), s.tl.Tasks...)
	return Frame{
		RunID:    s.runID,
		RunState: s.runState,
		Tasks:    tasks,
		Lanes:    s.tl.cloneLanes(tasks),
		Stats:    stats,
		Error:    s.lastErr,
		Final:    s.currentTime >= s.tl.TotalDuration,
	}
}

func (s *Session) emit(ctx context.Context, f Frame) bool {
	select {
	case s.frames <- f:
		return true
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	}
}
