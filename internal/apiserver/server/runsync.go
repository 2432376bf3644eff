package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"labflow-admin/internal/shared/cache"
	"labflow-admin/internal/shared/eventbus"
	"labflow-admin/internal/shared/model"
	"labflow-admin/internal/shared/storage"
	"labflow-admin/pkg/logging"
)

// RunSync 消费 run manager 发布的 run 事件
//
// 每个状态事件：
//   - 写入 run 记录（storage.RunStore）
//   - 刷新 run 状态缓存（cache.RunStateCache）
//   - 通知正在观看该 run 的时间线会话
type RunSync struct {
	bus     eventbus.RunStateBus
	store   storage.RunStore
	cache   cache.RunStateCache
	metrics *Metrics
	logger  *logging.Logger

	// 重新订阅的退避区间
	retryMin time.Duration
	retryMax time.Duration

	mu       sync.Mutex
	watchers map[string]map[chan model.RunState]struct{}
}

// NewRunSync 创建 RunSync；cache 与 metrics 可为 nil
func NewRunSync(bus eventbus.RunStateBus, store storage.RunStore, runCache cache.RunStateCache, metrics *Metrics) *RunSync {
	return &RunSync{
		bus:      bus,
		store:    store,
		cache:    runCache,
		metrics:  metrics,
		logger:   logging.Default("runsync"),
		retryMin: 500 * time.Millisecond,
		retryMax: 30 * time.Second,
		watchers: make(map[string]map[chan model.RunState]struct{}),
	}
}

// Run 订阅事件直到 ctx 取消
//
// 订阅失败或通道被关闭（如 Redis 读取出错）时按指数退避重新订阅，
// 收到事件后退避时间复位。
func (s *RunSync) Run(ctx context.Context) error {
	backoff := s.retryMin
	for {
		received, err := s.consume(ctx)
		if ctx.Err() != nil {
			s.logger.Info("Run event sync stopped")
			return ctx.Err()
		}
		if received {
			backoff = s.retryMin
		}
		s.logger.WithError(err).Warn("Run event subscription lost, resubscribing", "backoff", backoff.String())

		select {
		case <-ctx.Done():
			s.logger.Info("Run event sync stopped")
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, s.retryMax)
	}
}

var errSubscriptionClosed = errors.New("run event subscription closed")

// consume 单次订阅，received 表示本次订阅是否收到过事件
func (s *RunSync) consume(ctx context.Context) (received bool, err error) {
	events, err := s.bus.SubscribeRunStates(ctx)
	if err != nil {
		return false, err
	}
	s.logger.Info("Run event sync started")
	for {
		select {
		case <-ctx.Done():
			return received, ctx.Err()
		case event, ok := <-events:
			if !ok {
				return received, errSubscriptionClosed
			}
			received = true
			s.handle(ctx, event)
		}
	}
}

func (s *RunSync) handle(ctx context.Context, event *eventbus.RunStateEvent) {
	if event == nil || event.RunID == "" {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordRunEvent(string(event.Type))
	}
	logger := s.logger.WithRunID(event.RunID)

	// 任务级事件不携带 run 状态
	if !event.State.Valid() {
		logger.Debug("Run event without state", "type", string(event.Type), "task_id", event.TaskID)
		return
	}

	run := event.Run()
	if err := s.store.UpsertRun(ctx, run); err != nil {
		logger.WithError(err).Warn("Failed to persist run state")
	} else if merged, err := s.store.GetRun(ctx, run.ID); err == nil {
		// 事件可能缺少 workflow_id/workcell_id，缓存以合并后的记录为准
		run = merged
	}
	if s.cache != nil {
		if err := s.cache.SetRunState(ctx, cache.FromRun(run)); err != nil {
			logger.WithError(err).Warn("Failed to cache run state")
		}
	}
	logger.Debug("Run state synced", "state", string(run.State))
	s.notify(run.ID, run.State)
}

// Watch 订阅某个 run 的状态变化，cancel 后通道不再接收
func (s *RunSync) Watch(runID string) (<-chan model.RunState, func()) {
	ch := make(chan model.RunState, 4)
	s.mu.Lock()
	if s.watchers[runID] == nil {
		s.watchers[runID] = make(map[chan model.RunState]struct{})
	}
	s.watchers[runID][ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers[runID], ch)
			if len(s.watchers[runID]) == 0 {
				delete(s.watchers, runID)
			}
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// notify 非阻塞投递，观察者积压时丢弃旧状态
func (s *RunSync) notify(runID string, state model.RunState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.watchers[runID] {
		select {
		case ch <- state:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
}
