// Package redis RunState 缓存操作
package redis

import (
	"context"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"labflow-admin/internal/shared/cache"
	"labflow-admin/internal/shared/model"
)

func runStateKey(runID string) string {
	return cache.KeyRunState + runID
}

// SetRunState 写入 run 状态并刷新过期时间
//
// 终止状态的 run 从活跃集合中移除。
func (s *Store) SetRunState(ctx context.Context, entry *cache.RunStateEntry) error {
	key := runStateKey(entry.RunID)

	updated := entry.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	data := map[string]interface{}{
		"run_id":      entry.RunID,
		"workflow_id": entry.WorkflowID,
		"workcell_id": entry.WorkcellID,
		"state":       string(entry.State),
		"updated_at":  updated.UTC().Format(time.RFC3339Nano),
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, data)
	pipe.Expire(ctx, key, s.ttl)
	if entry.Terminal() {
		pipe.SRem(ctx, cache.KeyActiveRuns, entry.RunID)
	} else {
		pipe.SAdd(ctx, cache.KeyActiveRuns, entry.RunID)
	}
	_, err := pipe.Exec(ctx)

	return err
}

// GetRunState 获取 run 状态
func (s *Store) GetRunState(ctx context.Context, runID string) (*cache.RunStateEntry, error) {
	result, err := s.client.HGetAll(ctx, runStateKey(runID)).Result()
	if err != nil {
		return nil, err
	}

	if len(result) == 0 {
		return nil, nil
	}

	entry := &cache.RunStateEntry{
		RunID:      result["run_id"],
		WorkflowID: result["workflow_id"],
		WorkcellID: result["workcell_id"],
		State:      model.RunState(result["state"]),
	}
	if entry.RunID == "" {
		entry.RunID = runID
	}
	if t, err := time.Parse(time.RFC3339Nano, result["updated_at"]); err == nil {
		entry.UpdatedAt = t
	}

	return entry, nil
}

// DeleteRunState 删除 run 状态
func (s *Store) DeleteRunState(ctx context.Context, runID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, runStateKey(runID))
	pipe.SRem(ctx, cache.KeyActiveRuns, runID)
	_, err := pipe.Exec(ctx)
	return err
}

// ListActiveRuns 列出活跃 run
//
// 活跃集合没有 TTL，这里顺带清理状态 key 已过期的成员。
func (s *Store) ListActiveRuns(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, cache.KeyActiveRuns).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return ids, nil
	}

	pipe := s.client.Pipeline()
	exists := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		exists[i] = pipe.Exists(ctx, runStateKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	active := make([]string, 0, len(ids))
	var stale []interface{}
	for i, id := range ids {
		if exists[i].Val() > 0 {
			active = append(active, id)
		} else {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		s.client.SRem(ctx, cache.KeyActiveRuns, stale...)
	}
	sort.Strings(active)
	return active, nil
}
