// Package redis RunState 事件流操作
package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"labflow-admin/internal/shared/eventbus"
	"labflow-admin/internal/shared/model"
)

// PublishRunState 发布 run 事件
func (s *Store) PublishRunState(ctx context.Context, event *eventbus.RunStateEvent) error {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	args := &redis.XAddArgs{
		Stream: eventbus.KeyRunStateEvents,
		MaxLen: eventbus.MaxStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			"type":        string(event.Type),
			"run_id":      event.RunID,
			"workflow_id": event.WorkflowID,
			"workcell_id": event.WorkcellID,
			"state":       string(event.State),
			"task_id":     event.TaskID,
			"timestamp":   ts.UTC().Format(time.RFC3339Nano),
		},
	}

	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to publish run event: %w", err)
	}
	event.ID = id

	log.Printf("[Redis/EventBus] Published run event: run=%s id=%s type=%s state=%s", event.RunID, id, event.Type, event.State)
	return nil
}

// GetRunStateEvents 获取 fromID 之后的事件
func (s *Store) GetRunStateEvents(ctx context.Context, fromID string, count int64) ([]*eventbus.RunStateEvent, error) {
	start := "-"
	if fromID != "" {
		start = "(" + fromID
	}

	var (
		msgs []redis.XMessage
		err  error
	)
	if count > 0 {
		msgs, err = s.client.XRangeN(ctx, eventbus.KeyRunStateEvents, start, "+", count).Result()
	} else {
		msgs, err = s.client.XRange(ctx, eventbus.KeyRunStateEvents, start, "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run events: %w", err)
	}

	events := make([]*eventbus.RunStateEvent, 0, len(msgs))
	for _, msg := range msgs {
		events = append(events, decodeEvent(msg))
	}
	return events, nil
}

// SubscribeRunStates 订阅新的 run 事件
func (s *Store) SubscribeRunStates(ctx context.Context) (<-chan *eventbus.RunStateEvent, error) {
	ch := make(chan *eventbus.RunStateEvent, 100)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			streams, err := s.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{eventbus.KeyRunStateEvents, lastID},
				Count:   10,
				Block:   s.block,
			}).Result()

			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() == nil {
					log.Printf("[Redis/EventBus] Run event subscription error: %v", err)
				}
				return
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					select {
					case ch <- decodeEvent(msg):
						lastID = msg.ID
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch, nil
}

func decodeEvent(msg redis.XMessage) *eventbus.RunStateEvent {
	event := &eventbus.RunStateEvent{
		ID:         msg.ID,
		Type:       eventbus.EventType(stringValue(msg.Values, "type")),
		RunID:      stringValue(msg.Values, "run_id"),
		WorkflowID: stringValue(msg.Values, "workflow_id"),
		WorkcellID: stringValue(msg.Values, "workcell_id"),
		State:      model.RunState(stringValue(msg.Values, "state")),
		TaskID:     stringValue(msg.Values, "task_id"),
	}
	if ts := stringValue(msg.Values, "timestamp"); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			event.Timestamp = t
		}
	}
	return event
}

func stringValue(values map[string]interface{}, key string) string {
	if v, ok := values[key].(string); ok {
		return v
	}
	return ""
}
