package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow-admin/internal/shared/eventbus"
	"labflow-admin/internal/shared/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	s, err := NewStoreFromURL(url)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	s.block = 100 * time.Millisecond

	ctx := context.Background()
	require.NoError(t, s.client.Del(ctx, eventbus.KeyRunStateEvents).Err())
	t.Cleanup(func() {
		s.client.Del(context.Background(), eventbus.KeyRunStateEvents)
		s.Close()
	})
	return s
}

func TestPublishAndRange(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first := &eventbus.RunStateEvent{Type: eventbus.EventRunState, RunID: "run-1", WorkflowID: "wf-1", State: model.RunStateRunning}
	require.NoError(t, s.PublishRunState(ctx, first))
	require.NotEmpty(t, first.ID)
	require.NoError(t, s.PublishRunState(ctx, &eventbus.RunStateEvent{Type: eventbus.EventTaskSkipped, RunID: "run-1", TaskID: "B", State: model.RunStateRunning}))

	all, err := s.GetRunStateEvents(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "wf-1", all[0].WorkflowID)
	assert.False(t, all[0].Timestamp.IsZero())

	after, err := s.GetRunStateEvents(ctx, first.ID, 10)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, eventbus.EventTaskSkipped, after[0].Type)
	assert.Equal(t, "B", after[0].TaskID)
}

func TestSubscribeReceivesNewEvents(t *testing.T) {
	s := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.SubscribeRunStates(ctx)
	require.NoError(t, err)

	// XRead 从 "$" 开始，给订阅 goroutine 一点时间进入阻塞读
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.PublishRunState(context.Background(), &eventbus.RunStateEvent{
		Type: eventbus.EventRunState, RunID: "run-9", State: model.RunStatePaused,
	}))

	select {
	case ev := <-ch:
		assert.Equal(t, "run-9", ev.RunID)
		assert.Equal(t, model.RunStatePaused, ev.State)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}
