package tasks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadline-ai/leadline/internal/model"
	"github.com/leadline-ai/leadline/internal/store"
)

func TestTickDispatchesAndCompletes(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	_, err := st.EnqueueTask(ctx, model.TaskCreateProviderCall, map[string]string{"call_id": "c1"}, 3)
	require.NoError(t, err)

	var got []string
	w := NewWorker(st, Options{})
	w.Register(model.TaskCreateProviderCall, func(_ context.Context, payload json.RawMessage) error {
		var p map[string]string
		require.NoError(t, json.Unmarshal(payload, &p))
		got = append(got, p["call_id"])
		return nil
	})

	require.NoError(t, w.Tick(ctx))
	assert.Equal(t, []string{"c1"}, got)

	due, err := st.DueTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due, "successful tasks are removed")
}

func TestTickRetriesWithBackoff(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	_, err := st.EnqueueTask(ctx, model.TaskMeetingFollowUp, map[string]string{}, 3)
	require.NoError(t, err)

	attempts := 0
	w := NewWorker(st, Options{RetryBackoff: time.Minute})
	w.Register(model.TaskMeetingFollowUp, func(context.Context, json.RawMessage) error {
		attempts++
		return assert.AnError
	})

	require.NoError(t, w.Tick(ctx))
	assert.Equal(t, 1, attempts)

	// rescheduled into the future, so an immediate tick skips it
	require.NoError(t, w.Tick(ctx))
	assert.Equal(t, 1, attempts)

	due, err := st.DueTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestExhaustedRetriesStopRunning(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	_, err := st.EnqueueTask(ctx, model.TaskMeetingFollowUp, map[string]string{}, 2)
	require.NoError(t, err)

	attempts := 0
	w := NewWorker(st, Options{RetryBackoff: time.Nanosecond})
	w.Register(model.TaskMeetingFollowUp, func(context.Context, json.RawMessage) error {
		attempts++
		return assert.AnError
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, w.Tick(ctx))
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 2, attempts, "runs max_retries times, then parks")

	due, err := st.DueTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due, "exhausted tasks never come due again")
}

func TestUnknownKindIsRetriedNotLost(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	_, err := st.EnqueueTask(ctx, model.TaskKind("call.future_thing"), map[string]string{}, 3)
	require.NoError(t, err)

	w := NewWorker(st, Options{RetryBackoff: time.Nanosecond})
	require.NoError(t, w.Tick(ctx))
	time.Sleep(time.Millisecond)

	due, err := st.DueTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1, "still queued for a later deploy that knows the kind")
	assert.Equal(t, 1, due[0].RetryCount)
	assert.Contains(t, due[0].LastError, "no handler")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	st := store.NewMemory()
	w := NewWorker(st, Options{PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err := w.Run(ctx)
	assert.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
