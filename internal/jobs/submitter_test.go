package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farm-jobs/internal/models"
	"farm-jobs/internal/queue"
	"farm-jobs/internal/store"
)

func newSubmitter(t *testing.T) (*Submitter, *queue.RedisQueue, *queue.RedisQueue) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	opts := queue.Options{Prefix: "test", VisibilityTimeout: time.Minute, MaxAttempts: 3}
	weather := queue.NewRedisQueue(client, models.KindWeatherUpdate, opts)
	inventory := queue.NewRedisQueue(client, models.KindInventorySummary, opts)
	return NewSubmitter(weather, inventory), weather, inventory
}

func TestEnqueueWeatherUpdate_OneShot(t *testing.T) {
	ctx := context.Background()
	s, weather, inventory := newSubmitter(t)

	sub, err := s.EnqueueWeatherUpdate(ctx, "u1", models.OneShot())
	require.NoError(t, err)
	require.NotNil(t, sub.Job)
	assert.True(t, sub.Created)
	assert.Equal(t, models.KindWeatherUpdate, sub.Job.Kind)

	depth, err := weather.ReadyDepth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth)
	depth, err = inventory.ReadyDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)

	got, err := s.Job(ctx, models.KindWeatherUpdate, sub.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.Payload.UserID)
}

func TestEnqueueInventorySummary_RepeatingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newSubmitter(t)

	first, err := s.EnqueueInventorySummary(ctx, "u1", models.Repeating("0 6 * * *"))
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, "inventory-summary-u1", first.ScheduleKey)

	second, err := s.EnqueueInventorySummary(ctx, "u1", models.Repeating("@hourly"))
	require.NoError(t, err)
	assert.False(t, second.Created)

	scheds, err := s.Schedules(ctx, models.KindInventorySummary)
	require.NoError(t, err)
	require.Len(t, scheds, 1)
	assert.Equal(t, "0 6 * * *", scheds[0].Pattern, "first registration wins")
}

func TestEnqueue_Validation(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newSubmitter(t)

	_, err := s.EnqueueWeatherUpdate(ctx, "  ", models.OneShot())
	assert.ErrorIs(t, err, ErrMissingUser)

	_, err = s.Enqueue(ctx, models.Kind("harvest"), "u1", models.OneShot())
	assert.ErrorIs(t, err, models.ErrUnknownKind)

	_, err = s.EnqueueWeatherUpdate(ctx, "u1", models.Repeating("every tuesday"))
	assert.ErrorIs(t, err, queue.ErrInvalidPattern)
}

func TestCancelScheduled(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newSubmitter(t)

	_, err := s.EnqueueWeatherUpdate(ctx, "u1", models.Repeating("@daily"))
	require.NoError(t, err)
	_, err = s.EnqueueWeatherUpdate(ctx, "u2", models.Repeating("@daily"))
	require.NoError(t, err)

	require.NoError(t, s.CancelScheduled(ctx, "u1", models.KindWeatherUpdate))
	// Absent schedules are not an error.
	require.NoError(t, s.CancelScheduled(ctx, "u1", models.KindWeatherUpdate))
	require.NoError(t, s.CancelScheduled(ctx, "nobody", models.KindInventorySummary))

	scheds, err := s.Schedules(ctx, models.KindWeatherUpdate)
	require.NoError(t, err)
	require.Len(t, scheds, 1)
	assert.Equal(t, "u2", scheds[0].Payload.UserID)

	assert.ErrorIs(t, s.CancelScheduled(ctx, "", models.KindWeatherUpdate), ErrMissingUser)
}

func TestCancelScheduled_UserIDWithColon(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newSubmitter(t)

	sub, err := s.EnqueueWeatherUpdate(ctx, "tenant:42", models.Repeating("@hourly"))
	require.NoError(t, err)
	require.True(t, sub.Created)
	assert.Equal(t, "weather-update-tenant:42", sub.ScheduleKey)

	require.NoError(t, s.CancelScheduled(ctx, "tenant:42", models.KindWeatherUpdate))

	scheds, err := s.Schedules(ctx, models.KindWeatherUpdate)
	require.NoError(t, err)
	assert.Empty(t, scheds)
}

func TestCancelJob_RemovesPendingInstance(t *testing.T) {
	ctx := context.Background()
	s, weather, _ := newSubmitter(t)

	sub, err := s.EnqueueWeatherUpdate(ctx, "u1", models.OneShot())
	require.NoError(t, err)
	require.NoError(t, s.CancelJob(ctx, models.KindWeatherUpdate, sub.Job.ID))
	require.NoError(t, s.CancelJob(ctx, models.KindWeatherUpdate, "missing"))

	job, err := weather.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
}

type fakeRuns struct {
	kind string
	err  error
}

func (f *fakeRuns) RecentRuns(_ context.Context, kind string, _ int) ([]store.Run, error) {
	f.kind = kind
	return []store.Run{{ID: "r1", Kind: kind}}, f.err
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newSubmitter(t)

	_, err := s.Runs(ctx, models.KindWeatherUpdate, 10)
	assert.ErrorIs(t, err, ErrLedgerDisabled)

	runs := &fakeRuns{}
	s.WithRuns(runs)
	got, err := s.Runs(ctx, models.KindWeatherUpdate, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, string(models.KindWeatherUpdate), runs.kind)

	runs.err = errors.New("db down")
	_, err = s.Runs(ctx, models.KindWeatherUpdate, 10)
	assert.Error(t, err)
}
