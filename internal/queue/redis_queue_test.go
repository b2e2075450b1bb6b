package queue

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farm-jobs/internal/models"
)

func newTestQueue(t *testing.T, kind models.Kind) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client, kind, Options{
		Prefix:            "test",
		VisibilityTimeout: time.Minute,
		MaxAttempts:       2,
		BackoffInitial:    time.Second,
		BackoffMax:        4 * time.Second,
	})
}

func TestEnqueueOnce_DispatchesInArrivalOrder(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, models.KindWeatherUpdate)

	first, err := q.EnqueueOnce(ctx, models.Payload{UserID: "u1"})
	require.NoError(t, err)
	second, err := q.EnqueueOnce(ctx, models.Payload{UserID: "u2"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	depth, err := q.ReadyDepth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, depth)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "u1", got.Payload.UserID)
	assert.Equal(t, models.StateActive, got.State)

	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)

	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "empty queue yields no job")
}

func TestComplete_RecordsResult(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, models.KindWeatherUpdate)

	_, err := q.EnqueueOnce(ctx, models.Payload{UserID: "u1"})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, q.Complete(ctx, *job, `{"isDangerous":false}`))

	stored, err := q.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, stored.State)
	assert.Equal(t, `{"isDangerous":false}`, stored.Result)

	reclaimed, err := q.RequeueExpired(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, reclaimed, "completed jobs hold no lease")
}

func TestEnqueueRepeating_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, models.KindInventorySummary)
	key := models.DedupKey{Kind: models.KindInventorySummary, UserID: "u1"}

	created, err := q.EnqueueRepeating(ctx, models.Payload{UserID: "u1"}, "0 8 * * *", key)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = q.EnqueueRepeating(ctx, models.Payload{UserID: "u1"}, "*/30 * * * * *", key)
	require.NoError(t, err)
	assert.False(t, created)

	schedules, err := q.Schedules(ctx)
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, "inventory-summary-u1", schedules[0].Key)
	assert.Equal(t, "0 8 * * *", schedules[0].Pattern, "re-registration leaves the original untouched")
	assert.False(t, schedules[0].NextRun.IsZero())
}

func TestEnqueueRepeating_Validation(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, models.KindWeatherUpdate)

	_, err := q.EnqueueRepeating(ctx, models.Payload{UserID: "u1"}, "every now and then",
		models.DedupKey{Kind: models.KindWeatherUpdate, UserID: "u1"})
	assert.ErrorIs(t, err, ErrInvalidPattern)

	_, err = q.EnqueueRepeating(ctx, models.Payload{UserID: "u1"}, "@daily",
		models.DedupKey{Kind: models.KindInventorySummary, UserID: "u1"})
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestPromoteDue_OneInstancePerTick(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, models.KindWeatherUpdate)
	key := models.DedupKey{Kind: models.KindWeatherUpdate, UserID: "u1"}

	_, err := q.EnqueueRepeating(ctx, models.Payload{UserID: "u1"}, "*/30 * * * * *", key)
	require.NoError(t, err)

	n, err := q.PromoteDue(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is due before the first tick")

	now := time.Now().Add(time.Minute)
	n, err = q.PromoteDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = q.PromoteDue(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n, "a tick is materialized once")

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.True(t, strings.HasPrefix(job.ID, "weather-update-u1:"), job.ID)
	assert.Equal(t, key.String(), job.ScheduleKey)
	assert.Equal(t, "u1", job.Payload.UserID)
}

func TestOneShotCoexistsWithRepeating(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, models.KindInventorySummary)
	key := models.DedupKey{Kind: models.KindInventorySummary, UserID: "u1"}

	_, err := q.EnqueueRepeating(ctx, models.Payload{UserID: "u1"}, "@every 1m", key)
	require.NoError(t, err)
	_, err = q.EnqueueOnce(ctx, models.Payload{UserID: "u1"})
	require.NoError(t, err)

	_, err = q.PromoteDue(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)

	depth, err := q.ReadyDepth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, depth)
}

func TestCancel_Schedule(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, models.KindWeatherUpdate)
	key := models.DedupKey{Kind: models.KindWeatherUpdate, UserID: "u1"}

	_, err := q.EnqueueRepeating(ctx, models.Payload{UserID: "u1"}, "@every 1m", key)
	require.NoError(t, err)
	_, err = q.PromoteDue(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)

	require.NoError(t, q.Cancel(ctx, key.String()))

	schedules, err := q.Schedules(ctx)
	require.NoError(t, err)
	assert.Empty(t, schedules)

	n, err := q.PromoteDue(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "a waiting instance of a cancelled schedule is dropped")

	assert.NoError(t, q.Cancel(ctx, key.String()), "cancelling twice is a no-op")
}

func TestCancel_JobByID(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, models.KindWeatherUpdate)

	job, err := q.EnqueueOnce(ctx, models.Payload{UserID: "u1"})
	require.NoError(t, err)
	require.NoError(t, q.Cancel(ctx, job.ID))

	depth, err := q.ReadyDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)

	_, err = q.Job(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)

	assert.NoError(t, q.Cancel(ctx, "does-not-exist"))
}

func TestCancel_LeavesActiveJobRunning(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, models.KindWeatherUpdate)

	_, err := q.EnqueueOnce(ctx, models.Payload{UserID: "u1"})
	require.NoError(t, err)
	active, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)

	require.NoError(t, q.Cancel(ctx, active.ID))

	stored, err := q.Job(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateActive, stored.State)
	require.NoError(t, q.Complete(ctx, *active, ""))
}

func TestFail_RetriesThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, models.KindInventorySummary)

	_, err := q.EnqueueOnce(ctx, models.Payload{UserID: "u1"})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	dead, err := q.Fail(ctx, *job, errors.New("provider down"))
	require.NoError(t, err)
	assert.False(t, dead)

	stored, err := q.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateWaiting, stored.State)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, "provider down", stored.LastError)

	retry, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, retry, "retry waits for its backoff")

	n, err := q.PromoteDue(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	retry, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, retry)
	assert.Equal(t, job.ID, retry.ID)

	dead, err = q.Fail(ctx, *retry, errors.New("provider still down"))
	require.NoError(t, err)
	assert.True(t, dead)

	failed, err := q.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, models.StateFailed, failed[0].State)
	assert.Equal(t, 2, failed[0].Attempts)
	assert.Equal(t, "provider still down", failed[0].LastError)
}

func TestRequeueExpired(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, models.KindWeatherUpdate)

	_, err := q.EnqueueOnce(ctx, models.Payload{UserID: "u1"})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	reclaimed, err := q.RequeueExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, reclaimed, "lease still valid")

	require.NoError(t, q.ExtendLease(ctx, job.ID, 10*time.Minute))
	reclaimed, err = q.RequeueExpired(ctx, time.Now().Add(5*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, reclaimed, "extended lease still valid")

	reclaimed, err = q.RequeueExpired(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID}, reclaimed)

	again, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, job.ID, again.ID)
}

func TestBackoffWithJitter(t *testing.T) {
	rand.Seed(1)
	base := time.Second
	max := 8 * time.Second

	b1 := backoffWithJitter(base, max, 1)
	if b1 < base/2 || b1 > max {
		t.Fatalf("backoff out of range: %s", b1)
	}

	b3 := backoffWithJitter(base, max, 3)
	if b3 < 2*base || b3 > max {
		t.Fatalf("backoff out of range for attempt 3: %s", b3)
	}

	b10 := backoffWithJitter(base, max, 10)
	if b10 < max/2 || b10 > max {
		t.Fatalf("backoff not capped: %s", b10)
	}
}
