package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"farm-jobs/internal/config"
	"farm-jobs/internal/models"
)

var (
	ErrInvalidPattern = errors.New("invalid repeat pattern")
	ErrKindMismatch   = errors.New("dedup key belongs to another queue")
	ErrJobNotFound    = errors.New("job not found")
)

const (
	completedRetention = 24 * time.Hour
	failedRetention    = 7 * 24 * time.Hour
	historyLimit       = 1000
)

// patternParser accepts 5-field cron, 6-field cron with leading seconds and descriptors like @daily.
var patternParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParsePattern validates a repeat pattern.
func ParsePattern(pattern string) (cron.Schedule, error) {
	sched, err := patternParser.Parse(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, pattern, err)
	}
	return sched, nil
}

// Options tunes lease and retry behavior for one queue.
type Options struct {
	Prefix            string
	VisibilityTimeout time.Duration
	MaxAttempts       int
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BatchSize         int64
}

// OptionsFromConfig maps shared config onto queue options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Prefix:            cfg.QueuePrefix,
		VisibilityTimeout: cfg.VisibilityTimeout,
		MaxAttempts:       cfg.MaxAttempts,
		BackoffInitial:    cfg.BackoffInitial,
		BackoffMax:        cfg.BackoffMax,
		BatchSize:         int64(cfg.ScheduledBatchSize),
	}
}

// RedisQueue coordinates ready, in-flight, delayed and repeating jobs of one kind in Redis.
type RedisQueue struct {
	client *redis.Client
	kind   models.Kind
	opts   Options
}

// NewRedisQueue builds a queue for kind on a shared broker client.
func NewRedisQueue(client *redis.Client, kind models.Kind, opts Options) *RedisQueue {
	if opts.Prefix == "" {
		opts.Prefix = "farm"
	}
	if opts.VisibilityTimeout == 0 {
		opts.VisibilityTimeout = 5 * time.Minute
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffInitial == 0 {
		opts.BackoffInitial = 5 * time.Second
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 5 * time.Minute
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 100
	}
	return &RedisQueue{client: client, kind: kind, opts: opts}
}

func (q *RedisQueue) Kind() models.Kind { return q.kind }

func (q *RedisQueue) key(suffix string) string {
	return fmt.Sprintf("%s:%s:%s", q.opts.Prefix, q.kind, suffix)
}

func (q *RedisQueue) readyKey() string     { return q.key("ready") }
func (q *RedisQueue) scheduledKey() string { return q.key("scheduled") }
func (q *RedisQueue) inflightKey() string  { return q.key("inflight") }
func (q *RedisQueue) repeatKey() string    { return q.key("repeat") }
func (q *RedisQueue) schedulesKey() string { return q.key("schedules") }
func (q *RedisQueue) failedKey() string    { return q.key("failed") }
func (q *RedisQueue) completedKey() string { return q.key("completed") }
func (q *RedisQueue) jobKey(id string) string {
	return q.key("job:" + id)
}

// EnqueueOnce inserts a job for immediate dispatch under a broker-generated id.
func (q *RedisQueue) EnqueueOnce(ctx context.Context, payload models.Payload) (models.Job, error) {
	now := time.Now().UTC()
	job := models.Job{
		ID:          uuid.New().String(),
		Kind:        q.kind,
		Payload:     payload,
		State:       models.StateWaiting,
		MaxAttempts: q.opts.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobKey(job.ID), jobFields(job))
	pipe.RPush(ctx, q.readyKey(), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return models.Job{}, fmt.Errorf("enqueue %s: %w", q.kind, err)
	}
	return job, nil
}

// EnqueueRepeating registers a recurring schedule under key. It reports false
// when a schedule with the same key already exists; the existing one is left untouched.
func (q *RedisQueue) EnqueueRepeating(ctx context.Context, payload models.Payload, pattern string, key models.DedupKey) (bool, error) {
	if key.Kind != q.kind {
		return false, fmt.Errorf("%w: %s on %s", ErrKindMismatch, key, q.kind)
	}
	sched, err := ParsePattern(pattern)
	if err != nil {
		return false, err
	}
	next := sched.Next(time.Now())
	body, err := json.Marshal(models.RepeatingSchedule{
		Key:     key.String(),
		Kind:    q.kind,
		Pattern: pattern,
		Payload: payload,
	})
	if err != nil {
		return false, fmt.Errorf("marshal schedule: %w", err)
	}
	res, err := registerScript.Run(ctx, q.client,
		[]string{q.schedulesKey(), q.repeatKey()},
		key.String(), string(body), next.UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("register schedule %s: %w", key, err)
	}
	return res == 1, nil
}

// CancelSchedule removes the repeating schedule registered under key. Waiting
// instances it already materialized are dropped at dequeue. An absent
// schedule is not an error.
func (q *RedisQueue) CancelSchedule(ctx context.Context, key models.DedupKey) error {
	if key.Kind != q.kind {
		return fmt.Errorf("%w: %s on %s", ErrKindMismatch, key, q.kind)
	}
	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, q.schedulesKey(), key.String())
	pipe.ZRem(ctx, q.repeatKey(), key.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove schedule %s: %w", key, err)
	}
	return nil
}

// Cancel removes a repeating schedule (by dedup key) or a pending job (by id).
// Keys whose user id contains ':' do not parse; use CancelSchedule for those.
// Absent keys and ids are not an error. An active job is left to finish.
func (q *RedisQueue) Cancel(ctx context.Context, keyOrID string) error {
	if key, ok := models.ParseDedupKey(keyOrID); ok && key.Kind == q.kind {
		return q.CancelSchedule(ctx, key)
	}
	err := removeScript.Run(ctx, q.client,
		[]string{q.jobKey(keyOrID), q.readyKey(), q.scheduledKey()},
		keyOrID,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("remove job %s: %w", keyOrID, err)
	}
	return nil
}

// PromoteDue moves due delayed jobs into the ready list and materializes one
// job instance for every repeating schedule whose tick has come. It returns
// how many jobs became ready.
func (q *RedisQueue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	promoted, err := q.promoteDelayed(ctx, now)
	if err != nil {
		return promoted, err
	}
	ticks, err := q.promoteRepeating(ctx, now)
	return promoted + ticks, err
}

func (q *RedisQueue) promoteDelayed(ctx context.Context, now time.Time) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.scheduledKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: q.opts.BatchSize,
	}).Result()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		moved, err := moveScript.Run(ctx, q.client, []string{q.scheduledKey(), q.readyKey()}, id).Int()
		if err != nil {
			return n, err
		}
		n += moved
	}
	return n, nil
}

func (q *RedisQueue) promoteRepeating(ctx context.Context, now time.Time) (int, error) {
	due, err := q.client.ZRangeByScoreWithScores(ctx, q.repeatKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: q.opts.BatchSize,
	}).Result()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, z := range due {
		key, _ := z.Member.(string)
		raw, err := q.client.HGet(ctx, q.schedulesKey(), key).Result()
		if errors.Is(err, redis.Nil) {
			q.client.ZRem(ctx, q.repeatKey(), key)
			continue
		}
		if err != nil {
			return n, err
		}
		var sched models.RepeatingSchedule
		if err := json.Unmarshal([]byte(raw), &sched); err != nil {
			return n, fmt.Errorf("decode schedule %s: %w", key, err)
		}
		parsed, err := ParsePattern(sched.Pattern)
		if err != nil {
			return n, err
		}
		tick := int64(z.Score)
		instance := fmt.Sprintf("%s:%d", key, tick)
		stamp := now.UTC().Format(time.RFC3339Nano)
		ok, err := tickScript.Run(ctx, q.client,
			[]string{q.repeatKey(), q.schedulesKey(), q.jobKey(instance), q.readyKey()},
			key, now.UnixMilli(), parsed.Next(now).UnixMilli(),
			instance, string(q.kind), sched.Payload.UserID, q.opts.MaxAttempts, stamp,
		).Int()
		if err != nil {
			return n, fmt.Errorf("materialize %s: %w", instance, err)
		}
		n += ok
	}
	return n, nil
}

// Dequeue leases the oldest ready job. It returns nil when the queue is empty.
func (q *RedisQueue) Dequeue(ctx context.Context) (*models.Job, error) {
	for {
		deadline := time.Now().Add(q.opts.VisibilityTimeout).UnixMilli()
		stamp := time.Now().UTC().Format(time.RFC3339Nano)
		id, err := dequeueScript.Run(ctx, q.client,
			[]string{q.readyKey(), q.inflightKey()},
			deadline, stamp, q.jobKey(""),
		).Text()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		job, err := q.Job(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			q.client.ZRem(ctx, q.inflightKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if job.ScheduleKey != "" {
			// Instances of a cancelled schedule are dropped before they run.
			exists, err := q.client.HExists(ctx, q.schedulesKey(), job.ScheduleKey).Result()
			if err != nil {
				return nil, err
			}
			if !exists {
				pipe := q.client.TxPipeline()
				pipe.ZRem(ctx, q.inflightKey(), id)
				pipe.Del(ctx, q.jobKey(id))
				_, _ = pipe.Exec(ctx)
				continue
			}
		}
		return &job, nil
	}
}

// ExtendLease pushes the visibility deadline forward for an in-flight job.
func (q *RedisQueue) ExtendLease(ctx context.Context, jobID string, extension time.Duration) error {
	return q.client.ZAddXX(ctx, q.inflightKey(), redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: jobID,
	}).Err()
}

// Complete marks an in-flight job done and records its result.
func (q *RedisQueue) Complete(ctx context.Context, job models.Job, result string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey(), job.ID)
	pipe.HSet(ctx, q.jobKey(job.ID),
		"state", models.StateCompleted,
		"result", result,
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, q.jobKey(job.ID), completedRetention)
	pipe.LPush(ctx, q.completedKey(), job.ID)
	pipe.LTrim(ctx, q.completedKey(), 0, historyLimit-1)
	_, err := pipe.Exec(ctx)
	return err
}

// Fail records a handler failure. Below the attempt limit the job is retried
// after exponential backoff; at the limit it is marked failed for good and
// Fail reports true.
func (q *RedisQueue) Fail(ctx context.Context, job models.Job, cause error) (bool, error) {
	attempts := job.Attempts + 1
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	msg := cause.Error()

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey(), job.ID)
	if attempts >= q.opts.MaxAttempts {
		pipe.HSet(ctx, q.jobKey(job.ID),
			"state", models.StateFailed,
			"attempts", attempts,
			"last_error", msg,
			"updated_at", stamp,
		)
		pipe.Expire(ctx, q.jobKey(job.ID), failedRetention)
		pipe.LPush(ctx, q.failedKey(), job.ID)
		pipe.LTrim(ctx, q.failedKey(), 0, historyLimit-1)
		_, err := pipe.Exec(ctx)
		return true, err
	}
	next := time.Now().Add(backoffWithJitter(q.opts.BackoffInitial, q.opts.BackoffMax, attempts))
	pipe.HSet(ctx, q.jobKey(job.ID),
		"state", models.StateWaiting,
		"attempts", attempts,
		"last_error", msg,
		"updated_at", stamp,
	)
	pipe.ZAdd(ctx, q.scheduledKey(), redis.Z{Score: float64(next.UnixMilli()), Member: job.ID})
	_, err := pipe.Exec(ctx)
	return false, err
}

// RequeueExpired reclaims leases that timed out, re-enqueuing them.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: q.opts.BatchSize,
	}).Result()
	if err != nil {
		return nil, err
	}
	var reclaimed []string
	for _, id := range ids {
		ok, err := reclaimScript.Run(ctx, q.client,
			[]string{q.inflightKey(), q.readyKey(), q.jobKey(id)},
			id, now.UnixMilli(),
		).Int()
		if err != nil {
			return reclaimed, err
		}
		if ok == 1 {
			reclaimed = append(reclaimed, id)
		}
	}
	return reclaimed, nil
}

// Job loads one job by id.
func (q *RedisQueue) Job(ctx context.Context, id string) (models.Job, error) {
	fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return models.Job{}, err
	}
	if len(fields) == 0 {
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return decodeJob(fields), nil
}

// Schedules lists the registered repeating schedules with their next run.
func (q *RedisQueue) Schedules(ctx context.Context) ([]models.RepeatingSchedule, error) {
	raw, err := q.client.HGetAll(ctx, q.schedulesKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.RepeatingSchedule, 0, len(raw))
	for key, body := range raw {
		var sched models.RepeatingSchedule
		if err := json.Unmarshal([]byte(body), &sched); err != nil {
			return nil, fmt.Errorf("decode schedule %s: %w", key, err)
		}
		if score, err := q.client.ZScore(ctx, q.repeatKey(), key).Result(); err == nil {
			sched.NextRun = time.UnixMilli(int64(score)).UTC()
		}
		out = append(out, sched)
	}
	return out, nil
}

// Failed returns the most recent terminally failed jobs, newest first.
func (q *RedisQueue) Failed(ctx context.Context, count int64) ([]models.Job, error) {
	ids, err := q.client.LRange(ctx, q.failedKey(), 0, count-1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]models.Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.Job(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ReadyDepth returns the length of the ready list.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey()).Result()
}

func jobFields(job models.Job) map[string]any {
	return map[string]any{
		"id":           job.ID,
		"kind":         string(job.Kind),
		"user_id":      job.Payload.UserID,
		"state":        job.State,
		"attempts":     job.Attempts,
		"max_attempts": job.MaxAttempts,
		"schedule_key": job.ScheduleKey,
		"created_at":   job.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   job.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func decodeJob(f map[string]string) models.Job {
	job := models.Job{
		ID:          f["id"],
		Kind:        models.Kind(f["kind"]),
		Payload:     models.Payload{UserID: f["user_id"]},
		State:       f["state"],
		ScheduleKey: f["schedule_key"],
		LastError:   f["last_error"],
		Result:      f["result"],
	}
	job.Attempts, _ = strconv.Atoi(f["attempts"])
	job.MaxAttempts, _ = strconv.Atoi(f["max_attempts"])
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, f["created_at"])
	job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, f["updated_at"])
	return job
}
