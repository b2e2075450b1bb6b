// Package jobs is the submission surface producers use to put work on the
// weather-update and inventory-summary queues.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"farm-jobs/internal/models"
	"farm-jobs/internal/store"
	"farm-jobs/internal/telemetry"
)

// ErrMissingUser is returned when a submission has no user id.
var ErrMissingUser = errors.New("userId is required")

// Queue is the producer side of one job queue.
type Queue interface {
	Kind() models.Kind
	EnqueueOnce(ctx context.Context, payload models.Payload) (models.Job, error)
	EnqueueRepeating(ctx context.Context, payload models.Payload, pattern string, key models.DedupKey) (bool, error)
	Cancel(ctx context.Context, keyOrID string) error
	CancelSchedule(ctx context.Context, key models.DedupKey) error
	Job(ctx context.Context, id string) (models.Job, error)
	Schedules(ctx context.Context) ([]models.RepeatingSchedule, error)
	Failed(ctx context.Context, count int64) ([]models.Job, error)
}

// RunLister reads execution history from the run ledger.
type RunLister interface {
	RecentRuns(ctx context.Context, kind string, limit int) ([]store.Run, error)
}

// Submission describes what an enqueue call did. Job is set for one-shot
// submissions; ScheduleKey and Created for repeating ones.
type Submission struct {
	Job         *models.Job `json:"job,omitempty"`
	ScheduleKey string      `json:"scheduleKey,omitempty"`
	Pattern     string      `json:"pattern,omitempty"`
	Created     bool        `json:"created"`
}

// Submitter routes submissions to the queue serving each kind.
type Submitter struct {
	queues map[models.Kind]Queue
	runs   RunLister
}

// NewSubmitter registers one queue per kind. A later queue for the same kind replaces an earlier one.
func NewSubmitter(queues ...Queue) *Submitter {
	s := &Submitter{queues: make(map[models.Kind]Queue, len(queues))}
	for _, q := range queues {
		s.queues[q.Kind()] = q
	}
	return s
}

// WithRuns attaches the run ledger. Without it Runs reports ErrLedgerDisabled.
func (s *Submitter) WithRuns(runs RunLister) *Submitter {
	s.runs = runs
	return s
}

// ErrLedgerDisabled is returned by Runs when no ledger is attached.
var ErrLedgerDisabled = errors.New("run ledger is disabled")

func (s *Submitter) queue(kind models.Kind) (Queue, error) {
	q, ok := s.queues[kind]
	if !ok {
		return nil, fmt.Errorf("%w %q", models.ErrUnknownKind, kind)
	}
	return q, nil
}

// EnqueueWeatherUpdate schedules a weather risk check for userID.
func (s *Submitter) EnqueueWeatherUpdate(ctx context.Context, userID string, sched models.Schedule) (Submission, error) {
	return s.Enqueue(ctx, models.KindWeatherUpdate, userID, sched)
}

// EnqueueInventorySummary schedules an inventory summary for userID.
func (s *Submitter) EnqueueInventorySummary(ctx context.Context, userID string, sched models.Schedule) (Submission, error) {
	return s.Enqueue(ctx, models.KindInventorySummary, userID, sched)
}

// Enqueue submits a job of any kind. Repeating submissions are keyed by
// kind and user, so registering the same user twice keeps the first schedule.
func (s *Submitter) Enqueue(ctx context.Context, kind models.Kind, userID string, sched models.Schedule) (Submission, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Submission{}, ErrMissingUser
	}
	q, err := s.queue(kind)
	if err != nil {
		return Submission{}, err
	}
	payload := models.Payload{UserID: userID}

	if !sched.IsRepeating() {
		job, err := q.EnqueueOnce(ctx, payload)
		if err != nil {
			return Submission{}, err
		}
		telemetry.JobsEnqueued.WithLabelValues(string(kind)).Inc()
		return Submission{Job: &job, Created: true}, nil
	}

	key := models.DedupKey{Kind: kind, UserID: userID}
	created, err := q.EnqueueRepeating(ctx, payload, sched.Pattern, key)
	if err != nil {
		return Submission{}, err
	}
	if created {
		telemetry.JobsEnqueued.WithLabelValues(string(kind)).Inc()
	}
	return Submission{ScheduleKey: key.String(), Pattern: sched.Pattern, Created: created}, nil
}

// CancelScheduled removes the repeating schedule of kind for userID. Jobs
// already running finish normally. Cancelling an absent schedule is not an error.
func (s *Submitter) CancelScheduled(ctx context.Context, userID string, kind models.Kind) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrMissingUser
	}
	q, err := s.queue(kind)
	if err != nil {
		return err
	}
	return q.CancelSchedule(ctx, models.DedupKey{Kind: kind, UserID: userID})
}

// CancelJob removes a pending job instance by id.
func (s *Submitter) CancelJob(ctx context.Context, kind models.Kind, id string) error {
	q, err := s.queue(kind)
	if err != nil {
		return err
	}
	return q.Cancel(ctx, id)
}

func (s *Submitter) Job(ctx context.Context, kind models.Kind, id string) (models.Job, error) {
	q, err := s.queue(kind)
	if err != nil {
		return models.Job{}, err
	}
	return q.Job(ctx, id)
}

func (s *Submitter) Schedules(ctx context.Context, kind models.Kind) ([]models.RepeatingSchedule, error) {
	q, err := s.queue(kind)
	if err != nil {
		return nil, err
	}
	return q.Schedules(ctx)
}

func (s *Submitter) Failed(ctx context.Context, kind models.Kind, count int64) ([]models.Job, error) {
	q, err := s.queue(kind)
	if err != nil {
		return nil, err
	}
	return q.Failed(ctx, count)
}

// Runs lists recent executions of kind from the ledger.
func (s *Submitter) Runs(ctx context.Context, kind models.Kind, limit int) ([]store.Run, error) {
	if s.runs == nil {
		return nil, ErrLedgerDisabled
	}
	if _, err := s.queue(kind); err != nil {
		return nil, err
	}
	return s.runs.RecentRuns(ctx, string(kind), limit)
}
