// Package jobs provides the Redis-backed processing queue and the
// worker pool that drives documents through OCR and extraction.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/docintel/internal/config"
)

// Status tracks a job through the queue.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job asks a worker to run one document through one provider.
type Job struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Provider   string    `json:"provider"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// StatusRecord is the queryable state of a job, kept in Redis with a
// TTL so finished jobs age out on their own.
type StatusRecord struct {
	JobID      string    `json:"job_id"`
	DocumentID string    `json:"document_id"`
	Status     Status    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Queue is the job transport between the API server and workers.
type Queue interface {
	Enqueue(ctx context.Context, job *Job) error
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)
	SetStatus(ctx context.Context, job *Job, status Status, detail string) error
	GetStatus(ctx context.Context, jobID string) (*StatusRecord, error)
	Depth(ctx context.Context) (int64, error)
	Close() error
}

const queueKey = "docintel:jobs"

func statusKey(jobID string) string {
	return "docintel:job:" + jobID
}

// NewJob builds a pending job for a document and provider.
func NewJob(documentID, provider string) *Job {
	return &Job{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		Provider:   provider,
		EnqueuedAt: time.Now().UTC(),
	}
}

// RedisQueue implements Queue on a Redis list with per-job status keys.
type RedisQueue struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisQueue connects to Redis. ttl bounds how long job status keys
// live after their last update.
func NewRedisQueue(cfg config.RedisConfig, ttl time.Duration) *RedisQueue {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisQueue{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl: ttl,
	}
}

// Ping verifies the Redis connection.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return eris.Wrap(q.rdb.Ping(ctx).Err(), "jobs: redis ping")
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "jobs: marshal job")
	}
	if err := q.rdb.LPush(ctx, queueKey, payload).Err(); err != nil {
		return eris.Wrap(err, "jobs: enqueue")
	}
	return q.SetStatus(ctx, job, StatusPending, "")
}

// Dequeue blocks up to timeout for the next job. Returns nil when the
// queue stayed empty.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	res, err := q.rdb.BRPop(ctx, timeout, queueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "jobs: dequeue")
	}
	// BRPop returns [key, value].
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, eris.Wrap(err, "jobs: unmarshal job")
	}
	return &job, nil
}

func (q *RedisQueue) SetStatus(ctx context.Context, job *Job, status Status, detail string) error {
	rec := StatusRecord{
		JobID:      job.ID,
		DocumentID: job.DocumentID,
		Status:     status,
		Detail:     detail,
		UpdatedAt:  time.Now().UTC(),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "jobs: marshal status")
	}
	if err := q.rdb.Set(ctx, statusKey(job.ID), payload, q.ttl).Err(); err != nil {
		return eris.Wrapf(err, "jobs: set status %s", job.ID)
	}
	return nil
}

// GetStatus returns nil when the job is unknown or already expired.
func (q *RedisQueue) GetStatus(ctx context.Context, jobID string) (*StatusRecord, error) {
	payload, err := q.rdb.Get(ctx, statusKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "jobs: get status %s", jobID)
	}
	var rec StatusRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, eris.Wrap(err, "jobs: unmarshal status")
	}
	return &rec, nil
}

// Depth reports how many jobs are waiting.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, queueKey).Result()
	return n, eris.Wrap(err, "jobs: queue depth")
}

func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}
