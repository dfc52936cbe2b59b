package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"imovia/pkg/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store is the durable persistence behind the queue
type Store interface {
	Enqueue(job *models.QueueJob) error
	DueJobs(now time.Time, limit int) ([]models.QueueJob, error)
	MarkRunning(id uuid.UUID) (bool, error)
	MarkDone(id uuid.UUID) error
	Reschedule(id uuid.UUID, attempts int, nextRun time.Time, lastErr string) error
	MoveToDeadLetter(job *models.QueueJob, reason string) error
	PendingCount() (int64, error)
}

// Handler processes one dequeued message. A returned error is retryable: the
// job is rescheduled with backoff until the attempt ceiling, then
// dead-lettered.
type Handler func(ctx context.Context, key string, msg models.InboundMessage) error

// Config tunes the queue. Zero values take defaults.
type Config struct {
	Workers       int
	PollInterval  time.Duration
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	JobTimeout    time.Duration
	ShedThreshold int64
}

func (c *Config) withDefaults() {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 2 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 2 * time.Minute
	}
	if c.ShedThreshold <= 0 {
		c.ShedThreshold = 10000
	}
}

// Queue is a durable at-least-once work queue with FIFO ordering per key and
// parallelism across keys. Exactly-once behavior comes from pairing it with
// the webhook dedup gate and the idempotent message append.
type Queue struct {
	store   Store
	handler Handler
	cfg     Config
	logger  zerolog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	sem      chan struct{}
	wg       sync.WaitGroup
}

// New creates a queue. Start must be called before jobs are processed.
func New(store Store, handler Handler, cfg Config, logger zerolog.Logger) *Queue {
	cfg.withDefaults()
	return &Queue{
		store:    store,
		handler:  handler,
		cfg:      cfg,
		logger:   logger,
		inflight: make(map[string]struct{}),
		sem:      make(chan struct{}, cfg.Workers),
	}
}

// Enqueue durably persists a message for asynchronous processing and returns
// once the row is committed. Under backpressure the job is diverted to the
// dead-letter store instead of blocking the caller: the webhook response
// deadline outranks immediate processing, and dead letters are recoverable.
func (q *Queue) Enqueue(ctx context.Context, key string, msg models.InboundMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal queue payload: %w", err)
	}

	job := models.QueueJob{
		Key:       key,
		Payload:   string(payload),
		Status:    models.JobPending,
		NextRunAt: time.Now(),
	}

	depth, err := q.store.PendingCount()
	if err != nil {
		q.logger.Error().Err(err).Msg("queue depth check failed, enqueueing anyway")
	} else if depth >= q.cfg.ShedThreshold {
		q.logger.Warn().
			Int64("depth", depth).
			Str("key", key).
			Msg("queue over shed threshold, diverting job to dead letter")
		return q.store.MoveToDeadLetter(&job, fmt.Sprintf("shed: queue depth %d over threshold %d", depth, q.cfg.ShedThreshold))
	}

	return q.store.Enqueue(&job)
}

// Start runs the dispatcher until the context is cancelled, then waits for
// in-flight jobs to finish
func (q *Queue) Start(ctx context.Context) {
	q.logger.Info().
		Int("workers", q.cfg.Workers).
		Int("max_attempts", q.cfg.MaxAttempts).
		Msg("queue dispatcher started")

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.wg.Wait()
			q.logger.Info().Msg("queue dispatcher stopped")
			return
		case <-ticker.C:
			q.dispatch(ctx)
		}
	}
}

// dispatch claims due jobs (one per key) and hands them to the worker pool
func (q *Queue) dispatch(ctx context.Context) {
	jobs, err := q.store.DueJobs(time.Now(), q.cfg.Workers*2)
	if err != nil {
		q.logger.Error().Err(err).Msg("failed to poll for due jobs")
		return
	}

	for _, job := range jobs {
		job := job

		q.mu.Lock()
		if _, busy := q.inflight[job.Key]; busy {
			q.mu.Unlock()
			continue
		}
		q.inflight[job.Key] = struct{}{}
		q.mu.Unlock()

		select {
		case q.sem <- struct{}{}:
		case <-ctx.Done():
			q.release(job.Key)
			return
		}

		claimed, err := q.store.MarkRunning(job.ID)
		if err != nil || !claimed {
			if err != nil {
				q.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to claim job")
			}
			<-q.sem
			q.release(job.Key)
			continue
		}

		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			defer func() { <-q.sem }()
			defer q.release(job.Key)
			q.run(ctx, &job)
		}()
	}
}

func (q *Queue) release(key string) {
	q.mu.Lock()
	delete(q.inflight, key)
	q.mu.Unlock()
}

// run executes one job and settles its outcome: done, rescheduled with
// backoff, or dead-lettered. A job is never silently dropped.
func (q *Queue) run(ctx context.Context, job *models.QueueJob) {
	defer func() {
		if r := recover(); r != nil {
			q.settle(job, fmt.Errorf("panic: %v", r))
		}
	}()

	var msg models.InboundMessage
	if err := json.Unmarshal([]byte(job.Payload), &msg); err != nil {
		// Corrupt payloads can never succeed, skip the retry cycle
		if dlErr := q.store.MoveToDeadLetter(job, fmt.Sprintf("unparseable payload: %v", err)); dlErr != nil {
			q.logger.Error().Err(dlErr).Str("job_id", job.ID.String()).Msg("failed to dead-letter corrupt job")
		}
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, q.cfg.JobTimeout)
	defer cancel()

	err := q.handler(jobCtx, job.Key, msg)
	q.settle(job, err)
}

func (q *Queue) settle(job *models.QueueJob, err error) {
	if err == nil {
		if doneErr := q.store.MarkDone(job.ID); doneErr != nil {
			q.logger.Error().Err(doneErr).Str("job_id", job.ID.String()).Msg("failed to mark job done")
		}
		return
	}

	attempts := job.Attempts + 1
	if attempts >= q.cfg.MaxAttempts {
		q.logger.Error().Err(err).
			Str("job_id", job.ID.String()).
			Str("key", job.Key).
			Int("attempts", attempts).
			Msg("job exhausted retries, moving to dead letter")
		job.Attempts = attempts
		if dlErr := q.store.MoveToDeadLetter(job, err.Error()); dlErr != nil {
			q.logger.Error().Err(dlErr).Str("job_id", job.ID.String()).Msg("failed to dead-letter job")
		}
		return
	}

	delay := Backoff(attempts, q.cfg.BaseBackoff, q.cfg.MaxBackoff)
	q.logger.Warn().Err(err).
		Str("job_id", job.ID.String()).
		Str("key", job.Key).
		Int("attempts", attempts).
		Dur("retry_in", delay).
		Msg("job failed, rescheduling")

	if rsErr := q.store.Reschedule(job.ID, attempts, time.Now().Add(delay), err.Error()); rsErr != nil {
		q.logger.Error().Err(rsErr).Str("job_id", job.ID.String()).Msg("failed to reschedule job")
	}
}

// Backoff returns the exponential delay before the given attempt, capped at
// max: base, 2*base, 4*base, ...
func Backoff(attempts int, base, max time.Duration) time.Duration {
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
