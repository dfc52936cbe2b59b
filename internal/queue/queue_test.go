package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"imovia/pkg/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fakeStore struct {
	mu      sync.Mutex
	jobs    []*models.QueueJob
	dead    []models.DeadLetterJob
	nextSeq int64
}

func (s *fakeStore) Enqueue(job *models.QueueJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	job.ID = uuid.New()
	job.Seq = s.nextSeq
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *fakeStore) DueJobs(now time.Time, limit int) ([]models.QueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	running := make(map[string]bool)
	for _, j := range s.jobs {
		if j.Status == models.JobRunning {
			running[j.Key] = true
		}
	}

	// Per-key head first, due-ness second: a head in backoff holds its key
	oldest := make(map[string]*models.QueueJob)
	for _, j := range s.jobs {
		if j.Status != models.JobPending || running[j.Key] {
			continue
		}
		if cur, ok := oldest[j.Key]; !ok || j.Seq < cur.Seq {
			oldest[j.Key] = j
		}
	}

	var out []models.QueueJob
	for _, j := range oldest {
		if j.NextRunAt.After(now) {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Seq < out[k].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) MarkRunning(id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == id && j.Status == models.JobPending {
			j.Status = models.JobRunning
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) MarkDone(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, j := range s.jobs {
		if j.ID == id {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *fakeStore) Reschedule(id uuid.UUID, attempts int, nextRun time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == id {
			j.Status = models.JobPending
			j.Attempts = attempts
			j.NextRunAt = nextRun
			j.LastError = lastErr
			return nil
		}
	}
	return nil
}

func (s *fakeStore) MoveToDeadLetter(job *models.QueueJob, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead = append(s.dead, models.DeadLetterJob{
		Key:      job.Key,
		Payload:  job.Payload,
		Attempts: job.Attempts,
		Reason:   reason,
	})
	for i, j := range s.jobs {
		if j.ID == job.ID {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			break
		}
	}
	return nil
}

func (s *fakeStore) PendingCount() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.jobs)), nil
}

func (s *fakeStore) deadLetters() []models.DeadLetterJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.DeadLetterJob, len(s.dead))
	copy(out, s.dead)
	return out
}

func testConfig() Config {
	return Config{
		Workers:      4,
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  3,
		BaseBackoff:  time.Millisecond,
		MaxBackoff:   10 * time.Millisecond,
		JobTimeout:   time.Second,
	}
}

func msg(id, body string) models.InboundMessage {
	return models.InboundMessage{
		ExternalID:  id,
		FromAddress: "5511999990000",
		Kind:        models.KindText,
		Body:        body,
		ReceivedAt:  time.Now().UTC(),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestPerKeyOrdering(t *testing.T) {
	store := &fakeStore{}

	var mu sync.Mutex
	byKey := make(map[string][]string)
	handler := func(ctx context.Context, key string, m models.InboundMessage) error {
		mu.Lock()
		byKey[key] = append(byKey[key], m.Body)
		mu.Unlock()
		return nil
	}

	q := New(store, handler, testConfig(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)

	for i := 0; i < 5; i++ {
		for _, key := range []string{"alice", "bob"} {
			m := msg(fmt.Sprintf("%s-%d", key, i), fmt.Sprintf("m%d", i))
			if err := q.Enqueue(ctx, key, m); err != nil {
				t.Fatalf("enqueue: %v", err)
			}
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(byKey["alice"]) == 5 && len(byKey["bob"]) == 5
	})

	mu.Lock()
	defer mu.Unlock()
	for _, key := range []string{"alice", "bob"} {
		for i, body := range byKey[key] {
			if want := fmt.Sprintf("m%d", i); body != want {
				t.Errorf("key %s position %d: got %s, want %s", key, i, body, want)
			}
		}
	}
}

func TestRetryBackoffHoldsKeyOrder(t *testing.T) {
	store := &fakeStore{}

	var mu sync.Mutex
	var completed []string
	failedOnce := false
	handler := func(ctx context.Context, key string, m models.InboundMessage) error {
		mu.Lock()
		defer mu.Unlock()
		if m.Body == "first" && !failedOnce {
			failedOnce = true
			return errors.New("transient failure")
		}
		completed = append(completed, m.Body)
		return nil
	}

	// Backoff long enough that the second job has plenty of polls to jump
	// the queue if due-ness were checked before the per-key head
	cfg := testConfig()
	cfg.BaseBackoff = 50 * time.Millisecond
	cfg.MaxBackoff = 50 * time.Millisecond

	q := New(store, handler, cfg, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)

	if err := q.Enqueue(ctx, "grace", msg("g-1", "first")); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	if err := q.Enqueue(ctx, "grace", msg("g-2", "second")); err != nil {
		t.Fatalf("enqueue second: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(completed) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if completed[0] != "first" || completed[1] != "second" {
		t.Errorf("completion order: got %v, want [first second]", completed)
	}
}

func TestRetryThenSuccess(t *testing.T) {
	store := &fakeStore{}

	var mu sync.Mutex
	attempts := 0
	handler := func(ctx context.Context, key string, m models.InboundMessage) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("transient failure")
		}
		return nil
	}

	q := New(store, handler, testConfig(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)

	if err := q.Enqueue(ctx, "carol", msg("c-1", "hello")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts == 3
	})

	waitFor(t, func() bool {
		n, _ := store.PendingCount()
		return n == 0
	})
	if dead := store.deadLetters(); len(dead) != 0 {
		t.Errorf("expected no dead letters, got %d", len(dead))
	}
}

func TestExhaustedRetriesDeadLetter(t *testing.T) {
	store := &fakeStore{}
	handler := func(ctx context.Context, key string, m models.InboundMessage) error {
		return errors.New("permanent failure")
	}

	q := New(store, handler, testConfig(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)

	if err := q.Enqueue(ctx, "dave", msg("d-1", "hello")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, func() bool { return len(store.deadLetters()) == 1 })

	dead := store.deadLetters()[0]
	if dead.Key != "dave" {
		t.Errorf("dead letter key: got %s, want dave", dead.Key)
	}
	if dead.Attempts != 3 {
		t.Errorf("dead letter attempts: got %d, want 3", dead.Attempts)
	}
	if dead.Reason != "permanent failure" {
		t.Errorf("dead letter reason: got %q", dead.Reason)
	}
}

func TestShedOverThreshold(t *testing.T) {
	store := &fakeStore{}
	handler := func(ctx context.Context, key string, m models.InboundMessage) error { return nil }

	cfg := testConfig()
	cfg.ShedThreshold = 2
	q := New(store, handler, cfg, zerolog.Nop())
	ctx := context.Background()

	// Dispatcher not started: jobs pile up
	for i := 0; i < 4; i++ {
		if err := q.Enqueue(ctx, "eve", msg(fmt.Sprintf("e-%d", i), "hi")); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	n, _ := store.PendingCount()
	if n != 2 {
		t.Errorf("pending jobs: got %d, want 2", n)
	}
	if dead := store.deadLetters(); len(dead) != 2 {
		t.Errorf("shed jobs: got %d, want 2", len(dead))
	}
}

func TestCorruptPayloadDeadLettersImmediately(t *testing.T) {
	store := &fakeStore{}
	called := false
	handler := func(ctx context.Context, key string, m models.InboundMessage) error {
		called = true
		return nil
	}

	job := &models.QueueJob{
		Key:       "frank",
		Payload:   "{not json",
		Status:    models.JobPending,
		NextRunAt: time.Now(),
	}
	if err := store.Enqueue(job); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	q := New(store, handler, testConfig(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)

	waitFor(t, func() bool { return len(store.deadLetters()) == 1 })

	if called {
		t.Error("handler should not run for a corrupt payload")
	}
	if reason := store.deadLetters()[0].Reason; reason == "" {
		t.Error("dead letter reason should record the parse error")
	}
}

func TestBackoff(t *testing.T) {
	base := time.Second
	max := 10 * time.Second

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{10, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := Backoff(tc.attempts, base, max); got != tc.want {
			t.Errorf("Backoff(%d): got %v, want %v", tc.attempts, got, tc.want)
		}
	}
}
