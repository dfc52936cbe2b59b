package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeCounter struct {
	mu    sync.Mutex
	count int64
	err   error
}

func (c *fakeCounter) DeadLetterCount() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count, c.err
}

func (c *fakeCounter) set(n int64) {
	c.mu.Lock()
	c.count = n
	c.mu.Unlock()
}

type fakeAlerter struct {
	mu     sync.Mutex
	counts []int64
	err    error
}

func (a *fakeAlerter) SendDeadLetterAlert(ctx context.Context, count int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.counts = append(a.counts, count)
	return nil
}

func (a *fakeAlerter) sent() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int64(nil), a.counts...)
}

func TestMonitorAlertsOnGrowth(t *testing.T) {
	counter := &fakeCounter{}
	alerter := &fakeAlerter{}
	m := NewMonitor(counter, alerter, time.Minute, zerolog.Nop())
	ctx := context.Background()

	m.check(ctx)
	if len(alerter.sent()) != 0 {
		t.Fatal("empty store should not alert")
	}

	counter.set(3)
	m.check(ctx)
	m.check(ctx)
	if got := alerter.sent(); len(got) != 1 || got[0] != 3 {
		t.Fatalf("stable backlog should alert once: %v", got)
	}

	counter.set(5)
	m.check(ctx)
	if got := alerter.sent(); len(got) != 2 || got[1] != 5 {
		t.Fatalf("growth should alert again: %v", got)
	}
}

func TestMonitorRealertsAfterDrain(t *testing.T) {
	counter := &fakeCounter{count: 4}
	alerter := &fakeAlerter{}
	m := NewMonitor(counter, alerter, time.Minute, zerolog.Nop())
	ctx := context.Background()

	m.check(ctx)
	counter.set(0)
	m.check(ctx)
	counter.set(2)
	m.check(ctx)

	if got := alerter.sent(); len(got) != 2 || got[1] != 2 {
		t.Fatalf("drained then refilled store should alert from the new baseline: %v", got)
	}
}

func TestMonitorFailedAlertRetriesNextTick(t *testing.T) {
	counter := &fakeCounter{count: 1}
	alerter := &fakeAlerter{err: errors.New("smtp down")}
	m := NewMonitor(counter, alerter, time.Minute, zerolog.Nop())
	ctx := context.Background()

	m.check(ctx)
	alerter.mu.Lock()
	alerter.err = nil
	alerter.mu.Unlock()
	m.check(ctx)

	if got := alerter.sent(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("alert should go out once delivery recovers: %v", got)
	}
}
