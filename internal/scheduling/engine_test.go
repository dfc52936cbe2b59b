package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"imovia/pkg/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fakeStore struct {
	mu           sync.Mutex
	availability map[uuid.UUID]*models.AgentAvailability
	viewings     map[uuid.UUID]*models.ScheduledViewing
	properties   map[uuid.UUID]*models.Property
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		availability: make(map[uuid.UUID]*models.AgentAvailability),
		viewings:     make(map[uuid.UUID]*models.ScheduledViewing),
		properties:   make(map[uuid.UUID]*models.Property),
	}
}

func (s *fakeStore) Availability(agentID uuid.UUID) (*models.AgentAvailability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	av, ok := s.availability[agentID]
	if !ok {
		return nil, nil
	}
	cp := *av
	return &cp, nil
}

func (s *fakeStore) ReplaceAvailability(av *models.AgentAvailability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *av
	s.availability[av.AgentID] = &cp
	return nil
}

func (s *fakeStore) ActiveViewings(agentID uuid.UUID, from, to time.Time, exclude *uuid.UUID) ([]models.ScheduledViewing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(agentID, exclude), nil
}

func (s *fakeStore) activeLocked(agentID uuid.UUID, exclude *uuid.UUID) []models.ScheduledViewing {
	var out []models.ScheduledViewing
	for _, v := range s.viewings {
		if v.AgentID != agentID || !v.Blocks() {
			continue
		}
		if exclude != nil && v.ID == *exclude {
			continue
		}
		out = append(out, *v)
	}
	return out
}

// Book holds the store mutex across validation and insert, mirroring the
// per-agent row lock of the real store
func (s *fakeStore) Book(v *models.ScheduledViewing, validate func(busy []models.ScheduledViewing) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.availability[v.AgentID]; !ok {
		return errors.New("availability not found")
	}
	if err := validate(s.activeLocked(v.AgentID, nil)); err != nil {
		return err
	}
	v.ID = uuid.New()
	v.Status = models.ViewingScheduled
	cp := *v
	s.viewings[v.ID] = &cp
	return nil
}

func (s *fakeStore) Reschedule(id, agentID uuid.UUID, newTime time.Time, validate func(current *models.ScheduledViewing, busy []models.ScheduledViewing) error) (*models.ScheduledViewing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.viewings[id]
	if !ok || v.AgentID != agentID {
		return nil, errors.New("viewing not found")
	}
	if err := validate(v, s.activeLocked(agentID, &id)); err != nil {
		return nil, err
	}
	v.ScheduledTime = newTime
	cp := *v
	return &cp, nil
}

func (s *fakeStore) ViewingByID(id, agentID uuid.UUID) (*models.ScheduledViewing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.viewings[id]
	if !ok || v.AgentID != agentID {
		return nil, errors.New("viewing not found")
	}
	cp := *v
	return &cp, nil
}

func (s *fakeStore) UpdateViewingStatus(id, agentID uuid.UUID, status, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.viewings[id]
	if !ok || v.AgentID != agentID {
		return errors.New("viewing not found")
	}
	v.Status = status
	if notes != "" {
		v.Notes = notes
	}
	return nil
}

func (s *fakeStore) ListViewings(agentID uuid.UUID, limit, offset int) (models.PaginationResult[models.ScheduledViewing], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var data []models.ScheduledViewing
	for _, v := range s.viewings {
		if v.AgentID == agentID {
			data = append(data, *v)
		}
	}
	return models.PaginationResult[models.ScheduledViewing]{Data: data, Total: int64(len(data))}, nil
}

func (s *fakeStore) PropertyByID(id uuid.UUID) (*models.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.properties[id]
	if !ok {
		return nil, errors.New("property not found")
	}
	cp := *p
	return &cp, nil
}

type scoreRecorder struct {
	mu    sync.Mutex
	calls map[uuid.UUID]int
}

func (r *scoreRecorder) AddLeadScore(conversationID uuid.UUID, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[uuid.UUID]int)
	}
	r.calls[conversationID] += delta
	return nil
}

func setup(t *testing.T) (*Engine, *fakeStore, uuid.UUID, uuid.UUID) {
	t.Helper()
	store := newFakeStore()
	agentID := uuid.New()

	av := mondayAvailability()
	av.AgentID = agentID
	if err := store.ReplaceAvailability(av); err != nil {
		t.Fatal(err)
	}

	prop := &models.Property{AgentID: agentID, Title: "Apt 42", Address: "Rua A, 100"}
	prop.ID = uuid.New()
	store.properties[prop.ID] = prop

	engine := NewEngine(store, nil, nil, nil, zerolog.Nop())
	return engine, store, agentID, prop.ID
}

func bookReq(agentID, propertyID uuid.UUID, start time.Time) BookRequest {
	return BookRequest{
		AgentID:         agentID,
		PropertyID:      propertyID,
		ConversationID:  uuid.New(),
		CustomerAddress: "5511988887777",
		ScheduledTime:   start,
	}
}

func TestBookInsideWindow(t *testing.T) {
	engine, _, agentID, propertyID := setup(t)

	v, err := engine.Book(context.Background(), bookReq(agentID, propertyID, monday(t, 10, 0)))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if v.Status != models.ViewingScheduled {
		t.Errorf("status: got %s", v.Status)
	}
	if v.DurationMinutes != 60 {
		t.Errorf("duration: got %d, want 60 from availability", v.DurationMinutes)
	}
}

func TestBookOutsideWindowRejected(t *testing.T) {
	engine, _, agentID, propertyID := setup(t)

	// 16:30 start would end at 17:30, past the window
	if _, err := engine.Book(context.Background(), bookReq(agentID, propertyID, monday(t, 16, 30))); !errors.Is(err, ErrOutsideAvailability) {
		t.Errorf("late booking: got %v, want ErrOutsideAvailability", err)
	}

	// Tuesday has no window
	if _, err := engine.Book(context.Background(), bookReq(agentID, propertyID, monday(t, 10, 0).AddDate(0, 0, 1))); !errors.Is(err, ErrOutsideAvailability) {
		t.Errorf("off-day booking: got %v, want ErrOutsideAvailability", err)
	}
}

func TestBookConflictWithBuffer(t *testing.T) {
	engine, _, agentID, propertyID := setup(t)

	if _, err := engine.Book(context.Background(), bookReq(agentID, propertyID, monday(t, 10, 0))); err != nil {
		t.Fatalf("first booking: %v", err)
	}

	// 11:00 is clear of the viewing itself but inside the 30 minute buffer
	if _, err := engine.Book(context.Background(), bookReq(agentID, propertyID, monday(t, 11, 0))); !errors.Is(err, ErrSlotTaken) {
		t.Errorf("buffered booking: got %v, want ErrSlotTaken", err)
	}

	if _, err := engine.Book(context.Background(), bookReq(agentID, propertyID, monday(t, 11, 30))); err != nil {
		t.Errorf("11:30 booking should clear the buffer: %v", err)
	}
}

func TestConcurrentBookingSingleWinner(t *testing.T) {
	engine, _, agentID, propertyID := setup(t)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Book(context.Background(), bookReq(agentID, propertyID, monday(t, 14, 0)))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotTaken):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("winners: got %d, want exactly 1", wins)
	}
}

func TestCancelFreesSlot(t *testing.T) {
	engine, _, agentID, propertyID := setup(t)

	v, err := engine.Book(context.Background(), bookReq(agentID, propertyID, monday(t, 10, 0)))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	if err := engine.Cancel(v.ID, agentID, "customer travelling"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	// Cancel is idempotent
	if err := engine.Cancel(v.ID, agentID, ""); err != nil {
		t.Fatalf("repeat Cancel: %v", err)
	}

	if _, err := engine.Book(context.Background(), bookReq(agentID, propertyID, monday(t, 10, 0))); err != nil {
		t.Errorf("rebooking a cancelled slot: %v", err)
	}
}

func TestRescheduleValidatesNewTime(t *testing.T) {
	engine, _, agentID, propertyID := setup(t)

	if _, err := engine.Book(context.Background(), bookReq(agentID, propertyID, monday(t, 9, 0))); err != nil {
		t.Fatalf("book first: %v", err)
	}
	second, err := engine.Book(context.Background(), bookReq(agentID, propertyID, monday(t, 13, 0)))
	if err != nil {
		t.Fatalf("book second: %v", err)
	}

	// Moving into the other viewing's buffered interval fails
	if _, err := engine.Reschedule(context.Background(), second.ID, agentID, monday(t, 9, 30)); !errors.Is(err, ErrSlotTaken) {
		t.Errorf("conflicting reschedule: got %v, want ErrSlotTaken", err)
	}

	// Moving within its own old interval succeeds: the moved viewing is
	// excluded from its own conflict check
	moved, err := engine.Reschedule(context.Background(), second.ID, agentID, monday(t, 13, 30))
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if !moved.ScheduledTime.Equal(monday(t, 13, 30)) {
		t.Errorf("scheduled time: got %v", moved.ScheduledTime)
	}
}

func TestRescheduleRejectsFinalizedViewing(t *testing.T) {
	engine, store, agentID, propertyID := setup(t)

	v, err := engine.Book(context.Background(), bookReq(agentID, propertyID, monday(t, 10, 0)))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if err := engine.Cancel(v.ID, agentID, ""); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if _, err := engine.Reschedule(context.Background(), v.ID, agentID, monday(t, 13, 0)); !errors.Is(err, ErrViewingFinalized) {
		t.Errorf("cancelled reschedule: got %v, want ErrViewingFinalized", err)
	}
	after, err := engine.Viewing(v.ID, agentID)
	if err != nil {
		t.Fatalf("Viewing: %v", err)
	}
	if !after.ScheduledTime.Equal(monday(t, 10, 0)) || after.Status != models.ViewingCancelled {
		t.Errorf("cancelled viewing changed: time=%v status=%s", after.ScheduledTime, after.Status)
	}

	done, err := engine.Book(context.Background(), bookReq(agentID, propertyID, monday(t, 14, 0)))
	if err != nil {
		t.Fatalf("book second: %v", err)
	}
	if err := store.UpdateViewingStatus(done.ID, agentID, models.ViewingCompleted, ""); err != nil {
		t.Fatalf("complete viewing: %v", err)
	}
	if _, err := engine.Reschedule(context.Background(), done.ID, agentID, monday(t, 15, 0)); !errors.Is(err, ErrViewingFinalized) {
		t.Errorf("completed reschedule: got %v, want ErrViewingFinalized", err)
	}
}

func TestRescheduleRejectsConcurrentCancel(t *testing.T) {
	engine, store, agentID, propertyID := setup(t)

	v, err := engine.Book(context.Background(), bookReq(agentID, propertyID, monday(t, 10, 0)))
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	// Cancel lands between the engine's pre-check and the store transaction;
	// the in-transaction re-read must still reject the move
	if err := store.UpdateViewingStatus(v.ID, agentID, models.ViewingCancelled, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err = store.Reschedule(v.ID, agentID, monday(t, 13, 0), func(current *models.ScheduledViewing, busy []models.ScheduledViewing) error {
		if viewingFinalized(current.Status) {
			return ErrViewingFinalized
		}
		return nil
	})
	if !errors.Is(err, ErrViewingFinalized) {
		t.Errorf("raced reschedule: got %v, want ErrViewingFinalized", err)
	}
}

func TestAvailableSlotsReflectBookings(t *testing.T) {
	engine, _, agentID, propertyID := setup(t)

	if _, err := engine.Book(context.Background(), bookReq(agentID, propertyID, monday(t, 10, 0))); err != nil {
		t.Fatalf("Book: %v", err)
	}

	seq, err := engine.AvailableSlots(agentID, monday(t, 0, 0), monday(t, 0, 0).AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("AvailableSlots: %v", err)
	}
	var got []Slot
	for s := range seq {
		got = append(got, s)
	}
	if contains(got, "10:00") || contains(got, "11:00") {
		t.Errorf("booked and buffered slots still offered: %v", starts(got))
	}
	if !contains(got, "11:30") {
		t.Errorf("11:30 should be offered, got %v", starts(got))
	}
}

func TestBookWithoutAvailability(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, nil, nil, nil, zerolog.Nop())

	_, err := engine.Book(context.Background(), bookReq(uuid.New(), uuid.New(), time.Now()))
	if !errors.Is(err, ErrNoAvailability) {
		t.Errorf("got %v, want ErrNoAvailability", err)
	}
}

func TestBookingBumpsLeadScore(t *testing.T) {
	engine, store, agentID, propertyID := setup(t)
	scores := &scoreRecorder{}
	engine = NewEngine(store, scores, nil, nil, zerolog.Nop())

	req := bookReq(agentID, propertyID, monday(t, 10, 0))
	if _, err := engine.Book(context.Background(), req); err != nil {
		t.Fatalf("Book: %v", err)
	}
	if scores.calls[req.ConversationID] != bookingLeadBonus {
		t.Errorf("lead score: got %d, want %d", scores.calls[req.ConversationID], bookingLeadBonus)
	}
}

func TestReplaceAvailabilityValidation(t *testing.T) {
	engine, _, agentID, _ := setup(t)

	bad := mondayAvailability()
	bad.AgentID = agentID
	bad.Windows[0].EndTime = "08:00"
	if err := engine.ReplaceAvailability(bad); err == nil {
		t.Error("expected error for window ending before it starts")
	}

	bad = mondayAvailability()
	bad.AgentID = agentID
	bad.Windows[0].DayOfWeek = 7
	if err := engine.ReplaceAvailability(bad); err == nil {
		t.Error("expected error for day_of_week out of range")
	}
}
