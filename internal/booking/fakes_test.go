package booking

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinicops/scheduling/internal/schedule"
)

// fakeRepo is an in-memory Repository whose overlap scan uses the same
// half-open predicate the SQL query expresses.
type fakeRepo struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]*Booking
	events   []BookingEvent

	// commitConflicts, when set, is injected once into the next atomic
	// call to simulate a race lost between pre-check and commit.
	commitConflicts []ConflictDescriptor
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{bookings: make(map[uuid.UUID]*Booking)}
}

func (r *fakeRepo) add(t *testing.T, professionalID uuid.UUID, roomID *uuid.UUID, start time.Time, dur time.Duration, status Status) *Booking {
	t.Helper()
	b := &Booking{
		ID:             uuid.New(),
		PatientID:      uuid.New(),
		ProfessionalID: professionalID,
		RoomID:         roomID,
		StartAt:        start.UTC(),
		EndAt:          start.Add(dur).UTC(),
		Status:         status,
		Type:           "consultation",
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	r.mu.Lock()
	r.bookings[b.ID] = b
	r.mu.Unlock()
	return b
}

func (r *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *fakeRepo) GetByIdempotencyKey(_ context.Context, key string) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bookings {
		if b.IdempotencyKey != nil && *b.IdempotencyKey == key {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeRepo) FindOverlapping(_ context.Context, cand Candidate, exclude *uuid.UUID) ([]ConflictDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findOverlappingLocked(cand, exclude), nil
}

func (r *fakeRepo) findOverlappingLocked(cand Candidate, exclude *uuid.UUID) []ConflictDescriptor {
	var out []ConflictDescriptor
	for _, b := range r.bookings {
		if !b.Status.Blocking() {
			continue
		}
		if exclude != nil && b.ID == *exclude {
			continue
		}
		sameProfessional := b.ProfessionalID == cand.ProfessionalID
		sameRoom := cand.RoomID != nil && b.RoomID != nil && *b.RoomID == *cand.RoomID
		if !sameProfessional && !sameRoom {
			continue
		}
		if Overlaps(b.StartAt, b.EndAt, cand.Start, cand.End) {
			out = append(out, ConflictDescriptor{
				BookingID:      b.ID,
				StartAt:        b.StartAt,
				EndAt:          b.EndAt,
				ProfessionalID: b.ProfessionalID,
				RoomID:         b.RoomID,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out
}

func (r *fakeRepo) BusyIntervals(_ context.Context, professionalID uuid.UUID, roomID *uuid.UUID, from, to time.Time, exclude *uuid.UUID) ([]schedule.Interval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var busy []schedule.Interval
	for _, b := range r.bookings {
		if !b.Status.Blocking() {
			continue
		}
		if exclude != nil && b.ID == *exclude {
			continue
		}
		sameProfessional := b.ProfessionalID == professionalID
		sameRoom := roomID != nil && b.RoomID != nil && *b.RoomID == *roomID
		if !sameProfessional && !sameRoom {
			continue
		}
		if Overlaps(b.StartAt, b.EndAt, from, to) {
			busy = append(busy, schedule.Interval{Start: b.StartAt, End: b.EndAt})
		}
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })
	return busy, nil
}

func (r *fakeRepo) CreateAtomic(_ context.Context, b *Booking) (*Booking, []ConflictDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.commitConflicts != nil {
		conflicts := r.commitConflicts
		r.commitConflicts = nil
		return nil, conflicts, nil
	}

	conflicts := r.findOverlappingLocked(Candidate{
		Start:          b.StartAt,
		End:            b.EndAt,
		ProfessionalID: b.ProfessionalID,
		RoomID:         b.RoomID,
	}, nil)
	if len(conflicts) > 0 {
		return nil, conflicts, nil
	}

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	cp := *b
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	r.bookings[cp.ID] = &cp
	r.events = append(r.events, BookingEvent{EventType: EventBookingCreated, BookingID: &cp.ID})
	out := cp
	return &out, nil, nil
}

func (r *fakeRepo) RescheduleAtomic(_ context.Context, oldID uuid.UUID, b *Booking, cancelReason string) (*Booking, []ConflictDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.commitConflicts != nil {
		conflicts := r.commitConflicts
		r.commitConflicts = nil
		return nil, conflicts, nil
	}

	conflicts := r.findOverlappingLocked(Candidate{
		Start:          b.StartAt,
		End:            b.EndAt,
		ProfessionalID: b.ProfessionalID,
		RoomID:         b.RoomID,
	}, &oldID)
	if len(conflicts) > 0 {
		return nil, conflicts, nil
	}

	old, ok := r.bookings[oldID]
	if !ok || !old.Status.Reschedulable() {
		return nil, nil, ErrNotFound
	}

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	old.Status = StatusCancelled
	old.CancelReason = &cancelReason
	old.SupersededBy = &b.ID

	cp := *b
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	r.bookings[cp.ID] = &cp
	r.events = append(r.events, BookingEvent{EventType: EventBookingRescheduled, BookingID: &cp.ID})
	out := cp
	return &out, nil, nil
}

func (r *fakeRepo) UpdateStatus(_ context.Context, id uuid.UUID, from []Status, to Status, reason *string) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	matched := false
	for _, f := range from {
		if b.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return nil, ErrNotFound
	}
	b.Status = to
	if reason != nil {
		b.CancelReason = reason
	}
	b.UpdatedAt = time.Now().UTC()
	cp := *b
	return &cp, nil
}

func (r *fakeRepo) FindElapsedScheduled(_ context.Context, before time.Time) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Booking
	for _, b := range r.bookings {
		if b.Status == StatusScheduled && b.EndAt.Before(before) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (r *fakeRepo) InsertEvent(_ context.Context, ev BookingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// fakeResolver serves fixed daily working hours for any known resource.
type fakeResolver struct {
	mu        sync.Mutex
	openByDay map[string][]schedule.Interval // resourceID|YYYY-MM-DD
	defaults  func(resourceID uuid.UUID, date time.Time) []schedule.Interval
	err       error
}

func newFakeResolver(defaults func(resourceID uuid.UUID, date time.Time) []schedule.Interval) *fakeResolver {
	return &fakeResolver{
		openByDay: make(map[string][]schedule.Interval),
		defaults:  defaults,
	}
}

func (f *fakeResolver) set(resourceID uuid.UUID, date time.Time, open []schedule.Interval) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openByDay[resourceID.String()+"|"+date.Format("2006-01-02")] = open
}

func (f *fakeResolver) OpenIntervals(_ context.Context, resourceID uuid.UUID, date time.Time) ([]schedule.Interval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if open, ok := f.openByDay[resourceID.String()+"|"+date.Format("2006-01-02")]; ok {
		return open, nil
	}
	if f.defaults != nil {
		return f.defaults(resourceID, date), nil
	}
	return nil, nil
}

// fakeCompat approves everything unless told otherwise.
type fakeCompat struct {
	err error
}

func (f *fakeCompat) CheckCreate(context.Context, uuid.UUID, uuid.UUID, *uuid.UUID, string) error {
	return f.err
}
