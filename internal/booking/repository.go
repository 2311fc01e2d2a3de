package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clinicops/scheduling/internal/schedule"
)

var (
	ErrNotFound                = errors.New("booking not found")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
)

// Repository contains all DB interactions needed by the coordinator.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Booking, error)

	// FindOverlapping returns non-cancelled bookings whose interval
	// intersects the candidate's (half-open) on the same professional or
	// room, sorted by start, deduplicated by booking id. exclude lets a
	// reschedule ignore the booking being replaced.
	FindOverlapping(ctx context.Context, cand Candidate, exclude *uuid.UUID) ([]ConflictDescriptor, error)

	// BusyIntervals returns the occupied windows for the professional (and
	// room, when set) between from and to. Used by the recommendation sweep.
	BusyIntervals(ctx context.Context, professionalID uuid.UUID, roomID *uuid.UUID, from, to time.Time, exclude *uuid.UUID) ([]schedule.Interval, error)

	// CreateAtomic inserts the booking inside one transaction, re-running
	// the overlap check after taking per-resource advisory locks. A
	// conflict found at commit time rolls everything back and comes back
	// as a non-empty descriptor list with a nil booking.
	CreateAtomic(ctx context.Context, b *Booking) (*Booking, []ConflictDescriptor, error)

	// RescheduleAtomic cancels the old booking and inserts the new one in
	// the same transaction, with the same commit-time re-check excluding
	// oldID. On a lost race nothing is mutated.
	RescheduleAtomic(ctx context.Context, oldID uuid.UUID, b *Booking, cancelReason string) (*Booking, []ConflictDescriptor, error)

	// UpdateStatus is a compare-and-set transition guard: the row moves to
	// `to` only if its current status is one of `from`.
	UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, to Status, reason *string) (*Booking, error)

	// FindElapsedScheduled lists scheduled bookings whose end passed
	// before the cutoff. Consumed by the no-show sweeper.
	FindElapsedScheduled(ctx context.Context, before time.Time) ([]Booking, error)

	// InsertEvent records an audit event.
	InsertEvent(ctx context.Context, ev BookingEvent) error
}
