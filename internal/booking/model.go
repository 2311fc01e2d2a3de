package booking

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
	StatusCompleted Status = "completed"
)

// Reschedulable reports whether a booking in this status may be replaced.
func (s Status) Reschedulable() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// Blocking reports whether a booking in this status occupies its resources
// for overlap purposes. Only cancellation frees the interval.
func (s Status) Blocking() bool {
	return s != StatusCancelled
}

// Duration bounds for a single appointment.
const (
	MinDuration = 5 * time.Minute
	MaxDuration = 8 * time.Hour
)

type Booking struct {
	ID             uuid.UUID
	PatientID      uuid.UUID
	ProfessionalID uuid.UUID
	RoomID         *uuid.UUID
	StartAt        time.Time // UTC
	EndAt          time.Time // UTC
	Status         Status
	Type           string
	Reason         string
	Notes          *string
	CancelReason   *string
	SupersededBy   *uuid.UUID
	IdempotencyKey *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Candidate is the interval/resource tuple checked for conflicts.
type Candidate struct {
	Start          time.Time
	End            time.Time
	ProfessionalID uuid.UUID
	RoomID         *uuid.UUID
}

// ConflictDescriptor identifies one existing booking that overlaps a
// candidate. Returned verbatim so the UI can render the exact appointment.
type ConflictDescriptor struct {
	BookingID      uuid.UUID
	StartAt        time.Time
	EndAt          time.Time
	ProfessionalID uuid.UUID
	RoomID         *uuid.UUID
}

// SlotRecommendation is a bookable alternative slot. Local fields are in
// the clinic timezone, Start/End in UTC.
type SlotRecommendation struct {
	Date       string // YYYY-MM-DD, clinic-local
	StartLocal time.Time
	EndLocal   time.Time
	StartAt    time.Time
	EndAt      time.Time
}

type CreateRequest struct {
	PatientID      uuid.UUID
	ProfessionalID uuid.UUID
	RoomID         *uuid.UUID
	StartLocal     time.Time // clinic-local wall clock
	Duration       time.Duration
	Type           string
	Reason         string
	Notes          *string
	IdempotencyKey string
}

// RescheduleIntent binds an existing booking to a new requested interval.
// Consumed exactly once by the coordinator, replace-on-success.
type RescheduleIntent struct {
	ExistingID uuid.UUID
	Request    CreateRequest
}

type AvailabilityRequest struct {
	ProfessionalID uuid.UUID
	RoomID         *uuid.UUID
	StartLocal     time.Time
	Duration       time.Duration
	Exclude        *uuid.UUID
}

// Rejection codes carried on conflict-shaped results.
const (
	CodeOverlap      = "OVERLAP"
	CodeOutsideHours = "OUTSIDE_HOURS"
)

// CreateResult is the tagged outcome of a create attempt: either Booking is
// set, or Code explains the rejection with conflicts and alternatives.
type CreateResult struct {
	Booking         *Booking
	Code            string
	Conflicts       []ConflictDescriptor
	Recommendations []SlotRecommendation
	Replayed        bool // satisfied from a previous request via idempotency key
}

func (r *CreateResult) Booked() bool {
	return r != nil && r.Booking != nil
}

// Replaced records a successful reschedule: the cancelled original and its
// replacement.
type Replaced struct {
	OldID uuid.UUID
	NewID uuid.UUID
}

// RescheduleResult is the tagged outcome of a reschedule: Replaced+Booking
// on success, otherwise Code with conflicts and alternatives.
type RescheduleResult struct {
	Replaced        *Replaced
	Booking         *Booking
	Code            string
	Conflicts       []ConflictDescriptor
	Recommendations []SlotRecommendation
}

func (r *RescheduleResult) Rescheduled() bool {
	return r != nil && r.Replaced != nil
}

type AvailabilityResult struct {
	Available       bool
	Code            string
	Conflicts       []ConflictDescriptor
	Recommendations []SlotRecommendation
}

// Audit event types recorded alongside booking mutations.
const (
	EventBookingCreated     = "BOOKING_CREATED"
	EventBookingConfirmed   = "BOOKING_CONFIRMED"
	EventBookingCancelled   = "BOOKING_CANCELLED"
	EventBookingRescheduled = "BOOKING_RESCHEDULED"
	EventBookingNoShow      = "BOOKING_NO_SHOW"
	EventBookingCompleted   = "BOOKING_COMPLETED"
)

type BookingEvent struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
