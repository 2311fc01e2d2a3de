package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicops/scheduling/internal/booking"
)

// localTimeLayout is the wall-clock format bookings are requested in. The
// clinic timezone is implied; callers never send offsets.
const localTimeLayout = "2006-01-02T15:04"

type CreateBookingRequest struct {
	PatientID       string  `json:"patient_id"`
	ProfessionalID  string  `json:"professional_id"`
	RoomID          *string `json:"room_id,omitempty"`
	StartLocal      string  `json:"start_local"`
	DurationMinutes int     `json:"duration_minutes"`
	Type            string  `json:"type"`
	Reason          string  `json:"reason,omitempty"`
	Notes           *string `json:"notes,omitempty"`
}

type RescheduleBookingRequest struct {
	ProfessionalID  string  `json:"professional_id"`
	RoomID          *string `json:"room_id,omitempty"`
	StartLocal      string  `json:"start_local"`
	DurationMinutes int     `json:"duration_minutes"`
	Reason          string  `json:"reason,omitempty"`
	Notes           *string `json:"notes,omitempty"`
}

type CancelBookingRequest struct {
	Reason string `json:"reason,omitempty"`
}

type BookingResponse struct {
	ID             uuid.UUID  `json:"id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	ProfessionalID uuid.UUID  `json:"professional_id"`
	RoomID         *uuid.UUID `json:"room_id,omitempty"`
	StartAt        time.Time  `json:"start_at"`
	EndAt          time.Time  `json:"end_at"`
	StartLocal     string     `json:"start_local"`
	EndLocal       string     `json:"end_local"`
	Status         string     `json:"status"`
	Type           string     `json:"type"`
	Reason         string     `json:"reason,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
	CancelReason   *string    `json:"cancel_reason,omitempty"`
	SupersededBy   *uuid.UUID `json:"superseded_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type RescheduleResponse struct {
	OldID   uuid.UUID       `json:"old_id"`
	NewID   uuid.UUID       `json:"new_id"`
	Booking BookingResponse `json:"booking"`
}

type ConflictDTO struct {
	BookingID      uuid.UUID  `json:"booking_id"`
	StartAt        time.Time  `json:"start_at"`
	EndAt          time.Time  `json:"end_at"`
	ProfessionalID uuid.UUID  `json:"professional_id"`
	RoomID         *uuid.UUID `json:"room_id,omitempty"`
}

type RecommendationDTO struct {
	Date       string    `json:"date"`
	StartLocal string    `json:"start_local"`
	EndLocal   string    `json:"end_local"`
	StartAt    time.Time `json:"start_at"`
	EndAt      time.Time `json:"end_at"`
}

// ConflictResponse is the contractual 409 body: the rejection code plus the
// exact blocking bookings and ranked alternatives.
type ConflictResponse struct {
	Code            string              `json:"code"`
	Conflicts       []ConflictDTO       `json:"conflicts"`
	Recommendations []RecommendationDTO `json:"recommendations"`
}

type AvailabilityResponse struct {
	Available       bool                `json:"available"`
	Code            string              `json:"code,omitempty"`
	Conflicts       []ConflictDTO       `json:"conflicts,omitempty"`
	Recommendations []RecommendationDTO `json:"recommendations,omitempty"`
}

type RecommendationsResponse struct {
	Recommendations []RecommendationDTO `json:"recommendations"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toBookingResponse(b *booking.Booking, loc *time.Location) BookingResponse {
	return BookingResponse{
		ID:             b.ID,
		PatientID:      b.PatientID,
		ProfessionalID: b.ProfessionalID,
		RoomID:         b.RoomID,
		StartAt:        b.StartAt,
		EndAt:          b.EndAt,
		StartLocal:     b.StartAt.In(loc).Format(localTimeLayout),
		EndLocal:       b.EndAt.In(loc).Format(localTimeLayout),
		Status:         string(b.Status),
		Type:           b.Type,
		Reason:         b.Reason,
		Notes:          b.Notes,
		CancelReason:   b.CancelReason,
		SupersededBy:   b.SupersededBy,
		CreatedAt:      b.CreatedAt,
	}
}

func toConflictDTOs(conflicts []booking.ConflictDescriptor) []ConflictDTO {
	out := make([]ConflictDTO, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, ConflictDTO{
			BookingID:      c.BookingID,
			StartAt:        c.StartAt,
			EndAt:          c.EndAt,
			ProfessionalID: c.ProfessionalID,
			RoomID:         c.RoomID,
		})
	}
	return out
}

func toRecommendationDTOs(recs []booking.SlotRecommendation) []RecommendationDTO {
	out := make([]RecommendationDTO, 0, len(recs))
	for _, r := range recs {
		out = append(out, RecommendationDTO{
			Date:       r.Date,
			StartLocal: r.StartLocal.Format(localTimeLayout),
			EndLocal:   r.EndLocal.Format(localTimeLayout),
			StartAt:    r.StartAt,
			EndAt:      r.EndAt,
		})
	}
	return out
}
