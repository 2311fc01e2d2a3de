package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicops/scheduling/internal/booking"
	"github.com/clinicops/scheduling/internal/catalog"
	redisclient "github.com/clinicops/scheduling/internal/redis"
	"github.com/clinicops/scheduling/internal/schedule"
	"github.com/clinicops/scheduling/internal/timegrid"
)

// Coordinator is the slice of the booking service the handlers consume.
type Coordinator interface {
	Create(ctx context.Context, req booking.CreateRequest) (*booking.CreateResult, error)
	Reschedule(ctx context.Context, intent booking.RescheduleIntent) (*booking.RescheduleResult, error)
	CheckAvailability(ctx context.Context, req booking.AvailabilityRequest) (*booking.AvailabilityResult, error)
	Recommend(ctx context.Context, req booking.AvailabilityRequest) ([]booking.SlotRecommendation, error)
	Get(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
	Confirm(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*booking.Booking, error)
	MarkNoShow(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
	Complete(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
}

func createBookingHandler(svc Coordinator, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		professionalID, err := uuid.Parse(req.ProfessionalID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professional_id must be a valid UUID")
			return
		}
		roomID, err := parseOptionalUUID(req.RoomID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_room_id", "room_id must be a valid UUID")
			return
		}
		startLocal, err := parseLocalTime(req.StartLocal, loc)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		result, err := svc.Create(r.Context(), booking.CreateRequest{
			PatientID:      patientID,
			ProfessionalID: professionalID,
			RoomID:         roomID,
			StartLocal:     startLocal,
			Duration:       time.Duration(req.DurationMinutes) * time.Minute,
			Type:           req.Type,
			Reason:         req.Reason,
			Notes:          req.Notes,
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}

		if !result.Booked() {
			writeJSON(w, http.StatusConflict, ConflictResponse{
				Code:            result.Code,
				Conflicts:       toConflictDTOs(result.Conflicts),
				Recommendations: toRecommendationDTOs(result.Recommendations),
			})
			return
		}

		status := http.StatusCreated
		if result.Replayed {
			status = http.StatusOK
		}
		writeJSON(w, status, toBookingResponse(result.Booking, loc))
	}
}

func rescheduleBookingHandler(svc Coordinator, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		existingID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		var req RescheduleBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		professionalID, err := uuid.Parse(req.ProfessionalID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professional_id must be a valid UUID")
			return
		}
		roomID, err := parseOptionalUUID(req.RoomID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_room_id", "room_id must be a valid UUID")
			return
		}
		startLocal, err := parseLocalTime(req.StartLocal, loc)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		result, err := svc.Reschedule(r.Context(), booking.RescheduleIntent{
			ExistingID: existingID,
			Request: booking.CreateRequest{
				ProfessionalID: professionalID,
				RoomID:         roomID,
				StartLocal:     startLocal,
				Duration:       time.Duration(req.DurationMinutes) * time.Minute,
				Reason:         req.Reason,
				Notes:          req.Notes,
			},
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}

		if !result.Rescheduled() {
			writeJSON(w, http.StatusConflict, ConflictResponse{
				Code:            result.Code,
				Conflicts:       toConflictDTOs(result.Conflicts),
				Recommendations: toRecommendationDTOs(result.Recommendations),
			})
			return
		}

		writeJSON(w, http.StatusOK, RescheduleResponse{
			OldID:   result.Replaced.OldID,
			NewID:   result.Replaced.NewID,
			Booking: toBookingResponse(result.Booking, loc),
		})
	}
}

func getBookingHandler(svc Coordinator, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		b, err := svc.Get(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(b, loc))
	}
}

func availabilityHandler(svc Coordinator, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := parseAvailabilityQuery(w, r, loc)
		if !ok {
			return
		}

		result, err := svc.CheckAvailability(r.Context(), req)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, AvailabilityResponse{
			Available:       result.Available,
			Code:            result.Code,
			Conflicts:       toConflictDTOs(result.Conflicts),
			Recommendations: toRecommendationDTOs(result.Recommendations),
		})
	}
}

func recommendationsHandler(svc Coordinator, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := parseAvailabilityQuery(w, r, loc)
		if !ok {
			return
		}

		recs, err := svc.Recommend(r.Context(), req)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, RecommendationsResponse{Recommendations: toRecommendationDTOs(recs)})
	}
}

func statusHandler(loc *time.Location, apply func(ctx context.Context, id uuid.UUID, r *http.Request) (*booking.Booking, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		b, err := apply(r.Context(), id, r)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(b, loc))
	}
}

func confirmBookingHandler(svc Coordinator, loc *time.Location) http.HandlerFunc {
	return statusHandler(loc, func(ctx context.Context, id uuid.UUID, _ *http.Request) (*booking.Booking, error) {
		return svc.Confirm(ctx, id)
	})
}

func cancelBookingHandler(svc Coordinator, loc *time.Location) http.HandlerFunc {
	return statusHandler(loc, func(ctx context.Context, id uuid.UUID, r *http.Request) (*booking.Booking, error) {
		var req CancelBookingRequest
		// Body is optional on cancel.
		_ = json.NewDecoder(r.Body).Decode(&req)
		return svc.Cancel(ctx, id, req.Reason)
	})
}

func noShowBookingHandler(svc Coordinator, loc *time.Location) http.HandlerFunc {
	return statusHandler(loc, func(ctx context.Context, id uuid.UUID, _ *http.Request) (*booking.Booking, error) {
		return svc.MarkNoShow(ctx, id)
	})
}

func completeBookingHandler(svc Coordinator, loc *time.Location) http.HandlerFunc {
	return statusHandler(loc, func(ctx context.Context, id uuid.UUID, _ *http.Request) (*booking.Booking, error) {
		return svc.Complete(ctx, id)
	})
}

func parseAvailabilityQuery(w http.ResponseWriter, r *http.Request, loc *time.Location) (booking.AvailabilityRequest, bool) {
	q := r.URL.Query()

	professionalID, err := uuid.Parse(q.Get("professional_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_professional_id", "professional_id must be a valid UUID")
		return booking.AvailabilityRequest{}, false
	}

	var roomID *uuid.UUID
	if raw := q.Get("room_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_room_id", "room_id must be a valid UUID")
			return booking.AvailabilityRequest{}, false
		}
		roomID = &id
	}

	startLocal, err := parseLocalTime(q.Get("start_local"), loc)
	if err != nil {
		handleDomainError(w, err)
		return booking.AvailabilityRequest{}, false
	}

	var minutes int
	if _, err := fmt.Sscanf(q.Get("duration_minutes"), "%d", &minutes); err != nil || minutes <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_duration", "duration_minutes must be a positive integer")
		return booking.AvailabilityRequest{}, false
	}

	var exclude *uuid.UUID
	if raw := q.Get("exclude_booking_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_exclude_booking_id", "exclude_booking_id must be a valid UUID")
			return booking.AvailabilityRequest{}, false
		}
		exclude = &id
	}

	return booking.AvailabilityRequest{
		ProfessionalID: professionalID,
		RoomID:         roomID,
		StartLocal:     startLocal,
		Duration:       time.Duration(minutes) * time.Minute,
		Exclude:        exclude,
	}, true
}

// parseLocalTime turns a clinic-local wall clock string into a concrete
// instant. Nonexistent and ambiguous wall clocks around DST transitions are
// rejected rather than silently shifted.
func parseLocalTime(raw string, loc *time.Location) (time.Time, error) {
	parsed, err := time.Parse(localTimeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: start_local must be %q", booking.ErrValidation, localTimeLayout)
	}
	return timegrid.ResolveLocal(parsed.Year(), parsed.Month(), parsed.Day(), parsed.Hour(), parsed.Minute(), loc)
}

func parseOptionalUUID(raw *string) (*uuid.UUID, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrNotFound):
		writeError(w, http.StatusNotFound, "BOOKING_NOT_FOUND", err.Error())
	case errors.Is(err, catalog.ErrPatientNotFound),
		errors.Is(err, catalog.ErrProfessionalNotFound),
		errors.Is(err, catalog.ErrRoomNotFound),
		errors.Is(err, schedule.ErrResourceNotFound):
		writeError(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", err.Error())
	case errors.Is(err, catalog.ErrProfessionalInactive),
		errors.Is(err, catalog.ErrRoomInactive),
		errors.Is(err, schedule.ErrResourceInactive):
		writeError(w, http.StatusConflict, "RESOURCE_INACTIVE", err.Error())
	case errors.Is(err, catalog.ErrIncompatibleSpecialty):
		writeError(w, http.StatusConflict, "INCOMPATIBLE_SPECIALTY", err.Error())
	case errors.Is(err, catalog.ErrUnknownAppointmentType):
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION", err.Error())
	case errors.Is(err, timegrid.ErrInvalidTime):
		writeError(w, http.StatusUnprocessableEntity, "INVALID_TIME", err.Error())
	case errors.Is(err, booking.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION", err.Error())
	case errors.Is(err, booking.ErrNotReschedulable):
		writeError(w, http.StatusConflict, "NOT_RESCHEDULABLE", err.Error())
	case errors.Is(err, booking.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "INVALID_STATUS_TRANSITION", err.Error())
	case errors.Is(err, booking.ErrResourceBusy),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "RESOURCE_BUSY", "resource is being booked, please retry shortly")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "TRANSIENT", "timed out talking to a dependency, retry")
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}
