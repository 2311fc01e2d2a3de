package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicops/scheduling/internal/observability/metrics"
	redisclient "github.com/clinicops/scheduling/internal/redis"
	"github.com/clinicops/scheduling/internal/schedule"
	"github.com/clinicops/scheduling/internal/timegrid"
	"github.com/clinicops/scheduling/pkg/logging"
)

var (
	ErrValidation              = errors.New("invalid booking request")
	ErrNotReschedulable        = errors.New("booking is not in a reschedulable status")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrResourceBusy            = errors.New("resource is being booked, please retry")
)

// CompatibilityChecker verifies resource eligibility before commit:
// patient exists, professional active and specialty-compatible with the
// appointment type, room active. Implemented by catalog.Validator.
type CompatibilityChecker interface {
	CheckCreate(ctx context.Context, patientID, professionalID uuid.UUID, roomID *uuid.UUID, appointmentType string) error
}

// ServiceConfig carries the scheduling knobs.
type ServiceConfig struct {
	Location           *time.Location
	Grid               time.Duration
	SearchWindowDays   int
	MaxRecommendations int
}

// Service is the booking transaction coordinator. A request passes the
// normalization, availability and compatibility gates, then commits inside
// one database transaction that re-runs the overlap check to close the
// race window between pre-check and insert.
type Service struct {
	repo        Repository
	hours       schedule.Resolver
	compat      CompatibilityChecker
	locker      redisclient.Locker
	idem        *redisclient.IdempotencyStore
	detector    *Detector
	recommender *Recommender
	metrics     *metrics.BookingMetrics
	logger      *logging.Logger
	cfg         ServiceConfig
}

func NewService(
	repo Repository,
	hours schedule.Resolver,
	compat CompatibilityChecker,
	locker redisclient.Locker,
	idem *redisclient.IdempotencyStore,
	m *metrics.BookingMetrics,
	logger *logging.Logger,
	cfg ServiceConfig,
) *Service {
	if repo == nil {
		panic("booking: repository required")
	}
	if hours == nil {
		panic("booking: schedule resolver required")
	}
	if compat == nil {
		panic("booking: compatibility checker required")
	}
	if locker == nil {
		locker = redisclient.NopLocker{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Grid <= 0 {
		cfg.Grid = timegrid.DefaultGridMinutes * time.Minute
	}
	if cfg.SearchWindowDays <= 0 {
		cfg.SearchWindowDays = DefaultSearchWindowDays
	}
	if cfg.MaxRecommendations <= 0 {
		cfg.MaxRecommendations = DefaultMaxRecommendations
	}

	return &Service{
		repo:        repo,
		hours:       hours,
		compat:      compat,
		locker:      locker,
		idem:        idem,
		detector:    NewDetector(repo),
		recommender: NewRecommender(repo, hours, cfg.Location, cfg.Grid),
		metrics:     m,
		logger:      logger,
		cfg:         cfg,
	}
}

// Create books a new appointment or explains why it cannot be booked.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	if replay, err := s.replayIdempotent(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	} else if replay != nil {
		return replay, nil
	}

	start, end, err := s.normalize(req.StartLocal, req.Duration)
	if err != nil {
		return nil, err
	}

	cand := Candidate{
		Start:          start.UTC(),
		End:            end.UTC(),
		ProfessionalID: req.ProfessionalID,
		RoomID:         req.RoomID,
	}

	within, err := s.withinOpenHours(ctx, cand, start, end)
	if err != nil {
		return nil, err
	}
	if !within {
		recs := s.recommendationsAround(ctx, req.ProfessionalID, req.RoomID, start, req.Duration, nil)
		s.metrics.ObserveCreate("outside_hours")
		return &CreateResult{Code: CodeOutsideHours, Recommendations: recs}, nil
	}

	// Fast-fail pre-check; non-authoritative, the transaction re-checks.
	conflicts, err := s.detector.FindConflicts(ctx, cand, nil)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		recs := s.recommendationsAround(ctx, req.ProfessionalID, req.RoomID, start, req.Duration, nil)
		s.metrics.ObserveCreate("conflict")
		return &CreateResult{Code: CodeOverlap, Conflicts: conflicts, Recommendations: recs}, nil
	}

	if err := s.compat.CheckCreate(ctx, req.PatientID, req.ProfessionalID, req.RoomID, req.Type); err != nil {
		return nil, err
	}

	b := &Booking{
		ID:             uuid.New(),
		PatientID:      req.PatientID,
		ProfessionalID: req.ProfessionalID,
		RoomID:         req.RoomID,
		StartAt:        cand.Start,
		EndAt:          cand.End,
		Status:         StatusScheduled,
		Type:           req.Type,
		Reason:         req.Reason,
		Notes:          req.Notes,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		b.IdempotencyKey = &key
	}

	var created *Booking
	var commitConflicts []ConflictDescriptor

	lockErr := s.locker.WithResourceLocks(ctx, s.resourceKeys(req.ProfessionalID, req.RoomID), func(lockCtx context.Context) error {
		var err error
		created, commitConflicts, err = s.repo.CreateAtomic(lockCtx, b)
		return err
	})
	if lockErr != nil {
		if errors.Is(lockErr, redisclient.ErrLockNotAcquired) {
			return nil, ErrResourceBusy
		}
		if errors.Is(lockErr, ErrDuplicateIdempotencyKey) {
			existing, err := s.repo.GetByIdempotencyKey(ctx, req.IdempotencyKey)
			if err != nil {
				return nil, fmt.Errorf("load booking for replayed key: %w", err)
			}
			return &CreateResult{Booking: existing, Replayed: true}, nil
		}
		return nil, lockErr
	}

	if len(commitConflicts) > 0 {
		// Lost the race: a conflicting booking committed between the
		// pre-check and the transaction. The caller must re-query and
		// retry with fresh data.
		s.metrics.ObserveCommitRaceLost()
		s.metrics.ObserveCreate("conflict")
		recs := s.recommendationsAround(ctx, req.ProfessionalID, req.RoomID, start, req.Duration, nil)
		s.logger.Info("booking rejected at commit",
			"professional_id", req.ProfessionalID, "start_at", cand.Start, "conflicts", len(commitConflicts))
		return &CreateResult{Code: CodeOverlap, Conflicts: commitConflicts, Recommendations: recs}, nil
	}

	if err := s.idem.Save(ctx, req.IdempotencyKey, created.ID.String()); err != nil {
		s.logger.Warn("failed to cache idempotency key", "error", err)
	}

	s.metrics.ObserveCreate("booked")
	s.logger.Info("booking created",
		"booking_id", created.ID, "patient_id", created.PatientID,
		"professional_id", created.ProfessionalID, "start_at", created.StartAt)

	return &CreateResult{Booking: created}, nil
}

// Reschedule atomically replaces an existing booking with a new one. The
// original is kept as a cancelled audit record, never deleted.
func (s *Service) Reschedule(ctx context.Context, intent RescheduleIntent) (*RescheduleResult, error) {
	existing, err := s.repo.GetByID(ctx, intent.ExistingID)
	if err != nil {
		return nil, err
	}
	if !existing.Status.Reschedulable() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotReschedulable, existing.ID, existing.Status)
	}

	req := intent.Request
	req.PatientID = existing.PatientID
	if req.Type == "" {
		req.Type = existing.Type
	}
	if req.Reason == "" {
		req.Reason = existing.Reason
	}
	if req.Notes == nil {
		req.Notes = existing.Notes
	}
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	start, end, err := s.normalize(req.StartLocal, req.Duration)
	if err != nil {
		return nil, err
	}

	cand := Candidate{
		Start:          start.UTC(),
		End:            end.UTC(),
		ProfessionalID: req.ProfessionalID,
		RoomID:         req.RoomID,
	}

	within, err := s.withinOpenHours(ctx, cand, start, end)
	if err != nil {
		return nil, err
	}
	if !within {
		recs := s.recommendationsAround(ctx, req.ProfessionalID, req.RoomID, start, req.Duration, &existing.ID)
		s.metrics.ObserveReschedule("outside_hours")
		return &RescheduleResult{Code: CodeOutsideHours, Recommendations: recs}, nil
	}

	// excludeBookingID keeps the booking being replaced from conflicting
	// with its own successor.
	conflicts, err := s.detector.FindConflicts(ctx, cand, &existing.ID)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		recs := s.recommendationsAround(ctx, req.ProfessionalID, req.RoomID, start, req.Duration, &existing.ID)
		s.metrics.ObserveReschedule("conflict")
		return &RescheduleResult{Code: CodeOverlap, Conflicts: conflicts, Recommendations: recs}, nil
	}

	if err := s.compat.CheckCreate(ctx, req.PatientID, req.ProfessionalID, req.RoomID, req.Type); err != nil {
		return nil, err
	}

	replacement := &Booking{
		ID:             uuid.New(),
		PatientID:      req.PatientID,
		ProfessionalID: req.ProfessionalID,
		RoomID:         req.RoomID,
		StartAt:        cand.Start,
		EndAt:          cand.End,
		Status:         StatusScheduled,
		Type:           req.Type,
		Reason:         req.Reason,
		Notes:          req.Notes,
	}

	var created *Booking
	var commitConflicts []ConflictDescriptor

	lockErr := s.locker.WithResourceLocks(ctx, s.resourceKeys(req.ProfessionalID, req.RoomID), func(lockCtx context.Context) error {
		var err error
		created, commitConflicts, err = s.repo.RescheduleAtomic(lockCtx, existing.ID, replacement, "superseded by reschedule")
		return err
	})
	if lockErr != nil {
		if errors.Is(lockErr, redisclient.ErrLockNotAcquired) {
			return nil, ErrResourceBusy
		}
		return nil, lockErr
	}

	if len(commitConflicts) > 0 {
		s.metrics.ObserveCommitRaceLost()
		s.metrics.ObserveReschedule("conflict")
		recs := s.recommendationsAround(ctx, req.ProfessionalID, req.RoomID, start, req.Duration, &existing.ID)
		s.logger.Info("reschedule rejected at commit",
			"booking_id", existing.ID, "conflicts", len(commitConflicts))
		return &RescheduleResult{Code: CodeOverlap, Conflicts: commitConflicts, Recommendations: recs}, nil
	}

	s.metrics.ObserveReschedule("replaced")
	s.logger.Info("booking rescheduled",
		"old_id", existing.ID, "new_id", created.ID, "start_at", created.StartAt)

	return &RescheduleResult{
		Replaced: &Replaced{OldID: existing.ID, NewID: created.ID},
		Booking:  created,
	}, nil
}

// CheckAvailability backs the pre-check endpoint the UI debounces against.
// It never mutates anything and carries no authority over the commit.
func (s *Service) CheckAvailability(ctx context.Context, req AvailabilityRequest) (*AvailabilityResult, error) {
	if req.ProfessionalID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing professional", ErrValidation)
	}
	if req.Duration < MinDuration || req.Duration > MaxDuration {
		return nil, fmt.Errorf("%w: duration %s out of range", ErrValidation, req.Duration)
	}

	start, end, err := s.normalize(req.StartLocal, req.Duration)
	if err != nil {
		return nil, err
	}

	cand := Candidate{
		Start:          start.UTC(),
		End:            end.UTC(),
		ProfessionalID: req.ProfessionalID,
		RoomID:         req.RoomID,
	}

	within, err := s.withinOpenHours(ctx, cand, start, end)
	if err != nil {
		return nil, err
	}
	if !within {
		recs := s.recommendationsAround(ctx, req.ProfessionalID, req.RoomID, start, req.Duration, req.Exclude)
		return &AvailabilityResult{Code: CodeOutsideHours, Recommendations: recs}, nil
	}

	conflicts, err := s.detector.FindConflicts(ctx, cand, req.Exclude)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		recs := s.recommendationsAround(ctx, req.ProfessionalID, req.RoomID, start, req.Duration, req.Exclude)
		return &AvailabilityResult{Code: CodeOverlap, Conflicts: conflicts, Recommendations: recs}, nil
	}

	return &AvailabilityResult{Available: true}, nil
}

// Recommend exposes the alternative-slot search directly.
func (s *Service) Recommend(ctx context.Context, req AvailabilityRequest) ([]SlotRecommendation, error) {
	if req.ProfessionalID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing professional", ErrValidation)
	}
	start, _, err := s.normalize(req.StartLocal, req.Duration)
	if err != nil {
		return nil, err
	}
	recs, err := s.recommender.Recommend(ctx, RecommendRequest{
		ProfessionalID: req.ProfessionalID,
		RoomID:         req.RoomID,
		StartLocal:     start,
		Duration:       req.Duration,
		Exclude:        req.Exclude,
		WindowDays:     s.cfg.SearchWindowDays,
		MaxResults:     s.cfg.MaxRecommendations,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveRecommendations(len(recs))
	return recs, nil
}

// Get loads a booking by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.repo.GetByID(ctx, id)
}

// Confirm moves a scheduled booking to confirmed.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, id, []Status{StatusScheduled}, StatusConfirmed, nil, EventBookingConfirmed)
}

// Cancel cancels a scheduled or confirmed booking, keeping the row for audit.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Booking, error) {
	var r *string
	if reason != "" {
		r = &reason
	}
	return s.transition(ctx, id, []Status{StatusScheduled, StatusConfirmed}, StatusCancelled, r, EventBookingCancelled)
}

// MarkNoShow flags a booking whose patient did not turn up.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, id, []Status{StatusScheduled, StatusConfirmed}, StatusNoShow, nil, EventBookingNoShow)
}

// Complete closes out a confirmed booking after the visit.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, id, []Status{StatusConfirmed}, StatusCompleted, nil, EventBookingCompleted)
}

// SweepNoShows marks scheduled bookings whose end passed the grace period.
// Called periodically by the worker.
func (s *Service) SweepNoShows(ctx context.Context, grace time.Duration) error {
	cutoff := time.Now().UTC().Add(-grace)
	elapsed, err := s.repo.FindElapsedScheduled(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("find elapsed scheduled bookings: %w", err)
	}

	for _, b := range elapsed {
		if _, err := s.repo.UpdateStatus(ctx, b.ID, []Status{StatusScheduled}, StatusNoShow, nil); err != nil {
			if !errors.Is(err, ErrNotFound) {
				s.logger.Error("failed to mark no-show", "booking_id", b.ID, "error", err)
			}
			continue
		}
		s.logEvent(ctx, b.ID, EventBookingNoShow)
	}

	return nil
}

// Helpers

func (s *Service) transition(ctx context.Context, id uuid.UUID, from []Status, to Status, reason *string, event string) (*Booking, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, f := range from {
		if existing.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, existing.Status, to)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, from, to, reason)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// The status moved underneath us between load and update.
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, existing.Status, to)
		}
		return nil, err
	}

	s.logEvent(ctx, updated.ID, event)
	s.logger.Info("booking status changed", "booking_id", updated.ID, "status", updated.Status)

	return updated, nil
}

func (s *Service) normalize(startLocal time.Time, duration time.Duration) (time.Time, time.Time, error) {
	start, err := timegrid.Normalize(startLocal.In(s.cfg.Location), s.cfg.Grid)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.Add(duration), nil
}

// withinOpenHours checks the candidate sits entirely inside one open window
// of the professional (and the room when requested). Resolved fresh on
// every call; schedules can change between requests.
func (s *Service) withinOpenHours(ctx context.Context, cand Candidate, startLocal, endLocal time.Time) (bool, error) {
	open, err := s.hours.OpenIntervals(ctx, cand.ProfessionalID, startLocal)
	if err != nil {
		return false, err
	}
	if cand.RoomID != nil {
		roomOpen, err := s.hours.OpenIntervals(ctx, *cand.RoomID, startLocal)
		if err != nil {
			return false, err
		}
		open = schedule.Intersect(open, roomOpen)
	}

	want := schedule.Interval{Start: startLocal, End: endLocal}
	for _, iv := range open {
		if iv.Contains(want) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) recommendationsAround(ctx context.Context, professionalID uuid.UUID, roomID *uuid.UUID, startLocal time.Time, duration time.Duration, exclude *uuid.UUID) []SlotRecommendation {
	recs, err := s.recommender.Recommend(ctx, RecommendRequest{
		ProfessionalID: professionalID,
		RoomID:         roomID,
		StartLocal:     startLocal,
		Duration:       duration,
		Exclude:        exclude,
		WindowDays:     s.cfg.SearchWindowDays,
		MaxResults:     s.cfg.MaxRecommendations,
	})
	if err != nil {
		// The conflict answer stands on its own; a failed search only
		// costs the caller the alternatives.
		s.logger.Warn("recommendation search failed", "professional_id", professionalID, "error", err)
		return nil
	}
	s.metrics.ObserveRecommendations(len(recs))
	return recs
}

func (s *Service) resourceKeys(professionalID uuid.UUID, roomID *uuid.UUID) []uuid.UUID {
	keys := []uuid.UUID{professionalID}
	if roomID != nil {
		keys = append(keys, *roomID)
	}
	return keys
}

func (s *Service) replayIdempotent(ctx context.Context, key string) (*CreateResult, error) {
	if key == "" {
		return nil, nil
	}

	if id, ok, err := s.idem.Lookup(ctx, key); err != nil {
		s.logger.Warn("idempotency cache lookup failed", "error", err)
	} else if ok {
		if parsed, err := uuid.Parse(id); err == nil {
			if b, err := s.repo.GetByID(ctx, parsed); err == nil {
				return &CreateResult{Booking: b, Replayed: true}, nil
			}
		}
	}

	b, err := s.repo.GetByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &CreateResult{Booking: b, Replayed: true}, nil
}

func (s *Service) logEvent(ctx context.Context, bookingID uuid.UUID, eventType string) {
	id := bookingID
	ev := BookingEvent{
		EventType: eventType,
		BookingID: &id,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error("failed to insert booking event", "event", eventType, "booking_id", bookingID, "error", err)
	}
}

func validateCreate(req CreateRequest) error {
	if req.PatientID == uuid.Nil {
		return fmt.Errorf("%w: missing patient id", ErrValidation)
	}
	if req.ProfessionalID == uuid.Nil {
		return fmt.Errorf("%w: missing professional id", ErrValidation)
	}
	if req.RoomID != nil && *req.RoomID == uuid.Nil {
		return fmt.Errorf("%w: room id must be a valid UUID when present", ErrValidation)
	}
	if req.StartLocal.IsZero() {
		return fmt.Errorf("%w: missing start time", ErrValidation)
	}
	if req.Duration < MinDuration || req.Duration > MaxDuration {
		return fmt.Errorf("%w: duration must be between %s and %s, got %s",
			ErrValidation, MinDuration, MaxDuration, req.Duration)
	}
	if req.Type == "" {
		return fmt.Errorf("%w: missing appointment type", ErrValidation)
	}
	return nil
}
