package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinicops/scheduling/internal/schedule"
)

// DB is the subset of pgxpool.Pool the repository needs. pgxmock satisfies
// it in tests.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// querier is implemented by both DB and pgx.Tx, so the overlap scan runs
// identically outside and inside the commit transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

const bookingColumns = `id, patient_id, professional_id, room_id, start_at, end_at,
	status, type, reason, notes, cancel_reason, superseded_by, idempotency_key,
	created_at, updated_at`

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(
		&b.ID,
		&b.PatientID,
		&b.ProfessionalID,
		&b.RoomID,
		&b.StartAt,
		&b.EndAt,
		&b.Status,
		&b.Type,
		&b.Reason,
		&b.Notes,
		&b.CancelReason,
		&b.SupersededBy,
		&b.IdempotencyKey,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

func (r *PgRepository) GetByIdempotencyKey(ctx context.Context, key string) (*Booking, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE idempotency_key = $1
	`, key)
	return scanBooking(row)
}

func (r *PgRepository) FindOverlapping(ctx context.Context, cand Candidate, exclude *uuid.UUID) ([]ConflictDescriptor, error) {
	return findOverlapping(ctx, r.db, cand, exclude)
}

func findOverlapping(ctx context.Context, q querier, cand Candidate, exclude *uuid.UUID) ([]ConflictDescriptor, error) {
	rows, err := q.Query(ctx, `
		SELECT id, start_at, end_at, professional_id, room_id
		FROM bookings
		WHERE status <> 'cancelled'
		  AND start_at < $1 AND end_at > $2
		  AND (professional_id = $3 OR ($4::uuid IS NOT NULL AND room_id = $4))
		  AND ($5::uuid IS NULL OR id <> $5)
		ORDER BY start_at, id
	`, cand.End, cand.Start, cand.ProfessionalID, cand.RoomID, exclude)
	if err != nil {
		return nil, fmt.Errorf("scan overlapping bookings: %w", err)
	}
	defer rows.Close()

	var conflicts []ConflictDescriptor
	for rows.Next() {
		var c ConflictDescriptor
		if err := rows.Scan(&c.BookingID, &c.StartAt, &c.EndAt, &c.ProfessionalID, &c.RoomID); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conflicts: %w", err)
	}

	return conflicts, nil
}

func (r *PgRepository) BusyIntervals(ctx context.Context, professionalID uuid.UUID, roomID *uuid.UUID, from, to time.Time, exclude *uuid.UUID) ([]schedule.Interval, error) {
	rows, err := r.db.Query(ctx, `
		SELECT start_at, end_at
		FROM bookings
		WHERE status <> 'cancelled'
		  AND start_at < $1 AND end_at > $2
		  AND (professional_id = $3 OR ($4::uuid IS NOT NULL AND room_id = $4))
		  AND ($5::uuid IS NULL OR id <> $5)
		ORDER BY start_at
	`, to, from, professionalID, roomID, exclude)
	if err != nil {
		return nil, fmt.Errorf("scan busy intervals: %w", err)
	}
	defer rows.Close()

	var busy []schedule.Interval
	for rows.Next() {
		var iv schedule.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, fmt.Errorf("scan busy interval: %w", err)
		}
		busy = append(busy, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate busy intervals: %w", err)
	}

	return busy, nil
}

// CreateAtomic is the commit path: per-resource advisory locks serialize
// racing requests, the overlap check re-runs under those locks, and only a
// clean re-check lets the insert through. Everything rolls back together.
func (r *PgRepository) CreateAtomic(ctx context.Context, b *Booking) (*Booking, []ConflictDescriptor, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin booking tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockResources(ctx, tx, b.ProfessionalID, b.RoomID); err != nil {
		return nil, nil, err
	}

	conflicts, err := findOverlapping(ctx, tx, Candidate{
		Start:          b.StartAt,
		End:            b.EndAt,
		ProfessionalID: b.ProfessionalID,
		RoomID:         b.RoomID,
	}, nil)
	if err != nil {
		return nil, nil, err
	}
	if len(conflicts) > 0 {
		return nil, conflicts, nil
	}

	created, err := insertBooking(ctx, tx, b)
	if err != nil {
		return nil, nil, err
	}

	if err := insertEventTx(ctx, tx, EventBookingCreated, created.ID, nil); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit booking tx: %w", err)
	}

	return created, nil, nil
}

// RescheduleAtomic cancels oldID and inserts the replacement in one
// transaction. The re-check excludes oldID so the booking being replaced
// never conflicts with its own successor.
func (r *PgRepository) RescheduleAtomic(ctx context.Context, oldID uuid.UUID, b *Booking, cancelReason string) (*Booking, []ConflictDescriptor, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin reschedule tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockResources(ctx, tx, b.ProfessionalID, b.RoomID); err != nil {
		return nil, nil, err
	}

	conflicts, err := findOverlapping(ctx, tx, Candidate{
		Start:          b.StartAt,
		End:            b.EndAt,
		ProfessionalID: b.ProfessionalID,
		RoomID:         b.RoomID,
	}, &oldID)
	if err != nil {
		return nil, nil, err
	}
	if len(conflicts) > 0 {
		return nil, conflicts, nil
	}

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'cancelled',
		    cancel_reason = $2,
		    superseded_by = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('scheduled', 'confirmed')
	`, oldID, cancelReason, b.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("cancel superseded booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil, fmt.Errorf("%w: %s no longer reschedulable", ErrNotFound, oldID)
	}

	created, err := insertBooking(ctx, tx, b)
	if err != nil {
		return nil, nil, err
	}

	payload := []byte(fmt.Sprintf(`{"superseded":"%s"}`, oldID))
	if err := insertEventTx(ctx, tx, EventBookingRescheduled, created.ID, payload); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit reschedule tx: %w", err)
	}

	return created, nil, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, to Status, reason *string) (*Booking, error) {
	fromStr := make([]string, len(from))
	for i, s := range from {
		fromStr[i] = string(s)
	}

	row := r.db.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    cancel_reason = COALESCE($3, cancel_reason),
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($4)
		RETURNING `+bookingColumns+`
	`, id, to, reason, fromStr)

	return scanBooking(row)
}

func (r *PgRepository) FindElapsedScheduled(ctx context.Context, before time.Time) ([]Booking, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'scheduled'
		  AND end_at < $1
	`, before)
	if err != nil {
		return nil, fmt.Errorf("find elapsed scheduled bookings: %w", err)
	}
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev BookingEvent) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO booking_events (event_type, booking_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.BookingID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert booking event: %w", err)
	}
	return nil
}

// Helpers

func insertBooking(ctx context.Context, tx pgx.Tx, b *Booking) (*Booking, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO bookings (id, patient_id, professional_id, room_id, start_at, end_at,
			status, type, reason, notes, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		RETURNING `+bookingColumns+`
	`, b.ID, b.PatientID, b.ProfessionalID, b.RoomID, b.StartAt, b.EndAt,
		b.Status, b.Type, b.Reason, b.Notes, nullableString(b.IdempotencyKey))

	created, err := scanBooking(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateIdempotencyKey
		}
		return nil, fmt.Errorf("insert booking: %w", err)
	}
	return created, nil
}

// lockResources takes pg_advisory_xact_lock on each resource key in a
// stable order. The locks live until commit/rollback, so the re-check and
// insert run serialized per professional and per room.
func lockResources(ctx context.Context, tx pgx.Tx, professionalID uuid.UUID, roomID *uuid.UUID) error {
	keys := []string{"resource:" + professionalID.String()}
	if roomID != nil {
		keys = append(keys, "resource:"+roomID.String())
	}
	sort.Strings(keys)

	for _, key := range keys {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return fmt.Errorf("advisory lock %s: %w", key, err)
		}
	}
	return nil
}

func insertEventTx(ctx context.Context, tx pgx.Tx, eventType string, bookingID uuid.UUID, payload []byte) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO booking_events (event_type, booking_id, payload, created_at)
		VALUES ($1, $2, $3, now())
	`, eventType, bookingID, payload)
	if err != nil {
		return fmt.Errorf("insert booking event: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableString(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
