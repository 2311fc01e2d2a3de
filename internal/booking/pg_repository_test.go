package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*PgRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgRepository(mock), mock
}

func bookingRow(b *Booking) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "patient_id", "professional_id", "room_id", "start_at", "end_at",
		"status", "type", "reason", "notes", "cancel_reason", "superseded_by",
		"idempotency_key", "created_at", "updated_at",
	}).AddRow(
		b.ID, b.PatientID, b.ProfessionalID, b.RoomID, b.StartAt, b.EndAt,
		string(b.Status), b.Type, b.Reason, b.Notes, b.CancelReason, b.SupersededBy,
		b.IdempotencyKey, b.CreatedAt, b.UpdatedAt,
	)
}

func sampleBooking() *Booking {
	start := time.Date(2026, 9, 1, 7, 0, 0, 0, time.UTC)
	return &Booking{
		ID:             uuid.MustParse("10000000-0000-0000-0000-000000000001"),
		PatientID:      uuid.MustParse("20000000-0000-0000-0000-000000000001"),
		ProfessionalID: uuid.MustParse("30000000-0000-0000-0000-000000000001"),
		StartAt:        start,
		EndAt:          start.Add(30 * time.Minute),
		Status:         StatusScheduled,
		Type:           "consultation",
		Reason:         "revision anual",
		CreatedAt:      start,
		UpdatedAt:      start,
	}
}

func TestFindOverlappingPassesHalfOpenBounds(t *testing.T) {
	repo, mock := newMockRepo(t)
	b := sampleBooking()

	cand := Candidate{
		Start:          b.StartAt,
		End:            b.EndAt,
		ProfessionalID: b.ProfessionalID,
	}

	// The scan binds candidate end before candidate start: strict
	// start_at < end and end_at > start, so touching rows never match.
	mock.ExpectQuery("SELECT id, start_at, end_at, professional_id, room_id").
		WithArgs(cand.End, cand.Start, cand.ProfessionalID, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "start_at", "end_at", "professional_id", "room_id"}).
			AddRow(b.ID, b.StartAt, b.EndAt, b.ProfessionalID, b.RoomID))

	conflicts, err := repo.FindOverlapping(context.Background(), cand, nil)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, b.ID, conflicts[0].BookingID)
	assert.True(t, conflicts[0].StartAt.Equal(b.StartAt))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAtomicCommits(t *testing.T) {
	repo, mock := newMockRepo(t)
	b := sampleBooking()
	room := uuid.MustParse("40000000-0000-0000-0000-000000000001")
	b.RoomID = &room

	mock.ExpectBegin()
	// Advisory locks in sorted key order, professional before room here.
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("resource:" + b.ProfessionalID.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("resource:" + room.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT id, start_at, end_at, professional_id, room_id").
		WithArgs(b.EndAt, b.StartAt, b.ProfessionalID, b.RoomID, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "start_at", "end_at", "professional_id", "room_id"}))
	mock.ExpectQuery("INSERT INTO bookings").
		WithArgs(b.ID, b.PatientID, b.ProfessionalID, b.RoomID, b.StartAt, b.EndAt,
			b.Status, b.Type, b.Reason, b.Notes, pgxmock.AnyArg()).
		WillReturnRows(bookingRow(b))
	mock.ExpectExec("INSERT INTO booking_events").
		WithArgs(EventBookingCreated, b.ID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	created, conflicts, err := repo.CreateAtomic(context.Background(), b)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
	require.NotNil(t, created)
	assert.Equal(t, b.ID, created.ID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAtomicLostRaceRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)
	b := sampleBooking()
	rivalID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("resource:" + b.ProfessionalID.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	// The in-transaction re-check sees a row the pre-check did not.
	mock.ExpectQuery("SELECT id, start_at, end_at, professional_id, room_id").
		WithArgs(b.EndAt, b.StartAt, b.ProfessionalID, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "start_at", "end_at", "professional_id", "room_id"}).
			AddRow(rivalID, b.StartAt, b.EndAt, b.ProfessionalID, nil))
	mock.ExpectRollback()

	created, conflicts, err := repo.CreateAtomic(context.Background(), b)
	require.NoError(t, err)
	assert.Nil(t, created)
	require.Len(t, conflicts, 1)
	assert.Equal(t, rivalID, conflicts[0].BookingID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAtomicDuplicateIdempotencyKey(t *testing.T) {
	repo, mock := newMockRepo(t)
	b := sampleBooking()
	key := "retry-abc"
	b.IdempotencyKey = &key

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("resource:" + b.ProfessionalID.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT id, start_at, end_at, professional_id, room_id").
		WithArgs(b.EndAt, b.StartAt, b.ProfessionalID, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "start_at", "end_at", "professional_id", "room_id"}))
	mock.ExpectQuery("INSERT INTO bookings").
		WithArgs(b.ID, b.PatientID, b.ProfessionalID, b.RoomID, b.StartAt, b.EndAt,
			b.Status, b.Type, b.Reason, b.Notes, &key).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "bookings_idempotency_key_key"})
	mock.ExpectRollback()

	_, _, err := repo.CreateAtomic(context.Background(), b)
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRescheduleAtomicCancelsAndInserts(t *testing.T) {
	repo, mock := newMockRepo(t)
	oldID := uuid.MustParse("50000000-0000-0000-0000-000000000001")
	b := sampleBooking()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("resource:" + b.ProfessionalID.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	// Re-check excludes the booking being replaced.
	mock.ExpectQuery("SELECT id, start_at, end_at, professional_id, room_id").
		WithArgs(b.EndAt, b.StartAt, b.ProfessionalID, pgxmock.AnyArg(), &oldID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "start_at", "end_at", "professional_id", "room_id"}))
	mock.ExpectExec("UPDATE bookings").
		WithArgs(oldID, "patient asked", b.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("INSERT INTO bookings").
		WithArgs(b.ID, b.PatientID, b.ProfessionalID, b.RoomID, b.StartAt, b.EndAt,
			b.Status, b.Type, b.Reason, b.Notes, pgxmock.AnyArg()).
		WillReturnRows(bookingRow(b))
	mock.ExpectExec("INSERT INTO booking_events").
		WithArgs(EventBookingRescheduled, b.ID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	created, conflicts, err := repo.RescheduleAtomic(context.Background(), oldID, b, "patient asked")
	require.NoError(t, err)
	assert.Empty(t, conflicts)
	require.NotNil(t, created)
	assert.Equal(t, b.ID, created.ID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRescheduleAtomicOldBookingGone(t *testing.T) {
	repo, mock := newMockRepo(t)
	oldID := uuid.New()
	b := sampleBooking()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("resource:" + b.ProfessionalID.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT id, start_at, end_at, professional_id, room_id").
		WithArgs(b.EndAt, b.StartAt, b.ProfessionalID, pgxmock.AnyArg(), &oldID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "start_at", "end_at", "professional_id", "room_id"}))
	// Someone cancelled or completed the original in the meantime.
	mock.ExpectExec("UPDATE bookings").
		WithArgs(oldID, "patient asked", b.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, _, err := repo.RescheduleAtomic(context.Background(), oldID, b, "patient asked")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusCompareAndSet(t *testing.T) {
	repo, mock := newMockRepo(t)
	b := sampleBooking()
	b.Status = StatusConfirmed

	mock.ExpectQuery("UPDATE bookings").
		WithArgs(b.ID, StatusConfirmed, pgxmock.AnyArg(), []string{"scheduled"}).
		WillReturnRows(bookingRow(b))

	updated, err := repo.UpdateStatus(context.Background(), b.ID, []Status{StatusScheduled}, StatusConfirmed, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, updated.Status)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusMissedGuard(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	// No row matched the status guard, so the CAS reports not found.
	mock.ExpectQuery("UPDATE bookings").
		WithArgs(id, StatusConfirmed, pgxmock.AnyArg(), []string{"scheduled"}).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := repo.UpdateStatus(context.Background(), id, []Status{StatusScheduled}, StatusConfirmed, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEvent(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("INSERT INTO booking_events").
		WithArgs(EventBookingCancelled, &id, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.InsertEvent(context.Background(), BookingEvent{
		EventType: EventBookingCancelled,
		BookingID: &id,
	})
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}
