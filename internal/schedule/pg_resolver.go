package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DB is the subset of pgxpool.Pool the resolver needs. pgxmock satisfies it
// in tests.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgResolver reads working_hours and schedule_blocks. Professionals and
// rooms share the same schedule tables, keyed by resource id.
type PgResolver struct {
	db  DB
	loc *time.Location
}

func NewPgResolver(db DB, loc *time.Location) *PgResolver {
	return &PgResolver{db: db, loc: loc}
}

func (r *PgResolver) OpenIntervals(ctx context.Context, resourceID uuid.UUID, date time.Time) ([]Interval, error) {
	active, err := r.resourceActive(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, fmt.Errorf("%w: %s", ErrResourceInactive, resourceID)
	}

	y, m, d := date.In(r.loc).Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, r.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)
	weekday := int(dayStart.Weekday())

	open, err := r.workingHours(ctx, resourceID, weekday, dayStart)
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, nil
	}

	blocks, err := r.blocks(ctx, resourceID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	return Subtract(open, blocks), nil
}

func (r *PgResolver) resourceActive(ctx context.Context, resourceID uuid.UUID) (bool, error) {
	var active bool
	err := r.db.QueryRow(ctx, `
		SELECT active FROM professionals WHERE id = $1
		UNION ALL
		SELECT active FROM rooms WHERE id = $1
	`, resourceID).Scan(&active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("%w: %s", ErrResourceNotFound, resourceID)
		}
		return false, fmt.Errorf("load resource: %w", err)
	}
	return active, nil
}

func (r *PgResolver) workingHours(ctx context.Context, resourceID uuid.UUID, weekday int, dayStart time.Time) ([]Interval, error) {
	rows, err := r.db.Query(ctx, `
		SELECT opens_min, closes_min
		FROM working_hours
		WHERE resource_id = $1 AND weekday = $2
		ORDER BY opens_min
	`, resourceID, weekday)
	if err != nil {
		return nil, fmt.Errorf("load working hours: %w", err)
	}
	defer rows.Close()

	var open []Interval
	for rows.Next() {
		var opensMin, closesMin int
		if err := rows.Scan(&opensMin, &closesMin); err != nil {
			return nil, fmt.Errorf("scan working hours: %w", err)
		}
		iv := Interval{
			Start: dayStart.Add(time.Duration(opensMin) * time.Minute),
			End:   dayStart.Add(time.Duration(closesMin) * time.Minute),
		}
		if iv.IsValid() {
			open = append(open, iv)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate working hours: %w", err)
	}

	return open, nil
}

func (r *PgResolver) blocks(ctx context.Context, resourceID uuid.UUID, dayStart, dayEnd time.Time) ([]Interval, error) {
	rows, err := r.db.Query(ctx, `
		SELECT starts_at, ends_at
		FROM schedule_blocks
		WHERE resource_id = $1
		  AND starts_at < $3 AND ends_at > $2
		ORDER BY starts_at
	`, resourceID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("load schedule blocks: %w", err)
	}
	defer rows.Close()

	var blocks []Interval
	for rows.Next() {
		var startsAt, endsAt time.Time
		if err := rows.Scan(&startsAt, &endsAt); err != nil {
			return nil, fmt.Errorf("scan schedule block: %w", err)
		}
		blocks = append(blocks, Interval{Start: startsAt.In(r.loc), End: endsAt.In(r.loc)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedule blocks: %w", err)
	}

	return blocks, nil
}
