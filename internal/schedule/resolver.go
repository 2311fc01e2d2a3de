package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrResourceNotFound = errors.New("resource not found")
	ErrResourceInactive = errors.New("resource is inactive")
)

// Resolver answers "when is this resource open on this date". Results are
// computed fresh on every call; the engine never caches them because the
// clinic's schedule store can change between requests.
type Resolver interface {
	// OpenIntervals returns the ordered open windows for a professional or
	// room on the given clinic-local date, working hours minus blocks
	// (holidays, personal blocks, room outages).
	OpenIntervals(ctx context.Context, resourceID uuid.UUID, date time.Time) ([]Interval, error)
}
