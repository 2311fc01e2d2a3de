package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidCandidate marks a candidate whose interval is not usable.
var ErrInvalidCandidate = errors.New("invalid candidate interval")

// Overlaps is the half-open interval test: [aStart, aEnd) intersects
// [bStart, bEnd). Touching boundaries are not conflicts — a booking ending
// at 10:00 does not conflict with one starting at 10:00.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// Detector scans existing bookings for intervals conflicting with a
// candidate. Its verdict outside a transaction is a fast-fail convenience;
// the same scan re-runs inside the commit transaction, which is the
// authority.
type Detector struct {
	repo Repository
}

func NewDetector(repo Repository) *Detector {
	return &Detector{repo: repo}
}

// FindConflicts returns every non-cancelled booking overlapping the
// candidate on its professional or room, sorted by start ascending and
// deduplicated by booking id. An empty list is the success signal.
func (d *Detector) FindConflicts(ctx context.Context, cand Candidate, exclude *uuid.UUID) ([]ConflictDescriptor, error) {
	if !cand.End.After(cand.Start) {
		return nil, fmt.Errorf("%w: end %s not after start %s", ErrInvalidCandidate, cand.End, cand.Start)
	}
	if cand.ProfessionalID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing professional", ErrInvalidCandidate)
	}

	conflicts, err := d.repo.FindOverlapping(ctx, cand, exclude)
	if err != nil {
		return nil, err
	}

	return normalizeConflicts(conflicts), nil
}

func normalizeConflicts(conflicts []ConflictDescriptor) []ConflictDescriptor {
	if len(conflicts) == 0 {
		return nil
	}

	seen := make(map[uuid.UUID]struct{}, len(conflicts))
	out := conflicts[:0]
	for _, c := range conflicts {
		if _, dup := seen[c.BookingID]; dup {
			continue
		}
		seen[c.BookingID] = struct{}{}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].StartAt.Before(out[j].StartAt)
		}
		return out[i].BookingID.String() < out[j].BookingID.String()
	})

	return out
}
