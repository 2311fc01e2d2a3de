package booking

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/clinicops/scheduling/internal/schedule"
	"github.com/clinicops/scheduling/internal/timegrid"
)

// Defaults for the alternative-slot search.
const (
	DefaultSearchWindowDays   = 7
	DefaultMaxRecommendations = 10
)

// RecommendRequest describes the originally requested slot the generator
// searches around.
type RecommendRequest struct {
	ProfessionalID uuid.UUID
	RoomID         *uuid.UUID
	StartLocal     time.Time // clinic-local, already normalized to the grid
	Duration       time.Duration
	Exclude        *uuid.UUID
	WindowDays     int
	MaxResults     int
}

// Recommender searches nearby open slots when a requested interval cannot
// be booked: open hours minus existing bookings, swept day by day over the
// search window, grid-aligned starts only.
type Recommender struct {
	repo  Repository
	hours schedule.Resolver
	loc   *time.Location
	grid  time.Duration
}

func NewRecommender(repo Repository, hours schedule.Resolver, loc *time.Location, grid time.Duration) *Recommender {
	if grid <= 0 {
		grid = timegrid.DefaultGridMinutes * time.Minute
	}
	return &Recommender{repo: repo, hours: hours, loc: loc, grid: grid}
}

// Recommend returns up to MaxResults alternative slots ranked by absolute
// distance from the requested start, then earliest date, then earliest
// time. An empty list means no availability inside the window — a valid
// outcome, not an error.
func (g *Recommender) Recommend(ctx context.Context, req RecommendRequest) ([]SlotRecommendation, error) {
	// WindowDays counts extra days beyond the requested date; zero means
	// the requested day only.
	windowDays := req.WindowDays
	if windowDays < 0 {
		windowDays = DefaultSearchWindowDays
	}
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxRecommendations
	}

	requested := req.StartLocal.In(g.loc)
	y, m, d := requested.Date()
	firstDay := time.Date(y, m, d, 0, 0, 0, 0, g.loc)

	var candidates []SlotRecommendation

	for offset := 0; offset <= windowDays; offset++ {
		day := firstDay.AddDate(0, 0, offset)

		free, err := g.freeIntervals(ctx, req, day)
		if err != nil {
			return nil, err
		}

		for _, iv := range free {
			start := timegrid.AlignUp(iv.Start, g.grid)
			for ; !start.Add(req.Duration).After(iv.End); start = start.Add(g.grid) {
				candidates = append(candidates, SlotRecommendation{
					Date:       day.Format("2006-01-02"),
					StartLocal: start,
					EndLocal:   start.Add(req.Duration),
					StartAt:    start.UTC(),
					EndAt:      start.Add(req.Duration).UTC(),
				})
			}
		}
	}

	rankRecommendations(candidates, requested)

	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}
	return candidates, nil
}

// freeIntervals computes the open windows for the professional (intersected
// with the room's when one is requested) minus already-booked intervals.
func (g *Recommender) freeIntervals(ctx context.Context, req RecommendRequest, day time.Time) ([]schedule.Interval, error) {
	open, err := g.hours.OpenIntervals(ctx, req.ProfessionalID, day)
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, nil
	}

	if req.RoomID != nil {
		roomOpen, err := g.hours.OpenIntervals(ctx, *req.RoomID, day)
		if err != nil {
			return nil, err
		}
		open = schedule.Intersect(open, roomOpen)
		if len(open) == 0 {
			return nil, nil
		}
	}

	dayEnd := day.AddDate(0, 0, 1)
	busy, err := g.repo.BusyIntervals(ctx, req.ProfessionalID, req.RoomID, day, dayEnd, req.Exclude)
	if err != nil {
		return nil, err
	}

	for i := range busy {
		busy[i].Start = busy[i].Start.In(g.loc)
		busy[i].End = busy[i].End.In(g.loc)
	}

	return schedule.Subtract(open, busy), nil
}

func rankRecommendations(recs []SlotRecommendation, requested time.Time) {
	distance := func(r SlotRecommendation) time.Duration {
		d := r.StartLocal.Sub(requested)
		if d < 0 {
			d = -d
		}
		return d
	}

	sort.SliceStable(recs, func(i, j int) bool {
		di, dj := distance(recs[i]), distance(recs[j])
		if di != dj {
			return di < dj
		}
		if recs[i].Date != recs[j].Date {
			return recs[i].Date < recs[j].Date
		}
		return recs[i].StartLocal.Before(recs[j].StartLocal)
	})
}
