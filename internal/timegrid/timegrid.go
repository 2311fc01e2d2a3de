package timegrid

import (
	"errors"
	"fmt"
	"time"
)

// DefaultGridMinutes is the clinic's canonical slot granularity.
const DefaultGridMinutes = 15

// ErrInvalidTime marks a local wall clock that does not exist or is
// ambiguous in the clinic timezone (DST transitions).
var ErrInvalidTime = errors.New("invalid local time")

// Normalize rounds t to the nearest grid boundary, round-half-up, in local
// wall-clock terms. Already-aligned times come back unchanged. The result is
// validated against DST transitions: a rounded wall clock that does not
// exist, or that occurs twice, fails with ErrInvalidTime instead of being
// shifted silently.
func Normalize(t time.Time, grid time.Duration) (time.Time, error) {
	if grid <= 0 {
		grid = DefaultGridMinutes * time.Minute
	}
	gridSec := int(grid / time.Second)
	if gridSec <= 0 {
		return time.Time{}, fmt.Errorf("%w: grid %s too small", ErrInvalidTime, grid)
	}

	wall := t.Hour()*3600 + t.Minute()*60 + t.Second()
	rounded := ((wall + gridSec/2) / gridSec) * gridSec

	day := t.Day()
	if rounded >= 24*3600 {
		rounded -= 24 * 3600
		day++ // time.Date normalizes the overflow
	}

	return ResolveLocal(t.Year(), t.Month(), day, rounded/3600, rounded%3600/60, t.Location())
}

// ResolveLocal builds the instant for a wall clock in loc, rejecting wall
// clocks swallowed by a spring-forward gap or repeated by a fall-back.
func ResolveLocal(year int, month time.Month, day, hour, min int, loc *time.Location) (time.Time, error) {
	t := time.Date(year, month, day, hour, min, 0, 0, loc)

	if t.Hour() != hour || t.Minute() != min {
		return time.Time{}, fmt.Errorf("%w: %02d:%02d on %04d-%02d-%02d does not exist in %s",
			ErrInvalidTime, hour, min, year, int(month), day, loc)
	}

	if sameWallClock(t, t.Add(time.Hour)) || sameWallClock(t, t.Add(-time.Hour)) {
		return time.Time{}, fmt.Errorf("%w: %02d:%02d on %04d-%02d-%02d is ambiguous in %s",
			ErrInvalidTime, hour, min, year, int(month), day, loc)
	}

	return t, nil
}

// Aligned reports whether t sits exactly on a grid boundary.
func Aligned(t time.Time, grid time.Duration) bool {
	if grid <= 0 {
		grid = DefaultGridMinutes * time.Minute
	}
	gridSec := int(grid / time.Second)
	wall := t.Hour()*3600 + t.Minute()*60 + t.Second()
	return t.Nanosecond() == 0 && wall%gridSec == 0
}

// AlignUp rounds t up to the next grid boundary (identity when aligned).
// Used by the recommendation sweep, which must not emit a start earlier
// than the open interval it walks.
func AlignUp(t time.Time, grid time.Duration) time.Time {
	if grid <= 0 {
		grid = DefaultGridMinutes * time.Minute
	}
	gridSec := int64(grid / time.Second)
	wall := int64(t.Hour()*3600 + t.Minute()*60 + t.Second())
	if t.Nanosecond() == 0 && wall%gridSec == 0 {
		return t
	}
	up := ((wall / gridSec) + 1) * gridSec
	delta := time.Duration(up-wall)*time.Second - time.Duration(t.Nanosecond())
	return t.Add(delta)
}

func sameWallClock(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd &&
		a.Hour() == b.Hour() && a.Minute() == b.Minute()
}
