package schedule

import "time"

// Interval is a half-open [Start, End) time window. Touching boundaries do
// not overlap: a booking ending at 10:00 leaves 10:00 free.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && iv.End.After(other.Start)
}

func (iv Interval) Contains(other Interval) bool {
	return !other.Start.Before(iv.Start) && !other.End.After(iv.End)
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

func (iv Interval) IsValid() bool {
	return iv.End.After(iv.Start)
}

// Subtract removes every busy interval from each open interval and returns
// the remaining free sub-intervals, ordered by start. Inputs need not be
// sorted; open intervals are assumed non-overlapping (the resolver emits
// them that way).
func Subtract(open, busy []Interval) []Interval {
	free := make([]Interval, 0, len(open))

	for _, o := range open {
		remaining := []Interval{o}
		for _, b := range busy {
			var next []Interval
			for _, r := range remaining {
				if !r.Overlaps(b) {
					next = append(next, r)
					continue
				}
				if b.Start.After(r.Start) {
					next = append(next, Interval{Start: r.Start, End: b.Start})
				}
				if b.End.Before(r.End) {
					next = append(next, Interval{Start: b.End, End: r.End})
				}
			}
			remaining = next
		}
		free = append(free, remaining...)
	}

	sortIntervals(free)
	return free
}

// Intersect returns the windows present in both lists, ordered by start.
// Used when a booking needs a professional and a room to be open at once.
func Intersect(a, b []Interval) []Interval {
	var out []Interval
	for _, x := range a {
		for _, y := range b {
			if !x.Overlaps(y) {
				continue
			}
			iv := Interval{Start: laterOf(x.Start, y.Start), End: earlierOf(x.End, y.End)}
			if iv.IsValid() {
				out = append(out, iv)
			}
		}
	}
	sortIntervals(out)
	return out
}

func sortIntervals(ivs []Interval) {
	for i := 1; i < len(ivs); i++ {
		for j := i; j > 0 && ivs[j].Start.Before(ivs[j-1].Start); j-- {
			ivs[j], ivs[j-1] = ivs[j-1], ivs[j]
		}
	}
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
