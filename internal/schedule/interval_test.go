package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(h, m int) time.Time {
	return time.Date(2026, 9, 1, h, m, 0, 0, time.UTC)
}

func TestOverlapsHalfOpen(t *testing.T) {
	tests := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"disjoint", Interval{at(9, 0), at(9, 30)}, Interval{at(10, 0), at(10, 30)}, false},
		{"touching boundaries do not overlap", Interval{at(9, 0), at(10, 0)}, Interval{at(10, 0), at(11, 0)}, false},
		{"partial overlap", Interval{at(9, 0), at(9, 30)}, Interval{at(9, 15), at(9, 45)}, true},
		{"containment", Interval{at(9, 0), at(12, 0)}, Interval{at(10, 0), at(10, 30)}, true},
		{"identical", Interval{at(9, 0), at(9, 30)}, Interval{at(9, 0), at(9, 30)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Overlaps(tt.b))
			assert.Equal(t, tt.want, tt.b.Overlaps(tt.a))
		})
	}
}

func TestSubtract(t *testing.T) {
	open := []Interval{{at(9, 0), at(14, 0)}, {at(16, 0), at(20, 0)}}

	t.Run("no busy leaves open unchanged", func(t *testing.T) {
		free := Subtract(open, nil)
		assert.Equal(t, open, free)
	})

	t.Run("busy splits an open window", func(t *testing.T) {
		free := Subtract(open, []Interval{{at(10, 0), at(11, 0)}})
		assert.Equal(t, []Interval{
			{at(9, 0), at(10, 0)},
			{at(11, 0), at(14, 0)},
			{at(16, 0), at(20, 0)},
		}, free)
	})

	t.Run("busy covering a window removes it", func(t *testing.T) {
		free := Subtract(open, []Interval{{at(15, 0), at(21, 0)}})
		assert.Equal(t, []Interval{{at(9, 0), at(14, 0)}}, free)
	})

	t.Run("busy clipping an edge shrinks the window", func(t *testing.T) {
		free := Subtract([]Interval{{at(9, 0), at(12, 0)}}, []Interval{{at(8, 0), at(10, 0)}})
		assert.Equal(t, []Interval{{at(10, 0), at(12, 0)}}, free)
	})

	t.Run("adjacent busy leaves window intact", func(t *testing.T) {
		free := Subtract([]Interval{{at(9, 0), at(12, 0)}}, []Interval{{at(8, 0), at(9, 0)}, {at(12, 0), at(13, 0)}})
		assert.Equal(t, []Interval{{at(9, 0), at(12, 0)}}, free)
	})
}

func TestIntersect(t *testing.T) {
	a := []Interval{{at(9, 0), at(14, 0)}}
	b := []Interval{{at(10, 0), at(12, 0)}, {at(13, 0), at(17, 0)}}

	got := Intersect(a, b)
	assert.Equal(t, []Interval{
		{at(10, 0), at(12, 0)},
		{at(13, 0), at(14, 0)},
	}, got)

	assert.Empty(t, Intersect(a, []Interval{{at(14, 0), at(15, 0)}}))
}
