package timegrid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func madrid(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	return loc
}

func TestNormalizeRounding(t *testing.T) {
	loc := madrid(t)
	grid := 15 * time.Minute

	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "already aligned unchanged",
			in:   time.Date(2026, 9, 1, 9, 15, 0, 0, loc),
			want: time.Date(2026, 9, 1, 9, 15, 0, 0, loc),
		},
		{
			name: "rounds down below half",
			in:   time.Date(2026, 9, 1, 9, 7, 0, 0, loc),
			want: time.Date(2026, 9, 1, 9, 0, 0, 0, loc),
		},
		{
			name: "rounds up at exactly half",
			in:   time.Date(2026, 9, 1, 9, 7, 30, 0, loc),
			want: time.Date(2026, 9, 1, 9, 15, 0, 0, loc),
		},
		{
			name: "rounds up above half",
			in:   time.Date(2026, 9, 1, 9, 8, 0, 0, loc),
			want: time.Date(2026, 9, 1, 9, 15, 0, 0, loc),
		},
		{
			name: "carries into next hour",
			in:   time.Date(2026, 9, 1, 9, 53, 0, 0, loc),
			want: time.Date(2026, 9, 1, 10, 0, 0, 0, loc),
		},
		{
			name: "carries into next day",
			in:   time.Date(2026, 9, 1, 23, 55, 0, 0, loc),
			want: time.Date(2026, 9, 2, 0, 0, 0, 0, loc),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in, grid)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	loc := madrid(t)

	in := time.Date(2026, 9, 1, 14, 38, 12, 0, loc)
	once, err := Normalize(in, 15*time.Minute)
	require.NoError(t, err)
	twice, err := Normalize(once, 15*time.Minute)
	require.NoError(t, err)

	assert.True(t, once.Equal(twice))
}

func TestNormalizeDSTGap(t *testing.T) {
	loc := madrid(t)

	// Clocks jump 02:00 -> 03:00 on 2026-03-29 in Madrid; 02:30 never happens.
	_, err := ResolveLocal(2026, time.March, 29, 2, 30, loc)
	assert.ErrorIs(t, err, ErrInvalidTime)

	// Rounding must not silently cross the gap: 01:58 rounds to the
	// nonexistent 02:00 and has to be rejected, not shifted to 03:00.
	in := time.Date(2026, 3, 29, 1, 58, 0, 0, loc)
	_, err = Normalize(in, 15*time.Minute)
	assert.ErrorIs(t, err, ErrInvalidTime)
}

func TestNormalizeDSTAmbiguous(t *testing.T) {
	loc := madrid(t)

	// Clocks fall back 03:00 -> 02:00 on 2026-10-25; 02:30 happens twice.
	_, err := ResolveLocal(2026, time.October, 25, 2, 30, loc)
	assert.ErrorIs(t, err, ErrInvalidTime)

	// A plain afternoon on the same day is fine.
	_, err = ResolveLocal(2026, time.October, 25, 16, 0, loc)
	assert.NoError(t, err)
}

func TestAligned(t *testing.T) {
	loc := madrid(t)
	grid := 15 * time.Minute

	assert.True(t, Aligned(time.Date(2026, 9, 1, 9, 45, 0, 0, loc), grid))
	assert.False(t, Aligned(time.Date(2026, 9, 1, 9, 46, 0, 0, loc), grid))
	assert.False(t, Aligned(time.Date(2026, 9, 1, 9, 45, 30, 0, loc), grid))
}

func TestAlignUp(t *testing.T) {
	loc := madrid(t)
	grid := 15 * time.Minute

	aligned := time.Date(2026, 9, 1, 9, 45, 0, 0, loc)
	assert.True(t, aligned.Equal(AlignUp(aligned, grid)))

	ragged := time.Date(2026, 9, 1, 9, 46, 10, 0, loc)
	assert.True(t, time.Date(2026, 9, 1, 10, 0, 0, 0, loc).Equal(AlignUp(ragged, grid)))
}
