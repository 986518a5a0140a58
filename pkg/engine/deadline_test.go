package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeadlineShorthand(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		value string
		want  time.Time
	}{
		{"3d", now.Add(72 * time.Hour)},
		{"12h", now.Add(12 * time.Hour)},
		{"45m", now.Add(45 * time.Minute)},
		{"2D", now.Add(48 * time.Hour)},
		{"0h", now},
	}

	for _, tc := range tests {
		t.Run(tc.value, func(t *testing.T) {
			deadline := ParseDeadline(tc.value, now)
			require.NotNil(t, deadline)
			assert.Equal(t, tc.want, *deadline)
		})
	}
}

func TestParseDeadlineAbsoluteFormats(t *testing.T) {
	now := time.Now()

	deadline := ParseDeadline("2026-06-01T09:30:00Z", now)
	require.NotNil(t, deadline)
	assert.Equal(t, time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC), deadline.UTC())

	deadline = ParseDeadline("2026-06-01", now)
	require.NotNil(t, deadline)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), deadline.UTC())
}

func TestParseDeadlineGarbage(t *testing.T) {
	now := time.Now()

	assert.Nil(t, ParseDeadline("", now))
	assert.Nil(t, ParseDeadline("  ", now))
	assert.Nil(t, ParseDeadline("soon", now))
	assert.Nil(t, ParseDeadline("3w", now))
	assert.Nil(t, ParseDeadline("-2d", now))
}
