package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodKeysTruncatesAtCurrentQuarter(t *testing.T) {
	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	keys, err := PeriodKeys("20250101", now)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"20250331", "20250630", "20250930", "20251231",
		"20260331", "20260630", "20260930",
	}, keys)
}

func TestPeriodKeysQuarterBoundaries(t *testing.T) {
	tests := []struct {
		now  time.Time
		last string
	}{
		{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "20260331"},
		{time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), "20260331"},
		{time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), "20260630"},
		{time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), "20261231"},
	}
	for _, tt := range tests {
		keys, err := PeriodKeys("20260101", tt.now)
		require.NoError(t, err)
		require.NotEmpty(t, keys)
		assert.Equal(t, tt.last, keys[len(keys)-1])
	}
}

func TestPeriodKeysRejectsMalformedOrigin(t *testing.T) {
	_, err := PeriodKeys("2026-01-01", time.Now())
	assert.Error(t, err)
}

func TestMonthEndKeys(t *testing.T) {
	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	keys, err := MonthEndKeys("20260515", now)
	require.NoError(t, err)
	assert.Equal(t, []string{"20260531", "20260630", "20260731", "20260831"}, keys)
}

func TestMonthEndKeysHandlesFebruary(t *testing.T) {
	keys, err := MonthEndKeys("20240101", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []string{"20240131", "20240229", "20240331"}, keys)
}

func TestDayKeysInclusive(t *testing.T) {
	start := time.Date(2026, 8, 22, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, []string{"20260822", "20260823", "20260824"}, DayKeys(start, end))
	assert.Equal(t, []string{"20260824"}, DayKeys(end, end))
}
