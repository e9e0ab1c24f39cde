package sales

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRecordSaleCreatesAndIncrementsBucket(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	l := New(fixedClock(now))

	l.RecordSale("burger", 2)
	l.RecordSale("water", 1)
	l.RecordSale("burger", 1)
	l.RecordSale("burger", 0)

	h := l.History(DefaultDays)
	require.Len(t, h, 1)
	assert.Equal(t, "2026-03-10", h[0].Date)
	assert.Equal(t, map[string]int64{"burger": 3, "water": 1}, h[0].Items)
	assert.Equal(t, int64(4), h[0].Total)
}

func TestHistoryWindowIsReadTimeFilter(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := New(fixedClock(now))

	for _, daysAgo := range []int{0, 3, 6, 7, 8, 30} {
		l.RecordSaleOn("cola", 1, now.AddDate(0, 0, -daysAgo))
	}

	h := l.History(DefaultDays)
	dates := make([]string, 0, len(h))
	for _, b := range h {
		dates = append(dates, b.Date)
	}
	assert.Equal(t, []string{"2026-03-04", "2026-03-07", "2026-03-10"}, dates)

	// Nothing is purged.
	assert.Equal(t, 6, l.Len())
}

func TestHistoryReturnsCopies(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := New(fixedClock(now))
	l.RecordSale("cola", 1)

	h := l.History(DefaultDays)
	h[0].Items["cola"] = 99

	assert.Equal(t, int64(1), l.History(DefaultDays)[0].Items["cola"])
}

func TestHistoryCountsCalendarDaysAcrossDSTEnd(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Clocks fall back on 2026-11-01, so that week is 169 hours long.
	now := time.Date(2026, 11, 3, 10, 0, 0, 0, ny)
	l := New(fixedClock(now))
	for daysAgo := 0; daysAgo < 8; daysAgo++ {
		l.RecordSaleOn("water", 1, time.Date(2026, 11, 3-daysAgo, 0, 0, 0, 0, ny))
	}

	h := l.History(DefaultDays)
	require.Len(t, h, 7)
	assert.Equal(t, "2026-10-28", h[0].Date)
	assert.Equal(t, "2026-11-03", h[6].Date)

	assert.Len(t, l.History(1), 1)
	assert.Empty(t, l.History(0))
}
