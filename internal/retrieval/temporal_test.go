package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var refNow = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC) // a Tuesday

func TestExtractTimeRange_NoSignal(t *testing.T) {
	assert.Nil(t, ExtractTimeRange("printer offline on floor 3", refNow))
	assert.Nil(t, ExtractTimeRange("", refNow))
}

func TestExtractTimeRange_Yesterday(t *testing.T) {
	tr := ExtractTimeRange("what did anna send yesterday?", refNow)
	require.NotNil(t, tr)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), tr.From)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), tr.To)
	assert.True(t, tr.BoostFreshness)
}

func TestExtractTimeRange_LastWeek(t *testing.T) {
	tr := ExtractTimeRange("emails about the migration last week", refNow)
	require.NotNil(t, tr)
	assert.Equal(t, refNow.AddDate(0, 0, -7), tr.From)
	assert.Equal(t, refNow, tr.To)
}

func TestExtractTimeRange_LastNDays(t *testing.T) {
	tr := ExtractTimeRange("invoices from the last 14 days", refNow)
	require.NotNil(t, tr)
	assert.Equal(t, refNow.AddDate(0, 0, -14), tr.From)
	assert.True(t, tr.BoostFreshness)
}

func TestExtractTimeRange_LastNMonths(t *testing.T) {
	tr := ExtractTimeRange("contracts signed in the past 3 months", refNow)
	require.NotNil(t, tr)
	assert.Equal(t, refNow.AddDate(0, -3, 0), tr.From)
}

func TestExtractTimeRange_NamedMonthWithYear(t *testing.T) {
	tr := ExtractTimeRange("what was decided in January 2026?", refNow)
	require.NotNil(t, tr)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), tr.From)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), tr.To)
	assert.False(t, tr.BoostFreshness)
}

func TestExtractTimeRange_BareFutureMonthMeansLastYear(t *testing.T) {
	// asked in March 2026, "in November" must mean November 2025
	tr := ExtractTimeRange("the outage in November", refNow)
	require.NotNil(t, tr)
	assert.Equal(t, time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC), tr.From)
}

func TestExtractTimeRange_Recently(t *testing.T) {
	tr := ExtractTimeRange("anything from the vendor recently?", refNow)
	require.NotNil(t, tr)
	assert.True(t, tr.BoostFreshness)
	assert.Equal(t, refNow.AddDate(0, -1, 0), tr.From)
}

func TestExtractTimeRange_ThisWeekStartsMonday(t *testing.T) {
	tr := ExtractTimeRange("meetings this week", refNow)
	require.NotNil(t, tr)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), tr.From) // Monday
}
