package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestDetectTemporalRange(t *testing.T) {
	now := mustTime(t, "2024-11-25T12:00:00Z")

	cases := []struct {
		name      string
		query     string
		wantStart string // date only; empty means no range expected
		wantEnd   string
	}{
		{"last spring", "What did Alice do last spring?", "2024-03-01", "2024-05-31"},
		{"bare season", "any plans for summer", "2024-06-01", "2024-08-31"},
		{"fall alias", "what happened last fall", "2023-09-01", "2023-11-30"},
		{"last winter crosses year", "trips last winter", "2023-12-01", "2024-02-28"},
		{"in month", "what happened in June", "2024-06-01", "2024-06-30"},
		{"last month name", "what happened last June", "2024-06-01", "2024-06-30"},
		{"between months", "between March and May what changed", "2024-03-01", "2024-05-31"},
		{"between wrapping year", "between November and February", "2024-11-01", "2025-02-28"},
		{"month plus year", "in June 2022 we met", "2022-06-01", "2022-06-30"},
		{"bare year", "the 2021 launch", "2021-01-01", "2021-12-31"},
		{"no cue", "where does Alice work", "", ""},
		{"vague cue", "what happened recently", "", ""},
		{"unknown month word", "in transit to the office", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DetectTemporalRange(tc.query, now)
			if tc.wantStart == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tc.wantStart, got.Start.Format("2006-01-02"), "start")
			assert.Equal(t, tc.wantEnd, got.End.Format("2006-01-02"), "end")
		})
	}
}

func TestDetectTemporalRangeIsPure(t *testing.T) {
	now := mustTime(t, "2024-06-10T00:00:00Z")
	a := DetectTemporalRange("what happened last spring", now)
	b := DetectTemporalRange("what happened last spring", now)
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, *a, *b)
}

func TestSeasonInProgressResolvesToPreviousYear(t *testing.T) {
	// Mid-spring: "last spring" should mean the previous year's spring.
	now := mustTime(t, "2024-04-15T00:00:00Z")
	got := DetectTemporalRange("last spring", now)
	require.NotNil(t, got)
	assert.Equal(t, "2023-03-01", got.Start.Format("2006-01-02"))
	assert.Equal(t, "2023-05-31", got.End.Format("2006-01-02"))
}

func TestMonthNotYetStartedResolvesToPreviousYear(t *testing.T) {
	now := mustTime(t, "2024-02-10T00:00:00Z")
	got := DetectTemporalRange("what happened in June", now)
	require.NotNil(t, got)
	assert.Equal(t, "2023-06-01", got.Start.Format("2006-01-02"))
}
