package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return t
}

func TestEveryMinuteMatchesEveryMinuteRegardlessOfSeconds(t *testing.T) {
	f := MustParseFrequency("* * * * *")
	start := at("2024-02-28T22:00:00Z")
	for i := 0; i < 3*24*60; i++ {
		minute := start.Add(time.Duration(i) * time.Minute)
		for _, sec := range []int{0, 1, 30, 59} {
			ts := minute.Add(time.Duration(sec) * time.Second)
			require.True(t, f.Match(ts), "expected %s to match", ts)
		}
	}
}

func TestDailyAtMatchesOnlyThatMinute(t *testing.T) {
	f := MustParseFrequency("0 9 * * *")

	assert.True(t, f.Match(at("2024-03-05T09:00:00Z")))
	assert.True(t, f.Match(at("2024-03-05T09:00:42Z")))
	assert.True(t, f.Match(at("2024-03-06T09:00:00Z")))
	assert.False(t, f.Match(at("2024-03-05T08:59:00Z")))
	assert.False(t, f.Match(at("2024-03-05T09:01:00Z")))
	assert.False(t, f.Match(at("2024-03-05T10:00:00Z")))
	assert.False(t, f.Match(at("2024-03-05T21:00:00Z")))
}

func TestWeeklyOnSundayMatchesOnlySundayAtTwo(t *testing.T) {
	f := MustParseFrequency("0 2 * * 0")

	// 2024-01-07 is a Sunday.
	assert.True(t, f.Match(at("2024-01-07T02:00:00Z")))
	assert.False(t, f.Match(at("2024-01-07T02:01:00Z")))
	assert.False(t, f.Match(at("2024-01-07T03:00:00Z")))
	for day := 1; day <= 6; day++ {
		ts := at("2024-01-07T02:00:00Z").AddDate(0, 0, day)
		assert.False(t, f.Match(ts), "weekday %s", ts.Weekday())
	}
	assert.True(t, f.Match(at("2024-01-14T02:00:00Z")))
}

func TestWeekdaySevenIsSunday(t *testing.T) {
	f := MustParseFrequency("0 0 * * 7")
	assert.True(t, f.Match(at("2024-01-07T00:00:00Z")))
	assert.False(t, f.Match(at("2024-01-06T00:00:00Z")))
}

func TestDayThirtyOneNeverRollsOver(t *testing.T) {
	f := MustParseFrequency("0 0 31 * *")

	assert.False(t, f.Match(at("2024-04-30T00:00:00Z")))
	assert.False(t, f.Match(at("2024-05-01T00:00:00Z")))
	assert.True(t, f.Match(at("2024-05-31T00:00:00Z")))
	assert.True(t, f.Match(at("2024-03-31T00:00:00Z")))
}

func TestAllFieldsMustMatch(t *testing.T) {
	// Restricting both day-of-month and weekday requires both.
	f := MustParseFrequency("0 0 13 * fri")

	assert.True(t, f.Match(at("2024-09-13T00:00:00Z")))
	assert.False(t, f.Match(at("2024-08-13T00:00:00Z")))
	assert.False(t, f.Match(at("2024-09-20T00:00:00Z")))
}

func TestParseFrequencyForms(t *testing.T) {
	cases := []struct {
		expr    string
		matches []string
		misses  []string
	}{
		{
			expr:    "*/15 * * * *",
			matches: []string{"2024-01-01T10:00:00Z", "2024-01-01T10:45:00Z"},
			misses:  []string{"2024-01-01T10:05:00Z"},
		},
		{
			expr:    "10/20 * * * *",
			matches: []string{"2024-01-01T10:10:00Z", "2024-01-01T10:30:00Z", "2024-01-01T10:50:00Z"},
			misses:  []string{"2024-01-01T10:00:00Z", "2024-01-01T10:20:00Z"},
		},
		{
			expr:    "10/1 * * * *",
			matches: []string{"2024-01-01T10:10:00Z", "2024-01-01T10:11:00Z", "2024-01-01T10:59:00Z"},
			misses:  []string{"2024-01-01T10:09:00Z"},
		},
		{
			expr:    "0 8-18/5 * * *",
			matches: []string{"2024-01-01T08:00:00Z", "2024-01-01T13:00:00Z", "2024-01-01T18:00:00Z"},
			misses:  []string{"2024-01-01T09:00:00Z", "2024-01-01T19:00:00Z"},
		},
		{
			expr:    "30 9 * jan-mar mon-fri",
			matches: []string{"2024-02-05T09:30:00Z"},
			misses:  []string{"2024-02-04T09:30:00Z", "2024-04-01T09:30:00Z"},
		},
		{
			expr:    "0 1,13 * * *",
			matches: []string{"2024-01-01T01:00:00Z", "2024-01-01T13:00:00Z"},
			misses:  []string{"2024-01-01T07:00:00Z"},
		},
		{
			expr:    "@hourly",
			matches: []string{"2024-01-01T07:00:00Z"},
			misses:  []string{"2024-01-01T07:30:00Z"},
		},
		{
			expr:    "@yearly",
			matches: []string{"2025-01-01T00:00:00Z"},
			misses:  []string{"2025-02-01T00:00:00Z"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			f, err := ParseFrequency(tc.expr)
			require.NoError(t, err)
			for _, m := range tc.matches {
				assert.True(t, f.Match(at(m)), "expected match at %s", m)
			}
			for _, m := range tc.misses {
				assert.False(t, f.Match(at(m)), "expected miss at %s", m)
			}
		})
	}
}

func TestParseFrequencyRejectsInvalidExpressions(t *testing.T) {
	for _, expr := range []string{
		"",
		"   ",
		"* * * *",
		"* * * * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 8",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
		"1,,2 * * * *",
		"@every 5m",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseFrequency(expr)
			assert.Error(t, err)
		})
	}

	_, err := ParseFrequency("")
	assert.ErrorIs(t, err, ErrEmptyFrequency)
}

func TestFrequencyStringIsNormalized(t *testing.T) {
	assert.Equal(t, "0 0 * * *", MustParseFrequency("@daily").String())
	assert.Equal(t, "0 9 * * 1", MustParseFrequency("  0  9 * *   1 ").String())
}
