package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamforge/media_orchestrator/internal/storage"
)

// 2025-03-03 is a Monday.
func clock(day, hour, minute int) time.Time {
	return time.Date(2025, 3, day, hour, minute, 30, 0, time.UTC)
}

func TestMatches_Once(t *testing.T) {
	s := storage.RelaySchedule{
		Frequency: storage.FrequencyOnce,
		OnDate:    "2025-03-03",
		Hour:      9,
		Minute:    0,
	}

	require.True(t, Matches(s, clock(3, 9, 0)))

	require.False(t, Matches(s, clock(4, 9, 0)), "wrong date")
	require.False(t, Matches(s, clock(3, 9, 1)), "wrong minute")
	require.False(t, Matches(s, clock(3, 10, 0)), "wrong hour")

	s.OnDate = ""
	require.False(t, Matches(s, clock(3, 9, 0)), "one-time without a date never fires")
}

func TestMatches_Daily(t *testing.T) {
	s := storage.RelaySchedule{
		Frequency: storage.FrequencyDaily,
		Hour:      22,
		Minute:    30,
	}

	require.True(t, Matches(s, clock(3, 22, 30)))
	require.True(t, Matches(s, clock(4, 22, 30)))
	require.True(t, Matches(s, clock(9, 22, 30)))

	require.False(t, Matches(s, clock(3, 22, 31)))
}

func TestMatches_Weekly(t *testing.T) {
	// Monday and Wednesday at 09:00
	s := storage.RelaySchedule{
		Frequency: storage.FrequencyWeekly,
		Hour:      9,
		Minute:    0,
		Weekdays:  []int{1, 3},
	}

	require.True(t, Matches(s, clock(3, 9, 0)), "Monday")
	require.True(t, Matches(s, clock(5, 9, 0)), "Wednesday")

	require.False(t, Matches(s, clock(4, 9, 0)), "Tuesday")
	require.False(t, Matches(s, clock(3, 9, 1)), "right day, wrong minute")
}

func TestMatches_WeeklySunday(t *testing.T) {
	// 2025-03-09 is a Sunday: Go says weekday 0, the stored encoding says 7.
	s := storage.RelaySchedule{
		Frequency: storage.FrequencyWeekly,
		Hour:      12,
		Minute:    0,
		Weekdays:  []int{7},
	}

	require.True(t, Matches(s, clock(9, 12, 0)))
	require.False(t, Matches(s, clock(8, 12, 0)), "Saturday")
}

func TestMatches_UnknownFrequency(t *testing.T) {
	s := storage.RelaySchedule{Frequency: 9, Hour: 9, Minute: 0}
	require.False(t, Matches(s, clock(3, 9, 0)))
}

func TestNormalizedWeekday(t *testing.T) {
	require.Equal(t, 1, normalizedWeekday(clock(3, 0, 0)))  // Monday
	require.Equal(t, 6, normalizedWeekday(clock(8, 0, 0)))  // Saturday
	require.Equal(t, 7, normalizedWeekday(clock(9, 0, 0)))  // Sunday
}
