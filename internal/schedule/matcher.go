package schedule

import (
	"time"

	"github.com/streamforge/media_orchestrator/internal/storage"
)

// minuteKey identifies a wall-clock minute for at-most-once firing.
func minuteKey(t time.Time) string {
	return t.Format("2006-01-02T15:04")
}

// normalizedWeekday maps Go's Sunday=0 convention onto the persisted
// 1=Monday..7=Sunday encoding.
func normalizedWeekday(t time.Time) int {
	d := int(t.Weekday())
	if d == 0 {
		return 7
	}

	return d
}

// Matches evaluates a schedule's recurrence rule against now at minute
// granularity.
func Matches(s storage.RelaySchedule, now time.Time) bool {
	if s.Hour != now.Hour() || s.Minute != now.Minute() {
		return false
	}

	switch s.Frequency {
	case storage.FrequencyOnce:
		return s.OnDate != "" && s.OnDate == now.Format("2006-01-02")
	case storage.FrequencyDaily:
		return true
	case storage.FrequencyWeekly:
		day := normalizedWeekday(now)
		for _, d := range s.Weekdays {
			if d == day {
				return true
			}
		}

		return false
	default:
		return false
	}
}
