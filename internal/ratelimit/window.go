package ratelimit

import "time"

// Period is a fixed wall-clock window size. The set is closed; evaluation
// order is Periods below.
type Period int

const (
	Minute Period = iota
	Hour
	Day
)

// Periods lists all periods tightest window first. Both evaluation and the
// deny tie-break follow this order: a caller over both the minute and the day
// cap is told about the minute cap, since it resets soonest.
var Periods = [...]Period{Minute, Hour, Day}

// Duration returns the period's window length.
func (p Period) Duration() time.Duration {
	switch p {
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	}
	return 0
}

func (p Period) String() string {
	switch p {
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case Day:
		return "day"
	}
	return "unknown"
}

// WindowStart truncates now down to the most recent boundary for p, in UTC.
// Day windows start at UTC midnight. Pure; callers must reuse the same now
// for start and end within one decision.
func WindowStart(p Period, now time.Time) time.Time {
	return now.UTC().Truncate(p.Duration())
}

// WindowEnd returns the end of the window containing now: WindowStart plus
// the period duration.
func WindowEnd(p Period, now time.Time) time.Time {
	return WindowStart(p, now).Add(p.Duration())
}
