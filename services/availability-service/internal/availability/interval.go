package availability

import (
	"fmt"
	"time"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func NewInterval(start, end time.Time) (Interval, error) {
	if !end.After(start) {
		return Interval{}, &ValidationError{Field: "end", Message: "must be after start"}
	}
	return Interval{Start: start, End: end}, nil
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Overlaps reports whether a and b share any instant. Touching intervals
// (a.End == b.Start) do not overlap, so back-to-back bookings are allowed.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Expand widens iv by preMinutes before Start and postMinutes after End.
// Negative values are treated as zero.
func Expand(iv Interval, preMinutes, postMinutes int) Interval {
	if preMinutes < 0 {
		preMinutes = 0
	}
	if postMinutes < 0 {
		postMinutes = 0
	}
	return Interval{
		Start: iv.Start.Add(-time.Duration(preMinutes) * time.Minute),
		End:   iv.End.Add(time.Duration(postMinutes) * time.Minute),
	}
}

// WithinWindow reports whether point falls inside [window.Start, window.End).
func WithinWindow(point time.Time, window Interval) bool {
	return !point.Before(window.Start) && point.Before(window.End)
}

// Clock is a local wall-clock time expressed as minutes after midnight.
type Clock int

const minutesPerDay = 24 * 60

func ParseClock(s string) (Clock, error) {
	if s == "24:00" {
		return Clock(minutesPerDay), nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, &ValidationError{Field: "time", Message: fmt.Sprintf("invalid clock time %q", s)}
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On returns the instant at clock c on the calendar day of day, in day's location.
func (c Clock) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), int(c)/60, int(c)%60, 0, 0, day.Location())
}

// ClockOf returns the wall-clock minutes of t in its own location.
func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}
