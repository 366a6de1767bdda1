package booking

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clinic operating window. Both ends are bookable.
var (
	OpeningTime = TimeOfDay(8 * 60)     // 08:00
	ClosingTime = TimeOfDay(18*60 + 30) // 18:30
)

// TimeOfDay is a time-of-day expressed as minutes since midnight.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return NewTimeOfDay(hour, minute), nil
}

// IsValidSlot reports whether t lands on a bookable grid point: the minute
// component is :00 or :30 and t is within the clinic operating window,
// boundaries included.
func IsValidSlot(t TimeOfDay) bool {
	if m := t.Minute(); m != 0 && m != 30 {
		return false
	}
	return t >= OpeningTime && t <= ClosingTime
}

// DateOf truncates ts to its calendar day.
func DateOf(ts time.Time) time.Time {
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns the current calendar day.
func Today() time.Time {
	return DateOf(time.Now())
}

// ParseDate parses "YYYY-MM-DD".
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return d, nil
}

// FormatDate renders a calendar day as "YYYY-MM-DD".
func FormatDate(d time.Time) string {
	return d.Format("2006-01-02")
}
