package clock

import (
	"fmt"
	"time"
)

// BusinessHours is a daily local-time window in which outbound calls may
// be placed.
type BusinessHours struct {
	StartMinutes int
	EndMinutes   int
	WeekdaysOnly bool
	location     *time.Location
}

// ParseBusinessHours builds a window from HH:MM strings and an IANA
// timezone name.
func ParseBusinessHours(start, end, tz string, weekdaysOnly bool) (BusinessHours, error) {
	loc := time.UTC
	if tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return BusinessHours{}, fmt.Errorf("clock: load business hours tz: %w", err)
		}
	}
	startMin, err := parseClock(start)
	if err != nil {
		return BusinessHours{}, fmt.Errorf("clock: parse business hours start: %w", err)
	}
	endMin, err := parseClock(end)
	if err != nil {
		return BusinessHours{}, fmt.Errorf("clock: parse business hours end: %w", err)
	}
	return BusinessHours{
		StartMinutes: startMin,
		EndMinutes:   endMin,
		WeekdaysOnly: weekdaysOnly,
		location:     loc,
	}, nil
}

func parseClock(v string) (int, error) {
	if v == "" {
		return 0, fmt.Errorf("empty clock")
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// MayDial reports whether an outbound call may start at the given moment,
// and if not, when the next window opens.
func (b BusinessHours) MayDial(now time.Time) (bool, time.Time) {
	local := now.In(b.Location())
	minutes := local.Hour()*60 + local.Minute()

	inWindow := false
	if b.StartMinutes < b.EndMinutes {
		inWindow = minutes >= b.StartMinutes && minutes < b.EndMinutes
	} else if b.StartMinutes > b.EndMinutes {
		// Window crosses midnight.
		inWindow = minutes >= b.StartMinutes || minutes < b.EndMinutes
	}
	if inWindow && b.WeekdaysOnly && isWeekend(local.Weekday()) {
		inWindow = false
	}
	if inWindow {
		return true, time.Time{}
	}
	return false, b.nextWindowStart(local)
}

func isWeekend(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}

// nextWindowStart returns the next moment the window opens at or after
// local.
func (b BusinessHours) nextWindowStart(local time.Time) time.Time {
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, b.Location())
	for i := 0; i < 8; i++ {
		candidate := day.AddDate(0, 0, i).Add(time.Duration(b.StartMinutes) * time.Minute)
		if candidate.Before(local) || candidate.Equal(local) {
			continue
		}
		if b.WeekdaysOnly && isWeekend(candidate.Weekday()) {
			continue
		}
		return candidate
	}
	return day.AddDate(0, 0, 8).Add(time.Duration(b.StartMinutes) * time.Minute)
}

// Location exposes the configured timezone. The dialer uses it to reset
// its daily counter at local midnight.
func (b BusinessHours) Location() *time.Location {
	if b.location == nil {
		return time.UTC
	}
	return b.location
}
