// Package holiday provides the HolidayCalendar capability consulted by
// the business-hour deadline algorithm (spec.md §4.5.c, §9 Open
// Questions: "the business-day calendar ... should be behind an injected
// HolidayCalendar capability"). No single teacher file covers this (the
// teacher has no calendar concept); the injected-capability shape
// mirrors control_plane/streaming.Publisher being passed into Reconciler
// as a swappable collaborator rather than a concrete type.
package holiday

import "time"

// Calendar reports whether a given date is a non-working day beyond the
// standard Saturday/Sunday weekend.
type Calendar interface {
	IsHoliday(t time.Time) bool
}

// StaticCalendar holds a fixed set of holiday dates (compared by
// year/month/day, ignoring time-of-day and location). Suited to a
// yearly-published public holiday list (e.g. Indonesian national
// holidays), reloaded by replacing the instance rather than mutating it
// in place.
type StaticCalendar struct {
	dates map[string]bool
}

// NewStaticCalendar builds a Calendar from a list of dates.
func NewStaticCalendar(dates []time.Time) *StaticCalendar {
	m := make(map[string]bool, len(dates))
	for _, d := range dates {
		m[dateKey(d)] = true
	}
	return &StaticCalendar{dates: m}
}

func (c *StaticCalendar) IsHoliday(t time.Time) bool {
	return c.dates[dateKey(t)]
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// NoHolidays is a Calendar with no holidays beyond weekends, used as the
// default when no calendar has been configured.
type NoHolidays struct{}

func (NoHolidays) IsHoliday(time.Time) bool { return false }

// IsWeekend reports whether t falls on Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// IsNonWorkingDay reports whether t is a weekend or a calendar holiday.
func IsNonWorkingDay(t time.Time, cal Calendar) bool {
	if IsWeekend(t) {
		return true
	}
	if cal != nil && cal.IsHoliday(t) {
		return true
	}
	return false
}
