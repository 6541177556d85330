package holiday

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestIsWeekend(t *testing.T) {
	if !IsWeekend(date(2026, 8, 1)) { // Saturday
		t.Fatal("expected Saturday to be a weekend")
	}
	if !IsWeekend(date(2026, 8, 2)) { // Sunday
		t.Fatal("expected Sunday to be a weekend")
	}
	if IsWeekend(date(2026, 8, 3)) { // Monday
		t.Fatal("expected Monday not to be a weekend")
	}
}

func TestStaticCalendarIsHolidayIgnoresTimeOfDay(t *testing.T) {
	cal := NewStaticCalendar([]time.Time{date(2026, 8, 17)}) // Indonesian Independence Day
	withTime := time.Date(2026, 8, 17, 23, 59, 0, 0, time.UTC)

	if !cal.IsHoliday(withTime) {
		t.Fatal("expected holiday match regardless of time-of-day")
	}
	if cal.IsHoliday(date(2026, 8, 18)) {
		t.Fatal("did not expect the following day to be a holiday")
	}
}

func TestNoHolidaysNeverReportsAHoliday(t *testing.T) {
	var cal NoHolidays
	if cal.IsHoliday(date(2026, 8, 17)) {
		t.Fatal("NoHolidays must never report a holiday")
	}
}

func TestIsNonWorkingDayCombinesWeekendAndCalendar(t *testing.T) {
	cal := NewStaticCalendar([]time.Time{date(2026, 8, 17)})

	if !IsNonWorkingDay(date(2026, 8, 1), cal) {
		t.Fatal("expected Saturday to be a non-working day")
	}
	if !IsNonWorkingDay(date(2026, 8, 17), cal) {
		t.Fatal("expected calendar holiday to be a non-working day")
	}
	if IsNonWorkingDay(date(2026, 8, 18), cal) {
		t.Fatal("expected an ordinary Tuesday to be a working day")
	}
	if IsNonWorkingDay(date(2026, 8, 18), nil) {
		t.Fatal("expected nil calendar to mean weekends-only")
	}
}

func TestAddBusinessSecondsStaysWithinSameDay(t *testing.T) {
	start := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC) // Monday 10:00
	got := AddBusinessSeconds(start, 3600, NoHolidays{})
	want := time.Date(2026, 8, 3, 11, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestAddBusinessSecondsSkipsLunch(t *testing.T) {
	start := time.Date(2026, 8, 3, 11, 30, 0, 0, time.UTC) // Monday 11:30
	got := AddBusinessSeconds(start, 3600, NoHolidays{})    // +1h should land at 13:30, skipping lunch
	want := time.Date(2026, 8, 3, 13, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestAddBusinessSecondsRollsOverWeekend(t *testing.T) {
	start := time.Date(2026, 8, 7, 17, 0, 0, 0, time.UTC) // Friday 17:00
	got := AddBusinessSeconds(start, 3600, NoHolidays{})   // 1h left in the day, rolls to Monday 09:00
	want := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestAddBusinessSecondsSkipsHoliday(t *testing.T) {
	cal := NewStaticCalendar([]time.Time{date(2026, 8, 4)}) // Tuesday holiday
	start := time.Date(2026, 8, 3, 17, 0, 0, 0, time.UTC)   // Monday 17:00
	got := AddBusinessSeconds(start, 3600, cal)             // 1h left, skip Tue holiday, land Wed 09:00
	want := time.Date(2026, 8, 5, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestAddBusinessSecondsAlignsOutOfHoursStart(t *testing.T) {
	start := time.Date(2026, 8, 3, 20, 0, 0, 0, time.UTC) // Monday 20:00, past close
	got := AddBusinessSeconds(start, 1800, NoHolidays{})
	want := time.Date(2026, 8, 4, 9, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestAddBusinessSecondsMultiDaySpan(t *testing.T) {
	start := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC) // Monday 09:00
	got := AddBusinessSeconds(start, SecondsPerWorkDay+3600, NoHolidays{})
	want := time.Date(2026, 8, 4, 10, 0, 0, 0, time.UTC) // consumes all of Monday, 1h into Tuesday
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestAddBusinessDaysSkipsWeekendsAndHolidays(t *testing.T) {
	cal := NewStaticCalendar([]time.Time{date(2026, 8, 6)}) // Thursday holiday
	start := date(2026, 8, 3)                               // Monday
	got := AddBusinessDays(start, 3, cal)
	// Tue, Wed count (2), Thu is a holiday (skip), Fri counts (3) -> lands on Friday 8/7
	want := date(2026, 8, 7)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
