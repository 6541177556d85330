package holiday

import "time"

const (
	workStartHour  = 9
	lunchStartHour = 12
	lunchEndHour   = 13
	workEndHour    = 18

	// SecondsPerWorkDay is (9h - 1h lunch) x 3600, per spec.md §4.5.c.
	SecondsPerWorkDay = int64((workEndHour - workStartHour - (lunchEndHour - lunchStartHour)) * 3600)
)

func atHour(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
}

// alignToNextWorkMoment advances t to the next instant that falls inside
// a working day's work window (09:00-18:00, excluding 12:00-13:00),
// skipping weekends and calendar holidays.
func alignToNextWorkMoment(t time.Time, cal Calendar) time.Time {
	for {
		if IsNonWorkingDay(t, cal) {
			t = atHour(t.AddDate(0, 0, 1), workStartHour)
			continue
		}
		nineAM := atHour(t, workStartHour)
		noon := atHour(t, lunchStartHour)
		onePM := atHour(t, lunchEndHour)
		sixPM := atHour(t, workEndHour)

		if t.Before(nineAM) {
			t = nineAM
			continue
		}
		if !t.Before(sixPM) {
			t = atHour(t.AddDate(0, 0, 1), workStartHour)
			continue
		}
		if !t.Before(noon) && t.Before(onePM) {
			t = onePM
			continue
		}
		return t
	}
}

// nextWorkDayStart returns 09:00 on the next working day after t's date.
func nextWorkDayStart(t time.Time, cal Calendar) time.Time {
	day := atHour(t.AddDate(0, 0, 1), workStartHour)
	for IsNonWorkingDay(day, cal) {
		day = atHour(day.AddDate(0, 0, 1), workStartHour)
	}
	return day
}

// secondsAvailableInDay returns how many working seconds remain between
// an already-aligned cursor and the end of its work day.
func secondsAvailableInDay(cursor time.Time) int64 {
	sixPM := atHour(cursor, workEndHour)
	available := int64(sixPM.Sub(cursor).Seconds())
	noon := atHour(cursor, lunchStartHour)
	if cursor.Before(noon) {
		available -= 3600
	}
	return available
}

// advanceWithinDay adds seconds of working time to an aligned cursor,
// jumping over the lunch hour if the addition crosses it.
func advanceWithinDay(cursor time.Time, seconds int64) time.Time {
	noon := atHour(cursor, lunchStartHour)
	next := cursor.Add(time.Duration(seconds) * time.Second)
	if cursor.Before(noon) && !next.Before(noon) {
		next = next.Add(time.Hour)
	}
	return next
}

// AddBusinessSeconds implements spec.md §4.5.c: advance start by
// totalSeconds of working time only (09:00-18:00, minus 12:00-13:00
// lunch, skipping weekends and cal's holidays).
func AddBusinessSeconds(start time.Time, totalSeconds int64, cal Calendar) time.Time {
	if totalSeconds <= 0 {
		return alignToNextWorkMoment(start, cal)
	}

	cursor := alignToNextWorkMoment(start, cal)
	remaining := totalSeconds

	for {
		available := secondsAvailableInDay(cursor)
		if remaining < available {
			return advanceWithinDay(cursor, remaining)
		}
		remaining -= available
		cursor = nextWorkDayStart(cursor, cal)
	}
}

// AddBusinessDays advances start by n whole business days (weekends and
// cal's holidays don't count), used for EXPIRED_DAY_LIMIT comparisons
// where only the calendar date matters, not the time-of-day.
func AddBusinessDays(start time.Time, days int, cal Calendar) time.Time {
	cursor := start
	for days > 0 {
		cursor = cursor.AddDate(0, 0, 1)
		if !IsNonWorkingDay(cursor, cal) {
			days--
		}
	}
	return cursor
}
