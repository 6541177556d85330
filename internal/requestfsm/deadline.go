package requestfsm

import (
	"time"

	"github.com/itskum47/mdmflow/internal/holiday"
)

// estimatedTimeFinished implements spec.md §4.5.c: TakenDate advanced by
// estimatedSeconds of working time only.
func estimatedTimeFinished(takenDate time.Time, estimatedSeconds int64, cal holiday.Calendar) time.Time {
	return holiday.AddBusinessSeconds(takenDate, estimatedSeconds, cal)
}

// isExpired implements the §4.5 E2 expiry predicate: the request's
// submission timestamp is more than expiredDayLimit business days in the
// past, as of now.
func isExpired(now, submittedAt time.Time, expiredDayLimit int, cal holiday.Calendar) bool {
	deadline := holiday.AddBusinessDays(submittedAt, expiredDayLimit, cal)
	return now.After(deadline)
}
