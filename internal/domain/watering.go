package domain

import (
	"math"
	"time"
)

const day = 24 * time.Hour

// NextDue computes the next watering instant: last watered plus the interval
// in days. Fractional intervals are allowed (the interval is user input and
// parsed as a float).
func NextDue(lastWatered time.Time, intervalDays float64) time.Time {
	return lastWatered.Add(time.Duration(intervalDays * float64(day)))
}

// DaysUntilDue returns the whole days remaining until the next watering,
// using ceiling division. A positive result is days remaining; zero or a
// negative result means the plant is due or overdue by that many days. The
// ceiling matters: it is what makes a due instant one second in the past
// still report zero rather than minus one.
func DaysUntilDue(lastWatered time.Time, intervalDays float64, now time.Time) int {
	diff := NextDue(lastWatered, intervalDays).Sub(now)
	return int(math.Ceil(float64(diff) / float64(day)))
}
