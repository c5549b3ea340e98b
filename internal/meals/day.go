// Package meals tracks per-day meal consumption at the food counter.
package meals

import (
	"time"

	"tournament-desk/internal/models"
)

// ActiveDay maps the calendar distance between the tournament start and
// today onto a day bucket. A zero start means no start date is configured.
// Days are counted on today's calendar, so the bucket changes at local
// midnight.
func ActiveDay(start, today time.Time) models.Day {
	if start.IsZero() {
		return models.Day1
	}
	elapsed := daysBetween(start, today)
	switch {
	case elapsed <= 0:
		return models.Day1
	case elapsed == 1:
		return models.Day2
	default:
		return models.Day3
	}
}

// daysBetween counts whole calendar days from a's date to b's date.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
