/*
days.go - Working-day computation

PURPOSE:
  Derives days_requested from a date range: working days in the inclusive
  range, minus calendar exclusions, with half-day boundary flags each
  shaving 0.5 off the total. All arithmetic is decimal so half days stay
  exact.

  The calendar is a collaborator: this core only knows weekends. Company
  closures and public holidays come from the calendar service behind the
  Calendar interface.
*/
package leave

import (
	"time"

	"github.com/shopspring/decimal"
)

// Calendar answers which days count as working days. Implemented by the
// calendar collaborator; WeekendCalendar is the built-in fallback.
type Calendar interface {
	IsWorkingDay(date time.Time) bool
}

// WeekendCalendar treats Monday-Friday as working days and knows nothing
// about public holidays.
type WeekendCalendar struct{}

func (WeekendCalendar) IsWorkingDay(date time.Time) bool {
	wd := date.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

var half = decimal.NewFromFloat(0.5)

// midnightUTC truncates to a date-only value. Requests store dates this way;
// normalizing here makes range iteration safe against stray time components.
func midnightUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysRequested computes the working days in [start, end] inclusive.
// halfStart/halfEnd each subtract 0.5 when their boundary is a working day.
// A single-day request with either flag set counts 0.5.
func DaysRequested(cal Calendar, start, end time.Time, halfStart, halfEnd bool) (decimal.Decimal, error) {
	start, end = midnightUTC(start), midnightUTC(end)
	if end.Before(start) {
		return decimal.Zero, &ValidationError{Field: "end_date", Reason: "must not precede start_date"}
	}

	days := decimal.Zero
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if cal.IsWorkingDay(d) {
			days = days.Add(decimal.NewFromInt(1))
		}
	}

	if start.Equal(end) {
		if (halfStart || halfEnd) && cal.IsWorkingDay(start) {
			days = days.Sub(half)
		}
	} else {
		if halfStart && cal.IsWorkingDay(start) {
			days = days.Sub(half)
		}
		if halfEnd && cal.IsWorkingDay(end) {
			days = days.Sub(half)
		}
	}

	if !days.IsPositive() {
		return decimal.Zero, &ValidationError{Field: "date range", Reason: "covers no working days"}
	}
	return days, nil
}

// amountFor converts working days to the bucket's unit for a leave type.
func amountFor(lt Type, days decimal.Decimal) decimal.Decimal {
	if lt.HoursPerDay.IsPositive() {
		return days.Mul(lt.HoursPerDay)
	}
	return days
}
