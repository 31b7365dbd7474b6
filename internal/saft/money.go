package saft

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	dateLayout   = "2006-01-02"
	periodLayout = "2006-01"
)

// Round2 rounds half away from zero to two decimal places. Every total in
// the document goes through here exactly once.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// FormatAmount renders an amount with exactly two decimals.
func FormatAmount(d decimal.Decimal) string {
	return Round2(d).StringFixed(2)
}

// FormatDate renders the calendar date of t in its own location, so a
// midnight local date never shifts to the previous day.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

// Period is a calendar month reporting window. End is the last day of the
// month.
type Period struct {
	Start time.Time
	End   time.Time
}

// ParsePeriod parses "YYYY-MM".
func ParsePeriod(s string) (Period, error) {
	start, err := time.ParseInLocation(periodLayout, s, time.UTC)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q, want YYYY-MM", s)
	}
	return Period{Start: start, End: start.AddDate(0, 1, -1)}, nil
}

// MustPeriod is ParsePeriod for literals known to be valid.
func MustPeriod(s string) Period {
	p, err := ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Period) String() string {
	if p.Start.IsZero() {
		return ""
	}
	return p.Start.Format(periodLayout)
}

// Next returns the following calendar month.
func (p Period) Next() Period {
	start := p.Start.AddDate(0, 1, 0)
	return Period{Start: start, End: start.AddDate(0, 1, -1)}
}
