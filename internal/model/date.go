package model

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// DateLayout is the fixed-width textual form of a Date: DD-MM-YYYY.
const DateLayout = "02-01-2006"

var ErrInvalidDate = errors.New("unable to parse date")

// Date is a calendar day. Its zero value is not a valid date. Dates compare
// in calendar order, which differs from the lexical order of their text.
type Date struct {
	year  int
	month time.Month
	day   int
}

// NewDate returns the date for the given triple, or ErrInvalidDate if that
// day does not exist in the Gregorian calendar.
func NewDate(year int, month time.Month, day int) (Date, error) {
	if year < 1 || year > 9999 || month < time.January || month > time.December || day < 1 {
		return Date{}, errors.WithMessagef(ErrInvalidDate, "%02d-%02d-%04d", day, int(month), year)
	}
	if day > daysIn(year, month) {
		return Date{}, errors.WithMessagef(ErrInvalidDate, "%02d-%02d-%04d", day, int(month), year)
	}
	return Date{year: year, month: month, day: day}, nil
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{year: y, month: m, day: d}
}

// ParseDate parses exactly DD-MM-YYYY. Any other shape, or a triple that is
// not a real day, yields ErrInvalidDate.
func ParseDate(text string) (Date, error) {
	if len(text) != 10 || text[2] != '-' || text[5] != '-' {
		return Date{}, errors.WithMessagef(ErrInvalidDate, "%q", text)
	}
	day, ok1 := digits(text[0:2])
	month, ok2 := digits(text[3:5])
	year, ok3 := digits(text[6:10])
	if !ok1 || !ok2 || !ok3 {
		return Date{}, errors.WithMessagef(ErrInvalidDate, "%q", text)
	}
	return NewDate(year, time.Month(month), day)
}

// CheckDate reports whether text is a valid DD-MM-YYYY calendar date.
func CheckDate(text string) bool {
	_, err := ParseDate(text)
	return err == nil
}

func (d Date) Year() int          { return d.year }
func (d Date) Month() time.Month  { return d.month }
func (d Date) Day() int           { return d.day }
func (d Date) IsZero() bool       { return d == Date{} }
func (d Date) Before(o Date) bool { return d.Compare(o) < 0 }
func (d Date) After(o Date) bool  { return d.Compare(o) > 0 }

// Compare returns -1, 0 or +1 as d is before, equal to, or after o.
func (d Date) Compare(o Date) int {
	switch {
	case d.year != o.year:
		return sign(d.year - o.year)
	case d.month != o.month:
		return sign(int(d.month) - int(o.month))
	default:
		return sign(d.day - o.day)
	}
}

// Time returns midnight of d in loc.
func (d Date) Time(loc *time.Location) time.Time {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, loc)
}

func (d Date) String() string {
	return fmt.Sprintf("%02d-%02d-%04d", d.day, int(d.month), d.year)
}

func digits(s string) (int, bool) {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

func daysIn(year int, month time.Month) int {
	switch month {
	case time.February:
		if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
			return 29
		}
		return 28
	case time.April, time.June, time.September, time.November:
		return 30
	default:
		return 31
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
