package common

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Precision is the granularity of a Date.
type Precision int

const (
	PrecisionNone Precision = iota
	PrecisionYear
	PrecisionMonth
	PrecisionDay
)

func (p Precision) String() string {
	switch p {
	case PrecisionYear:
		return "year"
	case PrecisionMonth:
		return "month"
	case PrecisionDay:
		return "day"
	default:
		return "none"
	}
}

// Date is a boundary date with explicit precision. Month and Day are 0
// when unknown. Negative years are BCE; there is no year 0, so the zero
// Date stands for "no date" and month or day without a year is invalid.
//
// The precision is the finest field that is set: a Date with Month == 0 is
// year precise, a Date with Day == 0 is month precise.
type Date struct {
	Year  int `json:"year"`
	Month int `json:"month,omitempty"`
	Day   int `json:"day,omitempty"`
}

// NewDate builds a Date and validates the field combination.
func NewDate(year, month, day int) (Date, error) {
	d := Date{Year: year, Month: month, Day: day}
	if err := d.Validate(); err != nil {
		return Date{}, err
	}
	return d, nil
}

// IsZero reports whether no field is set.
func (d Date) IsZero() bool {
	return d == Date{}
}

// NormalizeDate returns nil for a nil or zero date and d otherwise.
func NormalizeDate(d *Date) *Date {
	if d == nil || d.IsZero() {
		return nil
	}
	return d
}

// Validate reports whether the fields form a well-formed date.
func (d Date) Validate() error {
	if d.Year == 0 {
		return errors.New("year is required")
	}
	if d.Month < 0 || d.Month > 12 {
		return fmt.Errorf("invalid month %d", d.Month)
	}
	if d.Day < 0 || d.Day > 31 {
		return fmt.Errorf("invalid day %d", d.Day)
	}
	if d.Day != 0 && d.Month == 0 {
		return fmt.Errorf("day %d set without month", d.Day)
	}
	if d.Day > daysIn(d.Year, d.Month) {
		return fmt.Errorf("invalid day %d for %04d-%02d", d.Day, d.Year, d.Month)
	}
	return nil
}

func (d Date) Precision() Precision {
	switch {
	case d.Day != 0:
		return PrecisionDay
	case d.Month != 0:
		return PrecisionMonth
	default:
		return PrecisionYear
	}
}

func (d Date) String() string {
	year := strconv.Itoa(abs(d.Year))
	for len(year) < 4 {
		year = "0" + year
	}
	if d.Year < 0 {
		year = "-" + year
	}
	switch d.Precision() {
	case PrecisionDay:
		return fmt.Sprintf("%s-%02d-%02d", year, d.Month, d.Day)
	case PrecisionMonth:
		return fmt.Sprintf("%s-%02d", year, d.Month)
	default:
		return year
	}
}

// ParseDate parses "YYYY", "YYYY-MM" or "YYYY-MM-DD", with an optional
// leading minus for BCE years.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, fmt.Errorf("empty date")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	parts := strings.Split(s, "-")
	if len(parts) > 3 {
		return Date{}, fmt.Errorf("invalid date %q", s)
	}
	fields := make([]int, 3)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
		}
		fields[i] = v
	}
	if neg {
		fields[0] = -fields[0]
	}
	if len(parts) >= 2 && fields[1] == 0 {
		return Date{}, fmt.Errorf("invalid month in %q", s)
	}
	if len(parts) == 3 && fields[2] == 0 {
		return Date{}, fmt.Errorf("invalid day in %q", s)
	}
	return NewDate(fields[0], fields[1], fields[2])
}

// Compatible reports whether a and b agree on every field set in both.
// A less precise value never conflicts with a more precise one on the
// fields it leaves unset.
func Compatible(a, b Date) bool {
	if a.Year != b.Year {
		return false
	}
	if a.Month != 0 && b.Month != 0 && a.Month != b.Month {
		return false
	}
	if a.Day != 0 && b.Day != 0 && a.Day != b.Day {
		return false
	}
	return true
}

// IsSuspectJanFirst reports the day=1, month=1 pattern that usually stands
// for a year-only date stored at full precision.
func (d Date) IsSuspectJanFirst() bool {
	return d.Month == 1 && d.Day == 1
}

// ShouldUpgrade decides whether incoming should replace a stored date.
// Years must match. The stored value is replaced when it carries the
// suspect Jan 1 pattern, or when incoming is strictly more precise and
// compatible. Equal values never upgrade.
func ShouldUpgrade(existing, incoming *Date) bool {
	if existing == nil || incoming == nil {
		return false
	}
	if *existing == *incoming {
		return false
	}
	if existing.Year != incoming.Year {
		return false
	}
	if existing.IsSuspectJanFirst() {
		return true
	}
	return incoming.Precision() > existing.Precision() && Compatible(*existing, *incoming)
}

// UpgradeDate returns the date that should be stored after offering
// incoming against existing, and whether it differs from existing.
// A missing stored date is always filled.
func UpgradeDate(existing, incoming *Date) (*Date, bool) {
	if incoming == nil {
		return existing, false
	}
	if existing == nil || ShouldUpgrade(existing, incoming) {
		d := *incoming
		return &d, true
	}
	return existing, false
}

func daysIn(year, month int) int {
	switch month {
	case 0:
		return 31
	case 2:
		if isLeap(year) {
			return 29
		}
		return 28
	case 4, 6, 9, 11:
		return 30
	default:
		return 31
	}
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
