package age

import (
	"errors"
	"time"
)

// ErrInvalidDate is returned when a birth date cannot be parsed.
var ErrInvalidDate = errors.New("invalid birth date")

// Layout is the wire format for birth dates.
const Layout = "2006-01-02"

// Parse parses a YYYY-MM-DD birth date.
func Parse(birthDay string) (time.Time, error) {
	t, err := time.Parse(Layout, birthDay)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

// At computes whole years of age at the given instant. A birthday not
// yet reached this year reduces the count by one. Future birth dates
// clamp to zero instead of erroring; callers that need strict
// future-date rejection must check the date themselves.
func At(birthDate, asOf time.Time) int {
	years := asOf.Year() - birthDate.Year()
	if asOf.Month() < birthDate.Month() ||
		(asOf.Month() == birthDate.Month() && asOf.Day() < birthDate.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

// FromString parses birthDay and computes the age as of now.
func FromString(birthDay string, now time.Time) (int, error) {
	t, err := Parse(birthDay)
	if err != nil {
		return 0, err
	}
	return At(t, now), nil
}
