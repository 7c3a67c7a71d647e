package age

import (
	"errors"
	"testing"
	"time"
)

func TestAt(t *testing.T) {
	asOf := time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		birth time.Time
		want  int
	}{
		{"birthday already passed", time.Date(2008, time.March, 1, 0, 0, 0, 0, time.UTC), 18},
		{"birthday today", time.Date(2008, time.June, 15, 0, 0, 0, 0, time.UTC), 18},
		{"birthday not yet reached", time.Date(2008, time.December, 31, 0, 0, 0, 0, time.UTC), 17},
		{"same month earlier day", time.Date(2008, time.June, 10, 0, 0, 0, 0, time.UTC), 18},
		{"same month later day", time.Date(2008, time.June, 20, 0, 0, 0, 0, time.UTC), 17},
		{"future date clamps to zero", time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC), 0},
	}
	for _, tc := range cases {
		if got := At(tc.birth, asOf); got != tc.want {
			t.Errorf("%s: got %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestFromString(t *testing.T) {
	now := time.Date(2026, time.January, 10, 0, 0, 0, 0, time.UTC)

	got, err := FromString("2015-01-01", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 11 {
		t.Fatalf("got %d, want 11", got)
	}

	if _, err := FromString("not-a-date", now); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
}
