package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/allinbloomus-wq/allinbloom/internal/usecase"
)

func TestPlausibleAddress(t *testing.T) {
	cases := []struct {
		address string
		want    bool
	}{
		{"12 Oak St, Chicago, IL 60601", true},
		{"1234 W Belmont Ave, Chicago", true},
		{"Chicago", false},             // too short, no number, no comma
		{"12 Oak St", false},           // no comma
		{"Oak Street, Chicago", false}, // no house number
		{"  12, a  ", false},           // too short after trimming
		{"", false},
	}
	for _, tc := range cases {
		if got := plausibleAddress(tc.address); got != tc.want {
			t.Errorf("plausibleAddress(%q) = %v, want %v", tc.address, got, tc.want)
		}
	}
}

func TestFeeForMiles(t *testing.T) {
	cases := []struct {
		miles float64
		fee   int64
		ok    bool
	}{
		{0, 0, true},
		{9.99, 0, true},
		{10.0, 0, true}, // tier edges are inclusive
		{10.01, 1500, true},
		{20.0, 1500, true},
		{20.01, 3000, true},
		{30.0, 3000, true},
		{30.01, 0, false},
		{100, 0, false},
	}
	for _, tc := range cases {
		fee, err := feeForMiles(tc.miles)
		if tc.ok {
			if err != nil || fee != tc.fee {
				t.Errorf("feeForMiles(%v) = %d, %v; want %d", tc.miles, fee, err, tc.fee)
			}
			continue
		}
		if !errors.Is(err, usecase.ErrValidation) {
			t.Errorf("feeForMiles(%v): want validation error, got %v", tc.miles, err)
		}
	}
}

func TestQuoteRejectsBeforeNetwork(t *testing.T) {
	q := NewGoogleMapsQuoter("key", "1 Shop Plaza, Chicago, IL")

	// An implausible address never reaches the API.
	if _, err := q.Quote(context.Background(), "nowhere"); !errors.Is(err, usecase.ErrValidation) {
		t.Fatalf("want validation error, got %v", err)
	}

	// A missing API key refuses cleanly instead of quoting garbage.
	q = NewGoogleMapsQuoter("", "1 Shop Plaza, Chicago, IL")
	if _, err := q.Quote(context.Background(), "12 Oak St, Chicago, IL 60601"); !errors.Is(err, usecase.ErrNotConfigured) {
		t.Fatalf("want not-configured error, got %v", err)
	}
}
