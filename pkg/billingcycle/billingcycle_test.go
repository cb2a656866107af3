package billingcycle

import (
	"testing"
	"time"

	"github.com/angelmondragon/subcycle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subcycle-backend/pkg/errors"
)

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func TestNextBillingDateMonthEndClamp(t *testing.T) {
	cases := []struct {
		name     string
		from     time.Time
		interval enums.BillingInterval
		count    int
		want     time.Time
	}{
		{"jan 31 leap year", date(2024, time.January, 31), enums.BillingIntervalMonth, 1, date(2024, time.February, 29)},
		{"jan 31 common year", date(2023, time.January, 31), enums.BillingIntervalMonth, 1, date(2023, time.February, 28)},
		{"mar 31 to apr 30", date(2024, time.March, 31), enums.BillingIntervalMonth, 1, date(2024, time.April, 30)},
		{"mid month no clamp", date(2024, time.January, 15), enums.BillingIntervalMonth, 1, date(2024, time.February, 15)},
		{"two months", date(2024, time.January, 31), enums.BillingIntervalMonth, 2, date(2024, time.March, 31)},
		{"quarter from nov 30", date(2023, time.November, 30), enums.BillingIntervalQuarter, 1, date(2024, time.February, 29)},
		{"year over leap day", date(2024, time.February, 29), enums.BillingIntervalYear, 1, date(2025, time.February, 28)},
		{"year wraps december", date(2023, time.December, 31), enums.BillingIntervalMonth, 1, date(2024, time.January, 31)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NextBillingDate(tc.from, tc.interval, tc.count)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestNextBillingDateDayAndWeek(t *testing.T) {
	from := date(2024, time.January, 1)

	got, err := NextBillingDate(from, enums.BillingIntervalDay, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(date(2024, time.January, 31)) {
		t.Fatalf("expected jan 31, got %s", got)
	}

	got, err = NextBillingDate(from, enums.BillingIntervalWeek, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(date(2024, time.January, 15)) {
		t.Fatalf("expected jan 15, got %s", got)
	}
}

func TestNextBillingDatePreservesClockTime(t *testing.T) {
	from := time.Date(2024, time.January, 31, 14, 30, 15, 0, time.UTC)
	got, err := NextBillingDate(from, enums.BillingIntervalMonth, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, time.February, 29, 14, 30, 15, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestNextBillingDateNormalizesZone(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	from := time.Date(2024, time.February, 1, 1, 0, 0, 0, loc)
	got, err := NextBillingDate(from, enums.BillingIntervalDay, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 2024-02-01T01:00+05:00 is 2024-01-31T20:00Z; a day later stays in UTC.
	want := time.Date(2024, time.February, 1, 20, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %s", got.Location())
	}
}

func TestNextBillingDateRejectsBadCount(t *testing.T) {
	_, err := NextBillingDate(date(2024, time.January, 1), enums.BillingIntervalMonth, 0)
	if err == nil {
		t.Fatalf("expected error for zero count")
	}
	if !pkgerrors.HasCode(err, pkgerrors.CodeInvalidConfig) {
		t.Fatalf("expected invalid config code, got %v", err)
	}

	_, err = NextBillingDate(date(2024, time.January, 1), enums.BillingInterval("FORTNIGHT"), 1)
	if !pkgerrors.HasCode(err, pkgerrors.CodeInvalidConfig) {
		t.Fatalf("expected invalid config code for unknown interval, got %v", err)
	}
}

func TestTrialEnd(t *testing.T) {
	got, err := TrialEnd(date(2024, time.June, 1), 14)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(date(2024, time.June, 15)) {
		t.Fatalf("expected jun 15, got %s", got)
	}

	if _, err := TrialEnd(date(2024, time.June, 1), 0); err == nil {
		t.Fatalf("expected error for zero trial days")
	}
}
