// Package billingcycle computes billing period boundaries. All arithmetic is
// done in UTC so results are deterministic across deployments.
package billingcycle

import (
	"fmt"
	"time"

	"github.com/angelmondragon/subcycle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subcycle-backend/pkg/errors"
)

// NextBillingDate returns the next billing boundary after from for the given
// cadence. Day and week intervals add exact day multiples. Month, quarter and
// year intervals add calendar units, clamping to the last day of the target
// month: Jan 31 + 1 month is Feb 29 in a leap year and Feb 28 otherwise.
func NextBillingDate(from time.Time, interval enums.BillingInterval, count int) (time.Time, error) {
	if count < 1 {
		return time.Time{}, pkgerrors.New(pkgerrors.CodeInvalidConfig,
			fmt.Sprintf("billing interval count must be >= 1, got %d", count))
	}
	from = from.UTC()
	switch interval {
	case enums.BillingIntervalDay:
		return from.AddDate(0, 0, count), nil
	case enums.BillingIntervalWeek:
		return from.AddDate(0, 0, 7*count), nil
	case enums.BillingIntervalMonth:
		return addMonthsClamped(from, count), nil
	case enums.BillingIntervalQuarter:
		return addMonthsClamped(from, 3*count), nil
	case enums.BillingIntervalYear:
		return addMonthsClamped(from, 12*count), nil
	default:
		return time.Time{}, pkgerrors.New(pkgerrors.CodeInvalidConfig,
			fmt.Sprintf("unknown billing interval %q", interval))
	}
}

// TrialEnd returns the trial expiry instant for a trial of the given length.
func TrialEnd(from time.Time, trialDays int) (time.Time, error) {
	if trialDays < 1 {
		return time.Time{}, pkgerrors.New(pkgerrors.CodeInvalidConfig,
			fmt.Sprintf("trial days must be >= 1, got %d", trialDays))
	}
	return from.UTC().AddDate(0, 0, trialDays), nil
}

// addMonthsClamped advances by whole calendar months without the overflow
// behavior of time.AddDate (Jan 31 + 1 month must not become Mar 2/3).
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	total := int(month) + months
	targetYear := year + (total-1)/12
	targetMonth := time.Month((total-1)%12 + 1)

	if last := lastDayOfMonth(targetYear, targetMonth); day > last {
		day = last
	}
	return time.Date(targetYear, targetMonth, day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
