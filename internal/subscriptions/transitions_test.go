package subscriptions

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/subcycle-backend/pkg/db/models"
	"github.com/angelmondragon/subcycle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subcycle-backend/pkg/errors"
)

func monthlyPlan() *models.BillingPlan {
	return &models.BillingPlan{
		ID:            "plan-monthly",
		Name:          "Monthly",
		Status:        enums.PlanStatusActive,
		PriceAmount:   decimal.RequireFromString("19.99"),
		CurrencyCode:  "USD",
		Interval:      enums.BillingIntervalMonth,
		IntervalCount: 1,
	}
}

func pendingSubscription() models.Subscription {
	return models.Subscription{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		PlanID:    "plan-monthly",
		Status:    enums.SubscriptionStatusPendingInitialPayment,
		AutoRenew: true,
	}
}

func activeSubscription(periodStart, periodEnd time.Time) models.Subscription {
	start := periodStart
	return models.Subscription{
		ID:                 uuid.New(),
		UserID:             uuid.New(),
		PlanID:             "plan-monthly",
		Status:             enums.SubscriptionStatusActive,
		AutoRenew:          true,
		StartDate:          &start,
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodEnd,
	}
}

func TestApplyInitialOutcomeSuccessActivates(t *testing.T) {
	sub := pendingSubscription()
	now := time.Date(2026, time.January, 31, 9, 30, 0, 0, time.UTC)

	updated, changed, err := applyInitialOutcome(sub, monthlyPlan(), InitialOutcome{
		TransactionID:  "txn-1",
		Outcome:        enums.PaymentOutcomeSucceeded,
		StoredMethodID: "card-1",
	}, now)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !changed {
		t.Fatalf("expected a state change")
	}
	if updated.Status != enums.SubscriptionStatusActive {
		t.Fatalf("expected active, got %s", updated.Status)
	}
	if updated.StartDate == nil || !updated.StartDate.Equal(now) {
		t.Fatalf("start date not set to activation time")
	}
	if !updated.CurrentPeriodStart.Equal(now) {
		t.Fatalf("period start should equal activation time")
	}
	// Jan 31 + 1 month clamps to Feb 28 (2026 is not a leap year).
	wantEnd := time.Date(2026, time.February, 28, 9, 30, 0, 0, time.UTC)
	if !updated.CurrentPeriodEnd.Equal(wantEnd) {
		t.Fatalf("expected period end %v, got %v", wantEnd, updated.CurrentPeriodEnd)
	}
	if updated.LastSuccessfulPaymentID == nil || *updated.LastSuccessfulPaymentID != "txn-1" {
		t.Fatalf("payment id not recorded")
	}
	if updated.StoredPaymentMethodID == nil || *updated.StoredPaymentMethodID != "card-1" {
		t.Fatalf("stored method not recorded")
	}
}

func TestApplyInitialOutcomeFailureExpires(t *testing.T) {
	sub := pendingSubscription()
	now := time.Now().UTC()

	updated, changed, err := applyInitialOutcome(sub, monthlyPlan(), InitialOutcome{
		Outcome: enums.PaymentOutcomeFailed,
	}, now)
	if err != nil || !changed {
		t.Fatalf("apply: changed=%v err=%v", changed, err)
	}
	if updated.Status != enums.SubscriptionStatusExpired {
		t.Fatalf("expected expired, got %s", updated.Status)
	}
	if updated.EndDate == nil {
		t.Fatalf("end date should be set on expiry")
	}
}

func TestApplyInitialOutcomeRequiresActionThenReplay(t *testing.T) {
	sub := pendingSubscription()
	now := time.Now().UTC()

	updated, changed, err := applyInitialOutcome(sub, monthlyPlan(), InitialOutcome{
		Outcome: enums.PaymentOutcomeRequiresAction,
	}, now)
	if err != nil || !changed {
		t.Fatalf("apply: changed=%v err=%v", changed, err)
	}
	if updated.Status != enums.SubscriptionStatusIncomplete {
		t.Fatalf("expected incomplete, got %s", updated.Status)
	}

	// Replaying the same outcome is a no-op, not an error.
	_, changed, err = applyInitialOutcome(updated, monthlyPlan(), InitialOutcome{
		Outcome: enums.PaymentOutcomeRequiresAction,
	}, now)
	if err != nil || changed {
		t.Fatalf("replay should be a no-op, changed=%v err=%v", changed, err)
	}
}

func TestApplyInitialOutcomeDroppedForSettledRow(t *testing.T) {
	periodStart := time.Now().UTC()
	sub := activeSubscription(periodStart, periodStart.AddDate(0, 1, 0))

	_, changed, err := applyInitialOutcome(sub, monthlyPlan(), InitialOutcome{
		Outcome: enums.PaymentOutcomeFailed,
	}, time.Now())
	if err != nil || changed {
		t.Fatalf("stale initial outcome must be dropped, changed=%v err=%v", changed, err)
	}
}

func TestApplyRenewalOutcomeAdvancesFromPeriodEnd(t *testing.T) {
	periodStart := time.Date(2026, time.January, 31, 12, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, time.February, 28, 12, 0, 0, 0, time.UTC)
	sub := activeSubscription(periodStart, periodEnd)

	// The sweep runs late; the new period still starts at the old boundary.
	now := periodEnd.Add(26 * time.Hour)
	updated, changed, err := applyRenewalOutcome(sub, monthlyPlan(), RenewalOutcome{
		TransactionID: "txn-2",
		Outcome:       enums.PaymentOutcomeSucceeded,
	}, now)
	if err != nil || !changed {
		t.Fatalf("apply: changed=%v err=%v", changed, err)
	}
	if !updated.CurrentPeriodStart.Equal(periodEnd) {
		t.Fatalf("period start must advance from the previous boundary, got %v", updated.CurrentPeriodStart)
	}
	wantEnd := time.Date(2026, time.March, 28, 12, 0, 0, 0, time.UTC)
	if !updated.CurrentPeriodEnd.Equal(wantEnd) {
		t.Fatalf("expected period end %v, got %v", wantEnd, updated.CurrentPeriodEnd)
	}
	if updated.LastSuccessfulPaymentID == nil || *updated.LastSuccessfulPaymentID != "txn-2" {
		t.Fatalf("payment id not recorded")
	}
}

func TestApplyRenewalOutcomeDuplicateTransactionIsNoOp(t *testing.T) {
	periodStart := time.Now().UTC()
	sub := activeSubscription(periodStart, periodStart.AddDate(0, 1, 0))
	txn := "txn-3"
	sub.LastSuccessfulPaymentID = &txn

	updated, changed, err := applyRenewalOutcome(sub, monthlyPlan(), RenewalOutcome{
		TransactionID: txn,
		Outcome:       enums.PaymentOutcomeSucceeded,
	}, time.Now())
	if err != nil || changed {
		t.Fatalf("duplicate renewal must be a no-op, changed=%v err=%v", changed, err)
	}
	if !updated.CurrentPeriodEnd.Equal(sub.CurrentPeriodEnd) {
		t.Fatalf("duplicate renewal advanced the period")
	}
}

func TestApplyRenewalOutcomeConvertsTrial(t *testing.T) {
	trialEnd := time.Now().UTC()
	sub := activeSubscription(trialEnd.AddDate(0, 0, -14), trialEnd)
	sub.Status = enums.SubscriptionStatusTrialing
	sub.TrialEndDate = &sub.CurrentPeriodEnd

	updated, changed, err := applyRenewalOutcome(sub, monthlyPlan(), RenewalOutcome{
		TransactionID: "txn-4",
		Outcome:       enums.PaymentOutcomeSucceeded,
	}, trialEnd.Add(time.Hour))
	if err != nil || !changed {
		t.Fatalf("apply: changed=%v err=%v", changed, err)
	}
	if updated.Status != enums.SubscriptionStatusActive {
		t.Fatalf("trial conversion should activate, got %s", updated.Status)
	}
	if updated.TrialEndDate != nil {
		t.Fatalf("trial end should be cleared after conversion")
	}
}

func TestApplyRenewalOutcomeFailureMarksPastDue(t *testing.T) {
	periodStart := time.Now().UTC().AddDate(0, -1, 0)
	sub := activeSubscription(periodStart, time.Now().UTC())

	updated, changed, err := applyRenewalOutcome(sub, monthlyPlan(), RenewalOutcome{
		Outcome: enums.PaymentOutcomeFailed,
	}, time.Now())
	if err != nil || !changed {
		t.Fatalf("apply: changed=%v err=%v", changed, err)
	}
	if updated.Status != enums.SubscriptionStatusPastDue {
		t.Fatalf("expected past due, got %s", updated.Status)
	}
	if !updated.CurrentPeriodEnd.Equal(sub.CurrentPeriodEnd) {
		t.Fatalf("failed renewal must not move the billing window")
	}
}

func TestApplyCancel(t *testing.T) {
	periodStart := time.Now().UTC()
	sub := activeSubscription(periodStart, periodStart.AddDate(0, 1, 0))
	now := time.Now().UTC()

	updated, changed, err := applyCancel(sub, "too expensive", now)
	if err != nil || !changed {
		t.Fatalf("cancel: changed=%v err=%v", changed, err)
	}
	if updated.Status != enums.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled, got %s", updated.Status)
	}
	if updated.AutoRenew {
		t.Fatalf("auto renew must be disabled")
	}
	if updated.CanceledAt == nil {
		t.Fatalf("canceled_at not set")
	}
	if updated.CancellationReason == nil || *updated.CancellationReason != "too expensive" {
		t.Fatalf("reason not recorded")
	}
	if !updated.CurrentPeriodEnd.Equal(sub.CurrentPeriodEnd) {
		t.Fatalf("cancel must not shorten the paid period")
	}

	// Second cancel is idempotent.
	_, changed, err = applyCancel(updated, "again", now)
	if err != nil || changed {
		t.Fatalf("repeat cancel must be a no-op, changed=%v err=%v", changed, err)
	}
}

func TestApplyCancelRejectedStates(t *testing.T) {
	for _, status := range []enums.SubscriptionStatus{
		enums.SubscriptionStatusUnpaid,
		enums.SubscriptionStatusSystemCanceled,
	} {
		sub := pendingSubscription()
		sub.Status = status
		_, changed, err := applyCancel(sub, "", time.Now())
		if changed {
			t.Fatalf("cancel from %s must not change state", status)
		}
		if !pkgerrors.HasCode(err, pkgerrors.CodeActionNotAllowed) {
			t.Fatalf("cancel from %s: expected action-not-allowed, got %v", status, err)
		}
	}
}

func TestApplyReactivateWithinWindow(t *testing.T) {
	now := time.Now().UTC()
	sub := activeSubscription(now.AddDate(0, -1, 0), now.AddDate(0, 0, 10))
	sub.Status = enums.SubscriptionStatusCanceled
	canceled := now.Add(-time.Hour)
	reason := "changed my mind"
	sub.CanceledAt = &canceled
	sub.CancellationReason = &reason
	sub.AutoRenew = false

	updated, changed, err := applyReactivate(sub, now)
	if err != nil || !changed {
		t.Fatalf("reactivate: changed=%v err=%v", changed, err)
	}
	if updated.Status != enums.SubscriptionStatusActive {
		t.Fatalf("expected active, got %s", updated.Status)
	}
	if !updated.AutoRenew || updated.CanceledAt != nil || updated.CancellationReason != nil {
		t.Fatalf("cancellation bookkeeping not cleared")
	}
}

func TestApplyReactivateAfterPeriodEndRejected(t *testing.T) {
	now := time.Now().UTC()
	sub := activeSubscription(now.AddDate(0, -2, 0), now.Add(-time.Minute))
	sub.Status = enums.SubscriptionStatusCanceled

	_, changed, err := applyReactivate(sub, now)
	if changed {
		t.Fatalf("reactivate past the period end must not change state")
	}
	if !pkgerrors.HasCode(err, pkgerrors.CodeActionNotAllowed) {
		t.Fatalf("expected action-not-allowed, got %v", err)
	}
}

func TestApplySystemCancel(t *testing.T) {
	periodStart := time.Now().UTC()
	sub := activeSubscription(periodStart, periodStart.AddDate(0, 1, 0))

	updated, changed, err := applySystemCancel(sub, "plan retired", time.Now())
	if err != nil || !changed {
		t.Fatalf("system cancel: changed=%v err=%v", changed, err)
	}
	if updated.Status != enums.SubscriptionStatusSystemCanceled {
		t.Fatalf("expected system_canceled, got %s", updated.Status)
	}
	if updated.EndDate == nil || !updated.EndDate.Equal(sub.CurrentPeriodEnd) {
		t.Fatalf("access should run until the paid period end")
	}

	// Terminal rows are left alone.
	_, changed, err = applySystemCancel(updated, "plan retired", time.Now())
	if err != nil || changed {
		t.Fatalf("repeat system cancel must be a no-op, changed=%v err=%v", changed, err)
	}
}

func TestApplyPauseResume(t *testing.T) {
	periodStart := time.Now().UTC()
	sub := activeSubscription(periodStart, periodStart.AddDate(0, 1, 0))

	paused, changed, err := applyPause(sub, time.Now())
	if err != nil || !changed {
		t.Fatalf("pause: changed=%v err=%v", changed, err)
	}
	if paused.Status != enums.SubscriptionStatusPaused || paused.PausedAt == nil {
		t.Fatalf("pause did not record state")
	}

	_, changed, err = applyPause(paused, time.Now())
	if err != nil || changed {
		t.Fatalf("repeat pause must be a no-op, changed=%v err=%v", changed, err)
	}

	resumed, changed, err := applyResume(paused, time.Now())
	if err != nil || !changed {
		t.Fatalf("resume: changed=%v err=%v", changed, err)
	}
	if resumed.Status != enums.SubscriptionStatusActive || resumed.PausedAt != nil {
		t.Fatalf("resume did not restore state")
	}

	_, _, err = applyResume(resumed, time.Now())
	if !pkgerrors.HasCode(err, pkgerrors.CodeActionNotAllowed) {
		t.Fatalf("resume on an active row: expected action-not-allowed, got %v", err)
	}

	trialing := pendingSubscription()
	trialing.Status = enums.SubscriptionStatusTrialing
	_, _, err = applyPause(trialing, time.Now())
	if !pkgerrors.HasCode(err, pkgerrors.CodeActionNotAllowed) {
		t.Fatalf("pause on a trialing row: expected action-not-allowed, got %v", err)
	}
}
