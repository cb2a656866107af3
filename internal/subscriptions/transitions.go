package subscriptions

import (
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/subcycle-backend/pkg/billingcycle"
	"github.com/angelmondragon/subcycle-backend/pkg/db/models"
	"github.com/angelmondragon/subcycle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subcycle-backend/pkg/errors"
)

// Transitions are pure: they take the current row by value and return the
// mutated copy plus whether anything changed. Persistence and event emission
// stay with the callers, so every rule here is testable without a database.

// InitialOutcome reports the result of a subscription's first charge attempt.
type InitialOutcome struct {
	TransactionID  string
	Outcome        enums.PaymentOutcome
	StoredMethodID string
}

// RenewalOutcome reports the result of a period-renewal charge attempt.
type RenewalOutcome struct {
	TransactionID string
	Outcome       enums.PaymentOutcome
}

// applyInitialOutcome settles the first payment of a subscription. Outcomes
// arriving for a row that already left the pending/incomplete states are
// dropped as stale duplicates, not errors.
func applyInitialOutcome(sub models.Subscription, plan *models.BillingPlan, out InitialOutcome, now time.Time) (models.Subscription, bool, error) {
	if sub.Status != enums.SubscriptionStatusPendingInitialPayment && sub.Status != enums.SubscriptionStatusIncomplete {
		return sub, false, nil
	}

	switch out.Outcome {
	case enums.PaymentOutcomeSucceeded:
		now = now.UTC()
		periodEnd, err := billingcycle.NextBillingDate(now, plan.Interval, plan.IntervalCount)
		if err != nil {
			return sub, false, err
		}
		sub.Status = enums.SubscriptionStatusActive
		if sub.StartDate == nil {
			start := now
			sub.StartDate = &start
		}
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = periodEnd
		sub.TrialEndDate = nil
		if out.TransactionID != "" {
			txn := out.TransactionID
			sub.LastSuccessfulPaymentID = &txn
		}
		if trimmed := strings.TrimSpace(out.StoredMethodID); trimmed != "" {
			sub.StoredPaymentMethodID = &trimmed
		}
		return sub, true, nil

	case enums.PaymentOutcomeRequiresAction:
		if sub.Status == enums.SubscriptionStatusIncomplete {
			return sub, false, nil
		}
		sub.Status = enums.SubscriptionStatusIncomplete
		return sub, true, nil

	case enums.PaymentOutcomeFailed:
		now = now.UTC()
		sub.Status = enums.SubscriptionStatusExpired
		sub.EndDate = &now
		return sub, true, nil

	default:
		// Pending outcomes are inconclusive; leave the row for a retry.
		return sub, false, nil
	}
}

// applyRenewalOutcome advances the billing window or flags the row past due.
// The period advances from the previous boundary, never from wall clock, so
// repeated renewals do not drift. A transaction id equal to the recorded last
// successful payment is an already-applied duplicate.
func applyRenewalOutcome(sub models.Subscription, plan *models.BillingPlan, out RenewalOutcome, now time.Time) (models.Subscription, bool, error) {
	if sub.Status != enums.SubscriptionStatusActive && sub.Status != enums.SubscriptionStatusTrialing {
		return sub, false, nil
	}
	if out.TransactionID != "" && sub.LastSuccessfulPaymentID != nil && *sub.LastSuccessfulPaymentID == out.TransactionID {
		return sub, false, nil
	}

	switch out.Outcome {
	case enums.PaymentOutcomeSucceeded:
		periodStart := sub.CurrentPeriodEnd
		periodEnd, err := billingcycle.NextBillingDate(periodStart, plan.Interval, plan.IntervalCount)
		if err != nil {
			return sub, false, err
		}
		sub.Status = enums.SubscriptionStatusActive
		sub.CurrentPeriodStart = periodStart
		sub.CurrentPeriodEnd = periodEnd
		sub.TrialEndDate = nil
		if out.TransactionID != "" {
			txn := out.TransactionID
			sub.LastSuccessfulPaymentID = &txn
		}
		return sub, true, nil

	case enums.PaymentOutcomeFailed:
		sub.Status = enums.SubscriptionStatusPastDue
		return sub, true, nil

	default:
		return sub, false, nil
	}
}

// applyCancel requests user cancellation. Cancelling an already canceled or
// expired row is an idempotent no-op; other terminal states reject the call.
// Access continues until period end, so the billing window is untouched.
func applyCancel(sub models.Subscription, reason string, now time.Time) (models.Subscription, bool, error) {
	switch sub.Status {
	case enums.SubscriptionStatusCanceled, enums.SubscriptionStatusExpired:
		return sub, false, nil
	case enums.SubscriptionStatusUnpaid, enums.SubscriptionStatusSystemCanceled:
		return sub, false, pkgerrors.New(pkgerrors.CodeActionNotAllowed,
			fmt.Sprintf("cannot cancel a %s subscription", sub.Status))
	}

	now = now.UTC()
	sub.Status = enums.SubscriptionStatusCanceled
	sub.AutoRenew = false
	sub.CanceledAt = &now
	sub.CancellationReason = nil
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		sub.CancellationReason = &trimmed
	}
	return sub, true, nil
}

// applyReactivate undoes a cancellation while the paid period is still open.
func applyReactivate(sub models.Subscription, now time.Time) (models.Subscription, bool, error) {
	if sub.Status != enums.SubscriptionStatusCanceled {
		return sub, false, pkgerrors.New(pkgerrors.CodeActionNotAllowed,
			fmt.Sprintf("only canceled subscriptions can be reactivated, current status is %s", sub.Status))
	}
	if !sub.CurrentPeriodEnd.After(now.UTC()) {
		return sub, false, pkgerrors.New(pkgerrors.CodeActionNotAllowed,
			"cannot reactivate after the paid period has ended")
	}

	sub.Status = enums.SubscriptionStatusActive
	sub.AutoRenew = true
	sub.CanceledAt = nil
	sub.CancellationReason = nil
	sub.EndDate = nil
	return sub, true, nil
}

// applySystemCancel terminates a subscription whose plan became unavailable.
func applySystemCancel(sub models.Subscription, reason string, now time.Time) (models.Subscription, bool, error) {
	if sub.Status.IsTerminal() {
		return sub, false, nil
	}

	sub.Status = enums.SubscriptionStatusSystemCanceled
	sub.AutoRenew = false
	end := sub.CurrentPeriodEnd
	sub.EndDate = &end
	sub.CancellationReason = nil
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		sub.CancellationReason = &trimmed
	}
	return sub, true, nil
}

// applyPause suspends renewal sweeps for an active subscription.
func applyPause(sub models.Subscription, now time.Time) (models.Subscription, bool, error) {
	if sub.Status == enums.SubscriptionStatusPaused {
		return sub, false, nil
	}
	if sub.Status != enums.SubscriptionStatusActive {
		return sub, false, pkgerrors.New(pkgerrors.CodeActionNotAllowed,
			fmt.Sprintf("only active subscriptions can be paused, current status is %s", sub.Status))
	}

	now = now.UTC()
	sub.Status = enums.SubscriptionStatusPaused
	sub.PausedAt = &now
	return sub, true, nil
}

// applyResume returns a paused subscription to active.
func applyResume(sub models.Subscription, now time.Time) (models.Subscription, bool, error) {
	if sub.Status != enums.SubscriptionStatusPaused {
		return sub, false, pkgerrors.New(pkgerrors.CodeActionNotAllowed,
			fmt.Sprintf("only paused subscriptions can be resumed, current status is %s", sub.Status))
	}

	sub.Status = enums.SubscriptionStatusActive
	sub.PausedAt = nil
	return sub, true, nil
}
