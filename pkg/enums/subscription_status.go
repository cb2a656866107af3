package enums

import "fmt"

// SubscriptionStatus tracks the lifecycle state of a user subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusPendingInitialPayment SubscriptionStatus = "pending_initial_payment"
	SubscriptionStatusTrialing              SubscriptionStatus = "trialing"
	SubscriptionStatusActive                SubscriptionStatus = "active"
	SubscriptionStatusPastDue               SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled              SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid                SubscriptionStatus = "unpaid"
	SubscriptionStatusExpired               SubscriptionStatus = "expired"
	SubscriptionStatusIncomplete            SubscriptionStatus = "incomplete"
	SubscriptionStatusPaused                SubscriptionStatus = "paused"
	SubscriptionStatusSystemCanceled        SubscriptionStatus = "system_canceled"
)

var validSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusPendingInitialPayment,
	SubscriptionStatusTrialing,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusCanceled,
	SubscriptionStatusUnpaid,
	SubscriptionStatusExpired,
	SubscriptionStatusIncomplete,
	SubscriptionStatusPaused,
	SubscriptionStatusSystemCanceled,
}

// blockingSubscriptionStatuses are the states that count against the
// one-non-terminal-subscription-per-(user, plan) rule.
var blockingSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusPendingInitialPayment,
	SubscriptionStatusTrialing,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusIncomplete,
}

// String implements fmt.Stringer.
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s SubscriptionStatus) IsValid() bool {
	for _, candidate := range validSubscriptionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state admits no further transitions.
// Canceled is excluded: it stays reactivatable until the paid period lapses.
func (s SubscriptionStatus) IsTerminal() bool {
	switch s {
	case SubscriptionStatusExpired, SubscriptionStatusUnpaid, SubscriptionStatusSystemCanceled:
		return true
	}
	return false
}

// IsBlocking reports whether the state prevents a new subscription to the
// same plan for the same user.
func (s SubscriptionStatus) IsBlocking() bool {
	for _, candidate := range blockingSubscriptionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// BlockingSubscriptionStatuses returns the conflict-check state set.
func BlockingSubscriptionStatuses() []SubscriptionStatus {
	statuses := make([]SubscriptionStatus, len(blockingSubscriptionStatuses))
	copy(statuses, blockingSubscriptionStatuses)
	return statuses
}

// ParseSubscriptionStatus converts raw input into a SubscriptionStatus.
func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	for _, candidate := range validSubscriptionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription status %q", value)
}
