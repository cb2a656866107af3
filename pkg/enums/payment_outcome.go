package enums

import "fmt"

// PaymentOutcome is the closed set of gateway payment results. Raw gateway
// status strings are decoded into this type once, at the gateway boundary.
type PaymentOutcome string

const (
	PaymentOutcomeSucceeded      PaymentOutcome = "succeeded"
	PaymentOutcomeFailed         PaymentOutcome = "failed"
	PaymentOutcomeRequiresAction PaymentOutcome = "requires_action"
	PaymentOutcomePending        PaymentOutcome = "pending"
)

var validPaymentOutcomes = []PaymentOutcome{
	PaymentOutcomeSucceeded,
	PaymentOutcomeFailed,
	PaymentOutcomeRequiresAction,
	PaymentOutcomePending,
}

// String implements fmt.Stringer.
func (p PaymentOutcome) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentOutcome.
func (p PaymentOutcome) IsValid() bool {
	for _, candidate := range validPaymentOutcomes {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsConclusive reports whether the outcome settles the payment attempt.
// Pending results leave the subscription untouched for a later retry.
func (p PaymentOutcome) IsConclusive() bool {
	return p == PaymentOutcomeSucceeded || p == PaymentOutcomeFailed || p == PaymentOutcomeRequiresAction
}

// ParsePaymentOutcome converts raw input into a PaymentOutcome.
func ParsePaymentOutcome(value string) (PaymentOutcome, error) {
	for _, candidate := range validPaymentOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment outcome %q", value)
}
