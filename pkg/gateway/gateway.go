// Package gateway abstracts the payment provider behind a narrow charge
// surface. Raw provider statuses are decoded into enums.PaymentOutcome here,
// at the boundary, so the rest of the codebase never sees provider strings.
package gateway

import (
	"context"
	"strings"

	"github.com/angelmondragon/subcycle-backend/pkg/enums"
)

// PaymentRequest describes a single charge attempt against a stored method.
type PaymentRequest struct {
	AmountCents     int64
	Currency        string
	CustomerID      string
	PaymentMethodID string
	IdempotencyKey  string
	ReferenceID     string
	Note            string
}

// PaymentResult is the decoded outcome of a charge attempt.
type PaymentResult struct {
	TransactionID string
	Outcome       enums.PaymentOutcome
	ClientSecret  string
}

// PaymentGateway is the charge surface used by subscription flows. Calls are
// blocking network operations and must never run inside a DB transaction.
type PaymentGateway interface {
	InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
}

// DecodeOutcome translates a raw provider status into the closed outcome set.
// Unknown statuses decode to pending so the caller retries instead of
// penalizing a charge that may have gone through.
func DecodeOutcome(raw string) enums.PaymentOutcome {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "COMPLETED", "APPROVED", "SUCCEEDED":
		return enums.PaymentOutcomeSucceeded
	case "FAILED", "CANCELED", "DECLINED":
		return enums.PaymentOutcomeFailed
	case "REQUIRES_ACTION", "ACTION_REQUIRED":
		return enums.PaymentOutcomeRequiresAction
	default:
		return enums.PaymentOutcomePending
	}
}
