// Package payloads defines the event bodies wrapped by the outbox envelope.
package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/subcycle-backend/pkg/enums"
)

// SubscriptionCreatedEvent signals a new subscription row, regardless of
// whether it started trialing, active, or awaiting its first payment.
type SubscriptionCreatedEvent struct {
	SubscriptionID uuid.UUID                `json:"subscription_id"`
	UserID         uuid.UUID                `json:"user_id"`
	PlanID         string                   `json:"plan_id"`
	Status         enums.SubscriptionStatus `json:"status"`
	PeriodStart    time.Time                `json:"period_start"`
	PeriodEnd      time.Time                `json:"period_end"`
}

// SubscriptionStatusChangedEvent is emitted on every lifecycle transition.
type SubscriptionStatusChangedEvent struct {
	SubscriptionID uuid.UUID                `json:"subscription_id"`
	UserID         uuid.UUID                `json:"user_id"`
	PlanID         string                   `json:"plan_id"`
	FromStatus     enums.SubscriptionStatus `json:"from_status"`
	ToStatus       enums.SubscriptionStatus `json:"to_status"`
	Reason         string                   `json:"reason,omitempty"`
}

// SubscriptionRenewedEvent carries the advanced billing window.
type SubscriptionRenewedEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	UserID         uuid.UUID `json:"user_id"`
	PlanID         string    `json:"plan_id"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	PaymentID      string    `json:"payment_id,omitempty"`
}

// SubscriptionCanceledEvent reports a user or system cancellation.
type SubscriptionCanceledEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	UserID         uuid.UUID `json:"user_id"`
	PlanID         string    `json:"plan_id"`
	CanceledAt     time.Time `json:"canceled_at"`
	Reason         string    `json:"reason,omitempty"`
	EffectiveAt    time.Time `json:"effective_at"`
}

// PlanCreatedEvent announces a new billing plan.
type PlanCreatedEvent struct {
	PlanID       string                `json:"plan_id"`
	Name         string                `json:"name"`
	PriceAmount  decimal.Decimal       `json:"price_amount"`
	CurrencyCode string                `json:"currency_code"`
	Interval     enums.BillingInterval `json:"interval"`
}

// PlanUpdatedEvent reports edited plan attributes.
type PlanUpdatedEvent struct {
	PlanID string   `json:"plan_id"`
	Fields []string `json:"fields"`
}

// PlanStatusChangedEvent reports activation, deactivation, or archival.
type PlanStatusChangedEvent struct {
	PlanID     string           `json:"plan_id"`
	FromStatus enums.PlanStatus `json:"from_status"`
	ToStatus   enums.PlanStatus `json:"to_status"`
}
