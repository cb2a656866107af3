package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateSubscription OutboxAggregateType = "subscription"
	AggregateBillingPlan  OutboxAggregateType = "billing_plan"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateSubscription,
	AggregateBillingPlan,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventSubscriptionCreated        OutboxEventType = "subscription_created"
	EventSubscriptionTrialStarted   OutboxEventType = "subscription_trial_started"
	EventSubscriptionActivated      OutboxEventType = "subscription_activated"
	EventSubscriptionRenewed        OutboxEventType = "subscription_renewed"
	EventSubscriptionPastDue        OutboxEventType = "subscription_past_due"
	EventSubscriptionCanceled       OutboxEventType = "subscription_canceled"
	EventSubscriptionReactivated    OutboxEventType = "subscription_reactivated"
	EventSubscriptionExpired        OutboxEventType = "subscription_expired"
	EventSubscriptionPaused         OutboxEventType = "subscription_paused"
	EventSubscriptionResumed        OutboxEventType = "subscription_resumed"
	EventSubscriptionSystemCanceled OutboxEventType = "subscription_system_canceled"
	EventPlanCreated                OutboxEventType = "plan_created"
	EventPlanUpdated                OutboxEventType = "plan_updated"
	EventPlanStatusChanged          OutboxEventType = "plan_status_changed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventSubscriptionCreated,
	EventSubscriptionTrialStarted,
	EventSubscriptionActivated,
	EventSubscriptionRenewed,
	EventSubscriptionPastDue,
	EventSubscriptionCanceled,
	EventSubscriptionReactivated,
	EventSubscriptionExpired,
	EventSubscriptionPaused,
	EventSubscriptionResumed,
	EventSubscriptionSystemCanceled,
	EventPlanCreated,
	EventPlanUpdated,
	EventPlanStatusChanged,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
