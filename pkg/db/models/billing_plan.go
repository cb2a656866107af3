package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/subcycle-backend/pkg/enums"
)

// BillingPlan is a purchasable recurring offering. Plans are append-mostly:
// deactivating or archiving a plan never touches existing subscribers.
type BillingPlan struct {
	ID             string                `gorm:"column:id;primaryKey"`
	Name           string                `gorm:"column:name;not null;uniqueIndex:ux_billing_plans_name"`
	Description    string                `gorm:"column:description"`
	Status         enums.PlanStatus      `gorm:"column:status;type:plan_status;not null;default:'active'"`
	PriceAmount    decimal.Decimal       `gorm:"column:price_amount;type:numeric(12,2);not null"`
	CurrencyCode   string                `gorm:"column:currency_code;not null"`
	Interval       enums.BillingInterval `gorm:"column:interval;type:billing_interval;not null"`
	IntervalCount  int                   `gorm:"column:interval_count;not null;default:1"`
	TrialDays      int                   `gorm:"column:trial_days;not null;default:0"`
	OwnerAppID     *uuid.UUID            `gorm:"column:owner_app_id;type:uuid"`
	GatewayPriceID *string               `gorm:"column:gateway_price_id"`
	Features       pq.StringArray        `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// IsFree reports whether the plan charges nothing per period.
func (p BillingPlan) IsFree() bool {
	return p.PriceAmount.IsZero()
}
