package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/subcycle-backend/pkg/enums"
)

// Subscription persists per-user subscription lifecycle state. Rows are never
// deleted; terminal states remain for audit.
type Subscription struct {
	ID                      uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                  uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	PlanID                  string                   `gorm:"column:plan_id;not null;index"`
	Status                  enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null"`
	StartDate               *time.Time               `gorm:"column:start_date"`
	EndDate                 *time.Time               `gorm:"column:end_date"`
	CurrentPeriodStart      time.Time                `gorm:"column:current_period_start;not null"`
	CurrentPeriodEnd        time.Time                `gorm:"column:current_period_end;not null;index"`
	TrialEndDate            *time.Time               `gorm:"column:trial_end_date"`
	CanceledAt              *time.Time               `gorm:"column:canceled_at"`
	CancellationReason      *string                  `gorm:"column:cancellation_reason"`
	AutoRenew               bool                     `gorm:"column:auto_renew;not null;default:true"`
	StoredPaymentMethodID   *string                  `gorm:"column:stored_payment_method_id"`
	LastSuccessfulPaymentID *string                  `gorm:"column:last_successful_payment_id"`
	GatewaySubscriptionID   *string                  `gorm:"column:gateway_subscription_id"`
	PausedAt                *time.Time               `gorm:"column:paused_at"`
	Version                 int64                    `gorm:"column:version;not null;default:0"`
	CreatedAt               time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
