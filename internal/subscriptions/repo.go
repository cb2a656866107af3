package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/subcycle-backend/pkg/db/models"
	"github.com/angelmondragon/subcycle-backend/pkg/enums"
	"github.com/angelmondragon/subcycle-backend/pkg/pagination"
)

// ErrStaleSubscription signals a version-guarded update that matched no row:
// another writer committed first and the caller must re-fetch and re-validate.
var ErrStaleSubscription = errors.New("subscription was modified concurrently")

// Repository handles subscription persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindBlocking(ctx context.Context, userID uuid.UUID, planID string) (*models.Subscription, error)
	ListByUser(ctx context.Context, query ListByUserQuery) ([]models.Subscription, *pagination.Cursor, error)
	ListDueForRenewal(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	UpdateGuarded(ctx context.Context, sub *models.Subscription) error
}

// ListByUserQuery configures per-user subscription listings.
type ListByUserQuery struct {
	UserID uuid.UUID
	Limit  int
	Cursor *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// FindBlocking returns the subscription, if any, that prevents the user from
// subscribing to the same plan again.
func (r *repository) FindBlocking(ctx context.Context, userID uuid.UUID, planID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND plan_id = ?", userID, planID).
		Where("status IN (?)", enums.BlockingSubscriptionStatuses()).
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListByUser(ctx context.Context, query ListByUserQuery) ([]models.Subscription, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(query.Limit)
	q := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("user_id = ?", query.UserID)
	if query.Cursor != nil {
		q = q.Where("(created_at, id) < (?, ?)", query.Cursor.CreatedAt, query.Cursor.ID)
	}

	var subs []models.Subscription
	if err := q.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&subs).Error; err != nil {
		return nil, nil, err
	}

	if len(subs) > limit {
		subs = subs[:limit]
		last := subs[limit-1]
		return subs, &pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		}, nil
	}

	return subs, nil, nil
}

// ListDueForRenewal selects sweep candidates: auto-renewing rows whose period
// has lapsed. Trialing rows are included so trial expiry converts or downgrades
// on the same sweep.
func (r *repository) ListDueForRenewal(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 250
	}
	statuses := []enums.SubscriptionStatus{
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusTrialing,
	}
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("auto_renew = ?", true).
		Where("status IN (?)", statuses).
		Where("current_period_end <= ?", now.UTC()).
		Order("current_period_end ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// UpdateGuarded persists the row only if its version has not moved since it
// was read, then bumps the version. Clears nullable columns explicitly, which
// a struct-based update would silently skip.
func (r *repository) UpdateGuarded(ctx context.Context, sub *models.Subscription) error {
	currentVersion := sub.Version
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, currentVersion).
		Updates(map[string]any{
			"status":                     sub.Status,
			"start_date":                 sub.StartDate,
			"end_date":                   sub.EndDate,
			"current_period_start":       sub.CurrentPeriodStart,
			"current_period_end":         sub.CurrentPeriodEnd,
			"trial_end_date":             sub.TrialEndDate,
			"canceled_at":                sub.CanceledAt,
			"cancellation_reason":        sub.CancellationReason,
			"auto_renew":                 sub.AutoRenew,
			"stored_payment_method_id":   sub.StoredPaymentMethodID,
			"last_successful_payment_id": sub.LastSuccessfulPaymentID,
			"gateway_subscription_id":    sub.GatewaySubscriptionID,
			"paused_at":                  sub.PausedAt,
			"version":                    currentVersion + 1,
			"updated_at":                 time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleSubscription
	}
	sub.Version = currentVersion + 1
	return nil
}
