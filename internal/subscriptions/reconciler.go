package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/subcycle-backend/pkg/db/models"
	"github.com/angelmondragon/subcycle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subcycle-backend/pkg/errors"
	"github.com/angelmondragon/subcycle-backend/pkg/logger"
	"github.com/angelmondragon/subcycle-backend/pkg/outbox"
	"github.com/angelmondragon/subcycle-backend/pkg/outbox/payloads"
)

type planCatalog interface {
	Get(ctx context.Context, id string) (*models.BillingPlan, error)
	GetActiveByID(ctx context.Context, id string) (*models.BillingPlan, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Reconciler applies gateway-reported payment outcomes to subscription state.
// Every operation is idempotent: replaying an already-applied outcome leaves
// the row untouched and returns it without error.
type Reconciler struct {
	repo     Repository
	plans    planCatalog
	outbox   *outbox.Service
	txRunner txRunner
	logg     *logger.Logger
}

// ReconcilerParams groups dependencies for the reconciler.
type ReconcilerParams struct {
	Repo              Repository
	Plans             planCatalog
	Outbox            *outbox.Service
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// NewReconciler builds a reconciler with the required dependencies.
func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repo required")
	}
	if params.Plans == nil {
		return nil, fmt.Errorf("plan catalog required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Reconciler{
		repo:     params.Repo,
		plans:    params.Plans,
		outbox:   params.Outbox,
		txRunner: params.TransactionRunner,
		logg:     params.Logger,
	}, nil
}

// ProcessInitialPaymentOutcome settles a subscription's first charge.
func (r *Reconciler) ProcessInitialPaymentOutcome(ctx context.Context, subscriptionID uuid.UUID, out InitialOutcome) (*models.Subscription, error) {
	return r.apply(ctx, subscriptionID, "initial payment outcome", true,
		func(sub models.Subscription, plan *models.BillingPlan, now time.Time) (models.Subscription, bool, error) {
			return applyInitialOutcome(sub, plan, out, now)
		},
		func(before, after models.Subscription) []outbox.DomainEvent {
			return initialOutcomeEvents(before, after, out)
		})
}

// ProcessRenewalPaymentOutcome settles a period-renewal charge.
func (r *Reconciler) ProcessRenewalPaymentOutcome(ctx context.Context, subscriptionID uuid.UUID, out RenewalOutcome) (*models.Subscription, error) {
	return r.apply(ctx, subscriptionID, "renewal payment outcome", true,
		func(sub models.Subscription, plan *models.BillingPlan, now time.Time) (models.Subscription, bool, error) {
			return applyRenewalOutcome(sub, plan, out, now)
		},
		func(before, after models.Subscription) []outbox.DomainEvent {
			return renewalOutcomeEvents(before, after, out)
		})
}

type transitionFunc func(sub models.Subscription, plan *models.BillingPlan, now time.Time) (models.Subscription, bool, error)

type eventsFunc func(before, after models.Subscription) []outbox.DomainEvent

// SystemCancel terminates a subscription whose plan disappeared or became
// unavailable. Skips the plan lookup on purpose: the plan may no longer exist.
func (r *Reconciler) SystemCancel(ctx context.Context, subscriptionID uuid.UUID, reason string) (*models.Subscription, error) {
	return r.apply(ctx, subscriptionID, "system cancel", false,
		func(sub models.Subscription, _ *models.BillingPlan, now time.Time) (models.Subscription, bool, error) {
			return applySystemCancel(sub, reason, now)
		},
		func(before, after models.Subscription) []outbox.DomainEvent {
			return []outbox.DomainEvent{{
				EventType:     enums.EventSubscriptionSystemCanceled,
				AggregateType: enums.AggregateSubscription,
				AggregateID:   after.ID.String(),
				Data: payloads.SubscriptionCanceledEvent{
					SubscriptionID: after.ID,
					UserID:         after.UserID,
					PlanID:         after.PlanID,
					CanceledAt:     time.Now().UTC(),
					Reason:         reason,
					EffectiveAt:    after.CurrentPeriodEnd,
				},
				Version: 1,
			}}
		})
}

// apply runs a transition under optimistic concurrency: read, transition,
// version-guarded write. A stale write means a concurrent transition won; the
// loser re-fetches and re-validates once instead of writing over fresh state.
func (r *Reconciler) apply(ctx context.Context, subscriptionID uuid.UUID, kind string, requirePlan bool, transition transitionFunc, events eventsFunc) (*models.Subscription, error) {
	if subscriptionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	ctx = r.logg.WithSubscriptionID(ctx, subscriptionID.String())

	for attempt := 0; ; attempt++ {
		sub, err := r.repo.FindByID(ctx, subscriptionID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup subscription")
		}
		if sub == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("subscription %s not found", subscriptionID))
		}
		var plan *models.BillingPlan
		if requirePlan {
			plan, err = r.plans.Get(ctx, sub.PlanID)
			if err != nil {
				if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
					return nil, pkgerrors.Wrap(pkgerrors.CodeInconsistentState, err,
						fmt.Sprintf("plan %s referenced by subscription %s is missing", sub.PlanID, subscriptionID))
				}
				return nil, err
			}
		}

		updated, changed, err := transition(*sub, plan, time.Now())
		if err != nil {
			return nil, err
		}
		if !changed {
			// Stale duplicates and outcomes for terminal rows land here:
			// dropped with a log line, never an error.
			r.logg.Info(r.logg.WithField(ctx, "status", sub.Status),
				fmt.Sprintf("%s produced no state change", kind))
			return sub, nil
		}

		err = r.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
			if err := r.repo.WithTx(tx).UpdateGuarded(ctx, &updated); err != nil {
				return err
			}
			for _, event := range events(*sub, updated) {
				if err := r.outbox.Emit(ctx, tx, event); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrStaleSubscription) && attempt == 0 {
				r.logg.Warn(ctx, fmt.Sprintf("%s lost a write race, re-validating", kind))
				continue
			}
			if errors.Is(err, ErrStaleSubscription) {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInconsistentState, err,
					fmt.Sprintf("%s could not be applied", kind))
			}
			if pkgerrors.As(err) != nil {
				return nil, err
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist subscription transition")
		}

		r.logg.Info(r.logg.WithFields(ctx, map[string]any{
			"from_status": sub.Status,
			"to_status":   updated.Status,
		}), fmt.Sprintf("%s applied", kind))
		return &updated, nil
	}
}

func initialOutcomeEvents(before, after models.Subscription, out InitialOutcome) []outbox.DomainEvent {
	switch after.Status {
	case enums.SubscriptionStatusActive:
		return []outbox.DomainEvent{{
			EventType:     enums.EventSubscriptionActivated,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   after.ID.String(),
			Data: payloads.SubscriptionStatusChangedEvent{
				SubscriptionID: after.ID,
				UserID:         after.UserID,
				PlanID:         after.PlanID,
				FromStatus:     before.Status,
				ToStatus:       after.Status,
			},
			Version: 1,
		}}
	case enums.SubscriptionStatusExpired:
		return []outbox.DomainEvent{{
			EventType:     enums.EventSubscriptionExpired,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   after.ID.String(),
			Data: payloads.SubscriptionStatusChangedEvent{
				SubscriptionID: after.ID,
				UserID:         after.UserID,
				PlanID:         after.PlanID,
				FromStatus:     before.Status,
				ToStatus:       after.Status,
				Reason:         "initial payment failed",
			},
			Version: 1,
		}}
	default:
		return nil
	}
}

func renewalOutcomeEvents(before, after models.Subscription, out RenewalOutcome) []outbox.DomainEvent {
	switch after.Status {
	case enums.SubscriptionStatusActive:
		return []outbox.DomainEvent{{
			EventType:     enums.EventSubscriptionRenewed,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   after.ID.String(),
			Data: payloads.SubscriptionRenewedEvent{
				SubscriptionID: after.ID,
				UserID:         after.UserID,
				PlanID:         after.PlanID,
				PeriodStart:    after.CurrentPeriodStart,
				PeriodEnd:      after.CurrentPeriodEnd,
				PaymentID:      out.TransactionID,
			},
			Version: 1,
		}}
	case enums.SubscriptionStatusPastDue:
		return []outbox.DomainEvent{{
			EventType:     enums.EventSubscriptionPastDue,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   after.ID.String(),
			Data: payloads.SubscriptionStatusChangedEvent{
				SubscriptionID: after.ID,
				UserID:         after.UserID,
				PlanID:         after.PlanID,
				FromStatus:     before.Status,
				ToStatus:       after.Status,
				Reason:         "renewal payment failed",
			},
			Version: 1,
		}}
	default:
		return nil
	}
}
