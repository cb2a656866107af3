package subscriptions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/subcycle-backend/pkg/billingcycle"
	dbpkg "github.com/angelmondragon/subcycle-backend/pkg/db"
	"github.com/angelmondragon/subcycle-backend/pkg/db/models"
	"github.com/angelmondragon/subcycle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subcycle-backend/pkg/errors"
	"github.com/angelmondragon/subcycle-backend/pkg/gateway"
	"github.com/angelmondragon/subcycle-backend/pkg/logger"
	"github.com/angelmondragon/subcycle-backend/pkg/outbox"
	"github.com/angelmondragon/subcycle-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/subcycle-backend/pkg/pagination"
)

// Service defines the subscription lifecycle surface.
type Service interface {
	Subscribe(ctx context.Context, input SubscribeInput) (*SubscribeResult, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Subscription, *pagination.Cursor, error)
	Cancel(ctx context.Context, id, userID uuid.UUID, reason string) (*models.Subscription, error)
	Reactivate(ctx context.Context, id, userID uuid.UUID) (*models.Subscription, error)
	Pause(ctx context.Context, id, userID uuid.UUID) (*models.Subscription, error)
	Resume(ctx context.Context, id, userID uuid.UUID) (*models.Subscription, error)
}

// SubscribeInput captures the data required to start a subscription.
type SubscribeInput struct {
	UserID                uuid.UUID
	PlanID                string
	PaymentMethodToken    string
	StoredPaymentMethodID string
}

// SubscribeResult returns the created subscription and, when the gateway
// demands user interaction, a one-time client secret that is never persisted.
type SubscribeResult struct {
	Subscription *models.Subscription
	ClientSecret string
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Repo              Repository
	Plans             planCatalog
	Gateway           gateway.PaymentGateway
	Reconciler        *Reconciler
	Outbox            *outbox.Service
	TransactionRunner txRunner
	Logger            *logger.Logger
}

type service struct {
	repo       Repository
	plans      planCatalog
	gateway    gateway.PaymentGateway
	reconciler *Reconciler
	outbox     *outbox.Service
	txRunner   txRunner
	logg       *logger.Logger
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repo required")
	}
	if params.Plans == nil {
		return nil, fmt.Errorf("plan catalog required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
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
	return &service{
		repo:       params.Repo,
		plans:      params.Plans,
		gateway:    params.Gateway,
		reconciler: params.Reconciler,
		outbox:     params.Outbox,
		txRunner:   params.TransactionRunner,
		logg:       params.Logger,
	}, nil
}

// Subscribe creates a subscription to an active plan. Trial plans start
// trialing, free plans activate immediately, and paid plans persist as
// pending and charge through the gateway after the row is committed. A
// gateway failure leaves the pending row behind for later reconciliation.
func (s *service) Subscribe(ctx context.Context, input SubscribeInput) (*SubscribeResult, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	planID := strings.TrimSpace(input.PlanID)
	if planID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required")
	}

	plan, err := s.plans.GetActiveByID(ctx, planID)
	if err != nil {
		return nil, err
	}

	if blocking, err := s.repo.FindBlocking(ctx, input.UserID, planID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check for conflicting subscription")
	} else if blocking != nil {
		return nil, pkgerrors.New(pkgerrors.CodeSubscriptionConflict,
			fmt.Sprintf("subscription %s to plan %s is already %s", blocking.ID, planID, blocking.Status)).
			WithDetails(map[string]any{"subscription_id": blocking.ID})
	}

	sub, err := s.newSubscription(input, plan, time.Now())
	if err != nil {
		return nil, err
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		// The read-side re-check only covers committed rows; the partial
		// unique index on open (user_id, plan_id) pairs is what actually
		// serializes concurrent subscribes.
		if blocking, err := txRepo.FindBlocking(ctx, input.UserID, planID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check for conflicting subscription")
		} else if blocking != nil {
			return pkgerrors.New(pkgerrors.CodeSubscriptionConflict,
				fmt.Sprintf("subscription %s to plan %s is already %s", blocking.ID, planID, blocking.Status))
		}
		if err := txRepo.Create(ctx, sub); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_subscriptions_user_plan_open") {
				return pkgerrors.Wrap(pkgerrors.CodeSubscriptionConflict, err,
					fmt.Sprintf("a subscription to plan %s is already open for this user", planID))
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
		}
		for _, event := range subscribeEvents(*sub) {
			if err := s.outbox.Emit(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithSubscriptionID(ctx, sub.ID.String())
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"user_id": input.UserID.String(),
		"plan_id": planID,
		"status":  sub.Status,
	}), "subscription created")

	if sub.Status != enums.SubscriptionStatusPendingInitialPayment {
		return &SubscribeResult{Subscription: sub}, nil
	}

	methodID := firstNonEmpty(input.PaymentMethodToken, input.StoredPaymentMethodID)
	if methodID == "" {
		// No way to charge yet; the row stays pending until an outcome
		// arrives through the reconciler.
		return &SubscribeResult{Subscription: sub}, nil
	}

	// The charge happens outside any transaction: a blocking network call
	// must never hold row locks.
	result, err := s.gateway.InitiatePayment(ctx, gateway.PaymentRequest{
		AmountCents:     amountCents(plan.PriceAmount),
		Currency:        plan.CurrencyCode,
		CustomerID:      input.UserID.String(),
		PaymentMethodID: methodID,
		IdempotencyKey:  fmt.Sprintf("sub-initial-%s", sub.ID),
		ReferenceID:     sub.ID.String(),
		Note:            fmt.Sprintf("initial payment for plan %s", plan.Name),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err,
			fmt.Sprintf("initial payment failed to start; subscription %s remains pending", sub.ID))
	}

	stored := strings.TrimSpace(input.StoredPaymentMethodID)
	updated, err := s.reconciler.ProcessInitialPaymentOutcome(ctx, sub.ID, InitialOutcome{
		TransactionID:  result.TransactionID,
		Outcome:        result.Outcome,
		StoredMethodID: stored,
	})
	if err != nil {
		return nil, err
	}

	return &SubscribeResult{
		Subscription: updated,
		ClientSecret: result.ClientSecret,
	}, nil
}

// Get returns the subscription by id.
func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("subscription %s not found", id))
	}
	return sub, nil
}

// ListByUser returns the user's subscriptions newest first.
func (s *service) ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Subscription, *pagination.Cursor, error) {
	if userID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	subs, next, err := s.repo.ListByUser(ctx, ListByUserQuery{
		UserID: userID,
		Limit:  params.Limit,
		Cursor: cursor,
	})
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscriptions")
	}
	return subs, next, nil
}

// Cancel stops auto-renewal; access continues until the period ends.
// Cancelling twice is a no-op by design.
func (s *service) Cancel(ctx context.Context, id, userID uuid.UUID, reason string) (*models.Subscription, error) {
	if err := s.checkOwnership(ctx, id, userID); err != nil {
		return nil, err
	}
	return s.reconciler.apply(ctx, id, "cancel", false,
		func(sub models.Subscription, _ *models.BillingPlan, now time.Time) (models.Subscription, bool, error) {
			return applyCancel(sub, reason, now)
		},
		func(before, after models.Subscription) []outbox.DomainEvent {
			return []outbox.DomainEvent{{
				EventType:     enums.EventSubscriptionCanceled,
				AggregateType: enums.AggregateSubscription,
				AggregateID:   after.ID.String(),
				Data: payloads.SubscriptionCanceledEvent{
					SubscriptionID: after.ID,
					UserID:         after.UserID,
					PlanID:         after.PlanID,
					CanceledAt:     derefTime(after.CanceledAt),
					Reason:         reason,
					EffectiveAt:    after.CurrentPeriodEnd,
				},
				Version: 1,
			}}
		})
}

// Reactivate undoes a cancellation while still inside the paid period.
func (s *service) Reactivate(ctx context.Context, id, userID uuid.UUID) (*models.Subscription, error) {
	if err := s.checkOwnership(ctx, id, userID); err != nil {
		return nil, err
	}
	return s.reconciler.apply(ctx, id, "reactivate", false,
		func(sub models.Subscription, _ *models.BillingPlan, now time.Time) (models.Subscription, bool, error) {
			return applyReactivate(sub, now)
		},
		statusChangedEvents(enums.EventSubscriptionReactivated, ""))
}

// Pause suspends renewals for an active subscription.
func (s *service) Pause(ctx context.Context, id, userID uuid.UUID) (*models.Subscription, error) {
	if err := s.checkOwnership(ctx, id, userID); err != nil {
		return nil, err
	}
	return s.reconciler.apply(ctx, id, "pause", false,
		func(sub models.Subscription, _ *models.BillingPlan, now time.Time) (models.Subscription, bool, error) {
			return applyPause(sub, now)
		},
		statusChangedEvents(enums.EventSubscriptionPaused, ""))
}

// Resume returns a paused subscription to active.
func (s *service) Resume(ctx context.Context, id, userID uuid.UUID) (*models.Subscription, error) {
	if err := s.checkOwnership(ctx, id, userID); err != nil {
		return nil, err
	}
	return s.reconciler.apply(ctx, id, "resume", false,
		func(sub models.Subscription, _ *models.BillingPlan, now time.Time) (models.Subscription, bool, error) {
			return applyResume(sub, now)
		},
		statusChangedEvents(enums.EventSubscriptionResumed, ""))
}

func (s *service) checkOwnership(ctx context.Context, id, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	sub, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if sub.UserID != userID {
		// Do not leak another user's subscription.
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("subscription %s not found", id))
	}
	return nil
}

func (s *service) newSubscription(input SubscribeInput, plan *models.BillingPlan, now time.Time) (*models.Subscription, error) {
	now = now.UTC()
	sub := &models.Subscription{
		ID:                 uuid.New(),
		UserID:             input.UserID,
		PlanID:             plan.ID,
		AutoRenew:          true,
		CurrentPeriodStart: now,
	}
	if trimmed := strings.TrimSpace(input.StoredPaymentMethodID); trimmed != "" {
		sub.StoredPaymentMethodID = &trimmed
	}

	switch {
	case plan.TrialDays > 0:
		trialEnd, err := billingcycle.TrialEnd(now, plan.TrialDays)
		if err != nil {
			return nil, err
		}
		start := now
		sub.Status = enums.SubscriptionStatusTrialing
		sub.StartDate = &start
		sub.TrialEndDate = &trialEnd
		sub.CurrentPeriodEnd = trialEnd

	case plan.IsFree():
		periodEnd, err := billingcycle.NextBillingDate(now, plan.Interval, plan.IntervalCount)
		if err != nil {
			return nil, err
		}
		start := now
		sub.Status = enums.SubscriptionStatusActive
		sub.StartDate = &start
		sub.CurrentPeriodEnd = periodEnd

	default:
		periodEnd, err := billingcycle.NextBillingDate(now, plan.Interval, plan.IntervalCount)
		if err != nil {
			return nil, err
		}
		sub.Status = enums.SubscriptionStatusPendingInitialPayment
		sub.CurrentPeriodEnd = periodEnd
	}

	return sub, nil
}

func subscribeEvents(sub models.Subscription) []outbox.DomainEvent {
	events := []outbox.DomainEvent{{
		EventType:     enums.EventSubscriptionCreated,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   sub.ID.String(),
		Data: payloads.SubscriptionCreatedEvent{
			SubscriptionID: sub.ID,
			UserID:         sub.UserID,
			PlanID:         sub.PlanID,
			Status:         sub.Status,
			PeriodStart:    sub.CurrentPeriodStart,
			PeriodEnd:      sub.CurrentPeriodEnd,
		},
		Version: 1,
	}}

	switch sub.Status {
	case enums.SubscriptionStatusTrialing:
		events = append(events, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionTrialStarted,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID.String(),
			Data: payloads.SubscriptionStatusChangedEvent{
				SubscriptionID: sub.ID,
				UserID:         sub.UserID,
				PlanID:         sub.PlanID,
				ToStatus:       sub.Status,
			},
			Version: 1,
		})
	case enums.SubscriptionStatusActive:
		events = append(events, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionActivated,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID.String(),
			Data: payloads.SubscriptionStatusChangedEvent{
				SubscriptionID: sub.ID,
				UserID:         sub.UserID,
				PlanID:         sub.PlanID,
				ToStatus:       sub.Status,
				Reason:         "free plan",
			},
			Version: 1,
		})
	}
	return events
}

func statusChangedEvents(eventType enums.OutboxEventType, reason string) eventsFunc {
	return func(before, after models.Subscription) []outbox.DomainEvent {
		return []outbox.DomainEvent{{
			EventType:     eventType,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   after.ID.String(),
			Data: payloads.SubscriptionStatusChangedEvent{
				SubscriptionID: after.ID,
				UserID:         after.UserID,
				PlanID:         after.PlanID,
				FromStatus:     before.Status,
				ToStatus:       after.Status,
				Reason:         reason,
			},
			Version: 1,
		}}
	}
}

func amountCents(price decimal.Decimal) int64 {
	return price.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
