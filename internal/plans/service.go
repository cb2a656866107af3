package plans

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/subcycle-backend/pkg/db"
	"github.com/angelmondragon/subcycle-backend/pkg/db/models"
	"github.com/angelmondragon/subcycle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subcycle-backend/pkg/errors"
	"github.com/angelmondragon/subcycle-backend/pkg/logger"
	"github.com/angelmondragon/subcycle-backend/pkg/outbox"
	"github.com/angelmondragon/subcycle-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service defines the plan catalog surface.
type Service interface {
	Create(ctx context.Context, input CreatePlanInput) (*models.BillingPlan, error)
	Update(ctx context.Context, id string, input UpdatePlanInput) (*models.BillingPlan, error)
	Get(ctx context.Context, id string) (*models.BillingPlan, error)
	GetActiveByID(ctx context.Context, id string) (*models.BillingPlan, error)
	List(ctx context.Context, query ListPlansQuery) ([]models.BillingPlan, error)
	Activate(ctx context.Context, id string) (*models.BillingPlan, error)
	Deactivate(ctx context.Context, id string) (*models.BillingPlan, error)
	Archive(ctx context.Context, id string) (*models.BillingPlan, error)
}

// ServiceParams groups dependencies for the plan catalog service.
type ServiceParams struct {
	Repo              Repository
	Outbox            *outbox.Service
	TransactionRunner txRunner
	Logger            *logger.Logger
}

type service struct {
	repo     Repository
	outbox   *outbox.Service
	txRunner txRunner
	logg     *logger.Logger
}

// NewService builds a plan catalog service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("plan repo required")
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
		repo:     params.Repo,
		outbox:   params.Outbox,
		txRunner: params.TransactionRunner,
		logg:     params.Logger,
	}, nil
}

// Create stores a new plan; the plan name is globally unique.
func (s *service) Create(ctx context.Context, input CreatePlanInput) (*models.BillingPlan, error) {
	interval, err := input.validate()
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	existing, err := s.repo.FindByName(ctx, name)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup plan by name")
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeDuplicate, fmt.Sprintf("plan name %q already exists", name))
	}

	plan := &models.BillingPlan{
		ID:            strings.TrimSpace(input.ID),
		Name:          name,
		Description:   strings.TrimSpace(input.Description),
		Status:        enums.PlanStatusActive,
		PriceAmount:   input.PriceAmount,
		CurrencyCode:  strings.ToUpper(strings.TrimSpace(input.CurrencyCode)),
		Interval:      interval,
		IntervalCount: input.IntervalCount,
		TrialDays:     input.TrialDays,
		OwnerAppID:    input.OwnerAppID,
		Features:      pq.StringArray(input.Features),
	}
	if plan.ID == "" {
		plan.ID = newPlanID()
	}
	if trimmed := strings.TrimSpace(input.GatewayPriceID); trimmed != "" {
		plan.GatewayPriceID = &trimmed
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, plan); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_billing_plans_name") {
				return pkgerrors.New(pkgerrors.CodeDuplicate, fmt.Sprintf("plan name %q already exists", name))
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create plan")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPlanCreated,
			AggregateType: enums.AggregateBillingPlan,
			AggregateID:   plan.ID,
			Data: payloads.PlanCreatedEvent{
				PlanID:       plan.ID,
				Name:         plan.Name,
				PriceAmount:  plan.PriceAmount,
				CurrencyCode: plan.CurrencyCode,
				Interval:     plan.Interval,
			},
			Version: 1,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithPlanID(ctx, plan.ID), "billing plan created")
	return plan, nil
}

// Update edits mutable plan fields. Cadence and currency are immutable.
func (s *service) Update(ctx context.Context, id string, input UpdatePlanInput) (*models.BillingPlan, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	plan, err := s.mustFind(ctx, id)
	if err != nil {
		return nil, err
	}

	var changed []string
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name != plan.Name {
			other, err := s.repo.FindByName(ctx, name)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup plan by name")
			}
			if other != nil && other.ID != plan.ID {
				return nil, pkgerrors.New(pkgerrors.CodeDuplicate, fmt.Sprintf("plan name %q already exists", name))
			}
			plan.Name = name
			changed = append(changed, "name")
		}
	}
	if input.Description != nil && *input.Description != plan.Description {
		plan.Description = strings.TrimSpace(*input.Description)
		changed = append(changed, "description")
	}
	if input.PriceAmount != nil && !input.PriceAmount.Equal(plan.PriceAmount) {
		plan.PriceAmount = *input.PriceAmount
		changed = append(changed, "price_amount")
	}
	if input.TrialDays != nil && *input.TrialDays != plan.TrialDays {
		plan.TrialDays = *input.TrialDays
		changed = append(changed, "trial_days")
	}
	if input.GatewayPriceID != nil {
		trimmed := strings.TrimSpace(*input.GatewayPriceID)
		plan.GatewayPriceID = nil
		if trimmed != "" {
			plan.GatewayPriceID = &trimmed
		}
		changed = append(changed, "gateway_price_id")
	}
	if input.Features != nil {
		plan.Features = pq.StringArray(*input.Features)
		changed = append(changed, "features")
	}

	if len(changed) == 0 {
		return plan, nil
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Update(ctx, plan); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_billing_plans_name") {
				return pkgerrors.New(pkgerrors.CodeDuplicate, fmt.Sprintf("plan name %q already exists", plan.Name))
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update plan")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPlanUpdated,
			AggregateType: enums.AggregateBillingPlan,
			AggregateID:   plan.ID,
			Data:          payloads.PlanUpdatedEvent{PlanID: plan.ID, Fields: changed},
			Version:       1,
		})
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// Get returns the plan regardless of status.
func (s *service) Get(ctx context.Context, id string) (*models.BillingPlan, error) {
	return s.mustFind(ctx, id)
}

// GetActiveByID returns the plan only when it is currently purchasable.
func (s *service) GetActiveByID(ctx context.Context, id string) (*models.BillingPlan, error) {
	plan, err := s.mustFind(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan.Status != enums.PlanStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeActionNotAllowed,
			fmt.Sprintf("plan %s is %s, not purchasable", plan.ID, plan.Status))
	}
	return plan, nil
}

// List returns plans matching the query.
func (s *service) List(ctx context.Context, query ListPlansQuery) ([]models.BillingPlan, error) {
	plans, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list plans")
	}
	return plans, nil
}

// Activate makes the plan purchasable again. Archived plans stay archived.
func (s *service) Activate(ctx context.Context, id string) (*models.BillingPlan, error) {
	return s.setStatus(ctx, id, enums.PlanStatusActive)
}

// Deactivate stops new subscriptions without touching existing subscribers.
func (s *service) Deactivate(ctx context.Context, id string) (*models.BillingPlan, error) {
	return s.setStatus(ctx, id, enums.PlanStatusInactive)
}

// Archive retires the plan permanently. Plans are never hard-deleted.
func (s *service) Archive(ctx context.Context, id string) (*models.BillingPlan, error) {
	return s.setStatus(ctx, id, enums.PlanStatusArchived)
}

func (s *service) setStatus(ctx context.Context, id string, target enums.PlanStatus) (*models.BillingPlan, error) {
	plan, err := s.mustFind(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan.Status == target {
		return plan, nil
	}
	if plan.Status == enums.PlanStatusArchived {
		return nil, pkgerrors.New(pkgerrors.CodeActionNotAllowed, "archived plans cannot change status")
	}

	from := plan.Status
	plan.Status = target
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Update(ctx, plan); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update plan status")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPlanStatusChanged,
			AggregateType: enums.AggregateBillingPlan,
			AggregateID:   plan.ID,
			Data:          payloads.PlanStatusChangedEvent{PlanID: plan.ID, FromStatus: from, ToStatus: target},
			Version:       1,
		})
	})
	if err != nil {
		plan.Status = from
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"plan_id":     plan.ID,
		"from_status": from,
		"to_status":   target,
	}), "billing plan status changed")
	return plan, nil
}

func (s *service) mustFind(ctx context.Context, id string) (*models.BillingPlan, error) {
	if strings.TrimSpace(id) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required")
	}
	plan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("plan %s not found", id))
	}
	return plan, nil
}

func newPlanID() string {
	return "plan_" + uuid.NewString()
}
