package renewals

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/subcycle-backend/internal/cron"
	"github.com/angelmondragon/subcycle-backend/internal/subscriptions"
	"github.com/angelmondragon/subcycle-backend/pkg/db/models"
	"github.com/angelmondragon/subcycle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subcycle-backend/pkg/errors"
	"github.com/angelmondragon/subcycle-backend/pkg/gateway"
	"github.com/angelmondragon/subcycle-backend/pkg/logger"
	"github.com/angelmondragon/subcycle-backend/pkg/metrics"
)

const (
	jobName        = "subscription-renewal"
	defaultLimit   = 250
	defaultWorkers = 8
)

// Candidate results reported to metrics. One label per sweep decision.
const (
	resultRenewed        = "renewed"
	resultPastDue        = "past_due"
	resultSystemCanceled = "system_canceled"
	resultSkipped        = "skipped"
	resultError          = "error"
)

type subscriptionSource interface {
	ListDueForRenewal(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
}

type planCatalog interface {
	Get(ctx context.Context, id string) (*models.BillingPlan, error)
}

type outcomeApplier interface {
	ProcessRenewalPaymentOutcome(ctx context.Context, subscriptionID uuid.UUID, out subscriptions.RenewalOutcome) (*models.Subscription, error)
	SystemCancel(ctx context.Context, subscriptionID uuid.UUID, reason string) (*models.Subscription, error)
}

// JobParams configures the renewal sweep cron job.
type JobParams struct {
	Logger     *logger.Logger
	Repo       subscriptionSource
	Plans      planCatalog
	Gateway    gateway.PaymentGateway
	Reconciler outcomeApplier
	Metrics    *metrics.CronJobMetrics
	Limit      int
	Workers    int
	Now        func() time.Time
}

// NewJob builds the renewal sweep job.
func NewJob(params JobParams) (cron.Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repository required")
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
	limit := params.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	workers := params.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &job{
		logg:       params.Logger,
		repo:       params.Repo,
		plans:      params.Plans,
		gateway:    params.Gateway,
		reconciler: params.Reconciler,
		metrics:    params.Metrics,
		limit:      limit,
		workers:    workers,
		now:        now,
	}, nil
}

type job struct {
	logg       *logger.Logger
	repo       subscriptionSource
	plans      planCatalog
	gateway    gateway.PaymentGateway
	reconciler outcomeApplier
	metrics    *metrics.CronJobMetrics
	limit      int
	workers    int
	now        func() time.Time
}

func (j *job) Name() string { return jobName }

// Run sweeps lapsed subscriptions and settles each one independently. A
// candidate that fails is recorded and left for the next sweep; it never
// stops the batch.
func (j *job) Run(ctx context.Context) error {
	now := j.now().UTC()
	candidates, err := j.repo.ListDueForRenewal(ctx, now, j.limit)
	if err != nil {
		return fmt.Errorf("list subscriptions due for renewal: %w", err)
	}
	if len(candidates) == 0 {
		j.logg.Info(ctx, "no subscriptions due for renewal")
		return nil
	}

	var (
		mu     sync.Mutex
		errs   error
		counts = map[string]int{}
		eg     errgroup.Group
	)
	eg.SetLimit(j.workers)
	record := func(result string, err error) {
		j.incCandidate(result)
		mu.Lock()
		defer mu.Unlock()
		counts[result]++
		if err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	for i := range candidates {
		sub := candidates[i]
		eg.Go(func() error {
			result, err := j.processCandidate(ctx, sub)
			record(result, err)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		errs = multierr.Append(errs, err)
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates":      len(candidates),
		"renewed":         counts[resultRenewed],
		"past_due":        counts[resultPastDue],
		"system_canceled": counts[resultSystemCanceled],
		"skipped":         counts[resultSkipped],
		"errors":          counts[resultError],
	}), "renewal sweep complete")
	return errs
}

// processCandidate decides and applies the fate of one lapsed subscription.
// The gateway charge happens before any transaction is opened.
func (j *job) processCandidate(ctx context.Context, sub models.Subscription) (string, error) {
	ctx = j.logg.WithSubscriptionID(ctx, sub.ID.String())

	plan, err := j.plans.Get(ctx, sub.PlanID)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return j.systemCancel(ctx, sub, fmt.Sprintf("plan %s no longer exists", sub.PlanID))
		}
		return resultError, fmt.Errorf("subscription %s: lookup plan %s: %w", sub.ID, sub.PlanID, err)
	}
	if plan.Status != enums.PlanStatusActive {
		return j.systemCancel(ctx, sub, fmt.Sprintf("plan %s is %s", plan.ID, plan.Status))
	}

	amount := amountCents(plan.PriceAmount)
	if amount == 0 {
		return j.applyOutcome(ctx, sub, subscriptions.RenewalOutcome{
			Outcome: enums.PaymentOutcomeSucceeded,
		})
	}

	methodID := storedMethod(sub)
	if methodID == "" {
		// No stored instrument means the charge cannot even be attempted.
		j.logg.Warn(ctx, "subscription has no stored payment method; marking past due")
		return j.applyOutcome(ctx, sub, subscriptions.RenewalOutcome{
			Outcome: enums.PaymentOutcomeFailed,
		})
	}

	result, err := j.gateway.InitiatePayment(ctx, gateway.PaymentRequest{
		AmountCents:     amount,
		Currency:        plan.CurrencyCode,
		CustomerID:      sub.UserID.String(),
		PaymentMethodID: methodID,
		IdempotencyKey:  renewalIdempotencyKey(sub),
		ReferenceID:     sub.ID.String(),
		Note:            fmt.Sprintf("renewal for plan %s", plan.ID),
	})
	if err != nil {
		// Gateway unreachable or rejected the request outright. The row stays
		// as it is and the next sweep retries with the same idempotency key.
		return resultError, fmt.Errorf("subscription %s: initiate renewal payment: %w", sub.ID, err)
	}

	switch result.Outcome {
	case enums.PaymentOutcomeSucceeded, enums.PaymentOutcomeFailed:
		return j.applyOutcome(ctx, sub, subscriptions.RenewalOutcome{
			TransactionID: result.TransactionID,
			Outcome:       result.Outcome,
		})
	default:
		// Pending and requires_action are inconclusive. Leave the row
		// untouched; the idempotency key keeps the retry from double-charging.
		j.logg.Info(j.logg.WithField(ctx, "outcome", result.Outcome), "renewal payment inconclusive; retrying next sweep")
		return resultSkipped, nil
	}
}

func (j *job) systemCancel(ctx context.Context, sub models.Subscription, reason string) (string, error) {
	if _, err := j.reconciler.SystemCancel(ctx, sub.ID, reason); err != nil {
		return resultError, fmt.Errorf("subscription %s: system cancel: %w", sub.ID, err)
	}
	return resultSystemCanceled, nil
}

func (j *job) applyOutcome(ctx context.Context, sub models.Subscription, out subscriptions.RenewalOutcome) (string, error) {
	updated, err := j.reconciler.ProcessRenewalPaymentOutcome(ctx, sub.ID, out)
	if err != nil {
		return resultError, fmt.Errorf("subscription %s: apply renewal outcome: %w", sub.ID, err)
	}
	switch updated.Status {
	case enums.SubscriptionStatusPastDue:
		return resultPastDue, nil
	case enums.SubscriptionStatusActive:
		return resultRenewed, nil
	default:
		return resultSkipped, nil
	}
}

func (j *job) incCandidate(result string) {
	if j.metrics == nil {
		return
	}
	j.metrics.IncCandidate(jobName, result)
}

// renewalIdempotencyKey is stable per subscription per billing boundary, so
// a sweep retried after a crash cannot charge the same period twice.
func renewalIdempotencyKey(sub models.Subscription) string {
	return fmt.Sprintf("sub-renew-%s-%d", sub.ID, sub.CurrentPeriodEnd.UTC().Unix())
}

func storedMethod(sub models.Subscription) string {
	if sub.StoredPaymentMethodID == nil {
		return ""
	}
	return strings.TrimSpace(*sub.StoredPaymentMethodID)
}

func amountCents(price decimal.Decimal) int64 {
	return price.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
