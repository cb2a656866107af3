package renewals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/subcycle-backend/internal/subscriptions"
	"github.com/angelmondragon/subcycle-backend/pkg/db/models"
	"github.com/angelmondragon/subcycle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subcycle-backend/pkg/errors"
	"github.com/angelmondragon/subcycle-backend/pkg/gateway"
	"github.com/angelmondragon/subcycle-backend/pkg/logger"
)

type stubSource struct {
	subs []models.Subscription
	err  error
}

func (s *stubSource) ListDueForRenewal(context.Context, time.Time, int) ([]models.Subscription, error) {
	return s.subs, s.err
}

type stubPlans struct {
	mu    sync.Mutex
	plans map[string]*models.BillingPlan
}

func (s *stubPlans) Get(_ context.Context, id string) (*models.BillingPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("plan %s not found", id))
	}
	return plan, nil
}

type stubGateway struct {
	mu       sync.Mutex
	outcome  enums.PaymentOutcome
	errFor   map[string]error
	requests []gateway.PaymentRequest
}

func (s *stubGateway) InitiatePayment(_ context.Context, req gateway.PaymentRequest) (*gateway.PaymentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if err, ok := s.errFor[req.ReferenceID]; ok {
		return nil, err
	}
	return &gateway.PaymentResult{
		TransactionID: "txn-" + req.ReferenceID,
		Outcome:       s.outcome,
	}, nil
}

type appliedOutcome struct {
	subscriptionID uuid.UUID
	out            subscriptions.RenewalOutcome
}

type stubApplier struct {
	mu       sync.Mutex
	outcomes []appliedOutcome
	cancels  map[uuid.UUID]string
}

func (s *stubApplier) ProcessRenewalPaymentOutcome(_ context.Context, id uuid.UUID, out subscriptions.RenewalOutcome) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, appliedOutcome{subscriptionID: id, out: out})
	sub := &models.Subscription{ID: id, Status: enums.SubscriptionStatusActive}
	if out.Outcome == enums.PaymentOutcomeFailed {
		sub.Status = enums.SubscriptionStatusPastDue
	}
	return sub, nil
}

func (s *stubApplier) SystemCancel(_ context.Context, id uuid.UUID, reason string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancels == nil {
		s.cancels = map[uuid.UUID]string{}
	}
	s.cancels[id] = reason
	return &models.Subscription{ID: id, Status: enums.SubscriptionStatusSystemCanceled}, nil
}

func testPlan(id string, price string) *models.BillingPlan {
	return &models.BillingPlan{
		ID:            id,
		Name:          "Plan " + id,
		Status:        enums.PlanStatusActive,
		PriceAmount:   decimal.RequireFromString(price),
		CurrencyCode:  "USD",
		Interval:      enums.BillingIntervalMonth,
		IntervalCount: 1,
	}
}

func dueSubscription(planID string, status enums.SubscriptionStatus, methodID string) models.Subscription {
	sub := models.Subscription{
		ID:                 uuid.New(),
		UserID:             uuid.New(),
		PlanID:             planID,
		Status:             status,
		AutoRenew:          true,
		CurrentPeriodStart: time.Date(2026, time.July, 31, 12, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:   time.Date(2026, time.August, 31, 12, 0, 0, 0, time.UTC),
	}
	if methodID != "" {
		sub.StoredPaymentMethodID = &methodID
	}
	return sub
}

func newTestJob(t *testing.T, params JobParams) *job {
	t.Helper()
	params.Logger = logger.New(logger.Options{ServiceName: "renewals-test"})
	params.Workers = 1
	built, err := NewJob(params)
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	return built.(*job)
}

func TestJobRenewsDueSubscription(t *testing.T) {
	sub := dueSubscription("plan-basic", enums.SubscriptionStatusActive, "card-1")
	gw := &stubGateway{outcome: enums.PaymentOutcomeSucceeded}
	applier := &stubApplier{}
	j := newTestJob(t, JobParams{
		Repo:       &stubSource{subs: []models.Subscription{sub}},
		Plans:      &stubPlans{plans: map[string]*models.BillingPlan{"plan-basic": testPlan("plan-basic", "9.99")}},
		Gateway:    gw,
		Reconciler: applier,
	})

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(gw.requests) != 1 {
		t.Fatalf("expected 1 gateway charge, got %d", len(gw.requests))
	}
	req := gw.requests[0]
	if req.AmountCents != 999 {
		t.Fatalf("expected 999 cents, got %d", req.AmountCents)
	}
	if req.PaymentMethodID != "card-1" {
		t.Fatalf("expected stored method, got %q", req.PaymentMethodID)
	}
	if req.IdempotencyKey != renewalIdempotencyKey(sub) {
		t.Fatalf("unexpected idempotency key %q", req.IdempotencyKey)
	}
	if len(applier.outcomes) != 1 {
		t.Fatalf("expected 1 applied outcome, got %d", len(applier.outcomes))
	}
	applied := applier.outcomes[0]
	if applied.subscriptionID != sub.ID {
		t.Fatalf("outcome applied to wrong subscription")
	}
	if applied.out.Outcome != enums.PaymentOutcomeSucceeded || applied.out.TransactionID == "" {
		t.Fatalf("unexpected outcome %+v", applied.out)
	}
}

func TestJobTrialWithoutStoredMethodGoesPastDue(t *testing.T) {
	sub := dueSubscription("plan-basic", enums.SubscriptionStatusTrialing, "")
	gw := &stubGateway{outcome: enums.PaymentOutcomeSucceeded}
	applier := &stubApplier{}
	j := newTestJob(t, JobParams{
		Repo:       &stubSource{subs: []models.Subscription{sub}},
		Plans:      &stubPlans{plans: map[string]*models.BillingPlan{"plan-basic": testPlan("plan-basic", "9.99")}},
		Gateway:    gw,
		Reconciler: applier,
	})

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(gw.requests) != 0 {
		t.Fatalf("expected no gateway charge without a stored method, got %d", len(gw.requests))
	}
	if len(applier.outcomes) != 1 {
		t.Fatalf("expected 1 applied outcome, got %d", len(applier.outcomes))
	}
	if applier.outcomes[0].out.Outcome != enums.PaymentOutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", applier.outcomes[0].out.Outcome)
	}
}

func TestJobDeclinedCardGoesPastDue(t *testing.T) {
	sub := dueSubscription("plan-basic", enums.SubscriptionStatusActive, "card-dead")
	gw := &stubGateway{outcome: enums.PaymentOutcomeFailed}
	applier := &stubApplier{}
	j := newTestJob(t, JobParams{
		Repo:       &stubSource{subs: []models.Subscription{sub}},
		Plans:      &stubPlans{plans: map[string]*models.BillingPlan{"plan-basic": testPlan("plan-basic", "9.99")}},
		Gateway:    gw,
		Reconciler: applier,
	})

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(gw.requests) != 1 {
		t.Fatalf("expected 1 gateway charge, got %d", len(gw.requests))
	}
	if len(applier.outcomes) != 1 {
		t.Fatalf("declined charge must be applied as a failed outcome, got %d applications", len(applier.outcomes))
	}
	if applier.outcomes[0].out.Outcome != enums.PaymentOutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", applier.outcomes[0].out.Outcome)
	}
}

func TestJobSystemCancelsWhenPlanUnavailable(t *testing.T) {
	missing := dueSubscription("plan-gone", enums.SubscriptionStatusActive, "card-1")
	archivedPlan := testPlan("plan-archived", "9.99")
	archivedPlan.Status = enums.PlanStatusArchived
	onArchived := dueSubscription("plan-archived", enums.SubscriptionStatusActive, "card-1")

	gw := &stubGateway{outcome: enums.PaymentOutcomeSucceeded}
	applier := &stubApplier{}
	j := newTestJob(t, JobParams{
		Repo:       &stubSource{subs: []models.Subscription{missing, onArchived}},
		Plans:      &stubPlans{plans: map[string]*models.BillingPlan{"plan-archived": archivedPlan}},
		Gateway:    gw,
		Reconciler: applier,
	})

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(gw.requests) != 0 {
		t.Fatalf("expected no gateway charges, got %d", len(gw.requests))
	}
	if len(applier.cancels) != 2 {
		t.Fatalf("expected 2 system cancels, got %d", len(applier.cancels))
	}
	if reason := applier.cancels[missing.ID]; !strings.Contains(reason, "no longer exists") {
		t.Fatalf("unexpected cancel reason %q", reason)
	}
	if reason := applier.cancels[onArchived.ID]; !strings.Contains(reason, "archived") {
		t.Fatalf("unexpected cancel reason %q", reason)
	}
}

func TestJobIsolatesCandidateFailures(t *testing.T) {
	first := dueSubscription("plan-basic", enums.SubscriptionStatusActive, "card-1")
	broken := dueSubscription("plan-basic", enums.SubscriptionStatusActive, "card-2")
	last := dueSubscription("plan-basic", enums.SubscriptionStatusActive, "card-3")

	gw := &stubGateway{
		outcome: enums.PaymentOutcomeSucceeded,
		errFor:  map[string]error{broken.ID.String(): errors.New("gateway timeout")},
	}
	applier := &stubApplier{}
	j := newTestJob(t, JobParams{
		Repo:       &stubSource{subs: []models.Subscription{first, broken, last}},
		Plans:      &stubPlans{plans: map[string]*models.BillingPlan{"plan-basic": testPlan("plan-basic", "9.99")}},
		Gateway:    gw,
		Reconciler: applier,
	})

	err := j.Run(context.Background())
	if err == nil {
		t.Fatalf("expected aggregated error from failing candidate")
	}
	if !strings.Contains(err.Error(), broken.ID.String()) {
		t.Fatalf("error should name the failing subscription: %v", err)
	}
	if len(applier.outcomes) != 2 {
		t.Fatalf("expected the other 2 candidates to be settled, got %d", len(applier.outcomes))
	}
	for _, applied := range applier.outcomes {
		if applied.subscriptionID == broken.ID {
			t.Fatalf("failed candidate should not have an outcome applied")
		}
	}
}

func TestJobSkipsInconclusiveOutcomes(t *testing.T) {
	sub := dueSubscription("plan-basic", enums.SubscriptionStatusActive, "card-1")
	gw := &stubGateway{outcome: enums.PaymentOutcomePending}
	applier := &stubApplier{}
	j := newTestJob(t, JobParams{
		Repo:       &stubSource{subs: []models.Subscription{sub}},
		Plans:      &stubPlans{plans: map[string]*models.BillingPlan{"plan-basic": testPlan("plan-basic", "9.99")}},
		Gateway:    gw,
		Reconciler: applier,
	})

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(applier.outcomes) != 0 {
		t.Fatalf("inconclusive outcome must leave the row untouched, got %d applications", len(applier.outcomes))
	}
}

func TestJobFreePlanRenewsWithoutCharge(t *testing.T) {
	sub := dueSubscription("plan-free", enums.SubscriptionStatusActive, "")
	gw := &stubGateway{outcome: enums.PaymentOutcomeSucceeded}
	applier := &stubApplier{}
	j := newTestJob(t, JobParams{
		Repo:       &stubSource{subs: []models.Subscription{sub}},
		Plans:      &stubPlans{plans: map[string]*models.BillingPlan{"plan-free": testPlan("plan-free", "0")}},
		Gateway:    gw,
		Reconciler: applier,
	})

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(gw.requests) != 0 {
		t.Fatalf("free plan must not be charged, got %d requests", len(gw.requests))
	}
	if len(applier.outcomes) != 1 || applier.outcomes[0].out.Outcome != enums.PaymentOutcomeSucceeded {
		t.Fatalf("expected a zero-charge renewal, got %+v", applier.outcomes)
	}
}
