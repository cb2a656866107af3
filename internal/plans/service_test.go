package plans

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/subcycle-backend/pkg/db/models"
	"github.com/angelmondragon/subcycle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subcycle-backend/pkg/errors"
	"github.com/angelmondragon/subcycle-backend/pkg/logger"
	"github.com/angelmondragon/subcycle-backend/pkg/outbox"
)

func newPlansTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:plans_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	billingPlans := `
CREATE TABLE IF NOT EXISTS billing_plans (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  description TEXT,
  status TEXT NOT NULL DEFAULT 'active',
  price_amount NUMERIC NOT NULL,
  currency_code TEXT NOT NULL,
  interval TEXT NOT NULL,
  interval_count INTEGER NOT NULL DEFAULT 1,
  trial_days INTEGER NOT NULL DEFAULT 0,
  owner_app_id TEXT,
  gateway_price_id TEXT,
  features TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`
	outboxEvents := `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`
	for _, ddl := range []string{billingPlans, outboxEvents} {
		if err := db.Exec(ddl).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}
	return db
}

type testTxRunner struct {
	db *gorm.DB
}

func (r *testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	db := newPlansTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "plans-test"})
	svc, err := NewService(ServiceParams{
		Repo:              NewRepository(db),
		Outbox:            outbox.NewService(outbox.NewRepository(db), logg),
		TransactionRunner: &testTxRunner{db: db},
		Logger:            logg,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return svc, db
}

func validCreateInput() CreatePlanInput {
	return CreatePlanInput{
		Name:          "Pro Monthly",
		Description:   "Full access, billed monthly",
		PriceAmount:   decimal.RequireFromString("29.99"),
		CurrencyCode:  "usd",
		Interval:      "month",
		IntervalCount: 1,
		TrialDays:     14,
		Features:      []string{"priority-support", "unlimited-projects"},
	}
}

func eventTypes(t *testing.T, db *gorm.DB) []enums.OutboxEventType {
	t.Helper()
	var rows []models.OutboxEvent
	if err := db.Order("created_at ASC").Find(&rows).Error; err != nil {
		t.Fatalf("load outbox: %v", err)
	}
	types := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		types = append(types, row.EventType)
	}
	return types
}

func TestCreatePlan(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	plan, err := svc.Create(ctx, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(plan.ID, "plan_") {
		t.Fatalf("expected generated plan id, got %q", plan.ID)
	}
	if plan.Status != enums.PlanStatusActive {
		t.Fatalf("new plans must start active, got %s", plan.Status)
	}
	if plan.CurrencyCode != "USD" {
		t.Fatalf("currency should be upcased, got %q", plan.CurrencyCode)
	}
	if plan.Interval != enums.BillingIntervalMonth {
		t.Fatalf("unexpected interval %s", plan.Interval)
	}

	types := eventTypes(t, db)
	if len(types) != 1 || types[0] != enums.EventPlanCreated {
		t.Fatalf("expected one plan_created event, got %v", types)
	}
}

func TestCreatePlanDuplicateName(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, validCreateInput()); err != nil {
		t.Fatalf("create: %v", err)
	}
	input := validCreateInput()
	input.Name = "  Pro Monthly  "
	_, err := svc.Create(ctx, input)
	if !pkgerrors.HasCode(err, pkgerrors.CodeDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestCreatePlanRejectsBadInput(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	short := validCreateInput()
	short.Name = "x"
	if _, err := svc.Create(ctx, short); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("short name: expected validation error, got %v", err)
	}

	badCurrency := validCreateInput()
	badCurrency.CurrencyCode = "dollars"
	if _, err := svc.Create(ctx, badCurrency); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("bad currency: expected validation error, got %v", err)
	}

	negative := validCreateInput()
	negative.PriceAmount = decimal.RequireFromString("-1")
	if _, err := svc.Create(ctx, negative); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("negative price: expected validation error, got %v", err)
	}

	badCadence := validCreateInput()
	badCadence.Interval = "fortnight"
	if _, err := svc.Create(ctx, badCadence); !pkgerrors.HasCode(err, pkgerrors.CodeInvalidConfig) {
		t.Fatalf("bad cadence: expected invalid-config error, got %v", err)
	}

	badCount := validCreateInput()
	badCount.IntervalCount = 0
	if _, err := svc.Create(ctx, badCount); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("zero interval count: expected validation error, got %v", err)
	}
}

func TestUpdatePlan(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	plan, err := svc.Create(ctx, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	newPrice := decimal.RequireFromString("39.99")
	newTrial := 7
	updated, err := svc.Update(ctx, plan.ID, UpdatePlanInput{
		PriceAmount: &newPrice,
		TrialDays:   &newTrial,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.PriceAmount.Equal(newPrice) || updated.TrialDays != 7 {
		t.Fatalf("update not applied: %+v", updated)
	}

	// A no-op update emits nothing.
	before := len(eventTypes(t, db))
	if _, err := svc.Update(ctx, plan.ID, UpdatePlanInput{}); err != nil {
		t.Fatalf("noop update: %v", err)
	}
	if after := len(eventTypes(t, db)); after != before {
		t.Fatalf("noop update emitted events")
	}

	types := eventTypes(t, db)
	if types[len(types)-1] != enums.EventPlanUpdated {
		t.Fatalf("expected plan_updated event, got %v", types)
	}
}

func TestGetActiveByIDRejectsUnpurchasablePlan(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	plan, err := svc.Create(ctx, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Deactivate(ctx, plan.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	if _, err := svc.GetActiveByID(ctx, plan.ID); !pkgerrors.HasCode(err, pkgerrors.CodeActionNotAllowed) {
		t.Fatalf("expected action-not-allowed, got %v", err)
	}
	// Plain Get still works for internal callers.
	if _, err := svc.Get(ctx, plan.ID); err != nil {
		t.Fatalf("get: %v", err)
	}
}

func TestPlanStatusTransitions(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	plan, err := svc.Create(ctx, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Same-status transition is a quiet no-op.
	before := len(eventTypes(t, db))
	if _, err := svc.Activate(ctx, plan.ID); err != nil {
		t.Fatalf("activate active plan: %v", err)
	}
	if after := len(eventTypes(t, db)); after != before {
		t.Fatalf("same-status transition emitted events")
	}

	if _, err := svc.Deactivate(ctx, plan.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	reactivated, err := svc.Activate(ctx, plan.ID)
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if reactivated.Status != enums.PlanStatusActive {
		t.Fatalf("expected active, got %s", reactivated.Status)
	}

	if _, err := svc.Archive(ctx, plan.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := svc.Activate(ctx, plan.ID); !pkgerrors.HasCode(err, pkgerrors.CodeActionNotAllowed) {
		t.Fatalf("archived plans must stay archived, got %v", err)
	}
}

func TestGetMissingPlan(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	if _, err := svc.Get(context.Background(), "plan_missing"); !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
	if _, err := svc.Get(context.Background(), "  "); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for blank id, got %v", err)
	}
}

func TestListPlansFiltersByStatus(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second := validCreateInput()
	second.Name = "Starter Monthly"
	if _, err := svc.Create(ctx, second); err != nil {
		t.Fatalf("create second: %v", err)
	}
	if _, err := svc.Deactivate(ctx, first.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	active, err := svc.List(ctx, ListPlansQuery{ActiveOnly: true})
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].Name != "Starter Monthly" {
		t.Fatalf("unexpected active listing: %+v", active)
	}

	all, err := svc.List(ctx, ListPlansQuery{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(all))
	}
}
