package plans

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/subcycle-backend/pkg/db/models"
	"github.com/angelmondragon/subcycle-backend/pkg/enums"
)

// Repository handles billing plan persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, plan *models.BillingPlan) error
	Update(ctx context.Context, plan *models.BillingPlan) error
	FindByID(ctx context.Context, id string) (*models.BillingPlan, error)
	FindByName(ctx context.Context, name string) (*models.BillingPlan, error)
	List(ctx context.Context, query ListPlansQuery) ([]models.BillingPlan, error)
}

// ListPlansQuery configures plan list queries.
type ListPlansQuery struct {
	Status     *enums.PlanStatus
	ActiveOnly bool
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a plan repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, plan *models.BillingPlan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *repository) Update(ctx context.Context, plan *models.BillingPlan) error {
	return r.db.WithContext(ctx).Save(plan).Error
}

func (r *repository) FindByID(ctx context.Context, id string) (*models.BillingPlan, error) {
	if id == "" {
		return nil, nil
	}
	var plan models.BillingPlan
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&plan).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) FindByName(ctx context.Context, name string) (*models.BillingPlan, error) {
	if name == "" {
		return nil, nil
	}
	var plan models.BillingPlan
	if err := r.db.WithContext(ctx).
		Where("name = ?", name).
		First(&plan).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) List(ctx context.Context, query ListPlansQuery) ([]models.BillingPlan, error) {
	q := r.db.WithContext(ctx).Model(&models.BillingPlan{})
	if query.ActiveOnly {
		q = q.Where("status = ?", enums.PlanStatusActive)
	} else if query.Status != nil {
		q = q.Where("status = ?", *query.Status)
	}

	var plans []models.BillingPlan
	if err := q.Order("name ASC").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}
