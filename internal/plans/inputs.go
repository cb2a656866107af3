package plans

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/subcycle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subcycle-backend/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// CreatePlanInput captures the data required to create a billing plan.
type CreatePlanInput struct {
	ID             string          `json:"id"`
	Name           string          `json:"name" validate:"required,min=2,max=120"`
	Description    string          `json:"description" validate:"max=2000"`
	PriceAmount    decimal.Decimal `json:"price_amount"`
	CurrencyCode   string          `json:"currency_code" validate:"required,len=3,alpha"`
	Interval       string          `json:"interval" validate:"required"`
	IntervalCount  int             `json:"interval_count" validate:"min=1"`
	TrialDays      int             `json:"trial_days" validate:"min=0"`
	OwnerAppID     *uuid.UUID      `json:"owner_app_id"`
	GatewayPriceID string          `json:"gateway_price_id"`
	Features       []string        `json:"features" validate:"dive,min=1,max=200"`
}

// UpdatePlanInput carries optional field edits; nil means unchanged. Billing
// cadence is immutable after creation so existing period math stays valid.
type UpdatePlanInput struct {
	Name           *string          `json:"name" validate:"omitempty,min=2,max=120"`
	Description    *string          `json:"description" validate:"omitempty,max=2000"`
	PriceAmount    *decimal.Decimal `json:"price_amount"`
	TrialDays      *int             `json:"trial_days" validate:"omitempty,min=0"`
	GatewayPriceID *string          `json:"gateway_price_id"`
	Features       *[]string        `json:"features" validate:"omitempty,dive,min=1,max=200"`
}

func validateStruct(input any) error {
	if err := validate.Struct(input); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) *pkgerrors.Error {
	if errs, ok := err.(validator.ValidationErrors); ok {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = validationMessage(fieldErr)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "alpha":
		return "must contain only letters"
	}
	return "is invalid"
}

func (in CreatePlanInput) validate() (enums.BillingInterval, error) {
	if err := validateStruct(in); err != nil {
		return "", err
	}
	if in.PriceAmount.IsNegative() {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "price_amount must not be negative")
	}
	interval, err := enums.ParseBillingInterval(strings.ToUpper(strings.TrimSpace(in.Interval)))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInvalidConfig, err, "invalid billing cadence")
	}
	return interval, nil
}

func (in UpdatePlanInput) validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if in.PriceAmount != nil && in.PriceAmount.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "price_amount must not be negative")
	}
	return nil
}
