package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/subcycle-backend/pkg/config"
	"github.com/angelmondragon/subcycle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subcycle-backend/pkg/errors"
	"github.com/angelmondragon/subcycle-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var (
	errAccessTokenRequired = errors.New("gateway access token is required")
	errLocationIDRequired  = errors.New("gateway location id is required")
	errInvalidGatewayEnv   = fmt.Errorf("gateway environment must be %q or %q", sandboxEnv, productionEnv)
	errLoggerRequired      = errors.New("gateway logger is required")
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

// SquareClient charges stored cards through Square with centralized auth,
// logging, idempotency, and error mapping.
type SquareClient struct {
	sdk         *sqclient.Client
	environment string
	locationID  string
	logger      *logger.Logger
}

var _ PaymentGateway = (*SquareClient)(nil)

// NewSquareClient initializes the Square wrapper and validates the credentials.
func NewSquareClient(ctx context.Context, cfg config.GatewayConfig, logg *logger.Logger) (*SquareClient, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	accessToken := strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		return nil, errAccessTokenRequired
	}
	locationID := strings.TrimSpace(cfg.LocationID)
	if locationID == "" {
		return nil, errLocationIDRequired
	}

	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURLs[env]),
		sqoption.WithToken(accessToken),
	)

	c := &SquareClient{
		sdk:         sdk,
		environment: env,
		locationID:  locationID,
		logger:      logg,
	}

	logg.Info(ctx, "square gateway initialized")
	return c, nil
}

// Environment reports the normalized gateway environment.
func (c *SquareClient) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// InitiatePayment charges the stored payment method and decodes the result.
func (c *SquareClient) InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	sqReq := c.toPaymentRequest(req)
	c.log(ctx, "request", "create_payment", map[string]any{
		"location_id":  c.locationID,
		"customer_id":  req.CustomerID,
		"amount":       req.AmountCents,
		"reference_id": req.ReferenceID,
	})

	resp, err := c.sdk.Payments.Create(ctx, sqReq)
	if err != nil {
		// A refused card comes back as an API error, not a payment object.
		// Declines are outcomes, not failures: the caller must see a failed
		// result so dunning kicks in instead of an endless retry.
		if result := declineResult(err); result != nil {
			c.log(ctx, "response", "create_payment", map[string]any{
				"status":       "DECLINED",
				"reference_id": req.ReferenceID,
			})
			return result, nil
		}
		c.log(ctx, "error", "create_payment", map[string]any{"error": err.Error()})
		return nil, c.mapSquareError(err, "create payment")
	}

	payment := resp.GetPayment()
	rawStatus := stringValue(payment.GetStatus())
	c.log(ctx, "response", "create_payment", map[string]any{
		"payment_id": stringValue(payment.GetID()),
		"status":     rawStatus,
	})

	return &PaymentResult{
		TransactionID: stringValue(payment.GetID()),
		Outcome:       DecodeOutcome(rawStatus),
	}, nil
}

func (c *SquareClient) toPaymentRequest(req PaymentRequest) *sq.CreatePaymentRequest {
	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)
	if idempotencyKey == "" {
		idempotencyKey = fmt.Sprintf("payment-%s", uuid.NewString())
	}
	out := &sq.CreatePaymentRequest{
		IdempotencyKey: idempotencyKey,
		LocationID:     ptrString(c.locationID),
		SourceID:       req.PaymentMethodID,
	}
	if trimmed := strings.TrimSpace(req.CustomerID); trimmed != "" {
		out.CustomerID = ptrString(trimmed)
	}
	if req.AmountCents > 0 {
		out.AmountMoney = moneyPtr(req.AmountCents, req.Currency)
	}
	if trimmed := strings.TrimSpace(req.Note); trimmed != "" {
		out.Note = ptrString(trimmed)
	}
	if trimmed := strings.TrimSpace(req.ReferenceID); trimmed != "" {
		out.ReferenceID = ptrString(trimmed)
	}
	return out
}

func (c *SquareClient) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("square %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("square %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"card", "nonce", "token", "cvv", "cvc", "secret", "email", "phone"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func (c *SquareClient) mapSquareError(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr *sqcore.APIError
	if errors.As(err, &apiErr) {
		return pkgerrors.Wrap(domainCodeForStatus(apiErr.StatusCode), err, fmt.Sprintf("square %s failed", op))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("square %s failed", op))
}

// declineResult translates a card refusal into a failed payment result.
// Returns nil when the error is not a decline.
func declineResult(err error) *PaymentResult {
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return nil
	}
	if !isPaymentDecline(apiErr) {
		return nil
	}
	return &PaymentResult{Outcome: enums.PaymentOutcomeFailed}
}

// isPaymentDecline reports whether the API error means the instrument was
// refused (402, or a PAYMENT_METHOD_ERROR category entry) rather than the
// request itself going wrong.
func isPaymentDecline(apiErr *sqcore.APIError) bool {
	if apiErr == nil {
		return false
	}
	if apiErr.StatusCode == http.StatusPaymentRequired {
		return true
	}
	for _, sqErr := range extractSquareErrors(apiErr) {
		if sqErr == nil {
			continue
		}
		if sqErr.Category == sq.ErrorCategoryPaymentMethodError {
			return true
		}
	}
	return false
}

func extractSquareErrors(apiErr *sqcore.APIError) []*sq.Error {
	if apiErr == nil {
		return nil
	}
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	raw := strings.TrimSpace(inner.Error())
	if raw == "" {
		return nil
	}
	var payload struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	return payload.Errors
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch {
	case status == http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case status >= 400 && status < 500:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeDependency
	}
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = sandboxEnv
	}
	switch env {
	case sandboxEnv, productionEnv:
		return env, nil
	default:
		return "", errInvalidGatewayEnv
	}
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func ptrString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}

func currencyPtr(code string) *sq.Currency {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		trimmed = "USD"
	}
	c := sq.Currency(trimmed)
	return &c
}

func moneyPtr(amount int64, currency string) *sq.Money {
	if amount == 0 {
		return nil
	}
	return &sq.Money{
		Amount:   int64Ptr(amount),
		Currency: currencyPtr(currency),
	}
}
