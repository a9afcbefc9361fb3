package paymentgateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/frahmantamala/service-marketplace/internal"
	paymentgatewaytypes "github.com/frahmantamala/service-marketplace/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/service-marketplace/internal/payment"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"
)

type Config struct {
	SecretKey         string
	WebhookSecret     string
	Timeout           time.Duration
	MaxNetworkRetries int64
}

// Client is the Stripe implementation of payment.Processor.
type Client struct {
	intents       paymentintent.Client
	webhookSecret string
	logger        *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := config.MaxNetworkRetries
	if retries <= 0 {
		retries = 2
	}

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(retries),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	})

	return &Client{
		intents:       paymentintent.Client{B: backend, Key: config.SecretKey},
		webhookSecret: config.WebhookSecret,
		logger:        logger,
	}
}

func (c *Client) CreateIntent(ctx context.Context, p payment.CreateIntentParams) (*payment.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(p.Amount),
		Currency: stripe.String(p.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	if p.Destination != "" {
		params.TransferData = &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(p.Destination),
		}
		if p.ApplicationFee > 0 {
			params.ApplicationFeeAmount = stripe.Int64(p.ApplicationFee)
		}
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	pi, err := c.intents.New(params)
	if err != nil {
		c.logger.Error("stripe create intent failed", "error", err, "amount", p.Amount, "currency", p.Currency)
		return nil, mapError(err)
	}

	c.logger.Debug("stripe intent created", "payment_intent_id", pi.ID, "status", pi.Status)
	return fromStripe(pi), nil
}

func (c *Client) RetrieveIntent(ctx context.Context, intentID string) (*payment.Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := c.intents.Get(intentID, params)
	if err != nil {
		c.logger.Warn("stripe retrieve intent failed", "error", err, "payment_intent_id", intentID)
		return nil, mapError(err)
	}
	return fromStripe(pi), nil
}

// CancelIntent abandons an intent so it can no longer be confirmed.
func (c *Client) CancelIntent(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String("abandoned"),
	}
	params.Context = ctx

	if _, err := c.intents.Cancel(intentID, params); err != nil {
		c.logger.Warn("stripe cancel intent failed", "error", err, "payment_intent_id", intentID)
		return mapError(err)
	}
	c.logger.Debug("stripe intent canceled", "payment_intent_id", intentID)
	return nil
}

// VerifyWebhook checks the Stripe-Signature header and decodes payment
// intent events. Other event types come back with a nil Intent.
func (c *Client) VerifyWebhook(payload []byte, signatureHeader string) (*payment.WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, c.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		if isSignatureError(err) {
			return nil, internal.ErrSignatureInvalid.WithCause(err)
		}
		return nil, internal.NewValidationError("malformed webhook payload", internal.ErrCodeInvalidPayload).WithCause(err)
	}

	evt := &payment.WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if !strings.HasPrefix(evt.Type, "payment_intent.") {
		return evt, nil
	}
	if event.Data == nil {
		return nil, internal.NewValidationError("webhook event has no data", internal.ErrCodeInvalidPayload)
	}

	var obj paymentgatewaytypes.IntentObject
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return nil, internal.NewValidationError("malformed payment intent in webhook", internal.ErrCodeInvalidPayload).WithCause(err)
	}
	if err := obj.Validate(); err != nil {
		return nil, internal.NewValidationError(err.Error(), internal.ErrCodeInvalidPayload)
	}

	evt.Intent = &payment.Intent{
		ID:           obj.ID,
		Amount:       obj.Amount,
		Currency:     strings.ToLower(obj.Currency),
		Status:       obj.Status,
		ClientSecret: obj.ClientSecret,
		Metadata:     obj.Metadata,
	}
	return evt, nil
}

func fromStripe(pi *stripe.PaymentIntent) *payment.Intent {
	return &payment.Intent{
		ID:           pi.ID,
		Amount:       pi.Amount,
		Currency:     strings.ToLower(string(pi.Currency)),
		Status:       string(pi.Status),
		ClientSecret: pi.ClientSecret,
		Metadata:     pi.Metadata,
	}
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

// mapError sorts Stripe failures into retryable and permanent ones. Errors
// that never reached Stripe are treated as an outage.
func mapError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return internal.ErrProcessorUnavailable.WithCause(err)
	}

	switch {
	case se.Code == stripe.ErrorCodeResourceMissing:
		return internal.ErrIntentNotFound.WithCause(err)
	case se.HTTPStatusCode >= http.StatusInternalServerError,
		se.HTTPStatusCode == http.StatusTooManyRequests,
		se.Type == stripe.ErrorTypeAPI:
		return internal.ErrProcessorUnavailable.WithCause(err)
	case se.Param == "currency", strings.Contains(strings.ToLower(se.Msg), "currency"):
		return internal.ErrUnsupportedCurrency.WithCause(err)
	}
	return internal.ErrProcessorRejected.WithCause(err)
}
