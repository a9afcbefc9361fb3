package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/service-marketplace/internal"
	"github.com/frahmantamala/service-marketplace/internal/request"
)

type IntentResult struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Status          string `json:"status"`
	Reused          bool   `json:"reused"`
}

// Broker hands the client an intent it can confirm against the request's
// current price, reusing the one on file whenever the processor still
// considers it payable.
type Broker struct {
	requests   RequestStore
	ledger     LedgerRepository
	processor  Processor
	payouts    PayoutDirectory
	currency   *request.CurrencyPolicy
	feePercent int64
	logger     *slog.Logger
	now        func() time.Time
}

func NewBroker(requests RequestStore, ledger LedgerRepository, processor Processor, payouts PayoutDirectory, currency *request.CurrencyPolicy, feePercent int64, logger *slog.Logger) *Broker {
	return &Broker{
		requests:   requests,
		ledger:     ledger,
		processor:  processor,
		payouts:    payouts,
		currency:   currency,
		feePercent: feePercent,
		logger:     logger,
		now:        time.Now,
	}
}

// GetOrCreatePaymentIntent returns a payable intent for the request. When
// expectedClientID is non-empty the request must belong to that client.
func (b *Broker) GetOrCreatePaymentIntent(ctx context.Context, requestID, expectedClientID string) (*IntentResult, error) {
	req, err := b.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if expectedClientID != "" && !req.IsClient(expectedClientID) {
		b.logger.Warn("intent requested by non-client", "request_id", requestID, "caller_id", expectedClientID)
		return nil, internal.ErrUnauthorizedAccess
	}
	if req.IsPaid() {
		return nil, internal.ErrInvalidTransition.WithMessage("request is already paid")
	}
	if req.Status != request.StatusAccepted {
		return nil, internal.ErrInvalidTransition.WithMessage(fmt.Sprintf("cannot pay a %s request", req.Status))
	}
	if !req.IsPriced() {
		return nil, internal.ErrInvalidTransition.WithMessage("price must be set before payment")
	}

	amount, currency := *req.PriceAmount, *req.Currency
	if !b.currency.Supports(currency) {
		b.logger.Warn("request priced in unsupported currency", "request_id", requestID, "currency", currency)
		return nil, internal.ErrUnsupportedCurrency
	}

	var previous string
	var stale *Intent
	if req.HasIntent() {
		previous = *req.PaymentIntentID
		result, existing, err := b.reuse(ctx, req, previous, amount, currency)
		if err != nil || result != nil {
			return result, err
		}
		stale = existing
	}

	result, err := b.mint(ctx, req, previous, amount, currency)
	if err != nil {
		return nil, err
	}
	if stale != nil && cancelable(stale) {
		b.cancelSuperseded(ctx, req, stale.ID)
	}
	return result, nil
}

// reuse returns a nil result when the intent on file cannot be reused and a
// new one should be minted. The intent on file is returned alongside so the
// caller can cancel it once it is superseded; it is nil if the processor no
// longer knows it.
func (b *Broker) reuse(ctx context.Context, req *request.Request, intentID string, amount int64, currency string) (*IntentResult, *Intent, error) {
	intent, err := b.processor.RetrieveIntent(ctx, intentID)
	switch {
	case errors.Is(err, internal.ErrIntentNotFound):
		b.logger.Info("intent on file no longer exists at processor, minting a new one",
			"request_id", req.ID,
			"payment_intent_id", intentID)
		return nil, nil, nil
	case err != nil:
		b.logger.Error("failed to retrieve intent on file", "error", err, "request_id", req.ID, "payment_intent_id", intentID)
		return nil, nil, err
	}

	if intent.Status == IntentStatusSucceeded && settles(req, intent) {
		// Paid at the current price; reconciliation has not caught up yet.
		b.logger.Info("intent on file already succeeded",
			"request_id", req.ID,
			"payment_intent_id", intent.ID)
		return nil, nil, internal.ErrInvalidTransition.WithMessage("payment already received, awaiting reconciliation")
	}

	if !reusable(intent, amount, currency) {
		b.logger.Info("intent on file is stale, minting a new one",
			"request_id", req.ID,
			"payment_intent_id", intent.ID,
			"intent_status", intent.Status,
			"intent_amount", intent.Amount,
			"intent_currency", intent.Currency,
			"amount", amount,
			"currency", currency)
		return nil, intent, nil
	}

	b.logger.Info("reusing payment intent", "request_id", req.ID, "payment_intent_id", intent.ID)
	return &IntentResult{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
		Status:          intent.Status,
		Reused:          true,
	}, nil, nil
}

// cancelSuperseded closes an intent the request no longer points at. A
// failure is logged only: a payment that still lands on it is flagged for
// refund when it is reconciled.
func (b *Broker) cancelSuperseded(ctx context.Context, req *request.Request, intentID string) {
	err := b.processor.CancelIntent(ctx, intentID)
	switch {
	case err == nil:
		b.logger.Info("superseded intent canceled", "request_id", req.ID, "payment_intent_id", intentID)
	case errors.Is(err, internal.ErrIntentNotFound):
		// already gone
	default:
		b.logger.Warn("failed to cancel superseded intent", "error", err, "request_id", req.ID, "payment_intent_id", intentID)
	}
}

func (b *Broker) mint(ctx context.Context, req *request.Request, previous string, amount int64, currency string) (*IntentResult, error) {
	original := currency
	if req.OriginalCurrency != nil && *req.OriginalCurrency != "" {
		original = *req.OriginalCurrency
	}

	params := CreateIntentParams{
		Amount:   amount,
		Currency: currency,
		Metadata: map[string]string{
			MetaRequestID:        req.ID,
			MetaClientID:         req.ClientID,
			MetaProviderID:       req.ProviderID,
			MetaOriginalCurrency: original,
		},
		// Retries of the same mint collapse onto one intent at the processor.
		IdempotencyKey: fmt.Sprintf("intent:%s:%d:%s:%s", req.ID, amount, currency, previous),
	}

	if b.payouts != nil {
		destination, err := b.payouts.PayoutDestination(ctx, req.ProviderID)
		if err != nil {
			b.logger.Error("failed to resolve payout destination", "error", err, "provider_id", req.ProviderID)
			return nil, fmt.Errorf("resolve payout destination: %w", err)
		}
		if destination != "" {
			params.Destination = destination
			params.ApplicationFee = platformFee(amount, b.feePercent)
		}
	}

	intent, err := b.processor.CreateIntent(ctx, params)
	if err != nil {
		b.logger.Error("failed to create payment intent",
			"error", err,
			"request_id", req.ID,
			"amount", amount,
			"currency", currency)
		return nil, err
	}

	paymentStatus := PaymentStatusFor(intent.Status)
	if err := b.requests.AttachIntent(ctx, req.ID, intent.ID, paymentStatus); err != nil {
		b.logger.Error("failed to attach intent to request", "error", err, "request_id", req.ID, "payment_intent_id", intent.ID)
		return nil, err
	}

	now := b.now()
	entry := &LedgerEntry{
		PaymentIntentID:  intent.ID,
		RequestID:        req.ID,
		ClientID:         req.ClientID,
		ProviderID:       req.ProviderID,
		Amount:           intent.Amount,
		Currency:         intent.Currency,
		OriginalCurrency: original,
		Status:           paymentStatus,
		PlatformFee:      params.ApplicationFee,
		Metadata: map[string]interface{}{
			"channel":     ChannelBroker,
			"destination": params.Destination,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := b.ledger.Upsert(ctx, entry); err != nil {
		// The request row already points at the intent, so the first
		// reconciliation will write the entry.
		b.logger.Error("failed to record ledger entry for new intent", "error", err, "payment_intent_id", intent.ID)
	}

	b.logger.Info("payment intent created",
		"request_id", req.ID,
		"payment_intent_id", intent.ID,
		"amount", intent.Amount,
		"currency", intent.Currency,
		"original_currency", original,
		"platform_fee", params.ApplicationFee,
		"superseded", previous)

	return &IntentResult{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
		Status:          intent.Status,
	}, nil
}
