package payment

import (
	"context"
	"strings"
	"time"

	"github.com/frahmantamala/service-marketplace/internal/request"
)

// Processor intent statuses.
const (
	IntentStatusRequiresPaymentMethod = "requires_payment_method"
	IntentStatusRequiresConfirmation  = "requires_confirmation"
	IntentStatusRequiresAction        = "requires_action"
	IntentStatusRequiresCapture       = "requires_capture"
	IntentStatusProcessing            = "processing"
	IntentStatusSucceeded             = "succeeded"
	IntentStatusCanceled              = "canceled"
)

// Webhook event types the reconciler acts on. Anything else is acknowledged
// and dropped.
const (
	EventIntentSucceeded  = "payment_intent.succeeded"
	EventIntentFailed     = "payment_intent.payment_failed"
	EventIntentCanceled   = "payment_intent.canceled"
	EventIntentProcessing = "payment_intent.processing"
)

// Intent metadata keys written at mint time.
const (
	MetaRequestID        = "request_id"
	MetaClientID         = "client_id"
	MetaProviderID       = "provider_id"
	MetaOriginalCurrency = "original_currency"
)

// Reconciliation channels, recorded on ledger entries and events.
const (
	ChannelBroker  = "broker"
	ChannelConfirm = "confirm"
	ChannelWebhook = "webhook"
	ChannelRepair  = "repair"
)

// Intent is a processor payment intent as the marketplace sees it.
type Intent struct {
	ID           string            `json:"id"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	ClientSecret string            `json:"-"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// RequestID returns the request the intent was minted for, or "".
func (i *Intent) RequestID() string {
	if i == nil || i.Metadata == nil {
		return ""
	}
	return i.Metadata[MetaRequestID]
}

type CreateIntentParams struct {
	Amount   int64
	Currency string
	Metadata map[string]string
	// Destination, when set, turns the charge into a destination transfer
	// with ApplicationFee kept by the platform.
	Destination    string
	ApplicationFee int64
	IdempotencyKey string
}

// WebhookEvent is a verified processor event. Intent is nil for event types
// that do not carry a payment intent.
type WebhookEvent struct {
	ID     string
	Type   string
	Intent *Intent
}

// Processor is the payment processor boundary. Implementations map their
// failures onto internal.ErrIntentNotFound, ErrProcessorUnavailable,
// ErrUnsupportedCurrency, ErrProcessorRejected and ErrSignatureInvalid.
type Processor interface {
	CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
	VerifyWebhook(payload []byte, signatureHeader string) (*WebhookEvent, error)
}

// PayoutDirectory resolves a provider's payout destination; "" means the
// provider has none and the charge stays on the platform account.
type PayoutDirectory interface {
	PayoutDestination(ctx context.Context, providerID string) (string, error)
}

// RequestStore is the part of the request repository payments write through.
type RequestStore interface {
	GetByID(ctx context.Context, id string) (*request.Request, error)
	AttachIntent(ctx context.Context, requestID, intentID, paymentStatus string) error
	ApplySettlement(ctx context.Context, requestID, intentID string, paidAt time.Time) error
	ApplySettlementPaymentOnly(ctx context.Context, requestID, intentID string, paidAt time.Time) error
	ApplyPaymentStatus(ctx context.Context, requestID, intentID, paymentStatus string) error
	ListSettledIncomplete(ctx context.Context, limit int) ([]*request.Request, error)
}

type LedgerEntry struct {
	PaymentIntentID  string                 `json:"payment_intent_id"`
	RequestID        string                 `json:"request_id"`
	ClientID         string                 `json:"client_id"`
	ProviderID       string                 `json:"provider_id"`
	Amount           int64                  `json:"amount"`
	Currency         string                 `json:"currency"`
	OriginalCurrency string                 `json:"original_currency,omitempty"`
	Status           string                 `json:"status"`
	PlatformFee      int64                  `json:"platform_fee"`
	// RefundRequired marks money collected on an intent the request no
	// longer accepts. Once set it stays set.
	RefundRequired   bool                   `json:"refund_required"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// LedgerRepository stores one row per intent. Upsert never duplicates and
// never moves a succeeded row back to another status.
type LedgerRepository interface {
	Upsert(ctx context.Context, entry *LedgerEntry) error
	GetByIntentID(ctx context.Context, intentID string) (*LedgerEntry, error)
	ListByRequest(ctx context.Context, requestID string) ([]*LedgerEntry, error)
}

// PaymentStatusFor collapses a processor intent status onto the request's
// payment status.
func PaymentStatusFor(intentStatus string) string {
	switch intentStatus {
	case IntentStatusSucceeded:
		return request.PaymentStatusSucceeded
	case IntentStatusProcessing, IntentStatusRequiresCapture:
		return request.PaymentStatusProcessing
	case IntentStatusCanceled:
		return request.PaymentStatusCanceled
	default:
		return request.PaymentStatusUnpaid
	}
}

// PaymentStatusForEvent maps a webhook event type to a payment status. ok is
// false for event types the reconciler ignores.
func PaymentStatusForEvent(eventType string) (status string, ok bool) {
	switch eventType {
	case EventIntentSucceeded:
		return request.PaymentStatusSucceeded, true
	case EventIntentFailed:
		return request.PaymentStatusFailed, true
	case EventIntentCanceled:
		return request.PaymentStatusCanceled, true
	case EventIntentProcessing:
		return request.PaymentStatusProcessing, true
	}
	return "", false
}

// reusable reports whether an existing intent can still collect the
// request's current price.
func reusable(intent *Intent, amount int64, currency string) bool {
	if intent.Status == IntentStatusSucceeded || intent.Status == IntentStatusCanceled {
		return false
	}
	return intent.Amount == amount && strings.EqualFold(intent.Currency, currency)
}

// cancelable reports whether the processor still accepts a cancel for the
// intent.
func cancelable(intent *Intent) bool {
	return intent.Status != IntentStatusSucceeded && intent.Status != IntentStatusCanceled
}

// settles reports whether a successful intent pays for the request as it
// stands: the intent is the one on file (or none is) and it charged the
// current price. Anything else is money to hand back.
func settles(req *request.Request, intent *Intent) bool {
	if req.HasIntent() && *req.PaymentIntentID != intent.ID {
		return false
	}
	if !req.IsPriced() {
		return false
	}
	return *req.PriceAmount == intent.Amount && strings.EqualFold(*req.Currency, intent.Currency)
}

// platformFee is floor(amount*percent/100) with a one minor unit floor.
func platformFee(amount, percent int64) int64 {
	if percent <= 0 {
		return 0
	}
	fee := amount * percent / 100
	if fee < 1 {
		fee = 1
	}
	return fee
}
