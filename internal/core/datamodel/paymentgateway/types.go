package paymentgateway

import (
	"errors"
	"strings"
)

// IntentObject is the subset of a processor payment intent carried inside
// webhook events. Fields outside this set are ignored.
type IntentObject struct {
	ID           string            `json:"id"`
	Object       string            `json:"object"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	ClientSecret string            `json:"client_secret"`
	Metadata     map[string]string `json:"metadata"`
}

func (o *IntentObject) Validate() error {
	if o.ID == "" {
		return errors.New("intent id is required")
	}
	if !strings.HasPrefix(o.ID, "pi_") {
		return errors.New("intent id has an unexpected prefix")
	}
	if o.Object != "" && o.Object != "payment_intent" {
		return errors.New("event object is not a payment intent")
	}
	if o.Amount <= 0 {
		return errors.New("amount must be greater than 0")
	}
	if o.Currency == "" {
		return errors.New("currency is required")
	}
	return nil
}

// RequestID returns the marketplace request the intent was minted for.
func (o *IntentObject) RequestID() string {
	if o.Metadata == nil {
		return ""
	}
	return o.Metadata["request_id"]
}
