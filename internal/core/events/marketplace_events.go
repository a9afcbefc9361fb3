package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeRequestAccepted  = "request.accepted"
	EventTypePaymentSucceeded = "payment.succeeded"
	EventTypePaymentFailed    = "payment.failed"
)

type RequestAcceptedEvent struct {
	BaseEvent
	RequestID   string `json:"request_id"`
	ClientID    string `json:"client_id"`
	ProviderID  string `json:"provider_id"`
	ServiceName string `json:"service_name"`
}

func NewRequestAcceptedEvent(requestID, clientID, providerID, serviceName string) *RequestAcceptedEvent {
	return &RequestAcceptedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeRequestAccepted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"request_id":   requestID,
				"client_id":    clientID,
				"provider_id":  providerID,
				"service_name": serviceName,
			},
		},
		RequestID:   requestID,
		ClientID:    clientID,
		ProviderID:  providerID,
		ServiceName: serviceName,
	}
}

type PaymentSucceededEvent struct {
	BaseEvent
	RequestID       string `json:"request_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Channel         string `json:"channel"`
}

func NewPaymentSucceededEvent(requestID, intentID string, amount int64, currency, channel string) *PaymentSucceededEvent {
	return &PaymentSucceededEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentSucceeded,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"request_id":        requestID,
				"payment_intent_id": intentID,
				"amount":            amount,
				"currency":          currency,
				"channel":           channel,
			},
		},
		RequestID:       requestID,
		PaymentIntentID: intentID,
		Amount:          amount,
		Currency:        currency,
		Channel:         channel,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	RequestID       string `json:"request_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	Status          string `json:"status"`
	Channel         string `json:"channel"`
}

func NewPaymentFailedEvent(requestID, intentID, status, channel string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"request_id":        requestID,
				"payment_intent_id": intentID,
				"status":            status,
				"channel":           channel,
			},
		},
		RequestID:       requestID,
		PaymentIntentID: intentID,
		Status:          status,
		Channel:         channel,
	}
}
