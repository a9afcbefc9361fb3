package projection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/frahmantamala/service-marketplace/internal"
	"github.com/frahmantamala/service-marketplace/internal/payment"
	"github.com/frahmantamala/service-marketplace/internal/request"
)

// RemoteAPI is the marketplace API as seen by a signed-in client.
type RemoteAPI interface {
	ListRequests(ctx context.Context) ([]*request.Request, error)
	GetRequest(ctx context.Context, id string) (*request.Request, error)
	Accept(ctx context.Context, id string) (*request.Request, error)
	Reject(ctx context.Context, id, reason string) (*request.Request, error)
	SetPrice(ctx context.Context, id string, amount int64, currency string) (*request.Request, error)
	Cancel(ctx context.Context, id string) (*request.Request, error)
	Delete(ctx context.Context, id string) error
	CreatePaymentIntent(ctx context.Context, id string) (*payment.IntentResult, error)
	ConfirmPayment(ctx context.Context, id, intentID string) (*payment.Outcome, error)
}

// TokenSource returns the bearer token for the next call.
type TokenSource func(ctx context.Context) (string, error)

type HTTPClient struct {
	baseURL string
	token   TokenSource
	client  *http.Client
}

func NewHTTPClient(baseURL string, token TokenSource, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) ListRequests(ctx context.Context) ([]*request.Request, error) {
	var out request.ListResponse
	if err := c.do(ctx, http.MethodGet, "/requests?limit=100", nil, &out); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

func (c *HTTPClient) GetRequest(ctx context.Context, id string) (*request.Request, error) {
	var out request.Request
	if err := c.do(ctx, http.MethodGet, "/requests/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Accept(ctx context.Context, id string) (*request.Request, error) {
	return c.transition(ctx, http.MethodPatch, id, "accept", nil)
}

func (c *HTTPClient) Reject(ctx context.Context, id, reason string) (*request.Request, error) {
	var body interface{}
	if reason != "" {
		body = request.RejectRequestDTO{Reason: reason}
	}
	return c.transition(ctx, http.MethodPatch, id, "reject", body)
}

func (c *HTTPClient) SetPrice(ctx context.Context, id string, amount int64, currency string) (*request.Request, error) {
	return c.transition(ctx, http.MethodPut, id, "price", request.SetPriceDTO{Amount: amount, Currency: currency})
}

func (c *HTTPClient) Cancel(ctx context.Context, id string) (*request.Request, error) {
	return c.transition(ctx, http.MethodPatch, id, "cancel", nil)
}

func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/requests/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) CreatePaymentIntent(ctx context.Context, id string) (*payment.IntentResult, error) {
	var out payment.IntentResult
	if err := c.do(ctx, http.MethodPost, "/payments/intent", payment.CreateIntentDTO{RequestID: id}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ConfirmPayment(ctx context.Context, id, intentID string) (*payment.Outcome, error) {
	var out payment.Outcome
	dto := payment.ConfirmPaymentDTO{RequestID: id, PaymentIntentID: intentID}
	if err := c.do(ctx, http.MethodPost, "/payments/confirm", dto, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) transition(ctx context.Context, method, id, action string, body interface{}) (*request.Request, error) {
	var out request.Request
	if err := c.do(ctx, method, "/requests/"+url.PathEscape(id)+"/"+action, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return fmt.Errorf("failed to get access token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError rebuilds the server's AppError so callers can match it with
// errors.Is against the usual sentinels.
func decodeError(resp *http.Response) error {
	var envelope struct {
		Error struct {
			Type    internal.ErrorType `json:"type"`
			Code    internal.ErrorCode `json:"code"`
			Message string             `json:"message"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error.Code == "" {
		return fmt.Errorf("marketplace API returned status %d", resp.StatusCode)
	}
	return &internal.AppError{
		Type:       envelope.Error.Type,
		Code:       envelope.Error.Code,
		Message:    envelope.Error.Message,
		StatusCode: resp.StatusCode,
	}
}
