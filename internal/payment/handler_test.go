package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/frahmantamala/service-marketplace/internal"
	"github.com/frahmantamala/service-marketplace/internal/payment"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type stubBroker struct {
	result   *payment.IntentResult
	err      error
	callerID string
}

func (s *stubBroker) GetOrCreatePaymentIntent(ctx context.Context, requestID, expectedClientID string) (*payment.IntentResult, error) {
	s.callerID = expectedClientID
	return s.result, s.err
}

type stubReconciler struct {
	outcome    *payment.Outcome
	err        error
	payload    []byte
	signature  string
	confirmArg [3]string
}

func (s *stubReconciler) ConfirmPayment(ctx context.Context, requestID, intentID, callerID string) (*payment.Outcome, error) {
	s.confirmArg = [3]string{requestID, intentID, callerID}
	return s.outcome, s.err
}

func (s *stubReconciler) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*payment.Outcome, error) {
	s.payload = payload
	s.signature = signatureHeader
	return s.outcome, s.err
}

type stubLedger struct {
	entry *payment.LedgerEntry
}

func (s *stubLedger) Upsert(ctx context.Context, entry *payment.LedgerEntry) error { return nil }

func (s *stubLedger) GetByIntentID(ctx context.Context, intentID string) (*payment.LedgerEntry, error) {
	if s.entry == nil || s.entry.PaymentIntentID != intentID {
		return nil, internal.ErrIntentNotFound
	}
	return s.entry, nil
}

func (s *stubLedger) ListByRequest(ctx context.Context, requestID string) ([]*payment.LedgerEntry, error) {
	return nil, nil
}

var _ = Describe("Payment Handler", func() {
	var (
		broker     *stubBroker
		reconciler *stubReconciler
		ledger     *stubLedger
		router     *chi.Mux
	)

	BeforeEach(func() {
		broker = &stubBroker{}
		reconciler = &stubReconciler{}
		ledger = &stubLedger{}
		handler := payment.NewHandler(broker, reconciler, ledger)

		router = chi.NewRouter()
		router.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if uid := r.Header.Get("X-Test-User"); uid != "" {
					r = r.WithContext(internal.ContextWithUserID(r.Context(), uid))
				}
				next.ServeHTTP(w, r)
			})
		})
		router.Post("/payments/intent", handler.CreateIntent)
		router.Post("/payments/confirm", handler.ConfirmPayment)
		router.Post("/payments/webhook", handler.HandleWebhook)
		router.Get("/payments/ledger/{intentId}", handler.GetLedgerEntry)
	})

	do := func(method, path, user string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		if user != "" {
			req.Header.Set("X-Test-User", user)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	errorCode := func(rec *httptest.ResponseRecorder) string {
		var body struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		return body.Error.Code
	}

	Describe("POST /payments/intent", func() {
		It("returns the broker result for the caller", func() {
			broker.result = &payment.IntentResult{PaymentIntentID: "pi_1", ClientSecret: "pi_1_secret", Amount: 5000, Currency: "usd"}

			rec := do(http.MethodPost, "/payments/intent", "client-1", []byte(`{"request_id":"req-1"}`), nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(broker.callerID).To(Equal("client-1"))

			var got payment.IntentResult
			Expect(json.Unmarshal(rec.Body.Bytes(), &got)).To(Succeed())
			Expect(got.ClientSecret).To(Equal("pi_1_secret"))
		})

		It("requires authentication", func() {
			rec := do(http.MethodPost, "/payments/intent", "", []byte(`{"request_id":"req-1"}`), nil)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("validates the body", func() {
			rec := do(http.MethodPost, "/payments/intent", "client-1", []byte(`{}`), nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("maps processor outages to 503", func() {
			broker.err = internal.ErrProcessorUnavailable
			rec := do(http.MethodPost, "/payments/intent", "client-1", []byte(`{"request_id":"req-1"}`), nil)
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(errorCode(rec)).To(Equal(string(internal.ErrCodeProcessorUnavailable)))
		})

		It("maps unsupported currencies to 422", func() {
			broker.err = internal.ErrUnsupportedCurrency
			rec := do(http.MethodPost, "/payments/intent", "client-1", []byte(`{"request_id":"req-1"}`), nil)
			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
		})
	})

	Describe("POST /payments/confirm", func() {
		It("returns the reconciled status", func() {
			reconciler.outcome = &payment.Outcome{RequestID: "req-1", PaymentIntentID: "pi_1", PaymentStatus: "succeeded", RequestStatus: "completed"}

			rec := do(http.MethodPost, "/payments/confirm", "client-1", []byte(`{"request_id":"req-1","payment_intent_id":"pi_1"}`), nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(reconciler.confirmArg).To(Equal([3]string{"req-1", "pi_1", "client-1"}))

			var got map[string]interface{}
			Expect(json.Unmarshal(rec.Body.Bytes(), &got)).To(Succeed())
			Expect(got["status"]).To(Equal("succeeded"))
		})

		It("requires the intent id", func() {
			rec := do(http.MethodPost, "/payments/confirm", "client-1", []byte(`{"request_id":"req-1"}`), nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("maps intent mismatches to 403", func() {
			reconciler.err = internal.ErrIntentMismatch
			rec := do(http.MethodPost, "/payments/confirm", "client-1", []byte(`{"request_id":"req-1","payment_intent_id":"pi_1"}`), nil)
			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})
	})

	Describe("POST /payments/webhook", func() {
		It("passes the raw body and signature through and acknowledges", func() {
			reconciler.outcome = &payment.Outcome{RequestID: "req-1"}
			rec := do(http.MethodPost, "/payments/webhook", "", []byte(`{"id":"evt_1"}`), map[string]string{"Stripe-Signature": "t=1,v1=abc"})

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(string(reconciler.payload)).To(Equal(`{"id":"evt_1"}`))
			Expect(reconciler.signature).To(Equal("t=1,v1=abc"))
			Expect(rec.Body.String()).To(MatchJSON(`{"received":true}`))
		})

		It("answers 400 to bad signatures", func() {
			reconciler.err = internal.ErrSignatureInvalid
			rec := do(http.MethodPost, "/payments/webhook", "", []byte(`{}`), nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("acknowledges events for unknown requests", func() {
			reconciler.err = internal.ErrRequestNotFound
			rec := do(http.MethodPost, "/payments/webhook", "", []byte(`{}`), nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("asks for a retry when storage fails", func() {
			reconciler.err = context.DeadlineExceeded
			rec := do(http.MethodPost, "/payments/webhook", "", []byte(`{}`), nil)
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("GET /payments/ledger/{intentId}", func() {
		BeforeEach(func() {
			ledger.entry = &payment.LedgerEntry{PaymentIntentID: "pi_1", RequestID: "req-1", ClientID: "client-1", ProviderID: "provider-1", Amount: 5000}
		})

		It("shows the entry to participants", func() {
			Expect(do(http.MethodGet, "/payments/ledger/pi_1", "client-1", nil, nil).Code).To(Equal(http.StatusOK))
			Expect(do(http.MethodGet, "/payments/ledger/pi_1", "provider-1", nil, nil).Code).To(Equal(http.StatusOK))
		})

		It("hides it from everyone else", func() {
			Expect(do(http.MethodGet, "/payments/ledger/pi_1", "stranger", nil, nil).Code).To(Equal(http.StatusForbidden))
		})

		It("returns 404 for unknown intents", func() {
			Expect(do(http.MethodGet, "/payments/ledger/pi_missing", "client-1", nil, nil).Code).To(Equal(http.StatusNotFound))
		})
	})
})
