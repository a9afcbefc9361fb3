package payment_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/frahmantamala/service-marketplace/internal"
	"github.com/frahmantamala/service-marketplace/internal/core/events"
	"github.com/frahmantamala/service-marketplace/internal/payment"
	paymentPostgres "github.com/frahmantamala/service-marketplace/internal/payment/postgres"
	"github.com/frahmantamala/service-marketplace/internal/request"
	requestPostgres "github.com/frahmantamala/service-marketplace/internal/request/postgres"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("Reconciler", func() {
	var (
		ctx        context.Context
		db         *gorm.DB
		requests   *requestPostgres.RequestRepository
		ledger     *paymentPostgres.LedgerRepository
		processor  *fakeProcessor
		publisher  *recordingPublisher
		broker     *payment.Broker
		reconciler *payment.Reconciler
		clock      time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		db = openPaymentDB()
		requests = requestPostgres.NewRequestRepository(db)
		ledger = paymentPostgres.NewLedgerRepository(db)
		processor = newFakeProcessor()
		publisher = &recordingPublisher{}
		policy := request.NewCurrencyPolicy(nil, nil)
		broker = payment.NewBroker(requests, ledger, processor, nil, policy, 10, quietLogger())
		reconciler = payment.NewReconciler(requests, ledger, processor, publisher, quietLogger())
		clock = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
		reconciler.SetClock(func() time.Time { return clock })
	})

	AfterEach(func() {
		closeDB(db)
	})

	// pending returns a request with a freshly minted, unpaid intent.
	pending := func() (*request.Request, string) {
		req := acceptedRequest(ctx, requests, 5000, "usd")
		result, err := broker.GetOrCreatePaymentIntent(ctx, req.ID, "client-1")
		Expect(err).NotTo(HaveOccurred())
		return req, result.PaymentIntentID
	}

	load := func(id string) *request.Request {
		req, err := requests.GetByID(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		return req
	}

	Describe("ConfirmPayment", func() {
		It("completes the request when the processor reports success", func() {
			req, intentID := pending()
			processor.setStatus(intentID, payment.IntentStatusSucceeded)

			outcome, err := reconciler.ConfirmPayment(ctx, req.ID, intentID, "client-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.PaymentStatus).To(Equal(request.PaymentStatusSucceeded))
			Expect(outcome.RequestStatus).To(Equal(request.StatusCompleted))
			Expect(outcome.Degraded).To(BeFalse())

			stored := load(req.ID)
			Expect(stored.Status).To(Equal(request.StatusCompleted))
			Expect(stored.PaidAt).NotTo(BeNil())
			Expect(stored.PaidAt.Equal(clock)).To(BeTrue())

			entry, err := ledger.GetByIntentID(ctx, intentID)
			Expect(err).NotTo(HaveOccurred())
			Expect(entry.Status).To(Equal(request.PaymentStatusSucceeded))

			Expect(publisher.ofType(events.EventTypePaymentSucceeded)).To(HaveLen(1))
		})

		It("is idempotent", func() {
			req, intentID := pending()
			processor.setStatus(intentID, payment.IntentStatusSucceeded)

			_, err := reconciler.ConfirmPayment(ctx, req.ID, intentID, "client-1")
			Expect(err).NotTo(HaveOccurred())
			first := load(req.ID)

			clock = clock.Add(time.Hour)
			_, err = reconciler.ConfirmPayment(ctx, req.ID, intentID, "client-1")
			Expect(err).NotTo(HaveOccurred())
			second := load(req.ID)

			Expect(second.Status).To(Equal(first.Status))
			Expect(second.PaymentStatus).To(Equal(first.PaymentStatus))
			Expect(second.PaidAt.Equal(*first.PaidAt)).To(BeTrue())

			entries, err := ledger.ListByRequest(ctx, req.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(publisher.ofType(events.EventTypePaymentSucceeded)).To(HaveLen(1))
		})

		It("records a processing intent without moving the request", func() {
			req, intentID := pending()
			processor.setStatus(intentID, payment.IntentStatusProcessing)

			outcome, err := reconciler.ConfirmPayment(ctx, req.ID, intentID, "client-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.PaymentStatus).To(Equal(request.PaymentStatusProcessing))
			Expect(outcome.RequestStatus).To(Equal(request.StatusAccepted))
			Expect(load(req.ID).PaidAt).To(BeNil())
		})

		It("rejects an intent minted for another request", func() {
			req, _ := pending()
			_, otherIntent := pending()

			_, err := reconciler.ConfirmPayment(ctx, req.ID, otherIntent, "client-1")
			Expect(errors.Is(err, internal.ErrIntentMismatch)).To(BeTrue())
			Expect(load(req.ID).PaymentStatus).To(Equal(request.PaymentStatusUnpaid))
		})

		It("rejects callers other than the client", func() {
			req, intentID := pending()
			_, err := reconciler.ConfirmPayment(ctx, req.ID, intentID, "provider-1")
			Expect(errors.Is(err, internal.ErrUnauthorizedAccess)).To(BeTrue())
		})

		It("surfaces a processor outage", func() {
			req, intentID := pending()
			processor.retrieveErr = internal.ErrProcessorUnavailable
			_, err := reconciler.ConfirmPayment(ctx, req.ID, intentID, "client-1")
			Expect(errors.Is(err, internal.ErrProcessorUnavailable)).To(BeTrue())
		})
	})

	Describe("HandleWebhook", func() {
		It("completes the request from a signed success event", func() {
			req, intentID := pending()
			processor.setStatus(intentID, payment.IntentStatusSucceeded)

			outcome, err := reconciler.HandleWebhook(ctx, webhookBody(payment.EventIntentSucceeded, processor.intent(intentID)), "valid")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.RequestStatus).To(Equal(request.StatusCompleted))
			Expect(load(req.ID).PaidAt).NotTo(BeNil())
		})

		It("rejects a bad signature without touching the request", func() {
			req, intentID := pending()
			processor.setStatus(intentID, payment.IntentStatusSucceeded)

			_, err := reconciler.HandleWebhook(ctx, webhookBody(payment.EventIntentSucceeded, processor.intent(intentID)), "forged")
			Expect(errors.Is(err, internal.ErrSignatureInvalid)).To(BeTrue())
			Expect(load(req.ID).PaymentStatus).To(Equal(request.PaymentStatusUnpaid))
		})

		It("acknowledges event types it does not handle", func() {
			_, intentID := pending()
			outcome, err := reconciler.HandleWebhook(ctx, webhookBody("payment_intent.created", processor.intent(intentID)), "valid")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(BeNil())
		})

		It("acknowledges intents with no request id", func() {
			intent := &payment.Intent{ID: "pi_orphan", Amount: 100, Currency: "usd", Status: payment.IntentStatusSucceeded}
			outcome, err := reconciler.HandleWebhook(ctx, webhookBody(payment.EventIntentSucceeded, intent), "valid")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(BeNil())
		})

		It("reports unknown requests", func() {
			intent := &payment.Intent{
				ID: "pi_unknown", Amount: 100, Currency: "usd", Status: payment.IntentStatusSucceeded,
				Metadata: map[string]string{payment.MetaRequestID: "no-such-request"},
			}
			_, err := reconciler.HandleWebhook(ctx, webhookBody(payment.EventIntentSucceeded, intent), "valid")
			Expect(errors.Is(err, internal.ErrRequestNotFound)).To(BeTrue())
		})

		It("records a failed payment and publishes it", func() {
			req, intentID := pending()
			_, err := reconciler.HandleWebhook(ctx, webhookBody(payment.EventIntentFailed, processor.intent(intentID)), "valid")
			Expect(err).NotTo(HaveOccurred())

			stored := load(req.ID)
			Expect(stored.PaymentStatus).To(Equal(request.PaymentStatusFailed))
			Expect(stored.Status).To(Equal(request.StatusAccepted))
			Expect(publisher.ofType(events.EventTypePaymentFailed)).To(HaveLen(1))
		})
	})

	Describe("ordering", func() {
		It("converges to the same row whichever channel lands first", func() {
			a, intentA := pending()
			b, intentB := pending()
			processor.setStatus(intentA, payment.IntentStatusSucceeded)
			processor.setStatus(intentB, payment.IntentStatusSucceeded)

			_, err := reconciler.ConfirmPayment(ctx, a.ID, intentA, "client-1")
			Expect(err).NotTo(HaveOccurred())
			_, err = reconciler.HandleWebhook(ctx, webhookBody(payment.EventIntentSucceeded, processor.intent(intentA)), "valid")
			Expect(err).NotTo(HaveOccurred())

			_, err = reconciler.HandleWebhook(ctx, webhookBody(payment.EventIntentSucceeded, processor.intent(intentB)), "valid")
			Expect(err).NotTo(HaveOccurred())
			_, err = reconciler.ConfirmPayment(ctx, b.ID, intentB, "client-1")
			Expect(err).NotTo(HaveOccurred())

			rowA, rowB := load(a.ID), load(b.ID)
			Expect(rowA.Status).To(Equal(rowB.Status))
			Expect(rowA.PaymentStatus).To(Equal(rowB.PaymentStatus))
			Expect(rowA.PaidAt.Equal(*rowB.PaidAt)).To(BeTrue())
			Expect(rowA.Status).To(Equal(request.StatusCompleted))
		})

		It("never downgrades a settled payment", func() {
			req, intentID := pending()
			processor.setStatus(intentID, payment.IntentStatusSucceeded)
			succeeded := processor.intent(intentID)

			_, err := reconciler.HandleWebhook(ctx, webhookBody(payment.EventIntentSucceeded, succeeded), "valid")
			Expect(err).NotTo(HaveOccurred())
			_, err = reconciler.HandleWebhook(ctx, webhookBody(payment.EventIntentFailed, succeeded), "valid")
			Expect(err).NotTo(HaveOccurred())

			stored := load(req.ID)
			Expect(stored.PaymentStatus).To(Equal(request.PaymentStatusSucceeded))
			Expect(stored.Status).To(Equal(request.StatusCompleted))
			Expect(stored.PaidAt).NotTo(BeNil())

			entry, _ := ledger.GetByIntentID(ctx, intentID)
			Expect(entry.Status).To(Equal(request.PaymentStatusSucceeded))
			Expect(publisher.ofType(events.EventTypePaymentFailed)).To(BeEmpty())
		})

		It("completes after an earlier failure", func() {
			req, intentID := pending()
			_, err := reconciler.HandleWebhook(ctx, webhookBody(payment.EventIntentFailed, processor.intent(intentID)), "valid")
			Expect(err).NotTo(HaveOccurred())

			processor.setStatus(intentID, payment.IntentStatusSucceeded)
			_, err = reconciler.ConfirmPayment(ctx, req.ID, intentID, "client-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(load(req.ID).Status).To(Equal(request.StatusCompleted))
		})

		It("keeps failures of a superseded intent in the ledger only", func() {
			req, oldIntent := pending()
			Expect(db.Table("service_requests").Where("id = ?", req.ID).Update("price_amount", 9000).Error).To(Succeed())
			fresh, err := broker.GetOrCreatePaymentIntent(ctx, req.ID, "client-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh.PaymentIntentID).NotTo(Equal(oldIntent))

			_, err = reconciler.HandleWebhook(ctx, webhookBody(payment.EventIntentFailed, processor.intent(oldIntent)), "valid")
			Expect(err).NotTo(HaveOccurred())

			stored := load(req.ID)
			Expect(*stored.PaymentIntentID).To(Equal(fresh.PaymentIntentID))
			Expect(stored.PaymentStatus).To(Equal(request.PaymentStatusUnpaid))

			entry, _ := ledger.GetByIntentID(ctx, oldIntent)
			Expect(entry.Status).To(Equal(request.PaymentStatusFailed))
		})

		It("records payment on a cancelled request without reviving it", func() {
			req, intentID := pending()
			Expect(db.Table("service_requests").Where("id = ?", req.ID).Update("status", "cancelled").Error).To(Succeed())
			processor.setStatus(intentID, payment.IntentStatusSucceeded)

			_, err := reconciler.HandleWebhook(ctx, webhookBody(payment.EventIntentSucceeded, processor.intent(intentID)), "valid")
			Expect(err).NotTo(HaveOccurred())

			stored := load(req.ID)
			Expect(stored.Status).To(Equal(request.StatusCancelled))
			Expect(stored.PaymentStatus).To(Equal(request.PaymentStatusSucceeded))
		})

		It("settles once when both channels race", func() {
			req, intentID := pending()
			processor.setStatus(intentID, payment.IntentStatusSucceeded)
			body := webhookBody(payment.EventIntentSucceeded, processor.intent(intentID))

			var wg sync.WaitGroup
			errs := make(chan error, 2)
			wg.Add(2)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := reconciler.ConfirmPayment(ctx, req.ID, intentID, "client-1")
				errs <- err
			}()
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := reconciler.HandleWebhook(ctx, body, "valid")
				errs <- err
			}()
			wg.Wait()
			close(errs)
			for err := range errs {
				Expect(err).NotTo(HaveOccurred())
			}

			stored := load(req.ID)
			Expect(stored.Status).To(Equal(request.StatusCompleted))
			Expect(stored.PaidAt).NotTo(BeNil())
			entries, _ := ledger.ListByRequest(ctx, req.ID)
			Expect(entries).To(HaveLen(1))
		})
	})

	Describe("payments the request no longer accepts", func() {
		It("flags a superseded intent paid at the old price instead of completing", func() {
			// Given a request repriced after its first intent was handed out
			req := acceptedRequest(ctx, requests, 100, "usd")
			old, err := broker.GetOrCreatePaymentIntent(ctx, req.ID, "client-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(db.Table("service_requests").Where("id = ?", req.ID).Update("price_amount", 300000).Error).To(Succeed())
			current, err := broker.GetOrCreatePaymentIntent(ctx, req.ID, "client-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(processor.canceledIntents()).To(ContainElement(old.PaymentIntentID))

			// When the old intent still gets paid and confirmed
			processor.setStatus(old.PaymentIntentID, payment.IntentStatusSucceeded)
			outcome, err := reconciler.ConfirmPayment(ctx, req.ID, old.PaymentIntentID, "client-1")

			// Then the request is untouched and the payment waits for a refund
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.RefundRequired).To(BeTrue())
			Expect(outcome.RequestStatus).To(Equal(request.StatusAccepted))
			Expect(outcome.PaymentIntentID).To(Equal(current.PaymentIntentID))

			stored := load(req.ID)
			Expect(stored.Status).To(Equal(request.StatusAccepted))
			Expect(stored.PaymentStatus).To(Equal(request.PaymentStatusUnpaid))
			Expect(*stored.PaymentIntentID).To(Equal(current.PaymentIntentID))
			Expect(stored.PaidAt).To(BeNil())

			entry, err := ledger.GetByIntentID(ctx, old.PaymentIntentID)
			Expect(err).NotTo(HaveOccurred())
			Expect(entry.Status).To(Equal(request.PaymentStatusSucceeded))
			Expect(entry.RefundRequired).To(BeTrue())
			Expect(publisher.ofType(events.EventTypePaymentSucceeded)).To(BeEmpty())

			// And the current intent still settles the request
			processor.setStatus(current.PaymentIntentID, payment.IntentStatusSucceeded)
			outcome, err = reconciler.HandleWebhook(ctx, webhookBody(payment.EventIntentSucceeded, processor.intent(current.PaymentIntentID)), "valid")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.RequestStatus).To(Equal(request.StatusCompleted))
			Expect(outcome.RefundRequired).To(BeFalse())
			Expect(*load(req.ID).PaymentIntentID).To(Equal(current.PaymentIntentID))
		})

		It("flags the intent on file when it was paid before a price change", func() {
			req, intentID := pending()
			Expect(db.Table("service_requests").Where("id = ?", req.ID).Update("price_amount", 9000).Error).To(Succeed())
			processor.setStatus(intentID, payment.IntentStatusSucceeded)

			outcome, err := reconciler.HandleWebhook(ctx, webhookBody(payment.EventIntentSucceeded, processor.intent(intentID)), "valid")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.RefundRequired).To(BeTrue())

			stored := load(req.ID)
			Expect(stored.Status).To(Equal(request.StatusAccepted))
			Expect(stored.IsPaid()).To(BeFalse())

			entry, _ := ledger.GetByIntentID(ctx, intentID)
			Expect(entry.RefundRequired).To(BeTrue())
		})

		It("flags a second payment on an already completed request", func() {
			req, first := pending()
			processor.setStatus(first, payment.IntentStatusSucceeded)
			_, err := reconciler.ConfirmPayment(ctx, req.ID, first, "client-1")
			Expect(err).NotTo(HaveOccurred())
			paidAt := *load(req.ID).PaidAt

			duplicate := &payment.Intent{
				ID: "pi_duplicate", Amount: 5000, Currency: "usd", Status: payment.IntentStatusSucceeded,
				Metadata: map[string]string{payment.MetaRequestID: req.ID},
			}
			clock = clock.Add(time.Hour)
			outcome, err := reconciler.HandleWebhook(ctx, webhookBody(payment.EventIntentSucceeded, duplicate), "valid")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.RefundRequired).To(BeTrue())

			stored := load(req.ID)
			Expect(*stored.PaymentIntentID).To(Equal(first))
			Expect(stored.PaidAt.Equal(paidAt)).To(BeTrue())
			entry, _ := ledger.GetByIntentID(ctx, "pi_duplicate")
			Expect(entry.RefundRequired).To(BeTrue())
			Expect(publisher.ofType(events.EventTypePaymentSucceeded)).To(HaveLen(1))
		})
	})

	Describe("degraded persistence", func() {
		It("keeps a paid request out of reach of cancellation until repair completes it", func() {
			req, intentID := pending()
			processor.setStatus(intentID, payment.IntentStatusSucceeded)

			flaky := &flakyStore{RequestStore: requests, failSettlement: true}
			degraded := payment.NewReconciler(flaky, ledger, processor, publisher, quietLogger())
			outcome, err := degraded.ConfirmPayment(ctx, req.ID, intentID, "client-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Degraded).To(BeTrue())

			service := request.NewService(requests, request.NewCurrencyPolicy(nil, nil), publisher, quietLogger())
			_, err = service.Cancel(ctx, req.ID, "client-1")
			Expect(errors.Is(err, internal.ErrInvalidTransition)).To(BeTrue())
			_, err = service.SetPrice(ctx, req.ID, "provider-1", request.SetPriceDTO{Amount: 100, Currency: "usd"})
			Expect(errors.Is(err, internal.ErrInvalidTransition)).To(BeTrue())

			repairer := payment.NewRepairer(requests, payment.RepairConfig{BatchSize: 10, Workers: 1}, quietLogger())
			repaired, err := repairer.SweepOnce(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(repaired).To(Equal(1))

			stored := load(req.ID)
			Expect(stored.Status).To(Equal(request.StatusCompleted))
			Expect(stored.PaymentStatus).To(Equal(request.PaymentStatusSucceeded))
		})

		It("records the payment fields and leaves the status for repair", func() {
			req, intentID := pending()
			processor.setStatus(intentID, payment.IntentStatusSucceeded)

			flaky := &flakyStore{RequestStore: requests, failSettlement: true}
			degraded := payment.NewReconciler(flaky, ledger, processor, publisher, quietLogger())

			outcome, err := degraded.ConfirmPayment(ctx, req.ID, intentID, "client-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Degraded).To(BeTrue())
			Expect(outcome.PaymentStatus).To(Equal(request.PaymentStatusSucceeded))
			Expect(outcome.RequestStatus).To(Equal(request.StatusAccepted))

			repairer := payment.NewRepairer(requests, payment.RepairConfig{BatchSize: 10, Workers: 2}, quietLogger())
			repaired, err := repairer.SweepOnce(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(repaired).To(Equal(1))

			stored := load(req.ID)
			Expect(stored.Status).To(Equal(request.StatusCompleted))
			Expect(stored.PaidAt).NotTo(BeNil())
		})
	})
})
