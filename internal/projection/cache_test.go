package projection_test

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/frahmantamala/service-marketplace/internal"
	"github.com/frahmantamala/service-marketplace/internal/payment"
	"github.com/frahmantamala/service-marketplace/internal/projection"
	"github.com/frahmantamala/service-marketplace/internal/request"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Cache", func() {
	var (
		ctx    context.Context
		remote *fakeRemote
		cache  *projection.Cache
		clock  time.Time
	)

	newCache := func(caller string, store projection.Persister, rows ...*request.Request) {
		remote = newFakeRemote(caller, rows...)
		cache = projection.NewCache(remote, store, quietLogger())
		cache.SetClock(func() time.Time { return clock })
	}

	BeforeEach(func() {
		ctx = context.Background()
		clock = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	})

	Describe("FetchRequests", func() {
		It("keeps only rows the user takes part in", func() {
			newCache("provider-1", nil,
				pendingRequest("req-1", "client-1", "provider-1"),
				pendingRequest("req-2", "provider-1", "provider-2"),
				pendingRequest("req-3", "client-9", "provider-9"),
			)

			rows, err := cache.FetchRequests(ctx, "provider-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(2))
			Expect(cache.Requests("provider-1")).To(HaveLen(2))
			Expect(cache.Requests("client-9")).To(BeEmpty())
		})

		It("serves the cached rows when the server is unreachable", func() {
			newCache("provider-1", nil, pendingRequest("req-1", "client-1", "provider-1"))
			_, err := cache.FetchRequests(ctx, "provider-1")
			Expect(err).NotTo(HaveOccurred())

			remote.err = errOffline
			_, err = cache.FetchRequests(ctx, "provider-1")
			Expect(err).To(MatchError(errOffline))
			Expect(cache.Requests("provider-1")).To(HaveLen(1))
		})
	})

	Describe("status changes", func() {
		BeforeEach(func() {
			newCache("provider-1", nil, pendingRequest("req-1", "client-1", "provider-1"))
			_, err := cache.FetchRequests(ctx, "provider-1")
			Expect(err).NotTo(HaveOccurred())
		})

		It("replaces the optimistic row with the server's", func() {
			row, err := cache.Accept(ctx, "provider-1", "req-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(row.Status).To(Equal(request.StatusAccepted))
			Expect(*row.AcceptedAt).To(Equal(time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)))

			cached, ok := cache.Get("provider-1", "req-1")
			Expect(ok).To(BeTrue())
			Expect(*cached.AcceptedAt).To(Equal(*row.AcceptedAt))
		})

		It("keeps the optimistic row when the call fails and heals on the next fetch", func() {
			remote.err = errOffline
			_, err := cache.Accept(ctx, "provider-1", "req-1")
			Expect(err).To(MatchError(errOffline))

			cached, _ := cache.Get("provider-1", "req-1")
			Expect(cached.Status).To(Equal(request.StatusAccepted))
			Expect(*cached.AcceptedAt).To(Equal(clock))

			remote.err = nil
			_, err = cache.FetchRequests(ctx, "provider-1")
			Expect(err).NotTo(HaveOccurred())
			cached, _ = cache.Get("provider-1", "req-1")
			Expect(cached.Status).To(Equal(request.StatusPending))
		})

		It("does not move a row the user may not move", func() {
			remote.caller = "client-1"
			_, err := cache.FetchRequests(ctx, "client-1")
			Expect(err).NotTo(HaveOccurred())

			remote.err = errOffline
			_, err = cache.Accept(ctx, "client-1", "req-1")
			Expect(err).To(HaveOccurred())

			cached, _ := cache.Get("client-1", "req-1")
			Expect(cached.Status).To(Equal(request.StatusPending))
		})

		It("leaves terminal rows alone", func() {
			_, err := cache.Reject(ctx, "provider-1", "req-1", "fully booked")
			Expect(err).NotTo(HaveOccurred())

			_, err = cache.Accept(ctx, "provider-1", "req-1")
			Expect(errors.Is(err, internal.ErrInvalidTransition)).To(BeTrue())

			cached, _ := cache.Get("provider-1", "req-1")
			Expect(cached.Status).To(Equal(request.StatusRejected))
			Expect(*cached.RejectionReason).To(Equal("fully booked"))
		})

		It("cancels", func() {
			row, err := cache.Cancel(ctx, "provider-1", "req-1")
			Expect(errors.Is(err, internal.ErrUnauthorizedAccess)).To(BeTrue())
			Expect(row).To(BeNil())

			remote.caller = "client-1"
			_, err = cache.FetchRequests(ctx, "client-1")
			Expect(err).NotTo(HaveOccurred())
			row, err = cache.Cancel(ctx, "client-1", "req-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(row.Status).To(Equal(request.StatusCancelled))
		})
	})

	Describe("pricing and payment", func() {
		BeforeEach(func() {
			newCache("provider-1", nil, accepted(pendingRequest("req-1", "client-1", "provider-1"), 0, ""))
			_, err := cache.FetchRequests(ctx, "provider-1")
			Expect(err).NotTo(HaveOccurred())
		})

		It("shows the price at once and settles on the server's currency", func() {
			remote.err = errOffline
			_, err := cache.SetPrice(ctx, "provider-1", "req-1", 5000, "AOA")
			Expect(err).To(HaveOccurred())
			cached, _ := cache.Get("provider-1", "req-1")
			Expect(*cached.PriceAmount).To(Equal(int64(5000)))
			Expect(*cached.Currency).To(Equal("aoa"))

			remote.err = nil
			row, err := cache.SetPrice(ctx, "provider-1", "req-1", 5000, "aoa")
			Expect(err).NotTo(HaveOccurred())
			Expect(*row.Currency).To(Equal("usd"))
			Expect(*row.OriginalCurrency).To(Equal("aoa"))
		})

		It("records the intent handed out for payment", func() {
			_, err := cache.SetPrice(ctx, "provider-1", "req-1", 5000, "usd")
			Expect(err).NotTo(HaveOccurred())
			_, err = cache.FetchRequests(ctx, "client-1")
			Expect(err).NotTo(HaveOccurred())

			remote.intent = &payment.IntentResult{PaymentIntentID: "pi_1", Amount: 5000, Currency: "usd", Status: payment.IntentStatusRequiresPaymentMethod}
			result, err := cache.InitiatePayment(ctx, "client-1", "req-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.PaymentIntentID).To(Equal("pi_1"))

			cached, _ := cache.Get("client-1", "req-1")
			Expect(*cached.PaymentIntentID).To(Equal("pi_1"))
			Expect(cached.PaymentStatus).To(Equal(request.PaymentStatusUnpaid))
		})

		It("marks a request paid optimistically and takes the reconciled outcome", func() {
			_, err := cache.FetchRequests(ctx, "client-1")
			Expect(err).NotTo(HaveOccurred())

			remote.err = errOffline
			_, err = cache.MarkPaid(ctx, "client-1", "req-1", "pi_1")
			Expect(err).To(HaveOccurred())
			cached, _ := cache.Get("client-1", "req-1")
			Expect(cached.Status).To(Equal(request.StatusCompleted))
			Expect(cached.PaymentStatus).To(Equal(request.PaymentStatusSucceeded))
			Expect(*cached.PaidAt).To(Equal(clock))

			paidAt := clock.Add(-time.Minute)
			remote.err = nil
			remote.outcome = &payment.Outcome{
				RequestID:       "req-1",
				PaymentIntentID: "pi_1",
				PaymentStatus:   request.PaymentStatusSucceeded,
				RequestStatus:   request.StatusCompleted,
				PaidAt:          &paidAt,
			}
			outcome, err := cache.MarkPaid(ctx, "client-1", "req-1", "pi_1")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.RequestStatus).To(Equal(request.StatusCompleted))

			cached, _ = cache.Get("client-1", "req-1")
			Expect(*cached.PaidAt).To(Equal(paidAt))
		})

		It("does not complete a cancelled request", func() {
			remote.caller = "client-1"
			_, err := cache.FetchRequests(ctx, "client-1")
			Expect(err).NotTo(HaveOccurred())
			_, err = cache.Cancel(ctx, "client-1", "req-1")
			Expect(err).NotTo(HaveOccurred())

			remote.err = errOffline
			_, err = cache.MarkPaid(ctx, "client-1", "req-1", "pi_1")
			Expect(err).To(HaveOccurred())

			cached, _ := cache.Get("client-1", "req-1")
			Expect(cached.Status).To(Equal(request.StatusCancelled))
		})

		It("leaves a pending request pending", func() {
			newCache("client-1", nil, pendingRequest("req-1", "client-1", "provider-1"))
			_, err := cache.FetchRequests(ctx, "client-1")
			Expect(err).NotTo(HaveOccurred())

			remote.err = errOffline
			_, err = cache.MarkPaid(ctx, "client-1", "req-1", "pi_1")
			Expect(err).To(HaveOccurred())

			cached, _ := cache.Get("client-1", "req-1")
			Expect(cached.Status).To(Equal(request.StatusPending))
			Expect(cached.PaymentStatus).NotTo(Equal(request.PaymentStatusSucceeded))
			Expect(cached.PaidAt).To(BeNil())
		})
	})

	Describe("Delete", func() {
		It("removes the row even when the server call fails", func() {
			newCache("client-1", nil, pendingRequest("req-1", "client-1", "provider-1"))
			_, err := cache.FetchRequests(ctx, "client-1")
			Expect(err).NotTo(HaveOccurred())

			remote.err = errOffline
			Expect(cache.Delete(ctx, "client-1", "req-1")).To(MatchError(errOffline))
			_, ok := cache.Get("client-1", "req-1")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("persistence", func() {
		It("survives a restart through the bolt file", func() {
			path := filepath.Join(GinkgoT().TempDir(), "projection.db")
			store, err := projection.OpenBoltStore(path)
			Expect(err).NotTo(HaveOccurred())

			newCache("provider-1", store, pendingRequest("req-1", "client-1", "provider-1"))
			_, err = cache.FetchRequests(ctx, "provider-1")
			Expect(err).NotTo(HaveOccurred())
			_, err = cache.Accept(ctx, "provider-1", "req-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(store.Close()).To(Succeed())

			store, err = projection.OpenBoltStore(path)
			Expect(err).NotTo(HaveOccurred())
			defer store.Close()

			restarted := projection.NewCache(newFakeRemote("provider-1"), store, quietLogger())
			rows := restarted.Requests("provider-1")
			Expect(rows).To(HaveLen(1))
			Expect(rows[0].Status).To(Equal(request.StatusAccepted))
		})

		It("returns nothing for a user never saved", func() {
			store, err := projection.OpenBoltStore(filepath.Join(GinkgoT().TempDir(), "projection.db"))
			Expect(err).NotTo(HaveOccurred())
			defer store.Close()

			rows, err := store.Load("nobody")
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(BeNil())
		})
	})
})
