package otp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/frahmantamala/service-marketplace/internal"
	"github.com/frahmantamala/service-marketplace/internal/auth"
	"github.com/frahmantamala/service-marketplace/internal/otp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"
)

var _ = Describe("Service", func() {
	var (
		ctx     context.Context
		store   *otp.MemoryStore
		sender  *recordingSender
		tokens  *auth.JWTTokenGenerator
		service *otp.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = otp.NewMemoryStore(time.Hour)
		sender = newRecordingSender()
		tokens = auth.NewJWTTokenGenerator("a-very-long-test-secret-of-32-bytes!!", time.Minute)
		service = otp.NewService(store, sender, tokens, otp.Config{
			TTL:         5 * time.Minute,
			MaxAttempts: 3,
			BCryptCost:  bcrypt.MinCost,
		}, quietLogger())
	})

	AfterEach(func() {
		store.Close()
	})

	It("issues a six digit code and stores only its hash", func() {
		Expect(service.Issue(ctx, "Jane@Example.com ")).To(Succeed())

		code := sender.last("jane@example.com")
		Expect(code).To(MatchRegexp(`^[0-9]{6}$`))

		hash, err := store.Get(ctx, "jane@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(hash).NotTo(Equal(code))
		Expect(bcrypt.CompareHashAndPassword([]byte(hash), []byte(code))).To(Succeed())
	})

	It("exchanges a correct code for a password reset token", func() {
		Expect(service.Issue(ctx, "jane@example.com")).To(Succeed())

		result, err := service.Verify(ctx, "JANE@example.com", sender.last("jane@example.com"))
		Expect(err).NotTo(HaveOccurred())
		Expect(result.ExpiresIn).To(Equal(int64(300)))

		claims, err := tokens.ValidateToken(result.ResetToken)
		Expect(err).NotTo(HaveOccurred())
		Expect(claims.Scope).To(Equal(auth.ScopePasswordReset))
		Expect(claims.UserID).To(Equal("jane@example.com"))
	})

	It("accepts a code only once", func() {
		Expect(service.Issue(ctx, "jane@example.com")).To(Succeed())
		code := sender.last("jane@example.com")

		_, err := service.Verify(ctx, "jane@example.com", code)
		Expect(err).NotTo(HaveOccurred())

		_, err = service.Verify(ctx, "jane@example.com", code)
		Expect(errors.Is(err, internal.ErrOTPExpired)).To(BeTrue())
	})

	It("rejects a wrong code", func() {
		Expect(service.Issue(ctx, "jane@example.com")).To(Succeed())

		_, err := service.Verify(ctx, "jane@example.com", wrongCode(sender.last("jane@example.com")))
		Expect(errors.Is(err, internal.ErrOTPInvalid)).To(BeTrue())
	})

	It("burns the code once attempts run out", func() {
		Expect(service.Issue(ctx, "jane@example.com")).To(Succeed())
		code := sender.last("jane@example.com")

		for i := 0; i < 3; i++ {
			_, err := service.Verify(ctx, "jane@example.com", wrongCode(code))
			Expect(errors.Is(err, internal.ErrOTPInvalid)).To(BeTrue())
		}

		_, err := service.Verify(ctx, "jane@example.com", code)
		Expect(errors.Is(err, internal.ErrTooManyAttempts)).To(BeTrue())

		_, err = service.Verify(ctx, "jane@example.com", code)
		Expect(errors.Is(err, internal.ErrOTPExpired)).To(BeTrue())
	})

	It("does not keep a code that could not be delivered", func() {
		sender.err = errors.New("smtp down")
		Expect(service.Issue(ctx, "jane@example.com")).NotTo(Succeed())

		_, err := store.Get(ctx, "jane@example.com")
		Expect(errors.Is(err, internal.ErrOTPExpired)).To(BeTrue())
	})

	Describe("Handler", func() {
		var handler *otp.Handler

		BeforeEach(func() {
			handler = otp.NewHandler(service, quietLogger())
		})

		post := func(h http.HandlerFunc, body interface{}) *httptest.ResponseRecorder {
			raw, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw)))
			return rec
		}

		It("issues and verifies over http", func() {
			rec := post(handler.Issue, map[string]string{"subject": "jane@example.com"})
			Expect(rec.Code).To(Equal(http.StatusAccepted))

			rec = post(handler.Verify, map[string]string{"subject": "jane@example.com", "otp": sender.last("jane@example.com")})
			Expect(rec.Code).To(Equal(http.StatusOK))

			var result otp.VerifyResult
			Expect(json.Unmarshal(rec.Body.Bytes(), &result)).To(Succeed())
			Expect(result.ResetToken).NotTo(BeEmpty())
		})

		It("validates the payload", func() {
			Expect(post(handler.Issue, map[string]string{}).Code).To(Equal(http.StatusBadRequest))
			Expect(post(handler.Verify, map[string]string{"subject": "jane@example.com", "otp": "12"}).Code).To(Equal(http.StatusBadRequest))
		})

		It("answers 400 for a wrong code", func() {
			Expect(service.Issue(ctx, "jane@example.com")).To(Succeed())
			rec := post(handler.Verify, map[string]string{"subject": "jane@example.com", "otp": wrongCode(sender.last("jane@example.com"))})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})
})

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}
