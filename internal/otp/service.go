package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/frahmantamala/service-marketplace/internal"
	"github.com/frahmantamala/service-marketplace/internal/auth"
	"golang.org/x/crypto/bcrypt"
)

const codeLength = 6

// Sender delivers a freshly issued code to its subject.
type Sender interface {
	Send(ctx context.Context, subject, code string) error
}

type ResetTokenIssuer interface {
	GenerateScopedToken(subject, scope string, ttl time.Duration) (string, error)
}

type Config struct {
	TTL         time.Duration
	MaxAttempts int
	BCryptCost  int
}

type Service struct {
	store  Store
	sender Sender
	tokens ResetTokenIssuer
	config Config
	logger *slog.Logger
}

// VerifyResult is what a successful verification hands back to the caller.
type VerifyResult struct {
	ResetToken string `json:"reset_token"`
	ExpiresIn  int64  `json:"expires_in"`
}

func NewService(store Store, sender Sender, tokens ResetTokenIssuer, config Config, logger *slog.Logger) *Service {
	if config.TTL <= 0 {
		config.TTL = 10 * time.Minute
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.BCryptCost == 0 {
		config.BCryptCost = bcrypt.DefaultCost
	}
	return &Service{
		store:  store,
		sender: sender,
		tokens: tokens,
		config: config,
		logger: logger,
	}
}

func normalizeSubject(subject string) string {
	return strings.ToLower(strings.TrimSpace(subject))
}

// Issue replaces any outstanding code for subject with a new one and hands it
// to the Sender.
func (s *Service) Issue(ctx context.Context, subject string) error {
	key := normalizeSubject(subject)

	code, err := generateCode(codeLength)
	if err != nil {
		return internal.NewInternalError("failed to generate verification code", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.config.BCryptCost)
	if err != nil {
		return internal.NewInternalError("failed to hash verification code", err)
	}

	if err := s.store.Put(ctx, key, string(hash), s.config.TTL); err != nil {
		s.logger.Error("failed to store verification code", "error", err)
		return fmt.Errorf("issue code: %w", err)
	}

	if err := s.sender.Send(ctx, key, code); err != nil {
		s.logger.Error("failed to deliver verification code", "error", err)
		_ = s.store.Delete(ctx, key)
		return fmt.Errorf("deliver code: %w", err)
	}

	s.logger.Info("verification code issued", "ttl", s.config.TTL)
	return nil
}

// Verify consumes the subject's code. A code is good for one successful
// verification and MaxAttempts tries in total.
func (s *Service) Verify(ctx context.Context, subject, code string) (*VerifyResult, error) {
	key := normalizeSubject(subject)

	hash, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	attempts, err := s.store.IncrAttempts(ctx, key)
	if err != nil {
		return nil, err
	}
	if attempts > s.config.MaxAttempts {
		_ = s.store.Delete(ctx, key)
		s.logger.Warn("verification attempts exhausted", "attempts", attempts)
		return nil, internal.ErrTooManyAttempts
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(code))); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, internal.ErrOTPInvalid
		}
		return nil, internal.NewInternalError("failed to check verification code", err)
	}

	if err := s.store.Delete(ctx, key); err != nil {
		return nil, fmt.Errorf("consume code: %w", err)
	}

	token, err := s.tokens.GenerateScopedToken(key, auth.ScopePasswordReset, s.config.TTL)
	if err != nil {
		return nil, internal.NewInternalError("failed to issue reset token", err)
	}

	return &VerifyResult{ResetToken: token, ExpiresIn: int64(s.config.TTL.Seconds())}, nil
}

func generateCode(length int) (string, error) {
	const digits = "0123456789"
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		if err != nil {
			return "", err
		}
		result[i] = digits[n.Int64()]
	}
	return string(result), nil
}

// LogSender writes codes to the log. Development only.
type LogSender struct {
	Logger *slog.Logger
}

func (l LogSender) Send(ctx context.Context, subject, code string) error {
	l.Logger.DebugContext(ctx, "verification code", "subject", subject, "code", code)
	return nil
}
