package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/frahmantamala/service-marketplace/internal"
	"github.com/golang-jwt/jwt/v5"
)

// Token scopes. Access tokens authenticate API calls; reset tokens only
// prove a password-reset code was verified.
const (
	ScopeAccess        = "access"
	ScopePasswordReset = "password_reset"
)

// TokenValidator is what the HTTP middleware needs.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

type TokenGenerator interface {
	TokenValidator
	GenerateAccessToken(userID string) (string, error)
	GenerateScopedToken(subject, scope string, ttl time.Duration) (string, error)
}

// Claims represents JWT token claims
type Claims struct {
	UserID string `json:"user_id"`
	Scope  string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

type JWTTokenGenerator struct {
	Secret         []byte
	AccessTokenTTL time.Duration
	Issuer         string
	now            func() time.Time
}

func NewJWTTokenGenerator(secret string, accessTTL time.Duration) *JWTTokenGenerator {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	return &JWTTokenGenerator{
		Secret:         []byte(secret),
		AccessTokenTTL: accessTTL,
		Issuer:         "service-marketplace",
		now:            time.Now,
	}
}

// GenerateAccessToken creates a new access token
func (j *JWTTokenGenerator) GenerateAccessToken(userID string) (string, error) {
	return j.GenerateScopedToken(userID, ScopeAccess, j.AccessTokenTTL)
}

func (j *JWTTokenGenerator) GenerateScopedToken(subject, scope string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is required")
	}
	now := j.now()

	claims := &Claims{
		UserID: subject,
		Scope:  scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(j.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken validates a JWT token and returns claims
func (j *JWTTokenGenerator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.Secret, nil
	}, jwt.WithTimeFunc(j.now), jwt.WithIssuer(j.Issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, internal.ErrTokenExpired
		}
		return nil, internal.ErrInvalidToken.WithCause(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, internal.ErrInvalidToken
	}
	return claims, nil
}
