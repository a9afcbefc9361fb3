package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/frahmantamala/service-marketplace/internal"
	"github.com/frahmantamala/service-marketplace/internal/auth"
	"github.com/frahmantamala/service-marketplace/internal/transport"
	"github.com/frahmantamala/service-marketplace/pkg/logger"
)

// Authenticate requires a valid access token and puts its user id on the
// request context.
func Authenticate(tokens auth.TokenValidator, lg *slog.Logger) func(http.Handler) http.Handler {
	h := transport.NewBaseHandler(lg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := h.ExtractTokenFromHeader(r)
			if raw == "" {
				h.HandleServiceError(w, internal.ErrMissingToken)
				return
			}

			claims, err := tokens.ValidateToken(raw)
			if err != nil {
				h.Logger.Warn("rejected bearer token", "error", err, "path", r.URL.Path)
				h.HandleServiceError(w, err)
				return
			}
			if claims.Scope != "" && !strings.EqualFold(claims.Scope, auth.ScopeAccess) {
				h.Logger.Warn("token scope not allowed for api access", "scope", claims.Scope)
				h.HandleServiceError(w, internal.ErrInvalidToken)
				return
			}

			ctx := internal.ContextWithUserID(r.Context(), claims.UserID)
			ctx = logger.With(ctx, "user_id", claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
