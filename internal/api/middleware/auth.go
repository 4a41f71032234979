package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	apierrors "github.com/narvanalabs/pve-monitor/internal/api/errors"
	"github.com/narvanalabs/pve-monitor/internal/auth"
	"github.com/narvanalabs/pve-monitor/pkg/logger"
)

type contextKey string

// ClaimsKey is the context key for the validated token claims.
const ClaimsKey contextKey = "claims"

// GetClaims extracts the token claims from the request context.
func GetClaims(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(ClaimsKey).(*auth.Claims); ok {
		return v
	}
	return nil
}

// AuthMiddleware validates bearer tokens.
type AuthMiddleware struct {
	authService *auth.Service
	logger      *slog.Logger
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(authService *auth.Service, logger *slog.Logger) *AuthMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthMiddleware{
		authService: authService,
		logger:      logger,
	}
}

// Authenticate validates the bearer token of the request. Websocket clients
// that cannot set headers may pass the token as the access_token query
// parameter instead.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())

		token := auth.ExtractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = r.URL.Query().Get("access_token")
		}
		if token == "" {
			apierrors.WriteErrorWithRequestID(w, apierrors.NewUnauthorizedError("Missing authentication"), requestID)
			return
		}

		claims, err := m.authService.ValidateToken(token)
		if err != nil {
			m.logger.Debug("token validation failed", "error", err, "request_id", requestID)
			msg := "Invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				msg = "Token has expired"
			}
			apierrors.WriteErrorWithRequestID(w, apierrors.NewUnauthorizedError(msg), requestID)
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		ctx = logger.ContextWithSubject(ctx, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission returns a middleware rejecting tokens whose role lacks
// the permission.
func RequirePermission(permission auth.Permission, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := middleware.GetReqID(r.Context())
			claims := GetClaims(r.Context())
			if claims == nil {
				apierrors.WriteErrorWithRequestID(w, apierrors.NewUnauthorizedError("Authentication required"), requestID)
				return
			}
			if err := auth.CheckRolePermission(claims.Role, permission); err != nil {
				logger.Debug("permission check failed",
					"subject", claims.Subject,
					"role", claims.Role,
					"permission", permission,
				)
				apierrors.WriteErrorWithRequestID(w, apierrors.NewForbiddenError("Access denied"), requestID)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
