package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aj9599/submeter-billing/logger"
	"github.com/aj9599/submeter-billing/services"
	"go.uber.org/zap"
)

type contextKey string

const adminContextKey contextKey = "admin_context"

// TokenParser verifies a bearer token.
type TokenParser interface {
	ParseToken(token string) (services.AdminContext, error)
}

func WithAdminContext(ctx context.Context, ac services.AdminContext) context.Context {
	return context.WithValue(ctx, adminContextKey, ac)
}

// AdminContextFrom returns the caller identity the auth middleware stored.
func AdminContextFrom(ctx context.Context) (services.AdminContext, bool) {
	ac, ok := ctx.Value(adminContextKey).(services.AdminContext)
	return ac, ok
}

func AuthMiddleware(parser TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if header == "" || token == header {
				writeError(w, http.StatusUnauthorized, "missing or malformed authorization header")
				return
			}

			ac, err := parser.ParseToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := WithAdminContext(r.Context(), ac)
			l := logger.FromContext(ctx).With(zap.Int64("admin_id", ac.AdminID), zap.Int64("user_id", ac.UserID))
			ctx = logger.WithContext(ctx, l)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin lets only company admins through. It must run after AuthMiddleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := AdminContextFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if !ac.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
