package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"example.com/arbiter/internal/auth"
)

type ctxKey string

const operatorKey ctxKey = "operator"

// OperatorMiddleware admits requests carrying a valid operator bearer token.
func OperatorMiddleware(svc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			token := strings.TrimPrefix(h, "Bearer ")

			claims, err := svc.Verify(token)
			if errors.Is(err, auth.ErrForbidden) {
				writeError(w, http.StatusForbidden, "forbidden", "operator role required")
				return
			}
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), operatorKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func OperatorFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(operatorKey).(string)
	return s, ok
}
