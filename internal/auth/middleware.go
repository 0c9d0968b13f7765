package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/theravoice/theravoice/internal/logger"
)

// UnauthorizedDetail is the error detail of every 401 response
const UnauthorizedDetail = "Invalid authentication credentials"

type ctxKey struct{}

// UsernameFromContext returns the authenticated username set by Middleware
func UsernameFromContext(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(ctxKey{}).(string)
	return username, ok && username != ""
}

// Middleware rejects requests without a valid bearer token with 401
func Middleware(tokens *TokenService, log logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.Default()
	}
	log = log.WithComponent(logger.ComponentAuth)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			scheme, token, found := strings.Cut(header, " ")
			if !found || !strings.EqualFold(scheme, "bearer") || token == "" {
				unauthorized(w)
				return
			}

			username, err := tokens.Validate(strings.TrimSpace(token))
			if err != nil {
				log.WarnContext(r.Context(), "Rejected bearer token", "path", r.URL.Path, "error", err)
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, username)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": UnauthorizedDetail})
}
