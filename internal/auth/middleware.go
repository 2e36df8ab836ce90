package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// Skipper allows callers to bypass authentication for specific requests.
type Skipper func(r *http.Request) bool

// Guard rejects requests before any handler or store access runs.
type Guard struct {
	validators []TokenValidator
	skipper    Skipper
	logger     zerolog.Logger
}

// NewGuard constructs a guard accepting tokens any validator accepts.
func NewGuard(logger zerolog.Logger, skipper Skipper, validators ...TokenValidator) Guard {
	return Guard{validators: validators, skipper: skipper, logger: logger}
}

// Wrap wraps an http.Handler with authentication.
func (g Guard) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.skipper != nil && g.skipper(r) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := BearerToken(r)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, err)
			return
		}

		claims, err := Any(r.Context(), token, g.validators...)
		if err != nil {
			g.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("rejected trigger token")
			writeAuthError(w, http.StatusForbidden, publicError(err))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(header[len("Bearer "):])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

func publicError(err error) error {
	for _, sentinel := range []error{ErrExpiredToken, ErrForbiddenRole, ErrProbeRejected} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return ErrInvalidToken
}

func writeAuthError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
