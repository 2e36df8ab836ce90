// Package auth guards the run trigger with API keys and service-role JWTs.
package auth

import (
	"context"
	"errors"
	"time"
)

// RoleServiceRole is the only role allowed to trigger a run.
const RoleServiceRole = "service_role"

var (
	// ErrMissingToken is returned when the Authorization header is absent or not a bearer token.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken wraps parsing and validation errors.
	ErrInvalidToken = errors.New("invalid bearer token")
	// ErrExpiredToken is returned for tokens whose exp is in the past.
	ErrExpiredToken = errors.New("bearer token expired")
	// ErrForbiddenRole is returned for well-formed tokens without the service role.
	ErrForbiddenRole = errors.New("service role required")
	// ErrProbeRejected is returned by a Prober when the store refused the token.
	ErrProbeRejected = errors.New("token rejected by definitions store")
)

// Claims describes an accepted caller.
type Claims struct {
	Subject   string
	Role      string
	Method    string
	ExpiresAt time.Time
}

// TokenValidator accepts or rejects a bearer token. Rejections return one of the
// package sentinels, possibly wrapped.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*Claims, error)
}

// ValidatorFunc adapts a function to TokenValidator.
type ValidatorFunc func(ctx context.Context, token string) (*Claims, error)

// Validate implements TokenValidator.
func (f ValidatorFunc) Validate(ctx context.Context, token string) (*Claims, error) {
	return f(ctx, token)
}

// Any accepts a token when at least one validator does. The returned error is the
// most specific rejection seen.
func Any(ctx context.Context, token string, validators ...TokenValidator) (*Claims, error) {
	var errs []error
	for _, v := range validators {
		claims, err := v.Validate(ctx, token)
		if err == nil {
			return claims, nil
		}
		errs = append(errs, err)
	}
	return nil, rejection(errs)
}

func rejection(errs []error) error {
	for _, sentinel := range []error{ErrExpiredToken, ErrForbiddenRole, ErrProbeRejected} {
		for _, err := range errs {
			if errors.Is(err, sentinel) {
				return err
			}
		}
	}
	if len(errs) == 0 {
		return ErrInvalidToken
	}
	joined := errors.Join(errs...)
	if errors.Is(joined, ErrInvalidToken) {
		return joined
	}
	return errors.Join(ErrInvalidToken, joined)
}
