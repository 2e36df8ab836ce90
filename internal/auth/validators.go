package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExactKeyMatch accepts tokens equal to one of the configured API keys.
type ExactKeyMatch struct {
	keys [][]byte
}

// NewExactKeyMatch ignores blank keys.
func NewExactKeyMatch(keys ...string) *ExactKeyMatch {
	m := &ExactKeyMatch{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			m.keys = append(m.keys, []byte(k))
		}
	}
	return m
}

// Validate implements TokenValidator.
func (m *ExactKeyMatch) Validate(_ context.Context, token string) (*Claims, error) {
	candidate := []byte(token)
	matched := 0
	for _, key := range m.keys {
		matched |= subtle.ConstantTimeCompare(candidate, key)
	}
	if matched != 1 {
		return nil, ErrInvalidToken
	}
	return &Claims{Subject: "api-key", Role: RoleServiceRole, Method: "api_key"}, nil
}

// Prober performs a harmless read against the definitions store as the token's caller.
// It returns an error wrapping ErrProbeRejected when the store refused the claims.
type Prober interface {
	ProbeDefinitions(ctx context.Context, claimsJSON []byte) error
}

// ServiceRoleProbe accepts HS256 JWTs signed with the project secret that carry the
// service role and an unexpired exp, then confirms them with a store probe.
type ServiceRoleProbe struct {
	cfg    Config
	prober Prober
	now    func() time.Time
}

// NewServiceRoleProbe constructs the validator. A nil prober skips the probe; an
// empty secret rejects every token.
func NewServiceRoleProbe(cfg Config, prober Prober) *ServiceRoleProbe {
	return &ServiceRoleProbe{cfg: cfg, prober: prober, now: time.Now}
}

// Validate implements TokenValidator.
func (v *ServiceRoleProbe) Validate(ctx context.Context, token string) (*Claims, error) {
	claims, err := verify(token, v.cfg, v.now)
	if err != nil {
		return nil, err
	}

	out, err := roleClaims(claims, v.now())
	if err != nil {
		return nil, err
	}
	out.Method = "service_role_probe"

	if v.prober == nil {
		return out, nil
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	// Only auth-shaped probe failures reject; other store errors still accept.
	if err := v.prober.ProbeDefinitions(ctx, payload); err != nil &&
		(errors.Is(err, ErrProbeRejected) || LooksLikeAuthError(err)) {
		return nil, fmt.Errorf("%w: %v", ErrProbeRejected, err)
	}
	return out, nil
}

// LooksLikeAuthError reports whether err reads like a token or permission failure.
func LooksLikeAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"jwt", "invalid token", "permission denied", "insufficient_privilege"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Config holds HMAC verification parameters for SignedJWT.
type Config struct {
	Secret string
	Issuer string
}

// SignedJWT verifies HS256 tokens signed with a shared secret.
type SignedJWT struct {
	cfg Config
}

// NewSignedJWT constructs the validator.
func NewSignedJWT(cfg Config) *SignedJWT {
	return &SignedJWT{cfg: cfg}
}

// Validate implements TokenValidator.
func (v *SignedJWT) Validate(_ context.Context, token string) (*Claims, error) {
	claims, err := verify(token, v.cfg, time.Now)
	if err != nil {
		return nil, err
	}

	out, err := roleClaims(claims, time.Now())
	if err != nil {
		return nil, err
	}
	out.Method = "signed_jwt"
	return out, nil
}

// verify checks the HS256 signature, the issuer and a present, unexpired exp.
func verify(token string, cfg Config, now func() time.Time) (jwt.MapClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, opts...)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, fmt.Errorf("%w: %v", ErrExpiredToken, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func roleClaims(claims jwt.MapClaims, now time.Time) (*Claims, error) {
	role, _ := claims["role"].(string)
	if role != RoleServiceRole {
		return nil, fmt.Errorf("%w: role %q", ErrForbiddenRole, role)
	}

	out := &Claims{Role: role}
	out.Subject, _ = claims.GetSubject()

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if exp == nil {
		return nil, fmt.Errorf("%w: exp claim required", ErrInvalidToken)
	}
	if !exp.Time.After(now) {
		return nil, ErrExpiredToken
	}
	out.ExpiresAt = exp.Time
	return out, nil
}
