package auth

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Gate validates bearer credentials against the configured service secret
// before any operation runs. A request is Unauthenticated until Admit
// returns nil, and no state carries over between requests.
//
// With no secret configured the gate is bypassed entirely: an explicit,
// loudly logged mode, never a silent default.
type Gate struct {
	secret []byte
	tokens *TokenStore
	logger *zap.SugaredLogger
}

// NewGate builds the gate. tokens may be nil when no permanent token store
// is configured.
func NewGate(secret string, tokens *TokenStore, logger *zap.SugaredLogger) *Gate {
	g := &Gate{secret: []byte(secret), tokens: tokens, logger: logger}
	if !g.Enabled() && logger != nil {
		logger.Warn("No service secret configured, running UNAUTHENTICATED: every request is admitted")
	}
	return g
}

// Enabled reports whether the gate checks anything at all.
func (g *Gate) Enabled() bool {
	return len(g.secret) > 0
}

// Admit checks an Authorization header value. It returns nil when the
// request may proceed and an *AuthError otherwise.
func (g *Gate) Admit(header string) error {
	if !g.Enabled() {
		if g.logger != nil {
			g.logger.Debug("Auth gate bypassed (unauthenticated mode)")
		}
		return nil
	}

	token := strings.TrimSpace(header)
	if after, ok := strings.CutPrefix(token, "Bearer "); ok {
		token = strings.TrimSpace(after)
	}
	if token == "" {
		return ErrMissingToken
	}

	if err := g.verifyJWT(token); err == nil {
		return nil
	} else if errors.Is(err, ErrExpiredToken) {
		return ErrExpiredToken
	}

	// Not a valid JWT; a permanent token may still match.
	if g.tokens != nil && g.tokens.Verify(token) {
		return nil
	}

	return ErrInvalidToken
}

// verifyJWT parses and validates an HS256 token signed with the service
// secret. Expiry is honored when the claim is present.
func (g *Gate) verifyJWT(tokenStr string) error {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method: " + t.Method.Alg())
		}
		return g.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
