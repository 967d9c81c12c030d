package session

import (
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	pkgerrors "github.com/harborline/storefront-go/pkg/errors"
)

// Claims are the access-token claims the widget reads for identity and
// expiry. The widget never verifies the signature; the token is opaque
// credential material minted and checked server-side.
type Claims struct {
	CustomerID string `json:"customer_id"`
	Email      string `json:"email"`
	jwt.RegisteredClaims
}

// Session holds the customer's authentication state for one widget
// lifetime.
type Session struct {
	mu     sync.RWMutex
	token  string
	claims *Claims
}

// New returns an unauthenticated session.
func New() *Session {
	return &Session{}
}

// SetToken stores the access token and extracts its claims.
func (s *Session) SetToken(token string) error {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "access token is empty")
	}

	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(trimmed, claims); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeAuthInvalid, err, "parse access token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = trimmed
	s.claims = claims
	return nil
}

// Token returns the raw access token, empty when unauthenticated.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Claims returns the parsed claims, nil when unauthenticated.
func (s *Session) Claims() *Claims {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claims
}

// IsAuthenticated reports whether a non-expired token is held.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" || s.claims == nil {
		return false
	}
	if s.claims.ExpiresAt != nil && s.claims.ExpiresAt.Before(time.Now()) {
		return false
	}
	return true
}

// Email returns the authenticated customer's email, empty when guest.
func (s *Session) Email() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.claims == nil {
		return ""
	}
	return s.claims.Email
}

// Clear drops the token and claims, returning the session to guest state.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.claims = nil
}
