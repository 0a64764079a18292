package lti

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims is the tool-issued session assertion handed to the frontend
// after a validated launch. Stateless: validity is signature + expiry only.
type SessionClaims struct {
	PlatformURL  string `json:"platformUrl"`
	ClientID     string `json:"clientId"`
	DeploymentID string `json:"deploymentId"`
	UserID       string `json:"userId"`
	Role         string `json:"role"`
	jwt.RegisteredClaims
}

// SessionService mints and verifies tool session tokens (HS256).
type SessionService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionService builds a SessionService signing with secret. A zero ttl
// defaults to 15 minutes.
func NewSessionService(secret string, ttl time.Duration) *SessionService {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SessionService{secret: []byte(secret), ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// Issue extracts the session fields from a validated launch claim bag and
// signs a short-lived token. The highest-priority recognized role wins;
// unknown or absent roles default to Learner.
func (s *SessionService) Issue(c Claims) (string, error) {
	issuer := c.Issuer()
	clientID := c.Audience()
	deploymentID := c.DeploymentID()
	userID := c.Subject()
	if issuer == "" || clientID == "" || deploymentID == "" || userID == "" {
		return "", fmt.Errorf("%w: session fields", ErrInvalidRecord)
	}
	now := s.now()
	claims := &SessionClaims{
		PlatformURL:  issuer,
		ClientID:     clientID,
		DeploymentID: deploymentID,
		UserID:       userID,
		Role:         HighestPriorityRole(c.Roles()),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks signature and expiry. Expiry is the only lifecycle control;
// there is no revocation list.
func (s *SessionService) Verify(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(s.now))
	switch {
	case err == nil && parsed.Valid:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}

// BearerToken extracts the token from an Authorization header. The schema
// must be exactly "Bearer".
func BearerToken(header string) (string, error) {
	schema, token, found := strings.Cut(header, " ")
	if !found || schema != "Bearer" || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: missing bearer", ErrInvalidToken)
	}
	return strings.TrimSpace(token), nil
}
