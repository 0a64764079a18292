package lti

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ContentItem is a single deep-linking content item returned to a platform.
// Shape follows LTI DL 1.3 ltiResourceLink items.
type ContentItem struct {
	Type     string         `json:"type"`
	Title    string         `json:"title,omitempty"`
	URL      string         `json:"url,omitempty"`
	Custom   map[string]any `json:"custom,omitempty"`
	LineItem *LineItemHint  `json:"lineItem,omitempty"`
}

// LineItemHint asks the platform to create a gradebook column for the item.
type LineItemHint struct {
	ScoreMaximum float64 `json:"scoreMaximum"`
	ResourceID   string  `json:"resourceId,omitempty"`
	Label        string  `json:"label,omitempty"`
}

// DeepLinkSigner builds and signs deep-linking response assertions destined
// back to a platform.
type DeepLinkSigner struct {
	Platforms PlatformStore
	Keys      *KeyManager

	// TokenTTL defaults to 2 minutes.
	TokenTTL time.Duration
	Now      func() time.Time
}

// Sign looks up the platform, loads its private key, and returns a signed
// LtiDeepLinkingResponse JWT carrying the content items. The kid rides in
// the header so the platform can pick the matching key from our JWKS.
func (s *DeepLinkSigner) Sign(ctx context.Context, issuer, clientID, deploymentID string, items []ContentItem) (string, error) {
	platform, err := s.Platforms.GetPlatform(ctx, issuer, clientID)
	if err != nil {
		return "", err
	}
	priv, err := s.Keys.PrivateKey(ctx, platform.KID)
	if err != nil {
		return "", err
	}

	now := s.now()
	claims := jwt.MapClaims{
		"iss":             clientID,
		"aud":             platform.URL,
		"iat":             now.Add(-time.Minute).Unix(), // tolerate platform clock skew
		"exp":             now.Add(s.ttl()).Unix(),
		"nonce":           NewNonce(),
		ClaimDeploymentID: deploymentID,
		ClaimMessageType:  MessageTypeDeepLinkingResponse,
		ClaimVersion:      LTIVersion,
		ClaimContentItems: items,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = platform.KID
	signed, err := tok.SignedString(priv)
	if err != nil {
		return "", fmt.Errorf("deeplink: sign: %w", err)
	}
	return signed, nil
}

func (s *DeepLinkSigner) ttl() time.Duration {
	if s.TokenTTL > 0 {
		return s.TokenTTL
	}
	return 2 * time.Minute
}

func (s *DeepLinkSigner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
