package lti

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

/*
Platform id_token validation.

Verification order is strict and short-circuits; no partial trust:

  1. decode claims without verification (to learn iss/aud)
  2. resolve the platform by issuer + audience  -> ErrPlatformNotFound
  3. fetch/cache the platform's published keys  -> ErrUpstream on fetch failure
  4. verify signature                           -> ErrInvalidToken
  5. verify exp / nbf                           -> ErrExpiredToken
  6. consume the nonce                          -> ErrNonceAlreadyUsed
  7. require issuer, audience, deployment, sub  -> ErrInvalidRecord

An unregistered issuer never triggers a network key fetch.
*/

// Validator verifies inbound platform identity assertions.
type Validator struct {
	Platforms PlatformStore
	Replay    *ReplayGuard

	// HTTP performs JWKS fetches; timeouts are its responsibility.
	HTTP *http.Client

	// KeyCacheTTL bounds how long fetched platform keys are reused (default 1h).
	KeyCacheTTL time.Duration
	Now         func() time.Time

	mu    sync.RWMutex
	cache map[string]jwksCacheEntry // keyed by JWKS URL
}

type jwksCacheEntry struct {
	set       JWKS
	expiresAt time.Time
}

// Validate verifies rawIDToken end to end and returns the claim bag.
func (v *Validator) Validate(ctx context.Context, rawIDToken string) (Claims, error) {
	unverified, err := unverifiedClaims(rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed id_token", ErrInvalidToken)
	}
	issuer := unverified.Issuer()
	clientID := unverified.Audience()
	if issuer == "" || clientID == "" {
		return nil, fmt.Errorf("%w: id_token lacks iss/aud", ErrInvalidRecord)
	}

	platform, err := v.Platforms.GetPlatform(ctx, issuer, clientID)
	if err != nil {
		return nil, err
	}

	pub, err := v.platformKeys(ctx, platform)
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuedAt(),
	)
	claims := jwt.MapClaims{}
	_, err = parser.ParseWithClaims(rawIDToken, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := pub[kid]
		if !ok && kid == "" && len(pub) == 1 {
			for _, k := range pub {
				key, ok = k, true
			}
		}
		if !ok {
			return nil, fmt.Errorf("no platform key for kid %q", kid)
		}
		return key, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return nil, ErrExpiredToken
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	nonce := asString(claims["nonce"])
	if nonce == "" {
		return nil, fmt.Errorf("%w: nonce", ErrInvalidRecord)
	}
	if err := v.Replay.CheckNonce(ctx, platform.URL+":"+platform.ClientID, nonce); err != nil {
		return nil, err
	}

	out := Claims(claims)
	if out.DeploymentID() == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRecord, ClaimDeploymentID)
	}
	if out.Subject() == "" {
		return nil, fmt.Errorf("%w: sub", ErrInvalidRecord)
	}
	return out, nil
}

// platformKeys resolves the platform's public keys per its configured
// key-retrieval method, going through the TTL cache.
func (v *Validator) platformKeys(ctx context.Context, p Platform) (map[string]*rsa.PublicKey, error) {
	switch p.AuthMethod {
	case "", AuthMethodJWKSet:
	default:
		return nil, fmt.Errorf("%w: unsupported key retrieval method %q", ErrUpstream, p.AuthMethod)
	}

	set, err := v.fetchJWKS(ctx, p.AuthKey)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if kty, _ := jwk["kty"].(string); kty != "RSA" {
			continue
		}
		pub, err := RSAPublicKeyFromJWK(jwk)
		if err != nil {
			continue
		}
		kid, _ := jwk["kid"].(string)
		out[kid] = pub
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no RSA keys in platform JWKS", ErrUpstream)
	}
	return out, nil
}

func (v *Validator) fetchJWKS(ctx context.Context, jwksURL string) (JWKS, error) {
	now := v.now()
	v.mu.RLock()
	entry, ok := v.cache[jwksURL]
	v.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.set, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return JWKS{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := v.httpClient().Do(req)
	if err != nil {
		return JWKS{}, fmt.Errorf("%w: jwks fetch: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return JWKS{}, fmt.Errorf("%w: jwks fetch: status %d", ErrUpstream, resp.StatusCode)
	}
	var set JWKS
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return JWKS{}, fmt.Errorf("%w: jwks decode: %v", ErrUpstream, err)
	}

	v.mu.Lock()
	if v.cache == nil {
		v.cache = make(map[string]jwksCacheEntry)
	}
	v.cache[jwksURL] = jwksCacheEntry{set: set, expiresAt: now.Add(v.cacheTTL())}
	v.mu.Unlock()
	return set, nil
}

// unverifiedClaims decodes the payload without checking the signature. Only
// used to locate the platform record before full verification.
func unverifiedClaims(raw string) (Claims, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, err
	}
	return Claims(claims), nil
}

func (v *Validator) httpClient() *http.Client {
	if v.HTTP != nil {
		return v.HTTP
	}
	return http.DefaultClient
}

func (v *Validator) cacheTTL() time.Duration {
	if v.KeyCacheTTL > 0 {
		return v.KeyCacheTTL
	}
	return time.Hour
}

func (v *Validator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now().UTC()
}
