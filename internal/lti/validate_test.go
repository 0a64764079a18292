package lti

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// platformFixture is a fake platform: a registered record, its signing key,
// and an httptest JWKS endpoint that counts fetches.
type platformFixture struct {
	priv      *rsa.PrivateKey
	kid       string
	jwksCalls int
	platform  Platform
	store     *MemStore
	validator *Validator
}

func newPlatformFixture(t *testing.T) *platformFixture {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &platformFixture{priv: priv, kid: "platform-kid-1", store: NewMemStore()}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.jwksCalls++
		_ = json.NewEncoder(w).Encode(JWKS{Keys: []map[string]any{
			RSAPublicJWK(&priv.PublicKey, f.kid, "RS256"),
		}})
	}))
	t.Cleanup(srv.Close)

	f.platform = Platform{
		URL:                    "https://platform.example",
		ClientID:               "client-1",
		AuthenticationEndpoint: "https://platform.example/auth",
		AccessTokenEndpoint:    "https://platform.example/token",
		AuthMethod:             AuthMethodJWKSet,
		AuthKey:                srv.URL,
		KID:                    "tool-kid-1",
	}
	if err := f.store.PutPlatform(context.Background(), f.platform); err != nil {
		t.Fatalf("put platform: %v", err)
	}
	f.validator = &Validator{
		Platforms: f.store,
		Replay:    &ReplayGuard{States: f.store, Nonces: f.store},
	}
	return f
}

// signIDToken builds a valid launch id_token, then lets the caller mutate
// the claims before signing.
func (f *platformFixture) signIDToken(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"iss":             f.platform.URL,
		"aud":             f.platform.ClientID,
		"sub":             "user-1",
		"nonce":           NewNonce(),
		"iat":             now.Add(-10 * time.Second).Unix(),
		"exp":             now.Add(5 * time.Minute).Unix(),
		ClaimDeploymentID: "dep-1",
	}
	if mutate != nil {
		mutate(claims)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = f.kid
	signed, err := tok.SignedString(f.priv)
	if err != nil {
		t.Fatalf("sign id_token: %v", err)
	}
	return signed
}

func TestValidateAcceptsPlatformToken(t *testing.T) {
	f := newPlatformFixture(t)
	claims, err := f.validator.Validate(context.Background(), f.signIDToken(t, nil))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Issuer() != f.platform.URL || claims.Audience() != f.platform.ClientID {
		t.Fatalf("claims iss/aud mismatch: %v", claims)
	}
	if claims.DeploymentID() != "dep-1" || claims.Subject() != "user-1" {
		t.Fatalf("claims deployment/sub mismatch: %v", claims)
	}
}

func TestValidateUnknownIssuerSkipsKeyFetch(t *testing.T) {
	f := newPlatformFixture(t)
	token := f.signIDToken(t, func(c jwt.MapClaims) { c["iss"] = "https://rogue.example" })

	_, err := f.validator.Validate(context.Background(), token)
	if !errors.Is(err, ErrPlatformNotFound) {
		t.Fatalf("got %v, want ErrPlatformNotFound", err)
	}
	if f.jwksCalls != 0 {
		t.Fatalf("JWKS fetched %d times for an unregistered issuer", f.jwksCalls)
	}
}

func TestValidateExpiredToken(t *testing.T) {
	f := newPlatformFixture(t)
	token := f.signIDToken(t, func(c jwt.MapClaims) {
		now := time.Now().UTC()
		c["iat"] = now.Add(-10 * time.Minute).Unix()
		c["exp"] = now.Add(-time.Minute).Unix()
	})
	// Expired-but-correctly-signed is a distinct failure from a bad signature.
	if _, err := f.validator.Validate(context.Background(), token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("got %v, want ErrExpiredToken", err)
	}
}

func TestValidateRejectsForeignSignature(t *testing.T) {
	f := newPlatformFixture(t)
	other, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f.priv = other // sign with a key the platform never published
	token := f.signIDToken(t, nil)

	if _, err := f.validator.Validate(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}

func TestValidateNonceReplay(t *testing.T) {
	f := newPlatformFixture(t)
	token := f.signIDToken(t, nil)
	ctx := context.Background()

	if _, err := f.validator.Validate(ctx, token); err != nil {
		t.Fatalf("first validate: %v", err)
	}
	if _, err := f.validator.Validate(ctx, token); !errors.Is(err, ErrNonceAlreadyUsed) {
		t.Fatalf("replay: got %v, want ErrNonceAlreadyUsed", err)
	}
}

func TestValidateRequiresDeployment(t *testing.T) {
	f := newPlatformFixture(t)
	token := f.signIDToken(t, func(c jwt.MapClaims) { delete(c, ClaimDeploymentID) })
	if _, err := f.validator.Validate(context.Background(), token); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("got %v, want ErrInvalidRecord", err)
	}
}

func TestValidateJWKSFetchFailure(t *testing.T) {
	f := newPlatformFixture(t)
	token := f.signIDToken(t, nil)

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()
	broken := f.platform
	broken.AuthKey = down.URL
	store := NewMemStore()
	if err := store.PutPlatform(context.Background(), broken); err != nil {
		t.Fatalf("put platform: %v", err)
	}
	v := &Validator{Platforms: store, Replay: &ReplayGuard{States: store, Nonces: store}}

	if _, err := v.Validate(context.Background(), token); !errors.Is(err, ErrUpstream) {
		t.Fatalf("got %v, want ErrUpstream", err)
	}
}

func TestValidateUsesKeyCache(t *testing.T) {
	f := newPlatformFixture(t)
	ctx := context.Background()

	if _, err := f.validator.Validate(ctx, f.signIDToken(t, nil)); err != nil {
		t.Fatalf("first validate: %v", err)
	}
	if _, err := f.validator.Validate(ctx, f.signIDToken(t, nil)); err != nil {
		t.Fatalf("second validate: %v", err)
	}
	if f.jwksCalls != 1 {
		t.Fatalf("JWKS fetched %d times within TTL, want 1", f.jwksCalls)
	}
}
