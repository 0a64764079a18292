package lti

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

/*
Key manager for the tool's per-platform signing keys.

Each platform registration gets its own RSA-2048 pair, referenced by kid.
The private half signs outbound assertions to that platform (deep-linking
responses, client assertions); the public halves are published as a JWKS at
/keys so platforms can verify tool-signed JWTs. Kids are uuids and are
never reused after deletion.
*/

// JWKS is a JSON Web Key Set, i.e. { "keys": [ JWK, ... ] }.
type JWKS struct {
	Keys []map[string]any `json:"keys"`
}

// KeyManager generates, stores, and serves per-platform RSA key pairs.
type KeyManager struct {
	Storage KeyStore

	// RSAKeyBits defaults to 2048.
	RSAKeyBits int
}

// GenerateKeyPair creates a new RSA pair, persists both PEM halves under a
// fresh kid, and returns the kid for association with a platform record.
func (km *KeyManager) GenerateKeyPair(ctx context.Context) (string, error) {
	if km.Storage == nil {
		return "", errors.New("keys: storage not configured")
	}
	priv, err := rsa.GenerateKey(rand.Reader, km.rsaBits())
	if err != nil {
		return "", fmt.Errorf("keys: rsa generate: %w", err)
	}
	kid := uuid.NewString()
	kp := KeyPair{
		KID:        kid,
		PublicPEM:  encodePublicPEM(&priv.PublicKey),
		PrivatePEM: encodePrivatePEM(priv),
	}
	if err := km.Storage.SaveKeyPair(ctx, kp); err != nil {
		return "", fmt.Errorf("keys: save pair: %w", err)
	}
	return kid, nil
}

// PublicKeySet returns every stored public key as a JWKS entry.
func (km *KeyManager) PublicKeySet(ctx context.Context) (JWKS, error) {
	if km.Storage == nil {
		return JWKS{}, errors.New("keys: storage not configured")
	}
	pairs, err := km.Storage.ListKeyPairs(ctx)
	if err != nil {
		return JWKS{}, err
	}
	set := JWKS{Keys: []map[string]any{}}
	for _, kp := range pairs {
		pub, err := decodePublicPEM(kp.PublicPEM)
		if err != nil {
			return JWKS{}, fmt.Errorf("keys: decode public %q: %w", kp.KID, err)
		}
		if jwk := RSAPublicJWK(pub, kp.KID, "RS256"); jwk != nil {
			set.Keys = append(set.Keys, jwk)
		}
	}
	return set, nil
}

// PrivateKey returns the private half for kid, or ErrKeyNotFound.
func (km *KeyManager) PrivateKey(ctx context.Context, kid string) (*rsa.PrivateKey, error) {
	if km.Storage == nil {
		return nil, errors.New("keys: storage not configured")
	}
	kp, err := km.Storage.GetKeyPair(ctx, kid)
	if err != nil {
		return nil, err
	}
	return decodePrivatePEM(kp.PrivatePEM)
}

// DeleteKeyPair removes the pair for kid. Called only when the owning
// platform registration is removed.
func (km *KeyManager) DeleteKeyPair(ctx context.Context, kid string) error {
	if km.Storage == nil {
		return errors.New("keys: storage not configured")
	}
	return km.Storage.DeleteKeyPair(ctx, kid)
}

func (km *KeyManager) rsaBits() int {
	if km.RSAKeyBits > 0 {
		return km.RSAKeyBits
	}
	return 2048
}

// RSAPublicJWK builds a minimal RSA JWK map (n,e) for the given key.
func RSAPublicJWK(pub *rsa.PublicKey, kid, alg string) map[string]any {
	if pub == nil || pub.N == nil || pub.E == 0 {
		return nil
	}
	return map[string]any{
		"kty": "RSA",
		"kid": kid,
		"alg": alg,
		"use": "sig",
		"n":   bigIntToB64(pub.N),
		"e":   intToB64(pub.E),
	}
}

// RSAPublicKeyFromJWK converts a JWK map back into an rsa.PublicKey.
func RSAPublicKeyFromJWK(jwk map[string]any) (*rsa.PublicKey, error) {
	nStr, _ := jwk["n"].(string)
	eStr, _ := jwk["e"].(string)
	if nStr == "" || eStr == "" {
		return nil, errors.New("keys: jwk missing n/e")
	}
	nb, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("keys: jwk n: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("keys: jwk e: %w", err)
	}
	e := 0
	for _, b := range eb {
		e = (e << 8) | int(b)
	}
	if e == 0 {
		return nil, errors.New("keys: jwk exponent is zero")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}

/* ------------------------------ PEM helpers -------------------------------- */

func encodePrivatePEM(priv *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	}))
}

func encodePublicPEM(pub *rsa.PublicKey) string {
	der, _ := x509.MarshalPKIXPublicKey(pub)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func decodePrivatePEM(s string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, errors.New("keys: no PEM block in private key")
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

func decodePublicPEM(s string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, errors.New("keys: no PEM block in public key")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("keys: not an RSA public key")
	}
	return pub, nil
}

func bigIntToB64(n *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(n.FillBytes(make([]byte, (n.BitLen()+7)/8)))
}

func intToB64(e int) string {
	b := big.NewInt(int64(e)).Bytes()
	return base64.RawURLEncoding.EncodeToString(b)
}
