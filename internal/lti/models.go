package lti

import (
	"context"
	"time"
)

// Platform is a registered learning platform, unique by (URL, ClientID).
type Platform struct {
	URL                    string `json:"url"`  // issuer URL
	Name                   string `json:"name"` // product family code from registration
	ClientID               string `json:"client_id"`
	AuthenticationEndpoint string `json:"authentication_endpoint"`
	AccessTokenEndpoint    string `json:"accesstoken_endpoint"`
	AuthMethod             string `json:"auth_method"` // e.g. "JWK_SET"
	AuthKey                string `json:"auth_key"`    // JWKS URL for JWK_SET
	KID                    string `json:"kid"`         // key pair assigned at registration
}

// AuthMethodJWKSet means AuthKey is a JWKS URL to fetch platform keys from.
const AuthMethodJWKSet = "JWK_SET"

// KeyPair is a per-platform RSA key pair, both halves PEM-encoded.
type KeyPair struct {
	KID        string
	PublicPEM  string
	PrivatePEM string
}

// IdentityRecord is the stored claim bag of the last validated launch for a
// (issuer, client, deployment, user) tuple.
type IdentityRecord struct {
	Issuer       string
	ClientID     string
	DeploymentID string
	UserID       string
	Claims       Claims
}

/* ------------------------------- Storage ----------------------------------

The core talks to persistence only through these interfaces. SQL
implementations live in store_sql.go; mutex-guarded in-memory
implementations for dev/tests live in store_mem.go.
*/

// PlatformStore persists platform registrations.
type PlatformStore interface {
	// GetPlatform returns ErrPlatformNotFound when (issuer, clientID) is unknown.
	GetPlatform(ctx context.Context, issuer, clientID string) (Platform, error)
	// PutPlatform inserts a new platform; returns ErrConflict when the
	// (issuer, clientID) pair already exists. Never overwrites.
	PutPlatform(ctx context.Context, p Platform) error
	DeletePlatform(ctx context.Context, issuer, clientID string) error
	ListPlatforms(ctx context.Context) ([]Platform, error)
}

// KeyStore persists RSA key pairs by kid.
type KeyStore interface {
	SaveKeyPair(ctx context.Context, kp KeyPair) error
	// GetKeyPair returns ErrKeyNotFound for unknown kids.
	GetKeyPair(ctx context.Context, kid string) (KeyPair, error)
	// ListKeyPairs returns all pairs; callers must only expose public halves.
	ListKeyPairs(ctx context.Context) ([]KeyPair, error)
	DeleteKeyPair(ctx context.Context, kid string) error
}

// StateStore persists pending launch states. TakeState must be an atomic
// retrieve-and-delete: two concurrent callers must not both succeed.
type StateStore interface {
	PutState(ctx context.Context, state, issuer string, expiresAt time.Time) error
	// TakeState deletes and returns the binding; ErrStateNotFound when the
	// state is unknown, expired, or already consumed.
	TakeState(ctx context.Context, state string, now time.Time) (string, error)
}

// NonceStore tracks consumed nonces per platform key. MarkNonce must be an
// atomic insert-if-absent; it reports whether this was the first use.
type NonceStore interface {
	MarkNonce(ctx context.Context, platformKey, nonce string, expiresAt time.Time) (bool, error)
}

// IdentityStore persists identity records keyed by the canonical 4-tuple.
type IdentityStore interface {
	// PutIdentity upserts; last write wins.
	PutIdentity(ctx context.Context, rec IdentityRecord) error
	// GetIdentity returns ErrRecordNotFound for unknown tuples.
	GetIdentity(ctx context.Context, issuer, clientID, deploymentID, userID string) (IdentityRecord, error)
}
