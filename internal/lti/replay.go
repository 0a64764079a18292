package lti

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

/*
Replay guard for the launch handshake.

Two distinct threats, two distinct tables:

  - state: CSRF token minted at login initiation, bound to the issuer that
    started the flow, round-tripped through the browser, consumed exactly
    once on the callback.
  - nonce: single-use value inside the id_token itself, scoped per platform
    so equal raw values from different platforms never collide.

Both checks are atomic check-and-delete / check-and-mark in the store; the
guard holds no cross-request state of its own.
*/

// ReplayGuard issues launch states and enforces single use of states and nonces.
type ReplayGuard struct {
	States StateStore
	Nonces NonceStore

	// Optional knobs
	StateTTL time.Duration // default 1 minute
	NonceTTL time.Duration // default 10 minutes
	Now      func() time.Time
}

// BeginState generates a random opaque state and persists the state->issuer
// binding with a short absolute expiry.
func (g *ReplayGuard) BeginState(ctx context.Context, issuer string) (string, error) {
	b := make([]byte, 25)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("replay: state entropy: %w", err)
	}
	state := hex.EncodeToString(b)
	if err := g.States.PutState(ctx, state, issuer, g.now().Add(g.stateTTL())); err != nil {
		return "", fmt.Errorf("replay: persist state: %w", err)
	}
	return state, nil
}

// ConsumeState atomically retrieves and deletes the binding, returning the
// issuer it was created for. A second call with the same state fails with
// ErrStateNotFound.
func (g *ReplayGuard) ConsumeState(ctx context.Context, state string) (string, error) {
	return g.States.TakeState(ctx, state, g.now())
}

// CheckNonce records the nonce against the platform key and rejects
// duplicates with ErrNonceAlreadyUsed.
func (g *ReplayGuard) CheckNonce(ctx context.Context, platformKey, nonce string) error {
	ok, err := g.Nonces.MarkNonce(ctx, platformKey, nonce, g.now().Add(g.nonceTTL()))
	if err != nil {
		return fmt.Errorf("replay: mark nonce: %w", err)
	}
	if !ok {
		return ErrNonceAlreadyUsed
	}
	return nil
}

// NewNonce returns a fresh random nonce for outbound requests and assertions.
func NewNonce() string {
	b := make([]byte, 25)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// StateCookieName derives the cookie name carrying the issuer binding for a
// given state. Keying the cookie off the state value lets multiple
// concurrent logins from the same browser coexist.
func StateCookieName(state string) string {
	sum := sha256.Sum256([]byte(state))
	return "lti-state-" + hex.EncodeToString(sum[:4])
}

func (g *ReplayGuard) stateTTL() time.Duration {
	if g.StateTTL > 0 {
		return g.StateTTL
	}
	return time.Minute
}

func (g *ReplayGuard) nonceTTL() time.Duration {
	if g.NonceTTL > 0 {
		return g.NonceTTL
	}
	return 10 * time.Minute
}

func (g *ReplayGuard) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now().UTC()
}
