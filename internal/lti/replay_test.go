package lti

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestStateConsumedExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	guard := &ReplayGuard{States: store, Nonces: store}

	state, err := guard.BeginState(ctx, "https://platform.example")
	if err != nil {
		t.Fatalf("BeginState: %v", err)
	}
	if state == "" {
		t.Fatal("empty state")
	}

	issuer, err := guard.ConsumeState(ctx, state)
	if err != nil {
		t.Fatalf("ConsumeState: %v", err)
	}
	if issuer != "https://platform.example" {
		t.Fatalf("issuer = %q, want the one bound at BeginState", issuer)
	}

	if _, err := guard.ConsumeState(ctx, state); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("second consume: got %v, want ErrStateNotFound", err)
	}
}

func TestStateExpires(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	guard := &ReplayGuard{States: store, Nonces: store, Now: func() time.Time { return now }}

	state, err := guard.BeginState(ctx, "https://platform.example")
	if err != nil {
		t.Fatalf("BeginState: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := guard.ConsumeState(ctx, state); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("expired consume: got %v, want ErrStateNotFound", err)
	}
}

func TestNonceSingleUsePerPlatform(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	guard := &ReplayGuard{States: store, Nonces: store}

	nonce := NewNonce()
	if err := guard.CheckNonce(ctx, "https://a.example:client-1", nonce); err != nil {
		t.Fatalf("first use: %v", err)
	}
	if err := guard.CheckNonce(ctx, "https://a.example:client-1", nonce); !errors.Is(err, ErrNonceAlreadyUsed) {
		t.Fatalf("replay: got %v, want ErrNonceAlreadyUsed", err)
	}
	// The same raw value from a different platform is a different nonce.
	if err := guard.CheckNonce(ctx, "https://b.example:client-2", nonce); err != nil {
		t.Fatalf("other platform: %v", err)
	}
}

func TestStateCookieName(t *testing.T) {
	a := StateCookieName("state-a")
	b := StateCookieName("state-b")
	if a == b {
		t.Fatal("distinct states must map to distinct cookie names")
	}
	if a != StateCookieName("state-a") {
		t.Fatal("cookie name must be deterministic")
	}
	if !strings.HasPrefix(a, "lti-state-") {
		t.Fatalf("cookie name %q lacks prefix", a)
	}
}
