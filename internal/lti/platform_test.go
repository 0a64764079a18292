package lti

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

// fakePlatformServer serves an OpenID configuration and a registration
// endpoint the way a platform does during dynamic registration.
func fakePlatformServer(t *testing.T, clientID, wantToken string) (*httptest.Server, *registrationRequest) {
	t.Helper()
	var lastReg registrationRequest
	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 "https://platform.example",
			"token_endpoint":         srv.URL + "/token",
			"jwks_uri":               srv.URL + "/jwks",
			"authorization_endpoint": srv.URL + "/auth",
			"registration_endpoint":  srv.URL + "/register",
			"claims_supported":       []string{"iss", "sub", "name"},
			"https://purl.imsglobal.org/spec/lti-platform-configuration": map[string]any{
				"product_family_code": "moodle",
			},
		})
	})
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		if wantToken != "" && r.Header.Get("Authorization") != "Bearer "+wantToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&lastReg); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"client_id": clientID})
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &lastReg
}

func newTestRegistry(store *MemStore) *Registry {
	return &Registry{
		Platforms: store,
		Keys:      &KeyManager{Storage: store, RSAKeyBits: 1024},
		ServerURL: "https://tool.example",
		ToolName:  "Quezzio",
	}
}

func TestRegisterPersistsPlatformAndKeyPair(t *testing.T) {
	ctx := context.Background()
	srv, lastReg := fakePlatformServer(t, "client-42", "tok-123")
	store := NewMemStore()
	reg := newTestRegistry(store)

	platform, err := reg.Register(ctx, srv.URL+"/.well-known/openid-configuration", "tok-123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if platform.URL != "https://platform.example" || platform.ClientID != "client-42" {
		t.Fatalf("platform identity mismatch: %+v", platform)
	}
	if platform.Name != "moodle" {
		t.Fatalf("platform name = %q, want product family code", platform.Name)
	}
	if platform.AuthMethod != AuthMethodJWKSet || platform.AuthKey != srv.URL+"/jwks" {
		t.Fatalf("key retrieval config mismatch: %+v", platform)
	}
	if platform.KID == "" {
		t.Fatal("no key pair assigned")
	}
	if _, err := reg.Keys.PrivateKey(ctx, platform.KID); err != nil {
		t.Fatalf("assigned key pair not retrievable: %v", err)
	}
	if got, err := store.GetPlatform(ctx, platform.URL, platform.ClientID); err != nil || got.KID != platform.KID {
		t.Fatalf("stored platform mismatch: %+v, %v", got, err)
	}

	// The registration request must advertise both launch endpoints.
	if lastReg.ApplicationType != "web" || lastReg.TokenEndpointAuthMethod != "private_key_jwt" {
		t.Fatalf("unexpected registration request: %+v", lastReg)
	}
	wantRedirects := []string{"https://tool.example/launch", "https://tool.example/deep-link-launch"}
	if len(lastReg.RedirectURIs) != 2 || lastReg.RedirectURIs[0] != wantRedirects[0] || lastReg.RedirectURIs[1] != wantRedirects[1] {
		t.Fatalf("redirect_uris = %v, want %v", lastReg.RedirectURIs, wantRedirects)
	}
	if lastReg.JWKSURI != "https://tool.example/keys" || lastReg.InitiateLoginURI != "https://tool.example/login" {
		t.Fatalf("tool endpoints mismatch: %+v", lastReg)
	}
	if len(lastReg.ToolConfiguration.Messages) != 2 {
		t.Fatalf("messages = %v, want resource link + deep linking", lastReg.ToolConfiguration.Messages)
	}
}

func TestRegisterConflictKeepsFirstRegistration(t *testing.T) {
	ctx := context.Background()
	srv, _ := fakePlatformServer(t, "client-42", "")
	store := NewMemStore()
	reg := newTestRegistry(store)

	first, err := reg.Register(ctx, srv.URL+"/.well-known/openid-configuration", "")
	if err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if _, err := reg.Register(ctx, srv.URL+"/.well-known/openid-configuration", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("second Register: got %v, want ErrConflict", err)
	}

	got, err := store.GetPlatform(ctx, first.URL, first.ClientID)
	if err != nil || got.KID != first.KID {
		t.Fatalf("first registration disturbed: %+v, %v", got, err)
	}
	pairs, err := store.ListKeyPairs(ctx)
	if err != nil {
		t.Fatalf("ListKeyPairs: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("%d key pairs after rejected re-registration, want 1", len(pairs))
	}
}

func TestRegisterUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	reg := newTestRegistry(NewMemStore())
	if _, err := reg.Register(context.Background(), srv.URL+"/config", ""); !errors.Is(err, ErrUpstream) {
		t.Fatalf("got %v, want ErrUpstream", err)
	}
}

func TestDeleteRemovesKeyPair(t *testing.T) {
	ctx := context.Background()
	srv, _ := fakePlatformServer(t, "client-42", "")
	store := NewMemStore()
	reg := newTestRegistry(store)

	platform, err := reg.Register(ctx, srv.URL+"/.well-known/openid-configuration", "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Delete(ctx, platform.URL, platform.ClientID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.GetPlatform(ctx, platform.URL, platform.ClientID); !errors.Is(err, ErrPlatformNotFound) {
		t.Fatalf("platform still present: %v", err)
	}
	if _, err := reg.Keys.PrivateKey(ctx, platform.KID); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("key pair still present: %v", err)
	}
}

func TestAuthRequestURL(t *testing.T) {
	p := Platform{AuthenticationEndpoint: "https://platform.example/auth"}
	raw := AuthRequestURL(p, "client-1", "https://tool.example/launch", "hint-1", "msg-1", "dep-1", "state-1", "nonce-1")

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	want := map[string]string{
		"response_type":                "id_token",
		"response_mode":                "form_post",
		"id_token_signed_response_alg": "RS256",
		"scope":                        "openid",
		"prompt":                       "none",
		"client_id":                    "client-1",
		"redirect_uri":                 "https://tool.example/launch",
		"login_hint":                   "hint-1",
		"lti_message_hint":             "msg-1",
		"lti_deployment_id":            "dep-1",
		"state":                        "state-1",
		"nonce":                        "nonce-1",
	}
	for k, v := range want {
		if q.Get(k) != v {
			t.Fatalf("%s = %q, want %q", k, q.Get(k), v)
		}
	}
}
