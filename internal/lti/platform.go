package lti

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

/*
Platform registry: lookup plus LTI Dynamic Registration.

Register fetches the platform's published OpenID configuration, submits a
tool registration bearing the one-time registration token, and persists the
resulting platform record together with a freshly generated key pair.
Re-registration of the same (issuer, client_id) is rejected with
ErrConflict; replacing a trusted key pair must be an explicit operator
action (delete, then register again).
*/

// Registry persists platform metadata and performs dynamic registration.
type Registry struct {
	Platforms PlatformStore
	Keys      *KeyManager
	HTTP      *http.Client

	// ServerURL is the tool's public base URL used to build redirect URIs.
	ServerURL string
	ToolName  string
	LogoURL   string
}

// openIDConfiguration is the subset of the platform's discovery document we
// consume during registration.
type openIDConfiguration struct {
	Issuer                string   `json:"issuer"`
	TokenEndpoint         string   `json:"token_endpoint"`
	JWKSURI               string   `json:"jwks_uri"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	RegistrationEndpoint  string   `json:"registration_endpoint"`
	ClaimsSupported       []string `json:"claims_supported"`
	PlatformConfiguration struct {
		ProductFamilyCode string `json:"product_family_code"`
	} `json:"https://purl.imsglobal.org/spec/lti-platform-configuration"`
}

type toolConfiguration struct {
	Domain           string            `json:"domain"`
	Description      string            `json:"description"`
	TargetLinkURI    string            `json:"target_link_uri"`
	CustomParameters map[string]string `json:"custom_parameters"`
	Claims           []string          `json:"claims"`
	Messages         []toolMessage     `json:"messages"`
}

type toolMessage struct {
	Type          string `json:"type"`
	TargetLinkURI string `json:"target_link_uri,omitempty"`
}

type registrationRequest struct {
	ApplicationType         string            `json:"application_type"`
	GrantTypes              []string          `json:"grant_types"`
	ResponseTypes           []string          `json:"response_types"`
	RedirectURIs            []string          `json:"redirect_uris"`
	InitiateLoginURI        string            `json:"initiate_login_uri"`
	ClientName              string            `json:"client_name"`
	JWKSURI                 string            `json:"jwks_uri"`
	LogoURI                 string            `json:"logo_uri,omitempty"`
	TokenEndpointAuthMethod string            `json:"token_endpoint_auth_method"`
	Scope                   string            `json:"scope"`
	ToolConfiguration       toolConfiguration `json:"https://purl.imsglobal.org/spec/lti-tool-configuration"`
}

// Lookup returns the platform for (issuer, clientID) or ErrPlatformNotFound.
func (r *Registry) Lookup(ctx context.Context, issuer, clientID string) (Platform, error) {
	return r.Platforms.GetPlatform(ctx, issuer, clientID)
}

// List returns every registered platform.
func (r *Registry) List(ctx context.Context) ([]Platform, error) {
	return r.Platforms.ListPlatforms(ctx)
}

// Register performs dynamic registration against the platform's OpenID
// configuration and persists the resulting platform + key pair.
func (r *Registry) Register(ctx context.Context, configurationURL, registrationToken string) (Platform, error) {
	cfg, err := r.fetchConfiguration(ctx, configurationURL)
	if err != nil {
		return Platform{}, err
	}

	clientID, err := r.submitRegistration(ctx, cfg, registrationToken)
	if err != nil {
		return Platform{}, err
	}

	// Refuse to orphan an existing key pair before generating a new one.
	if _, err := r.Platforms.GetPlatform(ctx, cfg.Issuer, clientID); err == nil {
		return Platform{}, ErrConflict
	} else if !errors.Is(err, ErrPlatformNotFound) {
		return Platform{}, err
	}

	kid, err := r.Keys.GenerateKeyPair(ctx)
	if err != nil {
		return Platform{}, err
	}
	platform := Platform{
		URL:                    cfg.Issuer,
		Name:                   cfg.PlatformConfiguration.ProductFamilyCode,
		ClientID:               clientID,
		AuthenticationEndpoint: cfg.AuthorizationEndpoint,
		AccessTokenEndpoint:    cfg.TokenEndpoint,
		AuthMethod:             AuthMethodJWKSet,
		AuthKey:                cfg.JWKSURI,
		KID:                    kid,
	}
	if err := r.Platforms.PutPlatform(ctx, platform); err != nil {
		if errors.Is(err, ErrConflict) {
			// Lost a race with a concurrent registration; drop our pair.
			_ = r.Keys.DeleteKeyPair(ctx, kid)
		}
		return Platform{}, err
	}
	return platform, nil
}

// Delete removes a registration and destroys its key pair.
func (r *Registry) Delete(ctx context.Context, issuer, clientID string) error {
	platform, err := r.Platforms.GetPlatform(ctx, issuer, clientID)
	if err != nil {
		return err
	}
	if err := r.Platforms.DeletePlatform(ctx, issuer, clientID); err != nil {
		return err
	}
	return r.Keys.DeleteKeyPair(ctx, platform.KID)
}

func (r *Registry) fetchConfiguration(ctx context.Context, configurationURL string) (openIDConfiguration, error) {
	var cfg openIDConfiguration
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, configurationURL, nil)
	if err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.httpClient().Do(req)
	if err != nil {
		return cfg, fmt.Errorf("%w: openid configuration: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return cfg, fmt.Errorf("%w: openid configuration: status %d", ErrUpstream, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: openid configuration decode: %v", ErrUpstream, err)
	}
	if cfg.Issuer == "" || cfg.RegistrationEndpoint == "" {
		return cfg, fmt.Errorf("%w: openid configuration incomplete", ErrUpstream)
	}
	return cfg, nil
}

func (r *Registry) submitRegistration(ctx context.Context, cfg openIDConfiguration, registrationToken string) (string, error) {
	base := strings.TrimSuffix(r.ServerURL, "/")
	launchURL := base + "/launch"
	deepLinkURL := base + "/deep-link-launch"

	reqBody := registrationRequest{
		ApplicationType:         "web",
		GrantTypes:              []string{"implicit", "client_credentials"},
		ResponseTypes:           []string{"id_token"},
		RedirectURIs:            []string{launchURL, deepLinkURL},
		InitiateLoginURI:        base + "/login",
		ClientName:              r.ToolName,
		JWKSURI:                 base + "/keys",
		LogoURI:                 r.LogoURL,
		TokenEndpointAuthMethod: "private_key_jwt",
		Scope:                   strings.Join(RegistrationScopes, " "),
		ToolConfiguration: toolConfiguration{
			Domain:           base,
			Description:      r.ToolName + " LTI tool",
			TargetLinkURI:    launchURL,
			CustomParameters: map[string]string{},
			Claims:           cfg.ClaimsSupported,
			Messages: []toolMessage{
				{Type: MessageTypeResourceLink},
				{Type: MessageTypeDeepLinkingRequest, TargetLinkURI: deepLinkURL},
			},
		},
	}
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("registry: marshal registration: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.RegistrationEndpoint, bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if registrationToken != "" {
		req.Header.Set("Authorization", "Bearer "+registrationToken)
	}
	resp, err := r.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: registration post: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("%w: registration post: status %d", ErrUpstream, resp.StatusCode)
	}
	var out struct {
		ClientID string `json:"client_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: registration decode: %v", ErrUpstream, err)
	}
	if out.ClientID == "" {
		return "", fmt.Errorf("%w: registration response lacks client_id", ErrUpstream)
	}
	return out.ClientID, nil
}

func (r *Registry) httpClient() *http.Client {
	if r.HTTP != nil {
		return r.HTTP
	}
	return http.DefaultClient
}

// AuthRequestURL builds the platform authentication redirect for a login
// initiation, carrying the freshly issued state and nonce.
func AuthRequestURL(p Platform, clientID, redirectURI, loginHint, messageHint, deploymentID, state, nonce string) string {
	q := url.Values{}
	q.Set("response_type", "id_token")
	q.Set("response_mode", "form_post")
	q.Set("id_token_signed_response_alg", "RS256")
	q.Set("scope", "openid")
	q.Set("prompt", "none")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("login_hint", loginHint)
	q.Set("state", state)
	q.Set("nonce", nonce)
	if messageHint != "" {
		q.Set("lti_message_hint", messageHint)
	}
	if deploymentID != "" {
		q.Set("lti_deployment_id", deploymentID)
	}
	return p.AuthenticationEndpoint + "?" + q.Encode()
}
