package lti

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

/*
Outbound platform calls: access-token acquisition + NRPS roster fetch.

The tool authenticates at the platform's token endpoint with
client_credentials and a private_key_jwt client assertion signed by the
key pair assigned to that platform at registration. Failures surface as
ErrUpstream immediately; retry is the caller's concern.
*/

const clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// MembershipClient fetches rosters from a platform's NRPS endpoint.
type MembershipClient struct {
	Keys *KeyManager
	HTTP *http.Client
	Now  func() time.Time
}

// PlatformToken is a platform-issued bearer access token.
type PlatformToken struct {
	Token string
	Type  string
}

// AccessToken obtains a platform-issued bearer token for the given scopes.
func (c *MembershipClient) AccessToken(ctx context.Context, p Platform, scopes []string) (PlatformToken, error) {
	assertion, err := c.clientAssertion(ctx, p)
	if err != nil {
		return PlatformToken{}, err
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_assertion_type", clientAssertionType)
	form.Set("client_assertion", assertion)
	form.Set("scope", strings.Join(scopes, " "))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.AccessTokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return PlatformToken{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return PlatformToken{}, fmt.Errorf("%w: token request: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return PlatformToken{}, fmt.Errorf("%w: token request: status %d", ErrUpstream, resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return PlatformToken{}, fmt.Errorf("%w: token decode: %v", ErrUpstream, err)
	}
	if out.AccessToken == "" {
		return PlatformToken{}, fmt.Errorf("%w: empty access token", ErrUpstream)
	}
	if out.TokenType == "" {
		out.TokenType = "Bearer"
	}
	return PlatformToken{Token: out.AccessToken, Type: out.TokenType}, nil
}

// clientAssertion signs the private_key_jwt assertion (iss = sub = client_id,
// aud = token endpoint) with the platform's assigned key pair.
func (c *MembershipClient) clientAssertion(ctx context.Context, p Platform) (string, error) {
	priv, err := c.Keys.PrivateKey(ctx, p.KID)
	if err != nil {
		return "", err
	}
	now := c.now()
	claims := jwt.MapClaims{
		"iss": p.ClientID,
		"sub": p.ClientID,
		"aud": p.AccessTokenEndpoint,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
		"jti": NewNonce(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = p.KID
	signed, err := tok.SignedString(priv)
	if err != nil {
		return "", fmt.Errorf("nrps: sign client assertion: %w", err)
	}
	return signed, nil
}

// FetchMemberships retrieves the NRPS membership container from
// membershipURL using a freshly acquired access token.
func (c *MembershipClient) FetchMemberships(ctx context.Context, p Platform, membershipURL string) (json.RawMessage, error) {
	tok, err := c.AccessToken(ctx, p, []string{ScopeMembershipReadonly})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, membershipURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Authorization", tok.Type+" "+tok.Token)
	req.Header.Set("Accept", "application/vnd.ims.lti-nrps.v2.membershipcontainer+json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: membership fetch: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: membership fetch: status %d", ErrUpstream, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: membership read: %v", ErrUpstream, err)
	}
	return body, nil
}

func (c *MembershipClient) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 15 * time.Second}
}

func (c *MembershipClient) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}
