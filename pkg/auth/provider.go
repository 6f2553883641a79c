package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ai4ops/fleet-mcp/pkg/types"
)

const (
	// DefaultHTTPTimeout is the default timeout for token endpoint requests.
	DefaultHTTPTimeout = 30 * time.Second

	imdsEndpoint    = "http://169.254.169.254/metadata/identity/oauth2/token"
	imdsAPIVersion  = "2018-02-01"
	defaultLoginURL = "https://login.microsoftonline.com"
)

// Token is a bearer token with its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenProvider supplies bearer tokens for an Azure resource audience
// (for example "https://management.azure.com").
type TokenProvider interface {
	Token(ctx context.Context, resource string) (Token, error)
}

// tokenResponse is the wire shape shared by the AAD token endpoint and IMDS.
type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
	ExpiresOn   json.Number `json:"expires_on"`
}

func (r *tokenResponse) expiry(now time.Time) time.Time {
	if v, err := r.ExpiresOn.Int64(); err == nil && v > 0 {
		return time.Unix(v, 0)
	}
	if v, err := r.ExpiresIn.Int64(); err == nil && v > 0 {
		return now.Add(time.Duration(v) * time.Second)
	}
	// Conservative fallback when the endpoint omits expiry information.
	return now.Add(5 * time.Minute)
}

// ClientSecretProvider obtains tokens via the OAuth2 client-credentials flow
// against Azure AD.
type ClientSecretProvider struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// LoginURL overrides the AAD authority, used by tests.
	LoginURL   string
	HTTPClient *http.Client
}

func (p *ClientSecretProvider) Token(ctx context.Context, resource string) (Token, error) {
	if p.TenantID == "" || p.ClientID == "" || p.ClientSecret == "" {
		return Token{}, fmt.Errorf("client-secret credentials not configured")
	}

	loginURL := p.LoginURL
	if loginURL == "" {
		loginURL = defaultLoginURL
	}
	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimSuffix(loginURL, "/"), p.TenantID)

	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {p.ClientID},
		"client_secret": {p.ClientSecret},
		"scope":         {strings.TrimSuffix(resource, "/") + "/.default"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return doTokenRequest(p.httpClient(), req)
}

func (p *ClientSecretProvider) httpClient() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return &http.Client{Timeout: DefaultHTTPTimeout}
}

// ManagedIdentityProvider obtains tokens from the Azure instance metadata
// service. Only usable on Azure-hosted compute.
type ManagedIdentityProvider struct {
	// Endpoint overrides the IMDS endpoint, used by tests.
	Endpoint   string
	HTTPClient *http.Client
}

func (p *ManagedIdentityProvider) Token(ctx context.Context, resource string) (Token, error) {
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = imdsEndpoint
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Token{}, fmt.Errorf("failed to create IMDS request: %w", err)
	}
	q := req.URL.Query()
	q.Set("api-version", imdsAPIVersion)
	q.Set("resource", resource)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Metadata", "true")

	client := p.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return doTokenRequest(client, req)
}

// ChainedProvider tries each provider in order and returns the first token
// obtained. Mirrors the credential-chain fallbacks of the hosting platform:
// explicit client secret first, managed identity last.
type ChainedProvider struct {
	Providers []TokenProvider
}

func (p *ChainedProvider) Token(ctx context.Context, resource string) (Token, error) {
	var lastErr error
	for _, prov := range p.Providers {
		tok, err := prov.Token(ctx, resource)
		if err == nil {
			return tok, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Token{}, ctx.Err()
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no token providers configured")
	}
	return Token{}, fmt.Errorf("all token providers failed: %w", lastErr)
}

func doTokenRequest(client *http.Client, req *http.Request) (Token, error) {
	resp, err := client.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Token{}, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Token{}, &types.AuthError{Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return Token{}, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, strconv.Quote(truncate(string(body), 200)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return Token{}, fmt.Errorf("token response missing access_token")
	}

	return Token{Value: tr.AccessToken, ExpiresAt: tr.expiry(time.Now())}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
