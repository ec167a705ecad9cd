package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	apperrors "github.com/shraga-ai/shraga/internal/common/errors"
)

// tokenRefreshInterval is how long a cached token is reused before a new one
// is fetched. Tokens are issued for 60 minutes; refreshing at 55 leaves slack.
const tokenRefreshInterval = 55 * time.Minute

// TokenProvider supplies bearer tokens for the directory store.
// Implementations must be safe for concurrent use.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// EnvTokenProvider reads a pre-acquired token from an environment variable.
// Used in development and in tests.
type EnvTokenProvider struct {
	Var string
}

// Token returns the token from the configured environment variable.
func (p *EnvTokenProvider) Token(ctx context.Context) (string, error) {
	if v := os.Getenv(p.Var); v != "" {
		return v, nil
	}
	return "", apperrors.AuthFailure(fmt.Sprintf("environment variable %s is empty", p.Var), nil)
}

// ClientCredentialsProvider fetches tokens via the OAuth2 client-credentials
// flow and caches them for tokenRefreshInterval.
type ClientCredentialsProvider struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
	HTTPClient   *http.Client

	mu        sync.Mutex
	token     string
	fetchedAt time.Time
}

// NewClientCredentialsProvider builds a provider for the given tenant and scope.
func NewClientCredentialsProvider(tenantID, clientID, clientSecret, scope string) *ClientCredentialsProvider {
	return &ClientCredentialsProvider{
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scope:        scope,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Token returns a cached token, refreshing it when the cache is older than
// tokenRefreshInterval.
func (p *ClientCredentialsProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && time.Since(p.fetchedAt) < tokenRefreshInterval {
		return p.token, nil
	}

	token, err := p.fetch(ctx)
	if err != nil {
		return "", err
	}
	p.token = token
	p.fetchedAt = time.Now()
	return token, nil
}

func (p *ClientCredentialsProvider) fetch(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", p.ClientID)
	form.Set("client_secret", p.ClientSecret)
	form.Set("scope", p.Scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", apperrors.AuthFailure("failed to build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return "", apperrors.AuthFailure("token request failed; interactive login may be required", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.AuthFailure(fmt.Sprintf("token endpoint returned %d; interactive login may be required", resp.StatusCode), nil)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", apperrors.AuthFailure("failed to decode token response", err)
	}
	if body.AccessToken == "" {
		return "", apperrors.AuthFailure("token response contained no access_token", nil)
	}
	return body.AccessToken, nil
}

// StaticTokenProvider returns a fixed token. Used by tests.
type StaticTokenProvider struct {
	Value string
}

// Token returns the fixed token.
func (p *StaticTokenProvider) Token(ctx context.Context) (string, error) {
	return p.Value, nil
}
