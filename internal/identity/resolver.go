// Package identity resolves user emails to directory object IDs through the
// external directory lookup. Only the lookup contract is implemented here;
// tenant specifics stay behind the endpoint configuration.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/shraga-ai/shraga/internal/common/errors"
)

// Resolver maps a user email to the directory object id used by the
// provisioning API.
type Resolver interface {
	ResolveObjectID(ctx context.Context, email string) (string, error)
}

// TokenProvider supplies bearer tokens scoped to the directory lookup.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// HTTPResolver resolves ids via GET <endpoint>/users/<email>?$select=id.
type HTTPResolver struct {
	Endpoint   string
	Tokens     TokenProvider
	HTTPClient *http.Client
}

// NewHTTPResolver creates a resolver against the given lookup endpoint.
func NewHTTPResolver(endpoint string, tokens TokenProvider) *HTTPResolver {
	return &HTTPResolver{
		Endpoint:   endpoint,
		Tokens:     tokens,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ResolveObjectID looks up the directory object id for an email.
func (r *HTTPResolver) ResolveObjectID(ctx context.Context, email string) (string, error) {
	token, err := r.Tokens.Token(ctx)
	if err != nil {
		return "", err
	}

	lookup := fmt.Sprintf("%s/users/%s?$select=id", r.Endpoint, url.PathEscape(email))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookup, nil)
	if err != nil {
		return "", apperrors.LogicError(fmt.Sprintf("bad lookup request: %v", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return "", apperrors.TransientIO("directory lookup failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.TransientIO("failed to read lookup response", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return "", apperrors.NotFound("directory user", email)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperrors.TransientIO(fmt.Sprintf("directory lookup returned %d", resp.StatusCode), nil)
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", apperrors.TransientIO("failed to decode lookup response", err)
	}
	if payload.ID == "" {
		return "", apperrors.NotFound("directory user", email)
	}
	return payload.ID, nil
}
