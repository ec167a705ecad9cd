package identity_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/shraga-ai/shraga/internal/common/errors"
	"github.com/shraga-ai/shraga/internal/identity"
)

type staticTokens struct{}

func (staticTokens) Token(context.Context) (string, error) { return "tok", nil }

func TestResolveObjectID(t *testing.T) {
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"id":"aad-42"}`))
	}))
	defer server.Close()

	r := identity.NewHTTPResolver(server.URL, staticTokens{})
	id, err := r.ResolveObjectID(context.Background(), "alice@ex.com")
	require.NoError(t, err)
	assert.Equal(t, "aad-42", id)
	assert.Equal(t, "/users/alice@ex.com", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestResolveObjectIDNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	r := identity.NewHTTPResolver(server.URL, staticTokens{})
	_, err := r.ResolveObjectID(context.Background(), "ghost@ex.com")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestResolveObjectIDEmptyID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	r := identity.NewHTTPResolver(server.URL, staticTokens{})
	_, err := r.ResolveObjectID(context.Background(), "alice@ex.com")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestResolveObjectIDServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	r := identity.NewHTTPResolver(server.URL, staticTokens{})
	_, err := r.ResolveObjectID(context.Background(), "alice@ex.com")
	assert.True(t, apperrors.IsTransient(err))
}
