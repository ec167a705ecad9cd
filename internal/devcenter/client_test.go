package devcenter_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/shraga-ai/shraga/internal/common/errors"
	"github.com/shraga-ai/shraga/internal/common/logger"
	"github.com/shraga-ai/shraga/internal/devcenter"
)

type staticTokens struct{}

func (staticTokens) Token(context.Context) (string, error) { return "tok", nil }

type capturedRequest struct {
	method string
	path   string
	body   map[string]string
	auth   string
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*devcenter.Client, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.auth = r.Header.Get("Authorization")
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&captured.body)
		}
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	client := devcenter.NewClient(devcenter.Config{
		Endpoint:           server.URL,
		Project:            "proj",
		Pool:               "pool-1",
		CustomizationGroup: "tools",
	}, staticTokens{}, log)
	return client, captured
}

func TestCreateDevBox(t *testing.T) {
	client, captured := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"name":"box-1","provisioningState":"Creating","poolName":"pool-1"}`))
	})

	box, err := client.CreateDevBox(context.Background(), "aad-1", "box-1")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, captured.method)
	assert.Equal(t, "/projects/proj/users/aad-1/devboxes/box-1", captured.path)
	assert.Equal(t, "Bearer tok", captured.auth)
	assert.Equal(t, "pool-1", captured.body["poolName"])
	assert.Equal(t, "Creating", box.ProvisioningState)
}

func TestGetDevBoxNotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetDevBox(context.Background(), "aad-1", "box-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGetDevBoxAuthFailure(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := client.GetDevBox(context.Background(), "aad-1", "box-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err)) // auth failures retry like I/O
}

func TestServerErrorIsRetried(t *testing.T) {
	attempts := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"name":"box-1","provisioningState":"Succeeded"}`))
	})

	box, err := client.GetDevBox(context.Background(), "aad-1", "box-1")
	require.NoError(t, err)
	assert.Equal(t, devcenter.StateSucceeded, box.ProvisioningState)
	assert.Equal(t, 2, attempts)
}

func TestApplyAndGetCustomization(t *testing.T) {
	client, captured := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"tools","status":"Running"}`))
	})

	require.NoError(t, client.ApplyCustomization(context.Background(), "aad-1", "box-1"))
	assert.Equal(t, "/projects/proj/users/aad-1/devboxes/box-1/customizationGroups/tools", captured.path)
	assert.Equal(t, http.MethodPut, captured.method)

	cust, err := client.GetCustomization(context.Background(), "aad-1", "box-1")
	require.NoError(t, err)
	assert.Equal(t, "Running", cust.Status)
	assert.Equal(t, http.MethodGet, captured.method)
}

func TestGetRemoteConnection(t *testing.T) {
	client, captured := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"webUrl":"https://rdp.example.com/box-1"}`))
	})

	conn, err := client.GetRemoteConnection(context.Background(), "aad-1", "box-1")
	require.NoError(t, err)
	assert.Equal(t, "/projects/proj/users/aad-1/devboxes/box-1/remoteConnection", captured.path)
	assert.Equal(t, "https://rdp.example.com/box-1", conn.WebURL)
}

func TestListDevBoxes(t *testing.T) {
	client, captured := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value":[{"name":"a"},{"name":"b"}]}`))
	})

	boxes, err := client.ListDevBoxes(context.Background(), "aad-1")
	require.NoError(t, err)
	assert.Equal(t, "/projects/proj/users/aad-1/devboxes", captured.path)
	require.Len(t, boxes, 2)
	assert.Equal(t, "a", boxes[0].Name)
}

func TestDeleteDevBox(t *testing.T) {
	client, captured := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	require.NoError(t, client.DeleteDevBox(context.Background(), "aad-1", "box-1"))
	assert.Equal(t, http.MethodDelete, captured.method)
}
