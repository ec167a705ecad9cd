// Package devcenter implements the client for the compute-provisioning REST
// API. Dev boxes are created per user, customized with a software group, and
// exposed through a web-RDP connection URL.
package devcenter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	apperrors "github.com/shraga-ai/shraga/internal/common/errors"
	"github.com/shraga-ai/shraga/internal/common/logger"
)

// Provisioning states reported by the API. Anything else is in-progress.
const (
	StateSucceeded = "Succeeded"
	StateFailed    = "Failed"
	// StateValidationFailed is a customization-only failure state.
	StateValidationFailed = "ValidationFailed"
)

// TokenProvider supplies bearer tokens scoped to the provisioning resource.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Config holds the DevCenter endpoint and project identifiers.
type Config struct {
	Endpoint           string
	Project            string
	Pool               string
	CustomizationGroup string
}

// Client calls the DevCenter REST API.
type Client struct {
	cfg    Config
	http   *http.Client
	tokens TokenProvider
	logger *logger.Logger
}

// NewClient creates a DevCenter client.
func NewClient(cfg Config, tokens TokenProvider, log *logger.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		tokens: tokens,
		logger: log.WithFields(zap.String("component", "devcenter-client")),
	}
}

// DevBox is the provisioning state of one dev box.
type DevBox struct {
	Name              string `json:"name"`
	ProvisioningState string `json:"provisioningState"`
	PoolName          string `json:"poolName"`
	PowerState        string `json:"powerState,omitempty"`
}

// Customization is the state of a customization group application.
type Customization struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// RemoteConnection carries the URLs for reaching a dev box.
type RemoteConnection struct {
	WebURL string `json:"webUrl"`
	RDPURL string `json:"rdpConnectionUrl,omitempty"`
}

func (c *Client) devboxURL(aadID, name string) string {
	return fmt.Sprintf("%s/projects/%s/users/%s/devboxes/%s",
		c.cfg.Endpoint, c.cfg.Project, aadID, name)
}

// CreateDevBox starts provisioning a dev box in the configured pool.
func (c *Client) CreateDevBox(ctx context.Context, aadID, name string) (*DevBox, error) {
	payload, _ := json.Marshal(map[string]string{"poolName": c.cfg.Pool})
	body, err := c.do(ctx, http.MethodPut, c.devboxURL(aadID, name), payload)
	if err != nil {
		return nil, err
	}
	var box DevBox
	if err := json.Unmarshal(body, &box); err != nil {
		return nil, apperrors.TransientIO("failed to decode devbox response", err)
	}
	c.logger.Info("devbox provisioning started",
		zap.String("devbox", name), zap.String("state", box.ProvisioningState))
	return &box, nil
}

// GetDevBox returns the current provisioning state of a dev box.
func (c *Client) GetDevBox(ctx context.Context, aadID, name string) (*DevBox, error) {
	body, err := c.do(ctx, http.MethodGet, c.devboxURL(aadID, name), nil)
	if err != nil {
		return nil, err
	}
	var box DevBox
	if err := json.Unmarshal(body, &box); err != nil {
		return nil, apperrors.TransientIO("failed to decode devbox response", err)
	}
	return &box, nil
}

// DeleteDevBox removes a dev box.
func (c *Client) DeleteDevBox(ctx context.Context, aadID, name string) error {
	_, err := c.do(ctx, http.MethodDelete, c.devboxURL(aadID, name), nil)
	return err
}

// ApplyCustomization requests the configured customization group on the box.
func (c *Client) ApplyCustomization(ctx context.Context, aadID, name string) error {
	url := fmt.Sprintf("%s/customizationGroups/%s", c.devboxURL(aadID, name), c.cfg.CustomizationGroup)
	_, err := c.do(ctx, http.MethodPut, url, []byte(`{}`))
	return err
}

// GetCustomization returns the state of the customization group application.
func (c *Client) GetCustomization(ctx context.Context, aadID, name string) (*Customization, error) {
	url := fmt.Sprintf("%s/customizationGroups/%s", c.devboxURL(aadID, name), c.cfg.CustomizationGroup)
	body, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	var cust Customization
	if err := json.Unmarshal(body, &cust); err != nil {
		return nil, apperrors.TransientIO("failed to decode customization response", err)
	}
	return &cust, nil
}

// GetRemoteConnection returns the web-RDP URL for a dev box.
func (c *Client) GetRemoteConnection(ctx context.Context, aadID, name string) (*RemoteConnection, error) {
	url := fmt.Sprintf("%s/remoteConnection", c.devboxURL(aadID, name))
	body, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	var conn RemoteConnection
	if err := json.Unmarshal(body, &conn); err != nil {
		return nil, apperrors.TransientIO("failed to decode remote connection response", err)
	}
	return &conn, nil
}

// ListDevBoxes returns all dev boxes for a user.
func (c *Client) ListDevBoxes(ctx context.Context, aadID string) ([]DevBox, error) {
	url := fmt.Sprintf("%s/projects/%s/users/%s/devboxes", c.cfg.Endpoint, c.cfg.Project, aadID)
	body, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Value []DevBox `json:"value"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.TransientIO("failed to decode devbox list", err)
	}
	return payload.Value, nil
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var respBody []byte
	op := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return backoff.Permanent(apperrors.LogicError(fmt.Sprintf("bad request: %v", err)))
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return apperrors.TransientIO("devcenter request failed", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return apperrors.TransientIO("failed to read devcenter response", err)
		}
		respBody = body

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(apperrors.NotFound("devbox resource", url))
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(apperrors.AuthFailure(fmt.Sprintf("devcenter returned %d", resp.StatusCode), nil))
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return apperrors.TransientIO(fmt.Sprintf("devcenter returned %d", resp.StatusCode), nil)
		default:
			return backoff.Permanent(apperrors.LogicError(fmt.Sprintf("devcenter returned %d", resp.StatusCode)))
		}
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = time.Second
	expo.MaxElapsedTime = 20 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(expo, 2), ctx)); err != nil {
		return nil, err
	}
	return respBody, nil
}
