// Package directory implements the client for the remote directory store,
// the transactional row-store all daemons coordinate through. It provides
// OData CRUD with per-row ETags for optimistic concurrency, a cached bearer
// token, and typed row helpers.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	apperrors "github.com/shraga-ai/shraga/internal/common/errors"
	"github.com/shraga-ai/shraga/internal/common/logger"
)

// defaultTimeout bounds every request to the store. Exceeding it is a
// retriable I/O failure, not a logical failure.
const defaultTimeout = 30 * time.Second

// Tables maps the logical table roles to their remote entity-set names.
type Tables struct {
	Conversations string
	Users         string
	Tasks         string
	Messages      string
}

// Client is the sole gateway to the directory store.
type Client struct {
	baseURL string
	tables  Tables
	http    *http.Client
	tokens  TokenProvider
	logger  *logger.Logger
}

// NewClient creates a directory-store client for the given endpoint.
func NewClient(baseURL string, tables Tables, tokens TokenProvider, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tables:  tables,
		http:    &http.Client{Timeout: defaultTimeout},
		tokens:  tokens,
		logger:  log.WithFields(zap.String("component", "directory-client")),
	}
}

// Tables returns the configured entity-set names.
func (c *Client) Tables() Tables {
	return c.tables
}

// Row is one record from the store. ETag carries the row version returned by
// the server; Fields holds the raw column values.
type Row struct {
	ID     string
	ETag   string
	Fields map[string]any
}

// Str returns a string column value, or "" when absent or of another type.
func (r Row) Str(key string) string {
	if v, ok := r.Fields[key].(string); ok {
		return v
	}
	return ""
}

// Int returns an integer column value. JSON numbers arrive as float64.
func (r Row) Int(key string) int {
	switch v := r.Fields[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// Bool returns a boolean column value, or false when absent.
func (r Row) Bool(key string) bool {
	if v, ok := r.Fields[key].(bool); ok {
		return v
	}
	return false
}

// Time parses an RFC3339 timestamp column, returning the zero time on failure.
func (r Row) Time(key string) time.Time {
	s := r.Str(key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// GetRows queries a table and returns the matching rows, each carrying its ETag.
func (c *Client) GetRows(ctx context.Context, table string, q Query) ([]Row, error) {
	endpoint := fmt.Sprintf("%s/%s", c.baseURL, table)
	if qs := q.Encode(); qs != "" {
		endpoint += "?" + qs
	}

	body, _, err := c.do(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Value []map[string]any `json:"value"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.TransientIO("failed to decode row list", err)
	}

	rows := make([]Row, 0, len(payload.Value))
	for _, fields := range payload.Value {
		rows = append(rows, rowFromFields(fields))
	}
	return rows, nil
}

// GetRow fetches a single row by id.
func (c *Client) GetRow(ctx context.Context, table, id string, selectCols []string) (Row, error) {
	endpoint := fmt.Sprintf("%s/%s(%s)", c.baseURL, table, id)
	if len(selectCols) > 0 {
		endpoint += "?" + (Query{Select: selectCols}).Encode()
	}

	body, _, err := c.do(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return Row{}, err
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return Row{}, apperrors.TransientIO("failed to decode row", err)
	}
	return rowFromFields(fields), nil
}

// CreateRow inserts a row. When returnRepresentation is set the created row
// (with its server-assigned id and ETag) is returned; otherwise only the id
// parsed from the OData-EntityId header is populated.
func (c *Client) CreateRow(ctx context.Context, table string, fields map[string]any, returnRepresentation bool) (Row, error) {
	endpoint := fmt.Sprintf("%s/%s", c.baseURL, table)

	payload, err := json.Marshal(fields)
	if err != nil {
		return Row{}, apperrors.LogicError(fmt.Sprintf("unencodable row fields: %v", err))
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if returnRepresentation {
		headers["Prefer"] = "return=representation"
	}

	body, resp, err := c.do(ctx, http.MethodPost, endpoint, payload, headers)
	if err != nil {
		return Row{}, err
	}

	if returnRepresentation && len(body) > 0 {
		var created map[string]any
		if err := json.Unmarshal(body, &created); err != nil {
			return Row{}, apperrors.TransientIO("failed to decode created row", err)
		}
		return rowFromFields(created), nil
	}

	return Row{ID: entityIDFromHeader(resp)}, nil
}

// UpdateRow patches a row. When etag is non-empty it is sent as If-Match and
// a 412 from the server comes back as a Conflict error (check with
// errors.IsConflict); callers updating rows they own pass "".
func (c *Client) UpdateRow(ctx context.Context, table, id string, fields map[string]any, etag string) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return apperrors.LogicError(fmt.Sprintf("unencodable row fields: %v", err))
	}

	endpoint := fmt.Sprintf("%s/%s(%s)", c.baseURL, table, id)
	headers := map[string]string{"Content-Type": "application/json"}
	if etag != "" {
		headers["If-Match"] = etag
	}

	_, _, err = c.do(ctx, http.MethodPatch, endpoint, payload, headers)
	return err
}

// UpdateRowTolerant patches a row, retrying once with the offending column
// removed if the server rejects an optional column the table does not have.
// A second failure is returned to the caller, who logs and continues.
func (c *Client) UpdateRowTolerant(ctx context.Context, table, id string, fields map[string]any, etag string) error {
	err := c.UpdateRow(ctx, table, id, fields, etag)
	if err == nil || !apperrors.IsSchemaMismatch(err) {
		return err
	}

	column := unknownColumn(err)
	if column == "" {
		return err
	}

	c.logger.Warn("dropping unknown column and retrying patch",
		zap.String("table", table),
		zap.String("column", column))

	reduced := make(map[string]any, len(fields))
	for k, v := range fields {
		if k != column {
			reduced[k] = v
		}
	}
	return c.UpdateRow(ctx, table, id, reduced, etag)
}

// DeleteRow removes a row by id.
func (c *Client) DeleteRow(ctx context.Context, table, id string) error {
	endpoint := fmt.Sprintf("%s/%s(%s)", c.baseURL, table, id)
	_, _, err := c.do(ctx, http.MethodDelete, endpoint, nil, nil)
	return err
}

// UpsertRow creates or replaces the row addressed by an alternate key, e.g.
// users keyed by email: UpsertRow(ctx, users, "email='a@b.com'", fields).
func (c *Client) UpsertRow(ctx context.Context, table, key string, fields map[string]any) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return apperrors.LogicError(fmt.Sprintf("unencodable row fields: %v", err))
	}

	endpoint := fmt.Sprintf("%s/%s(%s)", c.baseURL, table, key)
	headers := map[string]string{"Content-Type": "application/json"}
	_, _, err = c.do(ctx, http.MethodPatch, endpoint, payload, headers)
	return err
}

// FindRows returns all rows where column equals value.
func (c *Client) FindRows(ctx context.Context, table, column, value string) ([]Row, error) {
	return c.GetRows(ctx, table, Query{Filter: Eq(column, value)})
}

// do executes one HTTP request with OData headers, bearer auth, and
// backoff-wrapped retries for transient failures. 412 and schema errors are
// permanent and mapped to their error kinds.
func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte, headers map[string]string) ([]byte, *http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, nil, err
	}

	var (
		respBody []byte
		lastResp *http.Response
	)

	op := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return backoff.Permanent(apperrors.LogicError(fmt.Sprintf("bad request: %v", err)))
		}

		req.Header.Set("Accept", "application/json")
		req.Header.Set("OData-Version", "4.0")
		req.Header.Set("OData-MaxVersion", "4.0")
		req.Header.Set("Authorization", "Bearer "+token)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return apperrors.TransientIO("directory store request failed", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return apperrors.TransientIO("failed to read response body", err)
		}

		lastResp = resp
		respBody = body

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusPreconditionFailed:
			return backoff.Permanent(apperrors.Conflict("row version changed"))
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(apperrors.NotFound("row", endpoint))
		case resp.StatusCode == http.StatusBadRequest:
			if column := propertyFromODataError(body); column != "" {
				return backoff.Permanent(apperrors.SchemaMismatch(column, nil))
			}
			return backoff.Permanent(apperrors.LogicError(fmt.Sprintf("store rejected request: %s", truncateBody(body))))
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(apperrors.AuthFailure(fmt.Sprintf("store returned %d", resp.StatusCode), nil))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return apperrors.TransientIO(fmt.Sprintf("store returned %d", resp.StatusCode), nil)
		default:
			return backoff.Permanent(apperrors.LogicError(fmt.Sprintf("store returned %d: %s", resp.StatusCode, truncateBody(body))))
		}
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxElapsedTime = 15 * time.Second
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, 3), ctx)

	if err := backoff.Retry(op, bo); err != nil {
		return nil, lastResp, err
	}
	return respBody, lastResp, nil
}

func rowFromFields(fields map[string]any) Row {
	row := Row{Fields: fields}
	if etag, ok := fields["@odata.etag"].(string); ok {
		row.ETag = etag
		delete(fields, "@odata.etag")
	}
	if id, ok := fields["id"].(string); ok {
		row.ID = id
	}
	return row
}

// entityIDFromHeader extracts the GUID from an OData-EntityId header of the
// form https://host/table(guid).
func entityIDFromHeader(resp *http.Response) string {
	if resp == nil {
		return ""
	}
	entity := resp.Header.Get("OData-EntityId")
	open := strings.LastIndex(entity, "(")
	closing := strings.LastIndex(entity, ")")
	if open < 0 || closing < open {
		return ""
	}
	return entity[open+1 : closing]
}

var propertyErrRe = regexp.MustCompile(`property '([^']+)'`)

// propertyFromODataError pulls the offending column name out of an OData
// "property does not exist" error body.
func propertyFromODataError(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	msg := payload.Error.Message
	if !strings.Contains(msg, "does not exist") {
		return ""
	}
	if m := propertyErrRe.FindStringSubmatch(msg); m != nil {
		return m[1]
	}
	return ""
}

// unknownColumn recovers the column name a SchemaMismatch error was built with.
func unknownColumn(err error) string {
	var appErr *apperrors.AppError
	if !stderrors.As(err, &appErr) {
		return ""
	}
	msg := appErr.Message
	start := strings.Index(msg, "'")
	if start < 0 {
		return ""
	}
	end := strings.Index(msg[start+1:], "'")
	if end < 0 {
		return ""
	}
	return msg[start+1 : start+1+end]
}

func truncateBody(body []byte) string {
	const limit = 300
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
