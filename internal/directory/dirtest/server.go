// Package dirtest provides an in-memory fake of the directory store for
// tests: OData-shaped CRUD with real ETag semantics (If-Match, 412) so claim
// races and tolerant patches can be exercised without a remote store.
package dirtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type storedRow struct {
	id      string
	version int
	fields  map[string]any
}

func (r *storedRow) etag() string {
	return fmt.Sprintf(`W/"%d"`, r.version)
}

// Server is the fake store. Filters are not evaluated: collection GETs return
// every row of the table, so tests seed only the rows they expect to match.
type Server struct {
	*httptest.Server

	mu     sync.Mutex
	tables map[string][]*storedRow

	// RejectColumns simulates missing optional columns: any PATCH or POST
	// carrying one of these fails with the OData property error.
	RejectColumns map[string]bool

	// Requests records every method+path for assertion.
	Requests []string
}

// New starts a fake store server. Callers must Close it.
func New() *Server {
	s := &Server{
		tables:        map[string][]*storedRow{},
		RejectColumns: map[string]bool{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Seed inserts a row directly and returns its id.
func (s *Server) Seed(table string, fields map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, _ := fields["id"].(string)
	if id == "" {
		id = uuid.New().String()
		fields["id"] = id
	}
	s.tables[table] = append(s.tables[table], &storedRow{id: id, version: 1, fields: fields})
	return id
}

// Fields returns a copy of a row's columns, or nil when absent.
func (s *Server) Fields(table, id string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.find(table, id)
	if row == nil {
		return nil
	}
	out := make(map[string]any, len(row.fields))
	for k, v := range row.fields {
		out[k] = v
	}
	return out
}

// ETag returns the current version tag of a row.
func (s *Server) ETag(table, id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row := s.find(table, id); row != nil {
		return row.etag()
	}
	return ""
}

// Count returns the number of rows in a table.
func (s *Server) Count(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[table])
}

func (s *Server) find(table, id string) *storedRow {
	for _, row := range s.tables[table] {
		if row.id == id {
			return row
		}
	}
	return nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Requests = append(s.Requests, r.Method+" "+r.URL.Path)

	if r.Header.Get("Authorization") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	table, key := splitPath(r.URL.Path)
	switch {
	case r.Method == http.MethodGet && key == "":
		s.listRows(w, table)
	case r.Method == http.MethodGet:
		s.getRow(w, table, key)
	case r.Method == http.MethodPost:
		s.createRow(w, r, table)
	case r.Method == http.MethodPatch:
		s.patchRow(w, r, table, key)
	case r.Method == http.MethodDelete:
		s.deleteRow(w, table, key)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// splitPath turns /table(key) into (table, key); /table into (table, "").
func splitPath(path string) (string, string) {
	path = strings.Trim(path, "/")
	open := strings.IndexByte(path, '(')
	if open < 0 {
		return path, ""
	}
	closing := strings.LastIndexByte(path, ')')
	if closing < open {
		return path, ""
	}
	return path[:open], path[open+1 : closing]
}

func (s *Server) listRows(w http.ResponseWriter, table string) {
	value := make([]map[string]any, 0, len(s.tables[table]))
	for _, row := range s.tables[table] {
		value = append(value, withETag(row))
	}
	writeJSON(w, http.StatusOK, map[string]any{"value": value})
}

func (s *Server) getRow(w http.ResponseWriter, table, id string) {
	row := s.find(table, id)
	if row == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, withETag(row))
}

func (s *Server) createRow(w http.ResponseWriter, r *http.Request, table string) {
	fields := map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if col := s.rejected(fields); col != "" {
		writePropertyError(w, col)
		return
	}

	id, _ := fields["id"].(string)
	if id == "" {
		id = uuid.New().String()
		fields["id"] = id
	}
	row := &storedRow{id: id, version: 1, fields: fields}
	s.tables[table] = append(s.tables[table], row)

	if strings.Contains(r.Header.Get("Prefer"), "return=representation") {
		writeJSON(w, http.StatusCreated, withETag(row))
		return
	}
	w.Header().Set("OData-EntityId", fmt.Sprintf("%s/%s(%s)", s.URL, table, id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) patchRow(w http.ResponseWriter, r *http.Request, table, key string) {
	fields := map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if col := s.rejected(fields); col != "" {
		writePropertyError(w, col)
		return
	}

	row := s.find(table, key)
	if row == nil && strings.Contains(key, "=") {
		row = s.findByAlternateKey(table, key)
		if row == nil {
			// Alternate-key PATCH upserts.
			row = &storedRow{id: uuid.New().String(), version: 0, fields: map[string]any{}}
			row.fields["id"] = row.id
			applyAlternateKey(row.fields, key)
			s.tables[table] = append(s.tables[table], row)
		}
	}
	if row == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if match := r.Header.Get("If-Match"); match != "" && match != row.etag() {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	for k, v := range fields {
		row.fields[k] = v
	}
	row.version++
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteRow(w http.ResponseWriter, table, id string) {
	rows := s.tables[table]
	for i, row := range rows {
		if row.id == id {
			s.tables[table] = append(rows[:i], rows[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

// findByAlternateKey resolves keys of the form column='value'.
func (s *Server) findByAlternateKey(table, key string) *storedRow {
	column, value, ok := parseAlternateKey(key)
	if !ok {
		return nil
	}
	for _, row := range s.tables[table] {
		if v, _ := row.fields[column].(string); v == value {
			return row
		}
	}
	return nil
}

func applyAlternateKey(fields map[string]any, key string) {
	if column, value, ok := parseAlternateKey(key); ok {
		fields[column] = value
	}
}

func parseAlternateKey(key string) (column, value string, ok bool) {
	eq := strings.IndexByte(key, '=')
	if eq < 0 {
		return "", "", false
	}
	column = key[:eq]
	value = strings.Trim(key[eq+1:], "'")
	return column, strings.ReplaceAll(value, "''", "'"), true
}

func (s *Server) rejected(fields map[string]any) string {
	for col := range fields {
		if s.RejectColumns[col] {
			return col
		}
	}
	return ""
}

func withETag(row *storedRow) map[string]any {
	out := make(map[string]any, len(row.fields)+1)
	for k, v := range row.fields {
		out[k] = v
	}
	out["@odata.etag"] = row.etag()
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writePropertyError(w http.ResponseWriter, column string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf("The property '%s' does not exist on type 'Row'.", column),
		},
	})
}
