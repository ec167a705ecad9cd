// Package users provides the typed operations on the user table. The
// onboarding_step column is the single source of truth for onboarding
// resumption, so every transition is persisted immediately.
package users

import (
	"context"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/shraga-ai/shraga/internal/common/errors"
	"github.com/shraga-ai/shraga/internal/common/logger"
	"github.com/shraga-ai/shraga/internal/directory"
	"github.com/shraga-ai/shraga/pkg/model"
)

// Store wraps the directory client with user-table semantics.
type Store struct {
	client *directory.Client
	table  string
	logger *logger.Logger
}

// NewStore creates a user store over the configured users table.
func NewStore(client *directory.Client, log *logger.Logger) *Store {
	return &Store{
		client: client,
		table:  client.Tables().Users,
		logger: log.WithFields(zap.String("component", "user-store")),
	}
}

// GetByEmail fetches a user row, returning nil when no row exists.
func (s *Store) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	rows, err := s.client.FindRows(ctx, s.table, "email", email)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	user := userFromRow(rows[0])
	return &user, nil
}

// Upsert creates or updates the user row keyed by email.
func (s *Store) Upsert(ctx context.Context, email string, fields map[string]any) error {
	fields["email"] = email
	fields["last_seen"] = time.Now().UTC().Format(time.RFC3339)
	key := "email=" + directory.EscapeString(email)
	return s.client.UpsertRow(ctx, s.table, key, fields)
}

// SetStep persists an onboarding transition together with any extra fields.
func (s *Store) SetStep(ctx context.Context, email string, step model.OnboardingStep, extra map[string]any) error {
	fields := map[string]any{"onboarding_step": string(step)}
	for k, v := range extra {
		fields[k] = v
	}
	s.logger.Info("onboarding transition",
		zap.String("email", email), zap.String("step", string(step)))
	return s.Upsert(ctx, email, fields)
}

// TouchLastSeen refreshes last_seen without touching anything else.
func (s *Store) TouchLastSeen(ctx context.Context, email string) {
	if err := s.Upsert(ctx, email, map[string]any{}); err != nil && !apperrors.IsConflict(err) {
		s.logger.Warn("failed to update last_seen",
			zap.String("email", email), zap.Error(err))
	}
}

func userFromRow(row directory.Row) model.User {
	return model.User{
		Email:          row.Str("email"),
		AzureADID:      row.Str("azure_ad_id"),
		DevboxName:     row.Str("devbox_name"),
		DevboxStatus:   row.Str("devbox_status"),
		ConnectionURL:  row.Str("connection_url"),
		AuthURL:        row.Str("auth_url"),
		OnboardingStep: model.OnboardingStep(row.Str("onboarding_step")),
		LastSeen:       row.Time("last_seen"),
		ETag:           row.ETag,
	}
}
