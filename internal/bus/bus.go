// Package bus implements the message-bus protocol over the conversation
// table: querying unclaimed inbound rows, ETag-guarded claiming, posting
// outbound replies, and the stale-row sweep. The directory store is the only
// transport between the chat relay and the managers.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/shraga-ai/shraga/internal/common/errors"
	"github.com/shraga-ai/shraga/internal/common/logger"
	"github.com/shraga-ai/shraga/internal/directory"
	"github.com/shraga-ai/shraga/pkg/model"
)

// Bus provides the conversation-row operations shared by the managers.
type Bus struct {
	client *directory.Client
	table  string
	logger *logger.Logger
}

// New creates a Bus over the configured conversations table.
func New(client *directory.Client, log *logger.Logger) *Bus {
	return &Bus{
		client: client,
		table:  client.Tables().Conversations,
		logger: log.WithFields(zap.String("component", "conversation-bus")),
	}
}

// UnclaimedInbound returns unclaimed inbound rows older than minAge, oldest
// first. When userEmail is non-empty only that user's rows are returned; the
// global manager passes "" to see every user's rows.
func (b *Bus) UnclaimedInbound(ctx context.Context, userEmail string, minAge time.Duration, top int) ([]model.Conversation, error) {
	cutoff := time.Now().UTC().Add(-minAge).Format(time.RFC3339)
	filter := directory.And(
		directory.Eq("direction", string(model.DirectionInbound)),
		directory.Eq("status", string(model.ConversationUnclaimed)),
		fmt.Sprintf("created_at lt %s", cutoff),
	)
	if userEmail != "" {
		filter = directory.And(filter, directory.Eq("user_email", userEmail))
	}

	rows, err := b.client.GetRows(ctx, b.table, directory.Query{
		Filter:  filter,
		OrderBy: "created_at asc",
		Top:     top,
	})
	if err != nil {
		return nil, err
	}

	convs := make([]model.Conversation, 0, len(rows))
	for _, row := range rows {
		convs = append(convs, conversationFromRow(row))
	}
	return convs, nil
}

// Claim attempts the ETag-guarded claim of an unclaimed row. Exactly one
// claimant observes true; everyone else gets false from the 412.
func (b *Bus) Claim(ctx context.Context, conv *model.Conversation, claimant string) (bool, error) {
	err := b.client.UpdateRow(ctx, b.table, conv.ID, map[string]any{
		"status":     string(model.ConversationClaimed),
		"claimed_by": claimant,
	}, conv.ETag)
	if err != nil {
		if apperrors.IsConflict(err) {
			b.logger.Debug("lost claim race", zap.String("conversation_id", conv.ID))
			return false, nil
		}
		return false, err
	}
	conv.Status = model.ConversationClaimed
	conv.ClaimedBy = claimant
	return true, nil
}

// PostOutbound writes an outbound reply linked to the inbound row it answers.
// Reply integrity: the outbound inherits the inbound's user and external
// conversation id and always carries in_reply_to.
func (b *Bus) PostOutbound(ctx context.Context, inReplyTo *model.Conversation, message string, followupExpected bool) (string, error) {
	if inReplyTo == nil || inReplyTo.ID == "" {
		return "", apperrors.LogicError("outbound row requires an inbound row to reply to")
	}

	id := uuid.New().String()
	_, err := b.client.CreateRow(ctx, b.table, map[string]any{
		"id":                       id,
		"user_email":               inReplyTo.UserEmail,
		"external_conversation_id": inReplyTo.ExternalConversationID,
		"message":                  message,
		"direction":                string(model.DirectionOutbound),
		"status":                   string(model.ConversationUnclaimed),
		"in_reply_to":              inReplyTo.ID,
		"followup_expected":        followupExpected,
		"created_at":               time.Now().UTC().Format(time.RFC3339),
	}, false)
	if err != nil {
		return "", err
	}
	return id, nil
}

// MarkProcessed transitions a claimed inbound row to Processed. The claimant
// owns the row at this point, so no ETag is sent.
func (b *Bus) MarkProcessed(ctx context.Context, conv *model.Conversation) error {
	err := b.client.UpdateRow(ctx, b.table, conv.ID, map[string]any{
		"status": string(model.ConversationProcessed),
	}, "")
	if err != nil {
		return err
	}
	conv.Status = model.ConversationProcessed
	return nil
}

// ExpireStaleOutbound sweeps unclaimed outbound rows older than maxAge to
// Expired. Best-effort: per-row failures are logged and skipped.
func (b *Bus) ExpireStaleOutbound(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(time.RFC3339)
	rows, err := b.client.GetRows(ctx, b.table, directory.Query{
		Filter: directory.And(
			directory.Eq("direction", string(model.DirectionOutbound)),
			directory.Eq("status", string(model.ConversationUnclaimed)),
			fmt.Sprintf("created_at lt %s", cutoff),
		),
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, row := range rows {
		err := b.client.UpdateRow(ctx, b.table, row.ID, map[string]any{
			"status": string(model.ConversationExpired),
		}, row.ETag)
		if err != nil {
			if apperrors.IsConflict(err) {
				continue // someone claimed it between query and patch
			}
			b.logger.Warn("failed to expire outbound row",
				zap.String("conversation_id", row.ID), zap.Error(err))
			continue
		}
		expired++
	}

	if expired > 0 {
		b.logger.Info("expired stale outbound rows", zap.Int("count", expired))
	}
	return expired, nil
}

// PostActivity writes a progress-feed row for a task, applying the activity
// table truncation limits.
func (b *Bus) PostActivity(ctx context.Context, act model.Activity) error {
	if act.ID == "" {
		act.ID = uuid.New().String()
	}
	_, err := b.client.CreateRow(ctx, b.client.Tables().Messages, map[string]any{
		"id":         act.ID,
		"title":      model.TruncateTitle(act.Title),
		"content":    model.TruncateContent(act.Content),
		"from":       act.From,
		"to":         act.To,
		"task_id":    act.TaskID,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}, false)
	return err
}

func conversationFromRow(row directory.Row) model.Conversation {
	return model.Conversation{
		ID:                     row.ID,
		UserEmail:              row.Str("user_email"),
		ExternalConversationID: row.Str("external_conversation_id"),
		Message:                row.Str("message"),
		Direction:              model.Direction(row.Str("direction")),
		Status:                 model.ConversationStatus(row.Str("status")),
		ClaimedBy:              row.Str("claimed_by"),
		InReplyTo:              row.Str("in_reply_to"),
		FollowupExpected:       row.Bool("followup_expected"),
		CreatedAt:              row.Time("created_at"),
		ETag:                   row.ETag,
	}
}
