package bus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shraga-ai/shraga/internal/bus"
	"github.com/shraga-ai/shraga/internal/common/logger"
	"github.com/shraga-ai/shraga/internal/directory"
	"github.com/shraga-ai/shraga/internal/directory/dirtest"
	"github.com/shraga-ai/shraga/pkg/model"
)

func newTestBus(t *testing.T) (*bus.Bus, *dirtest.Server) {
	t.Helper()
	server := dirtest.New()
	t.Cleanup(server.Close)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	client := directory.NewClient(server.URL, directory.Tables{
		Conversations: "conversations",
		Messages:      "messages",
	}, &directory.StaticTokenProvider{Value: "t"}, log)
	return bus.New(client, log), server
}

func seedInbound(server *dirtest.Server, id, email, message string) string {
	return server.Seed("conversations", map[string]any{
		"id":                       id,
		"user_email":               email,
		"external_conversation_id": "ext-" + id,
		"message":                  message,
		"direction":                string(model.DirectionInbound),
		"status":                   string(model.ConversationUnclaimed),
		"created_at":               time.Now().UTC().Add(-time.Minute).Format(time.RFC3339),
	})
}

func TestUnclaimedInbound(t *testing.T) {
	b, server := newTestBus(t)
	seedInbound(server, "c-1", "alice@ex.com", "hello")

	convs, err := b.UnclaimedInbound(context.Background(), "alice@ex.com", 0, 10)
	require.NoError(t, err)
	require.Len(t, convs, 1)

	assert.Equal(t, "c-1", convs[0].ID)
	assert.Equal(t, "hello", convs[0].Message)
	assert.Equal(t, model.ConversationUnclaimed, convs[0].Status)
	assert.NotEmpty(t, convs[0].ETag)
}

func TestClaimRace(t *testing.T) {
	b, server := newTestBus(t)
	ctx := context.Background()
	seedInbound(server, "c-1", "alice@ex.com", "hi")

	convs, err := b.UnclaimedInbound(ctx, "", 0, 10)
	require.NoError(t, err)
	require.Len(t, convs, 1)

	// Two claimants fetched the same version; only the first claim lands.
	first := convs[0]
	second := convs[0]

	won, err := b.Claim(ctx, &first, "manager-a")
	require.NoError(t, err)
	assert.True(t, won)
	assert.Equal(t, model.ConversationClaimed, first.Status)

	won, err = b.Claim(ctx, &second, "manager-b")
	require.NoError(t, err)
	assert.False(t, won)

	fields := server.Fields("conversations", "c-1")
	assert.Equal(t, "manager-a", fields["claimed_by"])
}

func TestPostOutbound(t *testing.T) {
	b, server := newTestBus(t)
	ctx := context.Background()
	seedInbound(server, "c-1", "alice@ex.com", "hi")

	convs, err := b.UnclaimedInbound(ctx, "", 0, 10)
	require.NoError(t, err)
	inbound := convs[0]

	id, err := b.PostOutbound(ctx, &inbound, "reply text", true)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	fields := server.Fields("conversations", id)
	require.NotNil(t, fields)
	assert.Equal(t, "alice@ex.com", fields["user_email"])
	assert.Equal(t, "ext-c-1", fields["external_conversation_id"])
	assert.Equal(t, "c-1", fields["in_reply_to"])
	assert.Equal(t, string(model.DirectionOutbound), fields["direction"])
	assert.Equal(t, string(model.ConversationUnclaimed), fields["status"])
	assert.Equal(t, true, fields["followup_expected"])
}

func TestPostOutboundRequiresInbound(t *testing.T) {
	b, _ := newTestBus(t)
	_, err := b.PostOutbound(context.Background(), nil, "text", false)
	require.Error(t, err)
}

func TestMarkProcessed(t *testing.T) {
	b, server := newTestBus(t)
	ctx := context.Background()
	seedInbound(server, "c-1", "alice@ex.com", "hi")

	convs, err := b.UnclaimedInbound(ctx, "", 0, 10)
	require.NoError(t, err)
	conv := convs[0]

	won, err := b.Claim(ctx, &conv, "m")
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, b.MarkProcessed(ctx, &conv))
	assert.Equal(t, string(model.ConversationProcessed), server.Fields("conversations", "c-1")["status"])
}

func TestExpireStaleOutbound(t *testing.T) {
	b, server := newTestBus(t)

	server.Seed("conversations", map[string]any{
		"id":         "o-1",
		"direction":  string(model.DirectionOutbound),
		"status":     string(model.ConversationUnclaimed),
		"created_at": time.Now().UTC().Add(-time.Hour).Format(time.RFC3339),
	})

	expired, err := b.ExpireStaleOutbound(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Equal(t, string(model.ConversationExpired), server.Fields("conversations", "o-1")["status"])
}

func TestPostActivityTruncates(t *testing.T) {
	b, server := newTestBus(t)

	long := make([]byte, model.ActivityTitleLimit+50)
	for i := range long {
		long[i] = 'a'
	}

	err := b.PostActivity(context.Background(), model.Activity{
		TaskID: "t-1",
		Title:  string(long),
	})
	require.NoError(t, err)

	require.Equal(t, 1, server.Count("messages"))
}
