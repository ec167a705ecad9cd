package personalmanager

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shraga-ai/shraga/internal/bus"
	"github.com/shraga-ai/shraga/internal/common/health"
	"github.com/shraga-ai/shraga/internal/common/logger"
	"github.com/shraga-ai/shraga/internal/directory"
	"github.com/shraga-ai/shraga/internal/directory/dirtest"
	"github.com/shraga-ai/shraga/internal/tasks"
	"github.com/shraga-ai/shraga/internal/users"
	"github.com/shraga-ai/shraga/pkg/llmcli"
	"github.com/shraga-ai/shraga/pkg/model"
)

// fakeCLI writes a shell script standing in for the LLM CLI binary.
func fakeCLI(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "llm")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func newTestManager(t *testing.T, cliScript string) (*Manager, *dirtest.Server, *directory.Client) {
	t.Helper()
	server := dirtest.New()
	t.Cleanup(server.Close)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	client := directory.NewClient(server.URL,
		directory.Tables{Conversations: "conversations", Tasks: "tasks", Users: "users"},
		&directory.StaticTokenProvider{Value: "t"}, log)

	sessions, err := OpenSessionStore(filepath.Join(t.TempDir(), "sessions.json"))
	require.NoError(t, err)

	m := &Manager{
		bus:       bus.New(client, log),
		tasks:     tasks.NewStore(client, log),
		users:     users.NewStore(client, log),
		sessions:  sessions,
		runner:    &llmcli.Runner{Binary: fakeCLI(t, cliScript)},
		userEmail: "alice@ex.com",
		claimant:  "personal:alice@ex.com:test",
		status:    health.NewStatus("personal-manager"),
		logger:    log,
	}
	return m, server, client
}

func seedInbound(server *dirtest.Server, id, message string) {
	server.Seed("conversations", map[string]any{
		"id":                       id,
		"user_email":               "alice@ex.com",
		"external_conversation_id": "chat-1",
		"message":                  message,
		"direction":                string(model.DirectionInbound),
		"status":                   string(model.ConversationUnclaimed),
		"created_at":               time.Now().UTC().Add(-time.Minute).Format(time.RFC3339),
	})
}

// outboundRows returns the outbound conversation rows on the fake store.
func outboundRows(t *testing.T, client *directory.Client) []model.Conversation {
	t.Helper()
	rows, err := client.GetRows(context.Background(), "conversations", directory.Query{})
	require.NoError(t, err)

	var out []model.Conversation
	for _, row := range rows {
		if row.Str("direction") == string(model.DirectionOutbound) {
			out = append(out, model.Conversation{
				ID:                     row.ID,
				UserEmail:              row.Str("user_email"),
				ExternalConversationID: row.Str("external_conversation_id"),
				Message:                row.Str("message"),
				InReplyTo:              row.Str("in_reply_to"),
			})
		}
	}
	return out
}

func TestProcessMessageRepliesAndPersistsSession(t *testing.T) {
	m, server, client := newTestManager(t,
		`echo '{"type":"result","result":"Hello Alice","session_id":"sess-1"}'`)
	seedInbound(server, "c-1", "hi there")

	require.NoError(t, m.pollOnce(context.Background()))

	// Inbound row is claimed and finished.
	inbound := server.Fields("conversations", "c-1")
	assert.Equal(t, string(model.ConversationProcessed), inbound["status"])
	assert.Equal(t, "personal:alice@ex.com:test", inbound["claimed_by"])

	// Outbound reply carries the LLM text and reply linkage.
	replies := outboundRows(t, client)
	require.Len(t, replies, 1)
	assert.Equal(t, "Hello Alice", replies[0].Message)
	assert.Equal(t, "c-1", replies[0].InReplyTo)
	assert.Equal(t, "chat-1", replies[0].ExternalConversationID)

	// The session id came back on the result and is stored for resumption.
	assert.Equal(t, "sess-1", m.sessions.Get("chat-1"))
}

func TestInvokeLLMRetriesFreshAfterFailedResume(t *testing.T) {
	script := `case "$*" in
*--resume*) echo '{"type":"result","result":"","is_error":true}' ;;
*) echo '{"type":"result","result":"Fresh reply","session_id":"sess-2"}' ;;
esac`
	m, _, _ := newTestManager(t, script)
	require.NoError(t, m.sessions.Set("chat-1", "sess-stale"))

	conv := &model.Conversation{
		ID:                     "c-1",
		UserEmail:              "alice@ex.com",
		ExternalConversationID: "chat-1",
		Message:                "where were we?",
	}
	reply, err := m.invokeLLM(context.Background(), conv)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(reply, contextLostNotice))
	assert.Contains(t, reply, "Fresh reply")
	// The stale session was dropped and the fresh one stored.
	assert.Equal(t, "sess-2", m.sessions.Get("chat-1"))
}

func TestProcessMessageFallsBackAndStillMarksProcessed(t *testing.T) {
	m, server, client := newTestManager(t, `exit 1`)
	seedInbound(server, "c-1", "hi there")

	require.NoError(t, m.pollOnce(context.Background()))

	// The inbound row must not loop even though the LLM call failed.
	inbound := server.Fields("conversations", "c-1")
	assert.Equal(t, string(model.ConversationProcessed), inbound["status"])

	replies := outboundRows(t, client)
	require.Len(t, replies, 1)
	assert.Equal(t, fallbackReply, replies[0].Message)
}

func TestClaimantFormat(t *testing.T) {
	claimant := claimantFor("alice@ex.com")
	parts := strings.SplitN(claimant, ":", 3)
	require.Len(t, parts, 3)
	assert.Equal(t, "personal", parts[0])
	assert.Equal(t, "alice@ex.com", parts[1])
	assert.NotEmpty(t, parts[2])
}
