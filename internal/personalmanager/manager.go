// Package personalmanager implements the per-user conversational daemon. It
// is a thin adapter: the LLM subprocess decides what to do with each message,
// the manager only claims rows, shuttles text, and persists session ids.
package personalmanager

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shraga-ai/shraga/internal/bus"
	"github.com/shraga-ai/shraga/internal/common/config"
	"github.com/shraga-ai/shraga/internal/common/health"
	"github.com/shraga-ai/shraga/internal/common/logger"
	"github.com/shraga-ai/shraga/internal/tasks"
	"github.com/shraga-ai/shraga/internal/users"
	"github.com/shraga-ai/shraga/pkg/llmcli"
	"github.com/shraga-ai/shraga/pkg/model"
)

// claimantFor builds the claimed_by marker for this daemon instance. The
// instance segment distinguishes two personal managers racing for the same
// user's rows.
func claimantFor(userEmail string) string {
	instance, err := os.Hostname()
	if err != nil || instance == "" {
		instance = uuid.New().String()[:8]
	}
	return "personal:" + userEmail + ":" + instance
}

// managerSystemPrompt is the system-prompt file for the conversational LLM.
const managerSystemPrompt = "personal_manager.md"

const (
	pollBatchSize      = 10
	staleSweepInterval = 5 * time.Minute
	expirySweepInterval = 30 * time.Minute
)

// fallbackReply is sent when message processing fails fatally. The inbound
// row is still marked Processed so it cannot loop.
const fallbackReply = "Sorry, I hit a problem handling that message. Please try again in a moment."

// contextLostNotice prefixes the reply after a failed session resume.
const contextLostNotice = "(I lost the context of our earlier conversation, so I'm starting fresh.)\n\n"

// Manager is the personal-manager daemon loop for one user.
type Manager struct {
	bus       *bus.Bus
	tasks     *tasks.Store
	users     *users.Store
	sessions  *SessionStore
	runner    *llmcli.Runner
	userEmail string
	claimant  string
	poll      config.PollConfig
	llm       config.LLMConfig
	status    *health.Status
	logger    *logger.Logger
}

// New creates a personal manager for the configured user.
func New(b *bus.Bus, taskStore *tasks.Store, userStore *users.Store, sessions *SessionStore,
	runner *llmcli.Runner, userEmail string, poll config.PollConfig, llm config.LLMConfig,
	status *health.Status, log *logger.Logger) *Manager {
	return &Manager{
		bus:       b,
		tasks:     taskStore,
		users:     userStore,
		sessions:  sessions,
		runner:    runner,
		userEmail: userEmail,
		claimant:  claimantFor(userEmail),
		poll:      poll,
		llm:       llm,
		status:    status,
		logger: log.WithFields(
			zap.String("component", "personal-manager"),
			zap.String("user", userEmail)),
	}
}

// Run starts the poll loop and the background sweeps, blocking until the
// context is canceled. The sweeps run in their own goroutines so a slow
// directory query never delays message handling.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("personal manager started",
		zap.Duration("poll_interval", m.poll.IntervalDuration()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.pollLoop(ctx) })
	g.Go(func() error { return m.sweepLoop(ctx, staleSweepInterval, m.sweepStaleTasks) })
	g.Go(func() error { return m.sweepLoop(ctx, expirySweepInterval, m.sweepExpiredOutbound) })
	return g.Wait()
}

func (m *Manager) pollLoop(ctx context.Context) error {
	for {
		sleep := m.poll.IntervalDuration()
		if err := m.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.status.RecordFailure()
			m.logger.Error("poll iteration failed", zap.Error(err))
			sleep *= 2
		}
		m.status.RecordPoll()

		select {
		case <-ctx.Done():
			m.logger.Info("personal manager stopping")
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func (m *Manager) pollOnce(ctx context.Context) error {
	convs, err := m.bus.UnclaimedInbound(ctx, m.userEmail, 0, pollBatchSize)
	if err != nil {
		return err
	}

	for i := range convs {
		conv := &convs[i]
		won, err := m.bus.Claim(ctx, conv, m.claimant)
		if err != nil {
			m.logger.Warn("claim failed", zap.String("conversation_id", conv.ID), zap.Error(err))
			continue
		}
		if !won {
			m.status.RecordConflict()
			continue
		}
		m.status.RecordClaim()
		m.processMessage(ctx, conv)
	}
	return nil
}

// processMessage runs one claimed inbound row through the LLM and replies.
func (m *Manager) processMessage(ctx context.Context, conv *model.Conversation) {
	log := m.logger.WithFields(zap.String("conversation_id", conv.ID))
	log.Info("processing inbound message")

	reply, err := m.invokeLLM(ctx, conv)
	if err != nil {
		log.Error("message handling failed", zap.Error(err))
		reply = fallbackReply
	}

	if _, err := m.bus.PostOutbound(ctx, conv, reply, false); err != nil {
		log.Error("failed to post reply", zap.Error(err))
	}
	if err := m.bus.MarkProcessed(ctx, conv); err != nil {
		log.Error("failed to mark inbound processed", zap.Error(err))
	}
	m.users.TouchLastSeen(ctx, m.userEmail)
}

// invokeLLM runs the print-mode subprocess, resuming the stored session when
// one exists. A rejected resume discards the session and retries once fresh,
// prefixing the context-lost notice.
func (m *Manager) invokeLLM(ctx context.Context, conv *model.Conversation) (string, error) {
	sessionID := m.sessions.Get(conv.ExternalConversationID)

	res, err := m.runner.RunPrint(ctx, llmcli.PrintRequest{
		Prompt:           conv.Message,
		SystemPromptFile: m.systemPromptFile(),
		ResumeSessionID:  sessionID,
		Timeout:          m.llm.PrintTimeoutDuration(),
	})

	lostContext := false
	if sessionID != "" && (err != nil || res.IsError) {
		m.logger.Warn("session resume failed, retrying fresh",
			zap.String("conversation_id", conv.ID),
			zap.String("session_id", sessionID),
			zap.Error(err))
		if derr := m.sessions.Delete(conv.ExternalConversationID); derr != nil {
			m.logger.Warn("failed to drop stale session", zap.Error(derr))
		}
		lostContext = true

		res, err = m.runner.RunPrint(ctx, llmcli.PrintRequest{
			Prompt:           conv.Message,
			SystemPromptFile: m.systemPromptFile(),
			Timeout:          m.llm.PrintTimeoutDuration(),
		})
	}
	if err != nil {
		return "", err
	}

	if res.SessionID != "" {
		if serr := m.sessions.Set(conv.ExternalConversationID, res.SessionID); serr != nil {
			m.logger.Warn("failed to persist session id", zap.Error(serr))
		}
	}

	reply := res.Text
	if reply == "" {
		reply = fallbackReply
	}
	if lostContext {
		reply = contextLostNotice + reply
	}
	return reply, nil
}

func (m *Manager) systemPromptFile() string {
	if m.llm.SystemPromptDir == "" {
		return ""
	}
	return filepath.Join(m.llm.SystemPromptDir, managerSystemPrompt)
}

// sweepLoop runs fn on the given interval until the context ends. Sweep
// failures are logged, never fatal.
func (m *Manager) sweepLoop(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (m *Manager) sweepStaleTasks(ctx context.Context) {
	failed, err := m.tasks.FailStaleRunning(ctx, m.userEmail, m.poll.StaleTaskAge())
	if err != nil {
		m.logger.Warn("stale-task sweep failed", zap.Error(err))
		return
	}
	if failed > 0 {
		m.logger.Info("stale-task sweep finished", zap.Int("failed", failed))
	}
}

func (m *Manager) sweepExpiredOutbound(ctx context.Context) {
	if _, err := m.bus.ExpireStaleOutbound(ctx, m.poll.OutboundExpiryAge()); err != nil {
		m.logger.Warn("outbound-expiry sweep failed", zap.Error(err))
	}
}
