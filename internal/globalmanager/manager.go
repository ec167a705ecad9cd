// Package globalmanager implements the fallback message handler and the
// new-user onboarding state machine. It claims inbound rows only after the
// claim delay has passed, giving each user's personal manager first right of
// refusal.
package globalmanager

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shraga-ai/shraga/internal/bus"
	"github.com/shraga-ai/shraga/internal/common/config"
	apperrors "github.com/shraga-ai/shraga/internal/common/errors"
	"github.com/shraga-ai/shraga/internal/common/health"
	"github.com/shraga-ai/shraga/internal/common/logger"
	"github.com/shraga-ai/shraga/internal/devcenter"
	"github.com/shraga-ai/shraga/internal/identity"
	"github.com/shraga-ai/shraga/internal/users"
	"github.com/shraga-ai/shraga/pkg/model"
)

// Claimant is the claimed_by marker written by the global manager.
const Claimant = "global"

const pollBatchSize = 20

// DevboxAPI is the provisioning surface the onboarding flow needs.
// *devcenter.Client satisfies it; tests substitute a mock.
type DevboxAPI interface {
	CreateDevBox(ctx context.Context, aadID, name string) (*devcenter.DevBox, error)
	GetDevBox(ctx context.Context, aadID, name string) (*devcenter.DevBox, error)
	GetCustomization(ctx context.Context, aadID, name string) (*devcenter.Customization, error)
	ApplyCustomization(ctx context.Context, aadID, name string) error
	GetRemoteConnection(ctx context.Context, aadID, name string) (*devcenter.RemoteConnection, error)
}

// Composer turns a free-form user message into reply prose. The LLM-backed
// implementation is optional; without one a canned fallback is used.
type Composer interface {
	Compose(ctx context.Context, email, message string) (string, error)
}

// Manager is the global-manager daemon loop.
type Manager struct {
	bus      *bus.Bus
	users    *users.Store
	devboxes DevboxAPI
	identity identity.Resolver
	composer Composer
	poll     config.PollConfig
	status   *health.Status
	logger   *logger.Logger
}

// New creates a global manager. composer may be nil.
func New(b *bus.Bus, userStore *users.Store, devboxes DevboxAPI, resolver identity.Resolver,
	composer Composer, poll config.PollConfig, status *health.Status, log *logger.Logger) *Manager {
	return &Manager{
		bus:      b,
		users:    userStore,
		devboxes: devboxes,
		identity: resolver,
		composer: composer,
		poll:     poll,
		status:   status,
		logger:   log.WithFields(zap.String("component", "global-manager")),
	}
}

// Run polls until the context is canceled. Iteration errors double the sleep
// for one cycle instead of crashing the daemon.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("global manager started",
		zap.Duration("poll_interval", m.poll.IntervalDuration()),
		zap.Duration("claim_delay", m.poll.ClaimDelayDuration()))

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
			m.logger.Info("global manager stopping")
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func (m *Manager) pollOnce(ctx context.Context) error {
	convs, err := m.bus.UnclaimedInbound(ctx, "", m.poll.ClaimDelayDuration(), pollBatchSize)
	if err != nil {
		return err
	}

	for i := range convs {
		conv := &convs[i]
		won, err := m.bus.Claim(ctx, conv, Claimant)
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

// processMessage runs one claimed inbound row through the onboarding machine
// and replies. Failures after a successful claim still mark the row Processed
// so it is not re-picked forever.
func (m *Manager) processMessage(ctx context.Context, conv *model.Conversation) {
	log := m.logger.WithFields(
		zap.String("conversation_id", conv.ID),
		zap.String("email", conv.UserEmail))
	log.Info("processing inbound message")

	reply, err := m.processOnboarding(ctx, conv.UserEmail, conv.Message)
	if err != nil {
		log.Error("onboarding step failed", zap.Error(err))
		reply = "Something went wrong on my side: " + err.Error() + ". Please try again."
	}

	if _, err := m.bus.PostOutbound(ctx, conv, reply, false); err != nil {
		log.Error("failed to post reply", zap.Error(err))
	}
	if err := m.bus.MarkProcessed(ctx, conv); err != nil {
		log.Error("failed to mark inbound processed", zap.Error(err))
	}
	m.users.TouchLastSeen(ctx, conv.UserEmail)
}

// composeFallback answers an already-onboarded user whose personal manager
// did not pick the message up in time.
func (m *Manager) composeFallback(ctx context.Context, email, message string) string {
	if m.composer != nil {
		reply, err := m.composer.Compose(ctx, email, message)
		if err == nil && reply != "" {
			return reply
		}
		if err != nil && !apperrors.IsTransient(err) {
			m.logger.Warn("composer failed", zap.String("email", email), zap.Error(err))
		}
	}
	return "Your personal assistant seems to be catching up. " +
		"I've noted your message; it should respond shortly. " +
		"If nothing happens in a few minutes, please resend it."
}
