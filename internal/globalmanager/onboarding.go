package globalmanager

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/shraga-ai/shraga/internal/common/errors"
	"github.com/shraga-ai/shraga/internal/devcenter"
	"github.com/shraga-ai/shraga/pkg/model"
)

// completionWords are the replies accepted as "I finished authenticating".
var completionWords = map[string]bool{
	"done":      true,
	"yes":       true,
	"completed": true,
	"finished":  true,
	"ready":     true,
	"ok":        true,
}

func isCompletionWord(message string) bool {
	return completionWords[strings.ToLower(strings.TrimSpace(message))]
}

const welcomeMessage = "Welcome to Shraga! I'm setting up your personal development environment now. " +
	"This usually takes 30-60 minutes. I'll let you know as soon as it's ready, " +
	"or just message me again later to check on progress."

const progressMessage = "Your environment is still being provisioned. " +
	"Hang tight, I'll have it ready soon. Message me again in a few minutes to check progress."

const provisioningFailedMessage = "Unfortunately provisioning your environment failed. " +
	"Send me any message to try again."

const readyMessage = "You're all set! Your personal assistant is ready. " +
	"Tell me what you'd like to work on and I'll take it from there."

func rdpInstructions(connectionURL string) string {
	return fmt.Sprintf(`Your environment is ready, one last step: I need you to sign in to the coding assistant there.

1. Open your environment in the browser: %s
2. Open a terminal and run: claude
3. Follow the sign-in prompts in the terminal.
4. When you're done, reply here with "done".`, connectionURL)
}

// processOnboarding advances the user one step through the onboarding state
// machine and returns the reply to send. State is persisted before the reply
// is posted so a crash never loses a transition.
func (m *Manager) processOnboarding(ctx context.Context, email, message string) (string, error) {
	user, err := m.users.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}

	step := model.OnboardingStep("")
	if user != nil {
		step = user.OnboardingStep
	}

	switch step {
	case "", model.StepProvisioningFailed:
		return m.startProvisioning(ctx, email)

	case model.StepProvisioning, model.StepWaitingProvisioning:
		return m.checkProvisioning(ctx, user)

	case model.StepCustomizing:
		return m.checkCustomization(ctx, user)

	case model.StepAuthPending:
		if err := m.users.SetStep(ctx, user.Email, model.StepAuthPendingRDP, nil); err != nil {
			return "", err
		}
		return rdpInstructions(user.ConnectionURL), nil

	case model.StepAuthPendingRDP:
		if isCompletionWord(message) {
			if err := m.users.SetStep(ctx, user.Email, model.StepCompleted, nil); err != nil {
				return "", err
			}
			return readyMessage, nil
		}
		return rdpInstructions(user.ConnectionURL), nil

	case model.StepCompleted:
		// Already onboarded; the personal manager should be handling this
		// user, so answer as a generic fallback.
		return m.composeFallback(ctx, email, message), nil

	default:
		return "", apperrors.LogicError(fmt.Sprintf("unknown onboarding step %q for %s", step, email))
	}
}

func (m *Manager) startProvisioning(ctx context.Context, email string) (string, error) {
	aadID, err := m.identity.ResolveObjectID(ctx, email)
	if err != nil {
		return "", err
	}

	boxName := devboxName(email)
	if _, err := m.devboxes.CreateDevBox(ctx, aadID, boxName); err != nil {
		// Surface the failure but keep the row absent so the next message
		// retries from scratch.
		m.logger.Error("devbox provisioning request failed",
			zap.String("email", email), zap.Error(err))
		return "I couldn't start provisioning your environment: " + err.Error() +
			". Send me another message to retry.", nil
	}

	err = m.users.SetStep(ctx, email, model.StepProvisioning, map[string]any{
		"azure_ad_id": aadID,
		"devbox_name": boxName,
	})
	if err != nil {
		return "", err
	}
	return welcomeMessage, nil
}

func (m *Manager) checkProvisioning(ctx context.Context, user *model.User) (string, error) {
	box, err := m.devboxes.GetDevBox(ctx, user.AzureADID, user.DevboxName)
	if err != nil {
		m.logger.Warn("devbox status query failed",
			zap.String("email", user.Email), zap.Error(err))
		return "I couldn't check on your environment just now (" + err.Error() +
			"). I'll try again with your next message.", nil
	}

	switch box.ProvisioningState {
	case devcenter.StateSucceeded:
		conn, err := m.devboxes.GetRemoteConnection(ctx, user.AzureADID, user.DevboxName)
		connectionURL := ""
		if err != nil {
			m.logger.Warn("remote connection lookup failed",
				zap.String("email", user.Email), zap.Error(err))
		} else {
			connectionURL = conn.WebURL
		}

		if err := m.devboxes.ApplyCustomization(ctx, user.AzureADID, user.DevboxName); err != nil {
			m.logger.Warn("customization request failed",
				zap.String("email", user.Email), zap.Error(err))
		}
		err = m.users.SetStep(ctx, user.Email, model.StepCustomizing, map[string]any{
			"devbox_status":  box.ProvisioningState,
			"connection_url": connectionURL,
		})
		if err != nil {
			return "", err
		}
		return "Your environment is provisioned! I'm installing your tools now. " +
			"Message me again in a few minutes.", nil

	case devcenter.StateFailed:
		err := m.users.SetStep(ctx, user.Email, model.StepProvisioningFailed, map[string]any{
			"devbox_status": box.ProvisioningState,
		})
		if err != nil {
			return "", err
		}
		return provisioningFailedMessage, nil

	default:
		if user.OnboardingStep == model.StepProvisioning {
			err := m.users.SetStep(ctx, user.Email, model.StepWaitingProvisioning, map[string]any{
				"devbox_status": box.ProvisioningState,
			})
			if err != nil {
				return "", err
			}
		}
		return progressMessage, nil
	}
}

func (m *Manager) checkCustomization(ctx context.Context, user *model.User) (string, error) {
	cust, err := m.devboxes.GetCustomization(ctx, user.AzureADID, user.DevboxName)
	if err != nil {
		m.logger.Warn("customization status query failed",
			zap.String("email", user.Email), zap.Error(err))
		return "I couldn't check the software install just now. " +
			"Message me again in a bit.", nil
	}

	switch cust.Status {
	case devcenter.StateSucceeded:
		reply, err := m.startAuth(ctx, user)
		if err != nil {
			return "", err
		}
		return reply, nil

	case devcenter.StateFailed, devcenter.StateValidationFailed:
		// Tool install failed but the box itself works; continue onboarding
		// and warn the user.
		reply, err := m.startAuth(ctx, user)
		if err != nil {
			return "", err
		}
		return "Some of the automated tool setup failed, so you may need to install a few " +
			"things manually.\n\n" + reply, nil

	default:
		return "Still installing your tools. Message me again in a few minutes.", nil
	}
}

// startAuth moves the user into the authentication phase. auth_pending is
// persisted first so a crash before the instructions go out resumes there,
// then the row lands on auth_pending_rdp with the instructions sent.
func (m *Manager) startAuth(ctx context.Context, user *model.User) (string, error) {
	if err := m.users.SetStep(ctx, user.Email, model.StepAuthPending, nil); err != nil {
		return "", err
	}
	if err := m.users.SetStep(ctx, user.Email, model.StepAuthPendingRDP, nil); err != nil {
		return "", err
	}
	return rdpInstructions(user.ConnectionURL), nil
}

// devboxName derives a stable dev-box name from the user's email local part.
func devboxName(email string) string {
	local := email
	if i := strings.IndexByte(email, '@'); i > 0 {
		local = email[:i]
	}
	var sb strings.Builder
	for _, r := range strings.ToLower(local) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			sb.WriteRune(r)
		}
	}
	name := strings.Trim(sb.String(), "-")
	if name == "" {
		name = "user"
	}
	const maxLen = 40
	if len(name) > maxLen {
		name = name[:maxLen]
	}
	return "shraga-box-" + name
}
