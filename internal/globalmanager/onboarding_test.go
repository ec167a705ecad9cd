package globalmanager

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shraga-ai/shraga/internal/common/logger"
	"github.com/shraga-ai/shraga/internal/devcenter"
	"github.com/shraga-ai/shraga/internal/directory"
	"github.com/shraga-ai/shraga/internal/directory/dirtest"
	"github.com/shraga-ai/shraga/internal/users"
	"github.com/shraga-ai/shraga/pkg/model"
)

// fakeDevboxes implements DevboxAPI with overridable behavior per call.
type fakeDevboxes struct {
	create    func(ctx context.Context, aadID, name string) (*devcenter.DevBox, error)
	get       func(ctx context.Context, aadID, name string) (*devcenter.DevBox, error)
	customize func(ctx context.Context, aadID, name string) error
	custState func(ctx context.Context, aadID, name string) (*devcenter.Customization, error)
	connect   func(ctx context.Context, aadID, name string) (*devcenter.RemoteConnection, error)
}

func (f *fakeDevboxes) CreateDevBox(ctx context.Context, aadID, name string) (*devcenter.DevBox, error) {
	if f.create == nil {
		return &devcenter.DevBox{Name: name, ProvisioningState: "Creating"}, nil
	}
	return f.create(ctx, aadID, name)
}

func (f *fakeDevboxes) GetDevBox(ctx context.Context, aadID, name string) (*devcenter.DevBox, error) {
	if f.get == nil {
		return &devcenter.DevBox{Name: name, ProvisioningState: "Creating"}, nil
	}
	return f.get(ctx, aadID, name)
}

func (f *fakeDevboxes) GetCustomization(ctx context.Context, aadID, name string) (*devcenter.Customization, error) {
	if f.custState == nil {
		return &devcenter.Customization{Status: "Running"}, nil
	}
	return f.custState(ctx, aadID, name)
}

func (f *fakeDevboxes) ApplyCustomization(ctx context.Context, aadID, name string) error {
	if f.customize == nil {
		return nil
	}
	return f.customize(ctx, aadID, name)
}

func (f *fakeDevboxes) GetRemoteConnection(ctx context.Context, aadID, name string) (*devcenter.RemoteConnection, error) {
	if f.connect == nil {
		return &devcenter.RemoteConnection{WebURL: "https://devbox.example.com/web"}, nil
	}
	return f.connect(ctx, aadID, name)
}

type resolverFunc func(ctx context.Context, email string) (string, error)

func (f resolverFunc) ResolveObjectID(ctx context.Context, email string) (string, error) {
	return f(ctx, email)
}

func staticResolver(id string) resolverFunc {
	return func(context.Context, string) (string, error) { return id, nil }
}

func newTestManager(t *testing.T, boxes *fakeDevboxes) (*Manager, *users.Store) {
	t.Helper()
	server := dirtest.New()
	t.Cleanup(server.Close)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	client := directory.NewClient(server.URL, directory.Tables{Users: "users"},
		&directory.StaticTokenProvider{Value: "t"}, log)
	userStore := users.NewStore(client, log)

	m := &Manager{
		users:    userStore,
		devboxes: boxes,
		identity: staticResolver("aad-123"),
		logger:   log,
	}
	return m, userStore
}

func userStep(t *testing.T, store *users.Store, email string) *model.User {
	t.Helper()
	user, err := store.GetByEmail(context.Background(), email)
	require.NoError(t, err)
	require.NotNil(t, user)
	return user
}

func TestOnboardingNewUserStartsProvisioning(t *testing.T) {
	var createdAAD, createdName string
	boxes := &fakeDevboxes{
		create: func(_ context.Context, aadID, name string) (*devcenter.DevBox, error) {
			createdAAD, createdName = aadID, name
			return &devcenter.DevBox{Name: name, ProvisioningState: "Creating"}, nil
		},
	}
	m, store := newTestManager(t, boxes)

	reply, err := m.processOnboarding(context.Background(), "alice@ex.com", "hi")
	require.NoError(t, err)
	assert.Equal(t, welcomeMessage, reply)
	assert.Equal(t, "aad-123", createdAAD)
	assert.Equal(t, "shraga-box-alice", createdName)

	user := userStep(t, store, "alice@ex.com")
	assert.Equal(t, model.StepProvisioning, user.OnboardingStep)
	assert.Equal(t, "aad-123", user.AzureADID)
	assert.Equal(t, "shraga-box-alice", user.DevboxName)
}

func TestOnboardingCreateFailureInvitesRetry(t *testing.T) {
	boxes := &fakeDevboxes{
		create: func(context.Context, string, string) (*devcenter.DevBox, error) {
			return nil, errors.New("quota exceeded")
		},
	}
	m, store := newTestManager(t, boxes)

	reply, err := m.processOnboarding(context.Background(), "alice@ex.com", "hi")
	require.NoError(t, err)
	assert.Contains(t, reply, "quota exceeded")
	assert.Contains(t, reply, "retry")

	// No row was written, so the next message starts provisioning again.
	user, err := store.GetByEmail(context.Background(), "alice@ex.com")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestOnboardingProvisioningInProgress(t *testing.T) {
	m, store := newTestManager(t, &fakeDevboxes{})
	require.NoError(t, store.SetStep(context.Background(), "alice@ex.com",
		model.StepProvisioning, map[string]any{
			"azure_ad_id": "aad-123", "devbox_name": "shraga-box-alice",
		}))

	reply, err := m.processOnboarding(context.Background(), "alice@ex.com", "status?")
	require.NoError(t, err)
	assert.Equal(t, progressMessage, reply)
	assert.Equal(t, model.StepWaitingProvisioning, userStep(t, store, "alice@ex.com").OnboardingStep)
}

func TestOnboardingProvisioningSucceeded(t *testing.T) {
	customized := false
	boxes := &fakeDevboxes{
		get: func(_ context.Context, _, name string) (*devcenter.DevBox, error) {
			return &devcenter.DevBox{Name: name, ProvisioningState: devcenter.StateSucceeded}, nil
		},
		customize: func(context.Context, string, string) error {
			customized = true
			return nil
		},
	}
	m, store := newTestManager(t, boxes)
	require.NoError(t, store.SetStep(context.Background(), "alice@ex.com",
		model.StepWaitingProvisioning, map[string]any{
			"azure_ad_id": "aad-123", "devbox_name": "shraga-box-alice",
		}))

	reply, err := m.processOnboarding(context.Background(), "alice@ex.com", "status?")
	require.NoError(t, err)
	assert.Contains(t, reply, "installing your tools")
	assert.True(t, customized)

	user := userStep(t, store, "alice@ex.com")
	assert.Equal(t, model.StepCustomizing, user.OnboardingStep)
	assert.Equal(t, "https://devbox.example.com/web", user.ConnectionURL)
}

func TestOnboardingProvisioningFailed(t *testing.T) {
	boxes := &fakeDevboxes{
		get: func(_ context.Context, _, name string) (*devcenter.DevBox, error) {
			return &devcenter.DevBox{Name: name, ProvisioningState: devcenter.StateFailed}, nil
		},
	}
	m, store := newTestManager(t, boxes)
	require.NoError(t, store.SetStep(context.Background(), "alice@ex.com",
		model.StepProvisioning, map[string]any{
			"azure_ad_id": "aad-123", "devbox_name": "shraga-box-alice",
		}))

	reply, err := m.processOnboarding(context.Background(), "alice@ex.com", "status?")
	require.NoError(t, err)
	assert.Equal(t, provisioningFailedMessage, reply)
	assert.Equal(t, model.StepProvisioningFailed, userStep(t, store, "alice@ex.com").OnboardingStep)

	// The failed step restarts provisioning on the next message.
	reply, err = m.processOnboarding(context.Background(), "alice@ex.com", "try again")
	require.NoError(t, err)
	assert.Equal(t, welcomeMessage, reply)
	assert.Equal(t, model.StepProvisioning, userStep(t, store, "alice@ex.com").OnboardingStep)
}

func TestOnboardingCustomizationDone(t *testing.T) {
	boxes := &fakeDevboxes{
		custState: func(context.Context, string, string) (*devcenter.Customization, error) {
			return &devcenter.Customization{Status: devcenter.StateSucceeded}, nil
		},
	}
	m, store := newTestManager(t, boxes)
	require.NoError(t, store.SetStep(context.Background(), "alice@ex.com",
		model.StepCustomizing, map[string]any{
			"azure_ad_id": "aad-123", "devbox_name": "shraga-box-alice",
			"connection_url": "https://devbox.example.com/web",
		}))

	reply, err := m.processOnboarding(context.Background(), "alice@ex.com", "status?")
	require.NoError(t, err)
	assert.Contains(t, reply, "https://devbox.example.com/web")
	assert.Contains(t, reply, `reply here with "done"`)
	assert.Equal(t, model.StepAuthPendingRDP, userStep(t, store, "alice@ex.com").OnboardingStep)
}

func TestOnboardingAuthPendingResumes(t *testing.T) {
	// A crash between the auth_pending write and the instructions leaves the
	// row on auth_pending; the next message re-sends them.
	m, store := newTestManager(t, &fakeDevboxes{})
	require.NoError(t, store.SetStep(context.Background(), "alice@ex.com",
		model.StepAuthPending, map[string]any{
			"connection_url": "https://devbox.example.com/web",
		}))

	reply, err := m.processOnboarding(context.Background(), "alice@ex.com", "hello?")
	require.NoError(t, err)
	assert.Contains(t, reply, "https://devbox.example.com/web")
	assert.Equal(t, model.StepAuthPendingRDP, userStep(t, store, "alice@ex.com").OnboardingStep)
}

func TestOnboardingAuthCompletion(t *testing.T) {
	m, store := newTestManager(t, &fakeDevboxes{})
	require.NoError(t, store.SetStep(context.Background(), "alice@ex.com",
		model.StepAuthPendingRDP, map[string]any{
			"connection_url": "https://devbox.example.com/web",
		}))

	t.Run("non-completion reply re-sends instructions", func(t *testing.T) {
		reply, err := m.processOnboarding(context.Background(), "alice@ex.com", "what now?")
		require.NoError(t, err)
		assert.Contains(t, reply, "https://devbox.example.com/web")
		assert.Equal(t, model.StepAuthPendingRDP, userStep(t, store, "alice@ex.com").OnboardingStep)
	})

	t.Run("completion word finishes onboarding", func(t *testing.T) {
		reply, err := m.processOnboarding(context.Background(), "alice@ex.com", "  Done ")
		require.NoError(t, err)
		assert.Equal(t, readyMessage, reply)
		assert.Equal(t, model.StepCompleted, userStep(t, store, "alice@ex.com").OnboardingStep)
	})
}

func TestOnboardingCompletedUserGetsFallback(t *testing.T) {
	m, store := newTestManager(t, &fakeDevboxes{})
	require.NoError(t, store.SetStep(context.Background(), "alice@ex.com",
		model.StepCompleted, nil))

	reply, err := m.processOnboarding(context.Background(), "alice@ex.com", "hello?")
	require.NoError(t, err)
	assert.Contains(t, reply, "personal assistant")
	assert.Equal(t, model.StepCompleted, userStep(t, store, "alice@ex.com").OnboardingStep)
}

func TestIsCompletionWord(t *testing.T) {
	for _, word := range []string{"done", "Done", " YES ", "ok", "finished"} {
		assert.True(t, isCompletionWord(word), word)
	}
	for _, word := range []string{"done?", "not done", "", "okay"} {
		assert.False(t, isCompletionWord(word), word)
	}
}

func TestDevboxName(t *testing.T) {
	assert.Equal(t, "shraga-box-alice", devboxName("Alice@Example.com"))
	assert.Equal(t, "shraga-box-jo-annx", devboxName("jo-ann.x@ex.com"))
	assert.Equal(t, "shraga-box-user", devboxName("---@ex.com"))
	long := devboxName(strings.Repeat("a", 80) + "@ex.com")
	assert.Len(t, long, len("shraga-box-")+40)
}
