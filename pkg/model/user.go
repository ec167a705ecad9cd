package model

import "time"

// OnboardingStep tracks where a user is in the dev-box onboarding flow.
// The User row is the single source of truth, so a crashed manager resumes
// from whatever step was last persisted.
type OnboardingStep string

const (
	StepProvisioning        OnboardingStep = "provisioning"
	StepWaitingProvisioning OnboardingStep = "waiting_provisioning"
	StepCustomizing         OnboardingStep = "customizing"
	StepAuthPending         OnboardingStep = "auth_pending"
	StepAuthPendingRDP      OnboardingStep = "auth_pending_rdp"
	StepCompleted           OnboardingStep = "completed"
	StepProvisioningFailed  OnboardingStep = "provisioning_failed"
)

// User is a row in the user table, keyed by email.
type User struct {
	Email          string         `json:"email"`
	AzureADID      string         `json:"azure_ad_id,omitempty"`
	DevboxName     string         `json:"devbox_name,omitempty"`
	DevboxStatus   string         `json:"devbox_status,omitempty"`
	ConnectionURL  string         `json:"connection_url,omitempty"`
	AuthURL        string         `json:"auth_url,omitempty"`
	OnboardingStep OnboardingStep `json:"onboarding_step,omitempty"`
	LastSeen       time.Time      `json:"last_seen"`

	ETag string `json:"-"`
}
