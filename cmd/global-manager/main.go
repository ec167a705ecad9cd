package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/shraga-ai/shraga/internal/app"
	"github.com/shraga-ai/shraga/internal/bus"
	"github.com/shraga-ai/shraga/internal/devcenter"
	"github.com/shraga-ai/shraga/internal/directory"
	"github.com/shraga-ai/shraga/internal/globalmanager"
	"github.com/shraga-ai/shraga/internal/identity"
	"github.com/shraga-ai/shraga/internal/users"
	"github.com/shraga-ai/shraga/pkg/llmcli"
)

// devcenterTokenVar holds a pre-acquired provisioning-API token.
const devcenterTokenVar = "DEVCENTER_TOKEN"

// identityEndpointVar points at the external directory-lookup endpoint.
const identityEndpointVar = "IDENTITY_ENDPOINT"

func main() {
	a, err := app.Bootstrap("global-manager")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start global manager: %v\n", err)
		os.Exit(1)
	}
	log := a.Log

	devboxTokens := devcenterTokens()
	devboxes := devcenter.NewClient(devcenter.Config{
		Endpoint:           a.Cfg.DevCenter.Endpoint,
		Project:            a.Cfg.DevCenter.Project,
		Pool:               a.Cfg.DevCenter.Pool,
		CustomizationGroup: a.Cfg.DevCenter.CustomizationGroup,
	}, devboxTokens, log)

	resolver := identity.NewHTTPResolver(os.Getenv(identityEndpointVar), devboxTokens)

	var composer globalmanager.Composer
	if a.Cfg.LLM.SystemPromptDir != "" {
		composer = &globalmanager.LLMComposer{
			Runner:          &llmcli.Runner{Binary: a.Cfg.LLM.Binary, Model: a.Cfg.LLM.Model},
			SystemPromptDir: a.Cfg.LLM.SystemPromptDir,
			Timeout:         a.Cfg.LLM.PrintTimeoutDuration(),
		}
	}

	mgr := globalmanager.New(
		bus.New(a.Directory, log),
		users.NewStore(a.Directory, log),
		devboxes,
		resolver,
		composer,
		a.Cfg.Poll,
		a.Status,
		log,
	)

	if err := a.Run(mgr.Run); err != nil {
		log.Fatal("global manager exited", zap.Error(err))
	}
}

// devcenterTokens reads the provisioning token from the environment. The
// devcenter and identity lookups share one resource scope.
func devcenterTokens() *directory.EnvTokenProvider {
	return &directory.EnvTokenProvider{Var: devcenterTokenVar}
}
