package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/shraga-ai/shraga/internal/app"
	"github.com/shraga-ai/shraga/internal/orchestrator"
	"github.com/shraga-ai/shraga/internal/tasks"
)

func main() {
	a, err := app.Bootstrap("orchestrator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start orchestrator: %v\n", err)
		os.Exit(1)
	}
	log := a.Log

	if a.Cfg.Orchestrator.AdminEmail == "" {
		log.Fatal("orchestrator.adminEmail is required")
	}

	orch, err := orchestrator.New(
		tasks.NewStore(a.Directory, log),
		a.Cfg.Orchestrator,
		a.Cfg.Poll,
		a.Status,
		log,
	)
	if err != nil {
		log.Fatal("cannot initialise orchestrator", zap.Error(err))
	}

	if err := a.Run(orch.Run); err != nil {
		log.Fatal("orchestrator exited", zap.Error(err))
	}
}
