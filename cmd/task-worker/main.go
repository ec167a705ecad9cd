package main

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/shraga-ai/shraga/internal/app"
	"github.com/shraga-ai/shraga/internal/bus"
	"github.com/shraga-ai/shraga/internal/engine"
	"github.com/shraga-ai/shraga/internal/syncdrive"
	"github.com/shraga-ai/shraga/internal/tasks"
	"github.com/shraga-ai/shraga/internal/worker"
	"github.com/shraga-ai/shraga/pkg/llmcli"
)

// syncBaseURLVar publishes the web root the sync share is reachable under.
// Without it session links are omitted from summaries.
const syncBaseURLVar = "SYNC_BASE_URL"

// updateAppliedExitCode tells the supervisor the exit is an intentional
// restart-for-update, not a crash.
const updateAppliedExitCode = 3

func main() {
	a, err := app.Bootstrap("task-worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start task worker: %v\n", err)
		os.Exit(1)
	}
	log := a.Log

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatal("cannot resolve hostname", zap.Error(err))
	}
	workerID := hostname

	var mapper *syncdrive.Mapper
	if root, err := syncdrive.FindSyncRoot(false); err == nil {
		mapper = &syncdrive.Mapper{Root: root, BaseURL: os.Getenv(syncBaseURLVar)}
		log.Info("sync root resolved", zap.String("root", root))
	} else {
		log.Warn("no sync root found; session folders stay local", zap.Error(err))
	}

	runner := &llmcli.Runner{Binary: a.Cfg.LLM.Binary, Model: a.Cfg.LLM.Model}
	eng := engine.New(runner, a.Cfg.Worker.MaxIterations, a.Cfg.LLM.StreamTimeoutDuration(), log)

	userEmails := []string{}
	if a.Cfg.Personal.UserEmail != "" {
		userEmails = append(userEmails, a.Cfg.Personal.UserEmail)
	}
	if a.Cfg.Orchestrator.AdminEmail != "" {
		userEmails = append(userEmails, a.Cfg.Orchestrator.AdminEmail)
	}

	w := worker.New(
		tasks.NewStore(a.Directory, log),
		bus.New(a.Directory, log),
		eng,
		a.Cfg.Worker,
		a.Cfg.Poll,
		workerID,
		hostname,
		userEmails,
		mapper,
		a.Status,
		log,
	)

	if err := a.Run(w.Run); err != nil {
		var updated *worker.ErrUpdateApplied
		if errors.As(err, &updated) {
			log.Info("restarting for update",
				zap.String("from", updated.From), zap.String("to", updated.To))
			os.Exit(updateAppliedExitCode)
		}
		log.Fatal("task worker exited", zap.Error(err))
	}
}
