package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/shraga-ai/shraga/internal/app"
	"github.com/shraga-ai/shraga/internal/bus"
	"github.com/shraga-ai/shraga/internal/personalmanager"
	"github.com/shraga-ai/shraga/internal/tasks"
	"github.com/shraga-ai/shraga/internal/users"
	"github.com/shraga-ai/shraga/pkg/llmcli"
)

func main() {
	a, err := app.Bootstrap("personal-manager")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start personal manager: %v\n", err)
		os.Exit(1)
	}
	log := a.Log

	userEmail := a.Cfg.Personal.UserEmail
	if userEmail == "" {
		log.Fatal("USER_EMAIL is required for the personal manager")
	}

	sessionsPath := a.Cfg.Personal.SessionsFile
	if sessionsPath == "" {
		sessionsPath, err = personalmanager.DefaultSessionsPath(userEmail)
		if err != nil {
			log.Fatal("cannot resolve sessions file path", zap.Error(err))
		}
	}
	sessions, err := personalmanager.OpenSessionStore(sessionsPath)
	if err != nil {
		log.Fatal("cannot open sessions file", zap.Error(err))
	}
	log.Info("session store loaded",
		zap.String("path", sessionsPath), zap.Int("sessions", sessions.Len()))

	mgr := personalmanager.New(
		bus.New(a.Directory, log),
		tasks.NewStore(a.Directory, log),
		users.NewStore(a.Directory, log),
		sessions,
		&llmcli.Runner{Binary: a.Cfg.LLM.Binary, Model: a.Cfg.LLM.Model},
		userEmail,
		a.Cfg.Poll,
		a.Cfg.LLM,
		a.Status,
		log,
	)

	if err := a.Run(mgr.Run); err != nil {
		log.Fatal("personal manager exited", zap.Error(err))
	}
}
