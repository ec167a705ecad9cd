// Package app carries the daemon bootstrap shared by every Shraga process:
// env-file loading, configuration, logging, the directory-store client, and
// the health server plus signal-driven shutdown.
package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shraga-ai/shraga/internal/common/config"
	"github.com/shraga-ai/shraga/internal/common/health"
	"github.com/shraga-ai/shraga/internal/common/logger"
	"github.com/shraga-ai/shraga/internal/directory"
)

// tokenEnvVar, when set, short-circuits the client-credentials flow with a
// pre-acquired directory-store token.
const tokenEnvVar = "DATAVERSE_TOKEN"

// App is the assembled shared surface of one daemon.
type App struct {
	Name      string
	Cfg       *config.Config
	Log       *logger.Logger
	Directory *directory.Client
	Status    *health.Status
}

// Bootstrap loads configuration and builds the shared clients for the named
// daemon. The .env file is optional.
func Bootstrap(name string) (*App, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.NewLogger(logger.LoggingConfig(cfg.Logging))
	if err != nil {
		return nil, err
	}
	logger.SetDefault(log)

	tokens := tokenProvider(cfg)
	dir := directory.NewClient(cfg.Directory.URL, directory.Tables{
		Conversations: cfg.Directory.ConversationsTable,
		Users:         cfg.Directory.UsersTable,
		Tasks:         cfg.Directory.TasksTable,
		Messages:      cfg.Directory.MessagesTable,
	}, tokens, log)

	return &App{
		Name:      name,
		Cfg:       cfg,
		Log:       log.WithFields(zap.String("daemon", name)),
		Directory: dir,
		Status:    health.NewStatus(name),
	}, nil
}

// tokenProvider picks the directory-store auth source: a pre-acquired token
// from the environment, or the client-credentials flow.
func tokenProvider(cfg *config.Config) directory.TokenProvider {
	if os.Getenv(tokenEnvVar) != "" {
		return &directory.EnvTokenProvider{Var: tokenEnvVar}
	}
	return directory.NewClientCredentialsProvider(
		cfg.Directory.TenantID,
		cfg.Directory.ClientID,
		cfg.Directory.ClientSecret,
		cfg.Directory.URL+"/.default",
	)
}

// Run serves /health and /status next to the daemon loop and blocks until a
// shutdown signal arrives or the loop returns. A loop error other than
// context.Canceled is returned to the caller.
func (a *App) Run(run func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := health.NewServer(a.Cfg.Server, a.Status, a.Log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Log.Info("health server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		err := run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	err := g.Wait()
	_ = a.Log.Sync()
	return err
}
