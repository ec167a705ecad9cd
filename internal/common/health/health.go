// Package health provides the per-daemon health and status HTTP surface.
// Every daemon exposes /health for liveness probes and /status for
// poll-loop visibility.
package health

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zapcore"

	"github.com/shraga-ai/shraga/internal/common/config"
	"github.com/shraga-ai/shraga/internal/common/logger"
)

// Status tracks poll-loop liveness and counters for one daemon.
type Status struct {
	mu        sync.Mutex
	daemon    string
	startedAt time.Time
	lastPoll  time.Time
	claims    int64
	conflicts int64
	failures  int64
}

// NewStatus creates a status tracker for the named daemon.
func NewStatus(daemon string) *Status {
	return &Status{
		daemon:    daemon,
		startedAt: time.Now(),
	}
}

// RecordPoll marks a completed poll iteration.
func (s *Status) RecordPoll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPoll = time.Now()
}

// RecordClaim increments the successful-claim counter.
func (s *Status) RecordClaim() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims++
}

// RecordConflict increments the lost-claim-race counter.
func (s *Status) RecordConflict() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts++
}

// RecordFailure increments the iteration-failure counter.
func (s *Status) RecordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
}

// Snapshot returns the current counters as a JSON-serializable map.
func (s *Status) Snapshot() gin.H {
	s.mu.Lock()
	defer s.mu.Unlock()

	lastPoll := ""
	if !s.lastPoll.IsZero() {
		lastPoll = s.lastPoll.UTC().Format(time.RFC3339)
	}
	return gin.H{
		"daemon":     s.daemon,
		"started_at": s.startedAt.UTC().Format(time.RFC3339),
		"last_poll":  lastPoll,
		"claims":     s.claims,
		"conflicts":  s.conflicts,
		"failures":   s.failures,
	}
}

// NewServer builds the daemon's HTTP server with the health and status routes.
func NewServer(cfg config.ServerConfig, status *Status, log *logger.Logger) *http.Server {
	if !log.Zap().Core().Enabled(zapcore.DebugLevel) {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(recovery(log), requestLogger(log))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, status.Snapshot())
	})

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeoutDuration(),
		WriteTimeout: cfg.WriteTimeoutDuration(),
	}
}
