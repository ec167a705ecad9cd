// Package config provides configuration management for the Shraga daemons.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections shared by the Shraga daemons.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Directory    DirectoryConfig    `mapstructure:"directory"`
	Poll         PollConfig         `mapstructure:"poll"`
	DevCenter    DevCenterConfig    `mapstructure:"devcenter"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Personal     PersonalConfig     `mapstructure:"personal"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds the per-daemon health/status HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DirectoryConfig holds the directory-store endpoint and table names.
type DirectoryConfig struct {
	URL                string `mapstructure:"url"`
	ConversationsTable string `mapstructure:"conversationsTable"`
	UsersTable         string `mapstructure:"usersTable"`
	TasksTable         string `mapstructure:"tasksTable"`
	MessagesTable      string `mapstructure:"messagesTable"`
	TenantID           string `mapstructure:"tenantId"`
	ClientID           string `mapstructure:"clientId"`
	ClientSecret       string `mapstructure:"clientSecret"`
	HTTPTimeout        int    `mapstructure:"httpTimeout"` // in seconds
}

// PollConfig holds poll-loop pacing and sweep thresholds.
type PollConfig struct {
	Interval              int `mapstructure:"interval"`              // seconds between poll iterations
	ClaimDelay            int `mapstructure:"claimDelay"`            // seconds the personal manager gets first
	StaleTaskMinutes      int `mapstructure:"staleTaskMinutes"`      // Running tasks with no progress
	OutboundExpiryMinutes int `mapstructure:"outboundExpiryMinutes"` // Unclaimed Outbound age before Expired
}

// DevCenterConfig holds the compute-provisioning API configuration.
type DevCenterConfig struct {
	Endpoint           string `mapstructure:"endpoint"`
	Project            string `mapstructure:"project"`
	Pool               string `mapstructure:"pool"`
	CustomizationGroup string `mapstructure:"customizationGroup"`
}

// WorkerConfig holds the task-worker configuration.
type WorkerConfig struct {
	WorkBaseDir         string `mapstructure:"workBaseDir"`
	WorkingDir          string `mapstructure:"workingDir"`
	MaxIterations       int    `mapstructure:"maxIterations"`
	UpdateBranch        string `mapstructure:"updateBranch"`
	UpdateCheckInterval int    `mapstructure:"updateCheckInterval"` // in seconds
	StateFile           string `mapstructure:"stateFile"`
}

// PersonalConfig holds the personal-manager configuration.
type PersonalConfig struct {
	UserEmail    string `mapstructure:"userEmail"`
	SessionsFile string `mapstructure:"sessionsFile"`
}

// OrchestratorConfig holds the orchestrator configuration.
type OrchestratorConfig struct {
	AdminEmail string   `mapstructure:"adminEmail"`
	WorkerPool []string `mapstructure:"workerPool"`
	PacingMS   int      `mapstructure:"pacingMs"` // minimum ms between mirror creations
	StateFile  string   `mapstructure:"stateFile"`
}

// LLMConfig holds the LLM CLI invocation configuration.
type LLMConfig struct {
	Binary          string `mapstructure:"binary"`
	Model           string `mapstructure:"model"`
	PrintTimeout    int    `mapstructure:"printTimeout"`    // seconds, single-shot print mode
	StreamTimeout   int    `mapstructure:"streamTimeout"`   // seconds, streaming phase mode
	SystemPromptDir string `mapstructure:"systemPromptDir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// HTTPTimeoutDuration returns the directory-store HTTP timeout as a time.Duration.
func (d *DirectoryConfig) HTTPTimeoutDuration() time.Duration {
	return time.Duration(d.HTTPTimeout) * time.Second
}

// IntervalDuration returns the poll interval as a time.Duration.
func (p *PollConfig) IntervalDuration() time.Duration {
	return time.Duration(p.Interval) * time.Second
}

// ClaimDelayDuration returns the claim delay as a time.Duration.
func (p *PollConfig) ClaimDelayDuration() time.Duration {
	return time.Duration(p.ClaimDelay) * time.Second
}

// StaleTaskAge returns the stale-task threshold as a time.Duration.
func (p *PollConfig) StaleTaskAge() time.Duration {
	return time.Duration(p.StaleTaskMinutes) * time.Minute
}

// OutboundExpiryAge returns the outbound-expiry threshold as a time.Duration.
func (p *PollConfig) OutboundExpiryAge() time.Duration {
	return time.Duration(p.OutboundExpiryMinutes) * time.Minute
}

// UpdateCheckIntervalDuration returns the self-update check interval as a time.Duration.
func (w *WorkerConfig) UpdateCheckIntervalDuration() time.Duration {
	return time.Duration(w.UpdateCheckInterval) * time.Second
}

// PacingDuration returns the orchestrator pacing as a time.Duration.
func (o *OrchestratorConfig) PacingDuration() time.Duration {
	return time.Duration(o.PacingMS) * time.Millisecond
}

// PrintTimeoutDuration returns the print-mode timeout as a time.Duration.
func (l *LLMConfig) PrintTimeoutDuration() time.Duration {
	return time.Duration(l.PrintTimeout) * time.Second
}

// StreamTimeoutDuration returns the streaming-phase timeout as a time.Duration.
func (l *LLMConfig) StreamTimeoutDuration() time.Duration {
	return time.Duration(l.StreamTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if env := os.Getenv("SHRAGA_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Directory-store defaults
	v.SetDefault("directory.url", "")
	v.SetDefault("directory.conversationsTable", "shraga_conversations")
	v.SetDefault("directory.usersTable", "shraga_users")
	v.SetDefault("directory.tasksTable", "shraga_tasks")
	v.SetDefault("directory.messagesTable", "shraga_messages")
	v.SetDefault("directory.tenantId", "")
	v.SetDefault("directory.clientId", "")
	v.SetDefault("directory.clientSecret", "")
	v.SetDefault("directory.httpTimeout", 30)

	// Poll-loop defaults
	v.SetDefault("poll.interval", 5)
	v.SetDefault("poll.claimDelay", 15)
	v.SetDefault("poll.staleTaskMinutes", 30)
	v.SetDefault("poll.outboundExpiryMinutes", 10)

	// DevCenter defaults
	v.SetDefault("devcenter.endpoint", "")
	v.SetDefault("devcenter.project", "shraga")
	v.SetDefault("devcenter.pool", "shraga-pool")
	v.SetDefault("devcenter.customizationGroup", "shraga-setup")

	// Worker defaults
	v.SetDefault("worker.workBaseDir", "")
	v.SetDefault("worker.workingDir", "")
	v.SetDefault("worker.maxIterations", 10)
	v.SetDefault("worker.updateBranch", "main")
	v.SetDefault("worker.updateCheckInterval", 600)
	v.SetDefault("worker.stateFile", ".integrated_worker_state.json")

	// Personal-manager defaults
	v.SetDefault("personal.userEmail", "")
	v.SetDefault("personal.sessionsFile", "")

	// Orchestrator defaults
	v.SetDefault("orchestrator.adminEmail", "")
	v.SetDefault("orchestrator.workerPool", []string{})
	v.SetDefault("orchestrator.pacingMs", 500)
	v.SetDefault("orchestrator.stateFile", ".orchestrator_state.json")

	// LLM CLI defaults
	v.SetDefault("llm.binary", "claude")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.printTimeout", 120)
	v.SetDefault("llm.streamTimeout", 3600)
	v.SetDefault("llm.systemPromptDir", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// bindOperationalEnv binds the bare (unprefixed) operational variables that
// deployments set directly. AutomaticEnv only covers SHRAGA_-prefixed names,
// so each legacy variable is bound explicitly alongside its prefixed form.
func bindOperationalEnv(v *viper.Viper) {
	_ = v.BindEnv("directory.url", "DATAVERSE_URL", "SHRAGA_DIRECTORY_URL")
	_ = v.BindEnv("directory.conversationsTable", "CONVERSATIONS_TABLE", "TABLE_NAME")
	_ = v.BindEnv("directory.usersTable", "USERS_TABLE")
	_ = v.BindEnv("directory.tasksTable", "TASKS_TABLE")
	_ = v.BindEnv("directory.messagesTable", "MESSAGES_TABLE")
	_ = v.BindEnv("poll.interval", "POLL_INTERVAL", "SHRAGA_POLL_INTERVAL")
	_ = v.BindEnv("poll.claimDelay", "CLAIM_DELAY", "PROVISION_THRESHOLD", "SHRAGA_POLL_CLAIM_DELAY")
	_ = v.BindEnv("personal.userEmail", "USER_EMAIL", "SHRAGA_PERSONAL_USER_EMAIL")
	_ = v.BindEnv("personal.sessionsFile", "SESSIONS_FILE")
	_ = v.BindEnv("worker.workBaseDir", "WORK_BASE_DIR")
	_ = v.BindEnv("worker.workingDir", "WORKING_DIR")
	_ = v.BindEnv("worker.updateBranch", "UPDATE_BRANCH", "GIT_BRANCH")
	_ = v.BindEnv("devcenter.endpoint", "DEVCENTER_ENDPOINT")
	_ = v.BindEnv("devcenter.project", "DEVBOX_PROJECT")
	_ = v.BindEnv("devcenter.pool", "DEVBOX_POOL")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix SHRAGA_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/shraga/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SHRAGA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindOperationalEnv(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/shraga/")
	}

	// Missing config file is fine; env vars and defaults carry the load.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	return &cfg, nil
}
