// Package config handles configuration loading and management for ensemble.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kmorand/ensemble/pkg/models"
)

// dataDirName is the per-project data root created in the working directory.
const dataDirName = ".ensemble"

// Config holds all configuration for ensemble.
type Config struct {
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Memory      MemoryConfig      `mapstructure:"memory"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// CoordinatorConfig holds scheduling defaults for coordination sessions.
type CoordinatorConfig struct {
	// MaxAgents bounds how many workers run at once.
	MaxAgents int `mapstructure:"max_agents"`
	// Strategy is the default scheduling strategy.
	Strategy string `mapstructure:"strategy"`
	// TaskTimeout is the default per-task timeout.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

// MemoryConfig holds memory system settings.
type MemoryConfig struct {
	// Enabled controls whether sessions write summaries back to memory.
	Enabled bool `mapstructure:"enabled"`
	// Path overrides the memory database location. Empty means
	// .ensemble/memory.db under the working directory.
	Path string `mapstructure:"path"`
	// SaveImportance is the default importance for saved records.
	SaveImportance float64 `mapstructure:"save_importance"`
	// RetrievalLimit is the default number of records retrieval returns.
	RetrievalLimit int `mapstructure:"retrieval_limit"`
}

// WorkerConfig holds Anthropic worker settings.
type WorkerConfig struct {
	// Model is the Claude model name. Empty means the worker default.
	Model string `mapstructure:"model"`
	// APIKey is the Anthropic API key; ${VAR} references are expanded.
	APIKey string `mapstructure:"api_key"`
	// Bedrock routes requests through AWS Bedrock instead of the direct API.
	Bedrock bool `mapstructure:"bedrock"`
	// AWSRegion is the Bedrock region (e.g., "us-west-2").
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is the optional AWS shared-config profile.
	AWSProfile string `mapstructure:"aws_profile"`
	// MaxTokens caps the response length per invocation. Zero means the
	// worker default.
	MaxTokens int64 `mapstructure:"max_tokens"`
	// Profiles overrides the worker persona file. Empty means
	// .ensemble/profiles.yaml when present, built-ins otherwise.
	Profiles string `mapstructure:"profiles"`
}

// LoggingConfig holds debug logging settings.
type LoggingConfig struct {
	// Debug enables the file-backed scheduling trace log.
	Debug bool `mapstructure:"debug"`
	// Dir overrides the log directory. Empty means .ensemble/logs under
	// the working directory.
	Dir string `mapstructure:"dir"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ENSEMBLE_* and ANTHROPIC_API_KEY)
// 2. Project config (.ensemble.yaml in current directory or parent)
// 3. User config (~/.config/ensemble/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Load user config from XDG path
	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Merge project config (takes precedence)
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	// Environment variable overrides: ENSEMBLE_COORDINATOR_MAX_AGENTS,
	// ENSEMBLE_MEMORY_ENABLED, and so on.
	v.SetEnvPrefix("ENSEMBLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The API key also honors the conventional Anthropic variable.
	v.BindEnv("worker.api_key", "ENSEMBLE_WORKER_API_KEY", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Worker.APIKey = expandEnv(cfg.Worker.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Worker.APIKey = expandEnv(cfg.Worker.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects values the coordinator or memory system cannot run with.
func (c *Config) Validate() error {
	if c.Coordinator.MaxAgents < 1 {
		return fmt.Errorf("coordinator.max_agents must be at least 1, got %d", c.Coordinator.MaxAgents)
	}
	if c.Coordinator.TaskTimeout <= 0 {
		return fmt.Errorf("coordinator.task_timeout must be positive, got %v", c.Coordinator.TaskTimeout)
	}
	if !models.Strategy(c.Coordinator.Strategy).Valid() {
		return fmt.Errorf("coordinator.strategy: unknown strategy %q", c.Coordinator.Strategy)
	}
	if c.Memory.SaveImportance < 0 || c.Memory.SaveImportance > 1 {
		return fmt.Errorf("memory.save_importance must be in [0,1], got %v", c.Memory.SaveImportance)
	}
	if c.Memory.RetrievalLimit < 1 {
		return fmt.Errorf("memory.retrieval_limit must be at least 1, got %d", c.Memory.RetrievalLimit)
	}
	if c.Worker.MaxTokens < 0 {
		return fmt.Errorf("worker.max_tokens must not be negative, got %d", c.Worker.MaxTokens)
	}
	return nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("coordinator.max_agents", cfg.Coordinator.MaxAgents)
	v.Set("coordinator.strategy", cfg.Coordinator.Strategy)
	v.Set("coordinator.task_timeout", cfg.Coordinator.TaskTimeout.String())
	v.Set("memory.enabled", cfg.Memory.Enabled)
	v.Set("memory.path", cfg.Memory.Path)
	v.Set("memory.save_importance", cfg.Memory.SaveImportance)
	v.Set("memory.retrieval_limit", cfg.Memory.RetrievalLimit)
	v.Set("worker.model", cfg.Worker.Model)
	v.Set("worker.api_key", cfg.Worker.APIKey)
	v.Set("worker.bedrock", cfg.Worker.Bedrock)
	v.Set("worker.aws_region", cfg.Worker.AWSRegion)
	v.Set("worker.aws_profile", cfg.Worker.AWSProfile)
	v.Set("worker.max_tokens", cfg.Worker.MaxTokens)
	v.Set("worker.profiles", cfg.Worker.Profiles)
	v.Set("logging.debug", cfg.Logging.Debug)
	v.Set("logging.dir", cfg.Logging.Dir)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	// Coordinator defaults
	v.SetDefault("coordinator.max_agents", 5)
	v.SetDefault("coordinator.strategy", string(models.StrategyAdaptive))
	v.SetDefault("coordinator.task_timeout", "5m")

	// Memory defaults
	v.SetDefault("memory.enabled", true)
	v.SetDefault("memory.path", "")
	v.SetDefault("memory.save_importance", 0.5)
	v.SetDefault("memory.retrieval_limit", 5)

	// Worker defaults
	v.SetDefault("worker.model", "")
	v.SetDefault("worker.api_key", "")
	v.SetDefault("worker.bedrock", false)
	v.SetDefault("worker.aws_region", "")
	v.SetDefault("worker.aws_profile", "")
	v.SetDefault("worker.max_tokens", 0)
	v.SetDefault("worker.profiles", "")

	// Logging defaults
	v.SetDefault("logging.debug", false)
	v.SetDefault("logging.dir", "")
}

// getUserConfigDir returns the XDG config directory for ensemble.
func getUserConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ensemble")
	}

	// Fall back to ~/.config/ensemble
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "ensemble")
	}
	return filepath.Join(home, ".config", "ensemble")
}

// findProjectConfig searches for .ensemble.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".ensemble.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Coordinator: CoordinatorConfig{
			MaxAgents:   5,
			Strategy:    string(models.StrategyAdaptive),
			TaskTimeout: 5 * time.Minute,
		},
		Memory: MemoryConfig{
			Enabled:        true,
			SaveImportance: 0.5,
			RetrievalLimit: 5,
		},
		Worker:  WorkerConfig{},
		Logging: LoggingConfig{},
	}
}

// DataDir returns the per-project data root under the given directory.
func DataDir(root string) string {
	return filepath.Join(root, dataDirName)
}

// MemoryDBPath resolves the memory database location: the configured path
// when set, .ensemble/memory.db under root otherwise.
func (c *Config) MemoryDBPath(root string) string {
	if c.Memory.Path != "" {
		return c.Memory.Path
	}
	return filepath.Join(DataDir(root), "memory.db")
}

// LogsDir resolves the debug log directory: the configured dir when set,
// .ensemble/logs under root otherwise.
func (c *Config) LogsDir(root string) string {
	if c.Logging.Dir != "" {
		return c.Logging.Dir
	}
	return filepath.Join(DataDir(root), "logs")
}

// SignalsDir returns the control-file directory watched for cancel signals.
func SignalsDir(root string) string {
	return filepath.Join(DataDir(root), "signals")
}

// ProfilesPath resolves the worker persona file: the configured path when
// set, .ensemble/profiles.yaml under root when that file exists, empty
// otherwise (meaning built-in personas).
func (c *Config) ProfilesPath(root string) string {
	if c.Worker.Profiles != "" {
		return c.Worker.Profiles
	}
	candidate := filepath.Join(DataDir(root), "profiles.yaml")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}
