package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kmorand/ensemble/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify ensemble configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the value in the user config file.

Configuration is stored at ~/.config/ensemble/config.yaml
Project-specific overrides can be placed in .ensemble.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		switch len(args) {
		case 0:
			displayAllConfig(cfg)
			return nil
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		default:
			return setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints every configuration value.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("User config:    %s\n", config.GetUserConfigPath())
	if p := config.GetProjectConfigPath(); p != "" {
		fmt.Printf("Project config: %s\n", p)
	}
	fmt.Println()

	key, _ := config.GetAPIKey(cfg)
	fmt.Printf("worker.api_key: %s (source: %s)\n", config.MaskAPIKey(key), config.GetAPIKeySource(cfg))
	fmt.Printf("worker.model: %s\n", cfg.Worker.Model)
	fmt.Printf("worker.bedrock: %t\n", cfg.Worker.Bedrock)
	fmt.Printf("worker.aws_region: %s\n", cfg.Worker.AWSRegion)
	fmt.Printf("worker.aws_profile: %s\n", cfg.Worker.AWSProfile)
	fmt.Printf("worker.max_tokens: %d\n", cfg.Worker.MaxTokens)
	fmt.Printf("worker.profiles: %s\n", cfg.Worker.Profiles)
	fmt.Printf("coordinator.max_agents: %d\n", cfg.Coordinator.MaxAgents)
	fmt.Printf("coordinator.strategy: %s\n", cfg.Coordinator.Strategy)
	fmt.Printf("coordinator.task_timeout: %s\n", cfg.Coordinator.TaskTimeout)
	fmt.Printf("memory.enabled: %t\n", cfg.Memory.Enabled)
	fmt.Printf("memory.path: %s\n", cfg.Memory.Path)
	fmt.Printf("memory.save_importance: %.2f\n", cfg.Memory.SaveImportance)
	fmt.Printf("memory.retrieval_limit: %d\n", cfg.Memory.RetrievalLimit)
	fmt.Printf("logging.debug: %t\n", cfg.Logging.Debug)
	fmt.Printf("logging.dir: %s\n", cfg.Logging.Dir)
}

// setConfigKey sets a value, validates the result, and saves the user config.
func setConfigKey(cfg *config.Config, key, value string) error {
	if err := setConfigValue(cfg, key, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("Set %s = %s\n", key, value)
	return nil
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "worker.api_key":
		return config.MaskAPIKey(cfg.Worker.APIKey), nil
	case "worker.model":
		return cfg.Worker.Model, nil
	case "worker.bedrock":
		return strconv.FormatBool(cfg.Worker.Bedrock), nil
	case "worker.aws_region":
		return cfg.Worker.AWSRegion, nil
	case "worker.aws_profile":
		return cfg.Worker.AWSProfile, nil
	case "worker.max_tokens":
		return strconv.FormatInt(cfg.Worker.MaxTokens, 10), nil
	case "worker.profiles":
		return cfg.Worker.Profiles, nil
	case "coordinator.max_agents":
		return strconv.Itoa(cfg.Coordinator.MaxAgents), nil
	case "coordinator.strategy":
		return cfg.Coordinator.Strategy, nil
	case "coordinator.task_timeout":
		return cfg.Coordinator.TaskTimeout.String(), nil
	case "memory.enabled":
		return strconv.FormatBool(cfg.Memory.Enabled), nil
	case "memory.path":
		return cfg.Memory.Path, nil
	case "memory.save_importance":
		return strconv.FormatFloat(cfg.Memory.SaveImportance, 'f', 2, 64), nil
	case "memory.retrieval_limit":
		return strconv.Itoa(cfg.Memory.RetrievalLimit), nil
	case "logging.debug":
		return strconv.FormatBool(cfg.Logging.Debug), nil
	case "logging.dir":
		return cfg.Logging.Dir, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "worker.api_key":
		cfg.Worker.APIKey = value
	case "worker.model":
		cfg.Worker.Model = value
	case "worker.bedrock":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for worker.bedrock: %w", err)
		}
		cfg.Worker.Bedrock = b
	case "worker.aws_region":
		cfg.Worker.AWSRegion = value
	case "worker.aws_profile":
		cfg.Worker.AWSProfile = value
	case "worker.max_tokens":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid value for worker.max_tokens: %w", err)
		}
		cfg.Worker.MaxTokens = n
	case "worker.profiles":
		cfg.Worker.Profiles = value
	case "coordinator.max_agents":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for coordinator.max_agents: %w", err)
		}
		cfg.Coordinator.MaxAgents = n
	case "coordinator.strategy":
		cfg.Coordinator.Strategy = value
	case "coordinator.task_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for coordinator.task_timeout: %w", err)
		}
		cfg.Coordinator.TaskTimeout = d
	case "memory.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for memory.enabled: %w", err)
		}
		cfg.Memory.Enabled = b
	case "memory.path":
		cfg.Memory.Path = value
	case "memory.save_importance":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for memory.save_importance: %w", err)
		}
		cfg.Memory.SaveImportance = f
	case "memory.retrieval_limit":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for memory.retrieval_limit: %w", err)
		}
		cfg.Memory.RetrievalLimit = n
	case "logging.debug":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for logging.debug: %w", err)
		}
		cfg.Logging.Debug = b
	case "logging.dir":
		cfg.Logging.Dir = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
