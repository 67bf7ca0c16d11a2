package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config is the CLI configuration stored in ~/.fieldsync/config.toml.
type Config struct {
	API   ConfigAPI   `toml:"api"`
	Auth  ConfigAuth  `toml:"auth"`
	Store ConfigStore `toml:"store"`
}

// ConfigAPI holds gateway settings.
type ConfigAPI struct {
	BaseURL      string `toml:"base_url"`
	HeartbeatURL string `toml:"heartbeat_url"`
}

// ConfigAuth holds the persisted credential pair.
type ConfigAuth struct {
	AccessToken  string `toml:"access_token"`
	RefreshToken string `toml:"refresh_token"`
}

// ConfigStore holds durable-store settings.
type ConfigStore struct {
	DataDir string `toml:"data_dir"`
}

// RuntimeConfig carries environment overrides for runtime tunables.
type RuntimeConfig struct {
	BaseURL      string `env:"FIELDSYNC_BASE_URL"`
	DataDir      string `env:"FIELDSYNC_DATA_DIR"`
	RetryCeiling int    `env:"FIELDSYNC_RETRY_CEILING, default=3"`
}

// ============================================================================
// Config helpers
// ============================================================================

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".fieldsync")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads the config file, returning a zero-value Config when it
// does not exist yet.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// loadRuntime resolves file config plus environment overrides.
func loadRuntime(ctx context.Context) (*Config, *RuntimeConfig, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	var rt RuntimeConfig
	if err := envconfig.Process(ctx, &rt); err != nil {
		return nil, nil, fmt.Errorf("cannot read environment: %w", err)
	}
	if rt.BaseURL == "" {
		rt.BaseURL = cfg.API.BaseURL
	}
	if rt.DataDir == "" {
		rt.DataDir = cfg.Store.DataDir
	}
	if rt.DataDir == "" {
		dir, err := configDir()
		if err != nil {
			return nil, nil, err
		}
		rt.DataDir = filepath.Join(dir, "data")
	}
	return cfg, &rt, nil
}

func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	case "api.base_url":
		cfg.API.BaseURL = value
	case "api.heartbeat_url":
		cfg.API.HeartbeatURL = value
	case "auth.access_token":
		cfg.Auth.AccessToken = value
	case "auth.refresh_token":
		cfg.Auth.RefreshToken = value
	case "store.data_dir":
		cfg.Store.DataDir = value
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// ============================================================================
// config command
// ============================================================================

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage fieldsync configuration",
	Long:  "View or modify the configuration stored in ~/.fieldsync/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("No configuration file found. Run 'fieldsync config set api.base_url <url>' to create one.")
				return nil
			}
			return fmt.Errorf("cannot read config file: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: fieldsync config set api.base_url https://api.example.com",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Printf("Set %s\n", key)
		return nil
	},
}
