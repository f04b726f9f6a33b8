// Package model holds the application configuration, loaded from
// ~/.config/quill/config.yaml with viper.
package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Account holds the connection settings for one mail account. The
// password is not here; it lives in the system keyring under the
// account's ID.
type Account struct {
	// ID is the unique identifier for this account, normally the email
	// address. It keys the cache, the keyring entry, and undo context.
	ID string `mapstructure:"id" yaml:"id"`

	// Name is the user-defined label shown in the header bar.
	Name string `mapstructure:"name" yaml:"name"`

	// Host and Port locate the IMAP server.
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`

	// TLS selects implicit TLS; when false the client upgrades with
	// STARTTLS.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	// Monitors lists extra folders watched in the background
	// (e.g. "Sent" for conversation mode).
	Monitors []string `mapstructure:"monitors" yaml:"monitors"`
}

// Addr returns the host:port dial address.
func (a Account) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// AIConfig holds settings for the AI assistant integration.
type AIConfig struct {
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// UIConfig holds tuning knobs for the list view and the event loop.
type UIConfig struct {
	// PageSize is how many headers one cache page loads.
	PageSize int `mapstructure:"page_size" yaml:"page_size"`

	// DeletionGraceSec is how long a deleted message stays undoable
	// before the deletion is committed to the server.
	DeletionGraceSec int `mapstructure:"deletion_grace_sec" yaml:"deletion_grace_sec"`

	// PrefetchDebounceMs is the quiet period after cursor movement before
	// body prefetch fires.
	PrefetchDebounceMs int `mapstructure:"prefetch_debounce_ms" yaml:"prefetch_debounce_ms"`

	// SearchDebounceMs is the quiet period after typing before the body
	// full-text search fires.
	SearchDebounceMs int `mapstructure:"search_debounce_ms" yaml:"search_debounce_ms"`

	// ErrorTTLSec is how long an error stays on the status line.
	ErrorTTLSec int `mapstructure:"error_ttl_sec" yaml:"error_ttl_sec"`

	// SyncIntervalSec is how often agents re-sync between commands.
	SyncIntervalSec int `mapstructure:"sync_interval_sec" yaml:"sync_interval_sec"`

	// ConversationMode merges monitored Sent mail into inbox threads.
	ConversationMode bool `mapstructure:"conversation_mode" yaml:"conversation_mode"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Accounts []Account `mapstructure:"accounts" yaml:"accounts"`
	AI       AIConfig  `mapstructure:"ai" yaml:"ai"`
	UI       UIConfig  `mapstructure:"ui" yaml:"ui"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/quill/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "quill", "config.yaml")
}

// DefaultDataDir returns the directory for the cache database, downloaded
// attachments, and the log file.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "quill-data")
	}
	return filepath.Join(home, ".local", "share", "quill")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Accounts: []Account{},
		AI: AIConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 1024,
		},
		UI: UIConfig{
			PageSize:           500,
			DeletionGraceSec:   10,
			PrefetchDebounceMs: 150,
			SearchDebounceMs:   150,
			ErrorTTLSec:        5,
			SyncIntervalSec:    120,
			ConversationMode:   false,
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("ai.model", "claude-sonnet-4-20250514")
	v.SetDefault("ai.max_tokens", 1024)
	v.SetDefault("ui.page_size", 500)
	v.SetDefault("ui.deletion_grace_sec", 10)
	v.SetDefault("ui.prefetch_debounce_ms", 150)
	v.SetDefault("ui.search_debounce_ms", 150)
	v.SetDefault("ui.error_ttl_sec", 5)
	v.SetDefault("ui.sync_interval_sec", 120)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Apply per-account defaults.
	for i := range cfg.Accounts {
		if cfg.Accounts[i].Port == 0 {
			cfg.Accounts[i].Port = 993
		}
		if cfg.Accounts[i].ID == "" {
			cfg.Accounts[i].ID = cfg.Accounts[i].Name
		}
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("accounts", cfg.Accounts)
	v.Set("ai", cfg.AI)
	v.Set("ui", cfg.UI)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
