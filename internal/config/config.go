// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/dawnchat/dawnchat-go/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete dawnchat client configuration.
type Config struct {
	Version   string `toml:"version" json:"version"`
	ProjectID string `toml:"project_id" json:"project_id"`

	Host      HostConfig      `toml:"host" json:"host"`
	Realtime  RealtimeConfig  `toml:"realtime" json:"realtime"`
	Tools     ToolsConfig     `toml:"tools" json:"tools"`
	Downloads DownloadsConfig `toml:"downloads" json:"downloads"`
	Storage   StorageConfig   `toml:"storage" json:"storage"`
}

// HostConfig locates the dawnchat host process.
type HostConfig struct {
	// BaseURL is the HTTP endpoint of the host (e.g. "http://127.0.0.1:8765").
	BaseURL string `toml:"base_url" json:"base_url"`
	// WSURL is the realtime websocket endpoint. Empty derives it from
	// BaseURL by swapping the scheme and appending /ws.
	WSURL string `toml:"ws_url" json:"ws_url"`
	// BasePath is the API prefix for tool and download calls.
	BasePath string `toml:"base_path" json:"base_path"`
	// PluginID identifies this client to the host, sent as X-Plugin-ID.
	PluginID string `toml:"plugin_id" json:"plugin_id"`
}

// RealtimeConfig tunes the websocket connection lifecycle.
type RealtimeConfig struct {
	// HeartbeatSecs between client pings. 0 takes the default; negative
	// disables client-initiated heartbeats.
	HeartbeatSecs int `toml:"heartbeat_secs" json:"heartbeat_secs"`
	// ReconnectDisabled turns off automatic reconnection after a drop.
	ReconnectDisabled bool `toml:"reconnect_disabled" json:"reconnect_disabled"`
	// ReconnectBaseDelayMs is the first backoff delay; each retry doubles it.
	ReconnectBaseDelayMs int `toml:"reconnect_base_delay_ms" json:"reconnect_base_delay_ms"`
	// MaxReconnectAttempts before the client gives up until a manual connect.
	MaxReconnectAttempts int `toml:"max_reconnect_attempts" json:"max_reconnect_attempts"`
	// Capabilities announced in the handshake.
	Capabilities []string `toml:"capabilities" json:"capabilities"`
}

// HeartbeatInterval returns the heartbeat period as a duration.
func (r RealtimeConfig) HeartbeatInterval() time.Duration {
	return time.Duration(r.HeartbeatSecs) * time.Second
}

// ReconnectBaseDelay returns the base backoff as a duration.
func (r RealtimeConfig) ReconnectBaseDelay() time.Duration {
	return time.Duration(r.ReconnectBaseDelayMs) * time.Millisecond
}

// ToolsConfig tunes tool invocation.
type ToolsConfig struct {
	// Mode is the default execution mode: "auto", "sync", "async".
	Mode string `toml:"mode" json:"mode"`
	// TimeoutSecs is the per-call timeout forwarded to the host.
	TimeoutSecs float64 `toml:"timeout_secs" json:"timeout_secs"`
	// PollIntervalMs between task status polls.
	PollIntervalMs int `toml:"poll_interval_ms" json:"poll_interval_ms"`
	// WaitTimeoutSecs bounds how long a caller waits for an async task.
	WaitTimeoutSecs int `toml:"wait_timeout_secs" json:"wait_timeout_secs"`
}

// PollInterval returns the poll period as a duration.
func (t ToolsConfig) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalMs) * time.Millisecond
}

// WaitTimeout returns the wait bound as a duration.
func (t ToolsConfig) WaitTimeout() time.Duration {
	return time.Duration(t.WaitTimeoutSecs) * time.Second
}

// DownloadsConfig tunes model download tracking.
type DownloadsConfig struct {
	// PollIntervalSecs between download status sweeps.
	PollIntervalSecs int `toml:"poll_interval_secs" json:"poll_interval_secs"`
	// TaskStorePath is the JSON file mapping model ids to download task ids.
	// Empty means ~/.dawnchat/download_tasks.json.
	TaskStorePath string `toml:"task_store_path" json:"task_store_path"`
}

// PollInterval returns the sweep period as a duration.
func (d DownloadsConfig) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalSecs) * time.Second
}

// StorageConfig selects the chat message persistence backend.
type StorageConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `toml:"driver" json:"driver"`
	// Path is the SQLite database file. Empty means ~/.dawnchat/chat.db.
	Path string `toml:"path" json:"path"`
	// Namespace prefixes every session key, isolating plugins that share
	// one database.
	Namespace string `toml:"namespace" json:"namespace"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Host: HostConfig{
			BaseURL:  "http://127.0.0.1:8765",
			BasePath: "/api/sdk",
		},

		Realtime: RealtimeConfig{
			HeartbeatSecs:        30,
			ReconnectBaseDelayMs: 1200,
			MaxReconnectAttempts: 5,
		},

		Tools: ToolsConfig{
			Mode:            "auto",
			TimeoutSecs:     120,
			PollIntervalMs:  500,
			WaitTimeoutSecs: 3600,
		},

		Downloads: DownloadsConfig{
			PollIntervalSecs: 2,
		},

		Storage: StorageConfig{
			Driver: "memory",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the dawnchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".dawnchat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	if path, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}
	if path, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path with full
// validation. Files ending in .json are parsed as JSON, everything else as
// TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}

	if strings.HasSuffix(path, ".json") {
		if err := loadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := loadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

func loadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	fmt.Fprintln(file, "# dawnchat configuration file")
	fmt.Fprintln(file, "")

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// SaveJSON saves the configuration to a JSON file. The write is atomic so a
// crash mid-save cannot leave a truncated config behind.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Host.BaseURL != "" {
		if u, err := url.Parse(c.Host.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "host.base_url",
				Message: fmt.Sprintf("invalid URL '%s'", c.Host.BaseURL),
			})
		}
	}
	if c.Host.WSURL != "" {
		u, err := url.Parse(c.Host.WSURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, ValidationError{
				Field:   "host.ws_url",
				Message: fmt.Sprintf("invalid websocket URL '%s', scheme must be ws or wss", c.Host.WSURL),
			})
		}
	}
	if c.Host.BasePath != "" && !strings.HasPrefix(c.Host.BasePath, "/") {
		errs = append(errs, ValidationError{
			Field:   "host.base_path",
			Message: "must start with /",
		})
	}

	if c.Realtime.ReconnectBaseDelayMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "realtime.reconnect_base_delay_ms",
			Message: "must be non-negative",
		})
	}
	if c.Realtime.MaxReconnectAttempts < 0 || c.Realtime.MaxReconnectAttempts > 30 {
		errs = append(errs, ValidationError{
			Field:   "realtime.max_reconnect_attempts",
			Message: fmt.Sprintf("must be 0-30, got %d", c.Realtime.MaxReconnectAttempts),
		})
	}

	validModes := map[string]bool{"auto": true, "sync": true, "async": true}
	if !validModes[strings.ToLower(c.Tools.Mode)] {
		errs = append(errs, ValidationError{
			Field:   "tools.mode",
			Message: fmt.Sprintf("invalid mode '%s', must be one of: auto, sync, async", c.Tools.Mode),
		})
	}
	if c.Tools.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{
			Field:   "tools.timeout_secs",
			Message: "must be non-negative",
		})
	}
	if c.Tools.PollIntervalMs < 50 {
		errs = append(errs, ValidationError{
			Field:   "tools.poll_interval_ms",
			Message: fmt.Sprintf("must be at least 50ms, got %d", c.Tools.PollIntervalMs),
		})
	}
	if c.Tools.WaitTimeoutSecs < 1 {
		errs = append(errs, ValidationError{
			Field:   "tools.wait_timeout_secs",
			Message: "must be at least 1 second",
		})
	}

	if c.Downloads.PollIntervalSecs < 1 {
		errs = append(errs, ValidationError{
			Field:   "downloads.poll_interval_secs",
			Message: "must be at least 1 second",
		})
	}

	validDrivers := map[string]bool{"memory": true, "sqlite": true}
	if !validDrivers[strings.ToLower(c.Storage.Driver)] {
		errs = append(errs, ValidationError{
			Field:   "storage.driver",
			Message: fmt.Sprintf("invalid driver '%s', must be one of: memory, sqlite", c.Storage.Driver),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults sets default values for any missing or zero-value fields.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}

	if c.Host.BaseURL == "" {
		c.Host.BaseURL = defaults.Host.BaseURL
	}
	if c.Host.BasePath == "" {
		c.Host.BasePath = defaults.Host.BasePath
	}
	if c.Host.WSURL == "" {
		c.Host.WSURL = deriveWSURL(c.Host.BaseURL)
	}

	if c.Realtime.HeartbeatSecs == 0 {
		c.Realtime.HeartbeatSecs = defaults.Realtime.HeartbeatSecs
	}
	if c.Realtime.ReconnectBaseDelayMs == 0 {
		c.Realtime.ReconnectBaseDelayMs = defaults.Realtime.ReconnectBaseDelayMs
	}
	if c.Realtime.MaxReconnectAttempts == 0 {
		c.Realtime.MaxReconnectAttempts = defaults.Realtime.MaxReconnectAttempts
	}

	if c.Tools.Mode == "" {
		c.Tools.Mode = defaults.Tools.Mode
	}
	if c.Tools.TimeoutSecs == 0 {
		c.Tools.TimeoutSecs = defaults.Tools.TimeoutSecs
	}
	if c.Tools.PollIntervalMs == 0 {
		c.Tools.PollIntervalMs = defaults.Tools.PollIntervalMs
	}
	if c.Tools.WaitTimeoutSecs == 0 {
		c.Tools.WaitTimeoutSecs = defaults.Tools.WaitTimeoutSecs
	}

	if c.Downloads.PollIntervalSecs == 0 {
		c.Downloads.PollIntervalSecs = defaults.Downloads.PollIntervalSecs
	}
	if c.Downloads.TaskStorePath == "" {
		if dir, err := ConfigDir(); err == nil {
			c.Downloads.TaskStorePath = filepath.Join(dir, "download_tasks.json")
		}
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = defaults.Storage.Driver
	}
	if c.Storage.Path == "" {
		if dir, err := ConfigDir(); err == nil {
			c.Storage.Path = filepath.Join(dir, "chat.db")
		}
	}
}

// deriveWSURL turns an HTTP base URL into the matching websocket endpoint.
func deriveWSURL(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - DAWNCHAT_HOST_URL: overrides host.base_url
//   - DAWNCHAT_WS_URL: overrides host.ws_url
//   - DAWNCHAT_PROJECT_ID: overrides project_id
//   - DAWNCHAT_PLUGIN_ID: overrides host.plugin_id
//   - DAWNCHAT_TOOL_MODE: overrides tools.mode
//   - DAWNCHAT_STORAGE_DRIVER: overrides storage.driver
//   - DAWNCHAT_STORAGE_PATH: overrides storage.path
//   - DAWNCHAT_NO_RECONNECT: "1" or "true" disables reconnection
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("DAWNCHAT_HOST_URL"); v != "" {
		c.Host.BaseURL = v
	}
	if v := os.Getenv("DAWNCHAT_WS_URL"); v != "" {
		c.Host.WSURL = v
	}
	if v := os.Getenv("DAWNCHAT_PROJECT_ID"); v != "" {
		c.ProjectID = v
	}
	if v := os.Getenv("DAWNCHAT_PLUGIN_ID"); v != "" {
		c.Host.PluginID = v
	}
	if v := os.Getenv("DAWNCHAT_TOOL_MODE"); v != "" {
		c.Tools.Mode = v
	}
	if v := os.Getenv("DAWNCHAT_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("DAWNCHAT_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("DAWNCHAT_NO_RECONNECT"); v != "" {
		c.Realtime.ReconnectDisabled = v == "1" || strings.ToLower(v) == "true"
	}
}

// =============================================================================
// KEY ACCESS (for the CLI config command)
// =============================================================================

// Get returns the value of a dotted config key.
func (c *Config) Get(key string) (any, error) {
	switch strings.ToLower(key) {
	case "version":
		return c.Version, nil
	case "project_id":
		return c.ProjectID, nil
	case "host.base_url":
		return c.Host.BaseURL, nil
	case "host.ws_url":
		return c.Host.WSURL, nil
	case "host.base_path":
		return c.Host.BasePath, nil
	case "host.plugin_id":
		return c.Host.PluginID, nil
	case "realtime.heartbeat_secs":
		return c.Realtime.HeartbeatSecs, nil
	case "realtime.reconnect_disabled":
		return c.Realtime.ReconnectDisabled, nil
	case "realtime.reconnect_base_delay_ms":
		return c.Realtime.ReconnectBaseDelayMs, nil
	case "realtime.max_reconnect_attempts":
		return c.Realtime.MaxReconnectAttempts, nil
	case "tools.mode":
		return c.Tools.Mode, nil
	case "tools.timeout_secs":
		return c.Tools.TimeoutSecs, nil
	case "tools.poll_interval_ms":
		return c.Tools.PollIntervalMs, nil
	case "tools.wait_timeout_secs":
		return c.Tools.WaitTimeoutSecs, nil
	case "downloads.poll_interval_secs":
		return c.Downloads.PollIntervalSecs, nil
	case "downloads.task_store_path":
		return c.Downloads.TaskStorePath, nil
	case "storage.driver":
		return c.Storage.Driver, nil
	case "storage.path":
		return c.Storage.Path, nil
	case "storage.namespace":
		return c.Storage.Namespace, nil
	default:
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
}

// Set assigns a dotted config key from its string representation. The
// resulting config is NOT validated; callers should Validate before saving.
func (c *Config) Set(key, value string) error {
	switch strings.ToLower(key) {
	case "version":
		c.Version = value
	case "project_id":
		c.ProjectID = value
	case "host.base_url":
		c.Host.BaseURL = value
	case "host.ws_url":
		c.Host.WSURL = value
	case "host.base_path":
		c.Host.BasePath = value
	case "host.plugin_id":
		c.Host.PluginID = value
	case "realtime.heartbeat_secs":
		return setInt(&c.Realtime.HeartbeatSecs, key, value)
	case "realtime.reconnect_disabled":
		return setBool(&c.Realtime.ReconnectDisabled, key, value)
	case "realtime.reconnect_base_delay_ms":
		return setInt(&c.Realtime.ReconnectBaseDelayMs, key, value)
	case "realtime.max_reconnect_attempts":
		return setInt(&c.Realtime.MaxReconnectAttempts, key, value)
	case "tools.mode":
		c.Tools.Mode = value
	case "tools.timeout_secs":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s: not a number: %q", key, value)
		}
		c.Tools.TimeoutSecs = f
	case "tools.poll_interval_ms":
		return setInt(&c.Tools.PollIntervalMs, key, value)
	case "tools.wait_timeout_secs":
		return setInt(&c.Tools.WaitTimeoutSecs, key, value)
	case "downloads.poll_interval_secs":
		return setInt(&c.Downloads.PollIntervalSecs, key, value)
	case "downloads.task_store_path":
		c.Downloads.TaskStorePath = value
	case "storage.driver":
		c.Storage.Driver = value
	case "storage.path":
		c.Storage.Path = value
	case "storage.namespace":
		c.Storage.Namespace = value
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

func setInt(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: not an integer: %q", key, value)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%s: not a boolean: %q", key, value)
	}
	*dst = b
	return nil
}

// Keys lists every key accepted by Get and Set, sorted for display.
func Keys() []string {
	return []string{
		"version",
		"project_id",
		"host.base_url",
		"host.ws_url",
		"host.base_path",
		"host.plugin_id",
		"realtime.heartbeat_secs",
		"realtime.reconnect_disabled",
		"realtime.reconnect_base_delay_ms",
		"realtime.max_reconnect_attempts",
		"tools.mode",
		"tools.timeout_secs",
		"tools.poll_interval_ms",
		"tools.wait_timeout_secs",
		"downloads.poll_interval_secs",
		"downloads.task_store_path",
		"storage.driver",
		"storage.path",
		"storage.namespace",
	}
}

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	cp := *c
	if c.Realtime.Capabilities != nil {
		cp.Realtime.Capabilities = append([]string(nil), c.Realtime.Capabilities...)
	}
	return &cp
}
