package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for the gateway.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Server   ServerConfig   `json:"server"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
	Webhook  WebhookConfig  `json:"webhook"`
	Store    StoreConfig    `json:"store"`
	Dispatch DispatchConfig `json:"dispatch"`
	Security SecurityConfig `json:"security"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string `json:"logLevel"`
	LogFile               string `json:"logFile,omitempty"` // optional JSON log file
	MaxConcurrentMessages int    `json:"maxConcurrentMessages"`
	BusBufferSize         int    `json:"busBufferSize"`
}

// ServerConfig is the single HTTP listener shared by the webhooks and the dashboard.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type WhatsAppConfig struct {
	Enabled       bool   `json:"enabled"`
	APIBase       string `json:"apiBase,omitempty"`
	AppSecret     string `json:"appSecret,omitempty"`
	AccessToken   string `json:"accessToken,omitempty"`
	VerifyToken   string `json:"verifyToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty"`
	WebhookPath   string `json:"webhookPath,omitempty"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

// WebhookConfig configures the generic JSON webhook used by integrations
// that are not a messaging provider (SMS gateways, school portals).
type WebhookConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	Secret  string `json:"secret,omitempty"`
}

type StoreConfig struct {
	DBPath   string `json:"dbPath"`
	SeedPath string `json:"seedPath,omitempty"` // imported on serve when set
}

type DispatchConfig struct {
	Transport     string  `json:"transport"` // "auto" | "whatsapp" | "telegram" | "log"
	Concurrency   int     `json:"concurrency"`
	MaxAttempts   int     `json:"maxAttempts"`
	BaseDelayMs   int     `json:"baseDelayMs"`
	RatePerSecond float64 `json:"ratePerSecond"`
}

type SecurityConfig struct {
	AuditLog bool `json:"auditLog"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns ~/.schoolcomm.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".schoolcomm"
	}
	return filepath.Join(home, ".schoolcomm")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the config file at path, applies environment overrides and validates.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadOrDefaults behaves like Load but starts from Defaults when the file
// does not exist, so the gateway can run from environment variables alone.
func LoadOrDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return finish(Defaults())
}

func finish(cfg *Config) (*Config, error) {
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Store.SeedPath = ExpandPath(cfg.Store.SeedPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		def, hasDefault := groups[2], groups[2] != ""

		if val, ok := os.LookupEnv(name); ok && val != "" {
			return val
		}
		if hasDefault {
			return def
		}
		return match
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate reports every invalid setting at once.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.General.BusBufferSize < 1 {
		errs = append(errs, "general.busBufferSize must be >= 1")
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.WhatsApp.Enabled {
		if cfg.WhatsApp.AccessToken == "" {
			errs = append(errs, "whatsapp.accessToken is required when whatsapp is enabled")
		}
		if cfg.WhatsApp.PhoneNumberID == "" {
			errs = append(errs, "whatsapp.phoneNumberId is required when whatsapp is enabled")
		}
		if cfg.WhatsApp.VerifyToken == "" {
			errs = append(errs, "whatsapp.verifyToken is required when whatsapp is enabled")
		}
	}
	if !strings.HasPrefix(cfg.WhatsApp.WebhookPath, "/") {
		errs = append(errs, "whatsapp.webhookPath must start with /")
	}
	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required when telegram is enabled")
	}
	if !strings.HasPrefix(cfg.Webhook.Path, "/") {
		errs = append(errs, "webhook.path must start with /")
	}

	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required")
	}

	switch cfg.Dispatch.Transport {
	case "auto", "log":
	case "whatsapp":
		if !cfg.WhatsApp.Enabled {
			errs = append(errs, "dispatch.transport is whatsapp but whatsapp is not enabled")
		}
	case "telegram":
		if !cfg.Telegram.Enabled {
			errs = append(errs, "dispatch.transport is telegram but telegram is not enabled")
		}
	default:
		errs = append(errs, "dispatch.transport must be one of: auto, whatsapp, telegram, log")
	}
	if cfg.Dispatch.Concurrency < 1 || cfg.Dispatch.Concurrency > 64 {
		errs = append(errs, "dispatch.concurrency must be between 1 and 64")
	}
	if cfg.Dispatch.MaxAttempts < 1 || cfg.Dispatch.MaxAttempts > 10 {
		errs = append(errs, "dispatch.maxAttempts must be between 1 and 10")
	}
	if cfg.Dispatch.BaseDelayMs < 1 {
		errs = append(errs, "dispatch.baseDelayMs must be >= 1")
	}
	if cfg.Dispatch.RatePerSecond <= 0 {
		errs = append(errs, "dispatch.ratePerSecond must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves a leading ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
