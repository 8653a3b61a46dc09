package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Env holds the deployment variables that override the config file.
type Env struct {
	AccessToken   string `envconfig:"WA_ACCESS_TOKEN"`
	PhoneNumberID string `envconfig:"WA_PHONE_NUMBER_ID"`
	VerifyToken   string `envconfig:"VERIFY_TOKEN"`
	AppSecret     string `envconfig:"WA_APP_SECRET"`
	TelegramToken string `envconfig:"TELEGRAM_TOKEN"`
	Port          int    `envconfig:"PORT"`
	DBPath        string `envconfig:"SCHOOLCOMM_DB"`
	LogLevel      string `envconfig:"SCHOOLCOMM_LOG_LEVEL"`
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays set environment variables onto cfg. Providing both
// WhatsApp credentials enables the WhatsApp channel.
func ApplyEnv(cfg *Config) error {
	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	setString(&cfg.WhatsApp.AccessToken, env.AccessToken)
	setString(&cfg.WhatsApp.PhoneNumberID, env.PhoneNumberID)
	setString(&cfg.WhatsApp.VerifyToken, env.VerifyToken)
	setString(&cfg.WhatsApp.AppSecret, env.AppSecret)
	setString(&cfg.Store.DBPath, env.DBPath)
	setString(&cfg.General.LogLevel, env.LogLevel)
	if env.AccessToken != "" && env.PhoneNumberID != "" {
		cfg.WhatsApp.Enabled = true
	}
	if env.TelegramToken != "" {
		cfg.Telegram.Token = env.TelegramToken
		cfg.Telegram.Enabled = true
	}
	if env.Port != 0 {
		cfg.Server.Port = env.Port
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
