package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			MaxConcurrentMessages: 5,
			BusBufferSize:         100,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		WhatsApp: WhatsAppConfig{
			Enabled:     false,
			APIBase:     "https://graph.facebook.com/v21.0",
			WebhookPath: "/webhook",
		},
		Telegram: TelegramConfig{
			Enabled: false,
		},
		Webhook: WebhookConfig{
			Enabled: false,
			Path:    "/webhook/generic",
		},
		Store: StoreConfig{
			DBPath: "~/.schoolcomm/schoolcomm.db",
		},
		Dispatch: DispatchConfig{
			Transport:     "auto",
			Concurrency:   4,
			MaxAttempts:   3,
			BaseDelayMs:   1000,
			RatePerSecond: 20,
		},
		Security: SecurityConfig{
			AuditLog: true,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
