package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			Timezone: "Local",
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			MaxBodyBytes: 1 << 20,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "~/.memoryagent/memoryagent.db",
		},
		Drive: DriveConfig{
			Enabled:         false,
			CredentialsPath: "~/.memoryagent/credentials.json",
			TokenPath:       "~/.memoryagent/token.json",
			RootFolderID:    "root",
			TimeoutSeconds:  60,
		},
		Twilio: TwilioConfig{
			APIBase:        "https://api.twilio.com/2010-04-01",
			TimeoutSeconds: 30,
		},
		Telegram: TelegramConfig{
			ParseMode:      "Markdown",
			TimeoutSeconds: 30,
		},
		Sources: SourcesConfig{
			SeedOnStart: true,
		},
		Events: EventsConfig{
			Enabled:  false,
			Exchange: "memoryagent.events",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
