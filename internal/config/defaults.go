package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:        "info",
			DefaultProvider: "ollama",
		},
		Providers: map[string]ProviderConfig{
			"ollama": {
				Enabled:      true,
				Mode:         "api",
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
		},
		Embedding: EmbeddingConfig{
			Provider: "ollama",
			APIBase:  "http://localhost:11434",
			Model:    "nomic-embed-text",
		},
		Store: StoreConfig{
			DBPath: "~/.supportdesk/supportdesk.db",
		},
		Agent: AgentConfig{
			SimilarityThreshold: 0.7,
			TopK:                5,
			InterpretMaxTokens:  1024,
			SummaryTemperature:  0.7,
			SummaryMaxTokens:    300,
		},
		API: APIConfig{
			Enabled:         true,
			Host:            "127.0.0.1",
			Port:            8080,
			MetricsEndpoint: "/metrics",
			RatePerMinute:   30,
			Burst:           10,
		},
	}
}
