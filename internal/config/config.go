package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for supportdesk.
type Config struct {
	General   GeneralConfig             `json:"general" yaml:"general"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Embedding EmbeddingConfig           `json:"embedding" yaml:"embedding"`
	Store     StoreConfig               `json:"store" yaml:"store"`
	Agent     AgentConfig               `json:"agent" yaml:"agent"`
	API       APIConfig                 `json:"api" yaml:"api"`
}

type GeneralConfig struct {
	LogLevel        string   `json:"logLevel" yaml:"logLevel"`
	LogFile         string   `json:"logFile,omitempty" yaml:"logFile,omitempty"`
	DefaultProvider string   `json:"defaultProvider" yaml:"defaultProvider"`
	FailoverChain   []string `json:"failoverChain,omitempty" yaml:"failoverChain,omitempty"` // provider failover order
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Mode         string `json:"mode" yaml:"mode"` // "api"
	APIBase      string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty" yaml:"defaultModel,omitempty"`
}

// EmbeddingConfig selects the engine used for semantic retrieval.
type EmbeddingConfig struct {
	Provider string `json:"provider" yaml:"provider"` // "ollama" | "openai" | "genai"
	APIBase  string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	APIKey   string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath" yaml:"dbPath"`
}

// AgentConfig tunes the ticket agent pipeline.
type AgentConfig struct {
	SimilarityThreshold float64 `json:"similarityThreshold" yaml:"similarityThreshold"`
	TopK                int     `json:"topK" yaml:"topK"`
	InterpretMaxTokens  int     `json:"interpretMaxTokens" yaml:"interpretMaxTokens"`
	SummaryTemperature  float64 `json:"summaryTemperature" yaml:"summaryTemperature"`
	SummaryMaxTokens    int     `json:"summaryMaxTokens" yaml:"summaryMaxTokens"`
}

// APIConfig configures the inbound HTTP gateway.
type APIConfig struct {
	Enabled         bool    `json:"enabled" yaml:"enabled"`
	Host            string  `json:"host" yaml:"host"`
	Port            int     `json:"port" yaml:"port"`
	APIKey          string  `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	MetricsEndpoint string  `json:"metricsEndpoint" yaml:"metricsEndpoint"`
	RatePerMinute   float64 `json:"ratePerMinute" yaml:"ratePerMinute"` // per client; 0 disables limiting
	Burst           int     `json:"burst" yaml:"burst"`
}

// DefaultConfigDir returns the default config directory (~/.supportdesk).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".supportdesk"
	}
	return filepath.Join(home, ".supportdesk")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep the placeholder so validation can flag it
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.API.Port < 0 || cfg.API.Port > 65535 {
		errs = append(errs, "api.port must be between 0 and 65535")
	}
	if cfg.API.RatePerMinute < 0 {
		errs = append(errs, "api.ratePerMinute must be >= 0")
	}
	if cfg.API.RatePerMinute > 0 && cfg.API.Burst < 1 {
		errs = append(errs, "api.burst must be >= 1 when rate limiting is enabled")
	}
	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required")
	}

	if cfg.Agent.SimilarityThreshold < 0 || cfg.Agent.SimilarityThreshold > 1 {
		errs = append(errs, "agent.similarityThreshold must be between 0 and 1")
	}
	if cfg.Agent.TopK < 1 || cfg.Agent.TopK > 50 {
		errs = append(errs, "agent.topK must be between 1 and 50")
	}
	if cfg.Agent.InterpretMaxTokens < 1 {
		errs = append(errs, "agent.interpretMaxTokens must be >= 1")
	}
	if cfg.Agent.SummaryMaxTokens < 1 {
		errs = append(errs, "agent.summaryMaxTokens must be >= 1")
	}
	if cfg.Agent.SummaryTemperature < 0 || cfg.Agent.SummaryTemperature > 2 {
		errs = append(errs, "agent.summaryTemperature must be between 0 and 2")
	}

	switch cfg.Embedding.Provider {
	case "ollama", "openai":
	case "genai":
		if cfg.Embedding.APIKey == "" {
			errs = append(errs, "embedding.apiKey is required for the genai provider")
		}
	default:
		errs = append(errs, "embedding.provider must be one of: ollama, openai, genai")
	}

	if _, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
		errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
	}

	// Validate failover chain references exist in providers.
	for _, provName := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", provName))
		}
	}

	for name, pc := range cfg.Providers {
		if pc.Enabled && pc.Mode == "api" && pc.APIBase == "" {
			// ollama and claude have built-in endpoints
			if name != "ollama" && name != "claude" {
				errs = append(errs, fmt.Sprintf("providers.%s: apiBase is required for API mode", name))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
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
