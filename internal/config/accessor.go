package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Setting is one value addressable from the command line by its dot path,
// e.g. "agent.topK" or "providers.claude.apiKey".
type Setting struct {
	Path   string
	Secret bool
	get    func(*Config) any
	set    func(*Config, string) error
}

// Value returns the setting's current value in cfg.
func (s Setting) Value(cfg *Config) any { return s.get(cfg) }

// sectionSettings covers every fixed section. Provider entries are
// generated per configured provider by providerSetting.
var sectionSettings = []Setting{
	{Path: "general.logLevel", get: func(c *Config) any { return c.General.LogLevel }, set: setString(func(c *Config) *string { return &c.General.LogLevel })},
	{Path: "general.logFile", get: func(c *Config) any { return c.General.LogFile }, set: setString(func(c *Config) *string { return &c.General.LogFile })},
	{Path: "general.defaultProvider", get: func(c *Config) any { return c.General.DefaultProvider }, set: setString(func(c *Config) *string { return &c.General.DefaultProvider })},
	{Path: "general.failoverChain", get: func(c *Config) any { return c.General.FailoverChain }, set: setList(func(c *Config) *[]string { return &c.General.FailoverChain })},

	{Path: "embedding.provider", get: func(c *Config) any { return c.Embedding.Provider }, set: setString(func(c *Config) *string { return &c.Embedding.Provider })},
	{Path: "embedding.apiBase", get: func(c *Config) any { return c.Embedding.APIBase }, set: setString(func(c *Config) *string { return &c.Embedding.APIBase })},
	{Path: "embedding.apiKey", Secret: true, get: func(c *Config) any { return c.Embedding.APIKey }, set: setString(func(c *Config) *string { return &c.Embedding.APIKey })},
	{Path: "embedding.model", get: func(c *Config) any { return c.Embedding.Model }, set: setString(func(c *Config) *string { return &c.Embedding.Model })},

	{Path: "store.dbPath", get: func(c *Config) any { return c.Store.DBPath }, set: setString(func(c *Config) *string { return &c.Store.DBPath })},

	{Path: "agent.similarityThreshold", get: func(c *Config) any { return c.Agent.SimilarityThreshold }, set: setFloat(func(c *Config) *float64 { return &c.Agent.SimilarityThreshold })},
	{Path: "agent.topK", get: func(c *Config) any { return c.Agent.TopK }, set: setInt(func(c *Config) *int { return &c.Agent.TopK })},
	{Path: "agent.interpretMaxTokens", get: func(c *Config) any { return c.Agent.InterpretMaxTokens }, set: setInt(func(c *Config) *int { return &c.Agent.InterpretMaxTokens })},
	{Path: "agent.summaryTemperature", get: func(c *Config) any { return c.Agent.SummaryTemperature }, set: setFloat(func(c *Config) *float64 { return &c.Agent.SummaryTemperature })},
	{Path: "agent.summaryMaxTokens", get: func(c *Config) any { return c.Agent.SummaryMaxTokens }, set: setInt(func(c *Config) *int { return &c.Agent.SummaryMaxTokens })},

	{Path: "api.enabled", get: func(c *Config) any { return c.API.Enabled }, set: setBool(func(c *Config) *bool { return &c.API.Enabled })},
	{Path: "api.host", get: func(c *Config) any { return c.API.Host }, set: setString(func(c *Config) *string { return &c.API.Host })},
	{Path: "api.port", get: func(c *Config) any { return c.API.Port }, set: setInt(func(c *Config) *int { return &c.API.Port })},
	{Path: "api.apiKey", Secret: true, get: func(c *Config) any { return c.API.APIKey }, set: setString(func(c *Config) *string { return &c.API.APIKey })},
	{Path: "api.metricsEndpoint", get: func(c *Config) any { return c.API.MetricsEndpoint }, set: setString(func(c *Config) *string { return &c.API.MetricsEndpoint })},
	{Path: "api.ratePerMinute", get: func(c *Config) any { return c.API.RatePerMinute }, set: setFloat(func(c *Config) *float64 { return &c.API.RatePerMinute })},
	{Path: "api.burst", get: func(c *Config) any { return c.API.Burst }, set: setInt(func(c *Config) *int { return &c.API.Burst })},
}

// providerFields are the per-provider keys under providers.<name>.
var providerFields = []string{"enabled", "mode", "apiBase", "apiKey", "defaultModel"}

// Settings lists every addressable value in a stable order: fixed sections
// first, then providers by name.
func Settings(cfg *Config) []Setting {
	out := append([]Setting(nil), sectionSettings...)
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, field := range providerFields {
			out = append(out, providerSetting(name, field))
		}
	}
	return out
}

func providerSetting(name, field string) Setting {
	s := Setting{Path: "providers." + name + "." + field, Secret: field == "apiKey"}
	s.get = func(c *Config) any {
		p := c.Providers[name]
		switch field {
		case "enabled":
			return p.Enabled
		case "mode":
			return p.Mode
		case "apiBase":
			return p.APIBase
		case "apiKey":
			return p.APIKey
		}
		return p.DefaultModel
	}
	s.set = func(c *Config, raw string) error {
		if c.Providers == nil {
			c.Providers = make(map[string]ProviderConfig)
		}
		p, ok := c.Providers[name]
		if !ok {
			p = ProviderConfig{Mode: "api"}
		}
		switch field {
		case "enabled":
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return fmt.Errorf("%s: expected true or false, got %q", s.Path, raw)
			}
			p.Enabled = b
		case "mode":
			p.Mode = raw
		case "apiBase":
			p.APIBase = raw
		case "apiKey":
			p.APIKey = raw
		default:
			p.DefaultModel = raw
		}
		c.Providers[name] = p
		return nil
	}
	return s
}

// lookup resolves path against cfg. A provider path for an unknown provider
// resolves only when create is set.
func lookup(cfg *Config, path string, create bool) (Setting, error) {
	for _, s := range sectionSettings {
		if s.Path == path {
			return s, nil
		}
	}
	parts := strings.Split(path, ".")
	if len(parts) == 3 && parts[0] == "providers" && parts[1] != "" {
		_, known := cfg.Providers[parts[1]]
		for _, field := range providerFields {
			if field == parts[2] && (known || create) {
				return providerSetting(parts[1], field), nil
			}
		}
	}
	return Setting{}, fmt.Errorf("unknown config path: %s", path)
}

// GetByPath returns the value at a dot path (e.g. "agent.topK").
func GetByPath(cfg *Config, path string) (any, error) {
	s, err := lookup(cfg, path, false)
	if err != nil {
		return nil, err
	}
	return s.Value(cfg), nil
}

// SetByPath parses raw into the type of the value at path and stores it.
// Setting a field of an unlisted provider adds that provider.
func SetByPath(cfg *Config, path, raw string) error {
	s, err := lookup(cfg, path, true)
	if err != nil {
		return err
	}
	return s.set(cfg, raw)
}

// ListPaths returns every setting with secrets masked.
func ListPaths(cfg *Config) map[string]any {
	out := make(map[string]any)
	for _, s := range Settings(cfg) {
		out[s.Path] = s.Display(cfg)
	}
	return out
}

// Display is Value with secrets masked.
func (s Setting) Display(cfg *Config) any {
	v := s.get(cfg)
	if str, ok := v.(string); ok && s.Secret && str != "" {
		return maskString(str)
	}
	return v
}

// Sanitize returns a copy of cfg with API keys masked.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.General.FailoverChain = append([]string(nil), cfg.General.FailoverChain...)
	out.Providers = make(map[string]ProviderConfig, len(cfg.Providers))
	for name, p := range cfg.Providers {
		out.Providers[name] = p
	}
	for _, s := range Settings(&out) {
		if !s.Secret {
			continue
		}
		if v, _ := s.get(&out).(string); v != "" {
			s.set(&out, maskString(v))
		}
	}
	return &out
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func setString(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, raw string) error {
		*field(c) = raw
		return nil
	}
}

func setList(field func(*Config) *[]string) func(*Config, string) error {
	return func(c *Config, raw string) error {
		var items []string
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		*field(c) = items
		return nil
	}
}

func setBool(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, raw string) error {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("expected true or false, got %q", raw)
		}
		*field(c) = b
		return nil
	}
}

func setInt(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, raw string) error {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("expected an integer, got %q", raw)
		}
		*field(c) = n
		return nil
	}
}

func setFloat(field func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, raw string) error {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("expected a number, got %q", raw)
		}
		*field(c) = f
		return nil
	}
}
