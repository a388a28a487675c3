package provider

import (
	"strings"
	"testing"

	"supportdesk/internal/config"
)

func TestFactory_GetCachesProvider(t *testing.T) {
	f := NewFactory(config.Defaults(), testLogger())

	p1, err := f.Get("")
	if err != nil {
		t.Fatalf("Get default: %v", err)
	}
	p2, err := f.Get("ollama")
	if err != nil {
		t.Fatalf("Get ollama: %v", err)
	}
	if p1 != p2 {
		t.Fatal("expected cached provider instance to be reused")
	}
}

func TestFactory_GetUnknownAndDisabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["openai"] = config.ProviderConfig{Enabled: false, Mode: "api", APIBase: "https://api.openai.com/v1"}
	f := NewFactory(cfg, testLogger())

	if _, err := f.Get("nope"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if _, err := f.Get("openai"); err == nil || !strings.Contains(err.Error(), "disabled") {
		t.Fatalf("expected disabled error, got %v", err)
	}
}

func TestFactory_BuildWithoutChainReturnsDefault(t *testing.T) {
	f := NewFactory(config.Defaults(), testLogger())
	p, err := f.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Name() != "ollama" {
		t.Fatalf("expected ollama, got %s", p.Name())
	}
}

func TestFactory_BuildWithChainWrapsFailover(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["claude"] = config.ProviderConfig{Enabled: true, Mode: "api", APIKey: "k"}
	cfg.General.FailoverChain = []string{"ollama", "claude"}
	f := NewFactory(cfg, testLogger())

	p, err := f.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Name() != "failover(ollama→claude)" {
		t.Fatalf("unexpected name %q", p.Name())
	}
}

func TestFactory_BuildSkipsUnusableChainMembers(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["claude"] = config.ProviderConfig{Enabled: false, Mode: "api"}
	cfg.General.FailoverChain = []string{"claude", "ollama"}
	f := NewFactory(cfg, testLogger())

	p, err := f.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Name() != "ollama" {
		t.Fatalf("expected single remaining provider, got %q", p.Name())
	}
}

func TestFactory_UnknownNameFallsBackToOpenAICompatible(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["groq"] = config.ProviderConfig{Enabled: true, Mode: "api", APIBase: "https://api.groq.com/openai/v1", APIKey: "k"}
	f := NewFactory(cfg, testLogger())

	p, err := f.Get("groq")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Name() != "openai" {
		t.Fatalf("expected OpenAI-compatible provider, got %s", p.Name())
	}
}
