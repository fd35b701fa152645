package llm

import (
	"fmt"
	"os"
	"time"

	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/config"
)

// NewProviderByName creates a specific provider by name. Every provider is
// wrapped with a StatsProvider for call counting and latency tracking.
func NewProviderByName(name string, cfg *ProviderConfig) (Provider, error) {
	var provider Provider

	switch name {
	case "ollama":
		provider = NewOllamaProvider(cfg)
	case "openai":
		provider = NewOpenAIProvider(cfg)
	case "anthropic":
		provider = NewAnthropicProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}

	return NewStatsProvider(provider), nil
}

// NewProviderFromConfig builds a provider from its config file entry,
// falling back to environment variables for the API key.
func NewProviderFromConfig(name string, pc config.ProviderConfig) (Provider, error) {
	apiKey := pc.APIKey
	if apiKey == "" {
		apiKey = getAPIKeyFromEnv(name)
	}

	return NewProviderByName(name, &ProviderConfig{
		Name:        name,
		Endpoint:    pc.Endpoint,
		APIKey:      apiKey,
		Model:       pc.Model,
		MaxTokens:   pc.MaxTokens,
		Temperature: pc.Temperature,
		Timeout:     time.Duration(pc.TimeoutSec) * time.Second,
	})
}

// getAPIKeyFromEnv retrieves the API key from standard environment variables.
func getAPIKeyFromEnv(providerName string) string {
	envVars := map[string]string{
		"openai":    "OPENAI_API_KEY",
		"anthropic": "ANTHROPIC_API_KEY",
	}
	if envVar, ok := envVars[providerName]; ok {
		return os.Getenv(envVar)
	}
	return ""
}
