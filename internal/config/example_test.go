package config_test

import (
	"fmt"

	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/config"
)

// ExampleDefault demonstrates creating a config with default values.
func ExampleDefault() {
	cfg := config.Default()

	fmt.Printf("Default provider: %s\n", cfg.LLM.DefaultProvider)
	fmt.Printf("Retry attempts: %d\n", cfg.Orchestrator.MaxRetryAttempts)
	fmt.Printf("Breaker threshold: %d\n", cfg.Orchestrator.BreakerThreshold)
	// Output:
	// Default provider: ollama
	// Retry attempts: 2
	// Breaker threshold: 3
}

// ExampleConfig_Validate demonstrates configuration validation.
func ExampleConfig_Validate() {
	cfg := config.Default()

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Validation error: %v\n", err)
		return
	}
	fmt.Println("Configuration is valid")

	cfg.LLM.DefaultProvider = "nonexistent"
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Validation error: %v\n", err)
	}
	// Output:
	// Configuration is valid
	// Validation error: default provider 'nonexistent' not found in providers map
}

// Example_userProviders demonstrates per-user provider selection.
func Example_userProviders() {
	cfg := config.Default()

	cfg.LLM.Users["u-42"] = config.UserProviders{
		Primary:  "anthropic",
		Fallback: "ollama",
	}

	up := cfg.LLM.Users["u-42"]
	fmt.Printf("Primary: %s, Fallback: %s\n", up.Primary, up.Fallback)
	// Output:
	// Primary: anthropic, Fallback: ollama
}
