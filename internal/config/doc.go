// Package config provides configuration management for the assistant backend.
//
// # Overview
//
// The config package uses Viper to load configuration from YAML files and
// environment variables. It provides a type-safe configuration structure with
// validation, default values, and automatic file creation.
//
// # Configuration File
//
// The configuration is stored at ~/.secondbrain/config.yaml and is
// automatically created with sensible defaults on first use. The file
// structure mirrors the Go structs defined in this package.
//
// # Environment Variables
//
// All configuration values can be overridden using environment variables
// with the SECONDBRAIN_ prefix. Nested fields are separated by underscores.
//
// Examples:
//   - SECONDBRAIN_LLM_DEFAULT_PROVIDER=openai
//   - SECONDBRAIN_LLM_PROVIDERS_OPENAI_API_KEY=sk-...
//   - SECONDBRAIN_LOGGING_LEVEL=debug
//
// API keys should be stored in environment variables rather than in the
// config file to prevent accidental exposure.
//
// # Configuration Sections
//
//   - LLM: provider definitions, per-user primary/fallback selection
//   - Orchestrator: retry ceiling, iteration cap, breaker threshold, timeouts
//   - Context: history/excerpt/fact budgets for context assembly
//   - Memory: SQLite store path and context cache TTL
//   - Server: WebSocket listen address
//   - Postproc: background worker pool sizing
//   - Logging: log level and output file
//
// # Path Expansion
//
// The package automatically expands ~ to the user's home directory in
// all path configurations, making config files portable across systems.
//
// # Thread Safety
//
// Config instances are not thread-safe. Load once at startup and treat the
// result as read-only.
package config
