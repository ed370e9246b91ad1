// Package config provides configuration management for the HelaChat backend.
//
// # Overview
//
// The config package uses Viper to load configuration from YAML files and
// environment variables. It provides a type-safe configuration structure with
// validation, default values, and automatic file creation.
//
// # Configuration File
//
// The configuration is stored at ~/.helachat/config.yaml and is automatically
// created with sensible defaults on first use. The file structure mirrors
// the Go structs defined in this package.
//
// # Environment Variables
//
// All configuration values can be overridden using environment variables
// with the HELACHAT_ prefix. Nested fields are separated by underscores.
//
// Examples:
//   - HELACHAT_LLM_DEFAULT_PROVIDER=openai
//   - HELACHAT_WHATSAPP_ACCESS_TOKEN=EAAG...
//   - HELACHAT_WEB_SEARCH_API_KEY=...
//   - HELACHAT_LOGGING_LEVEL=debug
//
// # Usage Example
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
package config
