package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration for the HelaChat backend.
// It is loaded from ~/.helachat/config.yaml and can be overridden by
// environment variables.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	LLM         LLMConfig         `mapstructure:"llm" yaml:"llm"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding" yaml:"embedding"`
	Knowledge   KnowledgeConfig   `mapstructure:"knowledge" yaml:"knowledge"`
	Agent       AgentConfig       `mapstructure:"agent" yaml:"agent"`
	Sheets      SheetsConfig      `mapstructure:"sheets" yaml:"sheets"`
	WebSearch   WebSearchConfig   `mapstructure:"web_search" yaml:"web_search"`
	Translation TranslationConfig `mapstructure:"translation" yaml:"translation"`
	WhatsApp    WhatsAppConfig    `mapstructure:"whatsapp" yaml:"whatsapp"`
	Dispatch    DispatchConfig    `mapstructure:"dispatch" yaml:"dispatch"`
	Data        DataConfig        `mapstructure:"data" yaml:"data"`
	Observer    ObserverConfig    `mapstructure:"observer" yaml:"observer"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Admin       AdminConfig       `mapstructure:"admin" yaml:"admin"`
}

// ServerConfig contains configuration for the HTTP API server.
type ServerConfig struct {
	// Host is the listen address (default: 0.0.0.0)
	Host string `mapstructure:"host" yaml:"host"`
	// Port is the listen port for the API and webhook surface
	Port int `mapstructure:"port" yaml:"port"`
}

// LLMConfig contains configuration for Language Model providers.
type LLMConfig struct {
	// DefaultProvider specifies which provider to use by default (e.g., "github", "openai", "ollama")
	DefaultProvider string `mapstructure:"default_provider" yaml:"default_provider"`
	// Providers maps provider names to their specific configuration
	Providers map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
}

// ProviderConfig contains configuration for a specific LLM provider.
type ProviderConfig struct {
	// Endpoint is the API endpoint URL (primarily used for local providers like Ollama)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	// APIKey is the authentication key for the provider
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// Model is the specific model to use with this provider
	Model string `mapstructure:"model" yaml:"model,omitempty"`
	// TimeoutSec is the per-request timeout in seconds (0 = provider default)
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec,omitempty"`
}

// EmbeddingConfig contains configuration for the embedding engine that feeds
// the per-business vector index.
type EmbeddingConfig struct {
	// Backend selects the embedding engine: "huggingface" or "hash"
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Model is the sentence-transformers model used by the HuggingFace backend
	Model string `mapstructure:"model" yaml:"model"`
	// APIKey is the HuggingFace API token
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// Dimensions is the embedding vector size (default: 384)
	Dimensions int `mapstructure:"dimensions" yaml:"dimensions"`
}

// KnowledgeConfig contains configuration for the per-business knowledge index.
type KnowledgeConfig struct {
	// IndexDir is the directory where per-business index snapshots are persisted
	IndexDir string `mapstructure:"index_dir" yaml:"index_dir"`
	// ChunkSize is the target chunk length in characters for document splitting
	ChunkSize int `mapstructure:"chunk_size" yaml:"chunk_size"`
	// ChunkOverlap is the number of overlapping characters between adjacent chunks
	ChunkOverlap int `mapstructure:"chunk_overlap" yaml:"chunk_overlap"`
}

// AgentConfig contains tuning knobs for the response pipeline routing.
type AgentConfig struct {
	// DocumentTopK is how many document chunks the vector search returns
	DocumentTopK int `mapstructure:"document_top_k" yaml:"document_top_k"`
	// MinDocumentMatches is the match count at which document results alone
	// are considered sufficient context for generation
	MinDocumentMatches int `mapstructure:"min_document_matches" yaml:"min_document_matches"`
	// MinSheetMatches is the match count at which sheet results are considered sufficient
	MinSheetMatches int `mapstructure:"min_sheet_matches" yaml:"min_sheet_matches"`
	// SheetMaxResults caps the rows collected per connected sheet
	SheetMaxResults int `mapstructure:"sheet_max_results" yaml:"sheet_max_results"`
	// WebMaxResults caps the web search results used as context
	WebMaxResults int `mapstructure:"web_max_results" yaml:"web_max_results"`
}

// SheetsConfig contains configuration for the Google Sheets connector.
type SheetsConfig struct {
	// CacheTTLMinutes is the default cache lifetime for fetched sheet data
	CacheTTLMinutes int `mapstructure:"cache_ttl_minutes" yaml:"cache_ttl_minutes"`
	// FetchTimeoutSec is the HTTP timeout for CSV export fetches
	FetchTimeoutSec int `mapstructure:"fetch_timeout_sec" yaml:"fetch_timeout_sec"`
}

// WebSearchConfig contains configuration for the SerpAPI web search client.
type WebSearchConfig struct {
	// APIKey is the SerpAPI key
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// Country is the Google country code for localized results (default: "lk")
	Country string `mapstructure:"country" yaml:"country"`
	// Language is the Google interface language (default: "en")
	Language string `mapstructure:"language" yaml:"language"`
	// TimeoutSec is the HTTP timeout for search requests
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// TranslationConfig contains configuration for the MyMemory translation client.
type TranslationConfig struct {
	// Endpoint is the MyMemory API base URL
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// TimeoutSec is the HTTP timeout for translation requests
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// WhatsAppConfig contains credentials for the WhatsApp Business Cloud API.
type WhatsAppConfig struct {
	// AccessToken is the Graph API bearer token
	AccessToken string `mapstructure:"access_token" yaml:"access_token,omitempty"`
	// PhoneNumberID is the sending phone number ID
	PhoneNumberID string `mapstructure:"phone_number_id" yaml:"phone_number_id,omitempty"`
	// VerifyToken is the token expected during webhook GET verification
	VerifyToken string `mapstructure:"verify_token" yaml:"verify_token,omitempty"`
	// AppSecret is used to validate X-Hub-Signature-256 on webhook posts
	AppSecret string `mapstructure:"app_secret" yaml:"app_secret,omitempty"`
	// SendTimeoutSec is the HTTP timeout for outbound message sends
	SendTimeoutSec int `mapstructure:"send_timeout_sec" yaml:"send_timeout_sec"`
}

// DispatchConfig contains configuration for the background task dispatcher.
type DispatchConfig struct {
	// Workers is the number of concurrent pipeline workers
	Workers int `mapstructure:"workers" yaml:"workers"`
	// QueueSize is the task queue buffer size
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
	// MaxRetries is how many times a failed turn is retried before it is
	// marked failed permanently
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
	// RetryBaseSec is the base backoff delay; attempt n waits base * 2^n
	RetryBaseSec int `mapstructure:"retry_base_sec" yaml:"retry_base_sec"`
}

// DataConfig contains configuration for the SQLite data layer.
type DataConfig struct {
	// Dir is the local directory holding the SQLite database
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// ObserverConfig contains configuration for the WebSocket event stream.
type ObserverConfig struct {
	// Enabled determines whether the /events WebSocket endpoint is active
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// HistoryCount is how many recent events are replayed to new clients
	HistoryCount int `mapstructure:"history_count" yaml:"history_count"`
}

// LoggingConfig contains configuration for application logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error")
	Level string `mapstructure:"level" yaml:"level"`
	// File is the path to the log file
	File string `mapstructure:"file" yaml:"file"`
}

// AdminConfig contains configuration for the admin API surface.
type AdminConfig struct {
	// TokenHash is the bcrypt hash of the admin bearer token protecting
	// the test-message and reload-knowledge endpoints
	TokenHash string `mapstructure:"token_hash" yaml:"token_hash,omitempty"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".helachat")

	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		LLM: LLMConfig{
			DefaultProvider: "github",
			Providers: map[string]ProviderConfig{
				"github": {
					Endpoint: "https://models.github.ai/inference",
					Model:    "openai/gpt-4o-mini",
				},
				"openai": {
					APIKey: "",
					Model:  "gpt-4o-mini",
				},
				"ollama": {
					Endpoint: "http://127.0.0.1:11434",
					Model:    "llama3.2",
				},
			},
		},
		Embedding: EmbeddingConfig{
			Backend:    "hash",
			Model:      "sentence-transformers/all-MiniLM-L6-v2",
			Dimensions: 384,
		},
		Knowledge: KnowledgeConfig{
			IndexDir:     filepath.Join(dataDir, "indexes"),
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		Agent: AgentConfig{
			DocumentTopK:       5,
			MinDocumentMatches: 2,
			MinSheetMatches:    1,
			SheetMaxResults:    5,
			WebMaxResults:      5,
		},
		Sheets: SheetsConfig{
			CacheTTLMinutes: 10,
			FetchTimeoutSec: 30,
		},
		WebSearch: WebSearchConfig{
			Country:    "lk",
			Language:   "en",
			TimeoutSec: 30,
		},
		Translation: TranslationConfig{
			Endpoint:   "https://api.mymemory.translated.net",
			TimeoutSec: 10,
		},
		WhatsApp: WhatsAppConfig{
			SendTimeoutSec: 30,
		},
		Dispatch: DispatchConfig{
			Workers:      4,
			QueueSize:    256,
			MaxRetries:   3,
			RetryBaseSec: 60,
		},
		Data: DataConfig{
			Dir: dataDir,
		},
		Observer: ObserverConfig{
			Enabled:      true,
			HistoryCount: 100,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "logs", "helachat.log"),
		},
		Admin: AdminConfig{},
	}
}

// Load reads configuration from the default location (~/.helachat/config.yaml)
// and merges with environment variables. If no config file exists, it creates
// one with default values.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, ".helachat", "config.yaml")
	return LoadFromPath(configPath)
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it creates one with default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	// Ensure the config directory exists
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	// Check if config file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := writeConfigFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	// Configure Viper
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Enable environment variable overrides
	// Example: HELACHAT_WHATSAPP_ACCESS_TOKEN
	v.SetEnvPrefix("HELACHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read the config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Expand paths with tilde
	cfg.Data.Dir = expandPath(cfg.Data.Dir)
	cfg.Knowledge.IndexDir = expandPath(cfg.Knowledge.IndexDir)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	return &cfg, nil
}

// Save writes the current configuration to the default config file location.
func (c *Config) Save() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, ".helachat", "config.yaml")
	return c.SaveToPath(configPath)
}

// SaveToPath writes the current configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return writeConfigFile(path, c)
}

// EnsureDirectories creates all directories the application needs at startup.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Data.Dir,
		c.Knowledge.IndexDir,
		filepath.Dir(c.Logging.File),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	// Validate LLM config
	if c.LLM.DefaultProvider == "" {
		return fmt.Errorf("llm.default_provider cannot be empty")
	}

	if _, exists := c.LLM.Providers[c.LLM.DefaultProvider]; !exists {
		return fmt.Errorf("default provider '%s' not found in providers map", c.LLM.DefaultProvider)
	}

	// Validate embedding config
	validBackends := map[string]bool{"huggingface": true, "hash": true}
	if !validBackends[c.Embedding.Backend] {
		return fmt.Errorf("invalid embedding backend '%s', must be one of: huggingface, hash", c.Embedding.Backend)
	}

	// Validate knowledge config
	if c.Knowledge.ChunkSize <= 0 {
		return fmt.Errorf("knowledge.chunk_size must be positive")
	}
	if c.Knowledge.ChunkOverlap < 0 || c.Knowledge.ChunkOverlap >= c.Knowledge.ChunkSize {
		return fmt.Errorf("knowledge.chunk_overlap must be non-negative and smaller than chunk_size")
	}

	// Validate agent routing thresholds
	if c.Agent.DocumentTopK <= 0 {
		return fmt.Errorf("agent.document_top_k must be positive")
	}
	if c.Agent.MinDocumentMatches <= 0 {
		return fmt.Errorf("agent.min_document_matches must be positive")
	}
	if c.Agent.MinSheetMatches <= 0 {
		return fmt.Errorf("agent.min_sheet_matches must be positive")
	}

	// Validate dispatch config
	if c.Dispatch.Workers <= 0 {
		return fmt.Errorf("dispatch.workers must be positive")
	}
	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("dispatch.max_retries cannot be negative")
	}

	// Validate logging config
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file.
// Uses gopkg.in/yaml.v3 directly to ensure proper tag-based serialization.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
