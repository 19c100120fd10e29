// Package config handles canvasd configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./canvasd.yaml, ~/.config/canvasd/config.yaml, /etc/canvasd/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"canvasd.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "canvasd", "config.yaml"))
	}

	paths = append(paths, "/etc/canvasd/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all canvasd configuration.
type Config struct {
	Listen    ListenConfig `yaml:"listen"`
	Model     ModelConfig  `yaml:"model"`
	Search    SearchConfig `yaml:"search"`
	Auth      AuthConfig   `yaml:"auth"`
	DataDir   string       `yaml:"data_dir"`
	LogLevel  string       `yaml:"log_level"`
	LogFormat string       `yaml:"log_format"` // "text" (default) or "json"
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
	// PublicURL is the externally visible base URL used in share
	// links. Default: derived from address and port.
	PublicURL string `yaml:"public_url"`
}

// ModelConfig defines the chat model provider settings.
type ModelConfig struct {
	// Name is the provider model identifier (e.g., "anthropic/claude-sonnet-4.5").
	Name string `yaml:"name"`
	// BaseURL is the OpenAI-compatible API base. Default: OpenRouter.
	BaseURL string `yaml:"base_url"`
	// APIKey authenticates against the provider.
	APIKey string `yaml:"api_key"`
	// MaxRounds bounds tool-calling rounds per turn. Default: 10.
	MaxRounds int `yaml:"max_rounds"`
	// MaxTokens caps the response length per model call. Default: 4096.
	MaxTokens int `yaml:"max_tokens"`
}

// SearchConfig defines the web lookup providers.
type SearchConfig struct {
	// Primary names the provider used by default ("google" or "searxng").
	Primary string `yaml:"primary"`
	// Google holds Custom Search Engine credentials.
	Google GoogleSearchConfig `yaml:"google"`
	// SearXNGURL is the base URL of a self-hosted SearXNG instance.
	SearXNGURL string `yaml:"searxng_url"`
}

// GoogleSearchConfig holds Google Custom Search credentials.
type GoogleSearchConfig struct {
	APIKey string `yaml:"api_key"`
	CX     string `yaml:"cx"`
}

// AuthConfig defines token signing and lifetime settings.
type AuthConfig struct {
	// Secret signs bearer tokens. Required in production.
	Secret string `yaml:"secret"`
	// TokenTTLHours is the token lifetime in hours. Default: 72.
	TokenTTLHours int `yaml:"token_ttl_hours"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Model: ModelConfig{
			Name:      "anthropic/claude-sonnet-4.5",
			BaseURL:   "https://openrouter.ai/api/v1",
			MaxRounds: 10,
			MaxTokens: 4096,
		},
		Search: SearchConfig{Primary: "google"},
		Auth:   AuthConfig{TokenTTLHours: 72},
		DataDir: "data",
	}
}
