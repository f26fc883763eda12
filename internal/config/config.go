// Package config handles configuration loading for the assistant.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// appName scopes the XDG-style config search paths.
const appName = "selfhosted-assistant"

// DefaultSearchPaths returns the config file search order. An explicit
// path (from a -config flag) is checked first by FindConfig. Then:
// ./config.yaml, ~/.config/selfhosted-assistant/config.yaml,
// /etc/selfhosted-assistant/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", appName, "config.yaml"))
	}

	paths = append(paths, filepath.Join("/etc", appName, "config.yaml"))
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise, searches DefaultSearchPaths and returns the first
// that exists. Returns the path found, or an error if nothing was found.
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

// Config holds the closed set of configuration keys the composition
// root recognizes.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Listen     ListenConfig     `yaml:"listen"`
	LogLevel   string           `yaml:"log_level"`
	LM         LMConfig         `yaml:"lm"`
	Agent      AgentConfig      `yaml:"agent"`
	Push       PushConfig       `yaml:"push"`
	Directions DirectionsConfig `yaml:"directions"`
	AppURL     string           `yaml:"app_url"`
}

// DatabaseConfig holds the storage connection string.
type DatabaseConfig struct {
	Address string `yaml:"address"`
}

// ListenConfig defines the HTTP listener.
type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// LMConfig defines the language-model provider and the models used for
// chat/titling and for embeddings. The same provider key authenticates
// both, matching the reference OpenAI-compatible embeddings endpoint.
type LMConfig struct {
	ProviderKey    string `yaml:"provider_key"`
	ChatModel      string `yaml:"chat_model"`
	EmbeddingModel string `yaml:"embedding_model"`
	EmbeddingsURL  string `yaml:"embeddings_url"`
}

// AgentConfig bounds the Agent Service's tool-call loop.
type AgentConfig struct {
	MaxIterations int `yaml:"max_iterations"`
}

// PushConfig defines the notification endpoint. Both fields absent
// means notifications are no-ops.
type PushConfig struct {
	Address string `yaml:"address"`
	Channel string `yaml:"channel"`
}

// DirectionsConfig enables the directions tool and the departure-check
// skill when a key is present.
type DirectionsConfig struct {
	APIKey string `yaml:"api_key"`
}

// Load reads configuration from a YAML file, expanding ${VAR}
// environment references against the raw file content before
// unmarshaling.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with every optional key at its
// documented default.
func Default() *Config {
	return &Config{
		Listen:   ListenConfig{Port: 3000},
		LogLevel: "info",
		LM: LMConfig{
			ChatModel:      "claude-sonnet-4-5",
			EmbeddingModel: "text-embedding-3-small",
		},
		Agent: AgentConfig{MaxIterations: 25},
	}
}
