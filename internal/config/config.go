package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"k8s.io/apimachinery/pkg/api/resource"
)

// Config represents the application configuration. It is built once at
// startup and injected into each component; nothing mutates it afterwards.
type Config struct {
	Server struct {
		Port int `koanf:"port"`
	} `koanf:"server"`

	GitLab struct {
		URL         string `koanf:"url"`
		Token       string `koanf:"token"`
		BotUsername string `koanf:"bot_username"`
		// TimeoutSeconds bounds every GitLab API call.
		TimeoutSeconds int `koanf:"timeout_seconds"`
	} `koanf:"gitlab"`

	Anthropic struct {
		APIKey            string `koanf:"api_key"`
		Model             string `koanf:"model"`
		MaxTokens         int    `koanf:"max_tokens"`
		TimeoutSeconds    int    `koanf:"timeout_seconds"`
		RequestsPerMinute int    `koanf:"requests_per_minute"`
	} `koanf:"anthropic"`

	Worker struct {
		Namespace     string `koanf:"namespace"`
		Image         string `koanf:"image"`
		Kubeconfig    string `koanf:"kubeconfig"`
		CPURequest    string `koanf:"cpu_request"`
		CPULimit      string `koanf:"cpu_limit"`
		MemoryRequest string `koanf:"memory_request"`
		MemoryLimit   string `koanf:"memory_limit"`
	} `koanf:"worker"`

	Pool struct {
		Workers   int `koanf:"workers"`
		QueueSize int `koanf:"queue_size"`
	} `koanf:"pool"`
}

// GitLabTimeout returns the configured GitLab per-call timeout.
func (c *Config) GitLabTimeout() time.Duration {
	return time.Duration(c.GitLab.TimeoutSeconds) * time.Second
}

// AnthropicTimeout returns the configured LLM per-call timeout.
func (c *Config) AnthropicTimeout() time.Duration {
	return time.Duration(c.Anthropic.TimeoutSeconds) * time.Second
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"server.port":                   8080,
		"gitlab.bot_username":           "fluffybot",
		"gitlab.timeout_seconds":        30,
		"anthropic.model":               "claude-sonnet-4-20250514",
		"anthropic.max_tokens":          1024,
		"anthropic.timeout_seconds":     120,
		"anthropic.requests_per_minute": 30,
		"worker.namespace":              "gitlab",
		"worker.cpu_request":            "500m",
		"worker.cpu_limit":              "2",
		"worker.memory_request":         "2Gi",
		"worker.memory_limit":           "4Gi",
		"pool.workers":                  8,
		"pool.queue_size":               64,
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		// Try to load from default locations
		defaultPaths := []string{"./fluffybot.toml", "$HOME/.fluffybot.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix FLUFFYBOT_. Sections are
	// one level deep, so only the first underscore is a separator:
	// FLUFFYBOT_GITLAB_BOT_USERNAME -> gitlab.bot_username.
	k.Load(env.Provider("FLUFFYBOT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "FLUFFYBOT_")), "_", ".", 1)
	}), nil)

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	// Create sample configuration
	sampleConfig := `# Fluffybot Configuration

[server]
port = 8080

[gitlab]
url = "https://gitlab.example.com"
token = "your-gitlab-token"
bot_username = "fluffybot"

[anthropic]
api_key = "your-anthropic-api-key"
model = "claude-sonnet-4-20250514"
max_tokens = 1024

[worker]
namespace = "gitlab"
image = "registry.example.com/fluffybot/worker:latest"
cpu_request = "500m"
cpu_limit = "2"
memory_request = "2Gi"
memory_limit = "4Gi"
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.GitLab.URL == "" {
		return fmt.Errorf("gitlab url is required")
	}

	if config.GitLab.Token == "" {
		return fmt.Errorf("gitlab token is required")
	}

	if config.GitLab.BotUsername == "" {
		return fmt.Errorf("gitlab bot_username is required")
	}

	if config.Anthropic.APIKey == "" {
		return fmt.Errorf("anthropic api_key is required")
	}

	if config.Worker.Namespace == "" {
		return fmt.Errorf("worker namespace is required")
	}

	if config.Worker.Image == "" {
		return fmt.Errorf("worker image is required")
	}

	// The job spec parses these with MustParse at dispatch time; catch a
	// malformed value here instead of panicking inside a pool worker.
	quantities := map[string]string{
		"worker cpu_request":    config.Worker.CPURequest,
		"worker cpu_limit":      config.Worker.CPULimit,
		"worker memory_request": config.Worker.MemoryRequest,
		"worker memory_limit":   config.Worker.MemoryLimit,
	}
	for name, value := range quantities {
		if _, err := resource.ParseQuantity(value); err != nil {
			return fmt.Errorf("%s %q is not a valid quantity: %w", name, value, err)
		}
	}

	return nil
}
