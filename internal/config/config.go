// Package config loads settings for the relay server and the chat client.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/AliZeynalov/LangDock-LLM-relay/internal/models"
)

const (
	DefaultPort          = 3000
	DefaultOllamaURL     = "http://ollama:11434"
	DefaultModelA        = "gemma3:1b"
	DefaultModelB        = "llama3.2:3b"
	DefaultOllamaTimeout = 120 * time.Second
	DefaultAPIBaseURL    = "http://localhost:3000"
	DefaultTimeoutFast   = 30 * time.Second
	DefaultTimeoutSlow   = 60 * time.Second

	// MinAttemptTimeout keeps a zero or negative timeout from firing at once
	MinAttemptTimeout = time.Second
)

// SystemInstruction is prepended to every prompt sent upstream
const SystemInstruction = `System: Reply in plain text only. Do NOT use Markdown. If you need emphasis, use <b>bold</b> for bold and <i>italic</i> for italic. Do not include backticks, triple-backtick code blocks, or Markdown headings. Keep the response concise.`

// Config holds everything both binaries read at startup
type Config struct {
	Port              int           `mapstructure:"port"`
	LogLevel          string        `mapstructure:"log_level"`
	OllamaURL         string        `mapstructure:"ollama_url"`
	OllamaTimeout     time.Duration `mapstructure:"-"`
	OllamaTimeoutMS   int           `mapstructure:"ollama_timeout_ms"`
	SystemInstruction string        `mapstructure:"system_instruction"`
	PriorityFields    []string      `mapstructure:"priority_fields"` // empty means the interpreter default
	Fast              BackendConfig `mapstructure:"fast"`
	Slow              BackendConfig `mapstructure:"slow"`
	Client            ClientConfig  `mapstructure:"client"`
}

// BackendConfig describes one concrete backend
type BackendConfig struct {
	Key   string `mapstructure:"key"`
	Model string `mapstructure:"model"`
	Label string `mapstructure:"label"`
}

// ClientConfig holds chat client preferences
type ClientConfig struct {
	APIBaseURL  string        `mapstructure:"api_base_url"`
	TimeoutFast time.Duration `mapstructure:"timeout_fast"`
	TimeoutSlow time.Duration `mapstructure:"timeout_slow"`
	Route       string        `mapstructure:"route"`
}

// SetDefaults registers defaults on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", DefaultPort)
	v.SetDefault("log_level", "info")
	v.SetDefault("ollama_url", DefaultOllamaURL)
	v.SetDefault("ollama_timeout_ms", int(DefaultOllamaTimeout/time.Millisecond))
	v.SetDefault("system_instruction", SystemInstruction)
	v.SetDefault("fast.key", "a")
	v.SetDefault("fast.model", DefaultModelA)
	v.SetDefault("fast.label", "Fast model")
	v.SetDefault("slow.key", "b")
	v.SetDefault("slow.model", DefaultModelB)
	v.SetDefault("slow.label", "Slow model")
	v.SetDefault("client.api_base_url", DefaultAPIBaseURL)
	v.SetDefault("client.timeout_fast", DefaultTimeoutFast)
	v.SetDefault("client.timeout_slow", DefaultTimeoutSlow)
	v.SetDefault("client.route", string(models.RouteAuto))
}

// bindEnv wires RELAY_* variables plus the plain names the docker setup uses
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("relay")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("port", "RELAY_PORT", "PORT")
	_ = v.BindEnv("ollama_url", "RELAY_OLLAMA_URL", "OLLAMA_URL")
	_ = v.BindEnv("ollama_timeout_ms", "RELAY_OLLAMA_TIMEOUT_MS", "OLLAMA_TIMEOUT_MS")
	_ = v.BindEnv("fast.model", "RELAY_FAST_MODEL", "MODEL_A")
	_ = v.BindEnv("slow.model", "RELAY_SLOW_MODEL", "MODEL_B")
	_ = v.BindEnv("client.api_base_url", "RELAY_CLIENT_API_BASE_URL", "API_BASE_URL")
}

// New returns a viper instance with defaults, env bindings and the
// optional config file search paths set
func New(configFile string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	bindEnv(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("relay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/relay")
	}
	return v
}

// Load reads the config file if one exists and decodes the result
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.OllamaTimeout = time.Duration(cfg.OllamaTimeoutMS) * time.Millisecond

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	if c.OllamaURL == "" {
		return errors.New("missing required setting: ollama_url")
	}
	if c.Fast.Key == "" || c.Slow.Key == "" {
		return errors.New("route keys must not be empty")
	}
	if strings.EqualFold(c.Fast.Key, c.Slow.Key) {
		return fmt.Errorf("fast and slow route keys must differ (both %q)", c.Fast.Key)
	}
	for _, k := range []string{c.Fast.Key, c.Slow.Key} {
		if strings.EqualFold(k, string(models.RouteAuto)) {
			return fmt.Errorf("route key %q is reserved", k)
		}
	}
	return nil
}

// Routes builds the route table served at /config/models
func (c *Config) Routes() models.RouteTable {
	return models.RouteTable{
		Default: models.RouteAuto,
		Fast:    models.ModelInfo{Route: c.Fast.Key, Name: c.Fast.Model, Label: c.Fast.Label},
		Slow:    models.ModelInfo{Route: c.Slow.Key, Name: c.Slow.Model, Label: c.Slow.Label},
	}
}

// ClampTimeout applies the minimum attempt timeout
func ClampTimeout(d time.Duration) time.Duration {
	if d < MinAttemptTimeout {
		return MinAttemptTimeout
	}
	return d
}
