// Package config loads process configuration from an optional YAML file
// and TEXTLINE_-prefixed environment variables, with env taking
// precedence.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Cache      CacheConfig      `koanf:"cache"`
	Storage    StorageConfig    `koanf:"storage"`
	State      StateConfig      `koanf:"state"`
	EventBus   EventBusConfig   `koanf:"eventbus"`
	Gateway    GatewayConfig    `koanf:"gateway"`
	Dispatch   DispatchConfig   `koanf:"dispatch"`
	OpenAI     OpenAIConfig     `koanf:"openai"`
	Twilio     TwilioConfig     `koanf:"twilio"`
	Blob       BlobConfig       `koanf:"blob"`
	Safety     SafetyConfig     `koanf:"safety"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type CacheConfig struct {
	// Path is the badger directory. Empty means in-memory.
	Path string `koanf:"path"`
}

type StorageConfig struct {
	// DSN is the sqlite database path or URI.
	DSN string `koanf:"dsn"`
}

type StateConfig struct {
	TTL       time.Duration `koanf:"ttl"`
	QueueSize int           `koanf:"queue_size"`
}

type EventBusConfig struct {
	Retention time.Duration `koanf:"retention"`
}

type GatewayConfig struct {
	MaxConcurrent int           `koanf:"max_concurrent"`
	MaxRetries    int           `koanf:"max_retries"`
	CallTimeout   time.Duration `koanf:"call_timeout"`
}

type DispatchConfig struct {
	WindowSize    int           `koanf:"window_size"`
	Interval      time.Duration `koanf:"interval"`
	RetryAttempts int           `koanf:"retry_attempts"`
}

type OpenAIConfig struct {
	APIKey string `koanf:"api_key"`
	Model  string `koanf:"model"`
}

type TwilioConfig struct {
	AccountSID string `koanf:"account_sid"`
	AuthToken  string `koanf:"auth_token"`
	FromNumber string `koanf:"from_number"`
}

type BlobConfig struct {
	Bucket string `koanf:"bucket"`
}

type SafetyConfig struct {
	HotlineNumber string `koanf:"hotline_number"`
}

// Load reads configuration from path (optional, YAML) and the
// environment. A missing file is not an error; a .env file is honored
// if present.
func Load(path string) (*Config, error) {
	// Best effort; absence of .env is normal outside development.
	_ = godotenv.Load()

	k := koanf.New(".")

	applyDefaults(k)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// Environment overrides. Double underscore separates nesting levels
	// so multi-word keys survive: TEXTLINE_GATEWAY__MAX_CONCURRENT ->
	// gateway.max_concurrent.
	if err := k.Load(env.Provider("TEXTLINE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "TEXTLINE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	k.Set("server.port", 8080)
	k.Set("storage.dsn", "textline.db")
	k.Set("state.ttl", "5m")
	k.Set("state.queue_size", 1024)
	k.Set("eventbus.retention", "24h")
	k.Set("gateway.max_concurrent", 5)
	k.Set("gateway.max_retries", 3)
	k.Set("gateway.call_timeout", "30s")
	k.Set("dispatch.window_size", 80)
	k.Set("dispatch.interval", "1s")
	k.Set("dispatch.retry_attempts", 3)
	k.Set("openai.model", "gpt-4o-mini")
	k.Set("safety.hotline_number", "988")
}
