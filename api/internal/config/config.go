package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Azure    AzureConfig
	Gemini   GeminiConfig
	Telegram TelegramConfig
	Database DatabaseConfig

	// Engine is the default provider: azure or gemini.
	Engine   string
	LogLevel string
}

type ServerConfig struct {
	Host             string
	Port             string
	MaxUploadBytes   int64
	CORSAllowOrigins []string
	// AuditEndpoint exposes GET /audit. Off by default: the route has no auth.
	AuditEndpoint bool
}

type AzureConfig struct {
	APIKey       string
	Endpoint     string
	Deployment   string
	APIKeyHeader string
	Timeout      time.Duration
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type TelegramConfig struct {
	BotToken string
}

type DatabaseConfig struct {
	URL string
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, c.Server.Port)
}

// Load reads configuration from the environment and an optional .env file in
// the working directory.
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom is Load with an explicit env file. A missing file is not an error;
// environment variables win over file values.
func LoadFrom(envFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("AZURE_DEPLOYMENT_NAME", "tick-detection-model")
	v.SetDefault("AZURE_API_KEY_HEADER", "api-key")
	v.SetDefault("UPSTREAM_TIMEOUT", "0s")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", "8000")
	v.SetDefault("MAX_UPLOAD_BYTES", 20<<20) // 20 MiB
	v.SetDefault("CORS_ALLOW_ORIGINS", "*")
	v.SetDefault("AUDIT_ENDPOINT_ENABLED", false)
	v.SetDefault("ENGINE", "azure")
	v.SetDefault("GEMINI_MODEL", "gemini-2.5-flash")
	v.SetDefault("LOG_LEVEL", "info")

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", envFile, err)
		}
	}
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Host:             strings.TrimSpace(v.GetString("HOST")),
			Port:             strings.TrimSpace(v.GetString("PORT")),
			MaxUploadBytes:   v.GetInt64("MAX_UPLOAD_BYTES"),
			CORSAllowOrigins: splitList(v.GetString("CORS_ALLOW_ORIGINS")),
			AuditEndpoint:    v.GetBool("AUDIT_ENDPOINT_ENABLED"),
		},
		Azure: AzureConfig{
			APIKey:       strings.TrimSpace(v.GetString("AZURE_API_KEY")),
			Endpoint:     strings.TrimSpace(v.GetString("AZURE_OPENAI_ENDPOINT")),
			Deployment:   strings.TrimSpace(v.GetString("AZURE_DEPLOYMENT_NAME")),
			APIKeyHeader: strings.TrimSpace(v.GetString("AZURE_API_KEY_HEADER")),
			Timeout:      v.GetDuration("UPSTREAM_TIMEOUT"),
		},
		Gemini: GeminiConfig{
			APIKey: strings.TrimSpace(v.GetString("GEMINI_API_KEY")),
			Model:  strings.TrimSpace(v.GetString("GEMINI_MODEL")),
		},
		Telegram: TelegramConfig{
			BotToken: strings.TrimSpace(v.GetString("TELEGRAM_BOT_TOKEN")),
		},
		Database: DatabaseConfig{
			URL: strings.TrimSpace(v.GetString("DATABASE_URL")),
		},
		Engine:   strings.ToLower(strings.TrimSpace(v.GetString("ENGINE"))),
		LogLevel: strings.TrimSpace(v.GetString("LOG_LEVEL")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var missing []string
	if c.Azure.APIKey == "" {
		missing = append(missing, "AZURE_API_KEY")
	}
	if c.Azure.Endpoint == "" {
		missing = append(missing, "AZURE_OPENAI_ENDPOINT")
	}
	if c.Azure.Deployment == "" {
		missing = append(missing, "AZURE_DEPLOYMENT_NAME")
	}
	if c.Engine == "gemini" && c.Gemini.APIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	switch c.Engine {
	case "azure", "gemini":
	default:
		return fmt.Errorf("ENGINE must be azure or gemini, got %q", c.Engine)
	}
	if c.Server.Port == "" {
		return errors.New("PORT is empty")
	}
	if c.Server.MaxUploadBytes < 0 {
		return errors.New("MAX_UPLOAD_BYTES must not be negative")
	}
	if c.Azure.Timeout < 0 {
		return errors.New("UPSTREAM_TIMEOUT must not be negative")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
