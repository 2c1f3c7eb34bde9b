package config

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	xerrors "Plugweave/internal/errors"
)

// Config is the root of the daemon configuration file.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Index    IndexConfig    `json:"index"`
	Outcome  OutcomeConfig  `json:"outcome"`
	Plugins  PluginsConfig  `json:"plugins"`
	Logging  LoggingConfig  `json:"logging"`
	Engine   EngineConfig   `json:"engine"`
	Alerting AlertingConfig `json:"alerting"`
}

// ServerConfig controls the API and metrics listeners.
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// IndexConfig selects the discovery index store backend.
type IndexConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// OutcomeConfig selects the outcome queue backend.
type OutcomeConfig struct {
	Driver   string         `json:"driver"`
	Workers  int            `json:"workers"`
	Buffer   int            `json:"buffer"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig holds the Redis queue connection settings.
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Queue    string `json:"queue"`
}

// RabbitMQConfig holds the RabbitMQ queue connection settings.
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
	Durable  bool   `json:"durable"`
}

// PluginsConfig points at the plugin manifest.
type PluginsConfig struct {
	ManifestPath string `json:"manifest_path"`
}

// LoggingConfig mirrors pkg/logger's configuration surface.
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// EngineConfig holds orchestration tunables.
type EngineConfig struct {
	QueryLimit int `json:"query_limit"`
}

// AlertingConfig wires the alert fanout channels. An empty URL leaves its
// channel disabled; with no channels configured no dispatcher is built.
type AlertingConfig struct {
	WebhookURL      string `json:"webhook_url"`
	SlackWebhookURL string `json:"slack_webhook_url"`
	SlackChannel    string `json:"slack_channel"`
}

// Load parses the JSON configuration at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "config path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "open config file")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "read config file")
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "parse config file")
	}

	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.MetricsAddress == "" {
		c.Server.MetricsAddress = ":9090"
	}

	if c.Index.Driver == "" {
		c.Index.Driver = "memory"
	}

	if c.Outcome.Driver == "" {
		c.Outcome.Driver = "memory"
	}
	if c.Outcome.Workers <= 0 {
		c.Outcome.Workers = 2
	}
	if c.Outcome.Buffer <= 0 {
		c.Outcome.Buffer = 256
	}

	if c.Plugins.ManifestPath != "" && !filepath.IsAbs(c.Plugins.ManifestPath) {
		c.Plugins.ManifestPath = filepath.Join(baseDir, c.Plugins.ManifestPath)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Engine.QueryLimit <= 0 {
		c.Engine.QueryLimit = 10
	}
}
