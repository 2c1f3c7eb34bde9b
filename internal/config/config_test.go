package config

import (
	"os"
	"path/filepath"
	"testing"

	xerrors "Plugweave/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugweave.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" || cfg.Server.MetricsAddress != ":9090" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Index.Driver != "memory" {
		t.Fatalf("index driver = %q, want memory", cfg.Index.Driver)
	}
	if cfg.Outcome.Driver != "memory" || cfg.Outcome.Workers != 2 || cfg.Outcome.Buffer != 256 {
		t.Fatalf("outcome = %+v", cfg.Outcome)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Engine.QueryLimit != 10 {
		t.Fatalf("query limit = %d, want 10", cfg.Engine.QueryLimit)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"server": {"address": ":7070", "metrics_address": ":7071"},
		"index": {"driver": "mysql", "dsn": "user:pass@tcp(localhost:3306)/plugweave"},
		"outcome": {
			"driver": "redis",
			"workers": 4,
			"buffer": 512,
			"redis": {"address": "localhost:6379", "queue": "outcomes"}
		},
		"engine": {"query_limit": 25},
		"alerting": {
			"webhook_url": "https://hooks.example.com/alerts",
			"slack_webhook_url": "https://hooks.slack.com/services/T0/B0/x",
			"slack_channel": "#plugweave"
		}
	}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":7070" {
		t.Fatalf("address = %q", cfg.Server.Address)
	}
	if cfg.Index.Driver != "mysql" || cfg.Index.DSN == "" {
		t.Fatalf("index = %+v", cfg.Index)
	}
	if cfg.Outcome.Driver != "redis" || cfg.Outcome.Workers != 4 || cfg.Outcome.Buffer != 512 {
		t.Fatalf("outcome = %+v", cfg.Outcome)
	}
	if cfg.Outcome.Redis.Address != "localhost:6379" || cfg.Outcome.Redis.Queue != "outcomes" {
		t.Fatalf("redis = %+v", cfg.Outcome.Redis)
	}
	if cfg.Engine.QueryLimit != 25 {
		t.Fatalf("query limit = %d", cfg.Engine.QueryLimit)
	}
	if cfg.Alerting.WebhookURL != "https://hooks.example.com/alerts" || cfg.Alerting.SlackChannel != "#plugweave" {
		t.Fatalf("alerting = %+v", cfg.Alerting)
	}
}

func TestLoadResolvesManifestPath(t *testing.T) {
	path := writeConfig(t, `{"plugins": {"manifest_path": "plugins/manifest.json"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := filepath.Join(filepath.Dir(path), "plugins", "manifest.json")
	if cfg.Plugins.ManifestPath != want {
		t.Fatalf("manifest path = %q, want %q", cfg.Plugins.ManifestPath, want)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("empty path error = %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("missing file error = %v", err)
	}
	if _, err := Load(writeConfig(t, `{not json`)); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("malformed file error = %v", err)
	}
}
