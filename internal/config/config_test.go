package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != DefaultHTTPAddr {
		t.Fatalf("unexpected addr: %q", cfg.Server.Addr)
	}
	if cfg.Extract.MaxPages != 20 || cfg.Extract.PageConcurrency != 3 || cfg.Extract.RenderScale != 2.0 {
		t.Fatalf("unexpected extract defaults: %+v", cfg.Extract)
	}
	if cfg.Worker.MaxAttempts != 3 || cfg.Worker.StaleAfterSeconds != 300 {
		t.Fatalf("unexpected worker defaults: %+v", cfg.Worker)
	}
	if cfg.Speech.PollSeconds != 5 || cfg.Speech.MaxPolls != 60 {
		t.Fatalf("unexpected speech defaults: %+v", cfg.Speech)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[worker]
poll_interval_seconds = 10
concurrency = 5
max_items_per_pass = 25
max_attempts = 4

[extract]
max_pages = 8
render_scale = 1.5
page_concurrency = 2
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Worker.Concurrency != 5 || cfg.Worker.MaxItemsPerPass != 25 || cfg.Worker.MaxAttempts != 4 {
		t.Fatalf("worker overrides not applied: %+v", cfg.Worker)
	}
	if cfg.Extract.MaxPages != 8 || cfg.Extract.RenderScale != 1.5 {
		t.Fatalf("extract overrides not applied: %+v", cfg.Extract)
	}
	// Untouched tables keep their defaults.
	if cfg.Postgres.Host != DefaultPGHost {
		t.Fatalf("postgres defaults lost: %+v", cfg.Postgres)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{
			name: "zero max pages",
			content: `
[extract]
max_pages = 0
`,
		},
		{
			name: "zero poll interval",
			content: `
[worker]
poll_interval_seconds = 0
`,
		},
		{
			name: "zero staleness threshold",
			content: `
[worker]
stale_after_seconds = 0
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
