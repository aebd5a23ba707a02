package dcragent

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadConfig(t *testing.T) {
	p := writeConfig(t, `
db: /var/lib/dcr-agent/agent.db
archive_dir: /var/lib/dcr-agent/reports
retention: 48h
assembly:
  stale_after: 90s
dispatch:
  workers: 2
mail:
  enabled: true
  host: smtp.example.org
  port: 587
  from: qzss@example.org
  recipients:
    - ops@example.org
  tls: true
`)
	t.Setenv("DCR_SMTP_USERNAME", "qzss")
	t.Setenv("DCR_SMTP_PASSWORD", "hunter2")

	cfg, err := LoadConfig(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	if cfg.Retention.Std() != 48*time.Hour {
		t.Fatalf("retention = %s", cfg.Retention.Std())
	}
	if cfg.Assembly.StaleAfter.Std() != 90*time.Second {
		t.Fatalf("stale_after = %s", cfg.Assembly.StaleAfter.Std())
	}
	if cfg.Assembly.SweepInterval.Std() != time.Minute {
		t.Fatalf("sweep_interval default = %s", cfg.Assembly.SweepInterval.Std())
	}
	if cfg.Dispatch.Workers != 2 {
		t.Fatalf("workers = %d", cfg.Dispatch.Workers)
	}
	if cfg.Dispatch.MaxAttempts != 5 {
		t.Fatalf("max_attempts default = %d", cfg.Dispatch.MaxAttempts)
	}
	if cfg.Mail.Username != "qzss" || cfg.Mail.Password != "hunter2" {
		t.Fatal("mail credentials must come from the environment")
	}
}

func TestLoadConfig_BareSecondsDuration(t *testing.T) {
	p := writeConfig(t, `
db: agent.db
archive_dir: reports
retention: 300
`)
	cfg, err := LoadConfig(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Retention.Std() != 300*time.Second {
		t.Fatalf("retention = %s, want 300s", cfg.Retention.Std())
	}
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing db", "archive_dir: reports\n"},
		{"missing archive dir", "db: agent.db\n"},
		{"mail enabled without host", "db: agent.db\narchive_dir: reports\nmail:\n  enabled: true\n  port: 587\n  from: a@b.c\n  recipients: [x@y.z]\n"},
		{"mail enabled without recipients", "db: agent.db\narchive_dir: reports\nmail:\n  enabled: true\n  host: smtp.example.org\n  port: 587\n  from: a@b.c\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, tc.body))
			if err != nil {
				t.Fatal(err)
			}
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}
