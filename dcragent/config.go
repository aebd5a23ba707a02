package dcragent

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Duration accepts Go duration strings ("90s", "10m") in YAML; bare numbers
// are taken as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	// A scalar like `retention: 300` decodes into a string just fine, so the
	// node tag is the only reliable way to tell the two spellings apart.
	if value.Tag == "!!int" {
		var n int64
		if err := value.Decode(&n); err != nil {
			return fmt.Errorf("invalid duration: %s", value.Value)
		}
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration: %s", value.Value)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// MailConfig mirrors the mail section of the original agent configuration.
// Credentials never live in the YAML file; they come from the environment.
type MailConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Host       string   `yaml:"host"`
	Port       int      `yaml:"port"`
	Username   string   `yaml:"username" env:"DCR_SMTP_USERNAME"`
	Password   string   `yaml:"-" env:"DCR_SMTP_PASSWORD"`
	From       string   `yaml:"from"`
	Recipients []string `yaml:"recipients"`
	TLS        bool     `yaml:"tls"`
	SSL        bool     `yaml:"ssl"`
}

type AssemblyConfig struct {
	StaleAfter    Duration `yaml:"stale_after"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

type DispatchConfig struct {
	Workers      int      `yaml:"workers"`
	MaxAttempts  int      `yaml:"max_attempts"`
	RetryBase    Duration `yaml:"retry_base"`
	QueueSize    int      `yaml:"queue_size"`
	DrainTimeout Duration `yaml:"drain_timeout"`
}

type FileConfig struct {
	DB         string         `yaml:"db"`
	ArchiveDir string         `yaml:"archive_dir"`
	Debug      bool           `yaml:"debug"`
	Retention  Duration       `yaml:"retention"`
	Assembly   AssemblyConfig `yaml:"assembly"`
	Dispatch   DispatchConfig `yaml:"dispatch"`
	Mail       MailConfig     `yaml:"mail"`
}

// LoadConfig reads the YAML file, layers environment overrides on top and
// fills defaults.
func LoadConfig(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

func (c *FileConfig) ApplyDefaults() {
	if c.Retention <= 0 {
		c.Retention = Duration(24 * time.Hour)
	}
	if c.Assembly.StaleAfter <= 0 {
		c.Assembly.StaleAfter = Duration(10 * time.Minute)
	}
	if c.Assembly.SweepInterval <= 0 {
		c.Assembly.SweepInterval = Duration(time.Minute)
	}
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = 4
	}
	if c.Dispatch.MaxAttempts <= 0 {
		c.Dispatch.MaxAttempts = 5
	}
	if c.Dispatch.RetryBase <= 0 {
		c.Dispatch.RetryBase = Duration(500 * time.Millisecond)
	}
	if c.Dispatch.QueueSize <= 0 {
		c.Dispatch.QueueSize = 64
	}
	if c.Dispatch.DrainTimeout <= 0 {
		c.Dispatch.DrainTimeout = Duration(30 * time.Second)
	}
}

func (c *FileConfig) Validate() error {
	if strings.TrimSpace(c.DB) == "" {
		return fmt.Errorf("db path is required")
	}
	if strings.TrimSpace(c.ArchiveDir) == "" {
		return fmt.Errorf("archive_dir is required")
	}
	if c.Mail.Enabled {
		if strings.TrimSpace(c.Mail.Host) == "" {
			return fmt.Errorf("mail.host is required when mail is enabled")
		}
		if c.Mail.Port <= 0 {
			return fmt.Errorf("mail.port is required when mail is enabled")
		}
		if strings.TrimSpace(c.Mail.From) == "" {
			return fmt.Errorf("mail.from is required when mail is enabled")
		}
		if len(c.Mail.Recipients) == 0 {
			return fmt.Errorf("mail.recipients is required when mail is enabled")
		}
	}
	return nil
}
