// Package config loads and validates the promoter configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	perrors "git.home.luguber.info/inful/promoter/internal/errors"
)

// Config is the root configuration for the promoter daemon.
type Config struct {
	NATS     NATSConfig     `yaml:"nats"`
	Registry RegistryConfig `yaml:"registry"`
	Build    BuildConfig    `yaml:"build"`
	Decision DecisionConfig `yaml:"decision"`
	Notify   NotifyConfig   `yaml:"notify"`
	Journal  JournalConfig  `yaml:"journal"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// NATSConfig holds connection settings for the shared store and notifier.
type NATSConfig struct {
	URL           string `yaml:"url"`
	Bucket        string `yaml:"bucket,omitempty"`
	EventStream   string `yaml:"event_stream,omitempty"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
}

// RegistryConfig names the container registry builds are pushed to.
type RegistryConfig struct {
	// Host is the registry prefix for image references, e.g. "registry.example.com".
	Host string `yaml:"host"`
}

// BuildConfig tunes the build pipeline.
type BuildConfig struct {
	// MarkerSuffix is the change-signal key suffix watched for, e.g. ".metadata".
	// A signal at <service_path>/<marker_suffix> triggers a build of <service_path>.
	MarkerSuffix string `yaml:"marker_suffix,omitempty"`
	// SpecFile is the store key component holding the build spec, relative to
	// the service path (default "Dockerfile").
	SpecFile string `yaml:"spec_file,omitempty"`
	// DockerBin overrides the docker binary name/path.
	DockerBin string `yaml:"docker_bin,omitempty"`
	// Retry policy fields (apply to transient store/notify failures at stage granularity)
	MaxRetries        int    `yaml:"max_retries,omitempty"`         // retry attempts after first failure (default 2)
	RetryBackoff      string `yaml:"retry_backoff,omitempty"`       // fixed|linear|exponential (default linear)
	RetryInitialDelay string `yaml:"retry_initial_delay,omitempty"` // duration string (default 1s)
	RetryMaxDelay     string `yaml:"retry_max_delay,omitempty"`     // cap for growth (default 30s)
}

// DecisionConfig tunes the decision-wait protocol.
type DecisionConfig struct {
	// PollInterval is how often the decision key is checked (default 5s).
	PollInterval string `yaml:"poll_interval,omitempty"`
	// Timeout bounds the wait; expiry is treated as rejection (default 300s).
	Timeout string `yaml:"timeout,omitempty"`
}

// NotifyConfig controls the review notification publisher.
type NotifyConfig struct {
	// Group is the subscriber group build events are published to (default "deployer").
	Group         string `yaml:"group,omitempty"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
}

// JournalConfig controls the local pipeline event journal.
type JournalConfig struct {
	// Path to the sqlite database file (default "promoter-journal.db").
	Path string `yaml:"path,omitempty"`
	// Retention is how long journaled events are kept (default 720h).
	Retention string `yaml:"retention,omitempty"`
}

// DaemonConfig holds daemon runtime settings.
type DaemonConfig struct {
	// HTTPAddr is the listen address for /healthz, /status and /metrics (default ":8085").
	HTTPAddr string `yaml:"http_addr,omitempty"`
	// JanitorInterval is how often the journal janitor runs (default 1h).
	JanitorInterval string `yaml:"janitor_interval,omitempty"`
	// ShutdownGrace bounds how long in-flight builds may drain on stop (default 30s).
	ShutdownGrace string `yaml:"shutdown_grace,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // debug|info|warn|error
}

// Load reads, parses, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, perrors.ConfigNotFound(path)
		}
		return nil, perrors.Wrap(err, perrors.CategoryConfig, perrors.SeverityFatal, "failed to read configuration")
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryConfig, perrors.SeverityFatal, "failed to parse configuration").
			WithContext("path", path)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Duration accessors. Defaults are applied in ApplyDefaults, so parse errors
// here can only come from user-supplied values and surface via Validate.

func (d DecisionConfig) PollIntervalDuration() time.Duration {
	return parseDuration(d.PollInterval, 5*time.Second)
}

func (d DecisionConfig) TimeoutDuration() time.Duration {
	return parseDuration(d.Timeout, 300*time.Second)
}

func (j JournalConfig) RetentionDuration() time.Duration {
	return parseDuration(j.Retention, 720*time.Hour)
}

func (d DaemonConfig) JanitorIntervalDuration() time.Duration {
	return parseDuration(d.JanitorInterval, time.Hour)
}

func (d DaemonConfig) ShutdownGraceDuration() time.Duration {
	return parseDuration(d.ShutdownGrace, 30*time.Second)
}

func (b BuildConfig) RetryInitialDelayDuration() time.Duration {
	return parseDuration(b.RetryInitialDelay, time.Second)
}

func (b BuildConfig) RetryMaxDelayDuration() time.Duration {
	return parseDuration(b.RetryMaxDelay, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Init writes a starter configuration file to path.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return perrors.New(perrors.CategoryConfig, perrors.SeverityFatal, "configuration file already exists (use --force to overwrite)").
			WithContext("path", path)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
		return fmt.Errorf("write starter config: %w", err)
	}
	return nil
}

const starterConfig = `# promoter configuration
nats:
  url: nats://localhost:4222
  bucket: platform-state

registry:
  host: registry.example.com

build:
  marker_suffix: .metadata
  spec_file: Dockerfile

decision:
  poll_interval: 5s
  timeout: 300s

notify:
  group: deployer

journal:
  path: promoter-journal.db
  retention: 720h

daemon:
  http_addr: ":8085"
  janitor_interval: 1h

logging:
  level: info
`
