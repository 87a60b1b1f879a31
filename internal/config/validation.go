package config

import (
	"strings"
	"time"

	perrors "git.home.luguber.info/inful/promoter/internal/errors"
)

// Validate checks the configuration for errors a daemon cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.NATS.URL) == "" {
		return perrors.ConfigRequired("nats.url")
	}
	if strings.TrimSpace(c.NATS.Bucket) == "" {
		return perrors.ConfigRequired("nats.bucket")
	}
	if strings.TrimSpace(c.Registry.Host) == "" {
		return perrors.ConfigRequired("registry.host")
	}
	if strings.Contains(c.Registry.Host, "/") {
		return perrors.ValidationFailed("registry.host", "must be a bare host, without path or trailing slash")
	}
	if !strings.HasPrefix(c.Build.MarkerSuffix, ".") {
		return perrors.ValidationFailed("build.marker_suffix", "must start with a dot")
	}

	for field, raw := range map[string]string{
		"decision.poll_interval":  c.Decision.PollInterval,
		"decision.timeout":        c.Decision.Timeout,
		"journal.retention":       c.Journal.Retention,
		"daemon.janitor_interval": c.Daemon.JanitorInterval,
		"daemon.shutdown_grace":   c.Daemon.ShutdownGrace,
	} {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return perrors.ValidationFailed(field, "not a valid duration")
		}
		if d <= 0 {
			return perrors.ValidationFailed(field, "must be positive")
		}
	}

	if c.Decision.PollIntervalDuration() > c.Decision.TimeoutDuration() {
		return perrors.ValidationFailed("decision.poll_interval", "must not exceed decision.timeout")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return perrors.ValidationFailed("logging.level", "must be one of debug, info, warn, error")
	}

	switch c.Build.RetryBackoff {
	case "", "fixed", "linear", "exponential":
	default:
		return perrors.ValidationFailed("build.retry_backoff", "must be one of fixed, linear, exponential")
	}

	return nil
}
