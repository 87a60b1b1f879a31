package config

// ApplyDefaults fills unset fields with sensible defaults. Values are safe to
// apply repeatedly; only empty/zero fields are touched.
func (c *Config) ApplyDefaults() {
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.Bucket == "" {
		c.NATS.Bucket = "platform-state"
	}
	if c.NATS.EventStream == "" {
		c.NATS.EventStream = "PROMOTER_EVENTS"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "promoter.events"
	}

	if c.Build.MarkerSuffix == "" {
		c.Build.MarkerSuffix = ".metadata"
	}
	if c.Build.SpecFile == "" {
		c.Build.SpecFile = "Dockerfile"
	}
	if c.Build.DockerBin == "" {
		c.Build.DockerBin = "docker"
	}
	if c.Build.MaxRetries < 0 {
		c.Build.MaxRetries = 0
	}
	if c.Build.MaxRetries == 0 {
		c.Build.MaxRetries = 2
	}
	if c.Build.RetryBackoff == "" {
		c.Build.RetryBackoff = "linear"
	}

	if c.Decision.PollInterval == "" {
		c.Decision.PollInterval = "5s"
	}
	if c.Decision.Timeout == "" {
		c.Decision.Timeout = "300s"
	}

	if c.Notify.Group == "" {
		c.Notify.Group = "deployer"
	}
	if c.Notify.SubjectPrefix == "" {
		c.Notify.SubjectPrefix = "promoter.notify"
	}

	if c.Journal.Path == "" {
		c.Journal.Path = "promoter-journal.db"
	}
	if c.Journal.Retention == "" {
		c.Journal.Retention = "720h"
	}

	if c.Daemon.HTTPAddr == "" {
		c.Daemon.HTTPAddr = ":8085"
	}
	if c.Daemon.JanitorInterval == "" {
		c.Daemon.JanitorInterval = "1h"
	}
	if c.Daemon.ShutdownGrace == "" {
		c.Daemon.ShutdownGrace = "30s"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
