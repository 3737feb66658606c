package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MonitoringConfig tunes the probe engine
type MonitoringConfig struct {
	MaxRetries               int      `yaml:"maxRetries"`
	RetryDelaySeconds        int      `yaml:"retryDelay"`
	CheckTimeoutMillis       int      `yaml:"checkTimeout"`
	ConcurrentChecks         int      `yaml:"concurrentChecks"`
	NetworkConnectivityCheck *bool    `yaml:"networkConnectivityCheck"`
	NetworkTestURLs          []string `yaml:"networkTestUrls"`
	StoreMetrics             *bool    `yaml:"storeMetrics"`
}

// QueueConfig tunes one job queue
type QueueConfig struct {
	MaxConcurrency        int `yaml:"maxConcurrency"`
	DefaultTimeoutSeconds int `yaml:"defaultTimeout"`
	RateLimitPerSecond    int `yaml:"rateLimitPerSecond"`
}

// JobsConfig tunes the background job system, per queue
type JobsConfig struct {
	Critical QueueConfig `yaml:"critical"`
	High     QueueConfig `yaml:"high"`
	Normal   QueueConfig `yaml:"normal"`
	Low      QueueConfig `yaml:"low"`
	Bulk     QueueConfig `yaml:"bulk"`

	ShutdownGraceSeconds int `yaml:"shutdownGrace"`
}

// FailoverConfig tunes the failover controller
type FailoverConfig struct {
	HealthCheckIntervalSeconds   int `yaml:"healthCheckInterval"`
	HealthCheckTimeoutSeconds    int `yaml:"healthCheckTimeout"`
	HealthCheckRetries           int `yaml:"healthCheckRetries"`
	DetectionIntervalSeconds     int `yaml:"detectionInterval"`
	MaxConcurrentFailovers       int `yaml:"maxConcurrentFailovers"`
	MetricsRetentionPeriodSecond int `yaml:"metricsRetentionPeriod"`
}

// SLAConfig tunes the SLA manager
type SLAConfig struct {
	CalculationFrequencyMinutes int  `yaml:"calculationFrequency"`
	DataRetentionDays           int  `yaml:"dataRetentionDays"`
	ExcludeMaintenanceWindows   bool `yaml:"excludeMaintenanceWindows"`
}

// NotificationsConfig wires alert delivery. Unset transports fall back to
// the log sink.
type NotificationsConfig struct {
	SlackToken   string `yaml:"slackToken"`
	SlackChannel string `yaml:"slackChannel"`
	WebhookURL   string `yaml:"webhookUrl"`
}

// ServerConfig tunes the metrics/health listener
type ServerConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// LogConfig tunes logging
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config is the full prepared configuration the core accepts
type Config struct {
	DataDir    string           `yaml:"dataDir"`
	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Failover   FailoverConfig   `yaml:"failover"`
	SLA        SLAConfig        `yaml:"sla"`

	Notifications NotificationsConfig `yaml:"notifications"`
}

// Load reads a YAML config file and applies defaults
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills every unset field with its documented default
func (c *Config) ApplyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "/var/lib/guardant"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":9600"
	}

	m := &c.Monitoring
	if m.MaxRetries == 0 {
		m.MaxRetries = 3
	}
	if m.RetryDelaySeconds == 0 {
		m.RetryDelaySeconds = 5
	}
	if m.CheckTimeoutMillis == 0 {
		m.CheckTimeoutMillis = 10000
	}
	if m.ConcurrentChecks == 0 {
		m.ConcurrentChecks = 10
	}
	if m.NetworkConnectivityCheck == nil {
		t := true
		m.NetworkConnectivityCheck = &t
	}
	if len(m.NetworkTestURLs) == 0 {
		m.NetworkTestURLs = []string{
			"https://dns.google",
			"https://cloudflare.com",
			"https://google.com",
		}
	}
	if m.StoreMetrics == nil {
		t := true
		m.StoreMetrics = &t
	}

	defaultQueue := func(q *QueueConfig, concurrency, timeout, rate int) {
		if q.MaxConcurrency == 0 {
			q.MaxConcurrency = concurrency
		}
		if q.DefaultTimeoutSeconds == 0 {
			q.DefaultTimeoutSeconds = timeout
		}
		if q.RateLimitPerSecond == 0 {
			q.RateLimitPerSecond = rate
		}
	}
	defaultQueue(&c.Jobs.Critical, 10, 30, 50)
	defaultQueue(&c.Jobs.High, 8, 60, 25)
	defaultQueue(&c.Jobs.Normal, 5, 120, 10)
	defaultQueue(&c.Jobs.Low, 3, 300, 5)
	defaultQueue(&c.Jobs.Bulk, 2, 600, 2)
	if c.Jobs.ShutdownGraceSeconds == 0 {
		c.Jobs.ShutdownGraceSeconds = 30
	}

	f := &c.Failover
	if f.HealthCheckIntervalSeconds == 0 {
		f.HealthCheckIntervalSeconds = 30
	}
	if f.HealthCheckTimeoutSeconds == 0 {
		f.HealthCheckTimeoutSeconds = 5
	}
	if f.HealthCheckRetries == 0 {
		f.HealthCheckRetries = 3
	}
	if f.DetectionIntervalSeconds == 0 {
		f.DetectionIntervalSeconds = 15
	}
	if f.MaxConcurrentFailovers == 0 {
		f.MaxConcurrentFailovers = 3
	}
	if f.MetricsRetentionPeriodSecond == 0 {
		f.MetricsRetentionPeriodSecond = 3600
	}

	s := &c.SLA
	if s.CalculationFrequencyMinutes == 0 {
		s.CalculationFrequencyMinutes = 60
	}
	if s.DataRetentionDays == 0 {
		s.DataRetentionDays = 90
	}
}
