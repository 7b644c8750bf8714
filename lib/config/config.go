// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/eventsink/lib/analytics"
	"github.com/bureau-foundation/eventsink/lib/codec"
	"github.com/bureau-foundation/eventsink/lib/exposure"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Retry policy names.
const (
	RetryLeave   = "leave"
	RetryBackoff = "backoff"
)

// Config is the master configuration for the event sink engine and
// its collector.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	Exposure  ExposureConfig  `yaml:"exposure"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Retry     RetryConfig     `yaml:"retry"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Collector CollectorConfig `yaml:"collector"`

	// Per-environment overrides, applied after the base config is
	// loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains the sections that can be overridden per
// environment.
type ConfigOverrides struct {
	Exposure  *ExposureConfig  `yaml:"exposure,omitempty"`
	Scheduler *SchedulerConfig `yaml:"scheduler,omitempty"`
	Retry     *RetryConfig     `yaml:"retry,omitempty"`
	Dispatch  *DispatchConfig  `yaml:"dispatch,omitempty"`
	Collector *CollectorConfig `yaml:"collector,omitempty"`
}

// ExposureConfig configures the transport to the event sink.
type ExposureConfig struct {
	// BaseURL is the sink's root URL. ${VAR} and ${VAR:-default} are
	// expanded.
	BaseURL string `yaml:"base_url"`

	// Encoding is the request body format: json or cbor.
	// Default: json
	Encoding string `yaml:"encoding"`

	// Compression is none, zstd, or lz4.
	// Default: none
	Compression string `yaml:"compression"`

	// RequestTimeout bounds each init and send round trip.
	// Default: 10s
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SchedulerConfig configures the dispatch cycle.
type SchedulerConfig struct {
	// Cycle is the tick period. Default: 1s
	Cycle time.Duration `yaml:"cycle"`

	// PurgeTicks is the dispatch threshold while events are pending.
	// Default: 3
	PurgeTicks int64 `yaml:"purge_ticks"`

	// HeartbeatTicks is the dispatch threshold while nothing is
	// pending. Default: 60
	HeartbeatTicks int64 `yaml:"heartbeat_ticks"`

	// ClockCheckTicks is the dispatch gap beyond which sessions are
	// re-synchronized before sending. Default: 300
	ClockCheckTicks int64 `yaml:"clock_check_ticks"`
}

// RetryConfig configures the response to a failed send.
type RetryConfig struct {
	// Policy is leave (keep the buffer, retry next cycle) or backoff.
	// Default: leave
	Policy string `yaml:"policy"`

	// The remaining fields apply to backoff only.
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Jitter       bool          `yaml:"jitter"`

	// MaxAttempts discards a batch after this many consecutive
	// failures. Zero retries forever.
	MaxAttempts int `yaml:"max_attempts"`

	// DiscardRejected drops a batch the sink refused with a 4xx other
	// than 401, 403, 408, or 429 instead of resending it.
	DiscardRejected bool `yaml:"discard_rejected"`
}

// DispatchConfig configures session retirement.
type DispatchConfig struct {
	// RetireEmptyFinished removes Finished sessions that have nothing
	// left to send. Default: false
	RetireEmptyFinished bool `yaml:"retire_empty_finished"`
}

// CollectorConfig configures the reference collector.
type CollectorConfig struct {
	// ListenAddress is the TCP listen address. Default: 127.0.0.1:8480
	ListenAddress string `yaml:"listen_address"`

	// Token, when set, is required as a bearer token on every request.
	// Usually given as ${EVENTSINK_COLLECTOR_TOKEN}.
	Token string `yaml:"token"`

	// MaxBufferBytes bounds the stored batches. Default: 64 MiB
	MaxBufferBytes int `yaml:"max_buffer_bytes"`

	// IncludeDeviceMetrics is reported in init reply settings.
	IncludeDeviceMetrics bool `yaml:"include_device_metrics"`

	// FeedBuffer is the per-watcher queue length. Default: 64
	FeedBuffer int `yaml:"feed_buffer"`
}

// Default returns the default configuration, used as the base before
// loading the config file.
func Default() *Config {
	schedule := analytics.DefaultSchedule()
	return &Config{
		Environment: Development,
		Exposure: ExposureConfig{
			BaseURL:        "http://127.0.0.1:8480",
			Encoding:       codec.FormatJSON.String(),
			Compression:    codec.CompressionNone.String(),
			RequestTimeout: analytics.DefaultRequestTimeout,
		},
		Scheduler: SchedulerConfig{
			Cycle:           schedule.Cycle,
			PurgeTicks:      schedule.PurgeTicks,
			HeartbeatTicks:  schedule.HeartbeatTicks,
			ClockCheckTicks: schedule.ClockCheckTicks,
		},
		Retry: RetryConfig{
			Policy:       RetryLeave,
			InitialDelay: time.Second,
			Multiplier:   2,
			MaxDelay:     time.Minute,
		},
		Collector: CollectorConfig{
			ListenAddress:  "127.0.0.1:8480",
			MaxBufferBytes: 64 << 20,
			FeedBuffer:     64,
		},
	}
}

// Load loads configuration from the file named by EVENTSINK_CONFIG.
// There is no fallback: if the variable is unset, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv("EVENTSINK_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("EVENTSINK_CONFIG environment variable not set; " +
			"set it to the path of your eventsink.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, applies the
// section for the selected environment, and expands ${VAR} patterns in
// address and token fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
// Boolean fields in a present section are always applied.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if o := overrides.Exposure; o != nil {
		setString(&c.Exposure.BaseURL, o.BaseURL)
		setString(&c.Exposure.Encoding, o.Encoding)
		setString(&c.Exposure.Compression, o.Compression)
		setNonZero(&c.Exposure.RequestTimeout, o.RequestTimeout)
	}

	if o := overrides.Scheduler; o != nil {
		setNonZero(&c.Scheduler.Cycle, o.Cycle)
		setNonZero(&c.Scheduler.PurgeTicks, o.PurgeTicks)
		setNonZero(&c.Scheduler.HeartbeatTicks, o.HeartbeatTicks)
		setNonZero(&c.Scheduler.ClockCheckTicks, o.ClockCheckTicks)
	}

	if o := overrides.Retry; o != nil {
		setString(&c.Retry.Policy, o.Policy)
		setNonZero(&c.Retry.InitialDelay, o.InitialDelay)
		setNonZero(&c.Retry.Multiplier, o.Multiplier)
		setNonZero(&c.Retry.MaxDelay, o.MaxDelay)
		c.Retry.Jitter = o.Jitter
		setNonZero(&c.Retry.MaxAttempts, o.MaxAttempts)
		c.Retry.DiscardRejected = o.DiscardRejected
	}

	if o := overrides.Dispatch; o != nil {
		c.Dispatch.RetireEmptyFinished = o.RetireEmptyFinished
	}

	if o := overrides.Collector; o != nil {
		setString(&c.Collector.ListenAddress, o.ListenAddress)
		setString(&c.Collector.Token, o.Token)
		setNonZero(&c.Collector.MaxBufferBytes, o.MaxBufferBytes)
		c.Collector.IncludeDeviceMetrics = o.IncludeDeviceMetrics
		setNonZero(&c.Collector.FeedBuffer, o.FeedBuffer)
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setNonZero[T int | int64 | float64 | time.Duration](target *T, value T) {
	if value != 0 {
		*target = value
	}
}

func (c *Config) expandVariables() {
	c.Exposure.BaseURL = expandVars(c.Exposure.BaseURL)
	c.Collector.ListenAddress = expandVars(c.Collector.ListenAddress)
	c.Collector.Token = expandVars(c.Collector.Token)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	switch {
	case c.Exposure.BaseURL == "":
		errs = append(errs, errors.New("exposure.base_url is required"))
	case c.Environment == Production && !strings.HasPrefix(c.Exposure.BaseURL, "https://"):
		errs = append(errs, fmt.Errorf("exposure.base_url must be https in production (got %q)", c.Exposure.BaseURL))
	case !strings.HasPrefix(c.Exposure.BaseURL, "https://") && !strings.HasPrefix(c.Exposure.BaseURL, "http://"):
		errs = append(errs, fmt.Errorf("exposure.base_url must be http or https (got %q)", c.Exposure.BaseURL))
	}
	if _, err := codec.ParseFormat(c.Exposure.Encoding); err != nil {
		errs = append(errs, fmt.Errorf("exposure.encoding: %w", err))
	}
	if _, err := codec.ParseCompression(c.Exposure.Compression); err != nil {
		errs = append(errs, fmt.Errorf("exposure.compression: %w", err))
	}
	if c.Exposure.RequestTimeout < 0 {
		errs = append(errs, errors.New("exposure.request_timeout must not be negative"))
	}

	if c.Scheduler.Cycle <= 0 {
		errs = append(errs, errors.New("scheduler.cycle must be positive"))
	}
	for _, field := range []struct {
		name  string
		ticks int64
	}{
		{"purge_ticks", c.Scheduler.PurgeTicks},
		{"heartbeat_ticks", c.Scheduler.HeartbeatTicks},
		{"clock_check_ticks", c.Scheduler.ClockCheckTicks},
	} {
		if field.ticks <= 0 {
			errs = append(errs, fmt.Errorf("scheduler.%s must be positive", field.name))
		}
	}

	switch c.Retry.Policy {
	case RetryLeave:
	case RetryBackoff:
		if c.Retry.InitialDelay <= 0 {
			errs = append(errs, errors.New("retry.initial_delay must be positive for backoff"))
		}
		if c.Retry.MaxDelay > 0 && c.Retry.MaxDelay < c.Retry.InitialDelay {
			errs = append(errs, errors.New("retry.max_delay must not be below retry.initial_delay"))
		}
		if c.Retry.MaxAttempts < 0 {
			errs = append(errs, errors.New("retry.max_attempts must not be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("retry.policy must be one of: %v", []string{RetryLeave, RetryBackoff}))
	}

	if c.Collector.ListenAddress == "" {
		errs = append(errs, errors.New("collector.listen_address is required"))
	}
	if c.Collector.MaxBufferBytes <= 0 {
		errs = append(errs, errors.New("collector.max_buffer_bytes must be positive"))
	}
	if c.Environment == Production && c.Collector.Token == "" {
		errs = append(errs, errors.New("collector.token is required in production"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Schedule returns the scheduler section as an analytics.Schedule.
func (c *Config) Schedule() analytics.Schedule {
	return analytics.Schedule{
		Cycle:           c.Scheduler.Cycle,
		PurgeTicks:      c.Scheduler.PurgeTicks,
		HeartbeatTicks:  c.Scheduler.HeartbeatTicks,
		ClockCheckTicks: c.Scheduler.ClockCheckTicks,
	}
}

// RetryPolicy returns the configured retry policy.
func (c *Config) RetryPolicy() analytics.RetryPolicy {
	if c.Retry.Policy != RetryBackoff {
		return analytics.LeaveIntact{}
	}
	backoff := analytics.Backoff{
		InitialDelay: c.Retry.InitialDelay,
		Multiplier:   c.Retry.Multiplier,
		MaxDelay:     c.Retry.MaxDelay,
		Jitter:       c.Retry.Jitter,
		MaxAttempts:  c.Retry.MaxAttempts,
	}
	if c.Retry.DiscardRejected {
		backoff.Permanent = exposure.IsPermanent
	}
	return backoff
}

// ExposureClientConfig returns the client configuration for the sink.
func (c *Config) ExposureClientConfig(auth analytics.AuthProvider, httpClient *http.Client, logger *slog.Logger) (exposure.Config, error) {
	format, err := codec.ParseFormat(c.Exposure.Encoding)
	if err != nil {
		return exposure.Config{}, err
	}
	compression, err := codec.ParseCompression(c.Exposure.Compression)
	if err != nil {
		return exposure.Config{}, err
	}
	return exposure.Config{
		BaseURL:     c.Exposure.BaseURL,
		Auth:        auth,
		Format:      format,
		Compression: compression,
		HTTPClient:  httpClient,
		Logger:      logger,
	}, nil
}

// TrackerOptions returns tracker options carrying the scheduler,
// retry, dispatch, and timeout settings. The caller supplies the
// ports (Auth, TimeSync, Sink, Device), Clock, and Logger.
func (c *Config) TrackerOptions() analytics.Options {
	return analytics.Options{
		Retry:               c.RetryPolicy(),
		Schedule:            c.Schedule(),
		RetireEmptyFinished: c.Dispatch.RetireEmptyFinished,
		RequestTimeout:      c.Exposure.RequestTimeout,
	}
}
