package app

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment variable read by EnvDefaults.
const EnvPrefix = "framegraph"

// DefaultPublishInterval is used when a publish URL is set without an
// interval.
const DefaultPublishInterval = time.Second

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	PipelinePath string // hcl file or directory

	LogFormat string
	LogLevel  string

	// HTTPPort enables the introspection server when positive.
	HTTPPort  int
	Workers   int
	PoolLimit int64
	Profiling bool
	FailFast  bool

	PublishURL      string
	PublishInterval time.Duration

	// ExitOnIdle stops the run once no node is queued or running.
	ExitOnIdle bool

	// WorkersSet and FailFastSet record an explicit command-line choice,
	// which takes precedence over the pipeline's scheduler block.
	WorkersSet  bool
	FailFastSet bool
}

// envDefaults mirrors the Config fields that may come from the environment.
type envDefaults struct {
	Workers    int    `envconfig:"WORKERS" default:"0"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat  string `envconfig:"LOG_FORMAT" default:"text"`
	HTTPPort   int    `envconfig:"HTTP_PORT" default:"0"`
	PoolLimit  int64  `envconfig:"POOL_LIMIT" default:"0"`
	Profiling  bool   `envconfig:"PROFILING" default:"false"`
	FailFast   bool   `envconfig:"FAIL_FAST" default:"false"`
	PublishURL string `envconfig:"PUBLISH_URL"`
}

// EnvDefaults returns the defaults for command-line flags, read from
// FRAMEGRAPH_* environment variables.
func EnvDefaults() (Config, error) {
	var env envDefaults
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return Config{
		LogFormat:       env.LogFormat,
		LogLevel:        env.LogLevel,
		HTTPPort:        env.HTTPPort,
		Workers:         env.Workers,
		PoolLimit:       env.PoolLimit,
		Profiling:       env.Profiling,
		FailFast:        env.FailFast,
		PublishURL:      env.PublishURL,
		PublishInterval: DefaultPublishInterval,
	}, nil
}

// NewConfig validates cfg and fills in derived defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.PipelinePath == "" {
		return nil, errors.New("PipelinePath is a required configuration field and cannot be empty")
	}

	switch cfg.LogFormat {
	case "":
		cfg.LogFormat = "text"
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid log format '%s': must be 'text' or 'json'", cfg.LogFormat)
	}

	switch cfg.LogLevel {
	case "":
		cfg.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log level '%s': must be 'debug', 'info', 'warn', or 'error'", cfg.LogLevel)
	}

	if cfg.Workers < 0 {
		return nil, fmt.Errorf("invalid worker count %d: must not be negative", cfg.Workers)
	}
	if cfg.HTTPPort < 0 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid HTTP port %d", cfg.HTTPPort)
	}
	if cfg.PoolLimit < 0 {
		return nil, fmt.Errorf("invalid pool limit %d: must not be negative", cfg.PoolLimit)
	}

	if cfg.PublishURL != "" {
		u, err := url.Parse(cfg.PublishURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid publish URL '%s'", cfg.PublishURL)
		}
	}
	if cfg.PublishInterval < 0 {
		return nil, fmt.Errorf("invalid publish interval %s", cfg.PublishInterval)
	}
	if cfg.PublishInterval == 0 {
		cfg.PublishInterval = DefaultPublishInterval
	}

	return &cfg, nil
}
