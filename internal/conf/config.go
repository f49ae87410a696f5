// Package conf provides configuration management for audiostream.
package conf

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/audiostream/internal/decoder"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
	"github.com/tphakala/audiostream/internal/resource"
)

// EnvPrefix prefixes environment overrides, AUDIOSTREAM_RESOURCE_THREADS
// sets resource.threads.
const EnvPrefix = "AUDIOSTREAM"

// Settings contains all configuration options for audiostream.
type Settings struct {
	Debug     bool                 `yaml:"debug" mapstructure:"debug"`
	Resource  ResourceSettings     `yaml:"resource" mapstructure:"resource"`
	Logging   logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Telemetry TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`
	Metrics   MetricsSettings      `yaml:"metrics" mapstructure:"metrics"`
}

// ResourceSettings configures the resource manager.
type ResourceSettings struct {
	Threads       int           `yaml:"threads" mapstructure:"threads"`             // -1 one per physical core, 0 caller pumps jobs
	QueueCapacity uint32        `yaml:"queuecapacity" mapstructure:"queuecapacity"` // job slots
	NonBlocking   bool          `yaml:"nonblocking" mapstructure:"nonblocking"`     // ProcessNextJob never waits
	PageSize      time.Duration `yaml:"pagesize" mapstructure:"pagesize"`           // audio decoded per page job
	Format        string        `yaml:"format" mapstructure:"format"`               // native, u8, s16, s24, s32, f32
	Channels      uint32        `yaml:"channels" mapstructure:"channels"`           // 0 keeps the file's
	SampleRate    uint32        `yaml:"samplerate" mapstructure:"samplerate"`       // 0 keeps the file's
	Retries       int           `yaml:"retries" mapstructure:"retries"`             // reposts of a refused teardown job, 0 forever
	RetryDelay    time.Duration `yaml:"retrydelay" mapstructure:"retrydelay"`       // first backoff between them
}

// TelemetrySettings configures Sentry error reporting.
type TelemetrySettings struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	Environment string `yaml:"environment" mapstructure:"environment"`
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// Load reads settings from defaults, an optional config file and the
// environment, in increasing precedence. An empty path skips the file.
func Load(path string) (*Settings, error) {
	return LoadFS(afero.NewOsFs(), path)
}

// LoadFS is Load reading the config file from fs.
func LoadFS(fs afero.Fs, path string) (*Settings, error) {
	v := viper.New()
	v.SetFs(fs)
	setDefaultConfig(v)

	if err := bindEnvVars(v); err != nil {
		GetLogger().Warn("environment overrides ignored", logger.Error(err))
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.New(fmt.Errorf("error reading config file: %w", err)).
				Component("conf").
				Category(errors.CategoryConfiguration).
				FileContext(path, 0).
				Build()
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// ResourceConfig maps the settings onto a resource manager configuration.
// The returned config has no logger or metrics recorder.
func (s *Settings) ResourceConfig() (resource.Config, error) {
	format, err := decoder.ParseFormat(s.Resource.Format)
	if err != nil {
		return resource.Config{}, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("key", "resource.format").
			Build()
	}

	cfg := resource.DefaultConfig()
	cfg.DecodedFormat = format
	cfg.DecodedChannels = s.Resource.Channels
	cfg.DecodedSampleRate = s.Resource.SampleRate
	cfg.JobThreadCount = s.Resource.Threads
	cfg.JobQueueCapacity = s.Resource.QueueCapacity
	cfg.NonBlocking = s.Resource.NonBlocking
	cfg.PageSize = s.Resource.PageSize
	cfg.Retry.MaxRetries = s.Resource.Retries
	if s.Resource.RetryDelay > 0 {
		cfg.Retry.InitialDelay = s.Resource.RetryDelay
	}
	return cfg, nil
}

// YAML renders the effective settings.
func (s *Settings) YAML() ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("error marshaling settings to YAML: %w", err)
	}
	return data, nil
}
