package conf

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/decoder"
	"github.com/tphakala/audiostream/internal/resource"
)

func TestLoadDefaults(t *testing.T) {
	settings, err := LoadFS(afero.NewMemMapFs(), "")
	require.NoError(t, err)

	assert.Equal(t, resource.AutoJobThreads, settings.Resource.Threads)
	assert.Equal(t, uint32(resource.DefaultJobQueueCapacity), settings.Resource.QueueCapacity)
	assert.Equal(t, time.Second, settings.Resource.PageSize)
	assert.Equal(t, "native", settings.Resource.Format)
	assert.False(t, settings.Metrics.Enabled)
	require.NotNil(t, settings.Logging.Console)
	assert.True(t, settings.Logging.Console.Enabled)
}

func TestLoadConfigFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/audiostream/config.yaml", []byte(`
resource:
  threads: 2
  pagesize: 250ms
  format: s16
  samplerate: 48000
metrics:
  enabled: true
  listen: "127.0.0.1:9999"
`), 0o644))

	settings, err := LoadFS(fs, "/etc/audiostream/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 2, settings.Resource.Threads)
	assert.Equal(t, 250*time.Millisecond, settings.Resource.PageSize)
	assert.Equal(t, "127.0.0.1:9999", settings.Metrics.Listen)

	cfg, err := settings.ResourceConfig()
	require.NoError(t, err)
	assert.Equal(t, decoder.FormatS16, cfg.DecodedFormat)
	assert.Equal(t, uint32(48000), cfg.DecodedSampleRate)
	assert.Equal(t, 2, cfg.JobThreadCount)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadFS(afero.NewMemMapFs(), "/nope.yaml")
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AUDIOSTREAM_RESOURCE_THREADS", "3")
	t.Setenv("AUDIOSTREAM_RESOURCE_NONBLOCKING", "true")

	settings, err := LoadFS(afero.NewMemMapFs(), "")
	require.NoError(t, err)
	assert.Equal(t, 3, settings.Resource.Threads)
	assert.True(t, settings.Resource.NonBlocking)
}

func TestEnvBindingNames(t *testing.T) {
	assert.Equal(t, "AUDIOSTREAM_RESOURCE_PAGESIZE", envBinding{ConfigKey: "resource.pagesize"}.EnvVar())
}

func TestValidateSettings(t *testing.T) {
	valid := func() *Settings {
		s, err := LoadFS(afero.NewMemMapFs(), "")
		require.NoError(t, err)
		return s
	}

	tests := []struct {
		name   string
		modify func(*Settings)
		want   string
	}{
		{"threads too high", func(s *Settings) { s.Resource.Threads = resource.MaxJobThreads + 1 }, "resource.threads"},
		{"zero capacity", func(s *Settings) { s.Resource.QueueCapacity = 0 }, "resource.queuecapacity"},
		{"page too long", func(s *Settings) { s.Resource.PageSize = 2 * time.Minute }, "resource.pagesize"},
		{"unknown format", func(s *Settings) { s.Resource.Format = "s12" }, "resource.format"},
		{"telemetry without dsn", func(s *Settings) { s.Telemetry.Enabled = true }, "telemetry.dsn"},
		{"bad listen", func(s *Settings) { s.Metrics.Enabled = true; s.Metrics.Listen = "nowhere" }, "metrics.listen"},
		{"bad level", func(s *Settings) { s.Logging.DefaultLevel = "loud" }, "loud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.modify(s)
			err := ValidateSettings(s)
			require.Error(t, err)
			var ve ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSettingsYAML(t *testing.T) {
	settings, err := LoadFS(afero.NewMemMapFs(), "")
	require.NoError(t, err)

	out, err := settings.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "pagesize: 1s")
	assert.Contains(t, string(out), "queuecapacity: 1024")
}
