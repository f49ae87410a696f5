package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/audiostream/internal/logger"
	"github.com/tphakala/audiostream/internal/resource"
)

// setDefaultConfig sets default values for every known key. Environment
// overrides only apply to keys that have a default.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("resource.threads", resource.AutoJobThreads)
	v.SetDefault("resource.queuecapacity", resource.DefaultJobQueueCapacity)
	v.SetDefault("resource.nonblocking", false)
	v.SetDefault("resource.pagesize", resource.DefaultPageSize)
	v.SetDefault("resource.format", "native")
	v.SetDefault("resource.channels", 0)
	v.SetDefault("resource.samplerate", 0)
	v.SetDefault("resource.retries", 0)
	v.SetDefault("resource.retrydelay", 100*time.Microsecond)

	v.SetDefault("logging.defaultlevel", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.fileoutput.enabled", logger.DefaultFileEnabled)
	v.SetDefault("logging.fileoutput.path", logger.DefaultLogPath)
	v.SetDefault("logging.fileoutput.level", logger.DefaultLogLevel)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dsn", "")
	v.SetDefault("telemetry.environment", "production")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9090")
}
