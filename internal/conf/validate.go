package conf

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/tphakala/audiostream/internal/decoder"
	"github.com/tphakala/audiostream/internal/resource"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateResourceSettings(&settings.Resource); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateLoggingSettings(settings); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if settings.Telemetry.Enabled && settings.Telemetry.DSN == "" {
		ve.Errors = append(ve.Errors, "telemetry.dsn is required when telemetry is enabled")
	}
	if settings.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(settings.Metrics.Listen); err != nil {
			ve.Errors = append(ve.Errors, fmt.Sprintf("metrics.listen %q is not host:port", settings.Metrics.Listen))
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateThreads(n int) error {
	if n < resource.AutoJobThreads || n > resource.MaxJobThreads {
		return fmt.Errorf("must be between %d and %d", resource.AutoJobThreads, resource.MaxJobThreads)
	}
	return nil
}

func validateResourceSettings(s *ResourceSettings) error {
	var errs []string

	if err := validateThreads(s.Threads); err != nil {
		errs = append(errs, "resource.threads "+err.Error())
	}
	if s.QueueCapacity == 0 {
		errs = append(errs, "resource.queuecapacity must be positive")
	}
	if s.PageSize <= 0 || s.PageSize > time.Minute {
		errs = append(errs, fmt.Sprintf("resource.pagesize %s must be in (0, 1m]", s.PageSize))
	}
	if _, err := decoder.ParseFormat(s.Format); err != nil {
		errs = append(errs, "resource.format: "+err.Error())
	}
	if s.Retries < 0 {
		errs = append(errs, "resource.retries must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, ", "))
	}
	return nil
}

func validateLoggingSettings(s *Settings) error {
	levels := []string{s.Logging.DefaultLevel}
	if s.Logging.Console != nil {
		levels = append(levels, s.Logging.Console.Level)
	}
	if s.Logging.FileOutput != nil {
		levels = append(levels, s.Logging.FileOutput.Level)
		if s.Logging.FileOutput.Enabled && s.Logging.FileOutput.Path == "" {
			return fmt.Errorf("logging.fileoutput.path is required when file output is enabled")
		}
	}
	for _, level := range levels {
		switch strings.ToLower(level) {
		case "", "trace", "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("unknown log level %q", level)
		}
	}
	return nil
}
