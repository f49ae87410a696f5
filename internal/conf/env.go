package conf

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/audiostream/internal/decoder"
)

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string             // Viper config key
	Validate  func(string) error // Optional validation function
}

// EnvVar returns the environment variable that overrides the key.
func (b envBinding) EnvVar() string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(b.ConfigKey, ".", "_"))
}

// getEnvBindings returns the environment variable bindings that are validated
// eagerly. Every other key with a default can still be overridden.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", validateEnvBool},
		{"resource.threads", validateEnvThreads},
		{"resource.queuecapacity", validateEnvUint},
		{"resource.nonblocking", validateEnvBool},
		{"resource.pagesize", validateEnvDuration},
		{"resource.format", validateEnvFormat},
		{"resource.channels", validateEnvUint},
		{"resource.samplerate", validateEnvUint},
		{"logging.defaultlevel", nil},
		{"telemetry.enabled", validateEnvBool},
		{"telemetry.dsn", nil},
		{"metrics.enabled", validateEnvBool},
		{"metrics.listen", validateEnvListen},
	}
}

// bindEnvVars enables AUDIOSTREAM_ overrides and reports invalid values.
// An invalid value is still bound; ValidateSettings rejects it later.
func bindEnvVars(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var warnings []string
	for _, binding := range getEnvBindings() {
		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar()); value != "" {
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar(), value, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvUint(value string) error {
	if _, err := strconv.ParseUint(value, 10, 32); err != nil {
		return fmt.Errorf("must be a non-negative integer")
	}
	return nil
}

func validateEnvThreads(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be an integer")
	}
	return validateThreads(n)
}

func validateEnvDuration(value string) error {
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("must be a duration such as 500ms or 1s")
	}
	return nil
}

func validateEnvFormat(value string) error {
	_, err := decoder.ParseFormat(value)
	return err
}

func validateEnvListen(value string) error {
	if _, _, err := net.SplitHostPort(value); err != nil {
		return fmt.Errorf("must be host:port")
	}
	return nil
}
