// Package telemetry connects the error package to Sentry. Reporting is
// opt-in and events are stripped of host and user data before sending.
package telemetry

import (
	"fmt"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/audiostream/internal/conf"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
)

// flushTimeout bounds how long Flush waits for queued events.
const flushTimeout = 2 * time.Second

// InitSentry initializes Sentry and installs the error reporter. It does
// nothing when telemetry is disabled.
func InitSentry(settings *conf.TelemetrySettings, release string) error {
	return initSentry(settings, release, nil)
}

// initSentry is InitSentry with a replaceable transport.
func initSentry(settings *conf.TelemetrySettings, release string, transport sentry.Transport) error {
	log := logger.Global().Module("telemetry")
	if !settings.Enabled {
		log.Debug("telemetry is disabled (opt-in required)")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      settings.Environment,
		ServerName:       "",
		Release:          fmt.Sprintf("audiostream@%s", release),
		Transport:        transport,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetContext("application", map[string]any{
			"name":       "audiostream",
			"version":    release,
			"go_version": runtime.Version(),
			"num_cpu":    runtime.NumCPU(),
		})
	})

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	log.Info("telemetry initialized", logger.String("environment", settings.Environment))
	return nil
}

// Flush waits for queued events to be sent.
func Flush() bool {
	return sentry.Flush(flushTimeout)
}

// applyPrivacyFilters applies privacy filters to a Sentry event
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}
