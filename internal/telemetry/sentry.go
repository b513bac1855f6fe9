// Package telemetry provides opt-in, privacy-filtered error reporting to Sentry.
package telemetry

import (
	"fmt"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/lampwatch/lampwatch/internal/buildinfo"
	"github.com/lampwatch/lampwatch/internal/conf"
	"github.com/lampwatch/lampwatch/internal/errors"
	"github.com/lampwatch/lampwatch/internal/logger"
)

// Init configures Sentry and installs the enhanced error reporter. It does
// nothing when telemetry is disabled. The transport argument is for tests; nil
// selects the SDK default.
func Init(settings conf.TelemetrySettings, transport sentry.Transport) error {
	log := GetLogger()
	if !settings.Enabled {
		log.Info("telemetry disabled")
		return nil
	}

	env := settings.Environment
	if env == "" {
		env = "production"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      env,
		ServerName:       "",
		Release:          buildinfo.Release(),
		Transport:        transport,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return errors.New(fmt.Errorf("sentry initialization failed: %w", err)).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetTag("go_version", runtime.Version())
	})

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	log.Info("telemetry enabled", logger.String("environment", env))
	return nil
}

// Shutdown detaches the reporter and flushes buffered events.
func Shutdown(timeout time.Duration) {
	if errors.GetTelemetryReporter() == nil {
		return
	}
	errors.SetTelemetryReporter(nil)
	if !sentry.Flush(timeout) {
		GetLogger().Warn("telemetry flush timed out", logger.Duration("timeout", timeout))
	}
}

// applyPrivacyFilters drops host identifying data from an event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Request = nil

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

// GetLogger returns the telemetry module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}
