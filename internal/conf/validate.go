// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Supported ledger drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, err := range []error{
		validateWebServerSettings(&settings.WebServer),
		validateStorageSettings(&settings.Storage),
		validateDatabaseSettings(&settings.Database),
		validateDetectorSettings(&settings.Detector),
		validateMQTTSettings(&settings.MQTT),
		validateListenerSettings(&settings.Listener),
		validateTelemetrySettings(&settings.Telemetry),
	} {
		if err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateWebServerSettings(s *WebServerSettings) error {
	port, err := strconv.Atoi(s.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("webserver.port must be between 1 and 65535, got %q", s.Port)
	}
	if s.FetchTimeout <= 0 {
		return fmt.Errorf("webserver.fetch_timeout must be positive")
	}
	return nil
}

func validateStorageSettings(s *StorageSettings) error {
	if strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("storage.path must not be empty")
	}
	return nil
}

func validateDatabaseSettings(s *DatabaseSettings) error {
	s.Driver = strings.ToLower(s.Driver)
	switch s.Driver {
	case DriverSQLite:
		if s.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case DriverMySQL, DriverPostgres:
		if s.Host == "" || s.Name == "" {
			return fmt.Errorf("database.host and database.name are required for %s", s.Driver)
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", s.Driver)
	}
	return nil
}

func validateDetectorSettings(s *DetectorSettings) error {
	var errs []string
	if s.WinStride.X <= 0 || s.WinStride.Y <= 0 {
		errs = append(errs, "detector.win_stride must be positive")
	}
	if s.Padding.X < 0 || s.Padding.Y < 0 {
		errs = append(errs, "detector.padding must not be negative")
	}
	if s.Scale <= 1.0 {
		errs = append(errs, "detector.scale must be greater than 1.0")
	}
	if s.FinalThreshold < 0 {
		errs = append(errs, "detector.final_threshold must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, ", "))
	}
	return nil
}

func validateMQTTSettings(s *MQTTSettings) error {
	if !s.Enabled {
		return nil
	}
	if s.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if s.LampTopic == "" {
		return fmt.Errorf("mqtt.lamp_topic must not be empty")
	}
	if s.PublishTimeout <= 0 || s.ConnectTimeout <= 0 {
		return fmt.Errorf("mqtt timeouts must be positive")
	}
	return nil
}

func validateListenerSettings(s *ListenerSettings) error {
	if s.Cooldown < 0 {
		return fmt.Errorf("listener.cooldown must not be negative")
	}
	for key, raw := range map[string]string{
		"listener.camera_url":   s.CameraURL,
		"listener.detector_url": s.DetectorURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
		}
	}
	return nil
}

func validateTelemetrySettings(s *TelemetrySettings) error {
	if s.Enabled && s.DSN == "" {
		return fmt.Errorf("telemetry.dsn is required when telemetry is enabled")
	}
	return nil
}
