// env.go - environment variable configuration and validation
package conf

import (
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/lampwatch/lampwatch/internal/errors"
)

// EnvPrefix is prepended to every environment override, e.g. LAMPWATCH_MQTT_BROKER.
const EnvPrefix = "LAMPWATCH"

// envBinding holds metadata for explicitly validated environment variables
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"mqtt.broker", "LAMPWATCH_MQTT_BROKER", validateEnvURL},
		{"mqtt.enabled", "LAMPWATCH_MQTT_ENABLED", validateEnvBool},
		{"listener.camera_url", "LAMPWATCH_LISTENER_CAMERA_URL", validateEnvURL},
		{"listener.detector_url", "LAMPWATCH_LISTENER_DETECTOR_URL", validateEnvURL},
		{"listener.cooldown", "LAMPWATCH_LISTENER_COOLDOWN", validateEnvDuration},
		{"detector.scale", "LAMPWATCH_DETECTOR_SCALE", validateEnvFloat},
		{"detector.hit_threshold", "LAMPWATCH_DETECTOR_HIT_THRESHOLD", validateEnvFloat},
		{"database.driver", "LAMPWATCH_DATABASE_DRIVER", validateEnvDriver},
		{"telemetry.enabled", "LAMPWATCH_TELEMETRY_ENABLED", validateEnvBool},
	}
}

// loadDotEnv reads .env from the working directory. A missing file is not an error
// and variables already present in the environment win.
func loadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return errors.New(err).
		Component("conf").
		Category(errors.CategoryConfiguration).
		Context("operation", "load_dotenv").
		Build()
}

// bindEnvVars binds the validated variables and reports every invalid value at once.
func bindEnvVars() error {
	var warnings []string

	for _, b := range getEnvBindings() {
		if err := viper.BindEnv(b.ConfigKey, b.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", b.EnvVar, err))
			continue
		}
		if b.Validate == nil {
			continue
		}
		if v := os.Getenv(b.EnvVar); v != "" {
			if err := b.Validate(v); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", b.EnvVar, v, err))
			}
		}
	}

	if len(warnings) > 0 {
		return errors.Newf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - ")).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// configureEnvironmentVariables enables LAMPWATCH_* overrides for every config key
func configureEnvironmentVariables() error {
	if err := loadDotEnv(); err != nil {
		return err
	}
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	return bindEnvVars()
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvFloat(value string) error {
	if _, err := strconv.ParseFloat(value, 64); err != nil {
		return fmt.Errorf("must be a number")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("must be a duration such as 30s")
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL with scheme and host")
	}
	return nil
}

func validateEnvDriver(value string) error {
	switch strings.ToLower(value) {
	case DriverSQLite, DriverMySQL, DriverPostgres:
		return nil
	default:
		return fmt.Errorf("must be one of %s, %s, %s", DriverSQLite, DriverMySQL, DriverPostgres)
	}
}
