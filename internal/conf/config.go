// config.go: settings struct for lampwatch and the functions that load it.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/lampwatch/lampwatch/internal/logger"
	"github.com/lampwatch/lampwatch/internal/secrets"
)

//go:embed config.yaml
var configFiles embed.FS

// MainSettings holds process identity.
type MainSettings struct {
	Name string `yaml:"name" mapstructure:"name"` // service name reported by /health
}

// WebServerSettings configures the HTTP ingest API.
type WebServerSettings struct {
	Port         string        `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	BodyLimit    string        `yaml:"body_limit" mapstructure:"body_limit"` // echo body limit, e.g. "16M"
	// CORS and websocket origins; empty allows any
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout"` // remote image fetch for /detect/url
}

// StorageSettings configures where captured images are written.
type StorageSettings struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// DatabaseSettings selects and configures the ledger backend.
type DatabaseSettings struct {
	Driver             string        `yaml:"driver" mapstructure:"driver"` // sqlite, mysql or postgres
	Path               string        `yaml:"path" mapstructure:"path"`     // sqlite file
	Host               string        `yaml:"host" mapstructure:"host"`
	Port               int           `yaml:"port" mapstructure:"port"`
	Username           string        `yaml:"username" mapstructure:"username"`
	Password           string        `yaml:"password" mapstructure:"password"` // may reference ${VAR}
	PasswordFile       string        `yaml:"password_file" mapstructure:"password_file"`
	Name               string        `yaml:"name" mapstructure:"name"`
	SSLMode            string        `yaml:"ssl_mode" mapstructure:"ssl_mode"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold" mapstructure:"slow_query_threshold"`
}

// Point is an x/y pair used for HOG window stride and padding.
type Point struct {
	X int `yaml:"x" mapstructure:"x"`
	Y int `yaml:"y" mapstructure:"y"`
}

// DetectorSettings are the HOG multi-scale detection parameters.
type DetectorSettings struct {
	WinStride         Point   `yaml:"win_stride" mapstructure:"win_stride"`
	Padding           Point   `yaml:"padding" mapstructure:"padding"`
	Scale             float64 `yaml:"scale" mapstructure:"scale"`
	HitThreshold      float64 `yaml:"hit_threshold" mapstructure:"hit_threshold"`
	FinalThreshold    float64 `yaml:"final_threshold" mapstructure:"final_threshold"`
	MeanshiftGrouping bool    `yaml:"meanshift_grouping" mapstructure:"meanshift_grouping"`
}

// MQTTSettings configures the actuation channel.
type MQTTSettings struct {
	Enabled           bool          `yaml:"enabled" mapstructure:"enabled"`
	Broker            string        `yaml:"broker" mapstructure:"broker"`
	ClientID          string        `yaml:"client_id" mapstructure:"client_id"`
	Username          string        `yaml:"username" mapstructure:"username"`
	Password          string        `yaml:"password" mapstructure:"password"`
	PasswordFile      string        `yaml:"password_file" mapstructure:"password_file"`
	LampTopic         string        `yaml:"lamp_topic" mapstructure:"lamp_topic"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	PublishTimeout    time.Duration `yaml:"publish_timeout" mapstructure:"publish_timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval" mapstructure:"reconnect_interval"`
}

// ListenerSettings configures the motion listener.
type ListenerSettings struct {
	ClientID        string        `yaml:"client_id" mapstructure:"client_id"`
	MotionTopic     string        `yaml:"motion_topic" mapstructure:"motion_topic"`
	CameraURL       string        `yaml:"camera_url" mapstructure:"camera_url"`
	DetectorURL     string        `yaml:"detector_url" mapstructure:"detector_url"`
	CameraTimeout   time.Duration `yaml:"camera_timeout" mapstructure:"camera_timeout"`
	DetectorTimeout time.Duration `yaml:"detector_timeout" mapstructure:"detector_timeout"`
	Cooldown        time.Duration `yaml:"cooldown" mapstructure:"cooldown"` // 0 disables rate limiting
}

// NotificationSettings configures shoutrrr push notifications.
type NotificationSettings struct {
	URLs    []string      `yaml:"urls" mapstructure:"urls"`
	Title   string        `yaml:"title" mapstructure:"title"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// TelemetrySettings configures optional Sentry error reporting.
type TelemetrySettings struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	Environment string `yaml:"environment" mapstructure:"environment"`
}

// Settings contains all configuration options for lampwatch.
type Settings struct {
	Debug        bool                 `yaml:"debug" mapstructure:"debug"`
	Main         MainSettings         `yaml:"main" mapstructure:"main"`
	WebServer    WebServerSettings    `yaml:"webserver" mapstructure:"webserver"`
	Storage      StorageSettings      `yaml:"storage" mapstructure:"storage"`
	Database     DatabaseSettings     `yaml:"database" mapstructure:"database"`
	Detector     DetectorSettings     `yaml:"detector" mapstructure:"detector"`
	MQTT         MQTTSettings         `yaml:"mqtt" mapstructure:"mqtt"`
	Listener     ListenerSettings     `yaml:"listener" mapstructure:"listener"`
	Notification NotificationSettings `yaml:"notification" mapstructure:"notification"`
	Telemetry    TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`
	Logging      logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file, .env and LAMPWATCH_* environment variables.
func Load() (*Settings, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file; an empty path searches the
// default locations and writes the embedded default config when none exists.
func LoadFrom(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, err
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// resolveSecrets replaces passwords with the content of their *_file
// counterpart or the expansion of their ${VAR} references.
func resolveSecrets(settings *Settings) error {
	pw, err := secrets.Resolve(settings.Database.PasswordFile, settings.Database.Password)
	if err != nil {
		return fmt.Errorf("database password: %w", err)
	}
	settings.Database.Password = pw

	pw, err = secrets.Resolve(settings.MQTT.PasswordFile, settings.MQTT.Password)
	if err != nil {
		return fmt.Errorf("mqtt password: %w", err)
	}
	settings.MQTT.Password = pw
	return nil
}

// initViper sets defaults, environment bindings and reads the configuration file.
func initViper(configFile string) error {
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		return err
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	err = viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig(configPaths)
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the embedded config.yaml to the user config directory.
func createDefaultConfig(configPaths []string) error {
	// configPaths[0] is the working directory, prefer the per-user location
	target := configPaths[0]
	if len(configPaths) > 1 {
		target = configPaths[1]
	}
	configPath := filepath.Join(target, "config.yaml")

	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

// GetSettings returns the most recently loaded settings
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath through a temp file and rename.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("error writing temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("error closing temporary file: %w", err)
	}
	if err := os.Rename(tmpName, configPath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
