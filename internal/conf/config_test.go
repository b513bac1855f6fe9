package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	settings, err := LoadFrom(writeConfig(t, "debug: false\n"))
	require.NoError(t, err)

	assert.Equal(t, "5000", settings.WebServer.Port)
	assert.Equal(t, 10*time.Second, settings.WebServer.FetchTimeout)
	assert.Equal(t, "foto-investigation", settings.Storage.Path)
	assert.Equal(t, DriverSQLite, settings.Database.Driver)
	assert.Equal(t, "detection_history.db", settings.Database.Path)

	assert.Equal(t, Point{X: 4, Y: 4}, settings.Detector.WinStride)
	assert.Equal(t, Point{X: 8, Y: 8}, settings.Detector.Padding)
	assert.InDelta(t, 1.05, settings.Detector.Scale, 1e-9)
	assert.InDelta(t, -0.2, settings.Detector.HitThreshold, 1e-9)
	assert.InDelta(t, 2.0, settings.Detector.FinalThreshold, 1e-9)
	assert.False(t, settings.Detector.MeanshiftGrouping)

	assert.Equal(t, "lamp", settings.MQTT.LampTopic)
	assert.Equal(t, "camera/motion/status", settings.Listener.MotionTopic)
	assert.Equal(t, 10*time.Second, settings.Listener.CameraTimeout)
	assert.Equal(t, 30*time.Second, settings.Listener.DetectorTimeout)
	assert.Zero(t, settings.Listener.Cooldown)
	assert.Empty(t, settings.Notification.URLs)

	assert.Same(t, settings, GetSettings())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := writeConfig(t, `
detector:
  scale: 1.2
  win_stride: {x: 8, y: 8}
mqtt:
  broker: tcp://broker.lan:1883
  publish_timeout: 2s
listener:
  cooldown: 15s
notification:
  urls: ["ntfy://ntfy.sh/lamp"]
logging:
  module_levels:
    datastore: trace
`)
	settings, err := LoadFrom(path)
	require.NoError(t, err)

	assert.InDelta(t, 1.2, settings.Detector.Scale, 1e-9)
	assert.Equal(t, Point{X: 8, Y: 8}, settings.Detector.WinStride)
	assert.Equal(t, "tcp://broker.lan:1883", settings.MQTT.Broker)
	assert.Equal(t, 2*time.Second, settings.MQTT.PublishTimeout)
	assert.Equal(t, 15*time.Second, settings.Listener.Cooldown)
	assert.Equal(t, []string{"ntfy://ntfy.sh/lamp"}, settings.Notification.URLs)
	assert.Equal(t, "trace", settings.Logging.ModuleLevels["datastore"])
}

func TestEnvironmentOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("LAMPWATCH_MQTT_BROKER", "tcp://env-broker:1883")
	t.Setenv("LAMPWATCH_STORAGE_PATH", "/tmp/captures")
	t.Setenv("LAMPWATCH_DETECTOR_HIT_THRESHOLD", "0.5")

	settings, err := LoadFrom(writeConfig(t, "mqtt:\n  broker: tcp://file-broker:1883\n"))
	require.NoError(t, err)

	assert.Equal(t, "tcp://env-broker:1883", settings.MQTT.Broker)
	assert.Equal(t, "/tmp/captures", settings.Storage.Path)
	assert.InDelta(t, 0.5, settings.Detector.HitThreshold, 1e-9)
}

func TestInvalidEnvironmentValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("LAMPWATCH_DATABASE_DRIVER", "oracle")
	_, err := LoadFrom(writeConfig(t, "debug: false\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LAMPWATCH_DATABASE_DRIVER")
}

func TestPasswordsResolveSecrets(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("LAMPWATCH_TEST_MQTT_PW", "from-env")
	pwFile := filepath.Join(t.TempDir(), "db_password")
	require.NoError(t, os.WriteFile(pwFile, []byte("from-file\n"), 0o600))

	settings, err := LoadFrom(writeConfig(t,
		"mqtt:\n  password: \"${LAMPWATCH_TEST_MQTT_PW}\"\n"+
			"database:\n  password: ignored\n  password_file: "+pwFile+"\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", settings.MQTT.Password)
	assert.Equal(t, "from-file", settings.Database.Password)
}

func TestMissingSecretFails(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	_, err := LoadFrom(writeConfig(t, "mqtt:\n  password_file: /nonexistent/mqtt_password\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mqtt password")
}

func TestValidateSettings(t *testing.T) {
	valid := func() *Settings {
		return &Settings{
			WebServer: WebServerSettings{Port: "5000", FetchTimeout: 10 * time.Second},
			Storage:   StorageSettings{Path: "images"},
			Database:  DatabaseSettings{Driver: "SQLite", Path: "test.db"},
			Detector: DetectorSettings{
				WinStride: Point{4, 4}, Padding: Point{8, 8},
				Scale: 1.05, HitThreshold: -0.2, FinalThreshold: 2,
			},
			MQTT: MQTTSettings{
				Enabled: true, Broker: "tcp://localhost:1883", LampTopic: "lamp",
				ConnectTimeout: time.Second, PublishTimeout: time.Second,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"bad port", func(s *Settings) { s.WebServer.Port = "99999" }, "webserver.port"},
		{"empty storage", func(s *Settings) { s.Storage.Path = " " }, "storage.path"},
		{"unknown driver", func(s *Settings) { s.Database.Driver = "oracle" }, "not supported"},
		{"mysql needs host", func(s *Settings) { s.Database = DatabaseSettings{Driver: "mysql"} }, "database.host"},
		{"scale at one", func(s *Settings) { s.Detector.Scale = 1.0 }, "detector.scale"},
		{"zero stride", func(s *Settings) { s.Detector.WinStride = Point{} }, "win_stride"},
		{"mqtt without broker", func(s *Settings) { s.MQTT.Broker = "" }, "mqtt.broker"},
		{"mqtt disabled skips checks", func(s *Settings) { s.MQTT = MQTTSettings{} }, ""},
		{"relative camera url", func(s *Settings) { s.Listener.CameraURL = "camera/capture" }, "listener.camera_url"},
		{"negative cooldown", func(s *Settings) { s.Listener.Cooldown = -time.Second }, "cooldown"},
		{"telemetry without dsn", func(s *Settings) { s.Telemetry.Enabled = true }, "telemetry.dsn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateNormalizesDriver(t *testing.T) {
	s := &DatabaseSettings{Driver: "SQLite", Path: "x.db"}
	require.NoError(t, validateDatabaseSettings(s))
	assert.Equal(t, DriverSQLite, s.Driver)
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "config.yaml")
	in := &Settings{
		WebServer: WebServerSettings{Port: "8080", FetchTimeout: 3 * time.Second},
		Storage:   StorageSettings{Path: "imgs"},
		Database:  DatabaseSettings{Driver: DriverSQLite, Path: "x.db"},
		Detector:  DetectorSettings{WinStride: Point{4, 4}, Scale: 1.1},
		MQTT:      MQTTSettings{Enabled: false},
	}
	require.NoError(t, SaveYAMLConfig(path, in))

	out, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "8080", out.WebServer.Port)
	assert.Equal(t, 3*time.Second, out.WebServer.FetchTimeout)
	assert.Equal(t, "imgs", out.Storage.Path)
	assert.False(t, out.MQTT.Enabled)
}
