// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "Human Detection API (OpenCV)")

	viper.SetDefault("webserver.port", "5000")
	viper.SetDefault("webserver.read_timeout", 30*time.Second)
	viper.SetDefault("webserver.write_timeout", 60*time.Second)
	viper.SetDefault("webserver.body_limit", "16M")
	viper.SetDefault("webserver.fetch_timeout", 10*time.Second)
	viper.SetDefault("webserver.allowed_origins", []string{"*"})

	viper.SetDefault("storage.path", "foto-investigation")

	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.path", "detection_history.db")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)
	viper.SetDefault("database.username", "")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.password_file", "")
	viper.SetDefault("database.name", "lampwatch")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.slow_query_threshold", 200*time.Millisecond)

	viper.SetDefault("detector.win_stride.x", 4)
	viper.SetDefault("detector.win_stride.y", 4)
	viper.SetDefault("detector.padding.x", 8)
	viper.SetDefault("detector.padding.y", 8)
	viper.SetDefault("detector.scale", 1.05)
	viper.SetDefault("detector.hit_threshold", -0.2)
	viper.SetDefault("detector.final_threshold", 2.0)
	viper.SetDefault("detector.meanshift_grouping", false)

	viper.SetDefault("mqtt.enabled", true)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.client_id", "lampwatch")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.password_file", "")
	viper.SetDefault("mqtt.lamp_topic", "lamp")
	viper.SetDefault("mqtt.connect_timeout", 5*time.Second)
	viper.SetDefault("mqtt.publish_timeout", 5*time.Second)
	viper.SetDefault("mqtt.reconnect_interval", 30*time.Second)

	viper.SetDefault("listener.client_id", "lampwatch-listener")
	viper.SetDefault("listener.motion_topic", "camera/motion/status")
	viper.SetDefault("listener.camera_url", "http://192.168.1.100/capture")
	viper.SetDefault("listener.detector_url", "http://127.0.0.1:5000/detect/upload")
	viper.SetDefault("listener.camera_timeout", 10*time.Second)
	viper.SetDefault("listener.detector_timeout", 30*time.Second)
	viper.SetDefault("listener.cooldown", time.Duration(0))

	viper.SetDefault("notification.urls", []string{})
	viper.SetDefault("notification.title", "Human detected")
	viper.SetDefault("notification.timeout", 10*time.Second)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.dsn", "")
	viper.SetDefault("telemetry.environment", "production")

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/lampwatch.log")
	viper.SetDefault("logging.file_output.level", "info")
}
