package serve

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lampwatch/lampwatch/internal/analysis"
	"github.com/lampwatch/lampwatch/internal/conf"
)

// Command runs the detection API.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the detection API",
		Long: `Start the HTTP detection API. Uploaded or fetched images are analyzed,
stored and logged; a positive detection switches the lamp on over MQTT.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return analysis.Serve(cmd.Context(), settings)
		},
	}

	cmd.Flags().String("port", "", "HTTP listen port")
	cmd.Flags().String("storage", "", "Directory for captured images")
	cmd.Flags().Bool("no-mqtt", false, "Disable lamp actuation")
	_ = viper.BindPFlag("webserver.port", cmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("storage.path", cmd.Flags().Lookup("storage"))

	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if off, _ := cmd.Flags().GetBool("no-mqtt"); off {
			settings.MQTT.Enabled = false
		}
	}
	return cmd
}
