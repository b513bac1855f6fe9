package listen

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lampwatch/lampwatch/internal/analysis"
	"github.com/lampwatch/lampwatch/internal/conf"
)

// Command runs the motion listener.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Forward camera snapshots on motion events",
		Long: `Subscribe to the motion sensor topic and, whenever motion starts, fetch a
snapshot from the camera and post it to the detection API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return analysis.Listen(cmd.Context(), settings)
		},
	}

	cmd.Flags().String("camera-url", "", "Camera snapshot endpoint")
	cmd.Flags().String("detector-url", "", "Detection API upload endpoint")
	cmd.Flags().Duration("cooldown", 0, "Minimum time between capture cycles")
	_ = viper.BindPFlag("listener.camera_url", cmd.Flags().Lookup("camera-url"))
	_ = viper.BindPFlag("listener.detector_url", cmd.Flags().Lookup("detector-url"))
	_ = viper.BindPFlag("listener.cooldown", cmd.Flags().Lookup("cooldown"))
	return cmd
}
