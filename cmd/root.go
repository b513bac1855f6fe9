// Package cmd builds the lampwatch command tree.
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lampwatch/lampwatch/cmd/initdb"
	"github.com/lampwatch/lampwatch/cmd/listen"
	"github.com/lampwatch/lampwatch/cmd/serve"
	"github.com/lampwatch/lampwatch/internal/buildinfo"
	"github.com/lampwatch/lampwatch/internal/conf"
	"github.com/lampwatch/lampwatch/internal/logger"
	"github.com/lampwatch/lampwatch/internal/telemetry"
)

const telemetryFlushTimeout = 2 * time.Second

// RootCommand creates the root command. settings is filled from the config
// file, .env and the environment before any subcommand runs.
func RootCommand(settings *conf.Settings) *cobra.Command {
	var (
		configFile string
		central    *logger.CentralLogger
	)

	rootCmd := &cobra.Command{
		Use:           "lampwatch",
		Short:         "Human presence detection with lamp control",
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: search ./, ~/.config/lampwatch, /etc/lampwatch)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		panic(fmt.Sprintf("error binding debug flag: %v", err))
	}

	rootCmd.AddCommand(
		serve.Command(settings),
		listen.Command(settings),
		initdb.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := conf.LoadFrom(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded

		central, err = initLogging(settings)
		if err != nil {
			return err
		}
		return telemetry.Init(settings.Telemetry, nil)
	}

	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		telemetry.Shutdown(telemetryFlushTimeout)
		if central != nil {
			_ = central.Flush()
			_ = central.Close()
		}
	}

	return rootCmd
}

// initLogging installs the central logger described by the logging section.
func initLogging(settings *conf.Settings) (*logger.CentralLogger, error) {
	cfg := settings.Logging
	if settings.Debug {
		cfg.DefaultLevel = string(logger.LogLevelDebug)
		if cfg.Console != nil {
			console := *cfg.Console
			console.Level = cfg.DefaultLevel
			cfg.Console = &console
		}
	}

	central, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)
	return central, nil
}
