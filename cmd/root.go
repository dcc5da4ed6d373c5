package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/nailong-guard/cmd/check"
	"github.com/tphakala/nailong-guard/cmd/serve"
	"github.com/tphakala/nailong-guard/internal/buildinfo"
	"github.com/tphakala/nailong-guard/internal/conf"
	"github.com/tphakala/nailong-guard/internal/logger"
)

// RootCommand creates and returns the root command. settings is filled in
// before any subcommand runs.
func RootCommand(settings *conf.Settings, info buildinfo.Info) *cobra.Command {
	var configPath string
	var central *logger.CentralLogger

	rootCmd := &cobra.Command{
		Use:           "nailong-guard",
		Short:         "Nailong image moderation bot",
		Version:       info.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd, &configPath); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		serve.Command(settings, info),
		check.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			conf.SetConfigFile(configPath)
		}
		loaded, err := conf.Load()
		if err != nil {
			return err
		}
		*settings = *loaded

		central, err = initialize(settings)
		return err
	}

	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if central == nil {
			return nil
		}
		_ = central.Flush()
		return central.Close()
	}

	return rootCmd
}

// initialize sets up the process wide logger once settings are known.
func initialize(settings *conf.Settings) (*logger.CentralLogger, error) {
	central, err := logger.NewCentralLogger(settings.LoggingConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)
	return central, nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, configPath *string) error {
	rootCmd.PersistentFlags().StringVarP(configPath, "config", "c", "", "Path to config.yaml")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
