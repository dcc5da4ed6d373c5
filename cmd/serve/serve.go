package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/nailong-guard/internal/buildinfo"
	"github.com/tphakala/nailong-guard/internal/conf"
	"github.com/tphakala/nailong-guard/internal/errors"
	"github.com/tphakala/nailong-guard/internal/guard"
	"github.com/tphakala/nailong-guard/internal/logger"
)

// Command creates the command that connects to the chat host and moderates.
func Command(settings *conf.Settings, info buildinfo.Info) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to OneBot and moderate groups",
		Long:  "Connect to a OneBot v11 implementation over WebSocket and moderate nailong images in whitelisted groups.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, info)
		},
	}

	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("onebot", "", "OneBot forward WebSocket URL")
	cmd.Flags().String("token", "", "OneBot access token")
	cmd.Flags().Bool("telemetry", false, "Enable Prometheus telemetry endpoint")
	cmd.Flags().String("listen", "", "Listen address and port of telemetry endpoint")
	cmd.Flags().Bool("mqtt", false, "Publish moderation events to MQTT")

	bindings := map[string]string{
		"onebot":    "onebot.url",
		"token":     "onebot.accesstoken",
		"telemetry": "telemetry.enabled",
		"listen":    "telemetry.listen",
		"mqtt":      "mqtt.enabled",
	}
	for flag, key := range bindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flags: %w", err)
		}
	}
	return nil
}

func run(parent context.Context, settings *conf.Settings, info buildinfo.Info) error {
	if parent == nil {
		parent = context.Background()
	}
	log := logger.Global().Module("main")
	settings.Fetch.UserAgent = info.UserAgent(settings.Fetch.UserAgent)

	if settings.Sentry.Enabled {
		if err := errors.InitSentry(settings.Sentry.DSN, info.Release()); err != nil {
			log.Warn("error reporting disabled", logger.Error(err))
		} else {
			defer errors.FlushTelemetry(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := guard.New(ctx, settings)
	if err != nil {
		log.Error("failed to start", logger.Error(err))
		return err
	}

	log.Info("starting nailong-guard",
		logger.String("version", info.Version),
		logger.String("build_date", info.BuildDate),
		logger.String("onebot", logger.RedactURL(settings.OneBot.URL)))

	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("shutdown incomplete: %w", err)
	}
	log.Info("nailong-guard stopped")
	return nil
}
