package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/roman-kulish/radio-waterfall/cmd/waterfall/app"
)

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

	var configPath, listen, provider string
	var autoRun bool
	flag.StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	flag.StringVar(&listen, "listen", "", "Address to listen on, overrides settings.listen")
	flag.StringVar(&provider, "provider", "", "Radio backend [synthetic, httpapi, rtl-sdr, hackrf, replay], overrides provider.type")
	flag.BoolVar(&autoRun, "run", false, "Start acquisition immediately")
	flag.Parse()

	config := app.NewConfig()
	if configPath != "" {
		var err error
		if config, err = app.LoadConfig(configPath); err != nil {
			logger.Error(fmt.Sprintf("failed to load configuration file: %s", err.Error()), slog.String("path", configPath))
			os.Exit(1)
		}
	}

	if listen != "" {
		config.Settings.Listen = listen
	}
	if provider != "" {
		config.Provider.Type = app.ProviderType(provider)
	}
	if autoRun {
		config.Settings.AutoRun = true
	}
	if err := config.Validate(); err != nil {
		logger.Error(fmt.Sprintf("invalid configuration: %s", err.Error()))
		os.Exit(1)
	}

	if err := logLevel.UnmarshalText([]byte(config.Settings.LogLevel)); err != nil {
		logger.Error(fmt.Sprintf("invalid log level: %s", config.Settings.LogLevel))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, config, logger); err != nil {
		logger.Error(err.Error())

		cancel()
		os.Exit(1)
	}
}
