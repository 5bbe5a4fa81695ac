package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	flag "github.com/spf13/pflag"

	"github.com/roman-kulish/radio-waterfall/cmd/waterfall/app"
	"github.com/roman-kulish/radio-waterfall/internal/tui"
	"github.com/roman-kulish/radio-waterfall/internal/waterfall"
)

func main() {
	var configPath, provider, logPath string
	flag.StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	flag.StringVar(&provider, "provider", "", "Radio backend [synthetic, httpapi, rtl-sdr, hackrf, replay], overrides provider.type")
	flag.StringVar(&logPath, "log", "", "Write logs to this file, the terminal belongs to the waterfall")
	flag.Parse()

	if err := run(configPath, provider, logPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, provider, logPath string) error {
	var logLevel slog.LevelVar
	var out io.Writer = io.Discard
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		out = f
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: &logLevel}))

	config := app.NewConfig()
	if configPath != "" {
		var err error
		if config, err = app.LoadConfig(configPath); err != nil {
			return fmt.Errorf("failed to load configuration file: %w", err)
		}
	}
	if provider != "" {
		config.Provider.Type = app.ProviderType(provider)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logLevel.UnmarshalText([]byte(config.Settings.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level: %s", config.Settings.LogLevel)
	}

	components, err := app.Build(config, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	model := tui.New(ctx, components.Viewer, waterfall.ColorTheme(config.Render.Theme))
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err = program.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
