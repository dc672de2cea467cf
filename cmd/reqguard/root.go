package main

import (
	"os"
	"strings"
	"time"

	"github.com/Alexander199824/reqguard/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "reqguard",
		Short:        "Inspect and exercise the request orchestrator",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "path to the YAML config (env REQGUARD_CONFIG)")
	root.PersistentFlags().String("log-level", "", "debug, info, warn or error (env REQGUARD_LOG_LEVEL)")

	root.AddCommand(newConfigCmd(), newSimulateCmd())
	return root
}

// flagOrEnv returns the flag value if set, then the environment value, then defaultValue.
func flagOrEnv(cmd *cobra.Command, flagName, envName, defaultValue string) string {
	if f := cmd.Flag(flagName); f != nil && f.Value.String() != "" {
		return f.Value.String()
	}
	if v, ok := os.LookupEnv(envName); ok && v != "" {
		return v
	}
	return defaultValue
}

func newLogger(cmd *cobra.Command) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(flagOrEnv(cmd, "log-level", "REQGUARD_LOG_LEVEL", "info")))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()
}

// loadConfig reads the configured file or falls back to defaults with every component enabled.
func loadConfig(cmd *cobra.Command) (*config.Orchestrator, error) {
	path := flagOrEnv(cmd, "config", "REQGUARD_CONFIG", "")
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadConfig(path)
}
