package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/voightkampff/vk/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from the --data-dir flag,
// the VK_DATA_DIR env var, or ~/.vk as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("VK_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.vk"
}

// openStore opens the credential store using the configured driver. The CLI
// talks to the store directly; it never needs a running server.
func openStore() (*store.Store, error) {
	cfg := store.Config{
		Driver:  viper.GetString("store.driver"),
		DSN:     viper.GetString("store.dsn"),
		DataDir: viper.GetString("store.data_dir"),
	}
	if cfg.Driver == "" || cfg.Driver == store.DriverSQLite {
		if cfg.DataDir == "" {
			cfg.DataDir = resolveDataDir()
		}
	}
	return store.Open(cfg)
}

// newLogger builds the process logger from log.level and log.format.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch viper.GetString("log.level") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if viper.GetString("log.format") == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
