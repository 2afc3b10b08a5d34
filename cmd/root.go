package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version string
	baseDir string
)

// SetVersion sets the version string shown by --version.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Offline mutation queue for maintenance-management clients",
	Long: `fieldsync - offline-first mutation queue and conflict reconciliation.

Mutations enqueued while disconnected are replayed in order once
connectivity returns, with idempotent delivery and field-level conflict
surfacing when the server has diverged.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initBaseDir, initLogging)
	rootCmd.PersistentFlags().StringVar(&baseDir, "dir", "", "Work directory (default: current directory)")
}

// initBaseDir resolves the work directory from the flag or cwd.
func initBaseDir() {
	if baseDir != "" {
		return
	}
	if v := os.Getenv("FIELDSYNC_DIR"); v != "" {
		baseDir = v
		return
	}
	wd, err := os.Getwd()
	if err != nil {
		baseDir = "."
		return
	}
	baseDir = wd
}

// initLogging routes slog to stderr; FIELDSYNC_DEBUG=1 enables debug output.
func initLogging() {
	level := slog.LevelWarn
	if v := os.Getenv("FIELDSYNC_DEBUG"); v == "1" || v == "true" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
