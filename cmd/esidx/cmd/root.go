// Package cmd provides the CLI commands for esidx.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AlectoTheFirst/esidx/internal/config"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	debug      bool
	conn       *config.ConnectionFlags
}

// NewRootCmd creates the root command for the esidx CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&rootOptions{})
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "esidx",
		Short: "Maintain Elasticsearch indexes fed from a SQL database",
		Long: `esidx creates, populates, upgrades and destroys the Elasticsearch
indexes declared in a project file, runs searches against them and exports
configured aggregations as Prometheus metrics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat)
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "esidx.yaml", "Path to the project file")
	pf.StringVar(&opts.logLevel, "log.level", "info", "Set log level (debug, info, warn, error).")
	pf.StringVar(&opts.logFormat, "log.format", "text", "Set log format (text, json).")
	pf.BoolVar(&opts.debug, "debug", false, "Print the full error cause chain on failure")
	opts.conn = config.RegisterConnectionFlags(pf)

	cmd.AddCommand(newCreateCmd(opts))
	cmd.AddCommand(newPopulateCmd(opts))
	cmd.AddCommand(newDestroyCmd(opts))
	cmd.AddCommand(newRebuildCmd(opts))
	cmd.AddCommand(newUpgradeCmd(opts))
	cmd.AddCommand(newVerifyCmd(opts))
	cmd.AddCommand(newDocumentCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newExportCmd(opts))

	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &rootOptions{}
	cmd := newRootCmd(opts)
	if err := cmd.ExecuteContext(ctx); err != nil {
		reportError(cmd.ErrOrStderr(), err, opts.debug)
		return 1
	}
	return 0
}

// reportError prints err, and with debug every error it wraps.
func reportError(w io.Writer, err error, debug bool) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if !debug {
		return
	}
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		fmt.Fprintf(w, "  caused by: %v\n", cause)
	}
}

func setupLogging(w io.Writer, level string, format string) {
	var lvl slog.Level
	invalid := false
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
		invalid = true
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: lvl}

	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))

	if invalid {
		slog.Warn("Invalid log level, defaulting to 'info'", "level", level)
	}
}
