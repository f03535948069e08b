// Command quill rewrites stored articles using top-ranking search results as
// style references.
package main

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

	"github.com/FranksOps/quill/internal/config"
	"github.com/FranksOps/quill/internal/metrics"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type globalFlags struct {
	configPath  string
	logLevel    string
	metricsPort int
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:          "quill",
		Short:        "Optimize articles against top-ranking references",
		SilenceUsage: true,
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().IntVar(&g.metricsPort, "metrics-port", 0, "serve Prometheus metrics on this port")

	root.AddCommand(
		newRunCmd(&g),
		newDiscoverCmd(&g),
		newSearchCmd(&g),
		newExtractCmd(&g),
		newCheckCmd(&g),
	)
	return root
}

// loadConfig merges the global flags over the file and environment.
func loadConfig(cmd *cobra.Command, g *globalFlags) (*config.Config, error) {
	overrides := map[string]any{}
	if cmd.Flags().Changed("log-level") {
		overrides["log.level"] = g.logLevel
	}
	if cmd.Flags().Changed("metrics-port") {
		overrides["metrics.port"] = g.metricsPort
	}
	return config.Load(config.Options{Path: g.configPath, Overrides: overrides})
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// execute loads configuration, builds the application and runs fn alongside
// the optional metrics server until fn returns or a signal arrives.
func execute(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(cmd, g)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(sigCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	eg, ctx := errgroup.WithContext(sigCtx)
	done := make(chan struct{})

	if cfg.Metrics.Port > 0 {
		srv := metrics.New(cfg.Metrics.Port, logger)
		eg.Go(srv.ListenAndServe)
		eg.Go(func() error {
			select {
			case <-ctx.Done():
			case <-done:
			}
			return srv.Stop(context.Background())
		})
	}

	eg.Go(func() error {
		defer close(done)
		return fn(ctx, a)
	})

	err = eg.Wait()
	if sigCtx.Err() != nil {
		logger.Warn("interrupted")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
