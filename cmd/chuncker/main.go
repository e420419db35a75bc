// Command chuncker is the CLI entrypoint for the chunk-storage pipeline:
// upload/download/delete/verify individual files and seek/index local
// directories.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to every component via dependency injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"chuncker/internal/config"
	"chuncker/internal/logging"
)

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug, // filtering is done by the ComponentFilterHandler
	})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "chuncker",
		Short: "Content-addressed, chunked file storage pipeline",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			levels, _ := cmd.Flags().GetStringSlice("log-level")
			for _, kv := range levels {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 {
					continue
				}
				var lvl slog.Level
				if err := lvl.UnmarshalText([]byte(parts[1])); err != nil {
					continue
				}
				filterHandler.SetLevel(parts[0], lvl)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "path to a JSON config file (defaults built in if omitted)")
	rootCmd.PersistentFlags().StringSlice("log-level", nil, "per-component log level overrides, e.g. chunkengine=debug")

	rootCmd.AddCommand(
		newUploadCmd(logger),
		newDownloadCmd(logger),
		newListCmd(logger),
		newDeleteCmd(logger),
		newVerifyCmd(logger),
		newSeekCmd(logger),
		newSeekPlusCmd(logger),
		newMetricsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config (or the built-in defaults, which require at
// least one provider to be added by the caller before use) and returns
// the resulting Config; withApp does the wiring.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func withApp(cmd *cobra.Command, logger *slog.Logger, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer a.Close()

	return fn(ctx, a)
}
