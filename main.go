package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bosley/noties/config"
)

var (
	verbose bool
	cfg     config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "noties",
		Short:         "Live meeting transcription and rolling summaries",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded

			level, err := config.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)
			return nil
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		devicesCmd(),
		scanCmd(),
		recordCmd(),
		serveCmd(),
		playCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
