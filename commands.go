package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bosley/noties/audio"
	"github.com/bosley/noties/audio/host"
	"github.com/bosley/noties/config"
	"github.com/bosley/noties/ingest"
	"github.com/bosley/noties/pipeline"
	"github.com/bosley/noties/scribe"
	"github.com/bosley/noties/server"
	"github.com/bosley/noties/summary"
)

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List capture candidates, best first",
		RunE: func(cmd *cobra.Command, args []string) error {
			pa, err := host.New()
			if err != nil {
				return err
			}
			defer pa.Close()

			catalog := audio.NewCatalog(pa)
			devices := catalog.ListInputCandidates()
			if len(devices) == 0 {
				fmt.Println("No capture devices found")
				return nil
			}
			def, hasDefault := catalog.DefaultInput()
			fmt.Println("Available capture devices:")
			for _, d := range devices {
				marker := ""
				if hasDefault && d.Index == def.Index {
					marker = " (system default)"
				}
				fmt.Printf("[%d] %s%s\n", d.Index, d.Label, marker)
				fmt.Printf("    Host API: %s\n", d.HostAPI)
				fmt.Printf("    Input Channels: %d  Output Channels: %d\n", d.Channels, d.OutputChannels)
				fmt.Printf("    Default Sample Rate: %.0f\n", d.SampleRate)
				fmt.Println()
			}
			return nil
		},
	}
}

func scanCmd() *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Listen to every capture device and report which ones carry sound",
		RunE: func(cmd *cobra.Command, args []string) error {
			pa, err := host.New()
			if err != nil {
				return err
			}
			defer pa.Close()

			devices := audio.NewCatalog(pa).ListInputCandidates()
			fmt.Printf("Scanning %d devices for %s each...\n", len(devices), window)
			for _, act := range audio.Scan(pa, devices, window) {
				switch {
				case act.Err != nil:
					fmt.Printf("  [%d] %-50s error: %v\n", act.Device.Index, act.Device.Label, act.Err)
				case act.Active:
					fmt.Printf("  [%d] %-50s ACTIVE peak=%.4f\n", act.Device.Index, act.Device.Label, act.Peak)
				default:
					fmt.Printf("  [%d] %-50s silent peak=%.4f\n", act.Device.Index, act.Device.Label, act.Peak)
				}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&window, "window", audio.DefaultScanWindow, "How long to listen to each device")
	return cmd
}

func recordCmd() *cobra.Command {
	var device int
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Capture from a device and print transcripts and summaries until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			pa, err := host.New()
			if err != nil {
				return err
			}
			defer pa.Close()

			coord := newCoordinator(pa)
			defer coord.Close()
			coord.Subscribe(pipeline.Funcs{
				Status: func(text string, sev pipeline.Severity) {
					if sev == pipeline.SeverityError {
						fmt.Fprintln(os.Stderr, text)
					}
				},
				Transcript: func(text string) { fmt.Printf("\n> %s\n", text) },
				Summary:    func(text string) { fmt.Printf("\n--- Summary ---\n%s\n---------------\n", text) },
			})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			streamCfg, err := coord.StartMonitoring(device)
			if err != nil {
				return err
			}
			if err := coord.StartCapturing(); err != nil {
				return err
			}
			slog.Info("Recording, press Ctrl+C to stop", "config", streamCfg.String())

			<-ctx.Done()
			stop()
			slog.Debug("Received shutdown signal")

			if err := coord.StopCapturing(); err != nil {
				return err
			}
			drainCtx, cancel := context.WithTimeout(context.Background(), cfg.TranscribeTimeout+cfg.SummarizeTimeout)
			defer cancel()
			if err := coord.Drain(drainCtx); err != nil {
				slog.Warn("Gave up waiting for queued chunks", "error", err)
			}
			coord.StopStream()
			return nil
		},
	}
	cmd.Flags().IntVarP(&device, "device", "d", audio.DefaultDevice, "Device index from 'noties devices' (-1 for the system default)")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control API and websocket event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			pa, err := host.New()
			if err != nil {
				return err
			}
			defer pa.Close()

			coord := newCoordinator(pa)
			defer coord.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.Inbox != "" {
				inbox, err := ingest.New(cfg.Inbox, coord)
				if err != nil {
					return err
				}
				go inbox.Run(ctx)
			}

			srv := server.New(server.Config{
				Addr:     cfg.HTTPAddr,
				CertFile: cfg.CertFile,
				KeyFile:  cfg.KeyFile,
			}, coord)
			return srv.Start(ctx)
		},
	}
}

func playCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "play <file.wav>",
		Short: "Play a WAV file through the default output device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pa, err := host.New()
			if err != nil {
				return err
			}
			defer pa.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return pa.PlayFile(ctx, args[0])
		},
	}
}

func newCoordinator(h audio.Host) *pipeline.Coordinator {
	stage := scribe.NewStage(newTranscriber(cfg), cfg.TranscribeTimeout)
	summarizer := summary.New(summary.NewOpenRouter(cfg.LLMBase, cfg.APIKey), cfg.Model, cfg.SummarizeTimeout)
	return pipeline.New(h, stage, summarizer, pipeline.Options{Stream: cfg.StreamOptions()})
}

func newTranscriber(c config.Config) scribe.Transcriber {
	if c.Transcriber == config.TranscriberRemote {
		return scribe.NewRemote(c.STTURL, c.HFToken)
	}
	return &scribe.Whisper{Path: c.WhisperPath, Model: c.WhisperModel}
}
