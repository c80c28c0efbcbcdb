package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"audiotap/internal/audio"
	"audiotap/internal/config"
	"audiotap/internal/logging"
	"audiotap/internal/wavout"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	log := logging.NewWithLevel(cfg.LogLevel)

	root := &cobra.Command{
		Use:     "audiotap",
		Short:   "Capture and mix microphone and system audio into one PCM stream",
		Version: fmt.Sprintf("%s (%s)", Version, Commit),
	}
	root.AddCommand(devicesCmd(log))
	root.AddCommand(recordCmd(cfg, log))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func devicesCmd(log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List capture devices and their classification",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := audio.Enumerate(log)
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("no capture devices found")
				return nil
			}
			for _, d := range devices {
				def := ""
				if d.IsDefault {
					def = " (default)"
				}
				fmt.Printf("%-8s %dch %6d Hz  %s%s\n", d.Kind, d.Channels, d.SampleRate, d.Name, def)
			}
			return nil
		},
	}
}

func recordCmd(cfg *config.Config, log zerolog.Logger) *cobra.Command {
	var (
		source   string
		deviceID string
		out      string
		duration time.Duration
		gain     float64
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Capture audio and write it to a WAV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			writer := wavout.NewWriter(out)

			var chunks, samples atomic.Int64
			manager := audio.NewManager(log, func(c audio.Chunk) {
				chunks.Add(1)
				samples.Add(int64(len(c.Samples)))
				if err := writer.Write(c); err != nil {
					log.Error().Err(err).Msg("Failed to write chunk")
				}
			}, audio.WithSecondaryGain(gain))

			req := audio.Request{Source: audio.Source(source), DeviceID: deviceID}
			if err := manager.Start(req); err != nil {
				return err
			}
			log.Info().Str("source", source).Str("out", out).Msg("Recording, press Ctrl+C to stop")

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			if duration > 0 {
				select {
				case <-sigChan:
				case <-time.After(duration):
				}
			} else {
				<-sigChan
			}

			manager.Stop()
			if err := writer.Close(); err != nil {
				return err
			}

			log.Info().
				Int64("chunks", chunks.Load()).
				Int64("samples", samples.Load()).
				Msg("Recording finished")
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", cfg.Audio.Source, "capture source: mic, system or mixed")
	cmd.Flags().StringVar(&deviceID, "device", cfg.Audio.DeviceID, "capture device name (default: OS default input)")
	cmd.Flags().StringVar(&out, "out", cfg.Output, "output WAV file")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 = until interrupted)")
	cmd.Flags().Float64Var(&gain, "gain", cfg.Audio.SecondaryGain, "attenuation applied to secondary sources in mixed mode")

	return cmd
}
