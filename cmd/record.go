package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/audiolibrelab/pcmcapture/internal/audio"
	"github.com/audiolibrelab/pcmcapture/internal/config"
	"github.com/audiolibrelab/pcmcapture/internal/service"
)

const statusPollInterval = 250 * time.Millisecond

var recordCmd = &cobra.Command{
	Use:   "record [recording-name]",
	Short: "Record audio into a WAV file",
	Long: `Record audio from the configured source into <output>/<recording-name>.wav.

While recording, type a command and press Enter:
  p  pause
  r  resume
  s  stop and save

Ctrl+C also stops and saves. With --raw the header is not written, leaving
the raw payload for a later 'pcmcapture finalize'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		slog.Info("Record command started", "name", name)

		if err := applyRecordFlags(cmd.Flags(), cfg); err != nil {
			return err
		}
		raw, _ := cmd.Flags().GetBool("raw")

		source, err := audio.NewFrameSource(cfg.Audio.Backend)
		if err != nil {
			return fmt.Errorf("failed to create audio source: %w", err)
		}

		svc := service.New(cfg, cfgFile, source)
		if err := svc.StartRecording(name); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}

		_, session := svc.GetRecordingStatus()
		slog.Info("Recording... type p/r/s + Enter or press Ctrl+C to stop",
			"file", session.OutputFile, "rate", session.SampleRate, "channels", session.Channels, "source", session.Source)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		readCommands(ctx, svc)

		slog.Info("Stopping recording...")
		if err := svc.StopRecording(); err != nil {
			return fmt.Errorf("failed to stop recording: %w", err)
		}
		if raw {
			slog.Info("Raw payload left without header", "file", session.OutputFile)
			return nil
		}
		if err := svc.CompleteRecording(); err != nil {
			return fmt.Errorf("failed to complete recording: %w", err)
		}

		_, session = svc.GetRecordingStatus()
		slog.Info("Recording saved",
			"file", session.OutputFile,
			"duration_seconds", fmt.Sprintf("%.2f", session.Duration),
			"data_bytes", session.DataLength,
			"frames", session.Frames)
		return nil
	},
}

// readCommands drives pause and resume from stdin until a stop command,
// a capture failure, or ctx is cancelled
func readCommands(ctx context.Context, svc service.Service) {
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(strings.ToLower(scanner.Text())):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if status, _ := svc.GetRecordingStatus(); status == audio.StatusError {
				slog.Error("Capture failed, saving what was recorded", "error", svc.GetLastError())
				return
			}
		case line, ok := <-lines:
			if !ok {
				// stdin closed, keep recording until interrupted
				lines = nil
				continue
			}
			switch line {
			case "p", "pause":
				if err := svc.PauseRecording(); err != nil {
					slog.Warn("Pause failed", "error", err)
				} else {
					slog.Info("Paused")
				}
			case "r", "resume":
				if err := svc.ResumeRecording(); err != nil {
					slog.Warn("Resume failed", "error", err)
				} else {
					slog.Info("Resumed")
				}
			case "s", "stop", "q":
				return
			case "":
			default:
				slog.Warn("Unknown command, use p, r or s", "command", line)
			}
		}
	}
}

func addRecordFlags(flags *pflag.FlagSet) {
	flags.StringP("output", "o", "", "output directory (overrides config)")
	flags.IntP("rate", "r", 0, "sample rate in Hz (overrides config)")
	flags.IntP("channels", "c", 0, "1 for mono, 2 for stereo (overrides config)")
	flags.StringP("source", "s", "", "mic, camcorder or a device name (overrides config)")
	flags.StringP("backend", "b", "", "auto, portaudio, pipewire or tone (overrides config)")
	flags.Bool("raw", false, "stop without writing the WAV header")
}

// applyRecordFlags overlays command line overrides onto c and re-validates it
func applyRecordFlags(flags *pflag.FlagSet, c *config.Config) error {
	if v, _ := flags.GetString("output"); v != "" {
		c.Output.Directory = v
	}
	if v, _ := flags.GetInt("rate"); v != 0 {
		c.Audio.SampleRate = v
	}
	if v, _ := flags.GetInt("channels"); v != 0 {
		c.Audio.Channels = v
	}
	if v, _ := flags.GetString("source"); v != "" {
		c.Audio.Source = v
	}
	if v, _ := flags.GetString("backend"); v != "" {
		c.Audio.Backend = v
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid recording options: %w", err)
	}
	return nil
}

func init() {
	addRecordFlags(recordCmd.Flags())
}
