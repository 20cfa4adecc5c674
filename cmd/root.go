package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/audiolibrelab/pcmcapture/internal/config"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	logFile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "pcmcapture [recording-name]",
	Short: "Capture PCM audio into WAV files",
	Long: `PCMCapture records 16-bit PCM audio from a microphone, a camcorder
input or a named device and writes it as a WAV file.

Samples are streamed to disk while recording and the WAV header is written
once the recording is completed, so long sessions never sit in memory.

When a recording name is provided, it acts as 'pcmcapture record [recording-name]'.`,
	Args: cobra.MaximumNArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel, nil)

		explicit := cfgFile != ""
		if !explicit {
			cfgFile = config.DefaultConfigPath()
		}

		if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) && !explicit {
			slog.Debug("No config file found, using built-in defaults", "path", cfgFile)
			cfg = config.Default()
		} else {
			var err error
			cfg, err = config.LoadWithProfile(cfgFile, profile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
		}

		if logFile != "" {
			cfg.Log.File = logFile
		}
		if cfg.Log.File != "" {
			setupLogging(verboseLevel, &cfg.Log)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// If a recording name is provided, delegate to record command
		if len(args) == 1 {
			return recordCmd.RunE(cmd, args)
		}
		return cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/pcmcapture.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file, rotated by size")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=backend output, 3=max tracing")

	addRecordFlags(rootCmd.Flags())

	// Add subcommands
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(finalizeCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(serveCmd)
}

// setupLogging configures slog based on the verbose level. When logCfg
// names a file, records are also written there with size-based rotation.
func setupLogging(level int, logCfg *config.LogConfig) {
	var slogLevel slog.Level
	switch level {
	case 0:
		slogLevel = slog.LevelInfo
	case 1, 2, 3:
		slogLevel = slog.LevelDebug
	default:
		slogLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if logCfg != nil && logCfg.File != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logCfg.File,
			MaxSize:    logCfg.MaxSizeMB,
			MaxBackups: logCfg.MaxBackups,
			MaxAge:     logCfg.MaxAgeDays,
		})
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(out, opts)
	slog.SetDefault(slog.New(handler))

	// Level 3 also enables PipeWire's own tracing in pw-record
	if level >= 3 {
		os.Setenv("PIPEWIRE_DEBUG", "3")
	}
}
