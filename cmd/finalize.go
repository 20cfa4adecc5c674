package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/pcmcapture/internal/audio"
	"github.com/audiolibrelab/pcmcapture/internal/service"
)

var finalizeCmd = &cobra.Command{
	Use:   "finalize [file]",
	Short: "Write the WAV header of a recording that was never completed",
	Long: `Patch the WAV header onto a file left by 'record --raw' or by an
interrupted session. The payload length is taken from the file size; the
format comes from the active profile unless --rate or --channels is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		capture := cfg.CaptureConfig()
		if rate, _ := cmd.Flags().GetInt("rate"); rate != 0 {
			capture.SampleRate = uint32(rate)
		}
		if channels, _ := cmd.Flags().GetInt("channels"); channels != 0 {
			capture.Channels = uint16(channels)
		}
		if err := capture.Validate(); err != nil {
			return err
		}

		header, err := audio.FinalizeFile(path, capture)
		if err != nil {
			return fmt.Errorf("failed to finalize %s: %w", path, err)
		}
		slog.Info("Header written", "file", path, "data_bytes", header.DataLength, "chunk_size", header.ChunkSize())

		info, err := service.InspectFile(path)
		if err != nil {
			return err
		}
		printWavInfo(info)
		return nil
	},
}

func init() {
	finalizeCmd.Flags().IntP("rate", "r", 0, "sample rate in Hz (overrides config)")
	finalizeCmd.Flags().IntP("channels", "c", 0, "channel count (overrides config)")
}
