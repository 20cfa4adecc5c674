package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/pcmcapture/internal/service"
)

var infoCmd = &cobra.Command{
	Use:   "info [recording-name | file.wav]",
	Short: "Show resolved configuration and the WAV header of a recording",
	Long: `Given a path to an existing file, parse and print its WAV header.

Given a recording name, display the resolved configuration with inheritance
indicators and the file path the recording is written to, followed by its
header if the file already exists.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		arg := args[0]

		if st, err := os.Stat(arg); err == nil && !st.IsDir() {
			info, err := service.InspectFile(arg)
			if err != nil {
				return err
			}
			printWavInfo(info)
			return nil
		}

		svc := service.New(cfg, cfgFile, nil)
		path := svc.RecordingPath(arg)

		fmt.Printf("=== FILE PATHS ===\n")
		fmt.Printf("output_wav: %s\n", path)

		fmt.Printf("\n=== RESOLVED CONFIGURATION ===\n")
		fmt.Printf("\n[Audio]\n")
		fmt.Printf("sample_rate: %d %s\n", cfg.Audio.SampleRate, inheritanceOf(func() string { return cfg.Inheritance.Audio.SampleRate }))
		fmt.Printf("channels: %d %s\n", cfg.Audio.Channels, inheritanceOf(func() string { return cfg.Inheritance.Audio.Channels }))
		fmt.Printf("source: %s %s\n", cfg.Audio.Source, inheritanceOf(func() string { return cfg.Inheritance.Audio.Source }))
		fmt.Printf("backend: %s %s\n", cfg.Audio.Backend, inheritanceOf(func() string { return cfg.Inheritance.Audio.Backend }))

		fmt.Printf("\n[Output]\n")
		fmt.Printf("directory: %s %s\n", cfg.Output.Directory, inheritanceOf(func() string { return cfg.Inheritance.Output.Directory }))

		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil
		}
		info, err := service.InspectFile(path)
		if err != nil {
			return err
		}
		fmt.Printf("\n")
		printWavInfo(info)
		return nil
	},
}

func printWavInfo(info *service.WavInfo) {
	fmt.Printf("=== WAV HEADER ===\n")
	fmt.Printf("file: %s\n", info.Path)
	if !info.Valid {
		fmt.Printf("valid: false (header missing or unreadable, try 'pcmcapture finalize')\n")
		return
	}
	fmt.Printf("valid: true\n")
	fmt.Printf("sample_rate: %d\n", info.SampleRate)
	fmt.Printf("channels: %d\n", info.Channels)
	fmt.Printf("bit_depth: %d\n", info.BitDepth)
	fmt.Printf("data_length: %d\n", info.DataLength)
	fmt.Printf("duration: %.2fs\n", info.Duration)
}

// inheritanceOf formats the inheritance status of a setting. Built-in
// defaults carry no inheritance information.
func inheritanceOf(status func() string) string {
	if cfg.Inheritance == nil {
		return "[default]"
	}
	return getInheritanceIndicator(status())
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[unknown]"
	}
}
