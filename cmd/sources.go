package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/pcmcapture/internal/audio"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio sources",
	Long: `List the capture backends available on this system and the sources
the configured backend can record from. Pass --backend to list another one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, _ := cmd.Flags().GetString("backend")
		if backend == "" {
			backend = cfg.Audio.Backend
		}

		fmt.Printf("Audio Sources (%s)\n", runtime.GOOS)
		fmt.Printf("=======================================\n\n")

		fmt.Printf("Available backends:")
		for _, b := range audio.GetAvailableBackends() {
			fmt.Printf(" %s", b)
		}
		fmt.Printf("\n\n")

		sources, err := audio.ListSources(backend)
		if err != nil {
			return fmt.Errorf("failed to get %s sources: %w", backend, err)
		}

		fmt.Printf("Sources for backend %q (%d found):\n", backend, len(sources))
		for i, source := range sources {
			fmt.Printf("  %d. %s\n", i+1, source)
		}

		fmt.Printf("\nUsage:\n")
		fmt.Printf("  - 'mic' selects the default input, 'camcorder' an input named like a camera\n")
		fmt.Printf("  - Any other value is matched against device or port names\n")
		fmt.Printf("  - Configure in configs.<profile>.audio.source or pass --source to record\n")
		return nil
	},
}

func init() {
	sourcesCmd.Flags().StringP("backend", "b", "", "backend to list (default is the configured backend)")
}
