package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/pcmcapture/internal/audio"
	"github.com/audiolibrelab/pcmcapture/internal/observe"
	"github.com/audiolibrelab/pcmcapture/internal/server"
	"github.com/audiolibrelab/pcmcapture/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the PCMCapture web server to control recording over HTTP.
This allows you to start, pause and stop recordings from your smartphone or
any device on the same network. Capture metrics are served on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		host, _ := cmd.Flags().GetString("host")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Warn("Metrics shutdown failed", "error", err)
			}
		}()

		source, err := audio.NewFrameSource(cfg.Audio.Backend)
		if err != nil {
			return fmt.Errorf("failed to create audio source: %w", err)
		}

		svc := service.New(cfg, cfgFile, source)
		srv := server.New(svc, cfgFile, net.JoinHostPort(host, port))

		slog.Info("PCMCapture web server starting", "port", port, "config", cfgFile)
		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "8080", "port for the web server")
	serveCmd.Flags().String("host", "", "interface to listen on (default all)")
}
