package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/gatewatch/internal/gateway"
	"github.com/ppiankov/gatewatch/internal/server"
)

var (
	serveAddr   string
	serveConfig string
	servePolicy string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "HTTP listen address")
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Path to engine config YAML")
	serveCmd.Flags().StringVar(&servePolicy, "policy", "", "Path to policy YAML")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP inspection server",
	Long:  "Runs gatewatch as an HTTP server exposing /analyze, /health, /metrics,\nand an admin surface for policy reload and model activation.\nThe policy file hot-reloads on change.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw, err := gateway.Build(ctx, gateway.Options{
		ConfigPath: serveConfig,
		PolicyPath: servePolicy,
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}
	defer gw.Close()

	srv := server.New(server.Config{Addr: serveAddr}, gw, log)

	reloader, err := server.NewReloader(srv.ReloadPolicy, log, gw.PolicyPath)
	if err != nil {
		log.Warn("hot-reload disabled", "err", err)
	}
	if reloader != nil {
		go reloader.Run(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	return srv.Run(ctx)
}
