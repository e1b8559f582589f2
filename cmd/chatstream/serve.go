package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/chatstream/chatstream/internal/ws"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local chat stream server",
	Long:  "Start a websocket stream server that accepts client connections, broadcasts posted messages and sends periodic health checks.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if servePort > 0 {
			cfg.Server.Port = servePort
		}

		log := newLogger(cfg)
		defer log.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		broadcaster := ws.NewBroadcaster(cfg.Server.MaxConnections, log)
		server := ws.NewServer(cfg.Server, broadcaster, log)

		mux := http.NewServeMux()
		server.SetupRoutes(mux)

		go server.RunHealthChecks(ctx)
		serveMetrics(ctx, cfg.Metrics.Addr, log)

		err = server.ListenAndServe(ctx, mux)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", zap.Error(err))
			return err
		}
		log.Info("Shut down")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Override server port")
}
