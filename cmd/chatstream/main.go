package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/chatstream/chatstream/internal/config"
	"github.com/chatstream/chatstream/internal/connection"
	"github.com/chatstream/chatstream/internal/logger"
	"github.com/chatstream/chatstream/internal/metrics"
	"github.com/chatstream/chatstream/internal/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile  string
	logLevel    string
	metricsAddr string
	devMode     bool
)

var rootCmd = &cobra.Command{
	Use:   "chatstream",
	Short: "Resilient chat stream connections",
	Long: `chatstream keeps a websocket connection to a chat stream server alive.

  serve   run a local stream server
  watch   connect and log every connection callback
  tail    connect and follow the stream in a terminal UI`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "Development mode (console logs at debug level)")
}

// loadConfig reads the config file and applies global flag overrides. An
// empty --config runs on built-in defaults.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	return cfg, nil
}

// serveMetrics exposes /metrics on addr until ctx is done. An empty addr
// disables it.
func serveMetrics(ctx context.Context, addr string, log *zap.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Info("Metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("Metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}

func newLogger(cfg *config.Config) *zap.Logger {
	if devMode && cfg.Log.File == "" {
		if log, err := logger.NewDevelopment(); err == nil {
			return log
		}
	}
	return logger.New(cfg.Log)
}

// newClient builds a connection client with transports tuned from cfg.
func newClient(cfg *config.Config, handler connection.Handler, log *zap.Logger) (*connection.Client, error) {
	factory := transport.NewWebSocketFactory(transport.Options{
		HandshakeTimeout: cfg.Connection.HandshakeTimeout,
		WriteTimeout:     cfg.Connection.WriteTimeout,
	}, log)
	return connection.New(connection.OptionsFromConfig(cfg, log), handler, factory)
}
