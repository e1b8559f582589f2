package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/chatstream/chatstream/internal/protocol"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// logHandler logs every connection callback.
type logHandler struct {
	log *zap.Logger
}

func (h logHandler) OnConnectionResolved(ev *protocol.Event) {
	h.log.Info("Connection resolved", zap.String("connection_id", ev.ConnectionID))
}

func (h logHandler) OnConnectionRecovered() { h.log.Info("Connection recovered") }
func (h logHandler) OnWentOffline()         { h.log.Warn("Went offline") }
func (h logHandler) OnWentOnline()          { h.log.Info("Went online") }

func (h logHandler) OnTokenExpired() {
	h.log.Warn("Token expired, refresh credentials and reconnect")
}

func (h logHandler) OnError(err *protocol.APIError) {
	h.log.Error("Stream error",
		zap.Int("code", err.Code),
		zap.String("message", err.Message),
		zap.Int("status_code", err.StatusCode),
	)
}

func (h logHandler) OnEvent(ev *protocol.Event) {
	fields := []zap.Field{
		zap.String("type", string(ev.Type)),
		zap.String("cid", ev.CID),
	}
	if ev.Message != nil {
		fields = append(fields, zap.String("text", ev.Message.Text))
	}
	h.log.Info("Event", fields...)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect and log connection callbacks",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg)
		defer log.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		serveMetrics(ctx, cfg.Metrics.Addr, log)

		client, err := newClient(cfg, logHandler{log: log}, log)
		if err != nil {
			return err
		}

		client.Connect()
		<-ctx.Done()
		log.Info("Disconnecting")
		client.Disconnect()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
