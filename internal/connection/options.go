package connection

import (
	"math/rand"
	"time"

	"github.com/chatstream/chatstream/internal/config"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultMonitorInterval     = time.Second
	DefaultSilenceSlack        = 10 * time.Second
	DefaultOfflineGrace        = 5 * time.Second
)

// Options configures a Client.
type Options struct {
	// URL is the base connect endpoint, e.g. ws://host:8080/connect.
	URL         string
	Credentials Credentials

	HealthCheckInterval time.Duration
	MonitorInterval     time.Duration
	// SilenceSlack is added to HealthCheckInterval to get the longest gap
	// between events the monitor tolerates on a healthy connection.
	SilenceSlack time.Duration
	OfflineGrace time.Duration

	Clock clockwork.Clock
	// Rand returns values in [0, 1) for backoff jitter.
	Rand   func() float64
	Logger *zap.Logger
}

// OptionsFromConfig maps file configuration onto Options.
func OptionsFromConfig(cfg *config.Config, logger *zap.Logger) Options {
	return Options{
		URL: cfg.Client.URL,
		Credentials: Credentials{
			APIKey: cfg.Client.APIKey,
			UserID: cfg.Client.UserID,
			Token:  cfg.Client.Token,
		},
		HealthCheckInterval: cfg.Connection.HealthCheckInterval,
		MonitorInterval:     cfg.Connection.MonitorInterval,
		SilenceSlack:        cfg.Connection.SilenceSlack,
		OfflineGrace:        cfg.Connection.OfflineGrace,
		Logger:              logger,
	}
}

func (o *Options) setDefaults() {
	if o.HealthCheckInterval <= 0 {
		o.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = DefaultMonitorInterval
	}
	if o.SilenceSlack <= 0 {
		o.SilenceSlack = DefaultSilenceSlack
	}
	if o.OfflineGrace <= 0 {
		o.OfflineGrace = DefaultOfflineGrace
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}
