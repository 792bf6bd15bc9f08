// securityd is the server binary: it ingests events from the edge device,
// deduplicates them against the cooldown window, dispatches alerts over the
// configured channels and serves the client read/poll surface.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/tinegachris/iot-project-server-room-security/internal/api"
	"github.com/tinegachris/iot-project-server-room-security/internal/channel"
	"github.com/tinegachris/iot-project-server-room-security/internal/config"
	"github.com/tinegachris/iot-project-server-room-security/internal/dispatch"
	"github.com/tinegachris/iot-project-server-room-security/internal/edgeclient"
	"github.com/tinegachris/iot-project-server-room-security/internal/eventlog"
	"github.com/tinegachris/iot-project-server-room-security/internal/ingest"
	"github.com/tinegachris/iot-project-server-room-security/internal/logging"
	"github.com/tinegachris/iot-project-server-room-security/internal/status"
	"github.com/tinegachris/iot-project-server-room-security/internal/validate"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}
	if err := validate.ServerConfig(cfg); err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "securityd")
	if err != nil {
		zap.NewExample().Fatal("logger setup failed", zap.Error(err))
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("securityd failed", zap.Error(err))
	}
}

func run(cfg *config.Server, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	store := eventlog.NewStore(db, logger.Named("eventlog"))
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := store.EnsureSchema(initCtx); err != nil {
		return err
	}

	engine := dispatch.NewEngine(
		buildSenders(cfg.Channels, logger),
		store,
		dispatch.RetryPolicy{
			MaxAttempts: cfg.Dispatch.MaxAttempts,
			BaseDelay:   cfg.Dispatch.BaseDelay,
			MaxDelay:    cfg.Dispatch.MaxDelay,
		},
		dispatch.SelectionPolicy(cfg.Channels.Policy),
		cfg.Dispatch.QueueSize,
		logger.Named("dispatch"),
	)
	engine.Start(cfg.Dispatch.Workers)

	ingestSvc := ingest.NewService(store, engine, cfg.CooldownWindow, logger.Named("ingest"))
	aggregator := status.NewAggregator(cfg.OfflineThreshold, cfg.StoragePath,
		cfg.StorageMinFreePercent, logger.Named("status"))
	edge := edgeclient.New(cfg.EdgeBaseURL, cfg.EdgeAPIKey, cfg.EdgeCallTimeout,
		logger.Named("edgeclient"))

	server := api.NewServer(cfg, ingestSvc, store, aggregator, edge, logger.Named("api"))
	server.StartInBackground()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	engine.Stop(cfg.ShutdownGrace)
	return nil
}

// buildSenders wires whichever channels have provider configuration.
// Channels without configuration are simply absent; the selection policy
// skips them at dispatch time.
func buildSenders(cc config.ChannelConfig, logger *zap.Logger) []channel.Sender {
	var senders []channel.Sender

	if cc.SMSEndpoint != "" && cc.SMSTo != "" {
		senders = append(senders, channel.NewSMSSender(channel.SMSConfig{
			Endpoint:  cc.SMSEndpoint,
			AccountID: cc.SMSAccountID,
			Token:     cc.SMSToken,
			From:      cc.SMSFrom,
			To:        cc.SMSTo,
		}, nil))
	} else {
		logger.Warn("sms channel not configured")
	}

	if cc.SMTPHost != "" && cc.EmailTo != "" {
		senders = append(senders, channel.NewEmailSender(channel.EmailConfig{
			Host:     cc.SMTPHost,
			Port:     cc.SMTPPort,
			Username: cc.SMTPUser,
			Password: cc.SMTPPass,
			From:     cc.EmailFrom,
			To:       cc.EmailTo,
		}))
	} else {
		logger.Warn("email channel not configured")
	}

	if cc.PushServerKey != "" && cc.PushDeviceToken != "" {
		senders = append(senders, channel.NewPushSender(channel.PushConfig{
			Endpoint:    cc.PushEndpoint,
			ServerKey:   cc.PushServerKey,
			DeviceToken: cc.PushDeviceToken,
		}, nil))
	} else {
		logger.Warn("push channel not configured")
	}

	return senders
}
