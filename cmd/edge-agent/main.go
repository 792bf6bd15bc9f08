// edge-agent runs on the server-room device: it scans the sensor lines,
// uploads events and heartbeats to the server, and serves the local command
// API that the server forwards control actions to.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tinegachris/iot-project-server-room-security/internal/capture"
	"github.com/tinegachris/iot-project-server-room-security/internal/config"
	"github.com/tinegachris/iot-project-server-room-security/internal/edge"
	"github.com/tinegachris/iot-project-server-room-security/internal/logging"
	"github.com/tinegachris/iot-project-server-room-security/internal/sensor"
	"github.com/tinegachris/iot-project-server-room-security/internal/storage"
	"github.com/tinegachris/iot-project-server-room-security/internal/validate"
)

func main() {
	cfg, err := config.LoadEdge()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}
	if err := validate.EdgeConfig(cfg); err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "edge-agent")
	if err != nil {
		zap.NewExample().Fatal("logger setup failed", zap.Error(err))
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("edge-agent failed", zap.Error(err))
	}
}

func run(cfg *config.Edge, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	monitor := sensor.NewMonitor(sensorConfigs(cfg), logger)

	var access *sensor.AccessReader
	for _, sc := range cfg.Sensors {
		if sc.Kind == string(sensor.KindAccess) {
			access = sensor.NewAccessReader(sc.ID, cfg.AuthorizedCards,
				cfg.CredentialTimeout, logger)
		}
	}

	trigger := buildTrigger(cfg, logger)

	// The simulated hardware stands in until a GPIO implementation of the
	// LineReader/CredentialSource/Actuator interfaces is wired for the
	// target board.
	hw := edge.NewSimulatedHardware()

	uplink := edge.NewUplink(cfg.ServerURL, cfg.APIKey, 15*time.Second, logger)
	agent := edge.NewAgent(cfg, monitor, access, trigger, uplink, hw, hw, logger)
	commands := edge.NewCommandServer(cfg.CommandAddr, cfg.APIKey, agent, hw, trigger, logger)

	go func() {
		if err := commands.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("command api failed", zap.Error(err))
		}
	}()

	err := agent.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := commands.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("command api shutdown incomplete", zap.Error(serr))
	}
	return err
}

func sensorConfigs(cfg *config.Edge) []sensor.Config {
	var out []sensor.Config
	for _, sc := range cfg.Sensors {
		if sc.Kind == string(sensor.KindAccess) {
			continue
		}
		out = append(out, sensor.Config{
			ID:             sc.ID,
			Kind:           sensor.Kind(sc.Kind),
			DebounceWindow: sc.DebounceWindow,
			TriggerDelay:   sc.TriggerDelay,
		})
	}
	return out
}

// buildTrigger wires the media store when one is configured; without it the
// agent forwards events with no visual evidence.
func buildTrigger(cfg *config.Edge, logger *zap.Logger) *capture.Trigger {
	if cfg.Media.Endpoint == "" {
		logger.Warn("media store not configured, events carry no evidence")
		return nil
	}
	store, err := storage.NewMinIOStore(storage.MinIOConfig{
		Endpoint:        cfg.Media.Endpoint,
		AccessKeyID:     cfg.Media.AccessKey,
		SecretAccessKey: cfg.Media.SecretKey,
		UseSSL:          cfg.Media.UseSSL,
		Bucket:          cfg.Media.Bucket,
		Region:          cfg.Media.Region,
		URLExpiry:       cfg.Media.URLExpiry,
	}, logger)
	if err != nil {
		logger.Error("media store unavailable, continuing without capture", zap.Error(err))
		return nil
	}
	// The simulated camera keeps the capture path live until a board-specific
	// driver replaces it, same as the other hardware seams.
	return capture.NewTrigger(edge.NewSimulatedCamera(), store, cfg.CaptureTimeout, 2, logger)
}
