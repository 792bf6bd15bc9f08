package edge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tinegachris/iot-project-server-room-security/internal/capture"
	"github.com/tinegachris/iot-project-server-room-security/internal/config"
	"github.com/tinegachris/iot-project-server-room-security/internal/event"
	"github.com/tinegachris/iot-project-server-room-security/internal/sensor"
)

// Agent is the device main loop: a single cooperative scan over the sensor
// lines, with media capture as the only concurrent operation.
type Agent struct {
	cfg     *config.Edge
	monitor *sensor.Monitor
	access  *sensor.AccessReader
	trigger *capture.Trigger // nil when no camera is configured
	uplink  *Uplink
	lines   LineReader
	cards   CredentialSource
	logger  *zap.Logger

	binaryIDs []string
	accessID  string

	now func() time.Time
}

func NewAgent(cfg *config.Edge, monitor *sensor.Monitor, access *sensor.AccessReader, trigger *capture.Trigger, uplink *Uplink, lines LineReader, cards CredentialSource, logger *zap.Logger) *Agent {
	a := &Agent{
		cfg:     cfg,
		monitor: monitor,
		access:  access,
		trigger: trigger,
		uplink:  uplink,
		lines:   lines,
		cards:   cards,
		logger:  logger.Named("agent"),
		now:     time.Now,
	}
	for _, sc := range cfg.Sensors {
		if sc.Kind == string(sensor.KindAccess) {
			a.accessID = sc.ID
			continue
		}
		a.binaryIDs = append(a.binaryIDs, sc.ID)
	}
	return a
}

// Run drives the scan and heartbeat loops until the context ends. The first
// heartbeat goes out immediately so the server sees the device as soon as it
// boots.
func (a *Agent) Run(ctx context.Context) error {
	scanTicker := time.NewTicker(a.cfg.SensorPollEvery)
	defer scanTicker.Stop()
	hbTicker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer hbTicker.Stop()

	a.heartbeat(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-scanTicker.C:
			a.scan(ctx)
		case <-hbTicker.C:
			a.heartbeat(ctx)
		}
	}
}

// scan reads every line once and publishes whatever candidates fall out.
func (a *Agent) scan(ctx context.Context) {
	now := a.now()

	for _, id := range a.binaryIDs {
		raw, err := a.lines.Read(ctx, id)
		if err != nil {
			a.monitor.MarkDegraded(id, err)
			continue
		}
		cand, err := a.monitor.Observe(id, raw, now)
		if err != nil {
			a.logger.Error("sensor observation failed",
				zap.String("sensor_id", id), zap.Error(err))
			continue
		}
		if cand != nil {
			a.publish(ctx, *cand)
		}
	}

	if a.access != nil {
		a.access.Tick(now)
		card, ok, err := a.cards.Poll(ctx)
		if err != nil {
			a.monitor.MarkDegraded(a.accessID, err)
		} else if ok {
			if cand := a.access.Credential(card, now); cand != nil {
				a.publish(ctx, *cand)
			}
		}
	}
}

// publish attaches media when the event warrants it, then uplinks. A failed
// uplink is logged and dropped; the server-side cooldown makes redelivery of
// the same incident cheap when the line recovers.
func (a *Agent) publish(ctx context.Context, cand event.Candidate) {
	if a.trigger != nil {
		cand = a.trigger.MaybeCapture(ctx, cand)
	}
	accepted, err := a.uplink.PostEvent(ctx, cand)
	switch {
	case err != nil:
		a.logger.Error("event uplink failed",
			zap.String("event_type", string(cand.Type)),
			zap.Error(err))
	case !accepted:
		a.logger.Debug("event deduplicated by server",
			zap.String("event_type", string(cand.Type)))
	}
}

func (a *Agent) heartbeat(ctx context.Context) {
	if err := a.uplink.Heartbeat(ctx, a.now(), a.monitor.Snapshot()); err != nil {
		a.logger.Warn("heartbeat failed", zap.Error(err))
	}
}

// TestSensors runs one diagnostic pass over every line and reports
// per-sensor results. Used by the command API's test_sensors action.
func (a *Agent) TestSensors(ctx context.Context) map[string]string {
	results := make(map[string]string, len(a.binaryIDs)+1)
	for _, id := range a.binaryIDs {
		if _, err := a.lines.Read(ctx, id); err != nil {
			results[id] = "error: " + err.Error()
			continue
		}
		results[id] = "ok"
	}
	if a.accessID != "" {
		if _, _, err := a.cards.Poll(ctx); err != nil {
			results[a.accessID] = "error: " + err.Error()
		} else {
			results[a.accessID] = "ok"
		}
	}
	return results
}

// SensorStatus exposes the monitor snapshot for the command API.
func (a *Agent) SensorStatus() []sensor.Status {
	return a.monitor.Snapshot()
}
