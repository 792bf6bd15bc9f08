// Package status computes the point-in-time health snapshot served by the
// read API. The snapshot is derived on demand from the last heartbeat, the
// sensor states it carried and the storage headroom; nothing is cached and
// nothing is mutated.
package status

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/zap"

	"github.com/tinegachris/iot-project-server-room-security/internal/sensor"
)

// Health is the overall system condition.
type Health string

const (
	Healthy  Health = "healthy"
	Degraded Health = "degraded"
	Errored  Health = "error"
)

// Snapshot is the health view returned by GET /status.
type Snapshot struct {
	Status             Health         `json:"status"`
	Sensors            []SensorHealth `json:"sensors"`
	EdgeOnline         bool           `json:"edge_online"`
	LastHeartbeat      *time.Time     `json:"last_heartbeat,omitempty"`
	StorageFreePercent float64        `json:"storage_free_percent"`
	GeneratedAt        time.Time      `json:"generated_at"`
}

// SensorHealth is per-sensor liveness as last reported by the edge.
type SensorHealth struct {
	ID       string      `json:"id"`
	Kind     sensor.Kind `json:"kind"`
	Active   bool        `json:"active"`
	Degraded bool        `json:"degraded"`
	Live     bool        `json:"live"`
}

// Aggregator folds heartbeats into a health snapshot. RecordHeartbeat is the
// only write path; Snapshot is a pure read.
type Aggregator struct {
	offlineThreshold time.Duration
	storagePath      string
	minFreePercent   float64
	logger           *zap.Logger

	mu            sync.RWMutex
	lastHeartbeat time.Time
	sensors       []sensor.Status

	now       func() time.Time
	diskUsage func(path string) (*disk.UsageStat, error)
}

func NewAggregator(offlineThreshold time.Duration, storagePath string, minFreePercent float64, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		offlineThreshold: offlineThreshold,
		storagePath:      storagePath,
		minFreePercent:   minFreePercent,
		logger:           logger,
		now:              time.Now,
		diskUsage:        disk.Usage,
	}
}

// RecordHeartbeat stores the edge's liveness signal and the sensor states it
// reported. A heartbeat with no sensor payload keeps the previous states.
func (a *Aggregator) RecordHeartbeat(at time.Time, sensors []sensor.Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if at.After(a.lastHeartbeat) {
		a.lastHeartbeat = at
	}
	if len(sensors) > 0 {
		a.sensors = sensors
	}
}

// LastHeartbeat returns the most recent heartbeat time, zero if none seen.
func (a *Aggregator) LastHeartbeat() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastHeartbeat
}

// Snapshot derives the current health. Edge offline or exhausted storage is
// an error; a degraded sensor or low headroom degrades; otherwise healthy.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	lastHB := a.lastHeartbeat
	reported := make([]sensor.Status, len(a.sensors))
	copy(reported, a.sensors)
	a.mu.RUnlock()

	now := a.now()
	edgeOnline := !lastHB.IsZero() && now.Sub(lastHB) < a.offlineThreshold

	freePercent := 100.0
	storageKnown := false
	if usage, err := a.diskUsage(a.storagePath); err != nil {
		a.logger.Warn("storage headroom check failed",
			zap.String("path", a.storagePath),
			zap.Error(err))
	} else if usage.Total > 0 {
		freePercent = 100.0 - usage.UsedPercent
		storageKnown = true
	}

	snap := Snapshot{
		Sensors:            make([]SensorHealth, 0, len(reported)),
		EdgeOnline:         edgeOnline,
		StorageFreePercent: freePercent,
		GeneratedAt:        now,
	}
	if !lastHB.IsZero() {
		hb := lastHB
		snap.LastHeartbeat = &hb
	}

	anyDegraded := false
	for _, s := range reported {
		live := edgeOnline && !s.Degraded
		if s.Degraded {
			anyDegraded = true
		}
		snap.Sensors = append(snap.Sensors, SensorHealth{
			ID:       s.ID,
			Kind:     s.Kind,
			Active:   s.Active,
			Degraded: s.Degraded,
			Live:     live,
		})
	}

	switch {
	case !edgeOnline:
		snap.Status = Errored
	case storageKnown && freePercent <= 0:
		snap.Status = Errored
	case anyDegraded, storageKnown && freePercent < a.minFreePercent, len(reported) == 0:
		snap.Status = Degraded
	default:
		snap.Status = Healthy
	}
	return snap
}
