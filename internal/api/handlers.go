package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tinegachris/iot-project-server-room-security/internal/event"
	"github.com/tinegachris/iot-project-server-room-security/internal/eventlog"
	"github.com/tinegachris/iot-project-server-room-security/internal/ingest"
	"github.com/tinegachris/iot-project-server-room-security/internal/sensor"
	"github.com/tinegachris/iot-project-server-room-security/internal/status"
)

// Submitter is the ingestion entry point used by the event and alert
// handlers.
type Submitter interface {
	Submit(ctx context.Context, c event.Candidate) (ingest.Result, error)
}

// LogReader serves the query surface over the event log.
type LogReader interface {
	List(ctx context.Context, f eventlog.Filter) ([]event.Logged, error)
	Acknowledge(ctx context.Context, id int64) error
}

// StatusSource provides the health snapshot and absorbs heartbeats.
type StatusSource interface {
	Snapshot() status.Snapshot
	RecordHeartbeat(at time.Time, sensors []sensor.Status)
}

// EdgeCommander forwards a control action to the edge device.
type EdgeCommander interface {
	Command(ctx context.Context, action string, parameters map[string]any) (map[string]any, error)
}

type eventRequest struct {
	EventType string      `json:"event_type"`
	Timestamp string      `json:"timestamp"`
	SensorID  string      `json:"sensor_id,omitempty"`
	Severity  string      `json:"severity,omitempty"`
	DedupKey  string      `json:"dedup_key,omitempty"`
	Detail    eventDetail `json:"detail"`
}

type eventDetail struct {
	Message    string            `json:"message"`
	SensorData map[string]string `json:"sensor_data,omitempty"`
	MediaURL   string            `json:"media_url,omitempty"`
}

// handleEvents ingests a candidate from the edge. Suppressed duplicates get
// a 200 so the device treats them as delivered and does not retry.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !readJSON(w, r, &req) {
		return
	}

	c := event.Candidate{
		Type:             event.Type(req.EventType),
		SourceSensorID:   req.SensorID,
		Severity:         event.Severity(req.Severity),
		ExplicitDedupKey: req.DedupKey,
		Detail: event.Detail{
			Message:    req.Detail.Message,
			SensorData: req.Detail.SensorData,
			MediaURL:   req.Detail.MediaURL,
		},
	}
	if req.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "timestamp must be RFC3339")
			return
		}
		c.OccurredAt = ts
	}

	res, err := s.submitter.Submit(r.Context(), c)
	switch {
	case errors.Is(err, ingest.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error("event ingestion failed",
			zap.String("device", DeviceID(r.Context())),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "event could not be logged")
	case res.Suppressed:
		writeJSON(w, http.StatusOK, map[string]any{
			"accepted": false,
			"reason":   "deduplicated",
		})
	default:
		writeJSON(w, http.StatusCreated, map[string]any{
			"log_id":   res.Event.ID,
			"accepted": true,
		})
	}
}

type heartbeatRequest struct {
	Timestamp string          `json:"timestamp"`
	Sensors   []sensor.Status `json:"sensors,omitempty"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if !readJSON(w, r, &req) {
		return
	}
	at := time.Now()
	if req.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "timestamp must be RFC3339")
			return
		}
		// A device clock running ahead would pin edge_online true past the
		// offline threshold; receipt time bounds it.
		if ts.Before(at) {
			at = ts
		}
	}
	s.statusSource.RecordHeartbeat(at, req.Sensors)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.statusSource.Snapshot())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := eventlog.Filter{EventType: q.Get("event_type")}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}
	if raw := q.Get("after_id"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after_id must be an integer")
			return
		}
		f.AfterID = n
	}
	for param, dst := range map[string]**time.Time{
		"start_date": &f.StartDate,
		"end_date":   &f.EndDate,
	} {
		if raw := q.Get(param); raw != "" {
			ts, err := parseDate(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, param+" must be RFC3339 or YYYY-MM-DD")
				return
			}
			*dst = &ts
		}
	}

	logs, err := s.logReader.List(r.Context(), f)
	if err != nil {
		s.logger.Error("log query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "log query failed")
		return
	}
	if logs == nil {
		logs = []event.Logged{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func parseDate(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", raw)
}

type alertRequest struct {
	Message    string            `json:"message"`
	SensorData map[string]string `json:"sensor_data,omitempty"`
	DedupKey   string            `json:"dedup_key,omitempty"`
}

// handleAlert logs a manual alert on behalf of an operator.
func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if !readJSON(w, r, &req) {
		return
	}
	c := event.Candidate{
		Type:             event.TypeManualAlert,
		ExplicitDedupKey: req.DedupKey,
		Detail: event.Detail{
			Message:    req.Message,
			SensorData: req.SensorData,
		},
	}
	res, err := s.submitter.Submit(r.Context(), c)
	switch {
	case errors.Is(err, ingest.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error("manual alert failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "alert could not be logged")
	case res.Suppressed:
		writeJSON(w, http.StatusOK, map[string]any{
			"accepted": false,
			"reason":   "deduplicated",
		})
	default:
		writeJSON(w, http.StatusCreated, map[string]any{"log_id": res.Event.ID})
	}
}

type controlRequest struct {
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// handleControl forwards a client command to the edge device and relays the
// per-action result.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.edgeTimeout)
	defer cancel()

	result, err := s.edge.Command(ctx, req.Action, req.Parameters)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, "edge device did not respond")
			return
		}
		s.logger.Error("edge command failed",
			zap.String("action", req.Action),
			zap.Error(err))
		writeError(w, http.StatusBadGateway, "edge command failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type acknowledgeRequest struct {
	EventID int64 `json:"event_id"`
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.EventID < 1 {
		writeError(w, http.StatusBadRequest, "event_id is required")
		return
	}
	if err := s.logReader.Acknowledge(r.Context(), req.EventID); err != nil {
		if errors.Is(err, eventlog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no such event")
			return
		}
		s.logger.Error("acknowledge failed",
			zap.Int64("event_id", req.EventID),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "acknowledge failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}
