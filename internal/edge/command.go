package edge

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tinegachris/iot-project-server-room-security/internal/capture"
)

// CommandServer is the device-local HTTP API the server forwards control
// actions to. It is request/response only; the device never pushes.
type CommandServer struct {
	httpServer *http.Server
	apiKey     string
	agent      *Agent
	actuator   Actuator
	trigger    *capture.Trigger
	logger     *zap.Logger

	mu           sync.Mutex
	doorLocked   bool
	windowLocked bool
}

func NewCommandServer(addr, apiKey string, agent *Agent, actuator Actuator, trigger *capture.Trigger, logger *zap.Logger) *CommandServer {
	s := &CommandServer{
		apiKey:       apiKey,
		agent:        agent,
		actuator:     actuator,
		trigger:      trigger,
		logger:       logger.Named("command-api"),
		doorLocked:   true,
		windowLocked: true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/control", s.requireKey(s.handleControl))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		s.respond(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

// Handler exposes the mux for tests.
func (s *CommandServer) Handler() http.Handler { return s.httpServer.Handler }

func (s *CommandServer) Start() error {
	s.logger.Info("command api listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *CommandServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *CommandServer) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			s.respond(w, http.StatusUnauthorized, map[string]any{"error": "invalid API key"})
			return
		}
		next(w, r)
	}
}

type commandRequest struct {
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

func (s *CommandServer) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respond(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	var req commandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.respond(w, http.StatusBadRequest, map[string]any{"error": "malformed request body"})
		return
	}

	result, err := s.execute(r.Context(), req)
	if err != nil {
		s.logger.Error("command failed",
			zap.String("action", req.Action),
			zap.Error(err))
		s.respond(w, http.StatusInternalServerError, map[string]any{
			"action": req.Action,
			"error":  err.Error(),
		})
		return
	}
	if result == nil {
		s.respond(w, http.StatusBadRequest, map[string]any{
			"error": "unknown action: " + req.Action,
		})
		return
	}
	s.respond(w, http.StatusOK, result)
}

// execute runs one action. A nil result with nil error means the action is
// unknown.
func (s *CommandServer) execute(ctx context.Context, req commandRequest) (map[string]any, error) {
	switch req.Action {
	case "lock":
		if err := s.actuator.LockDoor(ctx); err != nil {
			return nil, err
		}
		s.setDoorLocked(true)
		return map[string]any{"action": "lock", "status": "locked"}, nil

	case "unlock":
		if err := s.actuator.UnlockDoor(ctx); err != nil {
			return nil, err
		}
		s.setDoorLocked(false)
		return map[string]any{"action": "unlock", "status": "unlocked"}, nil

	case "lock_window":
		if err := s.actuator.LockWindow(ctx); err != nil {
			return nil, err
		}
		s.setWindowLocked(true)
		return map[string]any{"action": "lock_window", "status": "locked"}, nil

	case "unlock_window":
		if err := s.actuator.UnlockWindow(ctx); err != nil {
			return nil, err
		}
		s.setWindowLocked(false)
		return map[string]any{"action": "unlock_window", "status": "unlocked"}, nil

	case "capture_image":
		if s.trigger == nil {
			return nil, errNoCamera
		}
		url, err := s.trigger.CaptureNow(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"action": "capture_image", "media_url": url}, nil

	case "record_video":
		if s.trigger == nil {
			return nil, errNoCamera
		}
		d := 10 * time.Second
		if raw, ok := req.Parameters["duration_seconds"].(float64); ok && raw > 0 {
			d = time.Duration(raw) * time.Second
		}
		url, err := s.trigger.RecordNow(ctx, d)
		if err != nil {
			return nil, err
		}
		return map[string]any{"action": "record_video", "media_url": url}, nil

	case "test_sensors":
		return map[string]any{
			"action":  "test_sensors",
			"results": s.agent.TestSensors(ctx),
		}, nil

	case "status":
		door, window := s.locks()
		return map[string]any{
			"action":        "status",
			"sensors":       s.agent.SensorStatus(),
			"door_locked":   door,
			"window_locked": window,
		}, nil

	case "restart_system":
		if err := s.actuator.Restart(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"action": "restart_system", "status": "restarting"}, nil
	}
	return nil, nil
}

var errNoCamera = errors.New("no camera configured")

func (s *CommandServer) setDoorLocked(v bool) {
	s.mu.Lock()
	s.doorLocked = v
	s.mu.Unlock()
}

func (s *CommandServer) setWindowLocked(v bool) {
	s.mu.Lock()
	s.windowLocked = v
	s.mu.Unlock()
}

func (s *CommandServer) locks() (door, window bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doorLocked, s.windowLocked
}

func (s *CommandServer) respond(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
