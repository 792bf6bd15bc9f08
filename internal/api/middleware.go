package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type contextKey string

const deviceIDKey contextKey = "device_id"

// DeviceID returns the authenticated device identity set by the device key
// middleware, or "" for unauthenticated contexts.
func DeviceID(ctx context.Context) string {
	id, _ := ctx.Value(deviceIDKey).(string)
	return id
}

// requireDeviceKey authenticates the edge-facing endpoints with the
// X-API-Key header and stores the device identity on the request context.
// A rejected request creates no log row and is never retried by the server.
func (s *Server) requireDeviceKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		device, ok := lookupKey(s.deviceKeys, key)
		if !ok {
			s.logger.Warn("rejected device request",
				zap.String("path", r.URL.Path),
				zap.String("remote", r.RemoteAddr))
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), deviceIDKey, device)))
	}
}

// requireBearer authenticates the client read/poll surface.
func (s *Server) requireBearer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok || !tokenAllowed(s.clientTokens, token) {
			s.logger.Warn("rejected client request",
				zap.String("path", r.URL.Path),
				zap.String("remote", r.RemoteAddr))
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next(w, r)
	}
}

// lookupKey compares in constant time so key validity cannot be probed by
// timing.
func lookupKey(keys map[string]string, candidate string) (string, bool) {
	if candidate == "" {
		return "", false
	}
	for key, device := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(candidate)) == 1 {
			return device, true
		}
	}
	return "", false
}

func tokenAllowed(tokens []string, candidate string) bool {
	if candidate == "" {
		return false
	}
	ok := false
	for _, t := range tokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(candidate)) == 1 {
			ok = true
		}
	}
	return ok
}

// methodOnly rejects every method except the one given.
func methodOnly(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}
