package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

const maxBodySize = 4096

func (s *Server) HandleRealtimeJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.allowREST(w, r) {
		return
	}
	userID, err := decodePresenceRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.lookupTimeout)
	defer cancel()
	s.presence.HandleJoin(ctx, userID, httpHandle(userID))
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) HandleRealtimeOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.allowREST(w, r) {
		return
	}
	userID, err := decodePresenceRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.presence.HandleLeave(httpHandle(userID))
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// HandleRealtime returns the presence list and statistics without joining.
func (s *Server) HandleRealtime(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if !s.allowREST(w, r) {
		return
	}
	snapshot := s.presence.Snapshot()
	payload, err := encodeEvent(snapshot)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if !s.allowREST(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, s.presence.Snapshot().Statistical)
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: Version,
		Online:  s.presence.Online(),
		Conns:   s.hub.Clients(),
	})
}

func (s *Server) allowREST(w http.ResponseWriter, r *http.Request) bool {
	if s.restLimiter == nil || s.restLimiter.Allow(s.clientIP(r)) {
		return true
	}
	s.metrics.RateLimited("rest")
	http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
	return false
}

func decodePresenceRequest(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var req presenceRequest
	if err := decodeJSON(r, &req); err != nil {
		return "", err
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return "", errors.New("id is required")
	}
	return id, nil
}

func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
