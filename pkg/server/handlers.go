package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gwillem/fingercount/pkg/hand"
	"github.com/gwillem/fingercount/pkg/protocol"
	"github.com/gwillem/fingercount/pkg/relay"
	"github.com/gwillem/fingercount/pkg/tracking"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status          string          `json:"status"`
	Hub             string          `json:"hub"`
	Clients         int             `json:"clients"`
	AntennasEnabled bool            `json:"antennas_enabled"`
	Uptime          string          `json:"uptime"`
	Loop            *tracking.Stats `json:"loop,omitempty"`
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}

// classify maps a command error to an HTTP status and a reply code.
func classify(err error) (int, string) {
	code := protocol.ErrorCode(err)
	switch code {
	case protocol.CodeMalformed:
		return http.StatusBadRequest, code
	case protocol.CodeBusy, protocol.CodeClosed:
		return http.StatusServiceUnavailable, code
	case protocol.CodeActuator:
		return http.StatusBadGateway, code
	case protocol.CodeTimeout:
		return http.StatusGatewayTimeout, code
	}
	return http.StatusInternalServerError, code
}

func (s *Server) respondCommandError(w http.ResponseWriter, cmd protocol.MsgType, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Warn("command failed", "command", cmd, "code", code, "error", err)
	}
	respondError(w, status, err.Error())
}

// submit relays m on behalf of an HTTP client.
func (s *Server) submit(r *http.Request, m protocol.Message) (relay.Result, error) {
	cmd, err := m.Command("http:"+getClientIP(r), time.Now())
	if err != nil {
		return relay.Result{}, err
	}
	return s.relay.Submit(r.Context(), cmd)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"service": "fingercount",
		"endpoints": []string{
			"GET /ws",
			"GET /finger_count",
			"GET /state",
			"GET /antennas",
			"POST /antennas",
			"POST /play_sound",
			"POST /robot_control",
			"GET /health",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:          "healthy",
		Hub:             s.hub.State().String(),
		Clients:         s.hub.Len(),
		AntennasEnabled: s.relay.AntennasEnabled(),
		Uptime:          time.Since(s.started).Round(time.Second).String(),
	}
	if s.cfg.LoopStats != nil {
		st := s.cfg.LoopStats()
		resp.Loop = &st
	}
	respondJSON(w, http.StatusOK, resp)
}

// latest returns the newest published snapshot, or the empty one before the
// first tick.
func (s *Server) latest() hand.Snapshot {
	if snap, ok := s.hub.Latest(); ok {
		return snap
	}
	return hand.NewSnapshot(0, nil, time.Time{})
}

func (s *Server) handleFingerCount(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, protocol.FingerCountResponse{
		FingerCount: s.latest().TotalFingers,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, protocol.NewState(s.latest()))
}

func (s *Server) handleGetAntennas(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, protocol.AntennasResponse{
		AntennasEnabled: s.relay.AntennasEnabled(),
	})
}

func (s *Server) handleSetAntennas(w http.ResponseWriter, r *http.Request) {
	var req protocol.AntennasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Enabled == nil {
		respondError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	res, err := s.submit(r, protocol.Message{Type: protocol.MsgAntennas, Enabled: req.Enabled})
	if err != nil {
		s.respondCommandError(w, protocol.MsgAntennas, err)
		return
	}
	respondJSON(w, http.StatusOK, protocol.AntennasResponse{
		AntennasEnabled: res.AntennasEnabled,
	})
}

func (s *Server) handlePlaySound(w http.ResponseWriter, r *http.Request) {
	if _, err := s.submit(r, protocol.Message{Type: protocol.MsgPlaySound}); err != nil {
		s.respondCommandError(w, protocol.MsgPlaySound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRobotControl(w http.ResponseWriter, r *http.Request) {
	var req protocol.RobotControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	_, err := s.submit(r, protocol.Message{
		Type:      protocol.MsgRobotControl,
		Direction: req.Direction,
		Edge:      req.Edge,
	})
	if err != nil {
		s.respondCommandError(w, protocol.MsgRobotControl, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
