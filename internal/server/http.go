package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	tracegatev1 "github.com/alfredjeanlab/tracegate/api/tracegate/v1"
)

// maxBodyBytes bounds request bodies; a full ICT record with measurements
// stays well under it.
const maxBodyBytes = 4 << 20

// NewHTTPHandler returns an http.Handler with all routes registered.
// Requests other than login and GET /v1/health must carry a valid
// Authorization: Bearer <token> header.
func (s *RoutingServer) NewHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", s.handleLogin)
	mux.HandleFunc("DELETE /v1/sessions/current", s.handleLogout)
	mux.HandleFunc("POST /v1/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /v1/units/{serial}/results", s.handleSubmitResult)
	mux.HandleFunc("GET /v1/units/{serial}/history", s.handleQueryHistory)
	mux.HandleFunc("POST /v1/units/{serial}/overrides", s.handleRequestOverride)
	mux.HandleFunc("POST /v1/units/{serial}/scrap", s.handleScrap)
	mux.HandleFunc("POST /v1/units/{serial}/hold", s.handleHold)
	mux.HandleFunc("DELETE /v1/units/{serial}/hold", s.handleRelease)
	mux.HandleFunc("GET /v1/golden-samples/{serial}", s.handleCheckGoldenSample)
	mux.HandleFunc("PUT /v1/golden-samples/{serial}", s.handleAddGoldenSample)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	return AccessLog(s.logger.Named("http"), AuthMiddleware(s, mux))
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return inputError("invalid request body: " + err.Error())
	}
	return nil
}

// handleLogin handles POST /v1/sessions.
func (s *RoutingServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req tracegatev1.LoginRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	resp, err := s.Login(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleLogout handles DELETE /v1/sessions/current.
func (s *RoutingServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	resp, err := s.Logout(r.Context(), &tracegatev1.LogoutRequest{})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHeartbeat handles POST /v1/heartbeat.
func (s *RoutingServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req tracegatev1.HeartbeatRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	resp, err := s.Heartbeat(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSubmitResult handles POST /v1/units/{serial}/results. The body is
// the TestRecord; a serial in the body must match the path.
func (s *RoutingServer) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	var req tracegatev1.SubmitResultRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	serial := r.PathValue("serial")
	if req.Record != nil {
		if req.Record.Serial == "" {
			req.Record.Serial = serial
		}
		if req.Record.Serial != serial {
			writeDomainError(w, inputError("record serial does not match path"))
			return
		}
	}
	resp, err := s.SubmitResult(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if resp.Committed {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

// handleQueryHistory handles GET /v1/units/{serial}/history.
func (s *RoutingServer) handleQueryHistory(w http.ResponseWriter, r *http.Request) {
	resp, err := s.QueryHistory(r.Context(), &tracegatev1.QueryHistoryRequest{Serial: r.PathValue("serial")})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRequestOverride handles POST /v1/units/{serial}/overrides.
func (s *RoutingServer) handleRequestOverride(w http.ResponseWriter, r *http.Request) {
	var req tracegatev1.RequestOverrideRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	req.Serial = r.PathValue("serial")
	resp, err := s.RequestOverride(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleScrap handles POST /v1/units/{serial}/scrap.
func (s *RoutingServer) handleScrap(w http.ResponseWriter, r *http.Request) {
	var req tracegatev1.ScrapRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	req.Serial = r.PathValue("serial")
	resp, err := s.Scrap(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if resp.Committed {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

// handleHold handles POST /v1/units/{serial}/hold.
func (s *RoutingServer) handleHold(w http.ResponseWriter, r *http.Request) {
	resp, err := s.Hold(r.Context(), &tracegatev1.HoldRequest{Serial: r.PathValue("serial")})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRelease handles DELETE /v1/units/{serial}/hold.
func (s *RoutingServer) handleRelease(w http.ResponseWriter, r *http.Request) {
	resp, err := s.Release(r.Context(), &tracegatev1.HoldRequest{Serial: r.PathValue("serial")})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCheckGoldenSample handles GET /v1/golden-samples/{serial}.
func (s *RoutingServer) handleCheckGoldenSample(w http.ResponseWriter, r *http.Request) {
	resp, err := s.CheckGoldenSample(r.Context(), &tracegatev1.GoldenSampleRequest{Serial: r.PathValue("serial")})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAddGoldenSample handles PUT /v1/golden-samples/{serial}.
func (s *RoutingServer) handleAddGoldenSample(w http.ResponseWriter, r *http.Request) {
	resp, err := s.AddGoldenSample(r.Context(), &tracegatev1.GoldenSampleRequest{Serial: r.PathValue("serial")})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHealth handles GET /v1/health.
func (s *RoutingServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp, _ := s.Health(r.Context(), &tracegatev1.HealthRequest{})
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
