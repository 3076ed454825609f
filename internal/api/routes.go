package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/robot-control/robotd/internal/auth"
	"github.com/robot-control/robotd/internal/geom"
	"github.com/robot-control/robotd/internal/robot"
)

const apiV1 = "/api/v1"

// RegisterRoutes registers every endpoint on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(apiV1+"/health", s.handleHealth)

	s.handle(mux, "/state", http.MethodGet, auth.ScopeRead, s.handleState)
	s.handle(mux, "/autos", http.MethodGet, auth.ScopeRead, s.handleAutos)

	s.handle(mux, "/mode", http.MethodPost, auth.ScopeControl, s.handleMode)
	s.handle(mux, "/pose/reset", http.MethodPost, auth.ScopeControl, s.handleResetPose)
	s.handle(mux, "/heading/zero", http.MethodPost, auth.ScopeControl, s.handleZeroHeading)
	s.handle(mux, "/modules/realign", http.MethodPost, auth.ScopeControl, s.handleRealign)
	s.handle(mux, "/autos/select", http.MethodPost, auth.ScopeControl, s.handleSelectAuto)
	s.handle(mux, "/operator", http.MethodGet, auth.ScopeControl, s.handleOperator)

	s.handle(mux, "/telemetry", http.MethodGet, auth.ScopeTelemetry, s.handleTelemetry)

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
}

// handle registers an authenticated route restricted to one method.
func (s *Server) handle(mux *http.ServeMux, path, method, scope string, h http.HandlerFunc) {
	guarded := func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
				"Only "+method+" method is allowed", nil)
			return
		}
		if s.robot == nil {
			WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Robot not available", nil)
			return
		}
		h(w, r)
	}
	mux.Handle(apiV1+path, s.auth.RequireAuth(s.auth.RequireScope(scope)(guarded)))
}

// decodeStrict parses a single JSON object, rejecting unknown fields and
// trailing data.
func decodeStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return NewAPIError("BAD_REQUEST", "Malformed JSON or unknown fields", http.StatusBadRequest, nil)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return NewAPIError("BAD_REQUEST", "Trailing data after JSON object", http.StatusBadRequest, nil)
	}
	return nil
}

// handleHealth handles GET /health. The robot is degraded while a module
// is uncalibrated, the gyro is faulted or the loop has not ticked yet.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET method is allowed", nil)
		return
	}

	checks := map[string]bool{
		"robot":     s.robot != nil,
		"telemetry": s.telemetry != nil,
	}
	health := map[string]any{
		"uptimeSec": time.Since(s.startTime).Seconds(),
		"version":   s.version,
		"checks":    checks,
	}
	if s.robot != nil {
		if st := s.robot.Snapshot(); st != nil {
			checks["loop"] = st.Tick > 0
			checks["gyro"] = !st.GyroStale
			calibrated := true
			for _, m := range st.Modules {
				calibrated = calibrated && m.Calibration == "CALIBRATED"
			}
			checks["modules"] = calibrated
			health["mode"] = st.Mode
		}
	}

	status := "ok"
	for _, ok := range checks {
		if !ok {
			status = "degraded"
		}
	}
	health["status"] = status

	if status == "ok" {
		WriteSuccess(w, health)
		return
	}
	WriteError(w, http.StatusServiceUnavailable, "SERVICE_DEGRADED",
		"One or more subsystems are unavailable", health)
}

// handleState handles GET /state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st := s.robot.Snapshot()
	if st == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "No state published yet", nil)
		return
	}
	WriteSuccess(w, st)
}

// handleMode handles POST /mode.
func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := decodeStrict(r, &req); err != nil {
		WriteAPIError(w, err)
		return
	}
	mode, err := robot.ParseMode(req.Mode)
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	if err := s.robot.SetMode(r.Context(), mode); err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteSuccess(w, map[string]string{"mode": string(mode)})
}

// handleResetPose handles POST /pose/reset.
func (s *Server) handleResetPose(w http.ResponseWriter, r *http.Request) {
	var req struct {
		X          *float64 `json:"x"`
		Y          *float64 `json:"y"`
		HeadingDeg *float64 `json:"headingDeg"`
	}
	if err := decodeStrict(r, &req); err != nil {
		WriteAPIError(w, err)
		return
	}
	if req.X == nil || req.Y == nil || req.HeadingDeg == nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "x, y and headingDeg are required", nil)
		return
	}

	pose := geom.NewPose(*req.X, *req.Y, geom.FromDegrees(*req.HeadingDeg))
	if err := s.robot.ResetPose(r.Context(), pose); err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteSuccess(w, robot.PoseState{X: pose.X(), Y: pose.Y(), HeadingDeg: pose.Rotation.Degrees()})
}

// handleZeroHeading handles POST /heading/zero.
func (s *Server) handleZeroHeading(w http.ResponseWriter, r *http.Request) {
	if err := s.robot.ZeroHeading(r.Context()); err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteSuccess(w, nil)
}

// handleRealign handles POST /modules/realign.
func (s *Server) handleRealign(w http.ResponseWriter, r *http.Request) {
	if err := s.robot.RealignModules(r.Context()); err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteSuccess(w, nil)
}

// handleAutos handles GET /autos.
func (s *Server) handleAutos(w http.ResponseWriter, r *http.Request) {
	names, selected := s.robot.Autos()
	WriteSuccess(w, map[string]any{"routines": names, "selected": selected})
}

// handleSelectAuto handles POST /autos/select.
func (s *Server) handleSelectAuto(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Routine string `json:"routine"`
	}
	if err := decodeStrict(r, &req); err != nil {
		WriteAPIError(w, err)
		return
	}
	if err := s.robot.SelectAuto(r.Context(), req.Routine); err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteSuccess(w, map[string]string{"selected": req.Routine})
}

// handleTelemetry handles GET /telemetry (SSE).
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.telemetry == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Telemetry service not available", nil)
		return
	}
	if err := s.telemetry.Subscribe(r.Context(), w, r); err != nil {
		s.logger.Debug("Telemetry stream ended", "error", err)
	}
}
