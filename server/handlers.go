package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/bosley/noties/audio"
	"github.com/bosley/noties/pipeline"
)

type streamStartRequest struct {
	Device *int `json:"device"`
}

type modelRequest struct {
	Model string `json:"model"`
}

type levelResponse struct {
	Level int `json:"level"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrInvalidState),
		errors.Is(err, pipeline.ErrClosed),
		errors.Is(err, audio.ErrNotRunning):
		status = http.StatusConflict
	case errors.Is(err, audio.ErrNoStreamConfig):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.ctl.ListDevices()
	if devices == nil {
		devices = []audio.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	var req streamStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid request body")
		return
	}
	device := audio.DefaultDevice
	if req.Device != nil {
		device = *req.Device
	}

	cfg, err := s.ctl.StartMonitoring(device)
	if err != nil {
		slog.Error("Failed to start stream", "device", device, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleStreamStop(w http.ResponseWriter, r *http.Request) {
	s.ctl.StopStream()
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

func (s *Server) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.StartCapturing(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

func (s *Server) handleCaptureStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.StopCapturing(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

func (s *Server) handleLevel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, levelResponse{Level: s.ctl.Level()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.Model == "" {
		badRequest(w, "model is required")
		return
	}
	if err := s.ctl.SwitchModel(req.Model); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}
