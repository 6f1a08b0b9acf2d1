package web

import (
	"errors"
	"net/http"
	"strconv"

	"x10-go-home/internal/adapter"
	"x10-go-home/internal/store"
	"x10-go-home/internal/translator"
	"x10-go-home/internal/x10"
)

const (
	defaultStatusLimit = 50
	maxStatusLimit     = 500
)

// statusFor maps adapter errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, adapter.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, adapter.ErrDuplicateDevice):
		return http.StatusConflict
	case errors.Is(err, adapter.ErrUnknownModuleType),
		errors.Is(err, x10.ErrInvalidAddress),
		errors.Is(err, x10.ErrInvalidCode),
		errors.Is(err, translator.ErrUnknownProperty),
		errors.Is(err, translator.ErrInvalidValue):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.adapter.Devices()
	out := make([]adapter.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Info())
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.adapter.Device(r.PathValue("id"))
	if err != nil {
		s.writeError(w, statusFor(err), "device not found")
		return
	}
	s.writeJSON(w, http.StatusOK, dev.Info())
}

func (s *Server) handleAPIAddDevice(w http.ResponseWriter, r *http.Request) {
	var req adapter.ModuleConfig
	if !s.decodeBody(w, r, &req) {
		return
	}
	dev, err := s.adapter.AddDevice(req)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, dev.Info())
}

type setPropertyRequest struct {
	Value any `json:"value"`
}

type setPropertyResponse struct {
	DeviceID string `json:"device_id"`
	Property string `json:"property"`
	Value    any    `json:"value"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleAPISetProperty(w http.ResponseWriter, r *http.Request) {
	id, name := r.PathValue("id"), r.PathValue("name")

	var req setPropertyRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	applied, err := s.adapter.SetProperty(r.Context(), id, name, req.Value)
	resp := setPropertyResponse{DeviceID: id, Property: name, Value: applied}
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, resp)
	case applied != nil:
		// The value was cached but the controller did not take the command.
		resp.Error = err.Error()
		s.writeJSON(w, http.StatusBadGateway, resp)
	default:
		s.writeError(w, statusFor(err), err.Error())
	}
}

func (s *Server) handleAPITemplates(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, adapter.Templates())
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	limit := defaultStatusLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxStatusLimit)
	}

	recent, err := s.adapter.RecentStatus(limit)
	if err != nil {
		s.logger.Error("recent status", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if recent == nil {
		recent = []*store.StatusRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"adapter": s.adapter.Info(),
		"recent":  recent,
	})
}
