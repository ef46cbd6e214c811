package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/mqttlightbulb/internal/history"
	"github.com/nerrad567/mqttlightbulb/internal/light"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// accessoryResponse is the JSON view of one accessory.
type accessoryResponse struct {
	Name      string           `json:"name"`
	Connected bool             `json:"connected"`
	State     light.LightState `json:"state"`
	Topics    topicsResponse   `json:"topics"`
}

type topicsResponse struct {
	GetOn  string `json:"getOn"`
	SetOn  string `json:"setOn"`
	GetHSB string `json:"getHsb"`
	SetHSB string `json:"setHsb"`
}

type historyResponse struct {
	Accessory string          `json:"accessory"`
	Entries   []history.Entry `json:"entries"`
	Count     int             `json:"count"`
}

func newAccessoryResponse(acc Accessory) accessoryResponse {
	t := acc.Topics()
	return accessoryResponse{
		Name:      acc.Name(),
		Connected: acc.Connected(),
		State:     acc.State(),
		Topics: topicsResponse{
			GetOn:  t.GetOn,
			SetOn:  t.SetOn,
			GetHSB: t.GetHSB,
			SetHSB: t.SetHSB,
		},
	}
}

// handleListAccessories returns every accessory in configuration order.
func (s *Server) handleListAccessories(w http.ResponseWriter, _ *http.Request) {
	out := make([]accessoryResponse, 0, len(s.accessories))
	for _, acc := range s.accessories {
		out = append(out, newAccessoryResponse(acc))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accessories": out,
		"count":       len(out),
	})
}

// handleGetAccessoryState returns the current state of one accessory.
func (s *Server) handleGetAccessoryState(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.lookupAccessory(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newAccessoryResponse(acc))
}

// handleGetAccessoryHistory returns recorded state changes, newest first.
func (s *Server) handleGetAccessoryHistory(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.lookupAccessory(w, r)
	if !ok {
		return
	}

	if s.history == nil {
		writeServiceUnavailable(w, "state history is not enabled")
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	entries, err := s.history.GetHistory(r.Context(), acc.Name(), limit)
	if err != nil {
		s.logger.Error("failed to read state history", "accessory", acc.Name(), "error", err)
		writeInternalError(w, "failed to read state history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Accessory: acc.Name(),
		Entries:   entries,
		Count:     len(entries),
	})
}

// lookupAccessory resolves {name} or writes a 404.
func (s *Server) lookupAccessory(w http.ResponseWriter, r *http.Request) (Accessory, bool) {
	name := chi.URLParam(r, "name")
	acc, ok := s.byName[name]
	if !ok {
		writeNotFound(w, "accessory not found")
		return nil, false
	}
	return acc, true
}

// parseHistoryLimit parses the limit query parameter.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}

	return limit, nil
}
