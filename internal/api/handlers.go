package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-atlas/internal/geo"
	"github.com/sells-group/market-atlas/internal/mapview"
)

// VariableView is one catalog entry with its derived display metadata.
type VariableView struct {
	ID          int64  `json:"id"`
	Key         string `json:"key"`
	Label       string `json:"label"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
	Unit        string `json:"unit"`
	Vendor      string `json:"vendor,omitempty"`
}

type sessionResponse struct {
	ID string `json:"id"`
}

type variableRequest struct {
	ID int64 `json:"id"`
}

type preferencesRequest struct {
	ShowTooltip *bool `json:"show_tooltip"`
}

type preferencesResponse struct {
	ShowTooltip bool `json:"show_tooltip"`
}

type resolutionResponse struct {
	Zoom       float64        `json:"zoom"`
	Resolution geo.Resolution `json:"resolution"`
	Level      string         `json:"level"`
	ZoomHint   string         `json:"zoom_hint"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"variables": s.catalog.Len(),
		"sessions":  s.sessions.Len(),
	})
}

func (s *Server) listVariables(w http.ResponseWriter, _ *http.Request) {
	vars := s.catalog.All()
	out := make([]VariableView, 0, len(vars))
	for _, v := range vars {
		out = append(out, VariableView{
			ID:          v.ID,
			Key:         v.Key,
			Label:       v.Label,
			Category:    v.Category,
			Description: v.Description,
			Unit:        string(v.Unit()),
			Vendor:      v.Vendor(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) resolution(w http.ResponseWriter, r *http.Request) {
	zoom, err := strconv.ParseFloat(r.URL.Query().Get("zoom"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "zoom must be a number")
		return
	}
	res := geo.ForZoom(zoom)
	writeJSON(w, http.StatusOK, resolutionResponse{
		Zoom:       zoom,
		Resolution: res,
		Level:      res.Label(),
		ZoomHint:   geo.ZoomHint(res),
	})
}

func (s *Server) createSession(w http.ResponseWriter, _ *http.Request) {
	id, _ := s.sessions.Create()
	zap.L().Info("api: session created", zap.String("session", id.String()))
	writeJSON(w, http.StatusCreated, sessionResponse{ID: id.String()})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	if !s.sessions.Delete(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseSessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

// session resolves the {id} path parameter to a live controller, writing
// the error response when it cannot.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*mapview.Controller, bool) {
	id, ok := parseSessionID(w, r)
	if !ok {
		return nil, false
	}
	ctrl, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return ctrl, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) updateViewport(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}
	var vp geo.Viewport
	if !decode(w, r, &vp) {
		return
	}
	if !vp.Bounds.Valid() {
		writeError(w, http.StatusBadRequest, "bounds are invalid")
		return
	}

	frame, err := ctrl.Update(r.Context(), vp)
	if err != nil {
		zap.L().Error("api: viewport update failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "viewport update failed")
		return
	}
	writeJSON(w, http.StatusOK, frame)
}

func (s *Server) selectVariable(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}
	var req variableRequest
	if !decode(w, r, &req) {
		return
	}

	frame, err := ctrl.SelectVariable(r.Context(), req.ID)
	if err != nil {
		if eris.Is(err, mapview.ErrUnknownVariable) {
			writeError(w, http.StatusNotFound, "unknown variable")
			return
		}
		zap.L().Error("api: select variable failed", zap.Int64("variable", req.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "select variable failed")
		return
	}
	writeJSON(w, http.StatusOK, frame)
}

func (s *Server) updatePreferences(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}
	var req preferencesRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ShowTooltip != nil {
		ctrl.SetShowTooltip(*req.ShowTooltip)
	}
	writeJSON(w, http.StatusOK, preferencesResponse{ShowTooltip: ctrl.ShowTooltip()})
}

func (s *Server) pointerMove(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}
	var p mapview.Pointer
	if !decode(w, r, &p) {
		return
	}
	writeJSON(w, http.StatusOK, ctrl.PointerMove(p))
}

func (s *Server) pointerLeave(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ctrl.PointerLeave())
}
