package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/soyeahso/flowbot/internal/domain"
	"github.com/soyeahso/flowbot/internal/flow"
	"github.com/soyeahso/flowbot/internal/hooks"
)

// maxConfigBody caps an uploaded flow document.
const maxConfigBody = 1 << 20

const msgEmptyBody = "Request body is required and must contain a valid JSON configuration"

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/config", s.handleConfigCreate)
	mux.HandleFunc("GET /api/config", s.handleConfigGet)
	mux.HandleFunc("GET /api/sessions", s.handleSessionList)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSessionGet)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// ConfigCreated is the body of a successful POST /api/config.
type ConfigCreated struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

func (s *Server) handleConfigCreate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConfigBody))
	if err != nil {
		s.metrics.RecordConfigUpload("invalid")
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", nil)
		return
	}
	if isEmptyDocument(body) {
		s.metrics.RecordConfigUpload("invalid")
		writeError(w, http.StatusBadRequest, msgEmptyBody, nil)
		return
	}

	f, err := flow.Parse(body)
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		s.metrics.RecordConfigUpload("invalid")
		writeError(w, http.StatusBadRequest, "Invalid configuration", ve.Issues)
		return
	}
	if err != nil {
		s.metrics.RecordConfigUpload("invalid")
		writeError(w, http.StatusBadRequest, "Invalid configuration", []string{err.Error()})
		return
	}

	saved, err := s.flows.SaveFlow(r.Context(), f)
	if err != nil {
		s.log.Error().Err(err).Msg("save flow")
		s.metrics.RecordConfigUpload("failed")
		writeError(w, http.StatusInternalServerError, "Failed to save configuration", err.Error())
		return
	}

	s.metrics.RecordConfigUpload("created")
	s.log.Info().Str("flow", saved.ID).Int("blocks", saved.Len()).Msg("flow configuration updated")
	s.hooks.EmitAsync(r.Context(), hooks.Payload{
		Event:  hooks.EventConfigUpdated,
		FlowID: saved.ID,
		Blocks: saved.Len(),
	})

	writeJSON(w, http.StatusCreated, ConfigCreated{
		Success: true,
		Message: "Chatbot flow configuration saved successfully",
		ID:      saved.ID,
	})
}

// isEmptyDocument reports a missing body or an empty JSON object.
func isEmptyDocument(body []byte) bool {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return true
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err == nil && len(obj) == 0 {
		return true
	}
	return false
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	f, err := s.flows.ActiveFlow(r.Context())
	if errors.Is(err, domain.ErrNoFlow) {
		writeError(w, http.StatusNotFound, "No configuration found", nil)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("load active flow")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve configuration", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	result, err := s.sessions.List(r.Context(), page, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("list sessions")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve sessions", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessions.Get(r.Context(), id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("session", id).Msg("load session")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve session", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
