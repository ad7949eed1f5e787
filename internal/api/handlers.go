package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nugget/jarvis/internal/buildinfo"
	"github.com/nugget/jarvis/internal/memory"
	"github.com/nugget/jarvis/internal/speech"
)

const maxBodyBytes = 64 << 10

// ConversationRequest is the body of POST /conversation.
type ConversationRequest struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ConversationResponse is the reply to POST /conversation.
type ConversationResponse struct {
	Response string `json:"response"`
}

// IntentRequest is the body Home Assistant's conversation agent sends.
type IntentRequest struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id,omitempty"`
	Language       string `json:"language,omitempty"`
}

// IntentResponse mirrors the Home Assistant conversation result shape.
type IntentResponse struct {
	Response       IntentSpeech `json:"response"`
	ConversationID string       `json:"conversation_id"`
}

// IntentSpeech wraps the spoken reply.
type IntentSpeech struct {
	Speech struct {
		Plain struct {
			Speech string `json:"speech"`
		} `json:"plain"`
	} `json:"speech"`
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return errors.New("invalid request body")
	}
	return nil
}

// handleConversation runs one turn.
// POST /conversation {"text": "turn on the office lamp"}
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	var req ConversationRequest
	if err := decodeBody(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.errorResponse(w, http.StatusBadRequest, "text is required")
		return
	}

	reply := s.agent.Process(r.Context(), req.ConversationID, req.Text)
	writeJSON(w, ConversationResponse{Response: speech.PlainText(reply)}, s.logger)
}

// handleIntent answers Home Assistant's conversation agent. A missing
// conversation ID gets a fresh one, which Home Assistant echoes back on
// follow-up turns.
func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	var req IntentRequest
	if err := decodeBody(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.errorResponse(w, http.StatusBadRequest, "text is required")
		return
	}
	convID := req.ConversationID
	if convID == "" {
		convID = uuid.New().String()
	}

	reply := s.agent.Process(r.Context(), convID, req.Text)

	var resp IntentResponse
	resp.Response.Speech.Plain.Speech = speech.ForVoice(reply)
	resp.ConversationID = convID
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleConversationReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID string `json:"conversation_id"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			s.errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	existed := s.agent.Reset(req.ConversationID)
	s.logger.Info("conversation reset via API", "conversation", req.ConversationID, "existed", existed)
	writeJSON(w, map[string]any{"status": "ok", "reset": existed}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	body := map[string]any{
		"name":    "Jarvis",
		"version": buildinfo.Version,
		"uptime":  buildinfo.Uptime().String(),
	}
	if s.health != nil {
		body["services"] = s.health.Statuses()
		if !s.health.Healthy() {
			status = "degraded"
		}
	}
	body["status"] = status
	writeJSON(w, body, s.logger)
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "memory store not configured")
		return
	}
	stats, err := s.memory.Stats()
	if err != nil {
		s.logger.Error("memory stats failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to read memory stats")
		return
	}
	writeJSON(w, stats, s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if s.tools == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "tools not configured")
		return
	}
	list := s.tools.List()
	writeJSON(w, map[string]any{
		"tools": list,
		"count": len(list),
	}, s.logger)
}

// Preference endpoints

func (s *Server) handlePreferenceList(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "memory store not configured")
		return
	}
	prefs, err := s.memory.Preferences()
	if err != nil {
		s.logger.Error("preference list failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list preferences")
		return
	}
	if prefs == nil {
		prefs = []memory.Preference{}
	}
	writeJSON(w, map[string]any{
		"preferences": prefs,
		"count":       len(prefs),
	}, s.logger)
}

func (s *Server) handlePreferenceGet(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "memory store not configured")
		return
	}
	key := chi.URLParam(r, "key")
	value, ok, err := s.memory.Preference(key)
	if err != nil {
		s.logger.Error("preference get failed", "key", key, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to read preference")
		return
	}
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "preference not found")
		return
	}
	writeJSON(w, map[string]any{"key": key, "value": value}, s.logger)
}

func (s *Server) handlePreferencePut(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "memory store not configured")
		return
	}
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	if key == "" {
		s.errorResponse(w, http.StatusBadRequest, "key is required")
		return
	}
	var req struct {
		Value any `json:"value"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Value == nil {
		s.errorResponse(w, http.StatusBadRequest, "value is required")
		return
	}
	if err := s.memory.SetPreference(key, req.Value); err != nil {
		s.logger.Error("preference save failed", "key", key, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to save preference")
		return
	}
	writeJSON(w, map[string]any{"key": key, "value": req.Value}, s.logger)
}

func (s *Server) handlePreferenceDelete(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "memory store not configured")
		return
	}
	key := chi.URLParam(r, "key")
	deleted, err := s.memory.DeletePreference(key)
	if err != nil {
		s.logger.Error("preference delete failed", "key", key, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to delete preference")
		return
	}
	if !deleted {
		s.errorResponse(w, http.StatusNotFound, "preference not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
