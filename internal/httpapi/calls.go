package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ent0n29/clinicguard/internal/audio"
	"github.com/ent0n29/clinicguard/internal/conversation"
)

type processAudioResponse struct {
	SessionID           string              `json:"session_id"`
	Transcription       string              `json:"transcription"`
	Reply               string              `json:"reply"`
	AudioPath           string              `json:"audio_path"`
	ConversationHistory []conversation.Turn `json:"conversation_history"`
}

type historyResponse struct {
	CallID  string              `json:"call_id"`
	Backend string              `json:"backend"`
	Turns   []conversation.Turn `json:"turns"`
}

// handleProcessAudio runs one uploaded recording through the call pipeline.
// Without session_id a fresh session is started.
func (s *Server) handleProcessAudio(w http.ResponseWriter, r *http.Request) {
	if s.calls == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "call manager not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.maxRecordingBytes())+1<<20)
	file, header, err := r.FormFile("audio")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "multipart field audio is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, int64(s.maxRecordingBytes())+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "failed to read audio")
		return
	}
	if len(data) > s.maxRecordingBytes() {
		respondError(w, http.StatusRequestEntityTooLarge, "too_large", "audio exceeds size limit")
		return
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	callerHint := strings.TrimSpace(r.URL.Query().Get("caller"))

	res, err := s.calls.HandleRecording(r.Context(), sessionID, data, header.Header.Get("Content-Type"), callerHint)
	if err != nil {
		s.respondCallError(w, r, err)
		return
	}
	out := processAudioResponse{
		SessionID:           sessionID,
		Transcription:       res.Transcript,
		Reply:               res.Reply,
		ConversationHistory: res.History,
	}
	if res.ReplyFile != "" {
		out.AudioPath = "/audio/" + res.ReplyFile
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	if s.calls == nil {
		respondJSON(w, http.StatusOK, map[string]any{"calls": []any{}})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"calls": s.calls.Calls().List()})
}

func (s *Server) handleCallHistory(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if s.calls == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "call manager not configured")
		return
	}
	turns, ok := s.calls.History(id)
	if !ok {
		respondError(w, http.StatusNotFound, "session_not_found", "no live session for call")
		return
	}
	respondJSON(w, http.StatusOK, historyResponse{CallID: id, Backend: s.calls.Backend(), Turns: turns})
}

func (s *Server) handleEndCall(w http.ResponseWriter, r *http.Request) {
	if s.calls == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "call manager not configured")
		return
	}
	id := chi.URLParam(r, "id")
	ended, err := s.calls.End(r.Context(), id)
	if err != nil {
		s.respondCallError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"call_id": strings.TrimSpace(id), "ended": ended})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if s.audio == nil {
		http.NotFound(w, r)
		return
	}
	path, err := s.audio.Path(chi.URLParam(r, "file"))
	if errors.Is(err, audio.ErrInvalidName) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, path)
}

func (s *Server) maxRecordingBytes() int {
	if s.cfg.MaxRecordingBytes <= 0 {
		return 10 << 20
	}
	return s.cfg.MaxRecordingBytes
}
