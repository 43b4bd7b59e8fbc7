package api

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/TrialConsent/internal/assistant"
	"github.com/BTreeMap/TrialConsent/internal/auth"
	"github.com/BTreeMap/TrialConsent/internal/models"
)

type chatResponse struct {
	ChatID string         `json:"chat_id"`
	Turn   assistant.Turn `json:"turn"`
	Audio  string         `json:"audio,omitempty"` // base64 mp3 when the primary synthesizer answered
}

type chatLogResponse struct {
	ChatID         string               `json:"chat_id"`
	Context        models.ChatContext   `json:"context"`
	Messages       []models.ChatMessage `json:"messages"`
	Typing         bool                 `json:"typing"`
	SpeakReplies   bool                 `json:"speak_replies"`
	QuickQuestions []string             `json:"quick_questions,omitempty"`
}

// chatHandler answers one chat message. Trial chats are open to anyone; form
// chats need the participant who owns the target form session.
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	owner := ownerOf(r)

	var chat *assistant.ChatSession
	if req.ChatID != "" {
		var ok bool
		chat, ok = s.chats.Get(req.ChatID)
		if !ok || !s.mayUseChat(req.ChatID, owner) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Chat not found"))
			return
		}
	} else {
		var target assistant.PatchTarget
		if req.Context == models.ChatContextForm {
			if owner == "" {
				writeJSONResponse(w, http.StatusUnauthorized, models.Error("authentication required: obtain a token from "+auth.LoginPath))
				return
			}
			session, ok := s.formFor(req.SessionID, owner)
			if !ok {
				writeJSONResponse(w, http.StatusNotFound, models.Error("Form session not found"))
				return
			}
			target = draftingTarget{server: s, owner: owner, session: session}
		}
		var err error
		chat, err = s.chats.Create(req.Context, target)
		if errors.Is(err, assistant.ErrTooManyChats) {
			writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("The assistant is busy, please try again shortly"))
			return
		}
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		if req.Context == models.ChatContextForm {
			s.mu.Lock()
			s.chatOwners[chat.ID()] = owner
			s.mu.Unlock()
		}
	}

	if req.Speak != nil {
		chat.SetSpeakReplies(*req.Speak)
	}

	turn, err := chat.Send(r.Context(), req.Message, req.Voice)
	switch {
	case errors.Is(err, models.ErrEmptyChatMessage):
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		slog.Debug("Server.chatHandler: request abandoned while queued", "chatID", chat.ID())
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Request cancelled"))
		return
	case err != nil:
		slog.Error("Server.chatHandler: chat failed", "error", err, "chatID", chat.ID())
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(assistant.ApologyMessage))
		return
	}

	resp := chatResponse{ChatID: chat.ID(), Turn: turn}
	if turn.Speech != nil && len(turn.Speech.Audio) > 0 {
		resp.Audio = base64.StdEncoding.EncodeToString(turn.Speech.Audio)
	}
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

func (s *Server) chatLogHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	chat, ok := s.chats.Get(id)
	if !ok || !s.mayUseChat(id, ownerOf(r)) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Chat not found"))
		return
	}
	resp := chatLogResponse{
		ChatID:       chat.ID(),
		Context:      chat.Context(),
		Messages:     chat.Messages(),
		Typing:       chat.Typing(),
		SpeakReplies: chat.SpeakReplies(),
	}
	if chat.Context() == models.ChatContextTrial {
		resp.QuickQuestions = assistant.TrialQuickQuestions
	}
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

// mayUseChat reports whether owner may read or write chat id. Form chats
// belong to the participant that started them.
func (s *Server) mayUseChat(id, owner string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want, ok := s.chatOwners[id]
	return !ok || want == owner
}

// speechHandler returns synthesized mp3 audio. 503 tells the client to use
// its on-device synthesizer.
func (s *Server) speechHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SpeechRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		slog.Warn("Server.speechHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("text is required"))
		return
	}
	if !s.speaker.Available() {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Speech synthesis is not configured"))
		return
	}
	sp := s.speaker.Speak(r.Context(), req.Text)
	if sp.Fallback {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Speech synthesis is unavailable"))
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(sp.Audio); err != nil {
		slog.Error("Server.speechHandler: failed to write audio", "error", err)
	}
}
