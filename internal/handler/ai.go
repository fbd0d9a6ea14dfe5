package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/studysync/studysync-go/internal/logging"
	"github.com/studysync/studysync-go/internal/middleware"
	"github.com/studysync/studysync-go/internal/model"
	"github.com/studysync/studysync-go/internal/service"
)

// AIHandler serves the chat, summary and quiz endpoints. Signed-in callers
// get their usage recorded; anonymous callers are served as well.
type AIHandler struct {
	service *service.AIService
}

// NewAIHandler creates a new AIHandler.
func NewAIHandler(svc *service.AIService) *AIHandler {
	return &AIHandler{service: svc}
}

// sseWriter streams chat deltas as server-sent events. Headers are sent with
// the first event so that failures before any output can still be reported
// as a JSON error.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (s *sseWriter) start() {
	if s.started {
		return
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

func (s *sseWriter) event(v any) error {
	s.start()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.raw(string(b))
}

func (s *sseWriter) raw(data string) error {
	s.start()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// HandleChat handles POST /api/v1/chat requests.
func (h *AIHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, errors.New("response writer does not support streaming"))
		return
	}
	userID, _ := middleware.UserIDFromContext(r.Context())

	sse := &sseWriter{w: w, flusher: flusher}
	err := h.service.Chat(r.Context(), userID, req.Mode, req.Messages, func(delta string) error {
		return sse.event(map[string]string{"content": delta})
	})
	if err != nil {
		if !sse.started {
			writeErrorOr(w, r, err, errAIFailed)
			return
		}
		logging.FromContext(r.Context()).Warn("chat stream aborted", zap.Error(err))
		if r.Context().Err() == nil {
			sse.event(map[string]string{"error": "stream interrupted"})
		}
		return
	}
	sse.raw("[DONE]")
}

// HandleSummarize handles POST /api/v1/summarize requests.
func (h *AIHandler) HandleSummarize(w http.ResponseWriter, r *http.Request) {
	var req model.SummarizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, _ := middleware.UserIDFromContext(r.Context())

	summary, err := h.service.Summarize(r.Context(), userID, req.Content, req.Type)
	if err != nil {
		writeErrorOr(w, r, err, errAIFailed)
		return
	}
	writeJSON(w, http.StatusOK, model.SummarizeResponse{Summary: summary})
}

// HandleQuiz handles POST /api/v1/quiz requests.
func (h *AIHandler) HandleQuiz(w http.ResponseWriter, r *http.Request) {
	var req model.QuizRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, _ := middleware.UserIDFromContext(r.Context())

	resp, err := h.service.GenerateQuiz(r.Context(), userID, req.Content, req.NumQuestions)
	if err != nil {
		writeErrorOr(w, r, err, errAIFailed)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
