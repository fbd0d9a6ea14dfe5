package handler

import (
	"net/http"

	"github.com/studysync/studysync-go/internal/middleware"
	"github.com/studysync/studysync-go/internal/model"
	"github.com/studysync/studysync-go/internal/service"
)

// StatsHandler exposes the signed-in user's usage counters.
type StatsHandler struct {
	service *service.StatsService
}

func NewStatsHandler(svc *service.StatsService) *StatsHandler {
	return &StatsHandler{service: svc}
}

type statsResponse struct {
	Stats model.Stats `json:"stats"`
}

// HandleGet handles GET /api/v1/stats requests.
func (h *StatsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, service.ErrNotAuthenticated)
		return
	}

	stats, err := h.service.Get(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Stats: stats})
}

// HandleIncrement handles POST /api/v1/stats requests.
func (h *StatsHandler) HandleIncrement(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, service.ErrNotAuthenticated)
		return
	}

	var req model.StatsDeltaRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.service.Increment(r.Context(), userID, req.Delta); err != nil {
		writeError(w, r, err)
		return
	}
	h.HandleGet(w, r)
}

// HandleQuizResult handles POST /api/v1/stats/quiz-result requests.
func (h *StatsHandler) HandleQuizResult(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, service.ErrNotAuthenticated)
		return
	}

	var req model.QuizResultRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.service.RecordQuizResult(r.Context(), userID, req.Total, req.Correct); err != nil {
		writeError(w, r, err)
		return
	}
	h.HandleGet(w, r)
}
