package report

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/suryakumar124/Med-survey-diff-sub001/internal/app/apiresp"
	"github.com/suryakumar124/Med-survey-diff-sub001/internal/auth"
)

type reportService interface {
	SurveySummary(ctx context.Context, surveyID int64) (*SurveySummary, error)
	QuestionBreakdowns(ctx context.Context, surveyID int64) ([]QuestionBreakdown, error)
}

type Handler struct {
	svc reportService
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

func NewHandler(svc reportService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, ok := h.authorizedSummary(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: summary})
}

func (h *Handler) Breakdowns(w http.ResponseWriter, r *http.Request) {
	summary, ok := h.authorizedSummary(w, r)
	if !ok {
		return
	}

	items, err := h.svc.QuestionBreakdowns(r.Context(), summary.SurveyID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

// authorizedSummary loads the summary and enforces that clients only see
// reports for their own surveys. Admins see everything.
func (h *Handler) authorizedSummary(w http.ResponseWriter, r *http.Request) (*SurveySummary, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return nil, false
	}

	surveyID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || surveyID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid survey id"})
		return nil, false
	}

	summary, err := h.svc.SurveySummary(r.Context(), surveyID)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}

	if user.Role != auth.RoleAdmin && summary.ClientID != user.ID {
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "forbidden"})
		return nil, false
	}
	return summary, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrSurveyNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "survey not found"})
	default:
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	msg := payload.Error
	if msg == "" {
		msg = http.StatusText(code)
	}
	apiresp.WriteError(w, r, code, msg)
}
