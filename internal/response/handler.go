package response

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/suryakumar124/Med-survey-diff-sub001/internal/app/apiresp"
	"github.com/suryakumar124/Med-survey-diff-sub001/internal/auth"
	"github.com/suryakumar124/Med-survey-diff-sub001/internal/flow"
	"github.com/suryakumar124/Med-survey-diff-sub001/internal/survey"
)

type Handler struct {
	svc responseService
}

type responseService interface {
	StartSession(ctx context.Context, surveyID, doctorID int64) (*SessionView, error)
	Current(sessionID string, doctorID int64) (*SessionView, error)
	Answer(sessionID string, doctorID int64, answer string) (*SessionView, error)
	Back(sessionID string, doctorID int64) (*SessionView, error)
	Finalize(sessionID string, doctorID int64) (*SessionView, error)
	ListResponses(ctx context.Context, surveyID int64, limit, offset int) ([]ResponseSummary, error)
	GetResponseAnswers(ctx context.Context, responseID int64) ([]AnswerDetail, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type startSessionRequest struct {
	SurveyID int64 `json:"survey_id"`
}

type answerRequest struct {
	Answer string `json:"answer"`
}

func NewHandler(svc responseService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	if req.SurveyID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "survey_id is required"})
		return
	}

	view, err := h.svc.StartSession(r.Context(), req.SurveyID, user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: view})
}

func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	user, sessionID, ok := h.sessionScope(w, r)
	if !ok {
		return
	}
	view, err := h.svc.Current(sessionID, user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) Answer(w http.ResponseWriter, r *http.Request) {
	user, sessionID, ok := h.sessionScope(w, r)
	if !ok {
		return
	}

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	view, err := h.svc.Answer(sessionID, user.ID, req.Answer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) Back(w http.ResponseWriter, r *http.Request) {
	user, sessionID, ok := h.sessionScope(w, r)
	if !ok {
		return
	}
	view, err := h.svc.Back(sessionID, user.ID)
	if errors.Is(err, flow.ErrNoPriorQuestion) {
		// Nothing to undo at the first question; return the session
		// unchanged instead of failing.
		view, err = h.svc.Current(sessionID, user.ID)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	user, sessionID, ok := h.sessionScope(w, r)
	if !ok {
		return
	}
	view, err := h.svc.Finalize(sessionID, user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) ListResponses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	surveyID, _ := strconv.ParseInt(q.Get("survey_id"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, err := h.svc.ListResponses(r.Context(), surveyID, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) GetResponseAnswers(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid response id"})
		return
	}

	items, err := h.svc.GetResponseAnswers(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) sessionScope(w http.ResponseWriter, r *http.Request) (*auth.User, string, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return nil, "", false
	}
	raw := chi.URLParam(r, "sessionID")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid session id"})
		return nil, "", false
	}
	return user, id.String(), true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, survey.ErrSurveyNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrSessionForbidden), errors.Is(err, ErrNotAssigned):
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrAlreadyResponded), errors.Is(err, survey.ErrSurveyInactive), errors.Is(err, flow.ErrSessionDone):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrEmptySurvey),
		errors.Is(err, flow.ErrSessionEmpty),
		errors.Is(err, flow.ErrAnswerRequired),
		errors.Is(err, flow.ErrFinalizeRequired):
		writeJSON(w, r, http.StatusUnprocessableEntity, response{OK: false, Error: err.Error()})
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
	if strings.TrimSpace(msg) == "" {
		msg = http.StatusText(code)
	}
	apiresp.WriteError(w, r, code, msg)
}
