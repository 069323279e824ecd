package survey

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/suryakumar124/Med-survey-diff-sub001/internal/app/apiresp"
	"github.com/suryakumar124/Med-survey-diff-sub001/internal/auth"
	"github.com/suryakumar124/Med-survey-diff-sub001/internal/flow"
)

type Handler struct {
	svc surveyService
}

type surveyService interface {
	CreateSurvey(ctx context.Context, in CreateSurveyInput) (*Survey, error)
	GetSurvey(ctx context.Context, id int64) (*Survey, error)
	ListSurveys(ctx context.Context, status string, clientID int64, limit, offset int) ([]Survey, error)
	UpdateSurvey(ctx context.Context, id int64, in UpdateSurveyInput) (*Survey, error)
	PublishSurvey(ctx context.Context, id int64) (*Survey, error)
	ArchiveSurvey(ctx context.Context, id int64) (*Survey, error)
	AddQuestion(ctx context.Context, surveyID int64, in QuestionInput) (*flow.Question, error)
	UpdateQuestion(ctx context.Context, surveyID, questionID int64, in QuestionInput) (*flow.Question, error)
	DeleteQuestion(ctx context.Context, surveyID, questionID int64) error
	ListQuestions(ctx context.Context, surveyID int64) ([]flow.Question, error)
	LoadGraph(ctx context.Context, surveyID int64) (*GraphView, error)
	SaveGraph(ctx context.Context, surveyID int64, nodes []flow.EditorNode, edges []flow.EditorEdge) (*GraphView, error)
	AssignDoctors(ctx context.Context, surveyID, actorID int64, doctorIDs []int64) ([]Assignment, error)
	ListAssignedSurveys(ctx context.Context, doctorID int64) ([]Survey, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type surveyRequest struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	Specialty     string `json:"specialty"`
	PointsReward  int    `json:"points_reward"`
	HopMultiplier int    `json:"hop_multiplier"`
}

type questionRequest struct {
	Text       string   `json:"text"`
	Kind       string   `json:"kind"`
	Options    []string `json:"options"`
	OrderIndex int      `json:"order_index"`
	Required   bool     `json:"required"`
}

type saveGraphRequest struct {
	Nodes []flow.EditorNode `json:"nodes"`
	Edges []flow.EditorEdge `json:"edges"`
}

type assignDoctorsRequest struct {
	DoctorIDs []int64 `json:"doctor_ids"`
}

func NewHandler(svc surveyService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	var req surveyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	sv, err := h.svc.CreateSurvey(r.Context(), CreateSurveyInput{
		ClientID:      user.ID,
		Title:         req.Title,
		Description:   req.Description,
		Specialty:     req.Specialty,
		PointsReward:  req.PointsReward,
		HopMultiplier: req.HopMultiplier,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: sv})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.surveyID(w, r)
	if !ok {
		return
	}
	sv, err := h.svc.GetSurvey(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: sv})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	// Clients only see their own surveys.
	clientID := int64(0)
	if user.Role == auth.RoleClient {
		clientID = user.ID
	}

	items, err := h.svc.ListSurveys(r.Context(), q.Get("status"), clientID, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.surveyID(w, r)
	if !ok {
		return
	}
	if !h.authorizeOwner(w, r, id) {
		return
	}

	var req surveyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	sv, err := h.svc.UpdateSurvey(r.Context(), id, UpdateSurveyInput{
		Title:         req.Title,
		Description:   req.Description,
		Specialty:     req.Specialty,
		PointsReward:  req.PointsReward,
		HopMultiplier: req.HopMultiplier,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: sv})
}

func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	id, ok := h.surveyID(w, r)
	if !ok {
		return
	}
	if !h.authorizeOwner(w, r, id) {
		return
	}

	sv, err := h.svc.PublishSurvey(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: sv})
}

func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.surveyID(w, r)
	if !ok {
		return
	}
	if !h.authorizeOwner(w, r, id) {
		return
	}

	sv, err := h.svc.ArchiveSurvey(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: sv})
}

func (h *Handler) AddQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.surveyID(w, r)
	if !ok {
		return
	}
	if !h.authorizeOwner(w, r, id) {
		return
	}

	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	q, err := h.svc.AddQuestion(r.Context(), id, QuestionInput{
		Text:       req.Text,
		Kind:       req.Kind,
		Options:    req.Options,
		OrderIndex: req.OrderIndex,
		Required:   req.Required,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: q})
}

func (h *Handler) UpdateQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.surveyID(w, r)
	if !ok {
		return
	}
	if !h.authorizeOwner(w, r, id) {
		return
	}

	questionID, err := strconv.ParseInt(chi.URLParam(r, "questionID"), 10, 64)
	if err != nil || questionID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid question id"})
		return
	}

	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	q, err := h.svc.UpdateQuestion(r.Context(), id, questionID, QuestionInput{
		Text:       req.Text,
		Kind:       req.Kind,
		Options:    req.Options,
		OrderIndex: req.OrderIndex,
		Required:   req.Required,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: q})
}

func (h *Handler) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.surveyID(w, r)
	if !ok {
		return
	}
	if !h.authorizeOwner(w, r, id) {
		return
	}

	questionID, err := strconv.ParseInt(chi.URLParam(r, "questionID"), 10, 64)
	if err != nil || questionID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid question id"})
		return
	}

	if err := h.svc.DeleteQuestion(r.Context(), id, questionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]string{"status": "deleted"}})
}

func (h *Handler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.surveyID(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListQuestions(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) GetGraph(w http.ResponseWriter, r *http.Request) {
	id, ok := h.surveyID(w, r)
	if !ok {
		return
	}
	view, err := h.svc.LoadGraph(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) PutGraph(w http.ResponseWriter, r *http.Request) {
	id, ok := h.surveyID(w, r)
	if !ok {
		return
	}
	if !h.authorizeOwner(w, r, id) {
		return
	}

	var req saveGraphRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	view, err := h.svc.SaveGraph(r.Context(), id, req.Nodes, req.Edges)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) AssignDoctors(w http.ResponseWriter, r *http.Request) {
	id, ok := h.surveyID(w, r)
	if !ok {
		return
	}
	user, okUser := auth.CurrentUser(r.Context())
	if !okUser {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	var req assignDoctorsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	items, err := h.svc.AssignDoctors(r.Context(), id, user.ID, req.DoctorIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

// ListAssigned serves the doctor's own survey inbox.
func (h *Handler) ListAssigned(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	items, err := h.svc.ListAssignedSurveys(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) surveyID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid survey id"})
		return 0, false
	}
	return id, true
}

// authorizeOwner lets admins touch any survey while clients are
// limited to their own.
func (h *Handler) authorizeOwner(w http.ResponseWriter, r *http.Request, surveyID int64) bool {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return false
	}
	if user.Role == auth.RoleAdmin {
		return true
	}

	sv, err := h.svc.GetSurvey(r.Context(), surveyID)
	if err != nil {
		h.writeError(w, r, err)
		return false
	}
	if sv.ClientID != user.ID {
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "forbidden"})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrSurveyNotFound), errors.Is(err, ErrQuestionNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrSurveyState), errors.Is(err, ErrSurveyInactive):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
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
