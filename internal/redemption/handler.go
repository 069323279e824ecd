package redemption

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/suryakumar124/Med-survey-diff-sub001/internal/app/apiresp"
	"github.com/suryakumar124/Med-survey-diff-sub001/internal/auth"
)

type Handler struct {
	svc redemptionService
}

type redemptionService interface {
	GetBalance(ctx context.Context, doctorID int64) (*Balance, error)
	CanRedeem(ctx context.Context, doctorID, responseID int64) (bool, error)
	SubmitRedemption(ctx context.Context, doctorID, responseID int64, method, details string) (*Redemption, error)
	ListRedemptions(ctx context.Context, doctorID int64, status string, limit, offset int) ([]Redemption, error)
	ProcessPendingRedemptions(ctx context.Context, limit int) (int, int, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type submitRedemptionRequest struct {
	ResponseID int64  `json:"response_id"`
	Method     string `json:"method"`
	Details    string `json:"details"`
}

func NewHandler(svc redemptionService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	balance, err := h.svc.GetBalance(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: balance})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	var req submitRedemptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	red, err := h.svc.SubmitRedemption(r.Context(), user.ID, req.ResponseID, req.Method, req.Details)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: red})
}

// Preview lets the client check eligibility before submitting.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	responseID, err := strconv.ParseInt(r.URL.Query().Get("response_id"), 10, 64)
	if err != nil || responseID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "response_id must be a positive integer"})
		return
	}

	allowed, err := h.svc.CanRedeem(r.Context(), user.ID, responseID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]any{
		"response_id": responseID,
		"allowed":     allowed,
	}})
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

	// Doctors only see their own ledger; admins can filter any doctor.
	doctorID := user.ID
	if user.Role == auth.RoleAdmin {
		doctorID, _ = strconv.ParseInt(q.Get("doctor_id"), 10, 64)
	}

	items, err := h.svc.ListRedemptions(r.Context(), doctorID, q.Get("status"), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

// ProcessPending lets an admin trigger the settlement batch that the
// redemption job runs on schedule.
func (h *Handler) ProcessPending(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	processed, failed, err := h.svc.ProcessPendingRedemptions(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]int{
		"processed": processed,
		"failed":    failed,
	}})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrResponseNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrAlreadyRedeemed):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrNotEligible):
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
