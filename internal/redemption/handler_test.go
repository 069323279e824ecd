package redemption

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/suryakumar124/Med-survey-diff-sub001/internal/auth"
)

type mockRedemptionService struct {
	getBalanceFn                func(ctx context.Context, doctorID int64) (*Balance, error)
	canRedeemFn                 func(ctx context.Context, doctorID, responseID int64) (bool, error)
	submitRedemptionFn          func(ctx context.Context, doctorID, responseID int64, method, details string) (*Redemption, error)
	listRedemptionsFn           func(ctx context.Context, doctorID int64, status string, limit, offset int) ([]Redemption, error)
	processPendingRedemptionsFn func(ctx context.Context, limit int) (int, int, error)
}

func (m *mockRedemptionService) GetBalance(ctx context.Context, doctorID int64) (*Balance, error) {
	if m.getBalanceFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getBalanceFn(ctx, doctorID)
}

func (m *mockRedemptionService) CanRedeem(ctx context.Context, doctorID, responseID int64) (bool, error) {
	if m.canRedeemFn == nil {
		return false, errors.New("not implemented")
	}
	return m.canRedeemFn(ctx, doctorID, responseID)
}

func (m *mockRedemptionService) SubmitRedemption(ctx context.Context, doctorID, responseID int64, method, details string) (*Redemption, error) {
	if m.submitRedemptionFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.submitRedemptionFn(ctx, doctorID, responseID, method, details)
}

func (m *mockRedemptionService) ListRedemptions(ctx context.Context, doctorID int64, status string, limit, offset int) ([]Redemption, error) {
	if m.listRedemptionsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listRedemptionsFn(ctx, doctorID, status, limit, offset)
}

func (m *mockRedemptionService) ProcessPendingRedemptions(ctx context.Context, limit int) (int, int, error) {
	if m.processPendingRedemptionsFn == nil {
		return 0, 0, errors.New("not implemented")
	}
	return m.processPendingRedemptionsFn(ctx, limit)
}

func authedRequest(method, target string, body []byte, user *auth.User) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if user != nil {
		req = req.WithContext(auth.ContextWithUser(req.Context(), user))
	}
	return req
}

func TestGetBalance(t *testing.T) {
	h := NewHandler(&mockRedemptionService{
		getBalanceFn: func(ctx context.Context, doctorID int64) (*Balance, error) {
			if doctorID != 12 {
				t.Fatalf("unexpected doctor id %d", doctorID)
			}
			return &Balance{DoctorID: 12, Earned: 300, Pending: 50, Redeemed: 50, Available: 200}, nil
		},
	})

	req := authedRequest(http.MethodGet, "/api/v1/redemptions/balance", nil, &auth.User{ID: 12, Role: auth.RoleDoctor})
	w := httptest.NewRecorder()
	h.GetBalance(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var env struct {
		Data Balance `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if env.Data.Available != 200 {
		t.Fatalf("unexpected balance: %+v", env.Data)
	}
}

func TestSubmitPassesResponseAndMethod(t *testing.T) {
	h := NewHandler(&mockRedemptionService{
		submitRedemptionFn: func(ctx context.Context, doctorID, responseID int64, method, details string) (*Redemption, error) {
			if doctorID != 12 || responseID != 7 || method != "bank_transfer" {
				t.Fatalf("unexpected args doctor=%d response=%d method=%q", doctorID, responseID, method)
			}
			return &Redemption{ID: 1, ResponseID: 7, DoctorID: 12, Points: 150, Method: method, Details: details, Status: "pending"}, nil
		},
	})

	body, _ := json.Marshal(submitRedemptionRequest{ResponseID: 7, Method: "bank_transfer", Details: "acct 0099"})
	req := authedRequest(http.MethodPost, "/api/v1/redemptions", body, &auth.User{ID: 12, Role: auth.RoleDoctor})
	w := httptest.NewRecorder()
	h.Submit(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	var env struct {
		Data Redemption `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if env.Data.Points != 150 || env.Data.Status != "pending" {
		t.Fatalf("unexpected redemption: %+v", env.Data)
	}
}

func TestSubmitDuplicateMapsToConflict(t *testing.T) {
	h := NewHandler(&mockRedemptionService{
		submitRedemptionFn: func(ctx context.Context, doctorID, responseID int64, method, details string) (*Redemption, error) {
			return nil, ErrAlreadyRedeemed
		},
	})

	body, _ := json.Marshal(submitRedemptionRequest{ResponseID: 7, Method: "bank_transfer"})
	req := authedRequest(http.MethodPost, "/api/v1/redemptions", body, &auth.User{ID: 12, Role: auth.RoleDoctor})
	w := httptest.NewRecorder()
	h.Submit(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestSubmitMissingResponseMapsTo404(t *testing.T) {
	h := NewHandler(&mockRedemptionService{
		submitRedemptionFn: func(ctx context.Context, doctorID, responseID int64, method, details string) (*Redemption, error) {
			return nil, ErrResponseNotFound
		},
	})

	body, _ := json.Marshal(submitRedemptionRequest{ResponseID: 404, Method: "voucher"})
	req := authedRequest(http.MethodPost, "/api/v1/redemptions", body, &auth.User{ID: 12, Role: auth.RoleDoctor})
	w := httptest.NewRecorder()
	h.Submit(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestPreviewReportsEligibility(t *testing.T) {
	h := NewHandler(&mockRedemptionService{
		canRedeemFn: func(ctx context.Context, doctorID, responseID int64) (bool, error) {
			if responseID != 7 {
				t.Fatalf("unexpected response id %d", responseID)
			}
			return false, nil
		},
	})

	req := authedRequest(http.MethodGet, "/api/v1/redemptions/preview?response_id=7", nil, &auth.User{ID: 12, Role: auth.RoleDoctor})
	w := httptest.NewRecorder()
	h.Preview(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var env struct {
		Data struct {
			Allowed bool `json:"allowed"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if env.Data.Allowed {
		t.Fatal("expected allowed=false")
	}
}

func TestListScopesDoctorToOwnLedger(t *testing.T) {
	h := NewHandler(&mockRedemptionService{
		listRedemptionsFn: func(ctx context.Context, doctorID int64, status string, limit, offset int) ([]Redemption, error) {
			if doctorID != 12 {
				t.Fatalf("doctor should be scoped to own id, got %d", doctorID)
			}
			return []Redemption{}, nil
		},
	})

	req := authedRequest(http.MethodGet, "/api/v1/redemptions?doctor_id=99", nil, &auth.User{ID: 12, Role: auth.RoleDoctor})
	w := httptest.NewRecorder()
	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestProcessPendingReportsCounts(t *testing.T) {
	h := NewHandler(&mockRedemptionService{
		processPendingRedemptionsFn: func(ctx context.Context, limit int) (int, int, error) {
			return 4, 1, nil
		},
	})

	req := authedRequest(http.MethodPost, "/api/v1/admin/redemptions/process", nil, &auth.User{ID: 1, Role: auth.RoleAdmin})
	w := httptest.NewRecorder()
	h.ProcessPending(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var env struct {
		Data map[string]int `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if env.Data["processed"] != 4 || env.Data["failed"] != 1 {
		t.Fatalf("unexpected counts: %+v", env.Data)
	}
}
