package response

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/suryakumar124/Med-survey-diff-sub001/internal/auth"
	"github.com/suryakumar124/Med-survey-diff-sub001/internal/flow"
)

type mockResponseService struct {
	startSessionFn       func(ctx context.Context, surveyID, doctorID int64) (*SessionView, error)
	currentFn            func(sessionID string, doctorID int64) (*SessionView, error)
	answerFn             func(sessionID string, doctorID int64, answer string) (*SessionView, error)
	backFn               func(sessionID string, doctorID int64) (*SessionView, error)
	finalizeFn           func(sessionID string, doctorID int64) (*SessionView, error)
	listResponsesFn      func(ctx context.Context, surveyID int64, limit, offset int) ([]ResponseSummary, error)
	getResponseAnswersFn func(ctx context.Context, responseID int64) ([]AnswerDetail, error)
}

func (m *mockResponseService) StartSession(ctx context.Context, surveyID, doctorID int64) (*SessionView, error) {
	if m.startSessionFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.startSessionFn(ctx, surveyID, doctorID)
}

func (m *mockResponseService) Current(sessionID string, doctorID int64) (*SessionView, error) {
	if m.currentFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.currentFn(sessionID, doctorID)
}

func (m *mockResponseService) Answer(sessionID string, doctorID int64, answer string) (*SessionView, error) {
	if m.answerFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.answerFn(sessionID, doctorID, answer)
}

func (m *mockResponseService) Back(sessionID string, doctorID int64) (*SessionView, error) {
	if m.backFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.backFn(sessionID, doctorID)
}

func (m *mockResponseService) Finalize(sessionID string, doctorID int64) (*SessionView, error) {
	if m.finalizeFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.finalizeFn(sessionID, doctorID)
}

func (m *mockResponseService) ListResponses(ctx context.Context, surveyID int64, limit, offset int) ([]ResponseSummary, error) {
	if m.listResponsesFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listResponsesFn(ctx, surveyID, limit, offset)
}

func (m *mockResponseService) GetResponseAnswers(ctx context.Context, responseID int64) ([]AnswerDetail, error) {
	if m.getResponseAnswersFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getResponseAnswersFn(ctx, responseID)
}

const testSessionID = "2f1c3a4e-5b6d-4e7f-8a9b-0c1d2e3f4a5b"

func sessionRequest(method, target string, body []byte, user *auth.User, sessionID string) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}

	rctx := chi.NewRouteContext()
	if sessionID != "" {
		rctx.URLParams.Add("sessionID", sessionID)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if user != nil {
		ctx = auth.ContextWithUser(ctx, user)
	}
	return req.WithContext(ctx)
}

func TestStartSessionCreated(t *testing.T) {
	h := NewHandler(&mockResponseService{
		startSessionFn: func(ctx context.Context, surveyID, doctorID int64) (*SessionView, error) {
			if surveyID != 5 || doctorID != 12 {
				t.Fatalf("unexpected args survey=%d doctor=%d", surveyID, doctorID)
			}
			return &SessionView{SessionID: testSessionID, SurveyID: 5, State: "at_question"}, nil
		},
	})

	body, _ := json.Marshal(startSessionRequest{SurveyID: 5})
	req := sessionRequest(http.MethodPost, "/api/v1/sessions/start", body,
		&auth.User{ID: 12, Role: auth.RoleDoctor}, "")
	w := httptest.NewRecorder()
	h.Start(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", w.Code, w.Body.String())
	}
	var env struct {
		OK   bool        `json:"ok"`
		Data SessionView `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if env.Data.SessionID != testSessionID {
		t.Fatalf("unexpected session id %q", env.Data.SessionID)
	}
}

func TestStartSessionNotAssigned(t *testing.T) {
	h := NewHandler(&mockResponseService{
		startSessionFn: func(ctx context.Context, surveyID, doctorID int64) (*SessionView, error) {
			return nil, ErrNotAssigned
		},
	})

	body, _ := json.Marshal(startSessionRequest{SurveyID: 5})
	req := sessionRequest(http.MethodPost, "/api/v1/sessions/start", body,
		&auth.User{ID: 12, Role: auth.RoleDoctor}, "")
	w := httptest.NewRecorder()
	h.Start(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestAnswerRequiredMapsTo422(t *testing.T) {
	h := NewHandler(&mockResponseService{
		answerFn: func(sessionID string, doctorID int64, answer string) (*SessionView, error) {
			return nil, flow.ErrAnswerRequired
		},
	})

	body, _ := json.Marshal(answerRequest{Answer: ""})
	req := sessionRequest(http.MethodPost, "/api/v1/sessions/"+testSessionID+"/answer", body,
		&auth.User{ID: 12, Role: auth.RoleDoctor}, testSessionID)
	w := httptest.NewRecorder()
	h.Answer(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestAnswerRejectsMalformedSessionID(t *testing.T) {
	h := NewHandler(&mockResponseService{})

	req := sessionRequest(http.MethodPost, "/api/v1/sessions/not-a-uuid/answer", []byte(`{"answer":"x"}`),
		&auth.User{ID: 12, Role: auth.RoleDoctor}, "not-a-uuid")
	w := httptest.NewRecorder()
	h.Answer(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestBackAtEntryReturnsSessionUnchanged(t *testing.T) {
	h := NewHandler(&mockResponseService{
		backFn: func(sessionID string, doctorID int64) (*SessionView, error) {
			return nil, flow.ErrNoPriorQuestion
		},
		currentFn: func(sessionID string, doctorID int64) (*SessionView, error) {
			if sessionID != testSessionID {
				t.Fatalf("unexpected session id %q", sessionID)
			}
			return &SessionView{SessionID: sessionID}, nil
		},
	})

	req := sessionRequest(http.MethodPost, "/api/v1/sessions/"+testSessionID+"/back", nil,
		&auth.User{ID: 12, Role: auth.RoleDoctor}, testSessionID)
	w := httptest.NewRecorder()
	h.Back(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var env struct {
		Data SessionView `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if env.Data.SessionID != testSessionID {
		t.Fatalf("expected the unchanged session, got %+v", env.Data)
	}
}

func TestFinalizeForeignSessionMapsTo403(t *testing.T) {
	h := NewHandler(&mockResponseService{
		finalizeFn: func(sessionID string, doctorID int64) (*SessionView, error) {
			return nil, ErrSessionForbidden
		},
	})

	req := sessionRequest(http.MethodPost, "/api/v1/sessions/"+testSessionID+"/finalize", nil,
		&auth.User{ID: 44, Role: auth.RoleDoctor}, testSessionID)
	w := httptest.NewRecorder()
	h.Finalize(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestCurrentCompletedSession(t *testing.T) {
	h := NewHandler(&mockResponseService{
		currentFn: func(sessionID string, doctorID int64) (*SessionView, error) {
			return &SessionView{SessionID: sessionID, State: "completed", Completed: true}, nil
		},
	})

	req := sessionRequest(http.MethodGet, "/api/v1/sessions/"+testSessionID, nil,
		&auth.User{ID: 12, Role: auth.RoleDoctor}, testSessionID)
	w := httptest.NewRecorder()
	h.Current(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var env struct {
		Data SessionView `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if env.Data.State != "completed" || !env.Data.Completed {
		t.Fatalf("unexpected view: %+v", env.Data)
	}
}
