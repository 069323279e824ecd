package survey

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

type mockSurveyService struct {
	createSurveyFn        func(ctx context.Context, in CreateSurveyInput) (*Survey, error)
	getSurveyFn           func(ctx context.Context, id int64) (*Survey, error)
	listSurveysFn         func(ctx context.Context, status string, clientID int64, limit, offset int) ([]Survey, error)
	updateSurveyFn        func(ctx context.Context, id int64, in UpdateSurveyInput) (*Survey, error)
	publishSurveyFn       func(ctx context.Context, id int64) (*Survey, error)
	archiveSurveyFn       func(ctx context.Context, id int64) (*Survey, error)
	addQuestionFn         func(ctx context.Context, surveyID int64, in QuestionInput) (*flow.Question, error)
	updateQuestionFn      func(ctx context.Context, surveyID, questionID int64, in QuestionInput) (*flow.Question, error)
	deleteQuestionFn      func(ctx context.Context, surveyID, questionID int64) error
	listQuestionsFn       func(ctx context.Context, surveyID int64) ([]flow.Question, error)
	loadGraphFn           func(ctx context.Context, surveyID int64) (*GraphView, error)
	saveGraphFn           func(ctx context.Context, surveyID int64, nodes []flow.EditorNode, edges []flow.EditorEdge) (*GraphView, error)
	assignDoctorsFn       func(ctx context.Context, surveyID, actorID int64, doctorIDs []int64) ([]Assignment, error)
	listAssignedSurveysFn func(ctx context.Context, doctorID int64) ([]Survey, error)
}

func (m *mockSurveyService) CreateSurvey(ctx context.Context, in CreateSurveyInput) (*Survey, error) {
	if m.createSurveyFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createSurveyFn(ctx, in)
}

func (m *mockSurveyService) GetSurvey(ctx context.Context, id int64) (*Survey, error) {
	if m.getSurveyFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getSurveyFn(ctx, id)
}

func (m *mockSurveyService) ListSurveys(ctx context.Context, status string, clientID int64, limit, offset int) ([]Survey, error) {
	if m.listSurveysFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listSurveysFn(ctx, status, clientID, limit, offset)
}

func (m *mockSurveyService) UpdateSurvey(ctx context.Context, id int64, in UpdateSurveyInput) (*Survey, error) {
	if m.updateSurveyFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateSurveyFn(ctx, id, in)
}

func (m *mockSurveyService) PublishSurvey(ctx context.Context, id int64) (*Survey, error) {
	if m.publishSurveyFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.publishSurveyFn(ctx, id)
}

func (m *mockSurveyService) ArchiveSurvey(ctx context.Context, id int64) (*Survey, error) {
	if m.archiveSurveyFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.archiveSurveyFn(ctx, id)
}

func (m *mockSurveyService) AddQuestion(ctx context.Context, surveyID int64, in QuestionInput) (*flow.Question, error) {
	if m.addQuestionFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.addQuestionFn(ctx, surveyID, in)
}

func (m *mockSurveyService) UpdateQuestion(ctx context.Context, surveyID, questionID int64, in QuestionInput) (*flow.Question, error) {
	if m.updateQuestionFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateQuestionFn(ctx, surveyID, questionID, in)
}

func (m *mockSurveyService) DeleteQuestion(ctx context.Context, surveyID, questionID int64) error {
	if m.deleteQuestionFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteQuestionFn(ctx, surveyID, questionID)
}

func (m *mockSurveyService) ListQuestions(ctx context.Context, surveyID int64) ([]flow.Question, error) {
	if m.listQuestionsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listQuestionsFn(ctx, surveyID)
}

func (m *mockSurveyService) LoadGraph(ctx context.Context, surveyID int64) (*GraphView, error) {
	if m.loadGraphFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.loadGraphFn(ctx, surveyID)
}

func (m *mockSurveyService) SaveGraph(ctx context.Context, surveyID int64, nodes []flow.EditorNode, edges []flow.EditorEdge) (*GraphView, error) {
	if m.saveGraphFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.saveGraphFn(ctx, surveyID, nodes, edges)
}

func (m *mockSurveyService) AssignDoctors(ctx context.Context, surveyID, actorID int64, doctorIDs []int64) ([]Assignment, error) {
	if m.assignDoctorsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.assignDoctorsFn(ctx, surveyID, actorID, doctorIDs)
}

func (m *mockSurveyService) ListAssignedSurveys(ctx context.Context, doctorID int64) ([]Survey, error) {
	if m.listAssignedSurveysFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listAssignedSurveysFn(ctx, doctorID)
}

func requestWithUser(method, target string, body []byte, user *auth.User, params map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}

	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if user != nil {
		ctx = auth.ContextWithUser(ctx, user)
	}
	return req.WithContext(ctx)
}

func TestGetGraphReturnsView(t *testing.T) {
	h := NewHandler(&mockSurveyService{
		loadGraphFn: func(ctx context.Context, surveyID int64) (*GraphView, error) {
			if surveyID != 7 {
				t.Fatalf("unexpected survey id %d", surveyID)
			}
			return &GraphView{
				SurveyID: 7,
				Nodes:    []flow.EditorNode{{ID: "q1"}},
				Edges:    []flow.EditorEdge{{ID: "e1:default:2", From: "q1", To: "q2"}},
			}, nil
		},
	})

	req := requestWithUser(http.MethodGet, "/api/v1/surveys/7/graph", nil,
		&auth.User{ID: 3, Role: auth.RoleClient}, map[string]string{"id": "7"})
	w := httptest.NewRecorder()
	h.GetGraph(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	var env struct {
		OK   bool      `json:"ok"`
		Data GraphView `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !env.OK || env.Data.SurveyID != 7 || len(env.Data.Nodes) != 1 {
		t.Fatalf("unexpected payload: %+v", env)
	}
}

func TestPutGraphRejectsForeignClient(t *testing.T) {
	h := NewHandler(&mockSurveyService{
		getSurveyFn: func(ctx context.Context, id int64) (*Survey, error) {
			return &Survey{ID: id, ClientID: 99, Status: "draft"}, nil
		},
	})

	body, _ := json.Marshal(saveGraphRequest{})
	req := requestWithUser(http.MethodPut, "/api/v1/surveys/7/graph", body,
		&auth.User{ID: 3, Role: auth.RoleClient}, map[string]string{"id": "7"})
	w := httptest.NewRecorder()
	h.PutGraph(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestPutGraphSavesForOwner(t *testing.T) {
	saved := false
	h := NewHandler(&mockSurveyService{
		getSurveyFn: func(ctx context.Context, id int64) (*Survey, error) {
			return &Survey{ID: id, ClientID: 3, Status: "draft"}, nil
		},
		saveGraphFn: func(ctx context.Context, surveyID int64, nodes []flow.EditorNode, edges []flow.EditorEdge) (*GraphView, error) {
			saved = true
			if len(edges) != 1 {
				t.Fatalf("expected one edge, got %d", len(edges))
			}
			return &GraphView{SurveyID: surveyID}, nil
		},
	})

	body, _ := json.Marshal(saveGraphRequest{
		Nodes: []flow.EditorNode{{ID: "q1"}, {ID: "q2"}},
		Edges: []flow.EditorEdge{{From: "q1", To: "q2"}},
	})
	req := requestWithUser(http.MethodPut, "/api/v1/surveys/7/graph", body,
		&auth.User{ID: 3, Role: auth.RoleClient}, map[string]string{"id": "7"})
	w := httptest.NewRecorder()
	h.PutGraph(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if !saved {
		t.Fatalf("SaveGraph was not called")
	}
}

func TestPublishConflictMapsTo409(t *testing.T) {
	h := NewHandler(&mockSurveyService{
		getSurveyFn: func(ctx context.Context, id int64) (*Survey, error) {
			return &Survey{ID: id, ClientID: 3, Status: "published"}, nil
		},
		publishSurveyFn: func(ctx context.Context, id int64) (*Survey, error) {
			return nil, ErrSurveyState
		},
	})

	req := requestWithUser(http.MethodPost, "/api/v1/surveys/7/publish", nil,
		&auth.User{ID: 3, Role: auth.RoleClient}, map[string]string{"id": "7"})
	w := httptest.NewRecorder()
	h.Publish(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestAddQuestionInvalidBody(t *testing.T) {
	h := NewHandler(&mockSurveyService{
		getSurveyFn: func(ctx context.Context, id int64) (*Survey, error) {
			return &Survey{ID: id, ClientID: 3, Status: "draft"}, nil
		},
	})

	req := requestWithUser(http.MethodPost, "/api/v1/surveys/7/questions", []byte("{not json"),
		&auth.User{ID: 3, Role: auth.RoleClient}, map[string]string{"id": "7"})
	w := httptest.NewRecorder()
	h.AddQuestion(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestListAssignedRequiresUser(t *testing.T) {
	h := NewHandler(&mockSurveyService{})

	req := requestWithUser(http.MethodGet, "/api/v1/surveys/assigned", nil, nil, nil)
	w := httptest.NewRecorder()
	h.ListAssigned(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
