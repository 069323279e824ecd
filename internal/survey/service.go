package survey

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suryakumar124/Med-survey-diff-sub001/internal/flow"
	"github.com/suryakumar124/Med-survey-diff-sub001/internal/metrics"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrSurveyNotFound   = errors.New("survey not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrSurveyState      = errors.New("survey is not editable in its current status")
	ErrSurveyInactive   = errors.New("survey is not published")
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

type Survey struct {
	ID            int64     `json:"id"`
	ClientID      int64     `json:"client_id"`
	Title         string    `json:"title"`
	Description   *string   `json:"description,omitempty"`
	Specialty     *string   `json:"specialty,omitempty"`
	Status        string    `json:"status"`
	PointsReward  int       `json:"points_reward"`
	HopMultiplier int       `json:"hop_multiplier"`
	QuestionCount int       `json:"question_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type CreateSurveyInput struct {
	ClientID      int64
	Title         string
	Description   string
	Specialty     string
	PointsReward  int
	HopMultiplier int
}

type UpdateSurveyInput struct {
	Title         string
	Description   string
	Specialty     string
	PointsReward  int
	HopMultiplier int
}

type QuestionInput struct {
	Text       string
	Kind       string
	Options    []string
	OrderIndex int
	Required   bool
}

type Assignment struct {
	ID         int64     `json:"id"`
	SurveyID   int64     `json:"survey_id"`
	DoctorID   int64     `json:"doctor_id"`
	AssignedBy int64     `json:"assigned_by"`
	AssignedAt time.Time `json:"assigned_at"`
}

// GraphView is the editor payload for a survey's flow graph.
type GraphView struct {
	SurveyID    int64             `json:"survey_id"`
	Nodes       []flow.EditorNode `json:"nodes"`
	Edges       []flow.EditorEdge `json:"edges"`
	Diagnostics []string          `json:"diagnostics,omitempty"`
}

func (s *Service) CreateSurvey(ctx context.Context, in CreateSurveyInput) (*Survey, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.ClientID <= 0 || in.Title == "" {
		return nil, ErrInvalidInput
	}
	if in.PointsReward < 0 {
		return nil, fmt.Errorf("%w: points_reward must not be negative", ErrInvalidInput)
	}
	if in.HopMultiplier < 0 {
		return nil, fmt.Errorf("%w: hop_multiplier must not be negative", ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO surveys (
			client_id, title, description, specialty, status,
			points_reward, hop_multiplier, created_at, updated_at
		) VALUES (
			$1, $2, NULLIF($3,''), NULLIF($4,''), 'draft',
			$5, $6, now(), now()
		)
		RETURNING id, client_id, title, description, specialty, status,
			points_reward, hop_multiplier, created_at, updated_at
	`, in.ClientID, in.Title, strings.TrimSpace(in.Description), strings.TrimSpace(in.Specialty), in.PointsReward, in.HopMultiplier)

	out, err := scanSurvey(row)
	if err != nil {
		return nil, fmt.Errorf("insert survey: %w", err)
	}
	return out, nil
}

func (s *Service) GetSurvey(ctx context.Context, id int64) (*Survey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sv.id, sv.client_id, sv.title, sv.description, sv.specialty, sv.status,
			sv.points_reward, sv.hop_multiplier, sv.created_at, sv.updated_at,
			(SELECT COUNT(*) FROM survey_questions q WHERE q.survey_id = sv.id)
		FROM surveys sv
		WHERE sv.id = $1
	`, id)

	var out Survey
	var desc, specialty sql.NullString
	if err := row.Scan(&out.ID, &out.ClientID, &out.Title, &desc, &specialty, &out.Status,
		&out.PointsReward, &out.HopMultiplier, &out.CreatedAt, &out.UpdatedAt, &out.QuestionCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSurveyNotFound
		}
		return nil, fmt.Errorf("query survey: %w", err)
	}
	if desc.Valid {
		out.Description = &desc.String
	}
	if specialty.Valid {
		out.Specialty = &specialty.String
	}
	return &out, nil
}

func (s *Service) ListSurveys(ctx context.Context, status string, clientID int64, limit, offset int) ([]Survey, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "", "draft", "published", "archived":
	default:
		return nil, fmt.Errorf("%w: invalid status filter", ErrInvalidInput)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sv.id, sv.client_id, sv.title, sv.description, sv.specialty, sv.status,
			sv.points_reward, sv.hop_multiplier, sv.created_at, sv.updated_at,
			(SELECT COUNT(*) FROM survey_questions q WHERE q.survey_id = sv.id)
		FROM surveys sv
		WHERE ($1 = '' OR sv.status = $1)
		  AND ($2 = 0 OR sv.client_id = $2)
		ORDER BY sv.created_at DESC, sv.id DESC
		LIMIT $3
		OFFSET $4
	`, status, clientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list surveys: %w", err)
	}
	defer rows.Close()

	out := make([]Survey, 0, limit)
	for rows.Next() {
		var it Survey
		var desc, specialty sql.NullString
		if err := rows.Scan(&it.ID, &it.ClientID, &it.Title, &desc, &specialty, &it.Status,
			&it.PointsReward, &it.HopMultiplier, &it.CreatedAt, &it.UpdatedAt, &it.QuestionCount); err != nil {
			return nil, fmt.Errorf("scan survey: %w", err)
		}
		if desc.Valid {
			it.Description = &desc.String
		}
		if specialty.Valid {
			it.Specialty = &specialty.String
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate surveys: %w", err)
	}
	return out, nil
}

func (s *Service) UpdateSurvey(ctx context.Context, id int64, in UpdateSurveyInput) (*Survey, error) {
	in.Title = strings.TrimSpace(in.Title)
	if id <= 0 || in.Title == "" {
		return nil, ErrInvalidInput
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE surveys
		SET title = $2,
			description = NULLIF($3,''),
			specialty = NULLIF($4,''),
			points_reward = $5,
			hop_multiplier = $6,
			updated_at = now()
		WHERE id = $1
		  AND status = 'draft'
		RETURNING id, client_id, title, description, specialty, status,
			points_reward, hop_multiplier, created_at, updated_at
	`, id, in.Title, strings.TrimSpace(in.Description), strings.TrimSpace(in.Specialty), in.PointsReward, in.HopMultiplier)

	out, err := scanSurvey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.surveyStateOrMissing(ctx, id)
		}
		return nil, fmt.Errorf("update survey: %w", err)
	}
	return out, nil
}

// PublishSurvey moves a draft to published. Publication requires at
// least one question; rule diagnostics do not block it, the graph
// builder drops invalid edges at render time.
func (s *Service) PublishSurvey(ctx context.Context, id int64) (*Survey, error) {
	questions, err := s.ListQuestions(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: cannot publish a survey with no questions", ErrInvalidInput)
	}

	g := flow.BuildGraph(questions)
	for _, diag := range g.Diagnostics() {
		metrics.FlowDiagnostics.WithLabelValues(diagKind(diag)).Inc()
	}

	return s.transitionStatus(ctx, id, "draft", "published")
}

func (s *Service) ArchiveSurvey(ctx context.Context, id int64) (*Survey, error) {
	return s.transitionStatus(ctx, id, "published", "archived")
}

func (s *Service) transitionStatus(ctx context.Context, id int64, from, to string) (*Survey, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE surveys
		SET status = $3,
			updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING id, client_id, title, description, specialty, status,
			points_reward, hop_multiplier, created_at, updated_at
	`, id, from, to)

	out, err := scanSurvey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.surveyStateOrMissing(ctx, id)
		}
		return nil, fmt.Errorf("transition survey status: %w", err)
	}
	return out, nil
}

func (s *Service) surveyStateOrMissing(ctx context.Context, id int64) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM surveys WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check survey: %w", err)
	}
	if !exists {
		return ErrSurveyNotFound
	}
	return ErrSurveyState
}

func (s *Service) AddQuestion(ctx context.Context, surveyID int64, in QuestionInput) (*flow.Question, error) {
	q, err := normalizeQuestionInput(in)
	if err != nil {
		return nil, err
	}
	if err := s.requireDraft(ctx, surveyID); err != nil {
		return nil, err
	}

	optionsRaw, err := json.Marshal(q.Options)
	if err != nil {
		return nil, fmt.Errorf("marshal options: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO survey_questions (
			survey_id, question_text, answer_kind, options, order_index,
			required, next_rule, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4::jsonb, $5, $6, '', now(), now()
		)
		RETURNING id, question_text, answer_kind, options, order_index, required, next_rule
	`, surveyID, q.Text, string(q.Kind), optionsRaw, q.OrderIndex, q.Required)

	out, err := scanQuestion(row)
	if err != nil {
		return nil, fmt.Errorf("insert question: %w", err)
	}
	return out, nil
}

func (s *Service) UpdateQuestion(ctx context.Context, surveyID, questionID int64, in QuestionInput) (*flow.Question, error) {
	q, err := normalizeQuestionInput(in)
	if err != nil {
		return nil, err
	}
	if err := s.requireDraft(ctx, surveyID); err != nil {
		return nil, err
	}

	optionsRaw, err := json.Marshal(q.Options)
	if err != nil {
		return nil, fmt.Errorf("marshal options: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE survey_questions
		SET question_text = $3,
			answer_kind = $4,
			options = $5::jsonb,
			order_index = $6,
			required = $7,
			updated_at = now()
		WHERE id = $2
		  AND survey_id = $1
		RETURNING id, question_text, answer_kind, options, order_index, required, next_rule
	`, surveyID, questionID, q.Text, string(q.Kind), optionsRaw, q.OrderIndex, q.Required)

	out, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("update question: %w", err)
	}
	return out, nil
}

func (s *Service) DeleteQuestion(ctx context.Context, surveyID, questionID int64) error {
	if err := s.requireDraft(ctx, surveyID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM survey_questions
		WHERE id = $2
		  AND survey_id = $1
	`, surveyID, questionID)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrQuestionNotFound
	}
	return nil
}

// ListQuestions returns the survey's questions in authored input order.
func (s *Service) ListQuestions(ctx context.Context, surveyID int64) ([]flow.Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question_text, answer_kind, options, order_index, required, next_rule
		FROM survey_questions
		WHERE survey_id = $1
		ORDER BY order_index ASC, id ASC
	`, surveyID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	out := make([]flow.Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return out, nil
}

// LoadGraph renders the survey's transition rules as editor nodes and
// edges alongside any rule diagnostics.
func (s *Service) LoadGraph(ctx context.Context, surveyID int64) (*GraphView, error) {
	if _, err := s.GetSurvey(ctx, surveyID); err != nil {
		return nil, err
	}
	questions, err := s.ListQuestions(ctx, surveyID)
	if err != nil {
		return nil, err
	}

	g := flow.BuildGraph(questions)
	nodes, edges := flow.ToEditableGraph(g)

	diags := make([]string, 0, len(g.Diagnostics()))
	for _, diag := range g.Diagnostics() {
		diags = append(diags, diag.Error())
		metrics.FlowDiagnostics.WithLabelValues(diagKind(diag)).Inc()
	}

	return &GraphView{SurveyID: surveyID, Nodes: nodes, Edges: edges, Diagnostics: diags}, nil
}

// SaveGraph re-encodes the submitted editor edges into per-question
// transition rules and persists them in one transaction.
func (s *Service) SaveGraph(ctx context.Context, surveyID int64, nodes []flow.EditorNode, edges []flow.EditorEdge) (*GraphView, error) {
	if err := s.requireDraft(ctx, surveyID); err != nil {
		return nil, err
	}
	questions, err := s.ListQuestions(ctx, surveyID)
	if err != nil {
		return nil, err
	}

	updated := flow.FromEditableGraph(nodes, edges, questions)

	prior := make(map[int64]string, len(questions))
	for _, q := range questions {
		prior[q.ID] = q.NextRule
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range updated {
		if prior[q.ID] == q.NextRule {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE survey_questions
			SET next_rule = $3,
				updated_at = now()
			WHERE id = $2
			  AND survey_id = $1
		`, surveyID, q.ID, q.NextRule); err != nil {
			return nil, fmt.Errorf("save rule for question %d: %w", q.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit graph: %w", err)
	}

	return s.LoadGraph(ctx, surveyID)
}

func (s *Service) AssignDoctors(ctx context.Context, surveyID, actorID int64, doctorIDs []int64) ([]Assignment, error) {
	if surveyID <= 0 || len(doctorIDs) == 0 {
		return nil, ErrInvalidInput
	}
	sv, err := s.GetSurvey(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	if sv.Status != "published" {
		return nil, ErrSurveyInactive
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	out := make([]Assignment, 0, len(doctorIDs))
	for _, doctorID := range doctorIDs {
		if doctorID <= 0 {
			continue
		}
		var a Assignment
		err := tx.QueryRowContext(ctx, `
			INSERT INTO survey_assignments (survey_id, doctor_id, assigned_by, assigned_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (survey_id, doctor_id)
			DO UPDATE SET assigned_by = EXCLUDED.assigned_by
			RETURNING id, survey_id, doctor_id, assigned_by, assigned_at
		`, surveyID, doctorID, actorID).Scan(&a.ID, &a.SurveyID, &a.DoctorID, &a.AssignedBy, &a.AssignedAt)
		if err != nil {
			return nil, fmt.Errorf("assign doctor %d: %w", doctorID, err)
		}
		out = append(out, a)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit assignments: %w", err)
	}
	return out, nil
}

// ListAssignedSurveys returns published surveys assigned to a doctor.
func (s *Service) ListAssignedSurveys(ctx context.Context, doctorID int64) ([]Survey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sv.id, sv.client_id, sv.title, sv.description, sv.specialty, sv.status,
			sv.points_reward, sv.hop_multiplier, sv.created_at, sv.updated_at,
			(SELECT COUNT(*) FROM survey_questions q WHERE q.survey_id = sv.id)
		FROM survey_assignments a
		JOIN surveys sv ON sv.id = a.survey_id
		WHERE a.doctor_id = $1
		  AND sv.status = 'published'
		ORDER BY a.assigned_at DESC
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list assigned surveys: %w", err)
	}
	defer rows.Close()

	out := make([]Survey, 0)
	for rows.Next() {
		var it Survey
		var desc, specialty sql.NullString
		if err := rows.Scan(&it.ID, &it.ClientID, &it.Title, &desc, &specialty, &it.Status,
			&it.PointsReward, &it.HopMultiplier, &it.CreatedAt, &it.UpdatedAt, &it.QuestionCount); err != nil {
			return nil, fmt.Errorf("scan assigned survey: %w", err)
		}
		if desc.Valid {
			it.Description = &desc.String
		}
		if specialty.Valid {
			it.Specialty = &specialty.String
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assigned surveys: %w", err)
	}
	return out, nil
}

func (s *Service) requireDraft(ctx context.Context, surveyID int64) error {
	var status string
	if err := s.db.QueryRowContext(ctx, `SELECT status FROM surveys WHERE id = $1`, surveyID).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSurveyNotFound
		}
		return fmt.Errorf("check survey status: %w", err)
	}
	if status != "draft" {
		return ErrSurveyState
	}
	return nil
}

func normalizeQuestionInput(in QuestionInput) (*flow.Question, error) {
	text := strings.TrimSpace(in.Text)
	kind := strings.ToLower(strings.TrimSpace(in.Kind))
	if text == "" || !flow.ValidKind(kind) {
		return nil, ErrInvalidInput
	}
	if in.OrderIndex < 0 {
		return nil, fmt.Errorf("%w: order_index must not be negative", ErrInvalidInput)
	}

	options := make([]string, 0, len(in.Options))
	seen := make(map[string]bool, len(in.Options))
	for _, opt := range in.Options {
		opt = strings.TrimSpace(opt)
		if opt == "" || seen[opt] {
			continue
		}
		seen[opt] = true
		options = append(options, opt)
	}

	switch flow.AnswerKind(kind) {
	case flow.KindChoice:
		if len(options) < 2 {
			return nil, fmt.Errorf("%w: choice questions need at least two options", ErrInvalidInput)
		}
	default:
		// Text and scale answers are free-form; stored options would
		// never match an answer value.
		options = nil
	}

	return &flow.Question{
		Text:       text,
		Kind:       flow.AnswerKind(kind),
		Options:    options,
		OrderIndex: in.OrderIndex,
		Required:   in.Required,
	}, nil
}

func scanQuestion(scanner interface{ Scan(dest ...any) error }) (*flow.Question, error) {
	var q flow.Question
	var kind string
	var optionsRaw []byte
	if err := scanner.Scan(&q.ID, &q.Text, &kind, &optionsRaw, &q.OrderIndex, &q.Required, &q.NextRule); err != nil {
		return nil, err
	}
	q.Kind = flow.AnswerKind(kind)
	if len(optionsRaw) > 0 {
		if err := json.Unmarshal(optionsRaw, &q.Options); err != nil {
			return nil, fmt.Errorf("decode options: %w", err)
		}
	}
	return &q, nil
}

func scanSurvey(scanner interface{ Scan(dest ...any) error }) (*Survey, error) {
	var out Survey
	var desc, specialty sql.NullString
	if err := scanner.Scan(&out.ID, &out.ClientID, &out.Title, &desc, &specialty, &out.Status,
		&out.PointsReward, &out.HopMultiplier, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, err
	}
	if desc.Valid {
		out.Description = &desc.String
	}
	if specialty.Valid {
		out.Specialty = &specialty.String
	}
	return &out, nil
}

func diagKind(err error) string {
	var dangling *flow.DanglingEdgeError
	var decode *flow.RuleDecodeError
	switch {
	case errors.As(err, &dangling):
		return "dangling_edge"
	case errors.As(err, &decode):
		return "rule_decode"
	default:
		return "other"
	}
}
