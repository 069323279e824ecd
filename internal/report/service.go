package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrSurveyNotFound = errors.New("survey not found")

type Service struct {
	db *sql.DB
}

// SurveySummary aggregates response activity for one survey.
type SurveySummary struct {
	SurveyID       int64   `json:"survey_id"`
	Title          string  `json:"title"`
	Status         string  `json:"status"`
	ClientID       int64   `json:"client_id"`
	AssignedCount  int     `json:"assigned_count"`
	ResponseCount  int     `json:"response_count"`
	CompletedCount int     `json:"completed_count"`
	AbortedCount   int     `json:"aborted_count"`
	CompletionRate float64 `json:"completion_rate"`
	AvgAnswers     float64 `json:"avg_answers"`
}

// QuestionBreakdown counts answers per question, and per option for
// choice questions.
type QuestionBreakdown struct {
	QuestionID  int64          `json:"question_id"`
	Prompt      string         `json:"prompt"`
	Kind        string         `json:"kind"`
	AnswerCount int            `json:"answer_count"`
	Options     map[string]int `json:"options,omitempty"`
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) SurveySummary(ctx context.Context, surveyID int64) (*SurveySummary, error) {
	var out SurveySummary
	err := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.title, s.status, s.client_id,
			(SELECT COUNT(1) FROM survey_assignments a WHERE a.survey_id = s.id),
			(SELECT COUNT(1) FROM survey_responses r WHERE r.survey_id = s.id),
			(SELECT COUNT(1) FROM survey_responses r WHERE r.survey_id = s.id AND r.completed),
			(SELECT COUNT(1) FROM survey_responses r WHERE r.survey_id = s.id AND r.cycle_aborted),
			COALESCE((
				SELECT AVG(cnt)::float8
				FROM (
					SELECT COUNT(1) AS cnt
					FROM response_answers ra
					JOIN survey_responses r ON r.id = ra.response_id
					WHERE r.survey_id = s.id
					GROUP BY ra.response_id
				) per_response
			), 0)
		FROM surveys s
		WHERE s.id = $1
	`, surveyID).Scan(
		&out.SurveyID, &out.Title, &out.Status, &out.ClientID,
		&out.AssignedCount, &out.ResponseCount, &out.CompletedCount,
		&out.AbortedCount, &out.AvgAnswers,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSurveyNotFound
		}
		return nil, fmt.Errorf("survey summary: %w", err)
	}

	if out.AssignedCount > 0 {
		out.CompletionRate = float64(out.CompletedCount) / float64(out.AssignedCount)
	}
	return &out, nil
}

func (s *Service) QuestionBreakdowns(ctx context.Context, surveyID int64) ([]QuestionBreakdown, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM surveys WHERE id = $1)
	`, surveyID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check survey: %w", err)
	}
	if !exists {
		return nil, ErrSurveyNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.question_text, q.answer_kind,
			COALESCE(ra.answer, ''),
			COUNT(ra.id)
		FROM survey_questions q
		LEFT JOIN response_answers ra ON ra.question_id = q.id
		WHERE q.survey_id = $1
		GROUP BY q.id, q.question_text, q.answer_kind, q.order_index, ra.answer
		ORDER BY q.order_index ASC, q.id ASC
	`, surveyID)
	if err != nil {
		return nil, fmt.Errorf("question breakdowns: %w", err)
	}
	defer rows.Close()

	out := make([]QuestionBreakdown, 0)
	byID := make(map[int64]int)
	for rows.Next() {
		var (
			id     int64
			prompt string
			kind   string
			answer string
			count  int
		)
		if err := rows.Scan(&id, &prompt, &kind, &answer, &count); err != nil {
			return nil, fmt.Errorf("scan breakdown row: %w", err)
		}

		idx, ok := byID[id]
		if !ok {
			out = append(out, QuestionBreakdown{QuestionID: id, Prompt: prompt, Kind: kind})
			idx = len(out) - 1
			byID[id] = idx
		}
		if answer == "" {
			continue
		}
		out[idx].AnswerCount += count
		if kind == "choice" {
			if out[idx].Options == nil {
				out[idx].Options = make(map[string]int)
			}
			out[idx].Options[answer] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate breakdowns: %w", err)
	}
	return out, nil
}
