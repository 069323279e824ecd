package response

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/suryakumar124/Med-survey-diff-sub001/internal/flow"
	"github.com/suryakumar124/Med-survey-diff-sub001/internal/metrics"
	"github.com/suryakumar124/Med-survey-diff-sub001/internal/survey"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionForbidden = errors.New("session belongs to another doctor")
	ErrNotAssigned      = errors.New("survey is not assigned to this doctor")
	ErrAlreadyResponded = errors.New("survey already has a submitted response")
	ErrEmptySurvey      = errors.New("survey has no questions")
)

// surveyCatalog is the slice of the survey service the runtime needs.
type surveyCatalog interface {
	GetSurvey(ctx context.Context, id int64) (*survey.Survey, error)
	ListQuestions(ctx context.Context, surveyID int64) ([]flow.Question, error)
}

type liveSession struct {
	id       string
	surveyID int64
	doctorID int64
	recorder *flow.Recorder
}

// Service owns the live respondent sessions. Traversal state lives in
// memory keyed by session id; partial progress is flushed to Postgres
// through a buffered writer goroutine so answering never waits on the
// checkpoint table.
type Service struct {
	db            *sql.DB
	catalog       surveyCatalog
	hopMultiplier int

	mu   sync.RWMutex
	live map[string]*liveSession

	checkpoints chan checkpointJob
	writerDone  chan struct{}
	closeOnce   sync.Once
}

// checkpointJob pairs a flow checkpoint with the owning survey and
// doctor so the writer can key the upsert.
type checkpointJob struct {
	cp       flow.Checkpoint
	surveyID int64
	doctorID int64
}

type Config struct {
	// HopMultiplier is the fallback traversal cap for surveys that do
	// not configure their own.
	HopMultiplier int
	// CheckpointQueueSize bounds the checkpoint channel. Saturation
	// drops checkpoints instead of blocking the respondent.
	CheckpointQueueSize int
}

func NewService(db *sql.DB, catalog surveyCatalog, cfg Config) *Service {
	if cfg.CheckpointQueueSize <= 0 {
		cfg.CheckpointQueueSize = 256
	}

	s := &Service{
		db:            db,
		catalog:       catalog,
		hopMultiplier: cfg.HopMultiplier,
		live:          make(map[string]*liveSession),
		checkpoints:   make(chan checkpointJob, cfg.CheckpointQueueSize),
		writerDone:    make(chan struct{}),
	}
	go s.checkpointWriter()
	return s
}

// Close drains the checkpoint queue and stops the writer.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.checkpoints)
		<-s.writerDone
	})
}

type SessionView struct {
	SessionID    string         `json:"session_id"`
	SurveyID     int64          `json:"survey_id"`
	State        string         `json:"state"`
	Question     *flow.Question `json:"question,omitempty"`
	VisitedPath  []int64        `json:"visited_path"`
	AnsweredNow  int            `json:"answered_count"`
	Completed    bool           `json:"completed"`
	CycleAborted bool           `json:"cycle_aborted"`
	Resumed      bool           `json:"resumed,omitempty"`
}

// StartSession opens (or resumes) a traversal for an assigned doctor.
// A stored checkpoint from an earlier visit restores the session at
// its last question.
func (s *Service) StartSession(ctx context.Context, surveyID, doctorID int64) (*SessionView, error) {
	sv, err := s.catalog.GetSurvey(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	if sv.Status != "published" {
		return nil, survey.ErrSurveyInactive
	}
	if err := s.requireAssignment(ctx, surveyID, doctorID); err != nil {
		return nil, err
	}

	var submitted bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM survey_responses
			WHERE survey_id = $1 AND doctor_id = $2
		)
	`, surveyID, doctorID).Scan(&submitted); err != nil {
		return nil, fmt.Errorf("check prior response: %w", err)
	}
	if submitted {
		return nil, ErrAlreadyResponded
	}

	questions, err := s.catalog.ListQuestions(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, ErrEmptySurvey
	}

	graph := flow.BuildGraph(questions)
	for _, diag := range graph.Diagnostics() {
		log.Printf(`{"event":"flow_diagnostic","survey_id":%d,"detail":%q}`, surveyID, diag.Error())
	}

	multiplier := sv.HopMultiplier
	if multiplier <= 0 {
		multiplier = s.hopMultiplier
	}

	// An existing live session for this doctor+survey is reused as-is.
	if existing := s.findLive(surveyID, doctorID); existing != nil {
		return s.view(existing, false), nil
	}

	sessionID, visited, answers, err := s.loadCheckpoint(ctx, surveyID, doctorID)
	if err != nil {
		return nil, err
	}

	var sess *flow.Session
	resumed := false
	if sessionID != "" {
		sess = flow.ResumeSession(graph, multiplier, visited, answers)
		resumed = true
		metrics.SessionsResumed.Inc()
	} else {
		sessionID = uuid.NewString()
		sess = flow.NewSession(graph, multiplier)
		metrics.SessionsStarted.Inc()
	}

	ls := &liveSession{
		id:       sessionID,
		surveyID: surveyID,
		doctorID: doctorID,
		recorder: flow.NewRecorder(sessionID, sess, s.checkpointSink(surveyID, doctorID), s.submissionSink(surveyID, doctorID)),
	}

	s.mu.Lock()
	s.live[sessionID] = ls
	s.mu.Unlock()

	return s.view(ls, resumed), nil
}

func (s *Service) Current(sessionID string, doctorID int64) (*SessionView, error) {
	ls, err := s.lookup(sessionID, doctorID)
	if err != nil {
		return nil, err
	}
	return s.view(ls, false), nil
}

func (s *Service) Answer(sessionID string, doctorID int64, answer string) (*SessionView, error) {
	ls, err := s.lookup(sessionID, doctorID)
	if err != nil {
		return nil, err
	}
	if err := ls.recorder.OnAnswer(answer); err != nil {
		return nil, err
	}
	if ls.recorder.Session().Completed() {
		s.retire(ls)
	}
	return s.view(ls, false), nil
}

func (s *Service) Back(sessionID string, doctorID int64) (*SessionView, error) {
	ls, err := s.lookup(sessionID, doctorID)
	if err != nil {
		return nil, err
	}
	if err := ls.recorder.Back(); err != nil {
		return nil, err
	}
	return s.view(ls, false), nil
}

func (s *Service) Finalize(sessionID string, doctorID int64) (*SessionView, error) {
	ls, err := s.lookup(sessionID, doctorID)
	if err != nil {
		return nil, err
	}
	if err := ls.recorder.Finalize(); err != nil {
		return nil, err
	}
	s.retire(ls)
	return s.view(ls, false), nil
}

func (s *Service) lookup(sessionID string, doctorID int64) (*liveSession, error) {
	s.mu.RLock()
	ls, ok := s.live[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if ls.doctorID != doctorID {
		return nil, ErrSessionForbidden
	}
	return ls, nil
}

func (s *Service) findLive(surveyID, doctorID int64) *liveSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ls := range s.live {
		if ls.surveyID == surveyID && ls.doctorID == doctorID {
			return ls
		}
	}
	return nil
}

func (s *Service) retire(ls *liveSession) {
	sess := ls.recorder.Session()
	metrics.SessionsCompleted.Inc()
	metrics.SessionAnswerCount.Observe(float64(len(sess.Answers())))
	if sess.CycleAborted() {
		metrics.SessionsCycleAborted.Inc()
	}

	s.mu.Lock()
	delete(s.live, ls.id)
	s.mu.Unlock()
}

func (s *Service) view(ls *liveSession, resumed bool) *SessionView {
	sess := ls.recorder.Session()
	out := &SessionView{
		SessionID:    ls.id,
		SurveyID:     ls.surveyID,
		VisitedPath:  sess.VisitedPath(),
		AnsweredNow:  len(sess.Answers()),
		Completed:    sess.Completed(),
		CycleAborted: sess.CycleAborted(),
		Resumed:      resumed,
	}
	switch sess.State() {
	case flow.StateAtQuestion:
		out.State = "at_question"
		if q, ok := sess.CurrentQuestion(); ok {
			out.Question = &q
		}
	case flow.StateCompleted:
		out.State = "completed"
	default:
		out.State = "empty"
	}
	return out
}

func (s *Service) requireAssignment(ctx context.Context, surveyID, doctorID int64) error {
	var assigned bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM survey_assignments
			WHERE survey_id = $1 AND doctor_id = $2
		)
	`, surveyID, doctorID).Scan(&assigned); err != nil {
		return fmt.Errorf("check assignment: %w", err)
	}
	if !assigned {
		return ErrNotAssigned
	}
	return nil
}

func (s *Service) loadCheckpoint(ctx context.Context, surveyID, doctorID int64) (string, []int64, map[int64]string, error) {
	var sessionID string
	var visitedRaw, answersRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, visited_path, answers
		FROM response_checkpoints
		WHERE survey_id = $1 AND doctor_id = $2
	`, surveyID, doctorID).Scan(&sessionID, &visitedRaw, &answersRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, nil, nil
		}
		return "", nil, nil, fmt.Errorf("load checkpoint: %w", err)
	}

	var visited []int64
	if err := json.Unmarshal(visitedRaw, &visited); err != nil {
		return "", nil, nil, fmt.Errorf("decode checkpoint path: %w", err)
	}
	raw := map[string]string{}
	if err := json.Unmarshal(answersRaw, &raw); err != nil {
		return "", nil, nil, fmt.Errorf("decode checkpoint answers: %w", err)
	}
	answers := make(map[int64]string, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		answers[id] = v
	}
	return sessionID, visited, answers, nil
}

// checkpointSink binds a session's survey and doctor to the shared
// writer queue. A full queue drops the checkpoint; the next accepted
// answer carries the full state again.
func (s *Service) checkpointSink(surveyID, doctorID int64) flow.CheckpointSink {
	return checkpointSinkFunc(func(cp flow.Checkpoint) {
		select {
		case s.checkpoints <- checkpointJob{cp: cp, surveyID: surveyID, doctorID: doctorID}:
		default:
			metrics.CheckpointFailures.Inc()
			log.Printf(`{"event":"checkpoint_dropped","session_id":%q}`, cp.SessionID)
		}
	})
}

func (s *Service) submissionSink(surveyID, doctorID int64) flow.SubmissionSink {
	return submissionSinkFunc(func(sub flow.Submission) {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.storeSubmission(ctx, surveyID, doctorID, sub); err != nil {
			log.Printf(`{"event":"submission_failed","session_id":%q,"error":%q}`, sub.SessionID, err.Error())
			return
		}
		metrics.ResponsesSubmitted.Inc()
	})
}

type checkpointSinkFunc func(cp flow.Checkpoint)

func (f checkpointSinkFunc) SaveCheckpoint(cp flow.Checkpoint) { f(cp) }

type submissionSinkFunc func(sub flow.Submission)

func (f submissionSinkFunc) SubmitResponse(sub flow.Submission) { f(sub) }

func (s *Service) checkpointWriter() {
	defer close(s.writerDone)
	for job := range s.checkpoints {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := s.storeCheckpoint(ctx, job)
		cancel()
		if err != nil {
			metrics.CheckpointFailures.Inc()
			log.Printf(`{"event":"checkpoint_failed","session_id":%q,"error":%q}`, job.cp.SessionID, err.Error())
			continue
		}
		metrics.CheckpointsSaved.Inc()
	}
}

func (s *Service) storeCheckpoint(ctx context.Context, job checkpointJob) error {
	cp := job.cp
	visitedRaw, err := json.Marshal(cp.VisitedPath)
	if err != nil {
		return fmt.Errorf("encode path: %w", err)
	}
	answers := make(map[string]string, len(cp.Answers))
	for id, v := range cp.Answers {
		answers[strconv.FormatInt(id, 10)] = v
	}
	answersRaw, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO response_checkpoints (
			session_id, survey_id, doctor_id, visited_path, answers, updated_at
		) VALUES (
			$1, $2, $3, $4::jsonb, $5::jsonb, now()
		)
		ON CONFLICT (session_id)
		DO UPDATE SET
			visited_path = EXCLUDED.visited_path,
			answers = EXCLUDED.answers,
			updated_at = now()
	`, cp.SessionID, job.surveyID, job.doctorID, visitedRaw, answersRaw)
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

func (s *Service) storeSubmission(ctx context.Context, surveyID, doctorID int64, sub flow.Submission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var responseID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO survey_responses (
			session_id, survey_id, doctor_id, completed, cycle_aborted, submitted_at
		) VALUES (
			$1, $2, $3, $4, $5, now()
		)
		ON CONFLICT (session_id) DO NOTHING
		RETURNING id
	`, sub.SessionID, surveyID, doctorID, sub.Completed, sub.CycleAborted).Scan(&responseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Duplicate terminal submit; the first one won.
			return nil
		}
		return fmt.Errorf("insert response: %w", err)
	}

	for i, ans := range sub.Answers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO response_answers (response_id, question_id, answer, seq_no)
			VALUES ($1, $2, $3, $4)
		`, responseID, ans.QuestionID, ans.Answer, i+1); err != nil {
			return fmt.Errorf("insert answer %d: %w", ans.QuestionID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM response_checkpoints WHERE session_id = $1
	`, sub.SessionID); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit response: %w", err)
	}
	return nil
}

type ResponseSummary struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"session_id"`
	SurveyID     int64     `json:"survey_id"`
	DoctorID     int64     `json:"doctor_id"`
	Completed    bool      `json:"completed"`
	CycleAborted bool      `json:"cycle_aborted"`
	AnswerCount  int       `json:"answer_count"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

func (s *Service) ListResponses(ctx context.Context, surveyID int64, limit, offset int) ([]ResponseSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.session_id, r.survey_id, r.doctor_id, r.completed, r.cycle_aborted,
			(SELECT COUNT(*) FROM response_answers a WHERE a.response_id = r.id),
			r.submitted_at
		FROM survey_responses r
		WHERE ($1 = 0 OR r.survey_id = $1)
		ORDER BY r.submitted_at DESC, r.id DESC
		LIMIT $2
		OFFSET $3
	`, surveyID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	out := make([]ResponseSummary, 0, limit)
	for rows.Next() {
		var it ResponseSummary
		if err := rows.Scan(&it.ID, &it.SessionID, &it.SurveyID, &it.DoctorID, &it.Completed, &it.CycleAborted, &it.AnswerCount, &it.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate responses: %w", err)
	}
	return out, nil
}

type AnswerDetail struct {
	QuestionID int64  `json:"question_id"`
	Answer     string `json:"answer"`
	SeqNo      int    `json:"seq_no"`
}

func (s *Service) GetResponseAnswers(ctx context.Context, responseID int64) ([]AnswerDetail, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT question_id, answer, seq_no
		FROM response_answers
		WHERE response_id = $1
		ORDER BY seq_no ASC
	`, responseID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	out := make([]AnswerDetail, 0)
	for rows.Next() {
		var it AnswerDetail
		if err := rows.Scan(&it.QuestionID, &it.Answer, &it.SeqNo); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return out, nil
}
