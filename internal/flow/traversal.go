package flow

import (
	"errors"
	"strings"
)

var (
	ErrSessionDone      = errors.New("session already completed")
	ErrSessionEmpty     = errors.New("survey has no questions")
	ErrAnswerRequired   = errors.New("answer required")
	ErrNoPriorQuestion  = errors.New("no prior question")
	ErrFinalizeRequired = errors.New("current question is required")
)

// SessionState is the traversal state machine position.
type SessionState string

const (
	StateAtQuestion SessionState = "at_question"
	StateCompleted  SessionState = "completed"
	StateEmpty      SessionState = "empty"
)

const defaultHopMultiplier = 4

// Session is one respondent's walk through a flow graph. It is owned by
// a single in-progress response and must not be used concurrently; the
// shared graph it reads is immutable.
type Session struct {
	graph        *Graph
	state        SessionState
	current      int64
	visited      []int64
	answers      map[int64]string
	hops         int
	maxHops      int
	cycleAborted bool
}

// NewSession starts a traversal at the graph's entry point.
// hopMultiplier caps total forward hops at hopMultiplier × question
// count so a cyclic graph terminates; zero or negative selects the
// default of 4.
func NewSession(g *Graph, hopMultiplier int) *Session {
	if hopMultiplier <= 0 {
		hopMultiplier = defaultHopMultiplier
	}
	s := &Session{
		graph:   g,
		answers: make(map[int64]string),
		maxHops: hopMultiplier * g.QuestionCount(),
	}
	entry := g.EntryPoint()
	if entry == 0 {
		s.state = StateEmpty
		return s
	}
	s.state = StateAtQuestion
	s.current = entry
	s.visited = []int64{entry}
	return s
}

// ResumeSession rebuilds a session from a persisted checkpoint. Visited
// ids that no longer resolve in the graph are skipped; an empty or
// fully stale path falls back to a fresh session.
func ResumeSession(g *Graph, hopMultiplier int, visited []int64, answers map[int64]string) *Session {
	s := NewSession(g, hopMultiplier)
	if s.state != StateAtQuestion {
		return s
	}

	path := make([]int64, 0, len(visited))
	for _, id := range visited {
		if _, ok := g.Question(id); ok {
			path = append(path, id)
		}
	}
	if len(path) > 0 {
		s.visited = path
		s.current = path[len(path)-1]
		s.hops = len(path) - 1
	}
	for id, answer := range answers {
		if _, ok := g.Question(id); ok {
			s.answers[id] = answer
		}
	}
	return s
}

func (s *Session) State() SessionState { return s.state }

func (s *Session) Completed() bool { return s.state == StateCompleted }

// CycleAborted reports whether the session was force-completed by the
// hop cap rather than by reaching the end of the flow.
func (s *Session) CycleAborted() bool { return s.cycleAborted }

// CurrentQuestion returns the question the respondent is at, false when
// the session is empty or completed.
func (s *Session) CurrentQuestion() (Question, bool) {
	if s.state != StateAtQuestion {
		return Question{}, false
	}
	return s.graph.Question(s.current)
}

// VisitedPath returns the navigation history in order. Duplicates appear
// when a cycle was traversed.
func (s *Session) VisitedPath() []int64 {
	return append([]int64(nil), s.visited...)
}

// Answer returns the recorded answer for a question, if any. Answers
// survive backward navigation so a revisited question shows its prior
// value for editing.
func (s *Session) Answer(id int64) (string, bool) {
	v, ok := s.answers[id]
	return v, ok
}

// Answers returns a copy of the recorded answer set, last write wins.
func (s *Session) Answers() map[int64]string {
	out := make(map[int64]string, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}

// Advance records the answer for the current question and moves to the
// next one. Resolution order: branch edge matching a choice answer,
// then the default edge, then the linear-order fallback; no target
// completes the session. Only a missing answer on a required question
// blocks the step.
func (s *Session) Advance(answer string) error {
	switch s.state {
	case StateEmpty:
		return ErrSessionEmpty
	case StateCompleted:
		return ErrSessionDone
	}

	q, ok := s.graph.Question(s.current)
	if !ok {
		// Current question vanished from the snapshot; terminate
		// rather than strand the respondent.
		s.state = StateCompleted
		return nil
	}
	if q.Required && strings.TrimSpace(answer) == "" {
		return ErrAnswerRequired
	}

	s.answers[s.current] = answer

	target, found := int64(0), false
	if q.Kind == KindChoice {
		target, found = s.graph.Next(s.current, answer)
	}
	if !found {
		target, found = s.graph.Next(s.current, "")
	}
	if !found {
		target, found = s.graph.NextInOrder(q.OrderIndex)
	}
	if !found {
		s.state = StateCompleted
		return nil
	}

	s.hops++
	if s.maxHops > 0 && s.hops >= s.maxHops {
		s.cycleAborted = true
		s.state = StateCompleted
		return nil
	}

	s.visited = append(s.visited, target)
	s.current = target
	return nil
}

// Retreat steps back to the previous entry of the visited path. The
// popped question's recorded answer is kept. ErrNoPriorQuestion means
// there is nothing to go back to; callers treat it as a no-op.
func (s *Session) Retreat() error {
	if s.state != StateAtQuestion || len(s.visited) <= 1 {
		return ErrNoPriorQuestion
	}
	s.visited = s.visited[:len(s.visited)-1]
	s.current = s.visited[len(s.visited)-1]
	// The hop budget tracks net forward progress; undoing a hop gives
	// it back so back-and-forth on a loop-free survey never trips the
	// cycle guard.
	if s.hops > 0 {
		s.hops--
	}
	return nil
}

// FinalizeEarly completes the session before the flow ends. Allowed
// only when the current question is not required; completed and empty
// sessions finalize as a no-op.
func (s *Session) FinalizeEarly() error {
	if s.state != StateAtQuestion {
		s.state = StateCompleted
		return nil
	}
	if q, ok := s.graph.Question(s.current); ok && q.Required {
		return ErrFinalizeRequired
	}
	s.state = StateCompleted
	return nil
}
