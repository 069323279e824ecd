package flow

import (
	"errors"
	"reflect"
	"testing"
)

func TestSessionLinearWalk(t *testing.T) {
	// Scenario: three questions with no explicit rules, answered in
	// order, completing at the end.
	s := NewSession(BuildGraph(linearQuestions()), 0)

	q, ok := s.CurrentQuestion()
	if !ok || q.ID != 1 {
		t.Fatalf("expected to start at question 1, got %v ok=%v", q.ID, ok)
	}

	for _, answer := range []string{"about 40", "8", "none"} {
		if err := s.Advance(answer); err != nil {
			t.Fatalf("advance(%q): %v", answer, err)
		}
	}

	if !s.Completed() {
		t.Fatalf("expected completed state, got %s", s.State())
	}
	if s.CycleAborted() {
		t.Fatalf("linear walk must not trip the hop cap")
	}
	if want := []int64{1, 2, 3}; !reflect.DeepEqual(s.VisitedPath(), want) {
		t.Fatalf("expected path %v, got %v", want, s.VisitedPath())
	}
}

func TestSessionBranchResolution(t *testing.T) {
	questions := []Question{
		{ID: 1, Text: "Do you prescribe it?", Kind: KindChoice, Options: []string{"yes", "no"}, OrderIndex: 0, NextRule: "*=2;yes=3"},
		{ID: 2, Text: "Why not?", Kind: KindText, OrderIndex: 1},
		{ID: 3, Text: "How often?", Kind: KindScale, OrderIndex: 2},
	}

	tests := []struct {
		name   string
		answer string
		wantAt int64
	}{
		{name: "branch answer routes to branch target", answer: "yes", wantAt: 3},
		{name: "other answer falls to default", answer: "no", wantAt: 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSession(BuildGraph(questions), 0)
			if err := s.Advance(tc.answer); err != nil {
				t.Fatalf("advance: %v", err)
			}
			q, ok := s.CurrentQuestion()
			if !ok || q.ID != tc.wantAt {
				t.Fatalf("expected to land at %d, got %d", tc.wantAt, q.ID)
			}
		})
	}
}

func TestSessionLinearFallbackOnlyWithoutEdges(t *testing.T) {
	// An explicit default edge overrides the linear order.
	questions := []Question{
		{ID: 1, Text: "A", Kind: KindText, OrderIndex: 0, NextRule: "*=3"},
		{ID: 2, Text: "B", Kind: KindText, OrderIndex: 1},
		{ID: 3, Text: "C", Kind: KindText, OrderIndex: 2},
	}
	s := NewSession(BuildGraph(questions), 0)

	if err := s.Advance("x"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if q, _ := s.CurrentQuestion(); q.ID != 3 {
		t.Fatalf("expected default edge to win over linear order, at %d", q.ID)
	}
}

func TestSessionRequiredBlocksAdvance(t *testing.T) {
	s := NewSession(BuildGraph(linearQuestions()), 0)

	if err := s.Advance("   "); !errors.Is(err, ErrAnswerRequired) {
		t.Fatalf("expected ErrAnswerRequired, got %v", err)
	}
	if q, _ := s.CurrentQuestion(); q.ID != 1 {
		t.Fatalf("blocked advance must not move, at %d", q.ID)
	}

	if err := s.Advance("40"); err != nil {
		t.Fatalf("advance after answering: %v", err)
	}
	// Question 2 is optional; an empty answer passes through.
	if err := s.Advance(""); err != nil {
		t.Fatalf("optional question must accept empty answer: %v", err)
	}
}

func TestSessionRetreatKeepsAnswer(t *testing.T) {
	s := NewSession(BuildGraph(linearQuestions()), 0)

	if err := s.Advance("first answer"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := s.Retreat(); err != nil {
		t.Fatalf("retreat: %v", err)
	}

	q, _ := s.CurrentQuestion()
	if q.ID != 1 {
		t.Fatalf("expected to be back at question 1, at %d", q.ID)
	}
	if got, ok := s.Answer(1); !ok || got != "first answer" {
		t.Fatalf("expected prior answer preserved, got %q ok=%v", got, ok)
	}

	// Re-answering overwrites.
	if err := s.Advance("revised answer"); err != nil {
		t.Fatalf("re-advance: %v", err)
	}
	if got, _ := s.Answer(1); got != "revised answer" {
		t.Fatalf("expected overwrite semantics, got %q", got)
	}
}

func TestSessionRetreatAtEntryIsNoPrior(t *testing.T) {
	s := NewSession(BuildGraph(linearQuestions()), 0)
	if err := s.Retreat(); !errors.Is(err, ErrNoPriorQuestion) {
		t.Fatalf("expected ErrNoPriorQuestion, got %v", err)
	}
}

func TestSessionBackForwardSymmetry(t *testing.T) {
	s := NewSession(BuildGraph(linearQuestions()), 0)

	if err := s.Advance("a1"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := s.Advance("a2"); err != nil {
		t.Fatalf("advance: %v", err)
	}

	before := s.VisitedPath()
	prior := before[len(before)-2]
	if err := s.Retreat(); err != nil {
		t.Fatalf("retreat: %v", err)
	}
	q, _ := s.CurrentQuestion()
	if q.ID != prior {
		t.Fatalf("expected retreat to land at %d, got %d", prior, q.ID)
	}
	if got, ok := s.Answer(q.ID); !ok || got != "a2" {
		t.Fatalf("expected answer for revisited question retrievable, got %q ok=%v", got, ok)
	}
}

func TestSessionSelfLoopTripsHopCap(t *testing.T) {
	// Scenario: a question whose default edge points at itself. The
	// hop cap force-completes the session instead of looping forever.
	questions := []Question{
		{ID: 1, Text: "A", Kind: KindText, OrderIndex: 0, NextRule: "*=1"},
	}
	s := NewSession(BuildGraph(questions), 4)

	steps := 0
	for !s.Completed() {
		if err := s.Advance("again"); err != nil {
			t.Fatalf("advance %d: %v", steps, err)
		}
		steps++
		if steps > 100 {
			t.Fatalf("session did not terminate")
		}
	}

	if !s.CycleAborted() {
		t.Fatalf("expected CycleAborted after hop cap")
	}
	if steps != 4 {
		t.Fatalf("expected termination at 4 hops for 1 question, took %d", steps)
	}
}

func TestSessionBackAndForthKeepsHopBudget(t *testing.T) {
	// Scenario: a respondent oscillating between the first two
	// questions of a loop-free survey. Undone hops return to the
	// budget, so the walk still completes normally.
	s := NewSession(BuildGraph(linearQuestions()), 4)

	for i := 0; i < 20; i++ {
		if err := s.Advance("about 40"); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		if err := s.Retreat(); err != nil {
			t.Fatalf("retreat %d: %v", i, err)
		}
	}

	for _, answer := range []string{"about 40", "8", "none"} {
		if err := s.Advance(answer); err != nil {
			t.Fatalf("advance(%q): %v", answer, err)
		}
	}
	if !s.Completed() {
		t.Fatalf("expected completed state, got %s", s.State())
	}
	if s.CycleAborted() {
		t.Fatalf("oscillation on a loop-free survey must not trip the hop cap")
	}
}

func TestSessionEmptyGraph(t *testing.T) {
	s := NewSession(BuildGraph(nil), 0)
	if s.State() != StateEmpty {
		t.Fatalf("expected empty state, got %s", s.State())
	}
	if err := s.Advance("x"); !errors.Is(err, ErrSessionEmpty) {
		t.Fatalf("expected ErrSessionEmpty, got %v", err)
	}
}

func TestSessionAdvanceAfterCompleted(t *testing.T) {
	s := NewSession(BuildGraph([]Question{{ID: 1, Text: "only", Kind: KindText, OrderIndex: 0}}), 0)
	if err := s.Advance("done"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := s.Advance("again"); !errors.Is(err, ErrSessionDone) {
		t.Fatalf("expected ErrSessionDone, got %v", err)
	}
}

func TestSessionFinalizeEarly(t *testing.T) {
	questions := []Question{
		{ID: 1, Text: "required", Kind: KindText, OrderIndex: 0, Required: true},
		{ID: 2, Text: "optional", Kind: KindText, OrderIndex: 1},
	}

	s := NewSession(BuildGraph(questions), 0)
	if err := s.FinalizeEarly(); !errors.Is(err, ErrFinalizeRequired) {
		t.Fatalf("expected ErrFinalizeRequired at required question, got %v", err)
	}

	if err := s.Advance("value"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := s.FinalizeEarly(); err != nil {
		t.Fatalf("finalize at optional question: %v", err)
	}
	if !s.Completed() {
		t.Fatalf("expected completed after early finalize")
	}
}

func TestResumeSession(t *testing.T) {
	g := BuildGraph(linearQuestions())

	t.Run("resumes at last visited", func(t *testing.T) {
		s := ResumeSession(g, 0, []int64{1, 2}, map[int64]string{1: "40"})
		q, ok := s.CurrentQuestion()
		if !ok || q.ID != 2 {
			t.Fatalf("expected resume at question 2, got %d ok=%v", q.ID, ok)
		}
		if got, _ := s.Answer(1); got != "40" {
			t.Fatalf("expected restored answer, got %q", got)
		}
	})

	t.Run("skips ids gone from the snapshot", func(t *testing.T) {
		s := ResumeSession(g, 0, []int64{1, 99, 2}, map[int64]string{99: "stale"})
		if want := []int64{1, 2}; !reflect.DeepEqual(s.VisitedPath(), want) {
			t.Fatalf("expected path %v, got %v", want, s.VisitedPath())
		}
		if _, ok := s.Answer(99); ok {
			t.Fatalf("expected stale answer dropped")
		}
	})

	t.Run("empty checkpoint behaves like a fresh session", func(t *testing.T) {
		s := ResumeSession(g, 0, nil, nil)
		q, _ := s.CurrentQuestion()
		if q.ID != 1 {
			t.Fatalf("expected fresh session at entry, got %d", q.ID)
		}
	})
}
