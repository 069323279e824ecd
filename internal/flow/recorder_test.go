package flow

import (
	"reflect"
	"testing"
)

type captureSinks struct {
	checkpoints []Checkpoint
	submissions []Submission
}

func (c *captureSinks) SaveCheckpoint(cp Checkpoint) { c.checkpoints = append(c.checkpoints, cp) }
func (c *captureSinks) SubmitResponse(s Submission)  { c.submissions = append(c.submissions, s) }

func TestRecorderCheckpointsFullState(t *testing.T) {
	sinks := &captureSinks{}
	rec := NewRecorder("sess-1", NewSession(BuildGraph(linearQuestions()), 0), sinks, sinks)

	if err := rec.OnAnswer("40"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := rec.OnAnswer("8"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	if len(sinks.checkpoints) != 2 {
		t.Fatalf("expected a checkpoint per accepted answer, got %d", len(sinks.checkpoints))
	}
	last := sinks.checkpoints[1]
	if last.SessionID != "sess-1" {
		t.Fatalf("expected session id, got %q", last.SessionID)
	}
	// Checkpoints carry the whole answer set, not a delta.
	if want := map[int64]string{1: "40", 2: "8"}; !reflect.DeepEqual(last.Answers, want) {
		t.Fatalf("expected full answer set %v, got %v", want, last.Answers)
	}
	if want := []int64{1, 2, 3}; !reflect.DeepEqual(last.VisitedPath, want) {
		t.Fatalf("expected path %v, got %v", want, last.VisitedPath)
	}
}

func TestRecorderRejectedAnswerDoesNotCheckpoint(t *testing.T) {
	sinks := &captureSinks{}
	rec := NewRecorder("sess-1", NewSession(BuildGraph(linearQuestions()), 0), sinks, sinks)

	if err := rec.OnAnswer(""); err == nil {
		t.Fatalf("expected required validation error")
	}
	if len(sinks.checkpoints) != 0 {
		t.Fatalf("rejected answer must not checkpoint, got %d", len(sinks.checkpoints))
	}
}

func TestRecorderSubmitsOnCompletion(t *testing.T) {
	sinks := &captureSinks{}
	rec := NewRecorder("sess-1", NewSession(BuildGraph(linearQuestions()), 0), sinks, sinks)

	for _, a := range []string{"40", "8", "none"} {
		if err := rec.OnAnswer(a); err != nil {
			t.Fatalf("answer(%q): %v", a, err)
		}
	}

	if len(sinks.submissions) != 1 {
		t.Fatalf("expected exactly one submission, got %d", len(sinks.submissions))
	}
	sub := sinks.submissions[0]
	if !sub.Completed || sub.CycleAborted {
		t.Fatalf("unexpected submission flags: %+v", sub)
	}
	want := []SubmittedAnswer{
		{QuestionID: 1, Answer: "40"},
		{QuestionID: 2, Answer: "8"},
		{QuestionID: 3, Answer: "none"},
	}
	if !reflect.DeepEqual(sub.Answers, want) {
		t.Fatalf("expected answers in visitation order %v, got %v", want, sub.Answers)
	}

	// A later manual finalize is a no-op.
	if err := rec.Finalize(); err != nil {
		t.Fatalf("finalize after completion: %v", err)
	}
	if len(sinks.submissions) != 1 {
		t.Fatalf("finalize must not double-submit, got %d", len(sinks.submissions))
	}
}

func TestRecorderManualFinalize(t *testing.T) {
	questions := []Question{
		{ID: 1, Text: "optional", Kind: KindText, OrderIndex: 0},
		{ID: 2, Text: "also optional", Kind: KindText, OrderIndex: 1},
	}
	sinks := &captureSinks{}
	rec := NewRecorder("sess-2", NewSession(BuildGraph(questions), 0), sinks, sinks)

	if err := rec.OnAnswer("something"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := rec.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := rec.Finalize(); err != nil {
		t.Fatalf("second finalize: %v", err)
	}

	if len(sinks.submissions) != 1 {
		t.Fatalf("expected single submission, got %d", len(sinks.submissions))
	}
	if want := []SubmittedAnswer{{QuestionID: 1, Answer: "something"}}; !reflect.DeepEqual(sinks.submissions[0].Answers, want) {
		t.Fatalf("expected %v, got %v", want, sinks.submissions[0].Answers)
	}
}

func TestRecorderCycleAbortFlagInSubmission(t *testing.T) {
	questions := []Question{
		{ID: 1, Text: "A", Kind: KindText, OrderIndex: 0, NextRule: "*=1"},
	}
	sinks := &captureSinks{}
	rec := NewRecorder("sess-3", NewSession(BuildGraph(questions), 0), sinks, sinks)

	for i := 0; i < 10 && len(sinks.submissions) == 0; i++ {
		if err := rec.OnAnswer("loop"); err != nil {
			t.Fatalf("answer %d: %v", i, err)
		}
	}

	if len(sinks.submissions) != 1 {
		t.Fatalf("expected submission after cycle abort, got %d", len(sinks.submissions))
	}
	if !sinks.submissions[0].CycleAborted {
		t.Fatalf("expected CycleAborted flag set")
	}
}

func TestRecorderBackCheckpoints(t *testing.T) {
	sinks := &captureSinks{}
	rec := NewRecorder("sess-4", NewSession(BuildGraph(linearQuestions()), 0), sinks, sinks)

	if err := rec.OnAnswer("40"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := rec.Back(); err != nil {
		t.Fatalf("back: %v", err)
	}

	if len(sinks.checkpoints) != 2 {
		t.Fatalf("expected checkpoint after back, got %d", len(sinks.checkpoints))
	}
	last := sinks.checkpoints[1]
	if want := []int64{1}; !reflect.DeepEqual(last.VisitedPath, want) {
		t.Fatalf("expected shortened path %v, got %v", want, last.VisitedPath)
	}
	if last.Answers[1] != "40" {
		t.Fatalf("expected answer kept after back, got %v", last.Answers)
	}
}
