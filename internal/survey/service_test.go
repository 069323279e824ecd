package survey

import (
	"errors"
	"testing"

	"github.com/suryakumar124/Med-survey-diff-sub001/internal/flow"
)

func TestNormalizeQuestionInput(t *testing.T) {
	tests := []struct {
		name    string
		in      QuestionInput
		wantErr bool
		check   func(t *testing.T, q *flow.Question)
	}{
		{
			name: "text question drops options",
			in:   QuestionInput{Text: "How do you feel?", Kind: "text", Options: []string{"ignored"}},
			check: func(t *testing.T, q *flow.Question) {
				if q.Options != nil {
					t.Fatalf("expected options to be dropped, got %v", q.Options)
				}
			},
		},
		{
			name: "choice dedupes and trims options",
			in:   QuestionInput{Text: "Pick one", Kind: "choice", Options: []string{" yes ", "no", "yes", " ", "no"}},
			check: func(t *testing.T, q *flow.Question) {
				if len(q.Options) != 2 || q.Options[0] != "yes" || q.Options[1] != "no" {
					t.Fatalf("unexpected options %v", q.Options)
				}
			},
		},
		{
			name: "scale with stray options",
			in:   QuestionInput{Text: "Rate pain", Kind: "scale", Options: []string{"1", "2"}},
			check: func(t *testing.T, q *flow.Question) {
				if q.Options != nil {
					t.Fatalf("expected no options for scale, got %v", q.Options)
				}
			},
		},
		{
			name:    "choice with one option",
			in:      QuestionInput{Text: "Pick", Kind: "choice", Options: []string{"only"}},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			in:      QuestionInput{Text: "Hm", Kind: "slider"},
			wantErr: true,
		},
		{
			name:    "blank text",
			in:      QuestionInput{Text: "   ", Kind: "text"},
			wantErr: true,
		},
		{
			name:    "negative order index",
			in:      QuestionInput{Text: "Q", Kind: "text", OrderIndex: -1},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q, err := normalizeQuestionInput(tc.in)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.check != nil {
				tc.check(t, q)
			}
		})
	}
}

func TestDiagKindClassification(t *testing.T) {
	if got := diagKind(&flow.DanglingEdgeError{From: 1, To: 9}); got != "dangling_edge" {
		t.Fatalf("expected dangling_edge, got %s", got)
	}
	if got := diagKind(&flow.RuleDecodeError{Raw: "x", Reason: "bad"}); got != "rule_decode" {
		t.Fatalf("expected rule_decode, got %s", got)
	}
	if got := diagKind(errors.New("misc")); got != "other" {
		t.Fatalf("expected other, got %s", got)
	}
}
