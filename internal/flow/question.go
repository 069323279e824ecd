package flow

import "strings"

// AnswerKind selects how a question is answered.
type AnswerKind string

const (
	KindText   AnswerKind = "text"
	KindScale  AnswerKind = "scale"
	KindChoice AnswerKind = "choice"
)

const (
	ScaleMin = 1
	ScaleMax = 10
)

// Question is one node of a survey flow. OrderIndex defines the linear
// fallback order used when a question has no explicit rule; it is not
// authoritative once rules are present.
type Question struct {
	ID         int64      `json:"id"`
	Text       string     `json:"text"`
	Kind       AnswerKind `json:"kind"`
	Options    []string   `json:"options,omitempty"`
	OrderIndex int        `json:"order_index"`
	Required   bool       `json:"required"`
	NextRule   string     `json:"next_rule,omitempty"`
}

func ValidKind(v string) bool {
	switch AnswerKind(strings.TrimSpace(strings.ToLower(v))) {
	case KindText, KindScale, KindChoice:
		return true
	default:
		return false
	}
}

// HasOption reports whether v is one of the question's current options.
func (q Question) HasOption(v string) bool {
	for _, opt := range q.Options {
		if opt == v {
			return true
		}
	}
	return false
}
