package flow

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// TransitionRule is the decoded branching rule of one question.
// DefaultNextID zero means "no default edge". Branches maps a choice
// option value to the next question id; it is only meaningful for
// choice questions, but decode preserves whatever the encoding carries
// so stale option references survive a raw decode/encode cycle.
type TransitionRule struct {
	DefaultNextID int64
	Branches      map[string]int64
}

func (r TransitionRule) IsEmpty() bool {
	return r.DefaultNextID == 0 && len(r.Branches) == 0
}

// RuleDecodeError reports a malformed persisted rule. It is a non-fatal
// diagnostic: the decoder still returns the empty rule, and callers log
// the error instead of surfacing it to the respondent.
type RuleDecodeError struct {
	Raw    string
	Reason string
}

func (e *RuleDecodeError) Error() string {
	return fmt.Sprintf("malformed transition rule %q: %s", e.Raw, e.Reason)
}

const defaultEdgeKey = "*"

// DecodeRule parses the persisted rule encoding. It never panics; on
// malformed input it returns the empty rule together with a
// *RuleDecodeError. An empty string decodes to the empty rule with no
// error, so "no rule stored" round-trips exactly.
func DecodeRule(raw string) (TransitionRule, error) {
	if strings.TrimSpace(raw) == "" {
		return TransitionRule{}, nil
	}

	var out TransitionRule
	for _, seg := range strings.Split(raw, ";") {
		if seg == "" {
			return TransitionRule{}, &RuleDecodeError{Raw: raw, Reason: "empty segment"}
		}
		eq := strings.Index(seg, "=")
		if eq <= 0 {
			return TransitionRule{}, &RuleDecodeError{Raw: raw, Reason: "segment is not key=target"}
		}
		key := seg[:eq]
		target, err := strconv.ParseInt(seg[eq+1:], 10, 64)
		if err != nil || target <= 0 {
			return TransitionRule{}, &RuleDecodeError{Raw: raw, Reason: "invalid target id"}
		}

		if key == defaultEdgeKey {
			if out.DefaultNextID != 0 {
				return TransitionRule{}, &RuleDecodeError{Raw: raw, Reason: "duplicate default edge"}
			}
			out.DefaultNextID = target
			continue
		}

		option, err := url.QueryUnescape(key)
		if err != nil {
			return TransitionRule{}, &RuleDecodeError{Raw: raw, Reason: "invalid option escaping"}
		}
		if option == "" {
			return TransitionRule{}, &RuleDecodeError{Raw: raw, Reason: "empty option value"}
		}
		if _, exists := out.Branches[option]; exists {
			return TransitionRule{}, &RuleDecodeError{Raw: raw, Reason: "duplicate branch option"}
		}
		if out.Branches == nil {
			out.Branches = make(map[string]int64)
		}
		out.Branches[option] = target
	}

	return out, nil
}

// EncodeRule renders a rule back to its persisted encoding. The empty
// rule encodes to "", stored as-is to mean order-based fallthrough.
// Branch segments are emitted in sorted option order so encoding is
// deterministic.
func EncodeRule(r TransitionRule) string {
	if r.IsEmpty() {
		return ""
	}

	segments := make([]string, 0, 1+len(r.Branches))
	if r.DefaultNextID > 0 {
		segments = append(segments, defaultEdgeKey+"="+strconv.FormatInt(r.DefaultNextID, 10))
	}

	options := make([]string, 0, len(r.Branches))
	for opt := range r.Branches {
		options = append(options, opt)
	}
	sort.Strings(options)
	for _, opt := range options {
		segments = append(segments, url.QueryEscape(opt)+"="+strconv.FormatInt(r.Branches[opt], 10))
	}

	return strings.Join(segments, ";")
}
