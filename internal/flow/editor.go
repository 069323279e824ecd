package flow

import (
	"net/url"
	"strconv"
	"strings"
)

// EditorNode is one node of the visual editor representation. Positions
// are derived from the question's position in input order so repeated
// renders of an unchanged graph are byte-identical.
type EditorNode struct {
	ID       string   `json:"id"`
	Question Question `json:"question"`
	X        int      `json:"x"`
	Y        int      `json:"y"`
}

// EditorEdge is one connection in the editor. Option "" means the edge
// was drawn from the node's default anchor; anything else names the
// per-option anchor it was drawn from.
type EditorEdge struct {
	ID     string `json:"id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Option string `json:"option,omitempty"`
}

const (
	editorColumns = 4
	editorCellW   = 260
	editorCellH   = 160
)

// EdgeID derives the stable identifier of a logical edge. The same
// (from, anchor, to) triple always maps to the same id, which the
// editor relies on to diff re-renders.
func EdgeID(e Edge) string {
	anchor := "default"
	if e.Option != "" {
		anchor = "opt:" + url.QueryEscape(e.Option)
	}
	return "e" + strconv.FormatInt(e.From, 10) + ":" + anchor + ":" + strconv.FormatInt(e.To, 10)
}

func nodeID(questionID int64) string {
	return "q" + strconv.FormatInt(questionID, 10)
}

func parseNodeID(id string) (int64, bool) {
	if !strings.HasPrefix(id, "q") {
		return 0, false
	}
	n, err := strconv.ParseInt(id[1:], 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// ToEditableGraph projects a flow graph into the editor representation.
func ToEditableGraph(g *Graph) ([]EditorNode, []EditorEdge) {
	questions := g.Questions()
	nodes := make([]EditorNode, 0, len(questions))
	for i, q := range questions {
		nodes = append(nodes, EditorNode{
			ID:       nodeID(q.ID),
			Question: q,
			X:        (i % editorColumns) * editorCellW,
			Y:        (i / editorColumns) * editorCellH,
		})
	}

	graphEdges := g.Edges()
	edges := make([]EditorEdge, 0, len(graphEdges))
	for _, e := range graphEdges {
		edges = append(edges, EditorEdge{
			ID:     EdgeID(e),
			From:   nodeID(e.From),
			To:     nodeID(e.To),
			Option: e.Option,
		})
	}
	return nodes, edges
}

// FromEditableGraph re-derives every question's transition rule from
// the edited edge set and re-encodes it. Questions with no outgoing
// edges get an empty encoding, which clears any prior rule: removing
// all edges in the editor means "fall back to linear order". A later
// edge from the same anchor replaces an earlier one, and branch edges
// drawn from options the question no longer has are dropped.
func FromEditableGraph(nodes []EditorNode, edges []EditorEdge, questions []Question) []Question {
	known := make(map[int64]Question, len(questions))
	for _, q := range questions {
		known[q.ID] = q
	}
	// The editor may rename nodes; resolve through the node list first,
	// falling back to the id convention.
	nodeQuestion := make(map[string]int64, len(nodes))
	for _, n := range nodes {
		if _, ok := known[n.Question.ID]; ok {
			nodeQuestion[n.ID] = n.Question.ID
		}
	}
	resolve := func(id string) (int64, bool) {
		if qid, ok := nodeQuestion[id]; ok {
			return qid, true
		}
		qid, ok := parseNodeID(id)
		if !ok {
			return 0, false
		}
		_, present := known[qid]
		return qid, present
	}

	rules := make(map[int64]TransitionRule, len(questions))
	for _, e := range edges {
		from, ok := resolve(e.From)
		if !ok {
			continue
		}
		to, ok := resolve(e.To)
		if !ok {
			continue
		}

		rule := rules[from]
		if e.Option == "" {
			rule.DefaultNextID = to
		} else {
			q := known[from]
			if q.Kind != KindChoice || !q.HasOption(e.Option) {
				continue
			}
			if rule.Branches == nil {
				rule.Branches = make(map[string]int64)
			}
			rule.Branches[e.Option] = to
		}
		rules[from] = rule
	}

	out := make([]Question, 0, len(questions))
	for _, q := range questions {
		q.NextRule = EncodeRule(rules[q.ID])
		out = append(out, q)
	}
	return out
}
