package flow

import "fmt"

// Edge is one directed transition. Option "" marks the default edge,
// anything else a branch edge conditioned on that choice option.
type Edge struct {
	From   int64  `json:"from"`
	To     int64  `json:"to"`
	Option string `json:"option,omitempty"`
}

func (e Edge) IsDefault() bool {
	return e.Option == ""
}

// DanglingEdgeError reports a rule entry that could not become an edge:
// either the target question is gone or the branch option no longer
// exists. Dropped at build time, logged, never surfaced.
type DanglingEdgeError struct {
	From   int64
	To     int64
	Option string
	Reason string
}

func (e *DanglingEdgeError) Error() string {
	if e.Option == "" {
		return fmt.Sprintf("question %d: default edge to %d dropped: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("question %d: branch %q to %d dropped: %s", e.From, e.Option, e.To, e.Reason)
}

type edgeKey struct {
	from   int64
	option string
}

// Graph is the assembled survey flow. It is immutable once built and
// may be shared across concurrent respondent sessions without locking.
type Graph struct {
	questions []Question
	byID      map[int64]Question
	byOrder   map[int]int64
	adjacency map[edgeKey]int64
	edges     []Edge
	targeted  map[int64]bool
	diags     []error
}

// BuildGraph decodes every question's rule and assembles the edge set.
// All decode and resolution anomalies degrade to dropped edges recorded
// as diagnostics; building never fails.
func BuildGraph(questions []Question) *Graph {
	g := &Graph{
		questions: append([]Question(nil), questions...),
		byID:      make(map[int64]Question, len(questions)),
		byOrder:   make(map[int]int64, len(questions)),
		adjacency: make(map[edgeKey]int64),
		targeted:  make(map[int64]bool),
	}

	for _, q := range g.questions {
		g.byID[q.ID] = q
		if _, taken := g.byOrder[q.OrderIndex]; !taken {
			g.byOrder[q.OrderIndex] = q.ID
		}
	}

	for _, q := range g.questions {
		rule, err := DecodeRule(q.NextRule)
		if err != nil {
			g.diags = append(g.diags, err)
			continue
		}

		if rule.DefaultNextID != 0 {
			if _, ok := g.byID[rule.DefaultNextID]; ok {
				g.addEdge(Edge{From: q.ID, To: rule.DefaultNextID})
			} else {
				g.diags = append(g.diags, &DanglingEdgeError{From: q.ID, To: rule.DefaultNextID, Reason: "target question missing"})
			}
		}

		if q.Kind != KindChoice {
			continue
		}
		// Iterate options rather than the branch map so edge order is
		// the authored option order.
		for _, opt := range q.Options {
			target, ok := rule.Branches[opt]
			if !ok {
				continue
			}
			if _, ok := g.byID[target]; ok {
				g.addEdge(Edge{From: q.ID, To: target, Option: opt})
			} else {
				g.diags = append(g.diags, &DanglingEdgeError{From: q.ID, To: target, Option: opt, Reason: "target question missing"})
			}
		}
		for opt, target := range rule.Branches {
			if !q.HasOption(opt) {
				g.diags = append(g.diags, &DanglingEdgeError{From: q.ID, To: target, Option: opt, Reason: "option no longer exists"})
			}
		}
	}

	return g
}

func (g *Graph) addEdge(e Edge) {
	g.adjacency[edgeKey{from: e.From, option: e.Option}] = e.To
	g.edges = append(g.edges, e)
	g.targeted[e.To] = true
}

// Next resolves the outgoing edge of a question. Option "" looks up the
// default edge.
func (g *Graph) Next(from int64, option string) (int64, bool) {
	to, ok := g.adjacency[edgeKey{from: from, option: option}]
	return to, ok
}

// NextInOrder returns the question whose order index immediately
// follows the given one (the linear-order fallback).
func (g *Graph) NextInOrder(orderIndex int) (int64, bool) {
	id, ok := g.byOrder[orderIndex+1]
	return id, ok
}

func (g *Graph) Question(id int64) (Question, bool) {
	q, ok := g.byID[id]
	return q, ok
}

// Questions returns the node set in input order.
func (g *Graph) Questions() []Question {
	return append([]Question(nil), g.questions...)
}

// Edges returns the assembled edge set in build order.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

func (g *Graph) QuestionCount() int {
	return len(g.questions)
}

// EntryPoint picks the first question of the flow: the question at
// order index zero that no edge targets, falling back to the first
// question in input order. Zero means the graph is empty.
func (g *Graph) EntryPoint() int64 {
	if len(g.questions) == 0 {
		return 0
	}
	if id, ok := g.byOrder[0]; ok && !g.targeted[id] {
		return id
	}
	return g.questions[0].ID
}

// Diagnostics returns the non-fatal anomalies absorbed during the
// build: rule decode failures and dropped dangling edges.
func (g *Graph) Diagnostics() []error {
	return append([]error(nil), g.diags...)
}
