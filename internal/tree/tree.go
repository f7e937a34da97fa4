// Package tree materializes nested trace trees from flat spans.
//
// Spans are indexed into an arena (span_id -> position) and children are
// linked by position. The nested view exists only at serialization time and
// is never persisted, so it is safe to rebuild on every read.
package tree

import (
	"encoding/json"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

// Node is one span with its children grouped by span name.
type Node struct {
	model.Span
	Nodes map[string]Group `json:"nodes,omitempty"`
}

// Group holds the children of one parent that share a name, in input order.
// A single child serializes as an object, several as a list.
type Group []*Node

func (g Group) MarshalJSON() ([]byte, error) {
	if len(g) == 1 {
		return json.Marshal(g[0])
	}
	return json.Marshal([]*Node(g))
}

// Tree is the materialized hierarchy of one trace. Implicit is set when the
// trace had no parentless span and its top level was synthesized.
type Tree struct {
	TraceID  string           `json:"trace_id"`
	Implicit bool             `json:"implicit,omitempty"`
	Nodes    map[string]Group `json:"nodes"`
}

// Build groups spans by trace id and materializes one tree per trace.
// Spans whose parent is absent from the input become top-level entries.
func Build(spans []model.Span) map[string]*Tree {
	out := make(map[string]*Tree)
	for traceID, group := range groupByTrace(spans) {
		out[traceID] = buildTrace(traceID, group)
	}
	return out
}

func buildTrace(traceID string, spans []model.Span) *Tree {
	a := newArena(spans)
	t := &Tree{TraceID: traceID, Nodes: make(map[string]Group)}
	for _, r := range a.roots {
		attach(t.Nodes, a.materialize(r))
	}
	if len(a.roots) == 0 {
		t.Implicit = true
	}
	// Spans still unvisited sit on a parent cycle; each becomes a
	// top-level entry so nothing is dropped.
	for i := range a.spans {
		if !a.visited[i] {
			attach(t.Nodes, a.materialize(i))
		}
	}
	return t
}

func attach(nodes map[string]Group, n *Node) {
	nodes[n.SpanName] = append(nodes[n.SpanName], n)
}

func (a *arena) materialize(i int) *Node {
	a.visited[i] = true
	n := &Node{Span: a.spans[i]}
	for _, c := range a.children[i] {
		if a.visited[c] {
			continue
		}
		if n.Nodes == nil {
			n.Nodes = make(map[string]Group)
		}
		attach(n.Nodes, a.materialize(c))
	}
	return n
}
