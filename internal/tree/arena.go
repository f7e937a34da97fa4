package tree

import "github.com/ashita-ai/tsuiseki/internal/model"

type arena struct {
	spans    []model.Span
	children [][]int
	roots    []int
	visited  []bool
}

// newArena links spans of one trace by position. A span is a root when it
// has no parent or its parent is not in the set. If a span id repeats, the
// first occurrence receives the children.
func newArena(spans []model.Span) *arena {
	index := make(map[string]int, len(spans))
	for i, s := range spans {
		if _, dup := index[s.SpanID]; !dup {
			index[s.SpanID] = i
		}
	}

	a := &arena{
		spans:    spans,
		children: make([][]int, len(spans)),
		visited:  make([]bool, len(spans)),
	}
	for i, s := range spans {
		if s.ParentID == nil {
			a.roots = append(a.roots, i)
			continue
		}
		p, ok := index[*s.ParentID]
		if !ok {
			a.roots = append(a.roots, i)
			continue
		}
		a.children[p] = append(a.children[p], i)
	}
	return a
}

// groupByTrace splits spans by trace id, preserving input order within each
// trace.
func groupByTrace(spans []model.Span) map[string][]model.Span {
	out := make(map[string][]model.Span)
	for _, s := range spans {
		out[s.TraceID] = append(out[s.TraceID], s)
	}
	return out
}
