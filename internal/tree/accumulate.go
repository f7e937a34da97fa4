package tree

import (
	"strings"

	"github.com/Jeffail/gabs/v2"

	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/semconv"
)

var accumulated = []string{"tokens", "costs"}

// Accumulate writes subtree sums of every ag.metrics.unit.{tokens,costs}.*
// value, plus ag.metrics.acc.duration.cumulative in milliseconds, onto each
// span. Sums only cover the spans passed in; a span whose children arrive in
// a later batch is not updated.
func Accumulate(spans []model.Span) {
	byTrace := make(map[string][]int)
	for i := range spans {
		if spans[i].Attributes == nil {
			spans[i].Attributes = make(map[string]any)
		}
		byTrace[spans[i].TraceID] = append(byTrace[spans[i].TraceID], i)
	}

	for _, idxs := range byTrace {
		group := make([]model.Span, len(idxs))
		for k, i := range idxs {
			group[k] = spans[i]
		}
		a := newArena(group)
		order, kids := a.postOrder()

		acc := make([]map[string]float64, len(group))
		for _, i := range order {
			sum := unitMetrics(group[i])
			for _, c := range kids[i] {
				for k, v := range acc[c] {
					sum[k] += v
				}
			}
			acc[i] = sum
		}
		for k, i := range idxs {
			writeAcc(spans[i].Attributes, acc[k])
		}
	}
}

// postOrder walks the arena depth first from the roots, then from any span
// left on a cycle. kids holds the tree edges actually taken.
func (a *arena) postOrder() (order []int, kids [][]int) {
	kids = make([][]int, len(a.spans))
	var visit func(i int)
	visit = func(i int) {
		a.visited[i] = true
		for _, c := range a.children[i] {
			if a.visited[c] {
				continue
			}
			kids[i] = append(kids[i], c)
			visit(c)
		}
		order = append(order, i)
	}
	for _, r := range a.roots {
		if !a.visited[r] {
			visit(r)
		}
	}
	for i := range a.spans {
		if !a.visited[i] {
			visit(i)
		}
	}
	return order, kids
}

func unitMetrics(s model.Span) map[string]float64 {
	out := map[string]float64{
		"duration.cumulative": float64(s.Duration().Microseconds()) / 1000,
	}
	c := gabs.Wrap(s.Attributes)
	for _, ns := range accumulated {
		for k, v := range c.Search(semconv.Root, semconv.NamespaceMetrics, "unit", ns).ChildrenMap() {
			if f, ok := semconv.ToFloat(v.Data()); ok {
				out[ns+"."+k] = f
			}
		}
	}
	return out
}

// writeAcc stores the sums under ag.metrics.acc. Any non-object value in
// the way is replaced.
func writeAcc(attrs map[string]any, acc map[string]float64) {
	node := object(attrs, semconv.Root, semconv.NamespaceMetrics, "acc")
	for k, v := range acc {
		ns, name, _ := strings.Cut(k, ".")
		object(node, ns)[name] = v
	}
}

func object(m map[string]any, path ...string) map[string]any {
	for _, seg := range path {
		next, ok := m[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[seg] = next
		}
		m = next
	}
	return m
}
