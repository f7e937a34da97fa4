package tree_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/tree"
)

const traceID = "0af7651916cd43dd8448eb211c80319c"

func span(id, name string, parent string) model.Span {
	s := model.Span{TraceID: traceID, SpanID: id, SpanName: name, Attributes: map[string]any{}}
	if parent != "" {
		s.ParentID = &parent
	}
	return s
}

func TestBuild_ThreeLevels(t *testing.T) {
	trees := tree.Build([]model.Span{
		span("c", "grandchild", "b"),
		span("a", "root", ""),
		span("b", "child", "a"),
	})
	require.Len(t, trees, 1)
	tr := trees[traceID]
	assert.False(t, tr.Implicit)

	require.Len(t, tr.Nodes["root"], 1)
	root := tr.Nodes["root"][0]
	require.Len(t, root.Nodes["child"], 1)
	child := root.Nodes["child"][0]
	require.Len(t, child.Nodes["grandchild"], 1)
	assert.Equal(t, "c", child.Nodes["grandchild"][0].SpanID)
	assert.Nil(t, child.Nodes["grandchild"][0].Nodes)
}

func TestBuild_SameNameSiblingsFormList(t *testing.T) {
	trees := tree.Build([]model.Span{
		span("a", "root", ""),
		span("b", "tool_call", "a"),
		span("c", "tool_call", "a"),
	})
	group := trees[traceID].Nodes["root"][0].Nodes["tool_call"]
	require.Len(t, group, 2)
	assert.Equal(t, "b", group[0].SpanID)
	assert.Equal(t, "c", group[1].SpanID)

	b, err := json.Marshal(trees[traceID])
	require.NoError(t, err)
	parsed, err := gabs.ParseJSON(b)
	require.NoError(t, err)

	// One root marshals as an object, the pair as a list.
	_, isObject := parsed.Search("nodes", "root").Data().(map[string]any)
	assert.True(t, isObject)
	list, isList := parsed.Search("nodes", "root", "nodes", "tool_call").Data().([]any)
	require.True(t, isList)
	assert.Len(t, list, 2)
}

func TestBuild_DanglingParentAndMultipleRoots(t *testing.T) {
	trees := tree.Build([]model.Span{
		span("a", "root", ""),
		span("b", "orphan", "missing"),
		span("c", "root", ""),
	})
	tr := trees[traceID]
	assert.False(t, tr.Implicit)
	assert.Len(t, tr.Nodes["root"], 2)
	assert.Len(t, tr.Nodes["orphan"], 1)
}

func TestBuild_CycleTerminates(t *testing.T) {
	trees := tree.Build([]model.Span{
		span("a", "x", "b"),
		span("b", "y", "a"),
	})
	tr := trees[traceID]
	assert.True(t, tr.Implicit)
	require.Len(t, tr.Nodes["x"], 1)
	assert.Len(t, tr.Nodes["x"][0].Nodes["y"], 1)
	assert.Empty(t, tr.Nodes["y"])

	_, err := json.Marshal(tr)
	assert.NoError(t, err)
}

func TestBuild_GroupsByTrace(t *testing.T) {
	other := span("z", "root", "")
	other.TraceID = "11111111111111111111111111111111"
	trees := tree.Build([]model.Span{span("a", "root", ""), other})
	assert.Len(t, trees, 2)
}

func TestAccumulate(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	root := span("a", "root", "")
	root.StartTime, root.EndTime = start, start.Add(2*time.Second)
	root.Attributes = map[string]any{"ag": map[string]any{"metrics": map[string]any{
		"unit": map[string]any{"tokens": map[string]any{"prompt": int64(10), "total": int64(15)}},
	}}}
	child := span("b", "child", "a")
	child.StartTime, child.EndTime = start, start.Add(time.Second)
	child.Attributes = map[string]any{"ag": map[string]any{"metrics": map[string]any{
		"unit": map[string]any{
			"tokens": map[string]any{"prompt": int64(3), "total": int64(4)},
			"costs":  map[string]any{"total": 0.5},
		},
	}}}

	spans := []model.Span{child, root}
	tree.Accumulate(spans)

	acc := gabs.Wrap(spans[1].Attributes).Search("ag", "metrics", "acc")
	assert.Equal(t, 13.0, acc.Search("tokens", "prompt").Data())
	assert.Equal(t, 19.0, acc.Search("tokens", "total").Data())
	assert.Equal(t, 0.5, acc.Search("costs", "total").Data())
	assert.Equal(t, 3000.0, acc.Search("duration", "cumulative").Data())

	childAcc := gabs.Wrap(spans[0].Attributes).Search("ag", "metrics", "acc")
	assert.Equal(t, 3.0, childAcc.Search("tokens", "prompt").Data())
}

func TestAccumulate_ReplacesScalarsInTheWay(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := map[string]map[string]any{
		"scalar acc":     {"ag": map[string]any{"metrics": map[string]any{"acc": "x"}}},
		"scalar tokens":  {"ag": map[string]any{"metrics": map[string]any{"acc": map[string]any{"tokens": 7}}}},
		"scalar metrics": {"ag": map[string]any{"metrics": 1}},
	}
	for name, attrs := range tests {
		t.Run(name, func(t *testing.T) {
			s := span("a", "root", "")
			s.StartTime, s.EndTime = start, start.Add(time.Second)
			s.Attributes = attrs
			if name != "scalar metrics" {
				gabs.Wrap(s.Attributes).Set(int64(4), "ag", "metrics", "unit", "tokens", "total")
			}

			spans := []model.Span{s}
			tree.Accumulate(spans)

			acc := gabs.Wrap(spans[0].Attributes).Search("ag", "metrics", "acc")
			assert.Equal(t, 1000.0, acc.Search("duration", "cumulative").Data())
			if name != "scalar metrics" {
				assert.Equal(t, 4.0, acc.Search("tokens", "total").Data())
			}
		})
	}
}
