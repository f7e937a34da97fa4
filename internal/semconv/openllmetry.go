package semconv

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Jeffail/gabs/v2"
)

var errNotObject = errors.New("entity input is not a JSON object")

var llmRequestTypes = map[string]string{
	"chat":       NodeChat,
	"completion": NodeCompletion,
	"embedding":  NodeEmbedding,
	"rerank":     NodeTask,
}

var traceloopSpanKinds = map[string]string{
	"workflow": NodeWorkflow,
	"task":     NodeTask,
	"agent":    NodeAgent,
	"tool":     NodeTool,
}

// OpenLLMetryAdapter handles Traceloop/OpenLLMetry attributes: flattened
// gen_ai.prompt.N.* and gen_ai.completion.N.* messages, and the JSON entity
// input and output blobs.
type OpenLLMetryAdapter struct {
	rules Rules
}

// NewOpenLLMetryAdapter creates the prefix/dynamic adapter.
func NewOpenLLMetryAdapter() *OpenLLMetryAdapter {
	return &OpenLLMetryAdapter{rules: Rules{
		Exact: map[string]string{
			"llm.usage.total_tokens":  KeyTokensTotal,
			"llm.is_streaming":        "ag.meta.request.stream",
			"llm.user":                "ag.meta.request.user",
			"traceloop.workflow.name": "ag.meta.workflow.name",
			"traceloop.entity.name":   "ag.meta.entity.name",
			"traceloop.entity.path":   "ag.meta.entity.path",
		},
		Prefix: []PrefixRule{
			{From: "gen_ai.prompt.", To: KeyInputsPrompt + "."},
			{From: "gen_ai.completion.", To: KeyOutputsCompletion + "."},
			{From: "llm.request.functions.", To: "ag.meta.request.functions."},
			{From: "traceloop.association.properties.", To: "ag.tags."},
		},
		Dynamic: []DynamicRule{
			{Match: equals("llm.request.type"), Apply: nodeTypeFrom(llmRequestTypes)},
			{Match: equals("traceloop.span.kind"), Apply: nodeTypeFrom(traceloopSpanKinds)},
			{Match: equals("traceloop.entity.input"), Apply: splitEntityInput},
			{Match: equals("traceloop.entity.output"), Apply: entityOutput},
		},
	}}
}

func (a *OpenLLMetryAdapter) Name() string { return "openllmetry" }

func (a *OpenLLMetryAdapter) Process(bag *Bag, out *Features) error {
	return a.rules.Apply(bag, out)
}

func equals(want string) func(string) bool {
	return func(key string) bool { return key == want }
}

func nodeTypeFrom(table map[string]string) DynamicFunc {
	return func(_ string, value any, out *Features) error {
		s, ok := value.(string)
		if !ok {
			return nil
		}
		if t, ok := table[s]; ok {
			out.Set(KeyTypeNode, t)
		}
		return nil
	}
}

// splitEntityInput separates the user-facing inputs of a traced function from
// the model parameters it was called with. inputs, args and kwargs are
// spread into ag.data.inputs; parameters go to ag.meta.request.parameters;
// any other key lands in ag.data.inputs.<key>.
func splitEntityInput(_ string, value any, out *Features) error {
	obj, err := jsonObject(value)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := obj[k]
		switch k {
		case "inputs", "args", "kwargs":
			spreadInputs(k, v, out)
		case "parameters", "params":
			out.Set(KeyRequestParameters, v)
		default:
			out.Set(KeyInputs+"."+k, v)
		}
	}
	return nil
}

func spreadInputs(name string, v any, out *Features) {
	switch val := v.(type) {
	case nil:
	case map[string]any:
		for k, item := range val {
			out.Set(KeyInputs+"."+k, item)
		}
	case []any:
		if len(val) > 0 {
			out.Set(KeyInputs+"."+name, val)
		}
	default:
		out.Set(KeyInputs+"."+name, val)
	}
}

// entityOutput stores the traced function's return value. JSON strings are
// decoded; anything else is kept as-is.
func entityOutput(_ string, value any, out *Features) error {
	if s, ok := value.(string); ok {
		if parsed, err := gabs.ParseJSON([]byte(s)); err == nil {
			out.Set(KeyOutputs, parsed.Data())
			return nil
		}
	}
	out.Set(KeyOutputs, value)
	return nil
}

func jsonObject(value any) (map[string]any, error) {
	switch val := value.(type) {
	case map[string]any:
		return val, nil
	case string:
		parsed, err := gabs.ParseJSON([]byte(val))
		if err != nil {
			return nil, fmt.Errorf("parse entity input: %w", err)
		}
		obj, ok := parsed.Data().(map[string]any)
		if !ok {
			return nil, errNotObject
		}
		return obj, nil
	default:
		return nil, errNotObject
	}
}
