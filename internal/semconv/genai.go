package semconv

import "fmt"

// genAIExact maps OpenTelemetry GenAI semantic convention keys onto
// canonical keys.
var genAIExact = map[string]string{
	"gen_ai.system":        KeySystem,
	"gen_ai.provider.name": KeySystem,

	"gen_ai.operation.name":     "ag.meta.operation",
	"gen_ai.conversation.id":    "ag.meta.conversation.id",
	"gen_ai.agent.id":           "ag.meta.agent.id",
	"gen_ai.agent.name":         "ag.meta.agent.name",
	"gen_ai.system_prompt.hash": "ag.meta.system_prompt.hash",

	"gen_ai.request.model":             KeyRequestModel,
	"gen_ai.request.max_tokens":        "ag.meta.request.max_tokens",
	"gen_ai.request.temperature":       "ag.meta.request.temperature",
	"gen_ai.request.top_p":             "ag.meta.request.top_p",
	"gen_ai.request.top_k":             "ag.meta.request.top_k",
	"gen_ai.request.stream":            "ag.meta.request.stream",
	"gen_ai.request.tools":             "ag.meta.request.tools",
	"gen_ai.request.tool_choice":       "ag.meta.request.tool_choice",
	"gen_ai.request.response_format":   "ag.meta.request.response_format",
	"gen_ai.request.frequency_penalty": "ag.meta.request.frequency_penalty",
	"gen_ai.request.presence_penalty":  "ag.meta.request.presence_penalty",
	"gen_ai.request.stop_sequences":    "ag.meta.request.stop_sequences",
	"gen_ai.request.seed":              "ag.meta.request.seed",
	"gen_ai.request.choice.count":      "ag.meta.request.n",

	"gen_ai.response.id":             "ag.meta.response.id",
	"gen_ai.response.model":          "ag.meta.response.model",
	"gen_ai.response.finish_reasons": "ag.meta.response.finish_reasons",

	"gen_ai.usage.input_tokens":      KeyTokensPrompt,
	"gen_ai.usage.prompt_tokens":     KeyTokensPrompt,
	"gen_ai.usage.output_tokens":     KeyTokensCompletion,
	"gen_ai.usage.completion_tokens": KeyTokensCompletion,
	"gen_ai.usage.total_tokens":      KeyTokensTotal,
	"gen_ai.usage.cached_tokens":     "ag.metrics.unit.tokens.cached",
	"gen_ai.usage.reasoning_tokens":  "ag.metrics.unit.tokens.reasoning",
	"gen_ai.usage.input_cost":        KeyCostsPrompt,
	"gen_ai.usage.output_cost":       KeyCostsCompletion,
	"gen_ai.usage.cost":              KeyCostsTotal,

	"gen_ai.tool.name":      "ag.meta.tool.name",
	"gen_ai.tool.call.id":   "ag.meta.tool.call_id",
	"gen_ai.tool.call_id":   "ag.meta.tool.call_id",
	"gen_ai.tool.arguments": "ag.data.inputs.arguments",
	"gen_ai.tool.result":    "ag.data.outputs.result",

	"gen_ai.prompt":     KeyInputsPrompt,
	"gen_ai.completion": KeyOutputsCompletion,
}

// operationNodeTypes maps gen_ai.operation.name to ag.type.node.
var operationNodeTypes = map[string]string{
	"chat":             NodeChat,
	"embeddings":       NodeEmbedding,
	"execute_tool":     NodeTool,
	"create_agent":     NodeAgent,
	"invoke_agent":     NodeAgent,
	"generate_content": NodeCompletion,
	"text_completion":  NodeCompletion,
}

// NodeTypeForOperation returns the node type for a GenAI operation name,
// "task" when the operation is unknown or empty.
func NodeTypeForOperation(op string) string {
	if t, ok := operationNodeTypes[op]; ok {
		return t
	}
	return NodeTask
}

// GenAIAdapter handles the OpenTelemetry GenAI semantic conventions.
type GenAIAdapter struct {
	rules Rules
}

// NewGenAIAdapter creates the GenAI semconv adapter.
func NewGenAIAdapter() *GenAIAdapter {
	return &GenAIAdapter{rules: Rules{Exact: genAIExact}}
}

func (a *GenAIAdapter) Name() string { return "gen_ai" }

// Process maps the exact keys, derives ag.type.node from
// gen_ai.operation.name and fills in the token total when only the parts
// were reported. Without an operation name the node type is left for later
// adapters. A span without any GenAI key is left untouched.
func (a *GenAIAdapter) Process(bag *Bag, out *Features) error {
	if err := a.rules.Apply(bag, out); err != nil {
		return err
	}
	if out.Len() == 0 {
		return nil
	}

	if op, _ := bag.Get("gen_ai.operation.name"); op != nil {
		out.Set(KeyTypeNode, NodeTypeForOperation(fmt.Sprint(op)))
	}

	deriveTotal(out, KeyTokensPrompt, KeyTokensCompletion, KeyTokensTotal)
	deriveTotal(out, KeyCostsPrompt, KeyCostsCompletion, KeyCostsTotal)
	return nil
}

// deriveTotal sets total = a + b when both parts exist and total does not.
func deriveTotal(out *Features, a, b, total string) {
	if _, ok := out.Get(total); ok {
		return
	}
	av, okA := out.Get(a)
	bv, okB := out.Get(b)
	if !okA || !okB {
		return
	}
	if sum, ok := AddNumbers(av, bv); ok {
		out.Set(total, sum)
	}
}
