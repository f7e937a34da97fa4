package semconv

// Canonical namespace layout. Every canonical key lives under Root.
const (
	Root = "ag"

	NamespaceData    = "data"
	NamespaceMetrics = "metrics"
	NamespaceMeta    = "meta"
	NamespaceTags    = "tags"
	NamespaceType    = "type"
	NamespaceRefs    = "refs"
	NamespaceSemconv = "semconv"

	CanonicalPrefix = Root + "."
	SemconvPrefix   = Root + "." + NamespaceSemconv + "."
)

// Canonical keys read or written by more than one package.
const (
	KeyTypeNode  = "ag.type.node"
	KeyTypeTrace = "ag.type.trace"

	KeyInputs            = "ag.data.inputs"
	KeyOutputs           = "ag.data.outputs"
	KeyInputsPrompt      = "ag.data.inputs.prompt"
	KeyOutputsCompletion = "ag.data.outputs.completion"

	KeyRequestModel      = "ag.meta.request.model"
	KeyRequestParameters = "ag.meta.request.parameters"
	KeySystem            = "ag.meta.system"

	KeyTokensPrompt     = "ag.metrics.unit.tokens.prompt"
	KeyTokensCompletion = "ag.metrics.unit.tokens.completion"
	KeyTokensTotal      = "ag.metrics.unit.tokens.total"
	KeyCostsPrompt      = "ag.metrics.unit.costs.prompt"
	KeyCostsCompletion  = "ag.metrics.unit.costs.completion"
	KeyCostsTotal       = "ag.metrics.unit.costs.total"

	KeyResourceID = "ag.refs.resource_id"

	// KeyMetricsAcc holds subtree sums computed at ingestion.
	KeyMetricsAcc = "ag.metrics.acc"
)

// Node types derived by the adapters.
const (
	NodeAgent      = "agent"
	NodeChat       = "chat"
	NodeCompletion = "completion"
	NodeEmbedding  = "embedding"
	NodeTask       = "task"
	NodeTool       = "tool"
	NodeWorkflow   = "workflow"
)
