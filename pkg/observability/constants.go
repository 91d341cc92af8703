package observability

const (
	AttrToolName     = "tool.name"
	AttrToolStatus   = "tool.status"
	AttrLLMModel     = "llm.model"
	AttrAgentHop     = "agent.hop"
	AttrAgentOutcome = "agent.outcome"
	AttrErrorType    = "error.type"
	AttrHTTPMethod   = "http.method"
	AttrHTTPRoute    = "http.route"
	AttrStatusCode   = "http.status_code"

	SpanAgentRun      = "agent.run"
	SpanLLMRequest    = "agent.llm_request"
	SpanToolExecution = "agent.tool_execution"
	SpanHTTPRequest   = "http.request"

	DefaultServiceName = "infoxp"
)

// Outcome and status label values.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusTimeout = "timeout"

	OutcomeAnswered = "answered"
	OutcomeLimit    = "limit"
	OutcomeFailed   = "failed"
)
