package research

// Wire shapes for the small slice of ACP methods the research component
// actually speaks, both as a service (upstream) and as a client of its
// own nested session (downstream, via P/ACP envelopes).

// SessionNewParams requests a new downstream session.
type SessionNewParams struct {
	Cwd string `json:"cwd,omitempty"`
}

// SessionNewResult carries the new session's id.
type SessionNewResult struct {
	SessionID string `json:"sessionId"`
}

// SessionPromptParams sends a prompt into an existing session.
type SessionPromptParams struct {
	SessionID string `json:"sessionId"`
	Prompt    string `json:"prompt"`
}

// SessionPromptResult is returned once the prompt turn ends.
type SessionPromptResult struct {
	StopReason string `json:"stopReason"`
}

// SessionUpdateParams is the payload of a `session/update` notification;
// Extra fields the agent sends (plan updates, message chunks) are not
// modeled, only the tool-call shape the research component watches for.
type SessionUpdateParams struct {
	SessionID string        `json:"sessionId"`
	ToolCall  *ToolCallInfo `json:"toolCall,omitempty"`
}

// ToolCallInfo describes a tool call embedded in a session update.
type ToolCallInfo struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolCallParams is the params shape of a `tools/call` request, used
// both for the upstream-facing `rust_crate_query` tool and the
// sub-tools (`get_crate_source`, `return_response_to_user`) the nested
// session calls back on research.
type ToolCallParams struct {
	SessionID string         `json:"sessionId,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// PermissionOption is one option a `session/request_permission` request
// offers.
type PermissionOption struct {
	OptionID string `json:"optionId"`
	Kind     string `json:"kind"` // allow_once, allow_always, reject_once, reject_always
}

// RequestPermissionParams is the params shape of
// `session/request_permission`.
type RequestPermissionParams struct {
	SessionID string             `json:"sessionId"`
	Options   []PermissionOption `json:"options"`
}

// PermissionOutcome is the outcome half of a
// `session/request_permission` response.
type PermissionOutcome struct {
	Outcome  string `json:"outcome"` // selected, cancelled
	OptionID string `json:"optionId,omitempty"`
}

// RequestPermissionResult is the result shape of
// `session/request_permission`.
type RequestPermissionResult struct {
	Outcome PermissionOutcome `json:"outcome"`
}

// ACP method names the research component recognizes.
const (
	MethodInitialize        = "initialize"
	MethodSessionNew         = "session/new"
	MethodSessionPrompt      = "session/prompt"
	MethodSessionUpdate      = "session/update"
	MethodRequestPermission  = "session/request_permission"
	MethodToolsList          = "tools/list"
	MethodToolsCall          = "tools/call"
)

// Tool names.
const (
	ToolRustCrateQuery      = "rust_crate_query"
	ToolGetCrateSource      = "get_crate_source"
	ToolReturnResponseToUser = "return_response_to_user"
)
