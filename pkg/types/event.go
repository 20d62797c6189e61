package types

// RunEventType defines the type of event emitted during an orchestration run.
type RunEventType string

const (
	EventTypeThinking       RunEventType = "thinking"        // EventTypeThinking carries the model's reasoning for the current step.
	EventTypeToolStart      RunEventType = "tool_start"      // EventTypeToolStart indicates a tool invocation has begun.
	EventTypeToolProgress   RunEventType = "tool_progress"   // EventTypeToolProgress carries a progress update from a running tool.
	EventTypeToolEnd        RunEventType = "tool_end"        // EventTypeToolEnd indicates a tool invocation completed successfully.
	EventTypeToolError      RunEventType = "tool_error"      // EventTypeToolError indicates a tool invocation failed.
	EventTypeToolApproval   RunEventType = "tool_approval"   // EventTypeToolApproval indicates a tool is waiting for user approval.
	EventTypeToolDenied     RunEventType = "tool_denied"     // EventTypeToolDenied indicates the user denied a tool invocation.
	EventTypeToolLimit      RunEventType = "tool_limit"      // EventTypeToolLimit carries a call-limit warning for a tool.
	EventTypeContextCleared RunEventType = "context_cleared" // EventTypeContextCleared indicates the loop context was compacted.
	EventTypeAnswerStart    RunEventType = "answer_start"    // EventTypeAnswerStart indicates the final answer is about to stream.
	EventTypeAnswerChunk    RunEventType = "answer_chunk"    // EventTypeAnswerChunk carries a chunk of the streamed final answer.
	EventTypeDone           RunEventType = "done"            // EventTypeDone indicates the run finished, with a summary attached.
	EventTypeTokenUsage     RunEventType = "token_usage"     // EventTypeTokenUsage carries token counts from a model call.
	EventTypeError          RunEventType = "error"           // EventTypeError indicates a fatal error occurred during the run.
)

// RunStatus describes how a run terminated.
type RunStatus string

const (
	RunStatusCompleted   RunStatus = "completed"
	RunStatusInterrupted RunStatus = "interrupted"
	RunStatusError       RunStatus = "error"
)

// RunEvent represents an event emitted during an orchestration run.
type RunEvent struct {
	// Metadata holds optional additional information about the event.
	Metadata map[string]interface{}

	// ToolInput is the arguments passed to the tool (for tool events).
	ToolInput map[string]interface{}

	// Error contains error information for tool_error and error events.
	Error error

	// Content holds text content (thinking text, progress lines, answer chunks).
	Content string

	// ToolName is the name of the tool involved (for tool events).
	ToolName string

	// Type indicates the kind of event.
	Type RunEventType

	// ApprovalID identifies a pending approval request (for tool_approval events).
	ApprovalID string

	// Warning carries a call-limit warning message (for tool_limit events).
	Warning string

	// Elapsed is the human-readable duration of a tool call (for tool_end events).
	Elapsed string

	// Usage contains token usage information (for token_usage events).
	Usage *TokenUsage

	// Summary contains the run summary (for done events).
	Summary *RunSummary
}

// TokenUsage contains token usage statistics from a model call.
type TokenUsage struct {
	// PromptTokens is the number of tokens in the input/prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens in the generated response.
	CompletionTokens int

	// TotalTokens is the total number of tokens used (prompt + completion).
	TotalTokens int
}

// Add accumulates another usage sample into u.
func (u *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// RunSummary describes a finished run.
type RunSummary struct {
	// Status indicates how the run terminated.
	Status RunStatus

	// Iterations is the number of thinking steps executed.
	Iterations int

	// ToolCalls is the number of tool invocations dispatched.
	ToolCalls int

	// Elapsed is the total wall-clock duration of the run.
	Elapsed string

	// Usage is the accumulated token usage across all model calls, if available.
	Usage *TokenUsage
}

// NewThinkingEvent creates a thinking event with the model's reasoning text.
func NewThinkingEvent(content string) *RunEvent {
	return &RunEvent{
		Type:     EventTypeThinking,
		Content:  content,
		Metadata: make(map[string]interface{}),
	}
}

// NewToolStartEvent creates a tool start event.
func NewToolStartEvent(toolName string, toolInput map[string]interface{}) *RunEvent {
	return &RunEvent{
		Type:      EventTypeToolStart,
		ToolName:  toolName,
		ToolInput: toolInput,
		Metadata:  make(map[string]interface{}),
	}
}

// NewToolProgressEvent creates a tool progress event.
func NewToolProgressEvent(toolName, update string) *RunEvent {
	return &RunEvent{
		Type:     EventTypeToolProgress,
		ToolName: toolName,
		Content:  update,
		Metadata: make(map[string]interface{}),
	}
}

// NewToolEndEvent creates a tool end event with the result summary and elapsed time.
func NewToolEndEvent(toolName, summary, elapsed string) *RunEvent {
	return &RunEvent{
		Type:     EventTypeToolEnd,
		ToolName: toolName,
		Content:  summary,
		Elapsed:  elapsed,
		Metadata: make(map[string]interface{}),
	}
}

// NewToolErrorEvent creates a tool error event.
func NewToolErrorEvent(toolName string, err error) *RunEvent {
	return &RunEvent{
		Type:     EventTypeToolError,
		ToolName: toolName,
		Error:    err,
		Metadata: make(map[string]interface{}),
	}
}

// NewToolApprovalEvent creates a tool approval request event.
func NewToolApprovalEvent(approvalID, toolName string, toolInput map[string]interface{}) *RunEvent {
	return &RunEvent{
		Type:       EventTypeToolApproval,
		ApprovalID: approvalID,
		ToolName:   toolName,
		ToolInput:  toolInput,
		Metadata:   make(map[string]interface{}),
	}
}

// NewToolDeniedEvent creates a tool denied event.
func NewToolDeniedEvent(approvalID, toolName string) *RunEvent {
	return &RunEvent{
		Type:       EventTypeToolDenied,
		ApprovalID: approvalID,
		ToolName:   toolName,
		Metadata:   make(map[string]interface{}),
	}
}

// NewToolLimitEvent creates a call-limit warning event.
func NewToolLimitEvent(toolName, warning string) *RunEvent {
	return &RunEvent{
		Type:     EventTypeToolLimit,
		ToolName: toolName,
		Warning:  warning,
		Metadata: make(map[string]interface{}),
	}
}

// NewContextClearedEvent creates a context cleared event.
func NewContextClearedEvent(callsCompacted int) *RunEvent {
	return &RunEvent{
		Type:     EventTypeContextCleared,
		Metadata: map[string]interface{}{"calls_compacted": callsCompacted},
	}
}

// NewAnswerStartEvent creates an answer start event.
func NewAnswerStartEvent() *RunEvent {
	return &RunEvent{
		Type:     EventTypeAnswerStart,
		Metadata: make(map[string]interface{}),
	}
}

// NewAnswerChunkEvent creates an answer chunk event.
func NewAnswerChunkEvent(content string) *RunEvent {
	return &RunEvent{
		Type:     EventTypeAnswerChunk,
		Content:  content,
		Metadata: make(map[string]interface{}),
	}
}

// NewDoneEvent creates a done event carrying the run summary.
func NewDoneEvent(summary *RunSummary) *RunEvent {
	return &RunEvent{
		Type:     EventTypeDone,
		Summary:  summary,
		Metadata: make(map[string]interface{}),
	}
}

// NewTokenUsageEvent creates a token usage event.
func NewTokenUsageEvent(promptTokens, completionTokens int) *RunEvent {
	return &RunEvent{
		Type: EventTypeTokenUsage,
		Usage: &TokenUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
		Metadata: make(map[string]interface{}),
	}
}

// NewErrorEvent creates a fatal error event.
func NewErrorEvent(err error) *RunEvent {
	return &RunEvent{
		Type:     EventTypeError,
		Error:    err,
		Metadata: make(map[string]interface{}),
	}
}

// WithMetadata adds metadata to the event and returns the event for chaining.
func (e *RunEvent) WithMetadata(key string, value interface{}) *RunEvent {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsToolEvent returns true if this is any tool lifecycle event.
func (e *RunEvent) IsToolEvent() bool {
	return e.Type == EventTypeToolStart ||
		e.Type == EventTypeToolProgress ||
		e.Type == EventTypeToolEnd ||
		e.Type == EventTypeToolError
}

// IsApprovalEvent returns true if this is any approval-related event.
func (e *RunEvent) IsApprovalEvent() bool {
	return e.Type == EventTypeToolApproval ||
		e.Type == EventTypeToolDenied
}

// IsAnswerEvent returns true if this is any answer-related event.
func (e *RunEvent) IsAnswerEvent() bool {
	return e.Type == EventTypeAnswerStart ||
		e.Type == EventTypeAnswerChunk
}

// IsTerminal returns true if no further events follow this one.
func (e *RunEvent) IsTerminal() bool {
	return e.Type == EventTypeDone || e.Type == EventTypeError
}
