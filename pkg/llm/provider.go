// Package llm provides abstractions for model provider integration.
//
// Providers handle API communication with model services and return typed
// decisions and stream chunks. This design keeps providers focused on model
// concerns without coupling them to agent-level events or orchestration.
//
// The agent layer is responsible for:
// - Converting decisions and stream chunks to run events
// - Scratchpad, approval, and memory bookkeeping
// - Driving the iteration loop
//
// Only the provider adapter translates raw provider output into the Decision
// type; the core never branches on provider-specific shapes.
package llm

import (
	"context"
	"encoding/json"

	"github.com/entrhq/inquest/pkg/types"
)

// FinishToolName is the sentinel tool name a model uses to signal that it has
// gathered enough data and the run should move to answer synthesis.
const FinishToolName = "finish"

// ToolDefinition describes a callable tool to the model.
type ToolDefinition struct {
	// Name is the unique tool identifier (e.g. "income_statements").
	Name string

	// Description tells the model what the tool does.
	Description string

	// Schema is the JSON schema of the tool's arguments.
	Schema map[string]interface{}
}

// ToolCall is a single tool invocation proposed by the model.
type ToolCall struct {
	// Name is the tool to invoke.
	Name string

	// Arguments is the opaque argument map. Immutable once issued.
	Arguments map[string]interface{}
}

// DecisionKind discriminates the model's next-step decision.
type DecisionKind string

const (
	// DecisionThink means the model produced reasoning text and no calls.
	DecisionThink DecisionKind = "think"

	// DecisionCallTools means the model proposed one or more tool calls.
	DecisionCallTools DecisionKind = "call_tools"

	// DecisionFinish means the model signalled it has enough data.
	DecisionFinish DecisionKind = "finish"
)

// Decision is the typed next-step decision parsed from a model response.
type Decision struct {
	// Kind discriminates the decision.
	Kind DecisionKind

	// Reasoning is the model's visible reasoning text, possibly empty.
	Reasoning string

	// Calls holds the proposed tool calls when Kind is DecisionCallTools.
	Calls []ToolCall
}

// Request describes a single model invocation.
type Request struct {
	// SystemPrompt is the system instruction for this call.
	SystemPrompt string

	// Prompt is the user-turn content.
	Prompt string

	// Tools, when non-empty, lets the model propose tool calls.
	Tools []ToolDefinition

	// OutputSchema, when non-nil, requests structured JSON output matching
	// the schema. Mutually exclusive with Tools in practice.
	OutputSchema map[string]interface{}
}

// Response is the result of a non-streaming model invocation.
type Response struct {
	// Decision is populated when the request offered tools.
	Decision *Decision

	// Text is the raw text content when no tools were offered.
	Text string

	// Structured holds the raw JSON output when OutputSchema was set.
	Structured json.RawMessage

	// Usage reports token counts when the provider supplies them.
	Usage *types.TokenUsage
}

// StreamChunk is a fragment of a streaming model response.
type StreamChunk struct {
	// Content is the text delta for this chunk.
	Content string

	// Error is set when the stream failed mid-flight. The channel is closed
	// after an error chunk.
	Error error

	// Finished is true on the final chunk of a successful stream.
	Finished bool

	// Usage reports token counts, typically only on the final chunk.
	Usage *types.TokenUsage
}

// IsError returns true if this chunk carries a stream error.
func (c *StreamChunk) IsError() bool {
	return c.Error != nil
}

// Provider defines the interface for model integrations.
type Provider interface {
	// Invoke sends a single request to the model and returns the full
	// response. When req.Tools is non-empty the response carries a Decision;
	// when req.OutputSchema is set the response carries Structured JSON.
	//
	// Returns an error if the model is unreachable or the response cannot be
	// read. Malformed-but-parseable output degrades inside the adapter rather
	// than erroring.
	Invoke(ctx context.Context, req *Request) (*Response, error)

	// InvokeStream sends a request and streams back text chunks.
	//
	// The returned channel emits StreamChunk values and is closed when the
	// stream completes or fails. Stream-time failures are delivered as a
	// chunk with Error set, not via the returned error, which only reports
	// failures to start the stream.
	InvokeStream(ctx context.Context, req *Request) (<-chan *StreamChunk, error)

	// GetModel returns the model name being used.
	GetModel() string
}
