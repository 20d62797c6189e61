// Package tools defines the tool interface and the per-run registry used by
// the execution pipeline. Tool implementations themselves (finance fetchers,
// web search, filing scrapers) live with their owners; this package only
// describes how the orchestrator talks to them.
package tools

import (
	"context"
)

// ProgressFunc receives progress updates from a running tool. Updates are
// forwarded to the caller's event stream in real time.
type ProgressFunc func(update string)

// Tool represents a data-retrieval capability the orchestrator can invoke.
//
// Execute receives the argument map from the model's proposed call, an
// optional progress callback (never nil), and a context carrying the run's
// cancellation signal. It returns the serializable raw result or an error.
type Tool interface {
	// Name returns the unique identifier for this tool (e.g. "income_statements")
	Name() string

	// Description returns a human-readable description of what this tool does
	Description() string

	// Schema returns the JSON schema for this tool's input parameters
	Schema() map[string]interface{}

	// Execute runs the tool with the given arguments and returns the raw result
	Execute(ctx context.Context, args map[string]interface{}, progress ProgressFunc) (string, error)
}

// Sensitive is an optional interface marking tools that require user approval
// before execution.
type Sensitive interface {
	Sensitive() bool
}

// OncePerRun is an optional interface marking tools that execute at most once
// per run; repeat proposals are skipped silently.
type OncePerRun interface {
	OncePerRun() bool
}

// IsSensitive reports whether a tool requires approval before execution.
func IsSensitive(t Tool) bool {
	s, ok := t.(Sensitive)
	return ok && s.Sensitive()
}

// IsOncePerRun reports whether a tool may only execute once per run.
func IsOncePerRun(t Tool) bool {
	o, ok := t.(OncePerRun)
	return ok && o.OncePerRun()
}

// BaseToolSchema creates a common JSON schema structure for a tool
// with the given properties and required fields
func BaseToolSchema(properties map[string]interface{}, required []string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
