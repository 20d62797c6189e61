package prompts

import (
	"fmt"
	"strings"
)

// ThinkingPromptBuilder constructs the user prompt for one iteration of the
// orchestration loop. The executed-calls summary and any call-limit warnings
// are injected so the model sees what has already been retrieved.
type ThinkingPromptBuilder struct {
	query           string
	priorContext    string
	executedSummary string
	warnings        []string
}

// NewThinkingPromptBuilder creates a builder for the given research question.
func NewThinkingPromptBuilder(query string) *ThinkingPromptBuilder {
	return &ThinkingPromptBuilder{query: query}
}

// WithPriorContext adds free-form context from earlier runs in the session.
func (b *ThinkingPromptBuilder) WithPriorContext(context string) *ThinkingPromptBuilder {
	b.priorContext = context
	return b
}

// WithExecutedSummary adds the registry's summary of calls made so far.
func (b *ThinkingPromptBuilder) WithExecutedSummary(summary string) *ThinkingPromptBuilder {
	b.executedSummary = summary
	return b
}

// WithWarnings adds call-limit warnings raised since the last iteration.
func (b *ThinkingPromptBuilder) WithWarnings(warnings []string) *ThinkingPromptBuilder {
	b.warnings = warnings
	return b
}

// Build assembles the iteration prompt.
func (b *ThinkingPromptBuilder) Build() string {
	var builder strings.Builder

	if b.priorContext != "" {
		builder.WriteString("<prior_context>\n")
		builder.WriteString(b.priorContext)
		builder.WriteString("\n</prior_context>\n\n")
	}

	builder.WriteString("<question>\n")
	builder.WriteString(b.query)
	builder.WriteString("\n</question>\n\n")

	if b.executedSummary != "" {
		builder.WriteString("<executed_calls>\n")
		builder.WriteString(b.executedSummary)
		builder.WriteString("\n</executed_calls>\n\n")
	}

	if len(b.warnings) > 0 {
		builder.WriteString("<warnings>\n")
		for _, w := range b.warnings {
			builder.WriteString("- ")
			builder.WriteString(w)
			builder.WriteString("\n")
		}
		builder.WriteString("</warnings>\n\n")
	}

	builder.WriteString("Decide the next tool calls, or call \"finish\" if you can answer now.")

	return builder.String()
}

// BuildAnswerPrompt assembles the synthesis prompt from the question and the
// rehydrated tool payloads.
func BuildAnswerPrompt(query string, payloads []string) string {
	var builder strings.Builder

	builder.WriteString("<question>\n")
	builder.WriteString(query)
	builder.WriteString("\n</question>\n\n")

	builder.WriteString("<retrieved_data>\n")
	for i, p := range payloads {
		if i > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(p)
		builder.WriteString("\n")
	}
	builder.WriteString("</retrieved_data>\n\n")

	builder.WriteString("Write the final answer based on the retrieved data above.")

	return builder.String()
}

// BuildNoDataPrompt assembles the synthesis prompt for a run that retrieved
// no usable tool data.
func BuildNoDataPrompt(query string) string {
	return fmt.Sprintf("<question>\n%s\n</question>\n\nNo tool data was retrieved. Answer the question directly.", query)
}

// FormatToolPayload renders one rehydrated record for the answer prompt.
func FormatToolPayload(toolName string, args string, result string) string {
	return fmt.Sprintf("Tool %q with arguments %s produced:\n%s", toolName, args, result)
}
