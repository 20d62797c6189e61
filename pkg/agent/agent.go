// Package agent implements the orchestration loop that drives a research
// query: a model decides which tools to call, the pipeline executes them with
// dedup, approval, and call-limit policies, and the final answer is streamed
// from the retrieved data.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/entrhq/inquest/pkg/agent/approval"
	"github.com/entrhq/inquest/pkg/agent/memory"
	"github.com/entrhq/inquest/pkg/agent/prompts"
	"github.com/entrhq/inquest/pkg/agent/scratchpad"
	"github.com/entrhq/inquest/pkg/agent/tools"
	"github.com/entrhq/inquest/pkg/llm"
	"github.com/entrhq/inquest/pkg/logging"
	"github.com/entrhq/inquest/pkg/types"
)

var agentLog *logging.Logger

func init() {
	var err error
	agentLog, err = logging.NewLogger("agent")
	if err != nil {
		agentLog.Warnf("Failed to initialize agent logger, using stderr fallback: %v", err)
	}
}

// Orchestrator runs research queries against a tool registry and a model
// provider. An Orchestrator hosts one run at a time; concurrent queries get
// their own Orchestrator, sharing a memory store if desired.
type Orchestrator struct {
	provider  llm.Provider
	registry  *tools.Registry
	store     *memory.Store
	synth     *Synthesizer
	approvals *approval.Manager

	maxIterations   int
	wallClockBudget time.Duration
	eventBufferSize int

	toolCallThreshold     int
	similarQueryThreshold int
	clearThreshold        int

	sensitivePatterns []glob.Glob

	events chan *types.RunEvent
}

// New creates an Orchestrator over the given provider, tool registry, and
// memory store.
func New(provider llm.Provider, registry *tools.Registry, store *memory.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:              provider,
		registry:              registry,
		store:                 store,
		maxIterations:         10,
		eventBufferSize:       64,
		toolCallThreshold:     6,
		similarQueryThreshold: 3,
		clearThreshold:        20,
	}

	cfg := &orchestratorConfig{approvalTimeout: 5 * time.Minute}
	for _, opt := range opts {
		opt(o, cfg)
	}

	o.synth = NewSynthesizer(provider, store)
	o.approvals = approval.NewManager(cfg.approvalTimeout, o.emit, approval.WithAutoApprove(cfg.autoApprove))
	return o
}

// RespondToApproval routes a user's approval decision to the pending request.
// Safe to call from any goroutine while a run is in flight.
func (o *Orchestrator) RespondToApproval(response *types.ApprovalResponse) {
	o.approvals.HandleResponse(response)
}

// Run executes one research query and returns the event stream for it. The
// channel is closed after the terminal event (done or error). Cancelling ctx
// interrupts the run; the stream still ends with a done event carrying
// interrupted status.
func (o *Orchestrator) Run(ctx context.Context, query, priorContext string) <-chan *types.RunEvent {
	events := make(chan *types.RunEvent, o.eventBufferSize)
	o.events = events
	go func() {
		defer close(events)
		o.run(ctx, query, priorContext)
	}()
	return events
}

func (o *Orchestrator) emit(event *types.RunEvent) {
	if o.events == nil {
		return
	}
	o.events <- event
}

// runState holds everything owned by a single run.
type runState struct {
	queryID  string
	query    string
	pad      *scratchpad.Scratchpad
	warnings []string

	iterations int
	toolCalls  int
	usage      *types.TokenUsage
	started    time.Time
}

func (o *Orchestrator) run(ctx context.Context, query, priorContext string) {
	state := &runState{
		queryID: uuid.New().String(),
		query:   query,
		pad: scratchpad.New(
			scratchpad.WithToolCallThreshold(o.toolCallThreshold),
			scratchpad.WithSimilarQueryThreshold(o.similarQueryThreshold),
			scratchpad.WithClearThreshold(o.clearThreshold),
		),
		usage:   &types.TokenUsage{},
		started: time.Now(),
	}

	var deadline time.Time
	if o.wallClockBudget > 0 {
		deadline = state.started.Add(o.wallClockBudget)
	}

	agentLog.Infof("Run %s started: %q", state.queryID, query)

	for state.iterations < o.maxIterations {
		if ctx.Err() != nil {
			o.finish(state, types.RunStatusInterrupted)
			return
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			agentLog.Infof("Run %s hit wall-clock budget after %d iterations", state.queryID, state.iterations)
			break
		}

		decision, err := o.think(ctx, state, priorContext)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				o.finish(state, types.RunStatusInterrupted)
				return
			}
			agentLog.Errorf("Run %s aborted: %v", state.queryID, err)
			o.emit(types.NewErrorEvent(err))
			return
		}
		state.iterations++

		if decision.Reasoning != "" {
			o.emit(types.NewThinkingEvent(decision.Reasoning))
		}

		if decision.Kind != llm.DecisionCallTools || len(decision.Calls) == 0 {
			break
		}

		o.executeCalls(ctx, state, decision.Calls)

		if state.pad.NeedsCompaction() {
			compacted := state.pad.Compact()
			if compacted > 0 {
				o.emit(types.NewContextClearedEvent(compacted))
			}
		}
	}

	if ctx.Err() != nil {
		o.finish(state, types.RunStatusInterrupted)
		return
	}

	if err := o.answer(ctx, state); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			o.finish(state, types.RunStatusInterrupted)
			return
		}
		agentLog.Errorf("Run %s answer synthesis failed: %v", state.queryID, err)
		o.emit(types.NewErrorEvent(err))
		return
	}

	o.finish(state, types.RunStatusCompleted)
}

// think asks the model for the next step, offering the registered tools plus
// the finish sentinel.
func (o *Orchestrator) think(ctx context.Context, state *runState, priorContext string) (*llm.Decision, error) {
	prompt := prompts.NewThinkingPromptBuilder(state.query).
		WithPriorContext(priorContext).
		WithExecutedSummary(state.pad.ExecutedSummary()).
		WithWarnings(state.warnings).
		Build()
	state.warnings = nil

	resp, err := o.provider.Invoke(ctx, &llm.Request{
		SystemPrompt: prompts.ThinkingSystemPrompt,
		Prompt:       prompt,
		Tools:        o.toolDefinitions(),
	})
	if err != nil {
		return nil, fmt.Errorf("model invocation failed: %w", err)
	}

	o.recordUsage(state, resp.Usage)

	if resp.Decision == nil {
		// No decision means the model answered in plain text; treat as finish.
		return &llm.Decision{Kind: llm.DecisionFinish, Reasoning: resp.Text}, nil
	}
	return resp.Decision, nil
}

func (o *Orchestrator) toolDefinitions() []llm.ToolDefinition {
	registered := o.registry.All()
	defs := make([]llm.ToolDefinition, 0, len(registered)+1)
	for _, t := range registered {
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	defs = append(defs, llm.ToolDefinition{
		Name:        llm.FinishToolName,
		Description: "Signal that enough data has been gathered and the final answer should be written.",
		Schema:      tools.BaseToolSchema(map[string]interface{}{}, nil),
	})
	return defs
}

func (o *Orchestrator) recordUsage(state *runState, usage *types.TokenUsage) {
	if usage == nil {
		return
	}
	state.usage.Add(usage)
	o.emit(types.NewTokenUsageEvent(usage.PromptTokens, usage.CompletionTokens))
}

func (o *Orchestrator) finish(state *runState, status types.RunStatus) {
	summary := &types.RunSummary{
		Status:     status,
		Iterations: state.iterations,
		ToolCalls:  state.toolCalls,
		Elapsed:    time.Since(state.started).Round(time.Millisecond).String(),
	}
	if state.usage.TotalTokens > 0 {
		summary.Usage = state.usage
	}
	agentLog.Infof("Run %s finished: status=%s iterations=%d toolCalls=%d elapsed=%s",
		state.queryID, status, state.iterations, state.toolCalls, summary.Elapsed)
	o.emit(types.NewDoneEvent(summary))
}

func (o *Orchestrator) isSensitive(t tools.Tool) bool {
	if tools.IsSensitive(t) {
		return true
	}
	for _, pattern := range o.sensitivePatterns {
		if pattern.Match(t.Name()) {
			return true
		}
	}
	return false
}
