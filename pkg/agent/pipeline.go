package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/entrhq/inquest/pkg/agent/tools"
	"github.com/entrhq/inquest/pkg/llm"
	"github.com/entrhq/inquest/pkg/types"
)

// resultSummaryLimit bounds the per-call summary kept in the loop context.
const resultSummaryLimit = 140

// executeCalls dispatches a batch of proposed tool calls concurrently. Events
// for a single call are emitted in order (start, progress, end or error);
// interleaving across calls is unspecified.
func (o *Orchestrator) executeCalls(ctx context.Context, state *runState, calls []llm.ToolCall) {
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, call := range calls {
		wg.Add(1)
		go func(call llm.ToolCall) {
			defer wg.Done()
			warning, dispatched := o.executeCall(ctx, state, call)
			mu.Lock()
			if dispatched {
				state.toolCalls++
			}
			if warning != "" {
				state.warnings = append(state.warnings, warning)
			}
			mu.Unlock()
		}(call)
	}

	wg.Wait()
}

// executeCall runs one proposed call through the pipeline: registry lookup,
// once-per-run and duplicate skips, approval gate, call-limit check, dispatch,
// and durable persistence of the outcome. Returns a call-limit warning for
// the next model turn (if any) and whether the tool was actually dispatched.
func (o *Orchestrator) executeCall(ctx context.Context, state *runState, call llm.ToolCall) (string, bool) {
	tool, ok := o.registry.Lookup(call.Name)
	if !ok {
		err := fmt.Errorf("tool %q is not registered", call.Name)
		agentLog.Warnf("Run %s: %v", state.queryID, err)
		o.emit(types.NewToolErrorEvent(call.Name, err))
		state.pad.Register(call.Name, call.Arguments, "failed: unknown tool")
		return "", false
	}

	// Claiming before dispatch makes the duplicate and once-per-run checks
	// atomic: of N identical proposals in one concurrent batch, exactly one
	// reaches the tool.
	if !state.pad.Claim(call.Name, call.Arguments, tools.IsOncePerRun(tool)) {
		agentLog.Debugf("Run %s: skipping duplicate or once-per-run call to %q", state.queryID, call.Name)
		return "", false
	}

	if o.isSensitive(tool) {
		outcome := o.approvals.RequestApproval(ctx, call.Name, call.Arguments)
		if !outcome.Granted {
			state.pad.Release(call.Name, call.Arguments)
			o.emit(types.NewToolDeniedEvent(outcome.ApprovalID, call.Name))
			agentLog.Infof("Run %s: tool %q denied (timeout=%v)", state.queryID, call.Name, outcome.TimedOut)
			return "", false
		}
	}

	queryText := argQueryText(call.Arguments)
	var warning string
	if check := state.pad.CanCallTool(call.Name, queryText); check.Warning != "" {
		warning = check.Warning
		o.emit(types.NewToolLimitEvent(call.Name, check.Warning))
		if check.Blocked {
			state.pad.Release(call.Name, call.Arguments)
			return warning, false
		}
	}
	state.pad.RecordToolCall(call.Name, queryText)

	o.emit(types.NewToolStartEvent(call.Name, call.Arguments))
	started := time.Now()

	progress := func(update string) {
		o.emit(types.NewToolProgressEvent(call.Name, update))
	}

	result, err := tool.Execute(ctx, call.Arguments, progress)
	elapsed := time.Since(started).Round(time.Millisecond).String()

	if err != nil {
		if ctx.Err() != nil {
			// Close this call's event lifecycle before the interrupted done.
			o.emit(types.NewToolErrorEvent(call.Name, err))
			state.pad.Release(call.Name, call.Arguments)
			return warning, true
		}
		agentLog.Warnf("Run %s: tool %q failed after %s: %v", state.queryID, call.Name, elapsed, err)
		o.emit(types.NewToolErrorEvent(call.Name, err))
		state.pad.Register(call.Name, call.Arguments, "failed: "+err.Error())
		if _, perr := o.store.PersistError(call.Name, call.Arguments, err.Error(), state.queryID); perr != nil {
			agentLog.Warnf("Run %s: failed to persist error record for %q: %v", state.queryID, call.Name, perr)
		}
		return warning, true
	}

	summary := summarizeResult(result)
	state.pad.Register(call.Name, call.Arguments, summary)
	if _, perr := o.store.Persist(call.Name, call.Arguments, result, state.queryID); perr != nil {
		agentLog.Warnf("Run %s: failed to persist result for %q: %v", state.queryID, call.Name, perr)
	}
	o.emit(types.NewToolEndEvent(call.Name, summary, elapsed))
	return warning, true
}

// argQueryText pulls the free-text query argument used by the similar-query
// call-limit check, when the tool takes one.
func argQueryText(args map[string]interface{}) string {
	if q, ok := args["query"].(string); ok {
		return q
	}
	return ""
}

// summarizeResult reduces a raw tool result to a single compact line.
// Truncation backs up to a rune boundary so the summary stays valid UTF-8.
func summarizeResult(result string) string {
	line := result
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if len(line) > resultSummaryLimit {
		cut := resultSummaryLimit
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		line = line[:cut] + "..."
	}
	if line == "" {
		return "(empty result)"
	}
	return line
}
