package agent

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/inquest/pkg/agent/memory"
	"github.com/entrhq/inquest/pkg/agent/tools"
	"github.com/entrhq/inquest/pkg/llm"
	"github.com/entrhq/inquest/pkg/types"
)

type stubTool struct {
	name       string
	result     string
	err        error
	sensitive  bool
	once       bool
	executions int32
	execFn     func(ctx context.Context, args map[string]interface{}, progress tools.ProgressFunc) (string, error)
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub tool for loop tests" }
func (s *stubTool) Schema() map[string]interface{} {
	return tools.BaseToolSchema(map[string]interface{}{}, nil)
}
func (s *stubTool) Sensitive() bool  { return s.sensitive }
func (s *stubTool) OncePerRun() bool { return s.once }

func (s *stubTool) Execute(ctx context.Context, args map[string]interface{}, progress tools.ProgressFunc) (string, error) {
	atomic.AddInt32(&s.executions, 1)
	if s.execFn != nil {
		return s.execFn(ctx, args, progress)
	}
	if s.err != nil {
		return "", s.err
	}
	return s.result, nil
}

func (s *stubTool) executionCount() int {
	return int(atomic.LoadInt32(&s.executions))
}

func newTestOrchestrator(t *testing.T, provider llm.Provider, toolList []tools.Tool, opts ...Option) (*Orchestrator, *memory.Store) {
	t.Helper()

	blobs, err := memory.NewDirStore(t.TempDir())
	require.NoError(t, err)
	store := memory.NewStore(blobs, nil)

	registry := tools.NewRegistry()
	for _, tl := range toolList {
		require.NoError(t, registry.Register(tl))
	}

	opts = append([]Option{WithApprovalTimeout(2 * time.Second)}, opts...)
	return New(provider, registry, store, opts...), store
}

func drainEvents(t *testing.T, ch <-chan *types.RunEvent) []*types.RunEvent {
	t.Helper()
	var events []*types.RunEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for run events, got %d so far", len(events))
		}
	}
}

// drainRespondingToApprovals consumes the stream like drainEvents but answers
// every approval request with the given decision.
func drainRespondingToApprovals(t *testing.T, o *Orchestrator, ch <-chan *types.RunEvent, decision types.ApprovalDecision) []*types.RunEvent {
	t.Helper()
	var events []*types.RunEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
			if ev.Type == types.EventTypeToolApproval {
				o.RespondToApproval(&types.ApprovalResponse{
					ApprovalID: ev.ApprovalID,
					Decision:   decision,
				})
			}
		case <-timeout:
			t.Fatalf("timed out waiting for run events, got %d so far", len(events))
		}
	}
}

func eventTypes(events []*types.RunEvent) []types.RunEventType {
	out := make([]types.RunEventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func countType(events []*types.RunEvent, kind types.RunEventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == kind {
			n++
		}
	}
	return n
}

func doneSummary(t *testing.T, events []*types.RunEvent) *types.RunSummary {
	t.Helper()
	for _, ev := range events {
		if ev.Type == types.EventTypeDone {
			require.NotNil(t, ev.Summary)
			return ev.Summary
		}
	}
	t.Fatal("no done event in stream")
	return nil
}

func callDecision(reasoning string, calls ...llm.ToolCall) *llm.Response {
	return &llm.Response{Decision: &llm.Decision{
		Kind:      llm.DecisionCallTools,
		Reasoning: reasoning,
		Calls:     calls,
	}}
}

func finishDecision(reasoning string) *llm.Response {
	return &llm.Response{Decision: &llm.Decision{
		Kind:      llm.DecisionFinish,
		Reasoning: reasoning,
	}}
}

func TestRunAnswersDirectlyWithoutTools(t *testing.T) {
	mock := &llm.MockProvider{
		Responses: []*llm.Response{finishDecision("No retrieved data needed for this.")},
		Streams:   [][]string{{"Paris ", "is the capital of France."}},
	}
	o, _ := newTestOrchestrator(t, mock, nil)

	events := drainEvents(t, o.Run(context.Background(), "What is the capital of France?", ""))

	assert.Equal(t, []types.RunEventType{
		types.EventTypeThinking,
		types.EventTypeAnswerStart,
		types.EventTypeAnswerChunk,
		types.EventTypeAnswerChunk,
		types.EventTypeDone,
	}, eventTypes(events))

	summary := doneSummary(t, events)
	assert.Equal(t, types.RunStatusCompleted, summary.Status)
	assert.Equal(t, 1, summary.Iterations)
	assert.Equal(t, 0, summary.ToolCalls)
}

func TestRunExecutesSequentialToolCalls(t *testing.T) {
	profile := &stubTool{name: "lookup_profile", result: "Apple Inc, consumer electronics"}
	income := &stubTool{name: "income_statements", result: "revenue 394B, net income 97B"}

	mock := &llm.MockProvider{
		Responses: []*llm.Response{
			callDecision("Need the company profile first.",
				llm.ToolCall{Name: "lookup_profile", Arguments: map[string]interface{}{"ticker": "AAPL"}}),
			callDecision("Now the income statements.",
				llm.ToolCall{Name: "income_statements", Arguments: map[string]interface{}{"ticker": "AAPL", "period": "annual"}}),
			finishDecision("Enough data gathered."),
		},
		Streams: [][]string{{"Apple's revenue was 394B."}},
	}
	o, _ := newTestOrchestrator(t, mock, []tools.Tool{profile, income})

	events := drainEvents(t, o.Run(context.Background(), "Summarize Apple's latest results", ""))

	assert.Equal(t, 2, countType(events, types.EventTypeToolStart))
	assert.Equal(t, 2, countType(events, types.EventTypeToolEnd))
	assert.Equal(t, 1, profile.executionCount())
	assert.Equal(t, 1, income.executionCount())

	summary := doneSummary(t, events)
	assert.Equal(t, types.RunStatusCompleted, summary.Status)
	assert.Equal(t, 3, summary.Iterations)
	assert.Equal(t, 2, summary.ToolCalls)

	// The third thinking prompt must list both executed calls so the model
	// does not repeat them.
	require.GreaterOrEqual(t, len(mock.Requests), 3)
	thirdPrompt := mock.Requests[2].Prompt
	assert.Contains(t, thirdPrompt, "lookup_profile(")
	assert.Contains(t, thirdPrompt, "income_statements(")
}

func TestRunStopsAtMaxIterations(t *testing.T) {
	fetch := &stubTool{name: "fetch", result: "data"}

	responses := make([]*llm.Response, 6)
	for i := range responses {
		responses[i] = callDecision("more data",
			llm.ToolCall{Name: "fetch", Arguments: map[string]interface{}{"page": float64(i)}})
	}
	mock := &llm.MockProvider{
		Responses: responses,
		Streams:   [][]string{{"answer from partial data"}},
	}
	o, _ := newTestOrchestrator(t, mock, []tools.Tool{fetch}, WithMaxIterations(3))

	events := drainEvents(t, o.Run(context.Background(), "exhaustive question", ""))

	summary := doneSummary(t, events)
	assert.Equal(t, types.RunStatusCompleted, summary.Status)
	assert.Equal(t, 3, summary.Iterations)
	assert.Equal(t, 3, mock.InvokeCount())
	assert.Equal(t, 1, countType(events, types.EventTypeAnswerStart))
}

func TestBudgetExhaustedStillAnswers(t *testing.T) {
	mock := &llm.MockProvider{
		Streams: [][]string{{"answer without any retrieval"}},
	}
	o, _ := newTestOrchestrator(t, mock, nil, WithWallClockBudget(time.Nanosecond))

	events := drainEvents(t, o.Run(context.Background(), "anything", ""))

	summary := doneSummary(t, events)
	assert.Equal(t, types.RunStatusCompleted, summary.Status)
	assert.Equal(t, 0, summary.Iterations)
	assert.Equal(t, 0, mock.InvokeCount())
	assert.Equal(t, 1, countType(events, types.EventTypeAnswerStart))

	// With nothing retrieved the synthesis takes the no-data branch.
	last, err := mock.LastRequest()
	require.NoError(t, err)
	assert.Contains(t, last.SystemPrompt, "No tool data was retrieved")
}

func TestDuplicateCallDispatchedOnce(t *testing.T) {
	fetch := &stubTool{name: "fetch", result: "payload"}

	mock := &llm.MockProvider{
		Responses: []*llm.Response{
			callDecision("fetch it",
				llm.ToolCall{Name: "fetch", Arguments: map[string]interface{}{"ticker": "AAPL", "period": "annual"}}),
			callDecision("fetch it again",
				llm.ToolCall{Name: "fetch", Arguments: map[string]interface{}{"period": "annual", "ticker": "AAPL"}}),
			finishDecision(""),
		},
		Streams: [][]string{{"done"}},
	}
	o, _ := newTestOrchestrator(t, mock, []tools.Tool{fetch})

	events := drainEvents(t, o.Run(context.Background(), "q", ""))

	assert.Equal(t, 1, fetch.executionCount())
	assert.Equal(t, 1, countType(events, types.EventTypeToolStart))
}

func TestIdenticalCallsInOneTurnDispatchOnce(t *testing.T) {
	fetch := &stubTool{
		name: "fetch",
		execFn: func(_ context.Context, _ map[string]interface{}, _ tools.ProgressFunc) (string, error) {
			// Keep the call in flight long enough that both proposals overlap.
			time.Sleep(50 * time.Millisecond)
			return "payload", nil
		},
	}

	args := map[string]interface{}{"ticker": "AAPL"}
	mock := &llm.MockProvider{
		Responses: []*llm.Response{
			callDecision("fetch it twice",
				llm.ToolCall{Name: "fetch", Arguments: args},
				llm.ToolCall{Name: "fetch", Arguments: map[string]interface{}{"ticker": "AAPL"}}),
			finishDecision(""),
		},
		Streams: [][]string{{"done"}},
	}
	o, _ := newTestOrchestrator(t, mock, []tools.Tool{fetch})

	events := drainEvents(t, o.Run(context.Background(), "q", ""))

	assert.Equal(t, 1, fetch.executionCount())
	assert.Equal(t, 1, countType(events, types.EventTypeToolStart))
	assert.Equal(t, 1, doneSummary(t, events).ToolCalls)
}

func TestOncePerRunToolNotDoubledWithinOneTurn(t *testing.T) {
	snapshot := &stubTool{
		name: "market_snapshot",
		once: true,
		execFn: func(_ context.Context, _ map[string]interface{}, _ tools.ProgressFunc) (string, error) {
			time.Sleep(50 * time.Millisecond)
			return "snapshot", nil
		},
	}

	mock := &llm.MockProvider{
		Responses: []*llm.Response{
			callDecision("",
				llm.ToolCall{Name: "market_snapshot", Arguments: map[string]interface{}{"region": "us"}},
				llm.ToolCall{Name: "market_snapshot", Arguments: map[string]interface{}{"region": "eu"}}),
			finishDecision(""),
		},
		Streams: [][]string{{"done"}},
	}
	o, _ := newTestOrchestrator(t, mock, []tools.Tool{snapshot})

	events := drainEvents(t, o.Run(context.Background(), "q", ""))

	assert.Equal(t, 1, snapshot.executionCount())
	assert.Equal(t, 1, countType(events, types.EventTypeToolStart))
}

func TestOncePerRunToolSkipped(t *testing.T) {
	snapshot := &stubTool{name: "market_snapshot", result: "snapshot", once: true}

	mock := &llm.MockProvider{
		Responses: []*llm.Response{
			callDecision("", llm.ToolCall{Name: "market_snapshot", Arguments: map[string]interface{}{"region": "us"}}),
			callDecision("", llm.ToolCall{Name: "market_snapshot", Arguments: map[string]interface{}{"region": "eu"}}),
			finishDecision(""),
		},
		Streams: [][]string{{"done"}},
	}
	o, _ := newTestOrchestrator(t, mock, []tools.Tool{snapshot})

	events := drainEvents(t, o.Run(context.Background(), "q", ""))

	assert.Equal(t, 1, snapshot.executionCount())
	assert.Equal(t, 1, countType(events, types.EventTypeToolStart))
}

func TestSensitiveToolDeniedNeverExecutes(t *testing.T) {
	secret := &stubTool{name: "private_filings", result: "secret data", sensitive: true}

	mock := &llm.MockProvider{
		Responses: []*llm.Response{
			callDecision("", llm.ToolCall{Name: "private_filings", Arguments: map[string]interface{}{"ticker": "AAPL"}}),
			finishDecision(""),
		},
		Streams: [][]string{{"answered without the filings"}},
	}
	o, _ := newTestOrchestrator(t, mock, []tools.Tool{secret})

	events := drainRespondingToApprovals(t, o, o.Run(context.Background(), "q", ""), types.ApprovalDeny)

	assert.Equal(t, 0, secret.executionCount())
	assert.Equal(t, 1, countType(events, types.EventTypeToolDenied))
	assert.Equal(t, 0, countType(events, types.EventTypeToolStart))
	assert.Equal(t, types.RunStatusCompleted, doneSummary(t, events).Status)
}

func TestAllowSessionCoversLaterTools(t *testing.T) {
	first := &stubTool{name: "insider_trades", result: "trades", sensitive: true}
	second := &stubTool{name: "ownership", result: "holders", sensitive: true}

	mock := &llm.MockProvider{
		Responses: []*llm.Response{
			callDecision("", llm.ToolCall{Name: "insider_trades", Arguments: map[string]interface{}{"ticker": "AAPL"}}),
			callDecision("", llm.ToolCall{Name: "ownership", Arguments: map[string]interface{}{"ticker": "AAPL"}}),
			finishDecision(""),
		},
		Streams: [][]string{{"done"}},
	}
	o, _ := newTestOrchestrator(t, mock, []tools.Tool{first, second})

	events := drainRespondingToApprovals(t, o, o.Run(context.Background(), "q", ""), types.ApprovalAllowSession)

	// Session-wide grant covers the second sensitive tool without a prompt.
	assert.Equal(t, 1, countType(events, types.EventTypeToolApproval))
	assert.Equal(t, 1, first.executionCount())
	assert.Equal(t, 1, second.executionCount())
}

func TestCancellationInterruptsRun(t *testing.T) {
	started := make(chan struct{})
	slow := &stubTool{
		name: "slow_fetch",
		execFn: func(ctx context.Context, _ map[string]interface{}, _ tools.ProgressFunc) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		},
	}

	mock := &llm.MockProvider{
		Responses: []*llm.Response{
			callDecision("", llm.ToolCall{Name: "slow_fetch", Arguments: map[string]interface{}{}}),
		},
	}
	o, _ := newTestOrchestrator(t, mock, []tools.Tool{slow})

	ctx, cancel := context.WithCancel(context.Background())
	ch := o.Run(ctx, "q", "")

	go func() {
		<-started
		cancel()
	}()

	events := drainEvents(t, ch)

	assert.Equal(t, types.RunStatusInterrupted, doneSummary(t, events).Status)
	assert.Equal(t, 0, countType(events, types.EventTypeAnswerStart))

	// The started call's lifecycle is closed with a terminal event even when
	// the run was interrupted.
	assert.Equal(t, 1, countType(events, types.EventTypeToolError))
}

func TestThinkingModelFailureAborts(t *testing.T) {
	mock := &llm.MockProvider{
		Errors: []error{errors.New("model unreachable")},
	}
	o, _ := newTestOrchestrator(t, mock, nil)

	events := drainEvents(t, o.Run(context.Background(), "q", ""))

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, types.EventTypeError, last.Type)
	assert.ErrorContains(t, last.Error, "model unreachable")
	assert.Equal(t, 0, countType(events, types.EventTypeDone))
	assert.Equal(t, 0, countType(events, types.EventTypeAnswerStart))
}

func TestToolFailureDoesNotAbortRun(t *testing.T) {
	broken := &stubTool{name: "flaky_fetch", err: errors.New("upstream 500")}

	mock := &llm.MockProvider{
		Responses: []*llm.Response{
			callDecision("", llm.ToolCall{Name: "flaky_fetch", Arguments: map[string]interface{}{"ticker": "AAPL"}}),
			finishDecision(""),
		},
		Streams: [][]string{{"answered despite the failure"}},
	}
	o, store := newTestOrchestrator(t, mock, []tools.Tool{broken})

	events := drainEvents(t, o.Run(context.Background(), "q", ""))

	assert.Equal(t, 1, countType(events, types.EventTypeToolError))
	assert.Equal(t, types.RunStatusCompleted, doneSummary(t, events).Status)

	// The failure is persisted so later iterations can see it was attempted.
	pointers := store.ListPointers("")
	require.Len(t, pointers, 1)
	assert.True(t, pointers[0].Meta.IsError)
	assert.True(t, strings.HasPrefix(pointers[0].Meta.Description, "FAILED: "))
}

func TestCallLimitWarningReachesNextPrompt(t *testing.T) {
	search := &stubTool{name: "web_search", result: "results"}

	mock := &llm.MockProvider{
		Responses: []*llm.Response{
			callDecision("", llm.ToolCall{Name: "web_search", Arguments: map[string]interface{}{"query": "apple revenue", "page": float64(1)}}),
			callDecision("", llm.ToolCall{Name: "web_search", Arguments: map[string]interface{}{"query": "Apple  Revenue", "page": float64(2)}}),
			finishDecision(""),
		},
		Streams: [][]string{{"done"}},
	}
	o, _ := newTestOrchestrator(t, mock, []tools.Tool{search}, WithSimilarQueryThreshold(1))

	events := drainEvents(t, o.Run(context.Background(), "q", ""))

	// Both calls still execute; the limit is advisory.
	assert.Equal(t, 2, search.executionCount())
	assert.Equal(t, 1, countType(events, types.EventTypeToolLimit))

	require.GreaterOrEqual(t, len(mock.Requests), 3)
	assert.Contains(t, mock.Requests[2].Prompt, "<warnings>")
}

func TestSummarizeResultTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("日本語の財務データ", 30)

	summary := summarizeResult(long)

	assert.True(t, utf8.ValidString(summary))
	assert.True(t, strings.HasSuffix(summary, "..."))
	assert.LessOrEqual(t, len(summary), resultSummaryLimit+len("..."))

	assert.Equal(t, "first line", summarizeResult("first line\nsecond line"))
	assert.Equal(t, "(empty result)", summarizeResult("   \nrest"))
}

func TestSensitivePatternOptionGatesTool(t *testing.T) {
	fetch := &stubTool{name: "internal_fetch", result: "data"}

	mock := &llm.MockProvider{
		Responses: []*llm.Response{
			callDecision("", llm.ToolCall{Name: "internal_fetch", Arguments: map[string]interface{}{}}),
			finishDecision(""),
		},
		Streams: [][]string{{"done"}},
	}
	o, _ := newTestOrchestrator(t, mock, []tools.Tool{fetch},
		WithSensitiveTools([]string{"internal_*"}),
		WithApprovalTimeout(50*time.Millisecond))

	// No responder: the approval times out and counts as a denial.
	events := drainEvents(t, o.Run(context.Background(), "q", ""))

	assert.Equal(t, 0, fetch.executionCount())
	assert.Equal(t, 1, countType(events, types.EventTypeToolApproval))
	assert.Equal(t, 1, countType(events, types.EventTypeToolDenied))
}
