package scratchpad

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallKey_KeyOrderIndependent(t *testing.T) {
	a := CallKey("income_statements", map[string]interface{}{
		"ticker": "AAPL",
		"period": "quarterly",
		"limit":  4,
	})
	b := CallKey("income_statements", map[string]interface{}{
		"limit":  4,
		"period": "quarterly",
		"ticker": "AAPL",
	})
	assert.Equal(t, a, b)
}

func TestCallKey_DistinguishesArguments(t *testing.T) {
	a := CallKey("income_statements", map[string]interface{}{"ticker": "AAPL"})
	b := CallKey("income_statements", map[string]interface{}{"ticker": "MSFT"})
	c := CallKey("metrics", map[string]interface{}{"ticker": "AAPL"})

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestCallKey_NestedAndOddValues(t *testing.T) {
	// Nested maps sort too, and values JSON can't express must not panic.
	a := CallKey("search", map[string]interface{}{
		"filters": map[string]interface{}{"b": 2, "a": 1},
	})
	b := CallKey("search", map[string]interface{}{
		"filters": map[string]interface{}{"a": 1, "b": 2},
	})
	assert.Equal(t, a, b)

	assert.NotPanics(t, func() {
		CallKey("search", map[string]interface{}{"fn": func() {}})
	})
}

func TestRegister_Idempotent(t *testing.T) {
	pad := New()
	args := map[string]interface{}{"ticker": "AAPL", "period": "annual"}

	require.False(t, pad.HasExecuted("income_statements", args))
	require.True(t, pad.Register("income_statements", args, "4 periods"))

	// Same call with reordered keys is already executed.
	reordered := map[string]interface{}{"period": "annual", "ticker": "AAPL"}
	assert.True(t, pad.HasExecuted("income_statements", reordered))

	// Duplicate register is a no-op.
	assert.False(t, pad.Register("income_statements", reordered, "other"))
	assert.Equal(t, 1, pad.Len())

	entry, ok := pad.Lookup("income_statements", args)
	require.True(t, ok)
	assert.Equal(t, "4 periods", entry.ResultSummary)
}

func TestCanCallTool_NoThresholdsAlwaysUnblocked(t *testing.T) {
	pad := New()
	for i := 0; i < 50; i++ {
		pad.RecordToolCall("web_search", "apple revenue")
	}
	check := pad.CanCallTool("web_search", "apple revenue")
	assert.Empty(t, check.Warning)
	assert.False(t, check.Blocked)
}

func TestCanCallTool_SimilarQueryWarning(t *testing.T) {
	pad := New(WithSimilarQueryThreshold(2))

	pad.RecordToolCall("web_search", "Apple revenue 2024")
	check := pad.CanCallTool("web_search", "apple   REVENUE 2024")
	assert.Empty(t, check.Warning)

	pad.RecordToolCall("web_search", "apple revenue 2024")
	check = pad.CanCallTool("web_search", "Apple Revenue 2024")
	assert.NotEmpty(t, check.Warning)
	assert.False(t, check.Blocked, "default policy never hard-blocks")

	// A different query against the same tool is unaffected.
	check = pad.CanCallTool("web_search", "microsoft revenue")
	assert.Empty(t, check.Warning)
}

func TestCanCallTool_PerToolWarning(t *testing.T) {
	pad := New(WithToolCallThreshold(3))
	for i := 0; i < 3; i++ {
		pad.RecordToolCall("metrics", "")
	}
	check := pad.CanCallTool("metrics", "")
	assert.Contains(t, check.Warning, "metrics")
	assert.False(t, check.Blocked)
}

func TestExecutedSummary(t *testing.T) {
	pad := New()
	assert.Empty(t, pad.ExecutedSummary())

	pad.Register("income_statements", map[string]interface{}{"ticker": "AAPL"}, "4 quarterly periods")
	pad.Register("metrics", map[string]interface{}{"ticker": "AAPL"}, "12 metrics")

	summary := pad.ExecutedSummary()
	assert.Contains(t, summary, "income_statements")
	assert.Contains(t, summary, "metrics")
	assert.Contains(t, summary, "4 quarterly periods")
	assert.Contains(t, summary, "do not repeat")
}

func TestCompaction(t *testing.T) {
	pad := New(WithClearThreshold(4))

	for i := 0; i < 6; i++ {
		pad.Register("web_search", map[string]interface{}{"query": strings.Repeat("q", i+1)}, "ok")
	}

	require.True(t, pad.NeedsCompaction())
	compacted := pad.Compact()
	assert.Equal(t, 4, compacted)

	summary := pad.ExecutedSummary()
	assert.Contains(t, summary, "4 earlier calls compacted")

	// Dedup index survives compaction.
	assert.True(t, pad.HasExecuted("web_search", map[string]interface{}{"query": "q"}))
	assert.Equal(t, 6, pad.Len())

	// Nothing new to compact immediately after.
	assert.False(t, pad.NeedsCompaction())
	assert.Equal(t, 0, pad.Compact())
}

func TestClaim_DuplicateInFlightLosesClaim(t *testing.T) {
	pad := New()
	args := map[string]interface{}{"ticker": "AAPL"}

	require.True(t, pad.Claim("income_statements", args, false))

	// A second identical claim fails while the first is still in flight,
	// even with reordered argument keys.
	reordered := map[string]interface{}{"ticker": "AAPL"}
	assert.False(t, pad.Claim("income_statements", reordered, false))

	// Registering consumes the claim and the call stays deduplicated.
	require.True(t, pad.Register("income_statements", args, "ok"))
	assert.False(t, pad.Claim("income_statements", args, false))
}

func TestClaim_ReleaseMakesCallProposableAgain(t *testing.T) {
	pad := New()
	args := map[string]interface{}{"ticker": "AAPL"}

	require.True(t, pad.Claim("income_statements", args, false))
	pad.Release("income_statements", args)

	assert.True(t, pad.Claim("income_statements", args, false))
	assert.Equal(t, 0, pad.Len())
}

func TestClaim_OncePerRunCoversInFlightCalls(t *testing.T) {
	pad := New()

	require.True(t, pad.Claim("market_snapshot", map[string]interface{}{"region": "us"}, true))

	// Different arguments, same once-per-run tool: blocked while in flight
	// and after registration.
	assert.False(t, pad.Claim("market_snapshot", map[string]interface{}{"region": "eu"}, true))

	pad.Register("market_snapshot", map[string]interface{}{"region": "us"}, "ok")
	assert.False(t, pad.Claim("market_snapshot", map[string]interface{}{"region": "eu"}, true))

	// Other tools are unaffected.
	assert.True(t, pad.Claim("metrics", map[string]interface{}{"region": "eu"}, true))
}

func TestClaim_ConcurrentClaimsSingleWinner(t *testing.T) {
	pad := New()
	args := map[string]interface{}{"ticker": "AAPL"}

	var wg sync.WaitGroup
	won := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won <- pad.Claim("income_statements", args, false)
		}()
	}
	wg.Wait()
	close(won)

	count := 0
	for ok := range won {
		if ok {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one concurrent claim wins")
}

func TestConcurrentRegister(t *testing.T) {
	pad := New()
	args := map[string]interface{}{"ticker": "AAPL"}

	var wg sync.WaitGroup
	inserted := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted <- pad.Register("income_statements", args, "ok")
		}()
	}
	wg.Wait()
	close(inserted)

	count := 0
	for ok := range inserted {
		if ok {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one concurrent register wins")
	assert.Equal(t, 1, pad.Len())
}
