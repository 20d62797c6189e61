// Package scratchpad tracks every tool call made during one orchestration
// run. It provides O(1) duplicate detection by canonical call key, per-tool
// call counters for the soft call-limit policy, and a rendered "do not
// repeat" summary for the next model turn.
//
// A Scratchpad is owned by exactly one run and is never shared across
// concurrent queries; the mutex only guards concurrent tool calls dispatched
// from the same turn.
package scratchpad

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Entry records one executed tool call. Entries are append-only and never
// mutated after creation.
type Entry struct {
	// CallKey is the canonical identity of the call.
	CallKey string

	// ToolName is the tool that was invoked.
	ToolName string

	// Args is the argument map the tool was invoked with.
	Args map[string]interface{}

	// ResultSummary is a compact description of the outcome.
	ResultSummary string

	// Timestamp is when the call was registered.
	Timestamp time.Time
}

// CallCheck is the result of a call-limit check.
type CallCheck struct {
	// Warning is a non-empty advisory message once a threshold is exceeded.
	Warning string

	// Blocked is true only under a strict policy. The default policy never
	// sets it; warnings are surfaced to the model instead.
	Blocked bool
}

// Option configures a Scratchpad.
type Option func(*Scratchpad)

// WithToolCallThreshold sets the per-tool call count above which CanCallTool
// returns a warning. Zero disables the check.
func WithToolCallThreshold(n int) Option {
	return func(s *Scratchpad) {
		s.toolThreshold = n
	}
}

// WithSimilarQueryThreshold sets the per-(tool, similar query) count above
// which CanCallTool returns a warning. Zero disables the check.
func WithSimilarQueryThreshold(n int) Option {
	return func(s *Scratchpad) {
		s.queryThreshold = n
	}
}

// WithClearThreshold sets the registered-call count above which the rendered
// summary compacts older entries. Zero disables compaction.
func WithClearThreshold(n int) Option {
	return func(s *Scratchpad) {
		s.clearThreshold = n
	}
}

// Scratchpad is the per-run call registry.
type Scratchpad struct {
	mu sync.Mutex

	entries []*Entry
	index   map[string]*Entry

	// inflight marks call keys claimed for dispatch but not yet registered,
	// so concurrent duplicates in one batch resolve to a single execution.
	inflight      map[string]struct{}
	inflightTools map[string]int

	toolCounts  map[string]int
	queryCounts map[string]int

	toolThreshold  int
	queryThreshold int
	clearThreshold int

	// compactedThrough is the number of leading entries collapsed out of the
	// rendered summary after a context clear.
	compactedThrough int
}

// New creates an empty Scratchpad.
func New(opts ...Option) *Scratchpad {
	s := &Scratchpad{
		index:         make(map[string]*Entry),
		inflight:      make(map[string]struct{}),
		inflightTools: make(map[string]int),
		toolCounts:    make(map[string]int),
		queryCounts:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HasExecuted returns true if a call with the same canonical key has already
// been registered in this run, independent of argument key order.
func (s *Scratchpad) HasExecuted(name string, args map[string]interface{}) bool {
	key := CallKey(name, args)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[key]
	return ok
}

// HasExecutedTool returns true if any call to the named tool has been
// registered in this run, regardless of arguments.
func (s *Scratchpad) HasExecutedTool(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasExecutedToolLocked(name)
}

func (s *Scratchpad) hasExecutedToolLocked(name string) bool {
	for _, entry := range s.entries {
		if entry.ToolName == name {
			return true
		}
	}
	return false
}

// Claim atomically reserves a call for dispatch. It fails when the key is
// already registered or claimed by an in-flight call, or, with oncePerRun,
// when any call to the tool is registered or in flight. Exactly one of N
// concurrent claimants of the same key wins. A claim is consumed by Register
// or returned by Release.
func (s *Scratchpad) Claim(name string, args map[string]interface{}, oncePerRun bool) bool {
	key := CallKey(name, args)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[key]; ok {
		return false
	}
	if _, ok := s.inflight[key]; ok {
		return false
	}
	if oncePerRun && (s.inflightTools[name] > 0 || s.hasExecutedToolLocked(name)) {
		return false
	}

	s.inflight[key] = struct{}{}
	s.inflightTools[name]++
	return true
}

// Release returns a claim without registering an execution, so the call stays
// proposable (denied approvals, interrupted dispatches).
func (s *Scratchpad) Release(name string, args map[string]interface{}) {
	key := CallKey(name, args)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(key, name)
}

func (s *Scratchpad) releaseLocked(key, name string) {
	if _, ok := s.inflight[key]; !ok {
		return
	}
	delete(s.inflight, key)
	if s.inflightTools[name] > 0 {
		s.inflightTools[name]--
	}
}

// Register records an executed call. A duplicate identical call key is a
// no-op within one run, so the same retrieval is never paid for twice.
// Returns true if the entry was inserted, false if it was a duplicate.
func (s *Scratchpad) Register(name string, args map[string]interface{}, resultSummary string) bool {
	key := CallKey(name, args)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseLocked(key, name)

	if _, ok := s.index[key]; ok {
		return false
	}

	entry := &Entry{
		CallKey:       key,
		ToolName:      name,
		Args:          args,
		ResultSummary: resultSummary,
		Timestamp:     time.Now(),
	}
	s.entries = append(s.entries, entry)
	s.index[key] = entry
	return true
}

// Lookup returns the registered entry for a call, if any.
func (s *Scratchpad) Lookup(name string, args map[string]interface{}) (*Entry, bool) {
	key := CallKey(name, args)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.index[key]
	return entry, ok
}

// RecordToolCall increments the per-tool counter and, when queryText is
// non-empty, the per-(tool, similar query) counter. Used only by the
// call-limit policy; a tool may legitimately be called repeatedly with
// different arguments.
func (s *Scratchpad) RecordToolCall(name, queryText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolCounts[name]++
	if queryText != "" {
		s.queryCounts[similarQueryKey(name, queryText)]++
	}
}

// CanCallTool checks the soft call-limit policy for a tool. With no
// thresholds configured the call is always unblocked with no warning.
func (s *Scratchpad) CanCallTool(name, queryText string) CallCheck {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queryThreshold > 0 && queryText != "" {
		if n := s.queryCounts[similarQueryKey(name, queryText)]; n >= s.queryThreshold {
			return CallCheck{
				Warning: fmt.Sprintf("tool %q has been called %d times with a similar query; consider a different approach or finish with the data you have", name, n),
			}
		}
	}

	if s.toolThreshold > 0 {
		if n := s.toolCounts[name]; n >= s.toolThreshold {
			return CallCheck{
				Warning: fmt.Sprintf("tool %q has been called %d times this run; consider whether more calls will add new information", name, n),
			}
		}
	}

	return CallCheck{}
}

// Len returns the number of registered entries.
func (s *Scratchpad) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entries returns a copy of the registered entries in registration order.
func (s *Scratchpad) Entries() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// NeedsCompaction reports whether the rendered summary has grown past the
// configured clear threshold.
func (s *Scratchpad) NeedsCompaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clearThreshold <= 0 {
		return false
	}
	return len(s.entries)-s.compactedThrough > s.clearThreshold
}

// Compact collapses all but the most recent entries out of the rendered
// summary. The underlying entries (and dedup index) are untouched; only the
// prompt rendering shrinks. Returns the number of entries compacted.
func (s *Scratchpad) Compact() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clearThreshold <= 0 {
		return 0
	}
	keep := s.clearThreshold / 2
	if keep < 1 {
		keep = 1
	}
	cutoff := len(s.entries) - keep
	if cutoff <= s.compactedThrough {
		return 0
	}
	compacted := cutoff - s.compactedThrough
	s.compactedThrough = cutoff
	return compacted
}

// ExecutedSummary renders all registered calls as a "do not repeat" list for
// the next model turn. Compacted entries are folded into a single count line.
func (s *Scratchpad) ExecutedSummary() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Tool calls already executed this run (do not repeat):\n")
	if s.compactedThrough > 0 {
		fmt.Fprintf(&sb, "- [%d earlier calls compacted]\n", s.compactedThrough)
	}
	for _, entry := range s.entries[s.compactedThrough:] {
		fmt.Fprintf(&sb, "- %s", entry.CallKey)
		if entry.ResultSummary != "" {
			fmt.Fprintf(&sb, " -> %s", entry.ResultSummary)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// similarQueryKey normalizes a query string so near-identical queries against
// the same tool share a counter.
func similarQueryKey(name, queryText string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(queryText)), " ")
	return name + "|" + normalized
}
