package agent

import (
	"time"

	"github.com/gobwas/glob"
)

// orchestratorConfig holds construction-time settings that do not live on the
// Orchestrator itself.
type orchestratorConfig struct {
	approvalTimeout time.Duration
	autoApprove     []string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator, *orchestratorConfig)

// WithMaxIterations caps the number of thinking steps per run.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator, _ *orchestratorConfig) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithWallClockBudget caps the total wall-clock time spent gathering data.
// When the budget is exhausted the run moves to answer synthesis with
// whatever has been retrieved. Zero disables the budget.
func WithWallClockBudget(d time.Duration) Option {
	return func(o *Orchestrator, _ *orchestratorConfig) {
		o.wallClockBudget = d
	}
}

// WithApprovalTimeout sets how long a tool waits for an approval decision
// before it is treated as denied.
func WithApprovalTimeout(d time.Duration) Option {
	return func(_ *Orchestrator, cfg *orchestratorConfig) {
		if d > 0 {
			cfg.approvalTimeout = d
		}
	}
}

// WithAutoApprove pre-approves tools matching the given glob patterns, so
// they never prompt even when marked sensitive.
func WithAutoApprove(patterns []string) Option {
	return func(_ *Orchestrator, cfg *orchestratorConfig) {
		cfg.autoApprove = patterns
	}
}

// WithSensitiveTools marks tools matching the given glob patterns as
// requiring approval, in addition to tools that declare themselves sensitive.
// Invalid patterns are ignored.
func WithSensitiveTools(patterns []string) Option {
	return func(o *Orchestrator, _ *orchestratorConfig) {
		for _, p := range patterns {
			compiled, err := glob.Compile(p)
			if err != nil {
				agentLog.Warnf("Ignoring invalid sensitive-tool pattern %q: %v", p, err)
				continue
			}
			o.sensitivePatterns = append(o.sensitivePatterns, compiled)
		}
	}
}

// WithToolCallThreshold sets the per-tool call count above which the loop
// warns the model. Zero disables the check.
func WithToolCallThreshold(n int) Option {
	return func(o *Orchestrator, _ *orchestratorConfig) {
		o.toolCallThreshold = n
	}
}

// WithSimilarQueryThreshold sets the per-(tool, similar query) count above
// which the loop warns the model. Zero disables the check.
func WithSimilarQueryThreshold(n int) Option {
	return func(o *Orchestrator, _ *orchestratorConfig) {
		o.similarQueryThreshold = n
	}
}

// WithClearThreshold sets the registered-call count above which the loop
// compacts the executed-calls summary. Zero disables compaction.
func WithClearThreshold(n int) Option {
	return func(o *Orchestrator, _ *orchestratorConfig) {
		o.clearThreshold = n
	}
}

// WithEventBufferSize sets the buffer of the per-run event channel.
func WithEventBufferSize(n int) Option {
	return func(o *Orchestrator, _ *orchestratorConfig) {
		if n > 0 {
			o.eventBufferSize = n
		}
	}
}
