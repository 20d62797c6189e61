// Package approval implements the human-in-the-loop checkpoint for tools
// flagged sensitive. A pending request resolves to deny on timeout or
// cancellation rather than hanging the run.
package approval

import (
	"sync"
	"time"

	"github.com/entrhq/inquest/pkg/types"
	"github.com/gobwas/glob"
	"github.com/google/uuid"
)

// EventEmitter is a function type for emitting events
type EventEmitter func(event *types.RunEvent)

// Outcome is the resolved result of an approval request.
type Outcome struct {
	// Granted is true if the tool may execute.
	Granted bool

	// TimedOut is true if the request expired waiting for a response.
	TimedOut bool

	// ApprovalID identifies the request, for correlating denial events.
	ApprovalID string
}

// Manager handles tool approval requests and responses.
type Manager struct {
	timeout          time.Duration
	pendingApprovals map[string]*pendingApproval
	mu               sync.Mutex
	emitEvent        EventEmitter

	// sessionApproved is set once an allow-session decision arrives; from
	// then on every sensitive tool is pre-approved for this process.
	sessionApproved bool

	// autoApprove holds tool-name patterns approved without prompting.
	autoApprove []glob.Glob
}

// pendingApproval tracks an approval request that is waiting for user response
type pendingApproval struct {
	approvalID string
	toolName   string
	response   chan *types.ApprovalResponse
	closeOnce  sync.Once // Ensures channel is closed exactly once
}

// Option configures a Manager.
type Option func(*Manager)

// WithAutoApprove registers tool-name glob patterns (e.g. "prices_*") that
// skip the approval prompt entirely. Invalid patterns are ignored.
func WithAutoApprove(patterns []string) Option {
	return func(m *Manager) {
		for _, p := range patterns {
			g, err := glob.Compile(p)
			if err != nil {
				continue
			}
			m.autoApprove = append(m.autoApprove, g)
		}
	}
}

// NewManager creates a new approval manager
func NewManager(timeout time.Duration, emitEvent EventEmitter, opts ...Option) *Manager {
	m := &Manager{
		timeout:          timeout,
		pendingApprovals: make(map[string]*pendingApproval),
		emitEvent:        emitEvent,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SessionApproved reports whether an allow-session decision has been made.
func (m *Manager) SessionApproved() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionApproved
}

// HandleResponse processes an approval response from the user. An
// allow-session decision marks all sensitive tools pre-approved for the rest
// of the process, not just the one that triggered the request.
func (m *Manager) HandleResponse(response *types.ApprovalResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if response.IsSessionWide() {
		m.sessionApproved = true
	}

	// Check if we have a pending approval matching this response
	pa, ok := m.pendingApprovals[response.ApprovalID]
	if !ok {
		// No matching pending approval - ignore this response
		return
	}

	// Send the response to the waiting goroutine
	// Use non-blocking send to prevent deadlock if channel is full or being cleaned up
	select {
	case pa.response <- response:
		// Response delivered successfully
	default:
		// Channel full, closed, or no receiver - this is safe to ignore
		// The cleanup process may have already started
	}
}

// isPreApproved checks session-wide approval and configured auto-approve
// patterns.
func (m *Manager) isPreApproved(toolName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessionApproved {
		return true
	}
	for _, g := range m.autoApprove {
		if g.Match(toolName) {
			return true
		}
	}
	return false
}

// setupPendingApproval stores the pending approval request
func (m *Manager) setupPendingApproval(approvalID, toolName string, responseChannel chan *types.ApprovalResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pendingApprovals[approvalID] = &pendingApproval{
		approvalID: approvalID,
		toolName:   toolName,
		response:   responseChannel,
	}
}

// cleanupPendingApproval cleans up the pending approval
// This method is safe to call multiple times due to sync.Once
func (m *Manager) cleanupPendingApproval(approvalID string, responseChannel chan *types.ApprovalResponse) {
	m.mu.Lock()
	pa, ok := m.pendingApprovals[approvalID]
	if ok {
		delete(m.pendingApprovals, approvalID)
	}
	m.mu.Unlock()

	// Close the channel exactly once using sync.Once
	// This prevents race conditions between cleanup and HandleResponse
	if ok && pa != nil {
		pa.closeOnce.Do(func() {
			close(responseChannel)
		})
	}
}

// newApprovalID generates a unique identifier for an approval request.
func newApprovalID() string {
	return uuid.New().String()
}
