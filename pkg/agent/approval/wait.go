package approval

import (
	"context"
	"time"

	"github.com/entrhq/inquest/pkg/types"
)

// RequestApproval asks the user to approve a sensitive tool invocation and
// waits for the decision. Pre-approved tools (session-wide grant or a
// configured auto-approve pattern) resolve immediately without prompting.
// Cancellation and timeout both resolve to deny.
func (m *Manager) RequestApproval(ctx context.Context, toolName string, args map[string]interface{}) Outcome {
	if m.isPreApproved(toolName) {
		return Outcome{Granted: true}
	}

	approvalID := newApprovalID()
	responseChannel := make(chan *types.ApprovalResponse, 1)

	m.setupPendingApproval(approvalID, toolName, responseChannel)
	defer m.cleanupPendingApproval(approvalID, responseChannel)

	m.emitEvent(types.NewToolApprovalEvent(approvalID, toolName, args))

	return m.waitForResponse(ctx, approvalID, responseChannel)
}

// waitForResponse waits for the user's approval response
func (m *Manager) waitForResponse(ctx context.Context, approvalID string, responseChannel chan *types.ApprovalResponse) Outcome {
	timeout := time.NewTimer(m.timeout)
	defer timeout.Stop()

	select {
	case <-ctx.Done():
		// Run cancelled: a pending approval resolves to deny, never hangs.
		return Outcome{Granted: false, ApprovalID: approvalID}

	case <-timeout.C:
		return Outcome{Granted: false, TimedOut: true, ApprovalID: approvalID}

	case response, ok := <-responseChannel:
		if !ok {
			// Channel closed, treat as rejection
			return Outcome{Granted: false, ApprovalID: approvalID}
		}
		return Outcome{Granted: response.IsGranted(), ApprovalID: approvalID}
	}
}
