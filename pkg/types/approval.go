package types

// ApprovalDecision is the user's answer to a tool approval request.
type ApprovalDecision string

const (
	// ApprovalAllowOnce approves only the requesting invocation.
	ApprovalAllowOnce ApprovalDecision = "allow-once"

	// ApprovalAllowSession approves the requesting invocation and marks every
	// approval-requiring tool as pre-approved for the rest of the process.
	ApprovalAllowSession ApprovalDecision = "allow-session"

	// ApprovalDeny rejects the requesting invocation.
	ApprovalDeny ApprovalDecision = "deny"
)

// ApprovalResponse carries the user's decision back to a pending approval request.
type ApprovalResponse struct {
	// ApprovalID matches the ID from the tool_approval event being answered.
	ApprovalID string

	// Decision is the user's choice.
	Decision ApprovalDecision
}

// IsGranted returns true if the decision permits execution.
func (r *ApprovalResponse) IsGranted() bool {
	return r.Decision == ApprovalAllowOnce || r.Decision == ApprovalAllowSession
}

// IsSessionWide returns true if the decision pre-approves all sensitive tools
// for the remainder of the process.
func (r *ApprovalResponse) IsSessionWide() bool {
	return r.Decision == ApprovalAllowSession
}
