package domain

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"time"
)

// ApprovalStatus is the lifecycle state of a parked tool call.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// ApprovalRequest is a tool call parked until a human (or policy agent)
// resolves it. The original arguments are stored verbatim so an approval
// executes exactly what was requested, not what the caller re-sends.
type ApprovalRequest struct {
	ID string

	ToolName  string
	Arguments json.RawMessage

	// ArgumentsDigest fingerprints the stored arguments so resolvers can
	// display and audit what exactly they are approving.
	ArgumentsDigest string

	// ClientID and SubjectID identify the grant the call was parked
	// under. Execution on approval runs with these, not the resolver's.
	ClientID  string
	SubjectID string
	Scopes    []string

	// PreviousResponseID threads multi-step agent conversations; opaque
	// to the gateway.
	PreviousResponseID string

	Status ApprovalStatus

	// Result holds the tool output once an approved call has executed,
	// or the recorded rejection. Replayed to idempotent re-resolutions.
	Result json.RawMessage

	// ResolverID is the subject that resolved the request.
	ResolverID string

	CreatedAt  time.Time
	ExpiresAt  time.Time
	ResolvedAt *time.Time
}

// Resolved reports whether the request has left the pending state.
func (a *ApprovalRequest) Resolved() bool {
	return a.Status != ApprovalPending
}

// Overdue reports whether a still-pending request has passed its deadline.
func (a *ApprovalRequest) Overdue(now time.Time) bool {
	return a.Status == ApprovalPending && now.After(a.ExpiresAt)
}

// DigestArguments computes the canonical fingerprint of a raw argument
// payload, matching ArgumentsDigest.
func DigestArguments(args json.RawMessage) string {
	sum := sha256.Sum256(args)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
