// Package contracts defines the shared domain types of the station: the
// Request record and its lifecycle, the closed Operation union, and the
// policy/criteria model that decides adoption. Behavior lives in the engine
// packages; this package holds only data and invariant helpers.
package contracts

import (
	"time"

	"github.com/google/uuid"
)

// Identity is the resolved caller identity for one invocation. The transport
// layer resolves it once, before any suspension point.
type Identity struct {
	UserID    uuid.UUID `json:"user_id"`
	Principal string    `json:"principal,omitempty"`
}

// RequestStatus is the lifecycle state of a request.
//
// Created → {Approved, Rejected} → Scheduled → Processing → {Completed, Failed};
// any non-terminal state may move to Cancelled (expiration) or Failed.
type RequestStatus string

const (
	RequestStatusCreated    RequestStatus = "CREATED"
	RequestStatusApproved   RequestStatus = "APPROVED"
	RequestStatusRejected   RequestStatus = "REJECTED"
	RequestStatusScheduled  RequestStatus = "SCHEDULED"
	RequestStatusProcessing RequestStatus = "PROCESSING"
	RequestStatusCompleted  RequestStatus = "COMPLETED"
	RequestStatusFailed     RequestStatus = "FAILED"
	RequestStatusCancelled  RequestStatus = "CANCELLED"
)

// IsTerminal reports whether the status admits no further transition.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case RequestStatusCompleted, RequestStatusFailed, RequestStatusCancelled, RequestStatusRejected:
		return true
	}
	return false
}

// VoteDecision is an approver's verdict on a request.
type VoteDecision string

const (
	VoteAccepted VoteDecision = "ACCEPTED"
	VoteRejected VoteDecision = "REJECTED"
)

// Approval is one approver's recorded vote. A request holds at most one
// Approval per approver; a re-vote replaces the decision in place so that
// insertion order still reflects first-vote order.
type Approval struct {
	ApproverID uuid.UUID    `json:"approver_id"`
	Decision   VoteDecision `json:"decision"`
	Reason     string       `json:"reason,omitempty"`
	DecidedAt  time.Time    `json:"decided_at"`
}

// ExecutionMode selects when an adopted request runs.
type ExecutionMode string

const (
	ExecutionImmediate   ExecutionMode = "IMMEDIATE"
	ExecutionScheduledAt ExecutionMode = "SCHEDULED_AT"
)

// ExecutionPlan is the requested execution timing.
type ExecutionPlan struct {
	Mode ExecutionMode `json:"mode"`
	// At is the explicit execution time for ExecutionScheduledAt.
	At *time.Time `json:"at,omitempty"`
}

// Request is a proposed action awaiting approval and, once adopted,
// execution. Requests are never deleted; terminal states are retained
// for audit.
type Request struct {
	ID          uuid.UUID     `json:"id"`
	RequesterID uuid.UUID     `json:"requester_id"`
	Title       string        `json:"title"`
	Summary     string        `json:"summary,omitempty"`
	Operation   Operation     `json:"operation"`
	Status      RequestStatus `json:"status"`
	// StatusReason records why a terminal status was reached (execution
	// failure, expiration, rejection).
	StatusReason string     `json:"status_reason,omitempty"`
	Approvals    []Approval `json:"approvals"`

	CreatedAt      time.Time  `json:"created_at"`
	LastModifiedAt time.Time  `json:"last_modified_at"`
	ExpirationAt   time.Time  `json:"expiration_at"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`

	Plan ExecutionPlan `json:"plan"`

	// DedupHash is the canonical-JSON hash of (requester, operation),
	// used to reject duplicate in-flight submissions.
	DedupHash string `json:"dedup_hash,omitempty"`

	// ExecuteAttempts counts executor invocations for requests whose
	// external effect is asynchronous; bounded by the pipeline.
	ExecuteAttempts int `json:"execute_attempts,omitempty"`
}

// ApprovalBy returns the approval cast by the given approver, if any.
func (r *Request) ApprovalBy(approver uuid.UUID) (Approval, bool) {
	for _, a := range r.Approvals {
		if a.ApproverID == approver {
			return a, true
		}
	}
	return Approval{}, false
}

// UpsertApproval records a vote, replacing the approver's previous decision
// in place. The later decision wins; the ballot never holds two entries for
// one approver.
func (r *Request) UpsertApproval(a Approval) {
	for i := range r.Approvals {
		if r.Approvals[i].ApproverID == a.ApproverID {
			r.Approvals[i] = a
			return
		}
	}
	r.Approvals = append(r.Approvals, a)
}

// CanTransition reports whether moving from the current status to next is a
// legal step of the lifecycle machine. Terminal states admit nothing;
// Cancelled and Failed are reachable from any non-terminal state.
func (r *Request) CanTransition(next RequestStatus) bool {
	if r.Status.IsTerminal() {
		return false
	}
	if next == RequestStatusCancelled || next == RequestStatusFailed {
		return true
	}
	switch r.Status {
	case RequestStatusCreated:
		return next == RequestStatusApproved || next == RequestStatusRejected
	case RequestStatusApproved:
		return next == RequestStatusScheduled
	case RequestStatusScheduled:
		return next == RequestStatusProcessing
	case RequestStatusProcessing:
		return next == RequestStatusCompleted
	}
	return false
}
