package contracts

import (
	"github.com/google/uuid"
)

// VoterKind selects how a criteria leaf resolves its eligible approver set.
type VoterKind string

const (
	// VoterAny resolves to every active user.
	VoterAny VoterKind = "ANY"
	// VoterGroup resolves to the active members of the listed groups.
	VoterGroup VoterKind = "GROUP"
	// VoterUsers resolves to an explicit id set.
	VoterUsers VoterKind = "USERS"
	// VoterProposer resolves to the request's own requester.
	VoterProposer VoterKind = "PROPOSER"
	// VoterOwner resolves to the owners of the account the operation targets.
	VoterOwner VoterKind = "OWNER"
)

// VoterSpecifier names a set of identities eligible to vote. Resolution to
// concrete ids happens at evaluation time, against current membership.
type VoterSpecifier struct {
	Kind VoterKind   `json:"kind"`
	IDs  []uuid.UUID `json:"ids,omitempty"`
}

// CriteriaKind tags the criteria expression union.
type CriteriaKind string

const (
	CriteriaAutoAdopted            CriteriaKind = "AUTO_ADOPTED"
	CriteriaApprovalThreshold      CriteriaKind = "APPROVAL_THRESHOLD"
	CriteriaMinimumVotes           CriteriaKind = "MINIMUM_VOTES"
	CriteriaAnd                    CriteriaKind = "AND"
	CriteriaOr                     CriteriaKind = "OR"
	CriteriaNot                    CriteriaKind = "NOT"
	CriteriaNamedRule              CriteriaKind = "NAMED_RULE"
	CriteriaHasAddressBookMetadata CriteriaKind = "HAS_ADDRESS_BOOK_METADATA"
	CriteriaExpression             CriteriaKind = "EXPRESSION"
)

// ApprovalThresholdCriteria adopts once the accepted fraction of the
// resolved voter set reaches Percentage (0–100, integer arithmetic).
type ApprovalThresholdCriteria struct {
	Voters     VoterSpecifier `json:"voters"`
	Percentage uint8          `json:"percentage"`
}

// MinimumVotesCriteria adopts once Minimum accepted votes are in.
type MinimumVotesCriteria struct {
	Voters  VoterSpecifier `json:"voters"`
	Minimum uint32         `json:"minimum"`
}

// MetadataPredicate adopts when the transfer destination has a matching
// address-book metadata entry. Value empty means "key present".
type MetadataPredicate struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// Criteria is the recursive boolean/quorum expression tree that decides
// adoption. Exactly the fields implied by Kind are set.
type Criteria struct {
	Kind CriteriaKind `json:"kind"`

	Threshold  *ApprovalThresholdCriteria `json:"threshold,omitempty"`
	Minimum    *MinimumVotesCriteria      `json:"minimum,omitempty"`
	Children   []Criteria                 `json:"children,omitempty"`
	Child      *Criteria                  `json:"child,omitempty"`
	RuleID     *uuid.UUID                 `json:"rule_id,omitempty"`
	Metadata   *MetadataPredicate         `json:"metadata,omitempty"`
	Expression string                     `json:"expression,omitempty"`
}

// NamedRule is a reusable criteria node addressed by id. Rules may reference
// other rules; edits that would create a reference cycle are rejected.
type NamedRule struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Criteria Criteria  `json:"criteria"`
}

// TargetKind filters which entity ids a policy specifier governs.
type TargetKind string

const (
	TargetAny    TargetKind = "ANY"
	TargetIDs    TargetKind = "IDS"
	TargetGroups TargetKind = "GROUPS"
)

// ResourceTarget narrows a specifier to specific entity ids or to entities
// owned by members of specific groups.
type ResourceTarget struct {
	Kind TargetKind  `json:"kind"`
	IDs  []uuid.UUID `json:"ids,omitempty"`
}

// RequestSpecifier selects which requests a policy governs: an operation
// type plus an optional target filter. Matching is computed from the
// current operation payload, never cached.
type RequestSpecifier struct {
	OperationType OperationType  `json:"operation_type"`
	Target        ResourceTarget `json:"target"`
}

// RequestPolicy binds a specifier to the criteria that must be satisfied
// for the requests it governs.
type RequestPolicy struct {
	ID        uuid.UUID        `json:"id"`
	Specifier RequestSpecifier `json:"specifier"`
	Criteria  Criteria         `json:"criteria"`
}
