// Package criteria evaluates a request policy's boolean/quorum expression
// tree against the current approval ballot of a request. Evaluation is pure
// and side-effect free: it can be re-run on every vote and by the scheduler
// and always yields the same result for the same inputs.
package criteria

import (
	"context"

	"github.com/google/uuid"
)

// VoterResolver resolves voter specifiers to concrete identity sets at
// evaluation time, against current membership. Inactive users never vote.
type VoterResolver interface {
	// AllActiveUsers returns every active user id.
	AllActiveUsers(ctx context.Context) ([]uuid.UUID, error)
	// GroupMembers returns the active members of a group.
	GroupMembers(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
	// FilterActive keeps only the ids that are active users.
	FilterActive(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
	// AccountOwners returns the owner ids of an account.
	AccountOwners(ctx context.Context, accountID uuid.UUID) ([]uuid.UUID, error)
}

// GroupResolver reports group membership for specifier target matching.
type GroupResolver interface {
	// UserGroups returns the groups a user belongs to.
	UserGroups(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// MetadataResolver looks up address-book metadata for the metadata
// predicate leaf.
type MetadataResolver interface {
	// AddressBookMetadata returns the metadata of the entry for an address,
	// or false when no entry exists.
	AddressBookMetadata(ctx context.Context, blockchain, address string) (map[string]string, bool, error)
}
