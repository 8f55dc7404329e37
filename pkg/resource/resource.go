// Package resource is the closed, hierarchical tagging of things a request
// can act upon. Resources tag requests for secondary indexing and are matched
// against policy specifiers. They are totally ordered (kind, then action,
// then id bytes) so they can serve as range-scan keys.
package resource

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// Kind is the entity class a resource refers to.
type Kind uint8

const (
	KindAccount Kind = iota + 1
	KindUser
	KindUserGroup
	KindAddressBook
	KindRequest
	KindRequestPolicy
	KindSystem
	KindExternalCanister
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindAccount:
		return "Account"
	case KindUser:
		return "User"
	case KindUserGroup:
		return "UserGroup"
	case KindAddressBook:
		return "AddressBook"
	case KindRequest:
		return "Request"
	case KindRequestPolicy:
		return "RequestPolicy"
	case KindSystem:
		return "System"
	case KindExternalCanister:
		return "ExternalCanister"
	case KindNotification:
		return "Notification"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Action is what is being done to the entity.
type Action uint8

const (
	ActionList Action = iota + 1
	ActionCreate
	ActionRead
	ActionUpdate
	ActionDelete
	ActionTransfer
	ActionFund
	ActionCall
	ActionUpgrade
)

func (a Action) String() string {
	switch a {
	case ActionList:
		return "List"
	case ActionCreate:
		return "Create"
	case ActionRead:
		return "Read"
	case ActionUpdate:
		return "Update"
	case ActionDelete:
		return "Delete"
	case ActionTransfer:
		return "Transfer"
	case ActionFund:
		return "Fund"
	case ActionCall:
		return "Call"
	case ActionUpgrade:
		return "Upgrade"
	}
	return fmt.Sprintf("Action(%d)", uint8(a))
}

// AnyID is the wildcard entity id: a resource carrying AnyID refers to every
// entity of its kind, and a specifier carrying it matches any candidate.
var AnyID = uuid.Nil

// Resource is a (kind, action, id) tag. ID may be AnyID.
type Resource struct {
	Kind   Kind      `json:"kind"`
	Action Action    `json:"action"`
	ID     uuid.UUID `json:"id"`
}

func (r Resource) String() string {
	if r.ID == AnyID {
		return fmt.Sprintf("%s.%s(*)", r.Kind, r.Action)
	}
	return fmt.Sprintf("%s.%s(%s)", r.Kind, r.Action, r.ID)
}

// keyLen is the fixed width of an encoded resource: kind, action, 16 id bytes.
const keyLen = 2 + 16

// Key encodes the resource as a fixed-width, order-preserving byte key.
func (r Resource) Key() []byte {
	k := make([]byte, 0, keyLen)
	k = append(k, byte(r.Kind), byte(r.Action))
	k = append(k, r.ID[:]...)
	return k
}

// Compare orders resources by kind, then action, then id bytes.
func (r Resource) Compare(other Resource) int {
	return bytes.Compare(r.Key(), other.Key())
}

// Min returns the smallest resource of a kind, the lower sentinel for a
// range scan across everything tagged with that kind.
func Min(kind Kind) Resource {
	return Resource{Kind: kind, Action: Action(0), ID: AnyID}
}

// Max returns the largest resource of a kind, the upper range-scan sentinel.
func Max(kind Kind) Resource {
	var maxID uuid.UUID
	for i := range maxID {
		maxID[i] = 0xFF
	}
	return Resource{Kind: kind, Action: Action(0xFF), ID: maxID}
}

// Matches reports whether candidate is covered by target. Kinds and actions
// must be equal; a target with AnyID covers every candidate id.
func Matches(candidate, target Resource) bool {
	if candidate.Kind != target.Kind || candidate.Action != target.Action {
		return false
	}
	return target.ID == AnyID || candidate.ID == target.ID
}
