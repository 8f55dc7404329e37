// Package services holds the station's collaborator services: accounts,
// users, user groups, the address book, and transfer records. Executors call
// them during operation execution; the criteria engine consults them to
// resolve voter sets. All state lives in indexstore maps.
package services

import (
	"time"

	"github.com/google/uuid"

	"github.com/covault/station/pkg/contracts"
)

// Account is a treasury account on one blockchain.
type Account struct {
	ID             uuid.UUID   `json:"id"`
	Name           string      `json:"name"`
	Blockchain     string      `json:"blockchain"`
	Standard       string      `json:"standard,omitempty"`
	Address        string      `json:"address"`
	OwnerIDs       []uuid.UUID `json:"owner_ids"`
	CreatedAt      time.Time   `json:"created_at"`
	LastModifiedAt time.Time   `json:"last_modified_at"`
}

// User is a station member. Only active users vote.
type User struct {
	ID             uuid.UUID            `json:"id"`
	Name           string               `json:"name"`
	Principals     []string             `json:"principals"`
	GroupIDs       []uuid.UUID          `json:"group_ids,omitempty"`
	Status         contracts.UserStatus `json:"status"`
	CreatedAt      time.Time            `json:"created_at"`
	LastModifiedAt time.Time            `json:"last_modified_at"`
}

// UserGroup is a named membership set referenced by policies.
type UserGroup struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// AddressBookEntry names and annotates an external address.
type AddressBookEntry struct {
	ID         uuid.UUID         `json:"id"`
	OwnerName  string            `json:"owner_name"`
	Blockchain string            `json:"blockchain"`
	Address    string            `json:"address"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// TransferStatus tracks the linked transfer record from request creation
// through submission.
type TransferStatus string

const (
	TransferPending   TransferStatus = "PENDING"
	TransferCompleted TransferStatus = "COMPLETED"
	TransferFailed    TransferStatus = "FAILED"
	TransferCancelled TransferStatus = "CANCELLED"
)

// TransferRecord is the durable sub-entity of a transfer request. It exists
// from request creation so an expiring request has something to cascade its
// cancellation into.
type TransferRecord struct {
	ID             uuid.UUID      `json:"id"`
	RequestID      uuid.UUID      `json:"request_id"`
	FromAccountID  uuid.UUID      `json:"from_account_id"`
	To             string         `json:"to"`
	Amount         uint64         `json:"amount"`
	Fee            uint64         `json:"fee"`
	Memo           string         `json:"memo,omitempty"`
	Status         TransferStatus `json:"status"`
	Reason         string         `json:"reason,omitempty"`
	LedgerHash     string         `json:"ledger_hash,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastModifiedAt time.Time      `json:"last_modified_at"`
}
