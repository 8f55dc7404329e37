package contracts

import (
	"time"

	"github.com/google/uuid"
)

// OperationType tags the closed set of operation variants.
type OperationType string

const (
	OpAddAccount             OperationType = "ADD_ACCOUNT"
	OpEditAccount            OperationType = "EDIT_ACCOUNT"
	OpTransfer               OperationType = "TRANSFER"
	OpAddUser                OperationType = "ADD_USER"
	OpEditUser               OperationType = "EDIT_USER"
	OpAddUserGroup           OperationType = "ADD_USER_GROUP"
	OpEditUserGroup          OperationType = "EDIT_USER_GROUP"
	OpRemoveUserGroup        OperationType = "REMOVE_USER_GROUP"
	OpAddAddressBookEntry    OperationType = "ADD_ADDRESS_BOOK_ENTRY"
	OpEditAddressBookEntry   OperationType = "EDIT_ADDRESS_BOOK_ENTRY"
	OpRemoveAddressBookEntry OperationType = "REMOVE_ADDRESS_BOOK_ENTRY"
	OpAddRequestPolicy       OperationType = "ADD_REQUEST_POLICY"
	OpEditRequestPolicy      OperationType = "EDIT_REQUEST_POLICY"
	OpRemoveRequestPolicy    OperationType = "REMOVE_REQUEST_POLICY"
	OpSystemUpgrade          OperationType = "SYSTEM_UPGRADE"
)

// AllOperationTypes enumerates every variant; the registry checks it is
// exhaustive at construction time.
func AllOperationTypes() []OperationType {
	return []OperationType{
		OpAddAccount, OpEditAccount, OpTransfer,
		OpAddUser, OpEditUser,
		OpAddUserGroup, OpEditUserGroup, OpRemoveUserGroup,
		OpAddAddressBookEntry, OpEditAddressBookEntry, OpRemoveAddressBookEntry,
		OpAddRequestPolicy, OpEditRequestPolicy, OpRemoveRequestPolicy,
		OpSystemUpgrade,
	}
}

// Operation is the closed tagged union of everything a request can do.
// Exactly one variant pointer is set, matching Type. Each variant carries
// its typed input and, once executed, the id of the entity it created or
// affected.
type Operation struct {
	Type OperationType `json:"type"`

	AddAccount             *AddAccountOperation             `json:"add_account,omitempty"`
	EditAccount            *EditAccountOperation            `json:"edit_account,omitempty"`
	Transfer               *TransferOperation               `json:"transfer,omitempty"`
	AddUser                *AddUserOperation                `json:"add_user,omitempty"`
	EditUser               *EditUserOperation               `json:"edit_user,omitempty"`
	AddUserGroup           *AddUserGroupOperation           `json:"add_user_group,omitempty"`
	EditUserGroup          *EditUserGroupOperation          `json:"edit_user_group,omitempty"`
	RemoveUserGroup        *RemoveUserGroupOperation        `json:"remove_user_group,omitempty"`
	AddAddressBookEntry    *AddAddressBookEntryOperation    `json:"add_address_book_entry,omitempty"`
	EditAddressBookEntry   *EditAddressBookEntryOperation   `json:"edit_address_book_entry,omitempty"`
	RemoveAddressBookEntry *RemoveAddressBookEntryOperation `json:"remove_address_book_entry,omitempty"`
	AddRequestPolicy       *AddRequestPolicyOperation       `json:"add_request_policy,omitempty"`
	EditRequestPolicy      *EditRequestPolicyOperation      `json:"edit_request_policy,omitempty"`
	RemoveRequestPolicy    *RemoveRequestPolicyOperation    `json:"remove_request_policy,omitempty"`
	SystemUpgrade          *SystemUpgradeOperation          `json:"system_upgrade,omitempty"`
}

// ── Account operations ──────────────────────────────────────────────────────

// AddAccountInput creates a treasury account on one blockchain.
type AddAccountInput struct {
	Name       string      `json:"name"`
	Blockchain string      `json:"blockchain"`
	Standard   string      `json:"standard,omitempty"`
	OwnerIDs   []uuid.UUID `json:"owner_ids"`
}

type AddAccountOperation struct {
	Input AddAccountInput `json:"input"`
	// AccountID is set by the executor once the account exists.
	AccountID *uuid.UUID `json:"account_id,omitempty"`
}

type EditAccountInput struct {
	AccountID uuid.UUID    `json:"account_id"`
	Name      *string      `json:"name,omitempty"`
	OwnerIDs  *[]uuid.UUID `json:"owner_ids,omitempty"`
}

type EditAccountOperation struct {
	Input EditAccountInput `json:"input"`
}

// ── Transfer ────────────────────────────────────────────────────────────────

// TransferInput moves value from a station account to an external address.
// Amount and fee are in the asset's smallest unit.
type TransferInput struct {
	FromAccountID uuid.UUID `json:"from_account_id"`
	To            string    `json:"to"`
	Amount        uint64    `json:"amount"`
	Fee           *uint64   `json:"fee,omitempty"`
	Memo          *string   `json:"memo,omitempty"`
}

type TransferOperation struct {
	Input TransferInput `json:"input"`
	// TransferID links the pending transfer record created alongside the
	// request; expiration cascades cancel through it.
	TransferID *uuid.UUID `json:"transfer_id,omitempty"`
	// LedgerTransactionHash is recorded after a successful submission.
	LedgerTransactionHash string `json:"ledger_transaction_hash,omitempty"`
}

// ── User and group operations ───────────────────────────────────────────────

// UserStatus gates voting eligibility: only Active users may vote.
type UserStatus string

const (
	UserStatusActive   UserStatus = "ACTIVE"
	UserStatusInactive UserStatus = "INACTIVE"
)

type AddUserInput struct {
	Name       string      `json:"name"`
	Principals []string    `json:"principals"`
	GroupIDs   []uuid.UUID `json:"group_ids,omitempty"`
	Status     UserStatus  `json:"status"`
}

type AddUserOperation struct {
	Input  AddUserInput `json:"input"`
	UserID *uuid.UUID   `json:"user_id,omitempty"`
}

type EditUserInput struct {
	UserID   uuid.UUID    `json:"user_id"`
	Name     *string      `json:"name,omitempty"`
	GroupIDs *[]uuid.UUID `json:"group_ids,omitempty"`
	Status   *UserStatus  `json:"status,omitempty"`
}

type EditUserOperation struct {
	Input EditUserInput `json:"input"`
}

type AddUserGroupInput struct {
	Name string `json:"name"`
}

type AddUserGroupOperation struct {
	Input       AddUserGroupInput `json:"input"`
	UserGroupID *uuid.UUID        `json:"user_group_id,omitempty"`
}

type EditUserGroupInput struct {
	GroupID uuid.UUID `json:"group_id"`
	Name    string    `json:"name"`
}

type EditUserGroupOperation struct {
	Input EditUserGroupInput `json:"input"`
}

type RemoveUserGroupInput struct {
	GroupID uuid.UUID `json:"group_id"`
}

type RemoveUserGroupOperation struct {
	Input RemoveUserGroupInput `json:"input"`
}

// ── Address book operations ─────────────────────────────────────────────────

type AddAddressBookEntryInput struct {
	OwnerName  string            `json:"owner_name"`
	Blockchain string            `json:"blockchain"`
	Address    string            `json:"address"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type AddAddressBookEntryOperation struct {
	Input   AddAddressBookEntryInput `json:"input"`
	EntryID *uuid.UUID               `json:"entry_id,omitempty"`
}

type EditAddressBookEntryInput struct {
	EntryID  uuid.UUID         `json:"entry_id"`
	Metadata map[string]string `json:"metadata"`
}

type EditAddressBookEntryOperation struct {
	Input EditAddressBookEntryInput `json:"input"`
}

type RemoveAddressBookEntryInput struct {
	EntryID uuid.UUID `json:"entry_id"`
}

type RemoveAddressBookEntryOperation struct {
	Input RemoveAddressBookEntryInput `json:"input"`
}

// ── Policy operations ───────────────────────────────────────────────────────

type AddRequestPolicyInput struct {
	Specifier RequestSpecifier `json:"specifier"`
	Criteria  Criteria         `json:"criteria"`
}

type AddRequestPolicyOperation struct {
	Input    AddRequestPolicyInput `json:"input"`
	PolicyID *uuid.UUID            `json:"policy_id,omitempty"`
}

type EditRequestPolicyInput struct {
	PolicyID  uuid.UUID         `json:"policy_id"`
	Specifier *RequestSpecifier `json:"specifier,omitempty"`
	Criteria  *Criteria         `json:"criteria,omitempty"`
}

type EditRequestPolicyOperation struct {
	Input EditRequestPolicyInput `json:"input"`
}

type RemoveRequestPolicyInput struct {
	PolicyID uuid.UUID `json:"policy_id"`
}

type RemoveRequestPolicyOperation struct {
	Input RemoveRequestPolicyInput `json:"input"`
}

// ── System upgrade ──────────────────────────────────────────────────────────

// SystemUpgradeInput upgrades the station module itself. The external effect
// is asynchronous: the executor dispatches the upgrade, and a later health
// check confirms completion.
type SystemUpgradeInput struct {
	TargetVersion string `json:"target_version"`
	ModuleHash    string `json:"module_hash,omitempty"`
}

// UpgradePhase is the two-phase marker that makes a crash between dispatch
// and confirmation recoverable from the persisted record.
type UpgradePhase string

const (
	UpgradePhaseDispatched UpgradePhase = "DISPATCHED"
	UpgradePhaseConfirmed  UpgradePhase = "CONFIRMED"
)

type SystemUpgradeOperation struct {
	Input SystemUpgradeInput `json:"input"`
	Phase UpgradePhase       `json:"phase,omitempty"`
}

// ScheduledDeadline returns the explicit execution time of the plan, or
// fallback when the plan is immediate.
func (p ExecutionPlan) ScheduledDeadline(fallback time.Time) time.Time {
	if p.Mode == ExecutionScheduledAt && p.At != nil {
		return *p.At
	}
	return fallback
}
