// Package operation implements the polymorphic operation family as a closed
// registry: one handler per operation type, each knowing how to construct
// its payload from a creation request, contribute resources for policy
// matching, and execute once the request is adopted.
package operation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/covault/station/pkg/contracts"
	"github.com/covault/station/pkg/criteria"
	"github.com/covault/station/pkg/gateway"
	"github.com/covault/station/pkg/policy"
	"github.com/covault/station/pkg/resource"
	"github.com/covault/station/pkg/services"
)

// OutcomeState distinguishes finished executions from ones whose external
// effect is itself asynchronous.
type OutcomeState int

const (
	// OutcomeCompleted means the effect happened; the request terminates.
	OutcomeCompleted OutcomeState = iota
	// OutcomeProcessing means the effect was dispatched; the execution step will
	// re-invoke the handler until it confirms (bounded by the pipeline).
	OutcomeProcessing
)

// Outcome carries the execution result and the updated operation payload.
type Outcome struct {
	State     OutcomeState
	Operation contracts.Operation
}

// Handler is implemented once per operation variant.
type Handler interface {
	// Create validates the input and produces the initial operation payload.
	// It may create linked sub-entities (a pending transfer record) but must
	// not perform the governed effect itself.
	Create(ctx context.Context, requestID uuid.UUID, op contracts.Operation) (contracts.Operation, error)
	// Resources lists the resources the operation touches. Computed from the
	// current payload on every call, never cached.
	Resources(op contracts.Operation) []resource.Resource
	// Execute performs the adopted operation.
	Execute(ctx context.Context, req *contracts.Request) (Outcome, error)
}

// Deps wires the collaborators executors may call.
type Deps struct {
	Accounts    *services.AccountService
	Users       *services.UserService
	Groups      *services.UserGroupService
	AddressBook *services.AddressBookService
	Transfers   *services.TransferService
	Policies    *policy.Repository
	Engine      *criteria.Engine
	Gateway     gateway.Gateway
	Clock       contracts.Clock

	// CurrentVersion is the running station version, for upgrade
	// no-downgrade checks.
	CurrentVersion string
	// HealthCheck confirms an upgrade's second phase. Nil means healthy.
	HealthCheck func(ctx context.Context) error
}

// Registry dispatches on the operation tag. Construction fails unless every
// operation type has a handler, so adding a variant without wiring it is
// caught at startup.
type Registry struct {
	handlers map[contracts.OperationType]Handler
}

func NewRegistry(deps Deps) (*Registry, error) {
	handlers := map[contracts.OperationType]Handler{
		contracts.OpAddAccount:             &addAccountHandler{deps: deps},
		contracts.OpEditAccount:            &editAccountHandler{deps: deps},
		contracts.OpTransfer:               &transferHandler{deps: deps},
		contracts.OpAddUser:                &addUserHandler{deps: deps},
		contracts.OpEditUser:               &editUserHandler{deps: deps},
		contracts.OpAddUserGroup:           &addUserGroupHandler{deps: deps},
		contracts.OpEditUserGroup:          &editUserGroupHandler{deps: deps},
		contracts.OpRemoveUserGroup:        &removeUserGroupHandler{deps: deps},
		contracts.OpAddAddressBookEntry:    &addAddressBookEntryHandler{deps: deps},
		contracts.OpEditAddressBookEntry:   &editAddressBookEntryHandler{deps: deps},
		contracts.OpRemoveAddressBookEntry: &removeAddressBookEntryHandler{deps: deps},
		contracts.OpAddRequestPolicy:       &addRequestPolicyHandler{deps: deps},
		contracts.OpEditRequestPolicy:      &editRequestPolicyHandler{deps: deps},
		contracts.OpRemoveRequestPolicy:    &removeRequestPolicyHandler{deps: deps},
		contracts.OpSystemUpgrade:          &systemUpgradeHandler{deps: deps},
	}
	for _, typ := range contracts.AllOperationTypes() {
		if _, ok := handlers[typ]; !ok {
			return nil, fmt.Errorf("operation type %s has no handler", typ)
		}
	}
	return &Registry{handlers: handlers}, nil
}

func (r *Registry) handler(typ contracts.OperationType) (Handler, error) {
	h, ok := r.handlers[typ]
	if !ok {
		return nil, contracts.NewError(contracts.ErrKindUnknownOperation, "unknown operation type %q", typ)
	}
	return h, nil
}

// Create dispatches payload construction and validation.
func (r *Registry) Create(ctx context.Context, requestID uuid.UUID, op contracts.Operation) (contracts.Operation, error) {
	h, err := r.handler(op.Type)
	if err != nil {
		return contracts.Operation{}, err
	}
	return h.Create(ctx, requestID, op)
}

// Resources dispatches resource contribution.
func (r *Registry) Resources(op contracts.Operation) ([]resource.Resource, error) {
	h, err := r.handler(op.Type)
	if err != nil {
		return nil, err
	}
	return h.Resources(op), nil
}

// Execute dispatches execution of an adopted request.
func (r *Registry) Execute(ctx context.Context, req *contracts.Request) (Outcome, error) {
	h, err := r.handler(req.Operation.Type)
	if err != nil {
		return Outcome{}, err
	}
	return h.Execute(ctx, req)
}
