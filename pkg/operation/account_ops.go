package operation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/covault/station/pkg/contracts"
	"github.com/covault/station/pkg/resource"
)

type addAccountHandler struct {
	deps Deps
}

func (h *addAccountHandler) Create(ctx context.Context, _ uuid.UUID, op contracts.Operation) (contracts.Operation, error) {
	if op.AddAccount == nil {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "add-account operation needs input")
	}
	in := op.AddAccount.Input
	if in.Name == "" {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "account name must not be empty")
	}
	if in.Blockchain == "" {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "account blockchain must not be empty")
	}
	if len(in.OwnerIDs) == 0 {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "account needs at least one owner")
	}
	for _, owner := range in.OwnerIDs {
		if _, err := h.deps.Users.Get(ctx, owner); err != nil {
			return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "account owner %s is not a member", owner)
		}
	}
	return op, nil
}

func (h *addAccountHandler) Resources(contracts.Operation) []resource.Resource {
	return []resource.Resource{{Kind: resource.KindAccount, Action: resource.ActionCreate, ID: resource.AnyID}}
}

func (h *addAccountHandler) Execute(ctx context.Context, req *contracts.Request) (Outcome, error) {
	op := req.Operation
	in := op.AddAccount.Input
	address, err := h.deps.Gateway.GenerateAddress(ctx, in.Blockchain, req.ID.String())
	if err != nil {
		return Outcome{}, fmt.Errorf("generate address: %w", err)
	}
	account, err := h.deps.Accounts.Create(ctx, in, address)
	if err != nil {
		return Outcome{}, err
	}
	op.AddAccount.AccountID = &account.ID
	return Outcome{State: OutcomeCompleted, Operation: op}, nil
}

type editAccountHandler struct {
	deps Deps
}

func (h *editAccountHandler) Create(ctx context.Context, _ uuid.UUID, op contracts.Operation) (contracts.Operation, error) {
	if op.EditAccount == nil {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "edit-account operation needs input")
	}
	in := op.EditAccount.Input
	if _, err := h.deps.Accounts.Get(ctx, in.AccountID); err != nil {
		return contracts.Operation{}, err
	}
	if in.Name == nil && in.OwnerIDs == nil {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "edit-account operation changes nothing")
	}
	return op, nil
}

func (h *editAccountHandler) Resources(op contracts.Operation) []resource.Resource {
	id := resource.AnyID
	if op.EditAccount != nil {
		id = op.EditAccount.Input.AccountID
	}
	return []resource.Resource{{Kind: resource.KindAccount, Action: resource.ActionUpdate, ID: id}}
}

func (h *editAccountHandler) Execute(ctx context.Context, req *contracts.Request) (Outcome, error) {
	op := req.Operation
	if _, err := h.deps.Accounts.Edit(ctx, op.EditAccount.Input); err != nil {
		return Outcome{}, err
	}
	return Outcome{State: OutcomeCompleted, Operation: op}, nil
}
