package operation

import (
	"context"

	"github.com/google/uuid"

	"github.com/covault/station/pkg/contracts"
	"github.com/covault/station/pkg/resource"
)

type addUserHandler struct {
	deps Deps
}

func (h *addUserHandler) Create(ctx context.Context, _ uuid.UUID, op contracts.Operation) (contracts.Operation, error) {
	if op.AddUser == nil {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "add-user operation needs input")
	}
	in := op.AddUser.Input
	if in.Name == "" {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "user name must not be empty")
	}
	if len(in.Principals) == 0 {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "user needs at least one principal")
	}
	for _, gid := range in.GroupIDs {
		if _, err := h.deps.Groups.Get(ctx, gid); err != nil {
			return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "user group %s does not exist", gid)
		}
	}
	return op, nil
}

func (h *addUserHandler) Resources(contracts.Operation) []resource.Resource {
	return []resource.Resource{{Kind: resource.KindUser, Action: resource.ActionCreate, ID: resource.AnyID}}
}

func (h *addUserHandler) Execute(ctx context.Context, req *contracts.Request) (Outcome, error) {
	op := req.Operation
	u, err := h.deps.Users.Create(ctx, op.AddUser.Input)
	if err != nil {
		return Outcome{}, err
	}
	op.AddUser.UserID = &u.ID
	return Outcome{State: OutcomeCompleted, Operation: op}, nil
}

type editUserHandler struct {
	deps Deps
}

func (h *editUserHandler) Create(ctx context.Context, _ uuid.UUID, op contracts.Operation) (contracts.Operation, error) {
	if op.EditUser == nil {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "edit-user operation needs input")
	}
	in := op.EditUser.Input
	if _, err := h.deps.Users.Get(ctx, in.UserID); err != nil {
		return contracts.Operation{}, err
	}
	if in.Name == nil && in.GroupIDs == nil && in.Status == nil {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "edit-user operation changes nothing")
	}
	if in.GroupIDs != nil {
		for _, gid := range *in.GroupIDs {
			if _, err := h.deps.Groups.Get(ctx, gid); err != nil {
				return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "user group %s does not exist", gid)
			}
		}
	}
	return op, nil
}

func (h *editUserHandler) Resources(op contracts.Operation) []resource.Resource {
	id := resource.AnyID
	if op.EditUser != nil {
		id = op.EditUser.Input.UserID
	}
	return []resource.Resource{{Kind: resource.KindUser, Action: resource.ActionUpdate, ID: id}}
}

func (h *editUserHandler) Execute(ctx context.Context, req *contracts.Request) (Outcome, error) {
	op := req.Operation
	if _, err := h.deps.Users.Edit(ctx, op.EditUser.Input); err != nil {
		return Outcome{}, err
	}
	return Outcome{State: OutcomeCompleted, Operation: op}, nil
}
