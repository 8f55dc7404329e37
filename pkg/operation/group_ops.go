package operation

import (
	"context"

	"github.com/google/uuid"

	"github.com/covault/station/pkg/contracts"
	"github.com/covault/station/pkg/resource"
)

type addUserGroupHandler struct {
	deps Deps
}

func (h *addUserGroupHandler) Create(ctx context.Context, _ uuid.UUID, op contracts.Operation) (contracts.Operation, error) {
	if op.AddUserGroup == nil {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "add-user-group operation needs input")
	}
	if op.AddUserGroup.Input.Name == "" {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "group name must not be empty")
	}
	return op, nil
}

func (h *addUserGroupHandler) Resources(contracts.Operation) []resource.Resource {
	return []resource.Resource{{Kind: resource.KindUserGroup, Action: resource.ActionCreate, ID: resource.AnyID}}
}

func (h *addUserGroupHandler) Execute(ctx context.Context, req *contracts.Request) (Outcome, error) {
	op := req.Operation
	g, err := h.deps.Groups.Create(ctx, op.AddUserGroup.Input)
	if err != nil {
		return Outcome{}, err
	}
	op.AddUserGroup.UserGroupID = &g.ID
	return Outcome{State: OutcomeCompleted, Operation: op}, nil
}

type editUserGroupHandler struct {
	deps Deps
}

func (h *editUserGroupHandler) Create(ctx context.Context, _ uuid.UUID, op contracts.Operation) (contracts.Operation, error) {
	if op.EditUserGroup == nil {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "edit-user-group operation needs input")
	}
	in := op.EditUserGroup.Input
	if _, err := h.deps.Groups.Get(ctx, in.GroupID); err != nil {
		return contracts.Operation{}, err
	}
	if in.Name == "" {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "group name must not be empty")
	}
	return op, nil
}

func (h *editUserGroupHandler) Resources(op contracts.Operation) []resource.Resource {
	id := resource.AnyID
	if op.EditUserGroup != nil {
		id = op.EditUserGroup.Input.GroupID
	}
	return []resource.Resource{{Kind: resource.KindUserGroup, Action: resource.ActionUpdate, ID: id}}
}

func (h *editUserGroupHandler) Execute(ctx context.Context, req *contracts.Request) (Outcome, error) {
	op := req.Operation
	if _, err := h.deps.Groups.Edit(ctx, op.EditUserGroup.Input); err != nil {
		return Outcome{}, err
	}
	return Outcome{State: OutcomeCompleted, Operation: op}, nil
}

type removeUserGroupHandler struct {
	deps Deps
}

func (h *removeUserGroupHandler) Create(ctx context.Context, _ uuid.UUID, op contracts.Operation) (contracts.Operation, error) {
	if op.RemoveUserGroup == nil {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "remove-user-group operation needs input")
	}
	if _, err := h.deps.Groups.Get(ctx, op.RemoveUserGroup.Input.GroupID); err != nil {
		return contracts.Operation{}, err
	}
	return op, nil
}

func (h *removeUserGroupHandler) Resources(op contracts.Operation) []resource.Resource {
	id := resource.AnyID
	if op.RemoveUserGroup != nil {
		id = op.RemoveUserGroup.Input.GroupID
	}
	return []resource.Resource{{Kind: resource.KindUserGroup, Action: resource.ActionDelete, ID: id}}
}

func (h *removeUserGroupHandler) Execute(ctx context.Context, req *contracts.Request) (Outcome, error) {
	op := req.Operation
	if err := h.deps.Groups.Remove(ctx, op.RemoveUserGroup.Input.GroupID); err != nil {
		return Outcome{}, err
	}
	return Outcome{State: OutcomeCompleted, Operation: op}, nil
}
