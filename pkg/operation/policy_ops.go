package operation

import (
	"context"

	"github.com/google/uuid"

	"github.com/covault/station/pkg/contracts"
	"github.com/covault/station/pkg/resource"
)

type addRequestPolicyHandler struct {
	deps Deps
}

func (h *addRequestPolicyHandler) Create(ctx context.Context, _ uuid.UUID, op contracts.Operation) (contracts.Operation, error) {
	if op.AddRequestPolicy == nil {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "add-request-policy operation needs input")
	}
	if err := h.deps.Engine.ValidateCriteria(op.AddRequestPolicy.Input.Criteria); err != nil {
		return contracts.Operation{}, err
	}
	return op, nil
}

func (h *addRequestPolicyHandler) Resources(contracts.Operation) []resource.Resource {
	return []resource.Resource{{Kind: resource.KindRequestPolicy, Action: resource.ActionCreate, ID: resource.AnyID}}
}

func (h *addRequestPolicyHandler) Execute(ctx context.Context, req *contracts.Request) (Outcome, error) {
	op := req.Operation
	p := contracts.RequestPolicy{
		ID:        uuid.New(),
		Specifier: op.AddRequestPolicy.Input.Specifier,
		Criteria:  op.AddRequestPolicy.Input.Criteria,
	}
	if err := h.deps.Policies.AddPolicy(ctx, p); err != nil {
		return Outcome{}, err
	}
	op.AddRequestPolicy.PolicyID = &p.ID
	return Outcome{State: OutcomeCompleted, Operation: op}, nil
}

type editRequestPolicyHandler struct {
	deps Deps
}

func (h *editRequestPolicyHandler) Create(ctx context.Context, _ uuid.UUID, op contracts.Operation) (contracts.Operation, error) {
	if op.EditRequestPolicy == nil {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "edit-request-policy operation needs input")
	}
	in := op.EditRequestPolicy.Input
	if _, err := h.deps.Policies.GetPolicy(ctx, in.PolicyID); err != nil {
		return contracts.Operation{}, err
	}
	if in.Specifier == nil && in.Criteria == nil {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "edit-request-policy operation changes nothing")
	}
	if in.Criteria != nil {
		if err := h.deps.Engine.ValidateCriteria(*in.Criteria); err != nil {
			return contracts.Operation{}, err
		}
	}
	return op, nil
}

func (h *editRequestPolicyHandler) Resources(op contracts.Operation) []resource.Resource {
	id := resource.AnyID
	if op.EditRequestPolicy != nil {
		id = op.EditRequestPolicy.Input.PolicyID
	}
	return []resource.Resource{{Kind: resource.KindRequestPolicy, Action: resource.ActionUpdate, ID: id}}
}

func (h *editRequestPolicyHandler) Execute(ctx context.Context, req *contracts.Request) (Outcome, error) {
	op := req.Operation
	in := op.EditRequestPolicy.Input
	if _, err := h.deps.Policies.EditPolicy(ctx, in.PolicyID, in.Specifier, in.Criteria); err != nil {
		return Outcome{}, err
	}
	return Outcome{State: OutcomeCompleted, Operation: op}, nil
}

type removeRequestPolicyHandler struct {
	deps Deps
}

func (h *removeRequestPolicyHandler) Create(ctx context.Context, _ uuid.UUID, op contracts.Operation) (contracts.Operation, error) {
	if op.RemoveRequestPolicy == nil {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "remove-request-policy operation needs input")
	}
	if _, err := h.deps.Policies.GetPolicy(ctx, op.RemoveRequestPolicy.Input.PolicyID); err != nil {
		return contracts.Operation{}, err
	}
	return op, nil
}

func (h *removeRequestPolicyHandler) Resources(op contracts.Operation) []resource.Resource {
	id := resource.AnyID
	if op.RemoveRequestPolicy != nil {
		id = op.RemoveRequestPolicy.Input.PolicyID
	}
	return []resource.Resource{{Kind: resource.KindRequestPolicy, Action: resource.ActionDelete, ID: id}}
}

func (h *removeRequestPolicyHandler) Execute(ctx context.Context, req *contracts.Request) (Outcome, error) {
	op := req.Operation
	if err := h.deps.Policies.RemovePolicy(ctx, op.RemoveRequestPolicy.Input.PolicyID); err != nil {
		return Outcome{}, err
	}
	return Outcome{State: OutcomeCompleted, Operation: op}, nil
}
