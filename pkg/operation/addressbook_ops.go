package operation

import (
	"context"

	"github.com/google/uuid"

	"github.com/covault/station/pkg/contracts"
	"github.com/covault/station/pkg/resource"
)

type addAddressBookEntryHandler struct {
	deps Deps
}

func (h *addAddressBookEntryHandler) Create(ctx context.Context, _ uuid.UUID, op contracts.Operation) (contracts.Operation, error) {
	if op.AddAddressBookEntry == nil {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "add-address-book-entry operation needs input")
	}
	in := op.AddAddressBookEntry.Input
	if in.Address == "" {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "address must not be empty")
	}
	if in.Blockchain == "" {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "blockchain must not be empty")
	}
	if existing, err := h.deps.AddressBook.FindByAddress(ctx, in.Address); err != nil {
		return contracts.Operation{}, err
	} else if existing != nil {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "address %s already has an entry", in.Address)
	}
	return op, nil
}

func (h *addAddressBookEntryHandler) Resources(contracts.Operation) []resource.Resource {
	return []resource.Resource{{Kind: resource.KindAddressBook, Action: resource.ActionCreate, ID: resource.AnyID}}
}

func (h *addAddressBookEntryHandler) Execute(ctx context.Context, req *contracts.Request) (Outcome, error) {
	op := req.Operation
	e, err := h.deps.AddressBook.Create(ctx, op.AddAddressBookEntry.Input)
	if err != nil {
		return Outcome{}, err
	}
	op.AddAddressBookEntry.EntryID = &e.ID
	return Outcome{State: OutcomeCompleted, Operation: op}, nil
}

type editAddressBookEntryHandler struct {
	deps Deps
}

func (h *editAddressBookEntryHandler) Create(ctx context.Context, _ uuid.UUID, op contracts.Operation) (contracts.Operation, error) {
	if op.EditAddressBookEntry == nil {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "edit-address-book-entry operation needs input")
	}
	if _, err := h.deps.AddressBook.Get(ctx, op.EditAddressBookEntry.Input.EntryID); err != nil {
		return contracts.Operation{}, err
	}
	return op, nil
}

func (h *editAddressBookEntryHandler) Resources(op contracts.Operation) []resource.Resource {
	id := resource.AnyID
	if op.EditAddressBookEntry != nil {
		id = op.EditAddressBookEntry.Input.EntryID
	}
	return []resource.Resource{{Kind: resource.KindAddressBook, Action: resource.ActionUpdate, ID: id}}
}

func (h *editAddressBookEntryHandler) Execute(ctx context.Context, req *contracts.Request) (Outcome, error) {
	op := req.Operation
	if _, err := h.deps.AddressBook.Edit(ctx, op.EditAddressBookEntry.Input); err != nil {
		return Outcome{}, err
	}
	return Outcome{State: OutcomeCompleted, Operation: op}, nil
}

type removeAddressBookEntryHandler struct {
	deps Deps
}

func (h *removeAddressBookEntryHandler) Create(ctx context.Context, _ uuid.UUID, op contracts.Operation) (contracts.Operation, error) {
	if op.RemoveAddressBookEntry == nil {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "remove-address-book-entry operation needs input")
	}
	if _, err := h.deps.AddressBook.Get(ctx, op.RemoveAddressBookEntry.Input.EntryID); err != nil {
		return contracts.Operation{}, err
	}
	return op, nil
}

func (h *removeAddressBookEntryHandler) Resources(op contracts.Operation) []resource.Resource {
	id := resource.AnyID
	if op.RemoveAddressBookEntry != nil {
		id = op.RemoveAddressBookEntry.Input.EntryID
	}
	return []resource.Resource{{Kind: resource.KindAddressBook, Action: resource.ActionDelete, ID: id}}
}

func (h *removeAddressBookEntryHandler) Execute(ctx context.Context, req *contracts.Request) (Outcome, error) {
	op := req.Operation
	if err := h.deps.AddressBook.Remove(ctx, op.RemoveAddressBookEntry.Input.EntryID); err != nil {
		return Outcome{}, err
	}
	return Outcome{State: OutcomeCompleted, Operation: op}, nil
}
