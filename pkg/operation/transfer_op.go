package operation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/covault/station/pkg/contracts"
	"github.com/covault/station/pkg/gateway"
	"github.com/covault/station/pkg/resource"
	"github.com/covault/station/pkg/services"
)

type transferHandler struct {
	deps Deps
}

// Create validates the transfer and registers the linked pending transfer
// record, so an expiring request has a sub-entity for the cancellation
// cascade. No value moves here.
func (h *transferHandler) Create(ctx context.Context, requestID uuid.UUID, op contracts.Operation) (contracts.Operation, error) {
	if op.Transfer == nil {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "transfer operation needs input")
	}
	in := op.Transfer.Input
	if in.Amount == 0 {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "transfer amount must be positive")
	}
	if in.To == "" {
		return contracts.Operation{}, contracts.NewError(contracts.ErrKindValidation, "transfer destination must not be empty")
	}
	if _, err := h.deps.Accounts.Get(ctx, in.FromAccountID); err != nil {
		return contracts.Operation{}, err
	}

	fee := uint64(0)
	if in.Fee != nil {
		fee = *in.Fee
	}
	record, err := h.deps.Transfers.Create(ctx, requestID, in, fee)
	if err != nil {
		return contracts.Operation{}, err
	}
	op.Transfer.TransferID = &record.ID
	return op, nil
}

func (h *transferHandler) Resources(op contracts.Operation) []resource.Resource {
	id := resource.AnyID
	if op.Transfer != nil {
		id = op.Transfer.Input.FromAccountID
	}
	return []resource.Resource{
		{Kind: resource.KindAccount, Action: resource.ActionTransfer, ID: id},
		{Kind: resource.KindAccount, Action: resource.ActionRead, ID: id},
	}
}

// Execute submits the transfer through the blockchain gateway. A gateway
// error marks the transfer record Failed and surfaces as the request's
// terminal failure reason; there is no retry loop and no value moves.
func (h *transferHandler) Execute(ctx context.Context, req *contracts.Request) (Outcome, error) {
	op := req.Operation
	in := op.Transfer.Input

	// The linked record commits before the request's own status does, so a
	// re-dispatch after a crash between those two writes must consult it
	// instead of submitting again. The record is the idempotence marker.
	if op.Transfer.TransferID != nil {
		record, err := h.deps.Transfers.Get(ctx, *op.Transfer.TransferID)
		if err != nil {
			return Outcome{}, err
		}
		switch record.Status {
		case services.TransferCompleted:
			op.Transfer.LedgerTransactionHash = record.LedgerHash
			return Outcome{State: OutcomeCompleted, Operation: op}, nil
		case services.TransferFailed:
			return Outcome{}, fmt.Errorf("gateway submission: %s", record.Reason)
		}
	}

	account, err := h.deps.Accounts.Get(ctx, in.FromAccountID)
	if err != nil {
		return Outcome{}, err
	}

	fee := uint64(0)
	if in.Fee != nil {
		fee = *in.Fee
	} else {
		fee, err = h.deps.Gateway.TransactionFee(ctx, account.Blockchain)
		if err != nil {
			return Outcome{}, fmt.Errorf("resolve transaction fee: %w", err)
		}
	}

	memo := ""
	if in.Memo != nil {
		memo = *in.Memo
	}
	submitted, err := h.deps.Gateway.SubmitTransaction(ctx, account.Address, gateway.TransferDetails{
		To:     in.To,
		Amount: in.Amount,
		Fee:    fee,
		Memo:   memo,
	})
	if err != nil {
		if op.Transfer.TransferID != nil {
			if _, setErr := h.deps.Transfers.SetStatus(ctx, *op.Transfer.TransferID, services.TransferFailed, err.Error(), ""); setErr != nil {
				return Outcome{}, fmt.Errorf("record transfer failure: %w", setErr)
			}
		}
		return Outcome{}, fmt.Errorf("gateway submission: %w", err)
	}

	if op.Transfer.TransferID != nil {
		if _, err := h.deps.Transfers.SetStatus(ctx, *op.Transfer.TransferID, services.TransferCompleted, "", submitted.Hash); err != nil {
			return Outcome{}, fmt.Errorf("record transfer completion: %w", err)
		}
	}
	op.Transfer.LedgerTransactionHash = submitted.Hash
	return Outcome{State: OutcomeCompleted, Operation: op}, nil
}
