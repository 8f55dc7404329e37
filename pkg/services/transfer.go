package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/covault/station/pkg/contracts"
	"github.com/covault/station/pkg/indexstore"
)

// TransferService manages the durable transfer records linked to transfer
// requests. The record is created Pending alongside the request so that
// expiration has a sub-entity to cascade into.
type TransferService struct {
	transfers *indexstore.Map
	byRequest *indexstore.IndexSet
	clock     contracts.Clock
}

func NewTransferService(ctx context.Context, store *indexstore.Store, clock contracts.Clock) (*TransferService, error) {
	m, err := store.Map(ctx, "transfers")
	if err != nil {
		return nil, err
	}
	idx, err := store.Index(ctx, "transfers_by_request")
	if err != nil {
		return nil, err
	}
	return &TransferService{transfers: m, byRequest: idx, clock: clock}, nil
}

// Create registers a pending transfer linked to a request.
func (s *TransferService) Create(ctx context.Context, requestID uuid.UUID, input contracts.TransferInput, fee uint64) (*TransferRecord, error) {
	if input.Amount == 0 {
		return nil, contracts.NewError(contracts.ErrKindValidation, "transfer amount must be positive")
	}
	if input.To == "" {
		return nil, contracts.NewError(contracts.ErrKindValidation, "transfer destination must not be empty")
	}
	now := s.clock.Now()
	memo := ""
	if input.Memo != nil {
		memo = *input.Memo
	}
	r := &TransferRecord{
		ID:             uuid.New(),
		RequestID:      requestID,
		FromAccountID:  input.FromAccountID,
		To:             input.To,
		Amount:         input.Amount,
		Fee:            fee,
		Memo:           memo,
		Status:         TransferPending,
		CreatedAt:      now,
		LastModifiedAt: now,
	}
	if err := s.put(ctx, r); err != nil {
		return nil, err
	}
	if err := s.byRequest.Insert(ctx, indexstore.Concat(indexstore.KeyUUID(requestID), indexstore.KeyUUID(r.ID))); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *TransferService) Get(ctx context.Context, id uuid.UUID) (*TransferRecord, error) {
	raw, ok, err := s.transfers.Get(ctx, indexstore.KeyUUID(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, contracts.NewError(contracts.ErrKindNotFound, "transfer %s not found", id)
	}
	var r TransferRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode transfer %s: %w", id, err)
	}
	return &r, nil
}

// FindByRequest returns the transfers linked to a request.
func (s *TransferService) FindByRequest(ctx context.Context, requestID uuid.UUID) ([]*TransferRecord, error) {
	lo := indexstore.Concat(indexstore.KeyUUID(requestID), indexstore.MinUUIDKey)
	hi := indexstore.Concat(indexstore.KeyUUID(requestID), indexstore.MaxUUIDKey)
	entries, err := s.byRequest.Scan(ctx, lo, hi, 0)
	if err != nil {
		return nil, err
	}
	out := make([]*TransferRecord, 0, len(entries))
	for _, entry := range entries {
		id, ok := indexstore.TrailingUUID(entry)
		if !ok {
			return nil, contracts.NewError(contracts.ErrKindConsistency, "malformed transfer index entry")
		}
		r, err := s.Get(ctx, id)
		if err != nil {
			return nil, contracts.NewError(contracts.ErrKindConsistency, "transfer index entry %s has no backing record", id)
		}
		out = append(out, r)
	}
	return out, nil
}

// SetStatus transitions a transfer record, recording reason and ledger hash.
func (s *TransferService) SetStatus(ctx context.Context, id uuid.UUID, status TransferStatus, reason, ledgerHash string) (*TransferRecord, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Status = status
	r.Reason = reason
	if ledgerHash != "" {
		r.LedgerHash = ledgerHash
	}
	r.LastModifiedAt = s.clock.Now()
	if err := s.put(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// CancelPendingForRequest cancels every still-pending transfer of a request,
// the expiration cascade of the scheduler.
func (s *TransferService) CancelPendingForRequest(ctx context.Context, requestID uuid.UUID, reason string) (int, error) {
	transfers, err := s.FindByRequest(ctx, requestID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range transfers {
		if r.Status != TransferPending {
			continue
		}
		if _, err := s.SetStatus(ctx, r.ID, TransferCancelled, reason, ""); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *TransferService) put(ctx context.Context, r *TransferRecord) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode transfer %s: %w", r.ID, err)
	}
	_, _, err = s.transfers.Insert(ctx, indexstore.KeyUUID(r.ID), raw)
	return err
}
