package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/covault/station/pkg/contracts"
	"github.com/covault/station/pkg/indexstore"
)

// AddressBookService manages annotated external addresses.
type AddressBookService struct {
	entries *indexstore.Map
	clock   contracts.Clock
}

func NewAddressBookService(ctx context.Context, store *indexstore.Store, clock contracts.Clock) (*AddressBookService, error) {
	m, err := store.Map(ctx, "address_book")
	if err != nil {
		return nil, err
	}
	return &AddressBookService{entries: m, clock: clock}, nil
}

func (s *AddressBookService) Create(ctx context.Context, input contracts.AddAddressBookEntryInput) (*AddressBookEntry, error) {
	if input.Address == "" {
		return nil, contracts.NewError(contracts.ErrKindValidation, "address must not be empty")
	}
	if input.Blockchain == "" {
		return nil, contracts.NewError(contracts.ErrKindValidation, "blockchain must not be empty")
	}
	existing, err := s.FindByAddress(ctx, input.Address)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, contracts.NewError(contracts.ErrKindValidation, "address %s already has an entry", input.Address)
	}
	e := &AddressBookEntry{
		ID:         uuid.New(),
		OwnerName:  input.OwnerName,
		Blockchain: input.Blockchain,
		Address:    input.Address,
		Metadata:   input.Metadata,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.put(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *AddressBookService) Edit(ctx context.Context, input contracts.EditAddressBookEntryInput) (*AddressBookEntry, error) {
	e, err := s.Get(ctx, input.EntryID)
	if err != nil {
		return nil, err
	}
	e.Metadata = input.Metadata
	if err := s.put(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *AddressBookService) Remove(ctx context.Context, id uuid.UUID) error {
	_, ok, err := s.entries.Remove(ctx, indexstore.KeyUUID(id))
	if err != nil {
		return err
	}
	if !ok {
		return contracts.NewError(contracts.ErrKindNotFound, "address book entry %s not found", id)
	}
	return nil
}

func (s *AddressBookService) Get(ctx context.Context, id uuid.UUID) (*AddressBookEntry, error) {
	raw, ok, err := s.entries.Get(ctx, indexstore.KeyUUID(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, contracts.NewError(contracts.ErrKindNotFound, "address book entry %s not found", id)
	}
	var e AddressBookEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode address book entry %s: %w", id, err)
	}
	return &e, nil
}

// FindByAddress returns the entry for an address, or nil.
func (s *AddressBookService) FindByAddress(ctx context.Context, address string) (*AddressBookEntry, error) {
	all, err := s.entries.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, raw := range all {
		var e AddressBookEntry
		if err := json.Unmarshal(raw.Value, &e); err != nil {
			return nil, fmt.Errorf("decode address book entry: %w", err)
		}
		if e.Address == address {
			return &e, nil
		}
	}
	return nil, nil
}

func (s *AddressBookService) List(ctx context.Context) ([]*AddressBookEntry, error) {
	entries, err := s.entries.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*AddressBookEntry, 0, len(entries))
	for _, raw := range entries {
		var e AddressBookEntry
		if err := json.Unmarshal(raw.Value, &e); err != nil {
			return nil, fmt.Errorf("decode address book entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, nil
}

func (s *AddressBookService) put(ctx context.Context, e *AddressBookEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode address book entry %s: %w", e.ID, err)
	}
	_, _, err = s.entries.Insert(ctx, indexstore.KeyUUID(e.ID), raw)
	return err
}
