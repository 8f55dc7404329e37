package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/covault/station/pkg/contracts"
	"github.com/covault/station/pkg/indexstore"
)

// AccountService manages treasury accounts.
type AccountService struct {
	accounts *indexstore.Map
	users    *UserService
	clock    contracts.Clock
}

func NewAccountService(ctx context.Context, store *indexstore.Store, users *UserService, clock contracts.Clock) (*AccountService, error) {
	m, err := store.Map(ctx, "accounts")
	if err != nil {
		return nil, err
	}
	return &AccountService{accounts: m, users: users, clock: clock}, nil
}

// Create validates owners against the member directory and persists the
// account with its generated deposit address.
func (s *AccountService) Create(ctx context.Context, input contracts.AddAccountInput, address string) (*Account, error) {
	if input.Name == "" {
		return nil, contracts.NewError(contracts.ErrKindValidation, "account name must not be empty")
	}
	if input.Blockchain == "" {
		return nil, contracts.NewError(contracts.ErrKindValidation, "account blockchain must not be empty")
	}
	if len(input.OwnerIDs) == 0 {
		return nil, contracts.NewError(contracts.ErrKindValidation, "account needs at least one owner")
	}
	for _, owner := range input.OwnerIDs {
		if _, err := s.users.Get(ctx, owner); err != nil {
			return nil, contracts.NewError(contracts.ErrKindValidation, "account owner %s is not a member", owner)
		}
	}
	now := s.clock.Now()
	a := &Account{
		ID:             uuid.New(),
		Name:           input.Name,
		Blockchain:     input.Blockchain,
		Standard:       input.Standard,
		Address:        address,
		OwnerIDs:       input.OwnerIDs,
		CreatedAt:      now,
		LastModifiedAt: now,
	}
	if err := s.put(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *AccountService) Edit(ctx context.Context, input contracts.EditAccountInput) (*Account, error) {
	a, err := s.Get(ctx, input.AccountID)
	if err != nil {
		return nil, err
	}
	if input.Name != nil {
		a.Name = *input.Name
	}
	if input.OwnerIDs != nil {
		if len(*input.OwnerIDs) == 0 {
			return nil, contracts.NewError(contracts.ErrKindValidation, "account needs at least one owner")
		}
		a.OwnerIDs = *input.OwnerIDs
	}
	a.LastModifiedAt = s.clock.Now()
	if err := s.put(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *AccountService) Get(ctx context.Context, id uuid.UUID) (*Account, error) {
	raw, ok, err := s.accounts.Get(ctx, indexstore.KeyUUID(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, contracts.NewError(contracts.ErrKindNotFound, "account %s not found", id)
	}
	var a Account
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", id, err)
	}
	return &a, nil
}

func (s *AccountService) List(ctx context.Context) ([]*Account, error) {
	entries, err := s.accounts.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Account, 0, len(entries))
	for _, e := range entries {
		var a Account
		if err := json.Unmarshal(e.Value, &a); err != nil {
			return nil, fmt.Errorf("decode account: %w", err)
		}
		out = append(out, &a)
	}
	return out, nil
}

func (s *AccountService) put(ctx context.Context, a *Account) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", a.ID, err)
	}
	_, _, err = s.accounts.Insert(ctx, indexstore.KeyUUID(a.ID), raw)
	return err
}
