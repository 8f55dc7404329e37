package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/covault/station/pkg/contracts"
	"github.com/covault/station/pkg/indexstore"
)

// UserService manages station members.
type UserService struct {
	users *indexstore.Map
	clock contracts.Clock
}

func NewUserService(ctx context.Context, store *indexstore.Store, clock contracts.Clock) (*UserService, error) {
	m, err := store.Map(ctx, "users")
	if err != nil {
		return nil, err
	}
	return &UserService{users: m, clock: clock}, nil
}

func (s *UserService) Create(ctx context.Context, input contracts.AddUserInput) (*User, error) {
	if input.Name == "" {
		return nil, contracts.NewError(contracts.ErrKindValidation, "user name must not be empty")
	}
	if input.Status == "" {
		input.Status = contracts.UserStatusActive
	}
	now := s.clock.Now()
	u := &User{
		ID:             uuid.New(),
		Name:           input.Name,
		Principals:     input.Principals,
		GroupIDs:       input.GroupIDs,
		Status:         input.Status,
		CreatedAt:      now,
		LastModifiedAt: now,
	}
	if err := s.put(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *UserService) Edit(ctx context.Context, input contracts.EditUserInput) (*User, error) {
	u, err := s.Get(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if input.Name != nil {
		u.Name = *input.Name
	}
	if input.GroupIDs != nil {
		u.GroupIDs = *input.GroupIDs
	}
	if input.Status != nil {
		u.Status = *input.Status
	}
	u.LastModifiedAt = s.clock.Now()
	if err := s.put(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *UserService) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	raw, ok, err := s.users.Get(ctx, indexstore.KeyUUID(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, contracts.NewError(contracts.ErrKindNotFound, "user %s not found", id)
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", id, err)
	}
	return &u, nil
}

func (s *UserService) List(ctx context.Context) ([]*User, error) {
	entries, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*User, 0, len(entries))
	for _, e := range entries {
		var u User
		if err := json.Unmarshal(e.Value, &u); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		out = append(out, &u)
	}
	return out, nil
}

// AllActive returns the ids of every active user.
func (s *UserService) AllActive(ctx context.Context) ([]uuid.UUID, error) {
	users, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []uuid.UUID
	for _, u := range users {
		if u.Status == contracts.UserStatusActive {
			out = append(out, u.ID)
		}
	}
	return out, nil
}

func (s *UserService) put(ctx context.Context, u *User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user %s: %w", u.ID, err)
	}
	_, _, err = s.users.Insert(ctx, indexstore.KeyUUID(u.ID), raw)
	return err
}
