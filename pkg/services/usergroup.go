package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/covault/station/pkg/contracts"
	"github.com/covault/station/pkg/indexstore"
)

// UserGroupService manages named membership sets.
type UserGroupService struct {
	groups *indexstore.Map
	users  *UserService
	clock  contracts.Clock
}

func NewUserGroupService(ctx context.Context, store *indexstore.Store, users *UserService, clock contracts.Clock) (*UserGroupService, error) {
	m, err := store.Map(ctx, "user_groups")
	if err != nil {
		return nil, err
	}
	return &UserGroupService{groups: m, users: users, clock: clock}, nil
}

func (s *UserGroupService) Create(ctx context.Context, input contracts.AddUserGroupInput) (*UserGroup, error) {
	if input.Name == "" {
		return nil, contracts.NewError(contracts.ErrKindValidation, "group name must not be empty")
	}
	g := &UserGroup{ID: uuid.New(), Name: input.Name, CreatedAt: s.clock.Now()}
	if err := s.put(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *UserGroupService) Edit(ctx context.Context, input contracts.EditUserGroupInput) (*UserGroup, error) {
	g, err := s.Get(ctx, input.GroupID)
	if err != nil {
		return nil, err
	}
	if input.Name == "" {
		return nil, contracts.NewError(contracts.ErrKindValidation, "group name must not be empty")
	}
	g.Name = input.Name
	if err := s.put(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// Remove deletes a group. A group that still has members cannot be removed.
func (s *UserGroupService) Remove(ctx context.Context, id uuid.UUID) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	members, err := s.Members(ctx, id)
	if err != nil {
		return err
	}
	if len(members) > 0 {
		return contracts.NewError(contracts.ErrKindValidation, "group %s still has %d members", id, len(members)).
			WithDetail("members", fmt.Sprintf("%d", len(members)))
	}
	_, _, err = s.groups.Remove(ctx, indexstore.KeyUUID(id))
	return err
}

func (s *UserGroupService) Get(ctx context.Context, id uuid.UUID) (*UserGroup, error) {
	raw, ok, err := s.groups.Get(ctx, indexstore.KeyUUID(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, contracts.NewError(contracts.ErrKindNotFound, "user group %s not found", id)
	}
	var g UserGroup
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode user group %s: %w", id, err)
	}
	return &g, nil
}

func (s *UserGroupService) List(ctx context.Context) ([]*UserGroup, error) {
	entries, err := s.groups.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*UserGroup, 0, len(entries))
	for _, e := range entries {
		var g UserGroup
		if err := json.Unmarshal(e.Value, &g); err != nil {
			return nil, fmt.Errorf("decode user group: %w", err)
		}
		out = append(out, &g)
	}
	return out, nil
}

// Members returns the active users belonging to the group.
func (s *UserGroupService) Members(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []uuid.UUID
	for _, u := range users {
		if u.Status != contracts.UserStatusActive {
			continue
		}
		for _, gid := range u.GroupIDs {
			if gid == id {
				out = append(out, u.ID)
				break
			}
		}
	}
	return out, nil
}

func (s *UserGroupService) put(ctx context.Context, g *UserGroup) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode user group %s: %w", g.ID, err)
	}
	_, _, err = s.groups.Insert(ctx, indexstore.KeyUUID(g.ID), raw)
	return err
}
