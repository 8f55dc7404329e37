package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/covault/station/pkg/contracts"
)

// Directory adapts the collaborator services to the criteria engine's
// resolver contracts: voter-set resolution, group membership for specifier
// matching, and address-book metadata for the metadata predicate.
type Directory struct {
	Users       *UserService
	Groups      *UserGroupService
	Accounts    *AccountService
	AddressBook *AddressBookService
}

func (d *Directory) AllActiveUsers(ctx context.Context) ([]uuid.UUID, error) {
	return d.Users.AllActive(ctx)
}

func (d *Directory) GroupMembers(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	return d.Groups.Members(ctx, groupID)
}

func (d *Directory) FilterActive(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, id := range ids {
		u, err := d.Users.Get(ctx, id)
		if err != nil {
			if contracts.KindOf(err) == contracts.ErrKindNotFound {
				continue
			}
			return nil, err
		}
		if u.Status == contracts.UserStatusActive {
			out = append(out, id)
		}
	}
	return out, nil
}

func (d *Directory) AccountOwners(ctx context.Context, accountID uuid.UUID) ([]uuid.UUID, error) {
	a, err := d.Accounts.Get(ctx, accountID)
	if err != nil {
		if contracts.KindOf(err) == contracts.ErrKindNotFound {
			return nil, nil
		}
		return nil, err
	}
	return a.OwnerIDs, nil
}

func (d *Directory) UserGroups(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	u, err := d.Users.Get(ctx, userID)
	if err != nil {
		if contracts.KindOf(err) == contracts.ErrKindNotFound {
			return nil, nil
		}
		return nil, err
	}
	return u.GroupIDs, nil
}

func (d *Directory) AddressBookMetadata(ctx context.Context, _ string, address string) (map[string]string, bool, error) {
	e, err := d.AddressBook.FindByAddress(ctx, address)
	if err != nil {
		return nil, false, err
	}
	if e == nil {
		return nil, false, nil
	}
	return e.Metadata, true, nil
}
