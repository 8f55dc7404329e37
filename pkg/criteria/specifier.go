package criteria

import (
	"context"

	"github.com/google/uuid"

	"github.com/covault/station/pkg/contracts"
)

// MatchesSpecifier reports whether a policy specifier governs the request.
// Matching reads the current operation payload every time; an in-flight
// edit can change the resource set before adoption, so nothing is cached.
func MatchesSpecifier(ctx context.Context, spec contracts.RequestSpecifier, req *contracts.Request, groups GroupResolver) (bool, error) {
	if spec.OperationType != req.Operation.Type {
		return false, nil
	}
	switch spec.Target.Kind {
	case contracts.TargetAny, "":
		return true, nil
	case contracts.TargetIDs:
		return intersects(operationTargetIDs(req.Operation), spec.Target.IDs), nil
	case contracts.TargetGroups:
		for _, userID := range operationUserIDs(req.Operation) {
			memberships, err := groups.UserGroups(ctx, userID)
			if err != nil {
				return false, err
			}
			if intersects(memberships, spec.Target.IDs) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, nil
}

// operationTargetIDs lists the existing entity ids an operation acts on.
// Creation operations have no target yet, so id-filtered specifiers never
// govern them; they are governed through TargetAny policies.
func operationTargetIDs(op contracts.Operation) []uuid.UUID {
	switch op.Type {
	case contracts.OpEditAccount:
		if op.EditAccount != nil {
			return []uuid.UUID{op.EditAccount.Input.AccountID}
		}
	case contracts.OpTransfer:
		if op.Transfer != nil {
			return []uuid.UUID{op.Transfer.Input.FromAccountID}
		}
	case contracts.OpEditUser:
		if op.EditUser != nil {
			return []uuid.UUID{op.EditUser.Input.UserID}
		}
	case contracts.OpEditUserGroup:
		if op.EditUserGroup != nil {
			return []uuid.UUID{op.EditUserGroup.Input.GroupID}
		}
	case contracts.OpRemoveUserGroup:
		if op.RemoveUserGroup != nil {
			return []uuid.UUID{op.RemoveUserGroup.Input.GroupID}
		}
	case contracts.OpEditAddressBookEntry:
		if op.EditAddressBookEntry != nil {
			return []uuid.UUID{op.EditAddressBookEntry.Input.EntryID}
		}
	case contracts.OpRemoveAddressBookEntry:
		if op.RemoveAddressBookEntry != nil {
			return []uuid.UUID{op.RemoveAddressBookEntry.Input.EntryID}
		}
	case contracts.OpEditRequestPolicy:
		if op.EditRequestPolicy != nil {
			return []uuid.UUID{op.EditRequestPolicy.Input.PolicyID}
		}
	case contracts.OpRemoveRequestPolicy:
		if op.RemoveRequestPolicy != nil {
			return []uuid.UUID{op.RemoveRequestPolicy.Input.PolicyID}
		}
	}
	return nil
}

// operationUserIDs lists the users an operation targets, for group-filtered
// specifiers ("requests touching members of group G").
func operationUserIDs(op contracts.Operation) []uuid.UUID {
	if op.Type == contracts.OpEditUser && op.EditUser != nil {
		return []uuid.UUID{op.EditUser.Input.UserID}
	}
	return nil
}

func intersects(a, b []uuid.UUID) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[uuid.UUID]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
