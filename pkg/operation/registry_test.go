package operation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covault/station/pkg/contracts"
	"github.com/covault/station/pkg/criteria"
	"github.com/covault/station/pkg/gateway"
	"github.com/covault/station/pkg/indexstore"
	"github.com/covault/station/pkg/policy"
	"github.com/covault/station/pkg/services"
)

type fixture struct {
	clock     *contracts.ManualClock
	users     *services.UserService
	groups    *services.UserGroupService
	accounts  *services.AccountService
	transfers *services.TransferService
	policies  *policy.Repository
	gw        *gateway.InMemory
	registry  *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := indexstore.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := contracts.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	users, err := services.NewUserService(ctx, store, clock)
	require.NoError(t, err)
	groups, err := services.NewUserGroupService(ctx, store, users, clock)
	require.NoError(t, err)
	accounts, err := services.NewAccountService(ctx, store, users, clock)
	require.NoError(t, err)
	book, err := services.NewAddressBookService(ctx, store, clock)
	require.NoError(t, err)
	transfers, err := services.NewTransferService(ctx, store, clock)
	require.NoError(t, err)
	policies, err := policy.NewRepository(ctx, store)
	require.NoError(t, err)

	dir := &services.Directory{Users: users, Groups: groups, Accounts: accounts, AddressBook: book}
	engine, err := criteria.NewEngine(dir, dir, policies.Arena())
	require.NoError(t, err)

	gw := gateway.NewInMemory()
	registry, err := NewRegistry(Deps{
		Accounts:       accounts,
		Users:          users,
		Groups:         groups,
		AddressBook:    book,
		Transfers:      transfers,
		Policies:       policies,
		Engine:         engine,
		Gateway:        gw,
		Clock:          clock,
		CurrentVersion: "1.4.0",
	})
	require.NoError(t, err)

	return &fixture{
		clock: clock, users: users, groups: groups, accounts: accounts,
		transfers: transfers, policies: policies, gw: gw, registry: registry,
	}
}

func (f *fixture) addUser(t *testing.T, name string) uuid.UUID {
	t.Helper()
	u, err := f.users.Create(context.Background(), contracts.AddUserInput{Name: name, Principals: []string{"p-" + name}})
	require.NoError(t, err)
	return u.ID
}

func (f *fixture) addAccount(t *testing.T, owner uuid.UUID) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	op := contracts.Operation{
		Type: contracts.OpAddAccount,
		AddAccount: &contracts.AddAccountOperation{Input: contracts.AddAccountInput{
			Name: "ops", Blockchain: "icp", OwnerIDs: []uuid.UUID{owner},
		}},
	}
	op, err := f.registry.Create(ctx, uuid.New(), op)
	require.NoError(t, err)
	out, err := f.registry.Execute(ctx, &contracts.Request{ID: uuid.New(), Operation: op})
	require.NoError(t, err)
	require.NotNil(t, out.Operation.AddAccount.AccountID)
	return *out.Operation.AddAccount.AccountID
}

func (f *fixture) fund(t *testing.T, accountID uuid.UUID, amount uint64) string {
	t.Helper()
	account, err := f.accounts.Get(context.Background(), accountID)
	require.NoError(t, err)
	f.gw.Fund(account.Address, amount)
	return account.Address
}

func TestRegistryRejectsUnknownType(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Create(context.Background(), uuid.New(), contracts.Operation{Type: "MINT_COINS"})
	assert.Equal(t, contracts.ErrKindUnknownOperation, contracts.KindOf(err))
}

func TestAddAccountValidatesOwners(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	op := contracts.Operation{
		Type: contracts.OpAddAccount,
		AddAccount: &contracts.AddAccountOperation{Input: contracts.AddAccountInput{
			Name: "ops", Blockchain: "icp", OwnerIDs: []uuid.UUID{uuid.New()},
		}},
	}
	_, err := f.registry.Create(ctx, uuid.New(), op)
	assert.Equal(t, contracts.ErrKindValidation, contracts.KindOf(err), "unknown owner rejected at creation")

	owner := f.addUser(t, "alice")
	id := f.addAccount(t, owner)
	account, err := f.accounts.Get(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, account.Address, "execution provisions an address via the gateway")
}

func TestTransferLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.addUser(t, "alice")
	accountID := f.addAccount(t, owner)
	f.fund(t, accountID, 1_000_000)

	requestID := uuid.New()
	op := contracts.Operation{
		Type: contracts.OpTransfer,
		Transfer: &contracts.TransferOperation{Input: contracts.TransferInput{
			FromAccountID: accountID, To: "ext-addr-1", Amount: 500,
		}},
	}
	op, err := f.registry.Create(ctx, requestID, op)
	require.NoError(t, err)
	require.NotNil(t, op.Transfer.TransferID)

	records, err := f.transfers.FindByRequest(ctx, requestID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, services.TransferPending, records[0].Status, "record is pending until execution")

	out, err := f.registry.Execute(ctx, &contracts.Request{ID: requestID, Operation: op})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out.State)
	assert.NotEmpty(t, out.Operation.Transfer.LedgerTransactionHash)

	record, err := f.transfers.Get(ctx, *op.Transfer.TransferID)
	require.NoError(t, err)
	assert.Equal(t, services.TransferCompleted, record.Status)
	assert.Equal(t, out.Operation.Transfer.LedgerTransactionHash, record.LedgerHash)
}

func TestTransferReDispatchDoesNotResubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.addUser(t, "alice")
	accountID := f.addAccount(t, owner)
	address := f.fund(t, accountID, 1_000_000)

	requestID := uuid.New()
	op := contracts.Operation{
		Type: contracts.OpTransfer,
		Transfer: &contracts.TransferOperation{Input: contracts.TransferInput{
			FromAccountID: accountID, To: "ext-addr-1", Amount: 500,
		}},
	}
	op, err := f.registry.Create(ctx, requestID, op)
	require.NoError(t, err)

	out, err := f.registry.Execute(ctx, &contracts.Request{ID: requestID, Operation: op})
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, out.State)
	afterFirst, err := f.gw.Balance(ctx, address)
	require.NoError(t, err)

	// A crash between the transfer-record commit and the request's own
	// status commit leaves the request in Processing; the re-poll runs the
	// executor again with the pre-completion payload. The completed record
	// must answer instead of the gateway.
	out, err = f.registry.Execute(ctx, &contracts.Request{ID: requestID, Operation: op})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out.State)
	record, err := f.transfers.Get(ctx, *op.Transfer.TransferID)
	require.NoError(t, err)
	assert.Equal(t, record.LedgerHash, out.Operation.Transfer.LedgerTransactionHash)

	afterSecond, err := f.gw.Balance(ctx, address)
	require.NoError(t, err)
	assert.Equal(t, afterFirst, afterSecond, "value moves exactly once")
}

func TestTransferFailureMarksRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.addUser(t, "alice")
	accountID := f.addAccount(t, owner)

	requestID := uuid.New()
	op := contracts.Operation{
		Type: contracts.OpTransfer,
		Transfer: &contracts.TransferOperation{Input: contracts.TransferInput{
			FromAccountID: accountID, To: "ext-addr-1", Amount: 500,
		}},
	}
	op, err := f.registry.Create(ctx, requestID, op)
	require.NoError(t, err)

	f.gw.FailSubmissionsWith(errors.New("ledger unreachable"))
	_, err = f.registry.Execute(ctx, &contracts.Request{ID: requestID, Operation: op})
	require.Error(t, err)

	record, err := f.transfers.Get(ctx, *op.Transfer.TransferID)
	require.NoError(t, err)
	assert.Equal(t, services.TransferFailed, record.Status)
	assert.Contains(t, record.Reason, "ledger unreachable")

	// A re-dispatch replays the recorded failure rather than resubmitting.
	f.gw.FailSubmissionsWith(nil)
	_, err = f.registry.Execute(ctx, &contracts.Request{ID: requestID, Operation: op})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger unreachable")
}

func TestRemoveGroupBlockedWhilePopulated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g, err := f.groups.Create(ctx, contracts.AddUserGroupInput{Name: "treasurers"})
	require.NoError(t, err)
	_, err = f.users.Create(ctx, contracts.AddUserInput{Name: "bob", GroupIDs: []uuid.UUID{g.ID}})
	require.NoError(t, err)

	op := contracts.Operation{
		Type:            contracts.OpRemoveUserGroup,
		RemoveUserGroup: &contracts.RemoveUserGroupOperation{Input: contracts.RemoveUserGroupInput{GroupID: g.ID}},
	}
	op, err = f.registry.Create(ctx, uuid.New(), op)
	require.NoError(t, err)
	_, err = f.registry.Execute(ctx, &contracts.Request{ID: uuid.New(), Operation: op})
	assert.Equal(t, contracts.ErrKindValidation, contracts.KindOf(err), "populated group cannot be removed")
}

func TestPolicyOperationsRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := contracts.Operation{
		Type: contracts.OpAddRequestPolicy,
		AddRequestPolicy: &contracts.AddRequestPolicyOperation{Input: contracts.AddRequestPolicyInput{
			Criteria: contracts.Criteria{
				Kind:      contracts.CriteriaApprovalThreshold,
				Threshold: &contracts.ApprovalThresholdCriteria{Voters: contracts.VoterSpecifier{Kind: contracts.VoterAny}, Percentage: 150},
			},
		}},
	}
	_, err := f.registry.Create(ctx, uuid.New(), bad)
	assert.Equal(t, contracts.ErrKindValidation, contracts.KindOf(err), "over-100 threshold rejected")

	op := contracts.Operation{
		Type: contracts.OpAddRequestPolicy,
		AddRequestPolicy: &contracts.AddRequestPolicyOperation{Input: contracts.AddRequestPolicyInput{
			Specifier: contracts.RequestSpecifier{OperationType: contracts.OpTransfer},
			Criteria: contracts.Criteria{
				Kind:      contracts.CriteriaApprovalThreshold,
				Threshold: &contracts.ApprovalThresholdCriteria{Voters: contracts.VoterSpecifier{Kind: contracts.VoterAny}, Percentage: 51},
			},
		}},
	}
	op, err = f.registry.Create(ctx, uuid.New(), op)
	require.NoError(t, err)
	out, err := f.registry.Execute(ctx, &contracts.Request{ID: uuid.New(), Operation: op})
	require.NoError(t, err)
	require.NotNil(t, out.Operation.AddRequestPolicy.PolicyID)

	policyID := *out.Operation.AddRequestPolicy.PolicyID
	stored, err := f.policies.GetPolicy(ctx, policyID)
	require.NoError(t, err)
	assert.Equal(t, uint8(51), stored.Criteria.Threshold.Percentage)

	remove := contracts.Operation{
		Type:                contracts.OpRemoveRequestPolicy,
		RemoveRequestPolicy: &contracts.RemoveRequestPolicyOperation{Input: contracts.RemoveRequestPolicyInput{PolicyID: policyID}},
	}
	remove, err = f.registry.Create(ctx, uuid.New(), remove)
	require.NoError(t, err)
	_, err = f.registry.Execute(ctx, &contracts.Request{ID: uuid.New(), Operation: remove})
	require.NoError(t, err)
	_, err = f.policies.GetPolicy(ctx, policyID)
	assert.Equal(t, contracts.ErrKindNotFound, contracts.KindOf(err))
}

func TestSystemUpgradeTwoPhase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	downgrade := contracts.Operation{
		Type:          contracts.OpSystemUpgrade,
		SystemUpgrade: &contracts.SystemUpgradeOperation{Input: contracts.SystemUpgradeInput{TargetVersion: "1.3.9"}},
	}
	_, err := f.registry.Create(ctx, uuid.New(), downgrade)
	assert.Equal(t, contracts.ErrKindValidation, contracts.KindOf(err), "downgrade rejected against the running version")

	garbled := contracts.Operation{
		Type:          contracts.OpSystemUpgrade,
		SystemUpgrade: &contracts.SystemUpgradeOperation{Input: contracts.SystemUpgradeInput{TargetVersion: "latest"}},
	}
	_, err = f.registry.Create(ctx, uuid.New(), garbled)
	assert.Equal(t, contracts.ErrKindValidation, contracts.KindOf(err))

	op := contracts.Operation{
		Type:          contracts.OpSystemUpgrade,
		SystemUpgrade: &contracts.SystemUpgradeOperation{Input: contracts.SystemUpgradeInput{TargetVersion: "1.5.0"}},
	}
	op, err = f.registry.Create(ctx, uuid.New(), op)
	require.NoError(t, err)

	req := &contracts.Request{ID: uuid.New(), Operation: op}
	out, err := f.registry.Execute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessing, out.State, "first pass only dispatches")
	assert.Equal(t, contracts.UpgradePhaseDispatched, out.Operation.SystemUpgrade.Phase)

	req.Operation = out.Operation
	out, err = f.registry.Execute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out.State, "second pass confirms via health check")
	assert.Equal(t, contracts.UpgradePhaseConfirmed, out.Operation.SystemUpgrade.Phase)
}
