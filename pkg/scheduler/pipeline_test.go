package scheduler

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covault/station/pkg/audit"
	"github.com/covault/station/pkg/contracts"
	"github.com/covault/station/pkg/criteria"
	"github.com/covault/station/pkg/gateway"
	"github.com/covault/station/pkg/indexstore"
	"github.com/covault/station/pkg/operation"
	"github.com/covault/station/pkg/policy"
	"github.com/covault/station/pkg/request"
	"github.com/covault/station/pkg/services"
)

type fixture struct {
	clock     *contracts.ManualClock
	users     *services.UserService
	groups    *services.UserGroupService
	accounts  *services.AccountService
	transfers *services.TransferService
	policies  *policy.Repository
	repo      *request.Repository
	svc       *request.Service
	registry  *operation.Registry
	pipeline  *Pipeline
	gw        *gateway.InMemory
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
	registry, err := operation.NewRegistry(operation.Deps{
		Accounts: accounts, Users: users, Groups: groups, AddressBook: book,
		Transfers: transfers, Policies: policies, Engine: engine,
		Gateway: gw, Clock: clock, CurrentVersion: "1.0.0",
	})
	require.NoError(t, err)

	repo, err := request.NewRepository(ctx, store)
	require.NoError(t, err)
	ledger := audit.NewLedger(store.DB(), "sqlite")
	require.NoError(t, ledger.Init(ctx))
	svc := request.NewService(repo, registry, policies, engine, dir, transfers, ledger, clock,
		slog.New(slog.DiscardHandler), request.Options{})

	pipeline, err := NewPipeline(svc, repo, registry, clock,
		slog.New(slog.DiscardHandler), nil, Options{MaxExecuteAttempts: 3})
	require.NoError(t, err)

	return &fixture{
		clock: clock, users: users, groups: groups, accounts: accounts,
		transfers: transfers, policies: policies, repo: repo, svc: svc,
		registry: registry, pipeline: pipeline, gw: gw,
	}
}

func (f *fixture) addUser(t *testing.T, name string) contracts.Identity {
	t.Helper()
	u, err := f.users.Create(context.Background(), contracts.AddUserInput{
		Name: name, Principals: []string{"p-" + name},
	})
	require.NoError(t, err)
	return contracts.Identity{UserID: u.ID}
}

func (f *fixture) autoAdopt(t *testing.T, opType contracts.OperationType) {
	t.Helper()
	require.NoError(t, f.policies.AddPolicy(context.Background(), contracts.RequestPolicy{
		ID:        uuid.New(),
		Specifier: contracts.RequestSpecifier{OperationType: opType},
		Criteria:  contracts.Criteria{Kind: contracts.CriteriaAutoAdopted},
	}))
}

func TestSchedulingExecutesAdoptedRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	f.autoAdopt(t, contracts.OpAddUserGroup)

	req, err := f.svc.Create(ctx, alice, request.CreateInput{
		Title: "create treasurers",
		Operation: contracts.Operation{
			Type:         contracts.OpAddUserGroup,
			AddUserGroup: &contracts.AddUserGroupOperation{Input: contracts.AddUserGroupInput{Name: "treasurers"}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, contracts.RequestStatusApproved, req.Status)

	f.pipeline.RunScheduling(ctx)

	got, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.RequestStatusCompleted, got.Status)
	require.NotNil(t, got.Operation.AddUserGroup.UserGroupID)

	_, err = f.groups.Get(ctx, *got.Operation.AddUserGroup.UserGroupID)
	require.NoError(t, err, "the governed effect happened")
}

func TestScheduledAtDefersExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	f.autoAdopt(t, contracts.OpAddUserGroup)

	at := f.clock.Now().Add(time.Hour)
	req, err := f.svc.Create(ctx, alice, request.CreateInput{
		Title: "create treasurers",
		Operation: contracts.Operation{
			Type:         contracts.OpAddUserGroup,
			AddUserGroup: &contracts.AddUserGroupOperation{Input: contracts.AddUserGroupInput{Name: "treasurers"}},
		},
		Plan: contracts.ExecutionPlan{Mode: contracts.ExecutionScheduledAt, At: &at},
	})
	require.NoError(t, err)

	f.pipeline.RunScheduling(ctx)
	got, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.RequestStatusScheduled, got.Status, "execution time has not arrived")

	f.clock.Advance(2 * time.Hour)
	f.pipeline.RunScheduling(ctx)
	got, err = f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.RequestStatusCompleted, got.Status)
}

func TestExpirationCascadesToPendingTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	f.addUser(t, "bob")
	f.autoAdopt(t, contracts.OpAddAccount)
	require.NoError(t, f.policies.AddPolicy(ctx, contracts.RequestPolicy{
		ID:        uuid.New(),
		Specifier: contracts.RequestSpecifier{OperationType: contracts.OpTransfer},
		Criteria: contracts.Criteria{
			Kind: contracts.CriteriaApprovalThreshold,
			Threshold: &contracts.ApprovalThresholdCriteria{
				Voters: contracts.VoterSpecifier{Kind: contracts.VoterAny}, Percentage: 100,
			},
		},
	}))

	acctReq, err := f.svc.Create(ctx, alice, request.CreateInput{
		Title: "open account",
		Operation: contracts.Operation{
			Type: contracts.OpAddAccount,
			AddAccount: &contracts.AddAccountOperation{Input: contracts.AddAccountInput{
				Name: "ops", Blockchain: "icp", OwnerIDs: []uuid.UUID{alice.UserID},
			}},
		},
	})
	require.NoError(t, err)
	f.pipeline.RunScheduling(ctx)
	acct, err := f.svc.Get(ctx, acctReq.ID)
	require.NoError(t, err)
	require.Equal(t, contracts.RequestStatusCompleted, acct.Status)

	expiry := f.clock.Now().Add(time.Hour)
	transferReq, err := f.svc.Create(ctx, alice, request.CreateInput{
		Title: "pay vendor",
		Operation: contracts.Operation{
			Type: contracts.OpTransfer,
			Transfer: &contracts.TransferOperation{Input: contracts.TransferInput{
				FromAccountID: *acct.Operation.AddAccount.AccountID, To: "vendor", Amount: 100,
			}},
		},
		ExpirationAt: &expiry,
	})
	require.NoError(t, err)
	require.Equal(t, contracts.RequestStatusCreated, transferReq.Status)

	f.pipeline.RunExpiration(ctx)
	got, err := f.svc.Get(ctx, transferReq.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.RequestStatusCreated, got.Status, "not overdue yet")

	f.clock.Advance(2 * time.Hour)
	f.pipeline.RunExpiration(ctx)
	got, err = f.svc.Get(ctx, transferReq.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.RequestStatusCancelled, got.Status)
	assert.Equal(t, "expired", got.StatusReason)

	records, err := f.transfers.FindByRequest(ctx, transferReq.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, services.TransferCancelled, records[0].Status)
	assert.Equal(t, "expired", records[0].Reason)
}

func TestTwoPhaseUpgradeConfirms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")
	f.autoAdopt(t, contracts.OpSystemUpgrade)

	req, err := f.svc.Create(ctx, alice, request.CreateInput{
		Title: "upgrade to 1.1.0",
		Operation: contracts.Operation{
			Type:          contracts.OpSystemUpgrade,
			SystemUpgrade: &contracts.SystemUpgradeOperation{Input: contracts.SystemUpgradeInput{TargetVersion: "1.1.0"}},
		},
	})
	require.NoError(t, err)

	f.pipeline.RunScheduling(ctx)

	got, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.RequestStatusCompleted, got.Status)
	assert.Equal(t, contracts.UpgradePhaseConfirmed, got.Operation.SystemUpgrade.Phase)
	assert.Equal(t, 2, got.ExecuteAttempts, "one dispatch pass, one confirmation pass")
}

func TestHandlerPanicBecomesFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")

	// A scheduled record whose payload lost its variant body makes the
	// handler dereference nil; the pipeline must absorb that.
	now := f.clock.Now()
	req := &contracts.Request{
		ID:             uuid.New(),
		RequesterID:    alice.UserID,
		Title:          "broken",
		Operation:      contracts.Operation{Type: contracts.OpAddUserGroup},
		Status:         contracts.RequestStatusScheduled,
		CreatedAt:      now,
		LastModifiedAt: now,
		ExpirationAt:   now.Add(time.Hour),
		ScheduledAt:    &now,
	}
	require.NoError(t, f.svc.Save(ctx, req))

	f.pipeline.RunScheduling(ctx)

	got, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.RequestStatusFailed, got.Status)
	assert.Contains(t, got.StatusReason, "panic")
}

func TestRetryBudgetExhaustion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice")

	now := f.clock.Now()
	req := &contracts.Request{
		ID:          uuid.New(),
		RequesterID: alice.UserID,
		Title:       "stuck",
		Operation: contracts.Operation{
			Type:          contracts.OpSystemUpgrade,
			SystemUpgrade: &contracts.SystemUpgradeOperation{Input: contracts.SystemUpgradeInput{TargetVersion: "1.1.0"}},
		},
		Status:          contracts.RequestStatusProcessing,
		CreatedAt:       now,
		LastModifiedAt:  now,
		ExpirationAt:    now.Add(time.Hour),
		ExecuteAttempts: 3,
	}
	require.NoError(t, f.svc.Save(ctx, req))

	f.pipeline.RunScheduling(ctx)

	got, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.RequestStatusFailed, got.Status)
	assert.Equal(t, "retry budget exhausted", got.StatusReason)
}
