package criteria

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covault/station/pkg/contracts"
)

// fakeDirectory implements the resolver interfaces over fixed membership.
type fakeDirectory struct {
	active []uuid.UUID
	groups map[uuid.UUID][]uuid.UUID
	owners map[uuid.UUID][]uuid.UUID
	meta   map[string]map[string]string
}

func (f *fakeDirectory) AllActiveUsers(context.Context) ([]uuid.UUID, error) {
	return f.active, nil
}

func (f *fakeDirectory) GroupMembers(_ context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	return f.groups[groupID], nil
}

func (f *fakeDirectory) FilterActive(_ context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	activeSet := make(map[uuid.UUID]struct{}, len(f.active))
	for _, id := range f.active {
		activeSet[id] = struct{}{}
	}
	var out []uuid.UUID
	for _, id := range ids {
		if _, ok := activeSet[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeDirectory) AccountOwners(_ context.Context, accountID uuid.UUID) ([]uuid.UUID, error) {
	return f.owners[accountID], nil
}

func (f *fakeDirectory) AddressBookMetadata(_ context.Context, _, address string) (map[string]string, bool, error) {
	m, ok := f.meta[address]
	return m, ok, nil
}

func (f *fakeDirectory) UserGroups(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for gid, members := range f.groups {
		for _, m := range members {
			if m == userID {
				out = append(out, gid)
			}
		}
	}
	return out, nil
}

func newTestEngine(t *testing.T, dir *fakeDirectory) (*Engine, *RuleArena) {
	t.Helper()
	arena := NewRuleArena()
	engine, err := NewEngine(dir, dir, arena)
	require.NoError(t, err)
	return engine, arena
}

func requestWithVotes(votes ...contracts.Approval) *contracts.Request {
	return &contracts.Request{
		ID:          uuid.New(),
		RequesterID: uuid.New(),
		Status:      contracts.RequestStatusCreated,
		Approvals:   votes,
		Operation:   contracts.Operation{Type: contracts.OpAddUserGroup, AddUserGroup: &contracts.AddUserGroupOperation{}},
	}
}

func accept(id uuid.UUID) contracts.Approval {
	return contracts.Approval{ApproverID: id, Decision: contracts.VoteAccepted, DecidedAt: time.Now()}
}

func reject(id uuid.UUID) contracts.Approval {
	return contracts.Approval{ApproverID: id, Decision: contracts.VoteRejected, DecidedAt: time.Now()}
}

func thresholdAny(pct uint8) contracts.Criteria {
	return contracts.Criteria{
		Kind: contracts.CriteriaApprovalThreshold,
		Threshold: &contracts.ApprovalThresholdCriteria{
			Voters:     contracts.VoterSpecifier{Kind: contracts.VoterAny},
			Percentage: pct,
		},
	}
}

func TestAutoAdopted(t *testing.T) {
	engine, _ := newTestEngine(t, &fakeDirectory{})
	ev, err := engine.Evaluate(context.Background(), contracts.Criteria{Kind: contracts.CriteriaAutoAdopted}, requestWithVotes())
	require.NoError(t, err)
	assert.Equal(t, Adopted, ev)
}

func TestApprovalThreshold(t *testing.T) {
	u1, u2, u3 := uuid.New(), uuid.New(), uuid.New()
	engine, _ := newTestEngine(t, &fakeDirectory{active: []uuid.UUID{u1, u2, u3}})
	ctx := context.Background()
	c := thresholdAny(51) // 3 voters → 2 required

	ev, err := engine.Evaluate(ctx, c, requestWithVotes())
	require.NoError(t, err)
	assert.Equal(t, Pending, ev)

	ev, err = engine.Evaluate(ctx, c, requestWithVotes(accept(u1)))
	require.NoError(t, err)
	assert.Equal(t, Pending, ev)

	ev, err = engine.Evaluate(ctx, c, requestWithVotes(accept(u1), accept(u2)))
	require.NoError(t, err)
	assert.Equal(t, Adopted, ev)

	// Two rejections leave at most 1 possible acceptance: unreachable.
	ev, err = engine.Evaluate(ctx, c, requestWithVotes(reject(u1), reject(u2)))
	require.NoError(t, err)
	assert.Equal(t, Rejected, ev)
}

func TestApprovalThresholdIgnoresIneligibleVotes(t *testing.T) {
	u1, u2 := uuid.New(), uuid.New()
	outsider := uuid.New()
	engine, _ := newTestEngine(t, &fakeDirectory{active: []uuid.UUID{u1, u2}})

	// 100% of 2 voters; the outsider's vote must not count.
	c := thresholdAny(100)
	ev, err := engine.Evaluate(context.Background(), c, requestWithVotes(accept(u1), accept(outsider)))
	require.NoError(t, err)
	assert.Equal(t, Pending, ev)
}

func TestThresholdWithZeroEligibleVotersFailsClosed(t *testing.T) {
	engine, _ := newTestEngine(t, &fakeDirectory{})
	ev, err := engine.Evaluate(context.Background(), thresholdAny(51), requestWithVotes())
	require.NoError(t, err)
	assert.Equal(t, Rejected, ev)
}

func TestMinimumVotes(t *testing.T) {
	u1, u2, u3 := uuid.New(), uuid.New(), uuid.New()
	engine, _ := newTestEngine(t, &fakeDirectory{active: []uuid.UUID{u1, u2, u3}})
	ctx := context.Background()
	c := contracts.Criteria{
		Kind: contracts.CriteriaMinimumVotes,
		Minimum: &contracts.MinimumVotesCriteria{
			Voters:  contracts.VoterSpecifier{Kind: contracts.VoterAny},
			Minimum: 2,
		},
	}

	ev, err := engine.Evaluate(ctx, c, requestWithVotes(accept(u1)))
	require.NoError(t, err)
	assert.Equal(t, Pending, ev)

	ev, err = engine.Evaluate(ctx, c, requestWithVotes(accept(u1), accept(u3)))
	require.NoError(t, err)
	assert.Equal(t, Adopted, ev)

	ev, err = engine.Evaluate(ctx, c, requestWithVotes(reject(u1), reject(u2)))
	require.NoError(t, err)
	assert.Equal(t, Rejected, ev, "only one possible acceptance remains")
}

// Scenario: And[ApprovalThreshold{Any,51%}, MinimumVotes{Group(G),1}] with
// three eligible voters, one of whom is in G.
func TestAndOfThresholdAndGroupMinimum(t *testing.T) {
	u1, u2, u3 := uuid.New(), uuid.New(), uuid.New()
	groupG := uuid.New()
	dir := &fakeDirectory{
		active: []uuid.UUID{u1, u2, u3},
		groups: map[uuid.UUID][]uuid.UUID{groupG: {u3}},
	}
	engine, _ := newTestEngine(t, dir)
	ctx := context.Background()

	c := contracts.Criteria{
		Kind: contracts.CriteriaAnd,
		Children: []contracts.Criteria{
			thresholdAny(51),
			{
				Kind: contracts.CriteriaMinimumVotes,
				Minimum: &contracts.MinimumVotesCriteria{
					Voters:  contracts.VoterSpecifier{Kind: contracts.VoterGroup, IDs: []uuid.UUID{groupG}},
					Minimum: 1,
				},
			},
		},
	}

	// Two accepts, one from G → both children adopt.
	ev, err := engine.Evaluate(ctx, c, requestWithVotes(accept(u1), accept(u3)))
	require.NoError(t, err)
	assert.Equal(t, Adopted, ev)

	// One accept (not from G) + one reject → G member undecided, Pending.
	ev, err = engine.Evaluate(ctx, c, requestWithVotes(accept(u1), reject(u2)))
	require.NoError(t, err)
	assert.Equal(t, Pending, ev)
}

func TestOrShortCircuitsOnAdoption(t *testing.T) {
	u1 := uuid.New()
	engine, _ := newTestEngine(t, &fakeDirectory{active: []uuid.UUID{u1}})
	c := contracts.Criteria{
		Kind: contracts.CriteriaOr,
		Children: []contracts.Criteria{
			thresholdAny(100),
			{Kind: contracts.CriteriaAutoAdopted},
		},
	}
	ev, err := engine.Evaluate(context.Background(), c, requestWithVotes())
	require.NoError(t, err)
	assert.Equal(t, Adopted, ev)
}

func TestNotInvertsDecisions(t *testing.T) {
	engine, _ := newTestEngine(t, &fakeDirectory{active: []uuid.UUID{uuid.New()}})
	ctx := context.Background()

	notAuto := contracts.Criteria{
		Kind:  contracts.CriteriaNot,
		Child: &contracts.Criteria{Kind: contracts.CriteriaAutoAdopted},
	}
	ev, err := engine.Evaluate(ctx, notAuto, requestWithVotes())
	require.NoError(t, err)
	assert.Equal(t, Rejected, ev)

	notPending := contracts.Criteria{
		Kind:  contracts.CriteriaNot,
		Child: &contracts.Criteria{Kind: contracts.CriteriaAnd, Children: []contracts.Criteria{thresholdAny(100)}},
	}
	ev, err = engine.Evaluate(ctx, notPending, requestWithVotes())
	require.NoError(t, err)
	assert.Equal(t, Pending, ev, "Not propagates Pending")
}

func TestNamedRuleResolution(t *testing.T) {
	u1 := uuid.New()
	engine, arena := newTestEngine(t, &fakeDirectory{active: []uuid.UUID{u1}})
	ctx := context.Background()

	ruleID := uuid.New()
	require.NoError(t, arena.Set(contracts.NamedRule{
		ID:       ruleID,
		Name:     "auto",
		Criteria: contracts.Criteria{Kind: contracts.CriteriaAutoAdopted},
	}))

	c := contracts.Criteria{Kind: contracts.CriteriaNamedRule, RuleID: &ruleID}
	ev, err := engine.Evaluate(ctx, c, requestWithVotes())
	require.NoError(t, err)
	assert.Equal(t, Adopted, ev)

	// A dangling reference fails closed with an error.
	missing := uuid.New()
	c = contracts.Criteria{Kind: contracts.CriteriaNamedRule, RuleID: &missing}
	ev, err = engine.Evaluate(ctx, c, requestWithVotes())
	require.Error(t, err)
	assert.Equal(t, Rejected, ev)
}

func TestAddressBookMetadataPredicate(t *testing.T) {
	dir := &fakeDirectory{
		meta: map[string]map[string]string{
			"addr-1": {"kyc": "verified"},
		},
	}
	engine, _ := newTestEngine(t, dir)
	ctx := context.Background()

	transferTo := func(addr string) *contracts.Request {
		return &contracts.Request{
			ID:          uuid.New(),
			RequesterID: uuid.New(),
			Operation: contracts.Operation{
				Type: contracts.OpTransfer,
				Transfer: &contracts.TransferOperation{
					Input: contracts.TransferInput{FromAccountID: uuid.New(), To: addr, Amount: 10},
				},
			},
		}
	}

	c := contracts.Criteria{
		Kind:     contracts.CriteriaHasAddressBookMetadata,
		Metadata: &contracts.MetadataPredicate{Key: "kyc", Value: "verified"},
	}

	ev, err := engine.Evaluate(ctx, c, transferTo("addr-1"))
	require.NoError(t, err)
	assert.Equal(t, Adopted, ev)

	ev, err = engine.Evaluate(ctx, c, transferTo("addr-unknown"))
	require.NoError(t, err)
	assert.Equal(t, Rejected, ev)

	// Non-transfer operations never satisfy the predicate.
	ev, err = engine.Evaluate(ctx, c, requestWithVotes())
	require.NoError(t, err)
	assert.Equal(t, Rejected, ev)
}

func TestExpressionCriteria(t *testing.T) {
	engine, _ := newTestEngine(t, &fakeDirectory{})
	ctx := context.Background()

	req := &contracts.Request{
		ID:          uuid.New(),
		RequesterID: uuid.New(),
		Title:       "payroll",
		Operation: contracts.Operation{
			Type: contracts.OpTransfer,
			Transfer: &contracts.TransferOperation{
				Input: contracts.TransferInput{FromAccountID: uuid.New(), To: "x", Amount: 5000},
			},
		},
	}

	ev, err := engine.Evaluate(ctx, contracts.Criteria{
		Kind:       contracts.CriteriaExpression,
		Expression: `operation_type == "TRANSFER" && amount < 10000`,
	}, req)
	require.NoError(t, err)
	assert.Equal(t, Adopted, ev)

	ev, err = engine.Evaluate(ctx, contracts.Criteria{
		Kind:       contracts.CriteriaExpression,
		Expression: `amount >= 10000`,
	}, req)
	require.NoError(t, err)
	assert.Equal(t, Rejected, ev)

	// Compilation errors surface at check time.
	assert.Error(t, engine.CheckExpression(`this is not CEL`))
}

func TestCombine(t *testing.T) {
	assert.Equal(t, Pending, Combine(nil))
	assert.Equal(t, Adopted, Combine([]Evaluation{Adopted, Adopted}))
	assert.Equal(t, Rejected, Combine([]Evaluation{Adopted, Rejected, Pending}))
	assert.Equal(t, Pending, Combine([]Evaluation{Adopted, Pending}))
}

func TestEligibleVotersUnion(t *testing.T) {
	u1, u2, u3 := uuid.New(), uuid.New(), uuid.New()
	g := uuid.New()
	dir := &fakeDirectory{
		active: []uuid.UUID{u1, u2, u3},
		groups: map[uuid.UUID][]uuid.UUID{g: {u3}},
	}
	engine, _ := newTestEngine(t, dir)

	c := contracts.Criteria{
		Kind: contracts.CriteriaAnd,
		Children: []contracts.Criteria{
			{
				Kind: contracts.CriteriaMinimumVotes,
				Minimum: &contracts.MinimumVotesCriteria{
					Voters:  contracts.VoterSpecifier{Kind: contracts.VoterGroup, IDs: []uuid.UUID{g}},
					Minimum: 1,
				},
			},
			{
				Kind: contracts.CriteriaApprovalThreshold,
				Threshold: &contracts.ApprovalThresholdCriteria{
					Voters:     contracts.VoterSpecifier{Kind: contracts.VoterUsers, IDs: []uuid.UUID{u1}},
					Percentage: 100,
				},
			},
		},
	}

	voters, err := engine.EligibleVoters(context.Background(), c, requestWithVotes())
	require.NoError(t, err)
	assert.Len(t, voters, 2)
	assert.Contains(t, voters, u1)
	assert.Contains(t, voters, u3)
	assert.NotContains(t, voters, u2)
}
