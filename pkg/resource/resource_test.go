package resource

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceOrdering(t *testing.T) {
	a := Resource{Kind: KindAccount, Action: ActionRead, ID: uuid.MustParse("00000000-0000-0000-0000-000000000001")}
	b := Resource{Kind: KindAccount, Action: ActionRead, ID: uuid.MustParse("00000000-0000-0000-0000-000000000002")}
	c := Resource{Kind: KindAccount, Action: ActionUpdate, ID: AnyID}
	d := Resource{Kind: KindUser, Action: ActionList, ID: AnyID}

	assert.Negative(t, a.Compare(b))
	assert.Negative(t, b.Compare(c), "action orders before id")
	assert.Negative(t, c.Compare(d), "kind orders before action")
	assert.Zero(t, a.Compare(a))
}

func TestMinMaxSentinelsBracketKind(t *testing.T) {
	lo, hi := Min(KindAccount), Max(KindAccount)
	for _, action := range []Action{ActionList, ActionCreate, ActionRead, ActionTransfer, ActionUpgrade} {
		r := Resource{Kind: KindAccount, Action: action, ID: uuid.New()}
		require.Negative(t, lo.Compare(r), "min must precede %s", r)
		require.Negative(t, r.Compare(hi), "%s must precede max", r)
	}

	// A different kind falls entirely outside the bracket.
	other := Resource{Kind: KindUser, Action: ActionList, ID: AnyID}
	assert.Positive(t, other.Compare(hi))
}

func TestMatches(t *testing.T) {
	id := uuid.New()
	candidate := Resource{Kind: KindAccount, Action: ActionTransfer, ID: id}

	assert.True(t, Matches(candidate, Resource{Kind: KindAccount, Action: ActionTransfer, ID: AnyID}))
	assert.True(t, Matches(candidate, Resource{Kind: KindAccount, Action: ActionTransfer, ID: id}))
	assert.False(t, Matches(candidate, Resource{Kind: KindAccount, Action: ActionTransfer, ID: uuid.New()}))
	assert.False(t, Matches(candidate, Resource{Kind: KindAccount, Action: ActionRead, ID: AnyID}))
	assert.False(t, Matches(candidate, Resource{Kind: KindUser, Action: ActionTransfer, ID: AnyID}))
}

func TestKeyIsFixedWidth(t *testing.T) {
	r := Resource{Kind: KindRequest, Action: ActionRead, ID: uuid.New()}
	assert.Len(t, r.Key(), 18)
}
