package criteria

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/covault/station/pkg/contracts"
)

// Evaluation is the outcome of evaluating one criteria tree.
type Evaluation int

const (
	Pending Evaluation = iota
	Adopted
	Rejected
)

func (e Evaluation) String() string {
	switch e {
	case Adopted:
		return "Adopted"
	case Rejected:
		return "Rejected"
	}
	return "Pending"
}

// Engine evaluates criteria trees. It holds no mutable request state; the
// resolvers it consults are read-only collaborators.
type Engine struct {
	voters   VoterResolver
	metadata MetadataResolver
	arena    *RuleArena
	cel      *celEvaluator
}

// NewEngine builds an evaluation engine. arena may be shared with the policy
// repository so named-rule edits are visible immediately.
func NewEngine(voters VoterResolver, metadata MetadataResolver, arena *RuleArena) (*Engine, error) {
	ce, err := newCELEvaluator()
	if err != nil {
		return nil, err
	}
	return &Engine{voters: voters, metadata: metadata, arena: arena, cel: ce}, nil
}

// Evaluate walks the criteria tree against the request's current ballot.
func (e *Engine) Evaluate(ctx context.Context, c contracts.Criteria, req *contracts.Request) (Evaluation, error) {
	switch c.Kind {
	case contracts.CriteriaAutoAdopted:
		return Adopted, nil

	case contracts.CriteriaApprovalThreshold:
		if c.Threshold == nil {
			return Rejected, fmt.Errorf("threshold criteria without body")
		}
		eligible, err := e.resolveVoters(ctx, c.Threshold.Voters, req)
		if err != nil {
			return Pending, err
		}
		required := requiredForPercentage(len(eligible), c.Threshold.Percentage)
		return tally(req, eligible, required), nil

	case contracts.CriteriaMinimumVotes:
		if c.Minimum == nil {
			return Rejected, fmt.Errorf("minimum-votes criteria without body")
		}
		eligible, err := e.resolveVoters(ctx, c.Minimum.Voters, req)
		if err != nil {
			return Pending, err
		}
		return tally(req, eligible, int(c.Minimum.Minimum)), nil

	case contracts.CriteriaAnd:
		return e.evaluateAnd(ctx, c.Children, req)

	case contracts.CriteriaOr:
		return e.evaluateOr(ctx, c.Children, req)

	case contracts.CriteriaNot:
		if c.Child == nil {
			return Rejected, fmt.Errorf("not criteria without child")
		}
		inner, err := e.Evaluate(ctx, *c.Child, req)
		if err != nil {
			return Pending, err
		}
		switch inner {
		case Adopted:
			return Rejected, nil
		case Rejected:
			return Adopted, nil
		}
		return Pending, nil

	case contracts.CriteriaNamedRule:
		if c.RuleID == nil {
			return Rejected, fmt.Errorf("named-rule criteria without rule id")
		}
		rule, ok := e.arena.Get(*c.RuleID)
		if !ok {
			return Rejected, fmt.Errorf("named rule %s not found", *c.RuleID)
		}
		return e.Evaluate(ctx, rule.Criteria, req)

	case contracts.CriteriaHasAddressBookMetadata:
		return e.evaluateMetadata(ctx, c.Metadata, req)

	case contracts.CriteriaExpression:
		return e.cel.evaluate(c.Expression, req)
	}
	return Rejected, fmt.Errorf("unknown criteria kind %q", c.Kind)
}

func (e *Engine) evaluateAnd(ctx context.Context, children []contracts.Criteria, req *contracts.Request) (Evaluation, error) {
	if len(children) == 0 {
		return Rejected, fmt.Errorf("and criteria without children")
	}
	allAdopted := true
	for _, child := range children {
		ev, err := e.Evaluate(ctx, child, req)
		if err != nil {
			return Pending, err
		}
		switch ev {
		case Rejected:
			return Rejected, nil
		case Pending:
			allAdopted = false
		}
	}
	if allAdopted {
		return Adopted, nil
	}
	return Pending, nil
}

func (e *Engine) evaluateOr(ctx context.Context, children []contracts.Criteria, req *contracts.Request) (Evaluation, error) {
	if len(children) == 0 {
		return Rejected, fmt.Errorf("or criteria without children")
	}
	allRejected := true
	for _, child := range children {
		ev, err := e.Evaluate(ctx, child, req)
		if err != nil {
			return Pending, err
		}
		switch ev {
		case Adopted:
			return Adopted, nil
		case Pending:
			allRejected = false
		}
	}
	if allRejected {
		return Rejected, nil
	}
	return Pending, nil
}

func (e *Engine) evaluateMetadata(ctx context.Context, pred *contracts.MetadataPredicate, req *contracts.Request) (Evaluation, error) {
	if pred == nil {
		return Rejected, fmt.Errorf("metadata criteria without predicate")
	}
	transfer := req.Operation.Transfer
	if transfer == nil {
		// The predicate only speaks about transfer destinations.
		return Rejected, nil
	}
	// Blockchain is looked up through the source account by the resolver;
	// the address alone identifies the entry within a station.
	meta, ok, err := e.metadata.AddressBookMetadata(ctx, "", transfer.Input.To)
	if err != nil {
		return Pending, err
	}
	if !ok {
		return Rejected, nil
	}
	v, present := meta[pred.Key]
	if !present {
		return Rejected, nil
	}
	if pred.Value != "" && v != pred.Value {
		return Rejected, nil
	}
	return Adopted, nil
}

// requiredForPercentage is ceil(total × pct / 100) in integer arithmetic.
// Decisions never touch floating point.
func requiredForPercentage(total int, pct uint8) int {
	if total <= 0 {
		// Zero eligible voters fails closed.
		return 1
	}
	return (total*int(pct) + 99) / 100
}

// tally counts the ballot against the eligible set and decides. Adopted once
// accepted votes reach required; Rejected once it is mathematically
// impossible for the undecided remainder to close the gap.
func tally(req *contracts.Request, eligible []uuid.UUID, required int) Evaluation {
	set := make(map[uuid.UUID]struct{}, len(eligible))
	for _, id := range eligible {
		set[id] = struct{}{}
	}
	accepted, rejected := 0, 0
	for _, a := range req.Approvals {
		if _, ok := set[a.ApproverID]; !ok {
			continue
		}
		if a.Decision == contracts.VoteAccepted {
			accepted++
		} else {
			rejected++
		}
	}
	if accepted >= required {
		return Adopted
	}
	if accepted+(len(eligible)-accepted-rejected) < required {
		return Rejected
	}
	return Pending
}

func (e *Engine) resolveVoters(ctx context.Context, spec contracts.VoterSpecifier, req *contracts.Request) ([]uuid.UUID, error) {
	switch spec.Kind {
	case contracts.VoterAny:
		return e.voters.AllActiveUsers(ctx)
	case contracts.VoterGroup:
		seen := make(map[uuid.UUID]struct{})
		var out []uuid.UUID
		for _, gid := range spec.IDs {
			members, err := e.voters.GroupMembers(ctx, gid)
			if err != nil {
				return nil, err
			}
			for _, m := range members {
				if _, dup := seen[m]; !dup {
					seen[m] = struct{}{}
					out = append(out, m)
				}
			}
		}
		return out, nil
	case contracts.VoterUsers:
		return e.voters.FilterActive(ctx, spec.IDs)
	case contracts.VoterProposer:
		return []uuid.UUID{req.RequesterID}, nil
	case contracts.VoterOwner:
		seen := make(map[uuid.UUID]struct{})
		var out []uuid.UUID
		for _, accountID := range operationAccountIDs(req.Operation) {
			owners, err := e.voters.AccountOwners(ctx, accountID)
			if err != nil {
				return nil, err
			}
			for _, o := range owners {
				if _, dup := seen[o]; !dup {
					seen[o] = struct{}{}
					out = append(out, o)
				}
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown voter specifier kind %q", spec.Kind)
}

// operationAccountIDs lists the accounts an operation acts on, for the
// Owner voter specifier.
func operationAccountIDs(op contracts.Operation) []uuid.UUID {
	switch op.Type {
	case contracts.OpTransfer:
		if op.Transfer != nil {
			return []uuid.UUID{op.Transfer.Input.FromAccountID}
		}
	case contracts.OpEditAccount:
		if op.EditAccount != nil {
			return []uuid.UUID{op.EditAccount.Input.AccountID}
		}
	}
	return nil
}

// EligibleVoters returns the union of every identity any leaf of the tree
// could accept a vote from. Used by the lifecycle to gate cast_vote.
func (e *Engine) EligibleVoters(ctx context.Context, c contracts.Criteria, req *contracts.Request) (map[uuid.UUID]struct{}, error) {
	out := make(map[uuid.UUID]struct{})
	if err := e.collectVoters(ctx, c, req, out, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// maxRuleDepth bounds named-rule chains; the arena rejects cycles at edit
// time, so this only guards against arenas mutated behind our back.
const maxRuleDepth = 64

func (e *Engine) collectVoters(ctx context.Context, c contracts.Criteria, req *contracts.Request, out map[uuid.UUID]struct{}, depth int) error {
	if depth > maxRuleDepth {
		return fmt.Errorf("criteria tree deeper than %d", maxRuleDepth)
	}
	switch c.Kind {
	case contracts.CriteriaApprovalThreshold:
		if c.Threshold == nil {
			return nil
		}
		ids, err := e.resolveVoters(ctx, c.Threshold.Voters, req)
		if err != nil {
			return err
		}
		for _, id := range ids {
			out[id] = struct{}{}
		}
	case contracts.CriteriaMinimumVotes:
		if c.Minimum == nil {
			return nil
		}
		ids, err := e.resolveVoters(ctx, c.Minimum.Voters, req)
		if err != nil {
			return err
		}
		for _, id := range ids {
			out[id] = struct{}{}
		}
	case contracts.CriteriaAnd, contracts.CriteriaOr:
		for _, child := range c.Children {
			if err := e.collectVoters(ctx, child, req, out, depth+1); err != nil {
				return err
			}
		}
	case contracts.CriteriaNot:
		if c.Child != nil {
			return e.collectVoters(ctx, *c.Child, req, out, depth+1)
		}
	case contracts.CriteriaNamedRule:
		if c.RuleID == nil {
			return nil
		}
		rule, ok := e.arena.Get(*c.RuleID)
		if !ok {
			return fmt.Errorf("named rule %s not found", *c.RuleID)
		}
		return e.collectVoters(ctx, rule.Criteria, req, out, depth+1)
	}
	return nil
}

// Combine merges the evaluations of every matching policy: a request adopts
// only when all matching policies adopt; any rejection rejects.
func Combine(evals []Evaluation) Evaluation {
	if len(evals) == 0 {
		return Pending
	}
	allAdopted := true
	for _, ev := range evals {
		switch ev {
		case Rejected:
			return Rejected
		case Pending:
			allAdopted = false
		}
	}
	if allAdopted {
		return Adopted
	}
	return Pending
}
