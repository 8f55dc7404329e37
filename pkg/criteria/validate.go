package criteria

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/covault/station/pkg/contracts"
)

// ValidateCriteria rejects malformed criteria trees at policy-edit time:
// missing bodies, out-of-range thresholds, dangling rule references, and
// expressions that do not compile. Broken policies must never reach
// evaluation.
func (e *Engine) ValidateCriteria(c contracts.Criteria) error {
	switch c.Kind {
	case contracts.CriteriaAutoAdopted:
		return nil
	case contracts.CriteriaApprovalThreshold:
		if c.Threshold == nil {
			return contracts.NewError(contracts.ErrKindValidation, "threshold criteria needs a body")
		}
		if c.Threshold.Percentage > 100 {
			return contracts.NewError(contracts.ErrKindValidation, "threshold percentage %d exceeds 100", c.Threshold.Percentage)
		}
		return validateVoterSpecifier(c.Threshold.Voters)
	case contracts.CriteriaMinimumVotes:
		if c.Minimum == nil {
			return contracts.NewError(contracts.ErrKindValidation, "minimum-votes criteria needs a body")
		}
		if c.Minimum.Minimum == 0 {
			return contracts.NewError(contracts.ErrKindValidation, "minimum votes must be at least 1")
		}
		return validateVoterSpecifier(c.Minimum.Voters)
	case contracts.CriteriaAnd, contracts.CriteriaOr:
		if len(c.Children) == 0 {
			return contracts.NewError(contracts.ErrKindValidation, "%s criteria needs children", c.Kind)
		}
		for _, child := range c.Children {
			if err := e.ValidateCriteria(child); err != nil {
				return err
			}
		}
		return nil
	case contracts.CriteriaNot:
		if c.Child == nil {
			return contracts.NewError(contracts.ErrKindValidation, "not criteria needs a child")
		}
		return e.ValidateCriteria(*c.Child)
	case contracts.CriteriaNamedRule:
		if c.RuleID == nil || *c.RuleID == uuid.Nil {
			return contracts.NewError(contracts.ErrKindValidation, "named-rule criteria needs a rule id")
		}
		if _, ok := e.arena.Get(*c.RuleID); !ok {
			return contracts.NewError(contracts.ErrKindValidation, "named rule %s does not exist", *c.RuleID)
		}
		return nil
	case contracts.CriteriaHasAddressBookMetadata:
		if c.Metadata == nil || c.Metadata.Key == "" {
			return contracts.NewError(contracts.ErrKindValidation, "metadata criteria needs a key")
		}
		return nil
	case contracts.CriteriaExpression:
		if err := e.CheckExpression(c.Expression); err != nil {
			return contracts.NewError(contracts.ErrKindValidation, "expression does not compile: %v", err)
		}
		return nil
	}
	return contracts.NewError(contracts.ErrKindValidation, "unknown criteria kind %q", c.Kind)
}

func validateVoterSpecifier(v contracts.VoterSpecifier) error {
	switch v.Kind {
	case contracts.VoterAny, contracts.VoterProposer, contracts.VoterOwner:
		return nil
	case contracts.VoterGroup, contracts.VoterUsers:
		if len(v.IDs) == 0 {
			return contracts.NewError(contracts.ErrKindValidation, "%s voter specifier needs ids", v.Kind)
		}
		return nil
	}
	return fmt.Errorf("unknown voter specifier kind %q", v.Kind)
}
