package criteria

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/covault/station/pkg/contracts"
)

// ErrRuleCycle rejects a rule edit that would make a named rule reference
// itself, directly or through other rules.
var ErrRuleCycle = errors.New("rule edit would create a reference cycle")

// RuleArena holds the named, reusable criteria rules that policies reference
// by id. Cycle detection happens at edit time, never at evaluation time.
type RuleArena struct {
	mu    sync.RWMutex
	rules map[uuid.UUID]contracts.NamedRule
}

func NewRuleArena() *RuleArena {
	return &RuleArena{rules: make(map[uuid.UUID]contracts.NamedRule)}
}

// Get returns the rule with the given id.
func (a *RuleArena) Get(id uuid.UUID) (contracts.NamedRule, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.rules[id]
	return r, ok
}

// List returns every rule, unordered.
func (a *RuleArena) List() []contracts.NamedRule {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]contracts.NamedRule, 0, len(a.rules))
	for _, r := range a.rules {
		out = append(out, r)
	}
	return out
}

// Set inserts or replaces a rule after verifying the edit cannot create a
// reference cycle through the arena.
func (a *RuleArena) Set(rule contracts.NamedRule) error {
	if rule.ID == uuid.Nil {
		return fmt.Errorf("rule id must be set")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	prev, existed := a.rules[rule.ID]
	a.rules[rule.ID] = rule
	if cycleFrom(a.rules, rule.ID) {
		if existed {
			a.rules[rule.ID] = prev
		} else {
			delete(a.rules, rule.ID)
		}
		return ErrRuleCycle
	}
	return nil
}

// Remove deletes a rule. Policies still referencing it fail closed at
// evaluation time.
func (a *RuleArena) Remove(id uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.rules, id)
}

// cycleFrom walks rule references depth-first from start, reporting whether
// any path returns to a rule already on the stack.
func cycleFrom(rules map[uuid.UUID]contracts.NamedRule, start uuid.UUID) bool {
	onStack := make(map[uuid.UUID]bool)
	var visit func(id uuid.UUID) bool
	visit = func(id uuid.UUID) bool {
		if onStack[id] {
			return true
		}
		rule, ok := rules[id]
		if !ok {
			// Dangling references are not cycles; evaluation rejects them.
			return false
		}
		onStack[id] = true
		defer func() { onStack[id] = false }()
		for _, ref := range referencedRules(rule.Criteria) {
			if visit(ref) {
				return true
			}
		}
		return false
	}
	return visit(start)
}

func referencedRules(c contracts.Criteria) []uuid.UUID {
	var out []uuid.UUID
	switch c.Kind {
	case contracts.CriteriaNamedRule:
		if c.RuleID != nil {
			out = append(out, *c.RuleID)
		}
	case contracts.CriteriaAnd, contracts.CriteriaOr:
		for _, child := range c.Children {
			out = append(out, referencedRules(child)...)
		}
	case contracts.CriteriaNot:
		if c.Child != nil {
			out = append(out, referencedRules(*c.Child)...)
		}
	}
	return out
}
