// Package policy persists request policies and named rules. The in-memory
// rule arena is hydrated from the store at construction and kept in lockstep
// with every edit, so evaluation never reads the store.
package policy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/covault/station/pkg/contracts"
	"github.com/covault/station/pkg/criteria"
	"github.com/covault/station/pkg/indexstore"
)

// Repository is the durable home of request policies and named rules.
type Repository struct {
	policies *indexstore.Map
	rules    *indexstore.Map
	arena    *criteria.RuleArena
}

func NewRepository(ctx context.Context, store *indexstore.Store) (*Repository, error) {
	policies, err := store.Map(ctx, "request_policies")
	if err != nil {
		return nil, err
	}
	rules, err := store.Map(ctx, "named_rules")
	if err != nil {
		return nil, err
	}
	r := &Repository{policies: policies, rules: rules, arena: criteria.NewRuleArena()}
	if err := r.hydrate(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Arena exposes the live rule arena for the criteria engine.
func (r *Repository) Arena() *criteria.RuleArena { return r.arena }

func (r *Repository) hydrate(ctx context.Context) error {
	entries, err := r.rules.List(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		var rule contracts.NamedRule
		if err := json.Unmarshal(e.Value, &rule); err != nil {
			return fmt.Errorf("decode named rule: %w", err)
		}
		if err := r.arena.Set(rule); err != nil {
			return fmt.Errorf("hydrate rule %s: %w", rule.ID, err)
		}
	}
	return nil
}

// ── Policies ────────────────────────────────────────────────────────────────

func (r *Repository) AddPolicy(ctx context.Context, p contracts.RequestPolicy) error {
	if p.ID == uuid.Nil {
		return contracts.NewError(contracts.ErrKindValidation, "policy id must be set")
	}
	return r.putPolicy(ctx, p)
}

func (r *Repository) EditPolicy(ctx context.Context, id uuid.UUID, spec *contracts.RequestSpecifier, crit *contracts.Criteria) (contracts.RequestPolicy, error) {
	p, err := r.GetPolicy(ctx, id)
	if err != nil {
		return contracts.RequestPolicy{}, err
	}
	if spec != nil {
		p.Specifier = *spec
	}
	if crit != nil {
		p.Criteria = *crit
	}
	if err := r.putPolicy(ctx, p); err != nil {
		return contracts.RequestPolicy{}, err
	}
	return p, nil
}

func (r *Repository) RemovePolicy(ctx context.Context, id uuid.UUID) error {
	_, ok, err := r.policies.Remove(ctx, indexstore.KeyUUID(id))
	if err != nil {
		return err
	}
	if !ok {
		return contracts.NewError(contracts.ErrKindNotFound, "request policy %s not found", id)
	}
	return nil
}

func (r *Repository) GetPolicy(ctx context.Context, id uuid.UUID) (contracts.RequestPolicy, error) {
	raw, ok, err := r.policies.Get(ctx, indexstore.KeyUUID(id))
	if err != nil {
		return contracts.RequestPolicy{}, err
	}
	if !ok {
		return contracts.RequestPolicy{}, contracts.NewError(contracts.ErrKindNotFound, "request policy %s not found", id)
	}
	var p contracts.RequestPolicy
	if err := json.Unmarshal(raw, &p); err != nil {
		return contracts.RequestPolicy{}, fmt.Errorf("decode policy %s: %w", id, err)
	}
	return p, nil
}

func (r *Repository) ListPolicies(ctx context.Context) ([]contracts.RequestPolicy, error) {
	entries, err := r.policies.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]contracts.RequestPolicy, 0, len(entries))
	for _, e := range entries {
		var p contracts.RequestPolicy
		if err := json.Unmarshal(e.Value, &p); err != nil {
			return nil, fmt.Errorf("decode policy: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *Repository) putPolicy(ctx context.Context, p contracts.RequestPolicy) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode policy %s: %w", p.ID, err)
	}
	_, _, err = r.policies.Insert(ctx, indexstore.KeyUUID(p.ID), raw)
	return err
}

// ── Named rules ─────────────────────────────────────────────────────────────

// SetRule persists a rule after the arena accepts it (cycle check happens
// there, at edit time).
func (r *Repository) SetRule(ctx context.Context, rule contracts.NamedRule) error {
	if err := r.arena.Set(rule); err != nil {
		return err
	}
	raw, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("encode rule %s: %w", rule.ID, err)
	}
	_, _, err = r.rules.Insert(ctx, indexstore.KeyUUID(rule.ID), raw)
	return err
}

func (r *Repository) RemoveRule(ctx context.Context, id uuid.UUID) error {
	r.arena.Remove(id)
	_, _, err := r.rules.Remove(ctx, indexstore.KeyUUID(id))
	return err
}
