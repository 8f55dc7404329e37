package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/covault/station/pkg/contracts"
)

// Profile is a YAML bootstrap profile: the groups, users, named rules, and
// request policies a fresh station is seeded with. Criteria are written in
// the same shape as their JSON wire form.
type Profile struct {
	Name       string          `yaml:"name"`
	AdminGroup string          `yaml:"admin_group,omitempty"`
	Groups     []ProfileGroup  `yaml:"groups,omitempty"`
	Users      []ProfileUser   `yaml:"users,omitempty"`
	Rules      []ProfileRule   `yaml:"named_rules,omitempty"`
	Policies   []ProfilePolicy `yaml:"policies,omitempty"`
}

type ProfileGroup struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type ProfileUser struct {
	Name       string   `yaml:"name"`
	Principals []string `yaml:"principals"`
	Groups     []string `yaml:"groups,omitempty"`
	Inactive   bool     `yaml:"inactive,omitempty"`
}

type ProfileRule struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name"`
	Criteria map[string]any `yaml:"criteria"`
}

type ProfilePolicy struct {
	ID            string         `yaml:"id"`
	OperationType string         `yaml:"operation_type"`
	TargetKind    string         `yaml:"target_kind,omitempty"`
	TargetIDs     []string       `yaml:"target_ids,omitempty"`
	Criteria      map[string]any `yaml:"criteria"`
}

// LoadProfile reads and parses a bootstrap profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return &p, nil
}

// AdminGroupID parses the admin group id, uuid.Nil when unset.
func (p *Profile) AdminGroupID() (uuid.UUID, error) {
	if p.AdminGroup == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(p.AdminGroup)
	if err != nil {
		return uuid.Nil, fmt.Errorf("profile admin_group: %w", err)
	}
	return id, nil
}

// NamedRule converts the YAML rule to its domain form.
func (r ProfileRule) NamedRule() (contracts.NamedRule, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return contracts.NamedRule{}, fmt.Errorf("rule %q id: %w", r.Name, err)
	}
	crit, err := decodeCriteria(r.Criteria)
	if err != nil {
		return contracts.NamedRule{}, fmt.Errorf("rule %q: %w", r.Name, err)
	}
	return contracts.NamedRule{ID: id, Name: r.Name, Criteria: crit}, nil
}

// RequestPolicy converts the YAML policy to its domain form.
func (p ProfilePolicy) RequestPolicy() (contracts.RequestPolicy, error) {
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return contracts.RequestPolicy{}, fmt.Errorf("policy id: %w", err)
	}
	crit, err := decodeCriteria(p.Criteria)
	if err != nil {
		return contracts.RequestPolicy{}, fmt.Errorf("policy %s: %w", p.ID, err)
	}
	spec := contracts.RequestSpecifier{
		OperationType: contracts.OperationType(p.OperationType),
		Target:        contracts.ResourceTarget{Kind: contracts.TargetAny},
	}
	if p.TargetKind != "" {
		spec.Target.Kind = contracts.TargetKind(p.TargetKind)
	}
	for _, raw := range p.TargetIDs {
		tid, err := uuid.Parse(raw)
		if err != nil {
			return contracts.RequestPolicy{}, fmt.Errorf("policy %s target id: %w", p.ID, err)
		}
		spec.Target.IDs = append(spec.Target.IDs, tid)
	}
	return contracts.RequestPolicy{ID: id, Specifier: spec, Criteria: crit}, nil
}

// decodeCriteria round-trips the YAML mapping through JSON so the criteria
// tree shares one wire shape across both formats.
func decodeCriteria(m map[string]any) (contracts.Criteria, error) {
	if len(m) == 0 {
		return contracts.Criteria{}, fmt.Errorf("criteria mapping is empty")
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return contracts.Criteria{}, fmt.Errorf("encode criteria: %w", err)
	}
	var c contracts.Criteria
	if err := json.Unmarshal(raw, &c); err != nil {
		return contracts.Criteria{}, fmt.Errorf("decode criteria: %w", err)
	}
	return c, nil
}
