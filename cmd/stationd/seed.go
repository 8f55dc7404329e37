package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/covault/station/pkg/config"
	"github.com/covault/station/pkg/contracts"
	"github.com/covault/station/pkg/criteria"
	"github.com/covault/station/pkg/policy"
	"github.com/covault/station/pkg/services"
)

// applyProfile seeds groups, users, named rules, and request policies from
// a YAML bootstrap profile. Seeding is idempotent: entries that already
// exist are left alone. Returns the configured admin group id, if any.
func applyProfile(
	ctx context.Context,
	path string,
	engine *criteria.Engine,
	policies *policy.Repository,
	groups *services.UserGroupService,
	users *services.UserService,
) (uuid.UUID, error) {
	profile, err := config.LoadProfile(path)
	if err != nil {
		return uuid.Nil, err
	}

	existingGroups, err := groups.List(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	groupByName := make(map[string]uuid.UUID, len(existingGroups))
	for _, g := range existingGroups {
		groupByName[g.Name] = g.ID
	}
	for _, pg := range profile.Groups {
		if _, ok := groupByName[pg.Name]; ok {
			continue
		}
		g, err := groups.Create(ctx, contracts.AddUserGroupInput{Name: pg.Name})
		if err != nil {
			return uuid.Nil, fmt.Errorf("seed group %q: %w", pg.Name, err)
		}
		groupByName[pg.Name] = g.ID
	}

	existingUsers, err := users.List(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	userNames := make(map[string]struct{}, len(existingUsers))
	for _, u := range existingUsers {
		userNames[u.Name] = struct{}{}
	}
	for _, pu := range profile.Users {
		if _, ok := userNames[pu.Name]; ok {
			continue
		}
		status := contracts.UserStatusActive
		if pu.Inactive {
			status = contracts.UserStatusInactive
		}
		var memberOf []uuid.UUID
		for _, ref := range pu.Groups {
			if id, err := uuid.Parse(ref); err == nil {
				memberOf = append(memberOf, id)
			} else if id, ok := groupByName[ref]; ok {
				memberOf = append(memberOf, id)
			} else {
				return uuid.Nil, fmt.Errorf("seed user %q: unknown group %q", pu.Name, ref)
			}
		}
		if _, err := users.Create(ctx, contracts.AddUserInput{
			Name: pu.Name, Principals: pu.Principals, GroupIDs: memberOf, Status: status,
		}); err != nil {
			return uuid.Nil, fmt.Errorf("seed user %q: %w", pu.Name, err)
		}
	}

	for _, pr := range profile.Rules {
		rule, err := pr.NamedRule()
		if err != nil {
			return uuid.Nil, err
		}
		if err := policies.SetRule(ctx, rule); err != nil {
			return uuid.Nil, fmt.Errorf("seed rule %q: %w", rule.Name, err)
		}
	}

	for _, pp := range profile.Policies {
		rp, err := pp.RequestPolicy()
		if err != nil {
			return uuid.Nil, err
		}
		if err := engine.ValidateCriteria(rp.Criteria); err != nil {
			return uuid.Nil, fmt.Errorf("seed policy %s: %w", rp.ID, err)
		}
		if _, err := policies.GetPolicy(ctx, rp.ID); err == nil {
			continue
		}
		if err := policies.AddPolicy(ctx, rp); err != nil {
			return uuid.Nil, fmt.Errorf("seed policy %s: %w", rp.ID, err)
		}
	}

	adminGroup, err := profile.AdminGroupID()
	if err != nil {
		return uuid.Nil, err
	}
	// The admin group may be named by id in the profile but created here
	// with a fresh id; prefer the seeded group when names collide.
	for _, pg := range profile.Groups {
		if pg.ID == profile.AdminGroup {
			if id, ok := groupByName[pg.Name]; ok {
				return id, nil
			}
		}
	}
	return adminGroup, nil
}
