package core

import (
	"context"
	"fmt"

	"synopsis/pkg/domain"
)

// NewEmptyGroupRule notes groups that a unit of work created or left without
// members.
func NewEmptyGroupRule() domain.Rule {
	return emptyGroupRule{}
}

type emptyGroupRule struct{}

func (emptyGroupRule) Name() string { return "empty_group" }

func (emptyGroupRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	touched := map[domain.EntityType]map[int64]struct{}{
		domain.EntityHostGroup:    {},
		domain.EntityServiceGroup: {},
	}
	for _, c := range changes {
		switch c.Entity {
		case domain.EntityHostGroup, domain.EntityServiceGroup:
			if c.Action != domain.ActionDelete {
				touched[c.Entity][c.After.(domain.GroupRecord).ID] = struct{}{}
			}
		case domain.EntityHostMembership:
			touched[domain.EntityHostGroup][c.Row().(domain.Link).Right] = struct{}{}
		case domain.EntityServiceMembership:
			touched[domain.EntityServiceGroup][c.Row().(domain.Link).Right] = struct{}{}
		}
	}

	res := domain.Result{}
	check := func(entity domain.EntityType, links []domain.Link, find func(int64) (domain.GroupRecord, bool)) {
		populated := make(map[int64]struct{}, len(links))
		for _, l := range links {
			populated[l.Right] = struct{}{}
		}
		for id := range touched[entity] {
			group, ok := find(id)
			if !ok {
				continue
			}
			if _, has := populated[id]; has {
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "empty_group",
				Severity: domain.SeverityLog,
				Message:  fmt.Sprintf("%s %s has no members", entity, group.Name),
				Entity:   entity,
				EntityID: id,
			})
		}
	}
	check(domain.EntityHostGroup, view.HostMemberships(), view.FindHostGroup)
	check(domain.EntityServiceGroup, view.ServiceMemberships(), view.FindServiceGroup)
	return res, nil
}
