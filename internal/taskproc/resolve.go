package taskproc

import (
	"context"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/basket/boss/internal/adapters"
	"github.com/basket/boss/internal/adapters/sheet"
	"github.com/basket/boss/internal/store"
)

// AssigneeTier records which tier of the 3-tier lookup served a resolution
// (spec.md §4.8 step 2: "record which tier served the lookup").
type AssigneeTier string

const (
	TierRelational AssigneeTier = "relational"
	TierTabular    AssigneeTier = "tabular"
	TierStatic     AssigneeTier = "static"
	TierUnresolved AssigneeTier = "unresolved"
)

// ResolvedAssignee is the outcome of a 3-tier lookup.
type ResolvedAssignee struct {
	Name string
	Role string
	Tier AssigneeTier
}

// AssigneeResolver implements the 3-tier assignee lookup: relational store
// first, then the tabular store, then static config. A singleflight group
// collapses concurrent repeated lookups for the same name, since several
// messages in flight for the same team member is common during a busy
// stand-up window.
type AssigneeResolver struct {
	store           *store.Store
	sheet           adapters.Adapter
	staticAssignees map[string]string
	group           singleflight.Group
}

func NewAssigneeResolver(st *store.Store, sheetAdapter adapters.Adapter, staticAssignees map[string]string) *AssigneeResolver {
	return &AssigneeResolver{store: st, sheet: sheetAdapter, staticAssignees: staticAssignees}
}

func (r *AssigneeResolver) Resolve(ctx context.Context, name string) (ResolvedAssignee, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return ResolvedAssignee{Tier: TierUnresolved}, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.resolveUncached(ctx, name)
	})
	if err != nil {
		return ResolvedAssignee{}, err
	}
	return v.(ResolvedAssignee), nil
}

func (r *AssigneeResolver) resolveUncached(ctx context.Context, name string) (ResolvedAssignee, error) {
	member, err := r.store.GetTeamMemberByName(ctx, name)
	if err != nil {
		return ResolvedAssignee{}, err
	}
	if member != nil {
		return ResolvedAssignee{Name: member.Name, Role: string(member.Role), Tier: TierRelational}, nil
	}

	if r.sheet != nil {
		res, adapterErr := r.sheet.Execute(ctx, sheet.LookupAssigneeOperation{Name: name})
		if adapterErr == nil {
			if found, ok := res.(sheet.LookupAssigneeResult); ok && found.Found {
				return ResolvedAssignee{Name: name, Role: found.Role, Tier: TierTabular}, nil
			}
		}
	}

	for staticName, role := range r.staticAssignees {
		if strings.EqualFold(staticName, name) {
			return ResolvedAssignee{Name: staticName, Role: role, Tier: TierStatic}, nil
		}
	}

	return ResolvedAssignee{Name: name, Tier: TierUnresolved}, nil
}
