package auth

import (
	"context"

	"github.com/tonyging/jx3-trading-platform/internal/domain"
)

// Action is a capability a role may hold.
type Action string

const (
	ActionListingCreate          Action = "listing:create"
	ActionListingUpdateOwn       Action = "listing:update-own"
	ActionListingDeleteOwn       Action = "listing:delete-own"
	ActionListingDeleteAny       Action = "listing:delete-any"
	ActionListingViewAll         Action = "listing:view-all"
	ActionListingReserve         Action = "listing:reserve"
	ActionTransactionParticipate Action = "transaction:participate"
	ActionTransactionViewAny     Action = "transaction:view-any"
	ActionRatingWrite            Action = "rating:write"
	ActionActivityViewOwn        Action = "activity:view-own"
	ActionActivityViewAll        Action = "activity:view-all"
	ActionProfileManage          Action = "profile:manage"
	ActionUserManageRoles        Action = "user:manage-roles"
)

var userActions = []Action{
	ActionListingCreate,
	ActionListingUpdateOwn,
	ActionListingDeleteOwn,
	ActionListingReserve,
	ActionTransactionParticipate,
	ActionRatingWrite,
	ActionActivityViewOwn,
	ActionProfileManage,
}

var adminActions = []Action{
	ActionListingViewAll,
	ActionListingDeleteAny,
	ActionTransactionViewAny,
	ActionActivityViewAll,
	ActionUserManageRoles,
}

var capabilities = buildCapabilities()

func buildCapabilities() map[domain.Role]map[Action]bool {
	table := map[domain.Role]map[Action]bool{
		domain.RoleUser:   {},
		domain.RoleAdmin:  {},
		domain.RoleBanned: {},
	}
	for _, a := range userActions {
		table[domain.RoleUser][a] = true
		table[domain.RoleAdmin][a] = true
	}
	for _, a := range adminActions {
		table[domain.RoleAdmin][a] = true
	}
	return table
}

// Can is the single role/action decision used across the service.
func Can(role domain.Role, action Action) bool {
	return capabilities[role][action]
}

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Role   domain.Role
	Meta   domain.RequestMeta
}

func (p *Principal) Can(action Action) bool {
	return p != nil && Can(p.Role, action)
}

// Authorize returns nil when p holds action.
func Authorize(p *Principal, action Action) error {
	if p == nil || p.UserID == "" {
		return domain.ErrUnauthenticated
	}
	if !Can(p.Role, action) {
		return domain.Forbiddenf("role %q may not %s", p.Role, action)
	}
	return nil
}

type principalCtxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// PrincipalFrom returns the caller attached by the auth middleware, or nil.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalCtxKey{}).(*Principal)
	return p
}
