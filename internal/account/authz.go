package account

import (
	"slices"

	"github.com/iliyamo/account-admin/internal/model"
)

// AdminRoles may manage other accounts.
var AdminRoles = []model.Role{model.RoleAdmin, model.RoleSuperAdmin}

// Rule describes who may perform an operation.
//
// The actor passes when its role is listed in Roles, or when Owner is
// non-zero and equals the actor id.  Target is the role of the identity
// being acted upon (or the role being granted); when it is an admin role
// only a super_admin passes, unless the actor is acting on itself.
type Rule struct {
	Roles  []model.Role
	Owner  uint64
	Target model.Role
}

// Authorize is the single permission predicate used by every operation.
func Authorize(actor model.Actor, r Rule) error {
	if actor.ID == 0 || !actor.Role.Valid() {
		return authorizationErr("unknown actor")
	}
	owner := r.Owner != 0 && r.Owner == actor.ID
	if !owner && !slices.Contains(r.Roles, actor.Role) {
		return authorizationErr("insufficient role")
	}
	if !owner && r.Target.IsAdmin() && actor.Role != model.RoleSuperAdmin {
		return authorizationErr("only a super_admin may manage administrator accounts")
	}
	return nil
}
