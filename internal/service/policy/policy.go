// Package policy decides whether an authenticated actor may perform an
// action. It is pure: callers resolve the target (and report not-found)
// before asking for a decision, and handlers map the typed denials to
// status codes.
package policy

import (
	"errors"
	"fmt"

	"github.com/valeri7122/GoIT-Team-3-WEB/internal/models"
)

var (
	// ErrAccessDenied is the ownership denial.
	ErrAccessDenied = errors.New("Access denied")

	// ErrSameRole rejects a role change the target already holds. It fires
	// before any privilege check.
	ErrSameRole = errors.New("This user already has this role installed")
)

// RoleFloorError reports the minimum role an action is open to.
type RoleFloorError struct {
	Floor models.Role
}

func (e *RoleFloorError) Error() string {
	return fmt.Sprintf("Access denied. Access open to %q", string(e.Floor))
}

// AuthorizeOwner gates mutation of an owned resource. The ownership check
// runs first: an owner may always mutate their own resource regardless of
// role; otherwise the actor needs at least moderator.
func AuthorizeOwner(actor *models.User, ownerID uint) error {
	if actor.ID == ownerID {
		return nil
	}
	if actor.Role.AtLeast(models.RoleModerator) {
		return nil
	}
	return ErrAccessDenied
}

// AuthorizeRole gates role-floored actions.
func AuthorizeRole(actor *models.User, floor models.Role) error {
	if actor.Role.AtLeast(floor) {
		return nil
	}
	return &RoleFloorError{Floor: floor}
}

// AuthorizeRoleChange requires the actor to strictly outrank both the
// requested role and the target's current one. Granting admin is therefore
// impossible through this endpoint.
func AuthorizeRoleChange(actor, target *models.User, requested models.Role) error {
	if target.Role == requested {
		return ErrSameRole
	}
	if actor.Role.Above(requested) && actor.Role.Above(target.Role) {
		return nil
	}
	highest := requested
	if target.Role.Above(highest) {
		highest = target.Role
	}
	return &RoleFloorError{Floor: roleAbove(highest)}
}

// AuthorizeBan gates ban/unban: at least moderator, and the actor must
// outrank the target.
func AuthorizeBan(actor, target *models.User) error {
	if err := AuthorizeRole(actor, models.RoleModerator); err != nil {
		return err
	}
	if !actor.Role.Above(target.Role) {
		return ErrAccessDenied
	}
	return nil
}

func roleAbove(r models.Role) models.Role {
	switch r {
	case models.RoleUser:
		return models.RoleModerator
	default:
		return models.RoleAdmin
	}
}
