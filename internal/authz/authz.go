// Package authz is the authorization guard: a pure decision function over the
// fixed role set. It has no storage and no side effects; callers resolve the
// principal's role and ownership facts first, then ask for a verdict.
package authz

import (
	"fmt"

	"orgdesk/internal/domain"
)

// Actions form a closed enumeration.
const (
	ActionCreateWorkItem     = "create-workitem"
	ActionAssignWorkItem     = "assign-workitem"
	ActionTransitionWorkItem = "transition-workitem-status"
	ActionCreateRequest      = "create-request"
	ActionReviewRequestItem  = "review-request-item"
	ActionFinalizeRequest    = "finalize-request"
	ActionManageCatalog      = "manage-catalog"
	ActionAdministerAccounts = "administer-accounts"
)

// Facts are the ownership inputs a rule may depend on.
type Facts struct {
	// IsAssignee holds when the principal is the work item's current assignee.
	IsAssignee bool
	// IsSelf holds when the record being created belongs to the acting principal.
	IsSelf bool
}

// UnauthorizedError indicates a denied action. It is always surfaced to the
// caller, never downgraded to a silent no-op.
type UnauthorizedError struct {
	Role   string
	Action string
	Reason string
}

func (e UnauthorizedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("role %s may not %s: %s", e.Role, e.Action, e.Reason)
	}
	return fmt.Sprintf("role %s may not %s", e.Role, e.Action)
}

// Authorize returns nil when the role may perform the action given the facts,
// and an UnauthorizedError otherwise.
func Authorize(role, action string, facts Facts) error {
	switch action {
	case ActionAdministerAccounts:
		if role == domain.RoleAdministrator {
			return nil
		}
		return UnauthorizedError{Role: role, Action: action}
	case ActionCreateWorkItem, ActionAssignWorkItem, ActionManageCatalog,
		ActionReviewRequestItem, ActionFinalizeRequest:
		if role == domain.RoleManager || role == domain.RoleAdministrator {
			return nil
		}
		return UnauthorizedError{Role: role, Action: action}
	case ActionTransitionWorkItem:
		if role != domain.RoleEmployee {
			return UnauthorizedError{Role: role, Action: action}
		}
		if !facts.IsAssignee {
			return UnauthorizedError{Role: role, Action: action, Reason: "not the current assignee"}
		}
		return nil
	case ActionCreateRequest:
		if role != domain.RoleRequester {
			return UnauthorizedError{Role: role, Action: action}
		}
		if !facts.IsSelf {
			return UnauthorizedError{Role: role, Action: action, Reason: "requests may only be created for oneself"}
		}
		return nil
	default:
		return UnauthorizedError{Role: role, Action: action, Reason: "unknown action"}
	}
}
