package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"gatekeeper/internal/apperr"
)

// PermissionGraph is the part of the role/permission graph the authorizer
// consults.
type PermissionGraph interface {
	HasPermission(ctx context.Context, userID int64, resourceType, actionType string) (bool, error)
	RoleIDsOf(ctx context.Context, userID int64) ([]int64, error)
}

// DecisionObserver is told about every authorization outcome.
type DecisionObserver interface {
	ObserveDecision(requirement, outcome string)
}

// Requirement is what a caller must hold: one of a set of roles, or a
// resource/action permission. The zero value denies everyone.
type Requirement struct {
	roleIDs  []int64
	resource string
	action   string
}

func AnyRole(roleIDs ...int64) Requirement {
	return Requirement{roleIDs: roleIDs}
}

func Permission(resourceType, actionType string) Requirement {
	return Requirement{resource: resourceType, action: actionType}
}

func (r Requirement) String() string {
	if r.resource != "" {
		return r.resource + ":" + r.action
	}
	if len(r.roleIDs) > 0 {
		return fmt.Sprintf("role:%v", r.roleIDs)
	}
	return "none"
}

type Authorizer struct {
	graph    PermissionGraph
	lg       *zap.SugaredLogger
	observer DecisionObserver
}

func NewAuthorizer(graph PermissionGraph, lg *zap.SugaredLogger) *Authorizer {
	return &Authorizer{graph: graph, lg: lg}
}

func (a *Authorizer) WithObserver(o DecisionObserver) *Authorizer {
	a.observer = o
	return a
}

// Authorize returns nil when id satisfies req. A nil identity fails with
// ErrUnauthenticated before the graph is consulted.
func (a *Authorizer) Authorize(ctx context.Context, id *Identity, req Requirement) error {
	err := a.decide(ctx, id, req)
	if a.observer != nil {
		a.observer.ObserveDecision(req.String(), outcome(err))
	}
	return err
}

func (a *Authorizer) decide(ctx context.Context, id *Identity, req Requirement) error {
	if id == nil {
		return apperr.ErrUnauthenticated
	}
	switch {
	case req.resource != "" && req.action != "":
		ok, err := a.graph.HasPermission(ctx, id.UserID, req.resource, req.action)
		if err != nil {
			a.lg.Errorw("permission lookup failed", "user_id", id.UserID, "requirement", req.String(), "err", err)
			return apperr.Internal(err)
		}
		if ok {
			return nil
		}
	case len(req.roleIDs) > 0:
		held, err := a.graph.RoleIDsOf(ctx, id.UserID)
		if err != nil {
			a.lg.Errorw("role lookup failed", "user_id", id.UserID, "requirement", req.String(), "err", err)
			return apperr.Internal(err)
		}
		for _, rid := range held {
			if slices.Contains(req.roleIDs, rid) {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: missing %s", apperr.ErrForbidden, req)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "allow"
	case errors.Is(err, apperr.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, apperr.ErrForbidden):
		return "deny"
	default:
		return "error"
	}
}
