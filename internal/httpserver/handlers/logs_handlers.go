package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"gatekeeper/internal/apperr"
	"gatekeeper/internal/audit"
	"gatekeeper/internal/models"
)

type AuditReader interface {
	List(ctx context.Context, f audit.Filter) ([]models.AuditLog, error)
}

// ListAudit returns audit entries newest first, filtered by the actorId,
// action, entityType and entityId query parameters.
func ListAudit(svc AuditReader, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := audit.Filter{
			Action:     q.Get("action"),
			EntityType: q.Get("entityType"),
			EntityID:   q.Get("entityId"),
		}
		var err error
		if v := q.Get("actorId"); v != "" {
			id, perr := strconv.ParseInt(v, 10, 64)
			if perr != nil {
				respondError(w, r, lg, fmt.Errorf("%w: actorId must be an integer", apperr.ErrInvalidInput))
				return
			}
			f.ActorID = &id
		}
		if f.Limit, err = queryInt(q.Get("limit")); err != nil {
			respondError(w, r, lg, err)
			return
		}
		if f.Offset, err = queryInt(q.Get("offset")); err != nil {
			respondError(w, r, lg, err)
			return
		}
		logs, err := svc.List(r.Context(), f)
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		respondJSON(w, logs)
	}
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q is not a non-negative integer", apperr.ErrInvalidInput, v)
	}
	return n, nil
}
