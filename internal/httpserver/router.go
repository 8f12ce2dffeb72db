package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"gatekeeper/internal/auth"
	"gatekeeper/internal/httpserver/handlers"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/ratelimit"
)

// Sessions logs users in and resolves their bearer tokens.
type Sessions interface {
	handlers.LoginService
	auth.IdentityResolver
}

// Graph is everything the administrative routes call on the role graph.
type Graph interface {
	handlers.ProfileReader
	handlers.RoleService
	handlers.PermissionService
	handlers.UserService
}

type Deps struct {
	Sessions   Sessions
	Authorizer *auth.Authorizer
	Graph      Graph
	Audit      handlers.AuditReader
	Reset      handlers.ResetService

	// Limiter guards the credential endpoints; nil disables it.
	Limiter    ratelimit.Limiter
	RateWindow time.Duration
	// Metrics is optional.
	Metrics *metrics.Metrics
	// Ready reports whether the backing store is reachable.
	Ready func(ctx context.Context) error
}

func NewRouter(d Deps, lg *zap.SugaredLogger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Logger)
	if d.Metrics != nil {
		r.Use(d.Metrics.Instrument)
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	limit := func(scope string) func(http.Handler) http.Handler {
		if d.Limiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return ratelimit.Middleware(d.Limiter, scope, d.RateWindow, lg)
	}
	r.With(limit("login")).Post("/v1/auth/login", handlers.Login(d.Sessions, lg))
	r.With(limit("forgot")).Post("/v1/password/forgot", handlers.ForgotPassword(d.Reset, lg))
	r.With(limit("reset")).Post("/v1/password/reset", handlers.ResetPassword(d.Reset, lg))

	r.Group(func(protected chi.Router) {
		protected.Use(auth.Authenticate(d.Sessions, lg))
		protected.Get("/v1/me", handlers.Me(d.Graph, lg))

		need := func(resource, action string) func(http.Handler) http.Handler {
			return auth.Require(d.Authorizer, auth.Permission(resource, action))
		}

		protected.Route("/v1/roles", func(rr chi.Router) {
			rr.With(need("role", "read")).Get("/", handlers.ListRoles(d.Graph, lg))
			rr.With(need("role", "create")).Post("/", handlers.CreateRole(d.Graph, lg))
			rr.With(need("role", "update")).Patch("/{id}", handlers.UpdateRole(d.Graph, lg))
			rr.With(need("role", "delete")).Delete("/{id}", handlers.DeleteRole(d.Graph, lg))
			rr.With(need("role", "update")).Post("/{id}/permissions", handlers.GrantPermission(d.Graph, lg))
			rr.With(need("role", "update")).Delete("/{id}/permissions/{permissionID}", handlers.RevokePermission(d.Graph, lg))
		})

		protected.Route("/v1/permissions", func(pr chi.Router) {
			pr.With(need("permission", "read")).Get("/", handlers.ListPermissions(d.Graph, lg))
			pr.With(need("permission", "create")).Post("/", handlers.CreatePermission(d.Graph, lg))
			pr.With(need("permission", "update")).Patch("/{id}", handlers.UpdatePermission(d.Graph, lg))
			pr.With(need("permission", "delete")).Delete("/{id}", handlers.DeletePermission(d.Graph, lg))
		})

		protected.Route("/v1/users", func(ur chi.Router) {
			ur.With(need("user", "read")).Get("/", handlers.ListUsers(d.Graph, lg))
			ur.With(need("user", "create")).Post("/", handlers.CreateUser(d.Graph, lg))
			ur.With(need("user", "update")).Patch("/{id}", handlers.UpdateUser(d.Graph, lg))
			ur.With(need("user", "delete")).Delete("/{id}", handlers.DeleteUser(d.Graph, lg))
			ur.With(need("user", "read")).Get("/{id}/permissions", handlers.UserPermissions(d.Graph, lg))
			ur.With(need("user", "update")).Post("/{id}/roles", handlers.AssignRole(d.Graph, lg))
			ur.With(need("user", "update")).Put("/{id}/roles", handlers.ReplaceRoles(d.Graph, lg))
			ur.With(need("user", "update")).Delete("/{id}/roles/{roleID}", handlers.RevokeRole(d.Graph, lg))
		})

		protected.With(need("audit", "read")).Get("/v1/audit", handlers.ListAudit(d.Audit, lg))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				lg.Warnw("health check failed", "err", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	return otelhttp.NewHandler(r, "gatekeeper")
}
