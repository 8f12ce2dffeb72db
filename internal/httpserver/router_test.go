package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"gatekeeper/internal/audit"
	"gatekeeper/internal/auth"
	"gatekeeper/internal/httpserver"
	"gatekeeper/internal/mail"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/models"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/rbac"
	"gatekeeper/internal/reset"
	"gatekeeper/internal/seed"
	"gatekeeper/internal/store"
	"gatekeeper/internal/store/storetest"
)

const (
	adminEmail    = "root@example.com"
	adminPassword = "root-password"
)

type outbox struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (o *outbox) Send(_ context.Context, m mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, m)
	return nil
}

func (o *outbox) last() mail.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sent[len(o.sent)-1]
}

type server struct {
	h       http.Handler
	store   *store.GormStore
	graph   *rbac.Graph
	reset   *reset.Service
	outbox  *outbox
	metrics *metrics.Metrics
}

func newServer(t *testing.T, limiter ratelimit.Limiter) *server {
	t.Helper()
	lg := zap.NewNop().Sugar()
	s, _ := storetest.Open(t)
	rec := audit.NewRecorder(s)
	hasher := auth.NewHasher(bcrypt.MinCost)
	graph := rbac.NewGraph(s, rec, hasher, lg)

	sd := seed.New(graph, s, lg)
	cat, err := seed.LoadCatalog("")
	require.NoError(t, err)
	_, err = sd.Apply(context.Background(), cat)
	require.NoError(t, err)
	_, err = sd.EnsureAdmin(context.Background(), seed.Admin{Email: adminEmail, Password: adminPassword, Role: "Admin"})
	require.NoError(t, err)

	tokens, err := auth.NewTokens("router-test-secret", time.Hour, "gatekeeper")
	require.NoError(t, err)
	authn, err := auth.NewAuthenticator(s, graph, tokens, hasher, lg)
	require.NoError(t, err)
	m := metrics.New()
	authz := auth.NewAuthorizer(graph, lg).WithObserver(m)

	box := &outbox{}
	resets := reset.NewService(s, rec, hasher, box, lg, reset.Config{FrontendURL: "https://app.example.com"}).WithObserver(m)

	h := httpserver.NewRouter(httpserver.Deps{
		Sessions:   authn,
		Authorizer: authz,
		Graph:      graph,
		Audit:      rec,
		Reset:      resets,
		Limiter:    limiter,
		RateWindow: time.Minute,
		Metrics:    m,
		Ready:      func(context.Context) error { return nil },
	}, lg)
	return &server{h: h, store: s, graph: graph, reset: resets, outbox: box, metrics: m}
}

func (s *server) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func (s *server) login(t *testing.T, email, password string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func (s *server) createUser(t *testing.T, adminToken, username, email string, roleIDs ...int64) int64 {
	t.Helper()
	if roleIDs == nil {
		roleIDs = []int64{}
	}
	rec := s.do(t, http.MethodPost, "/v1/users", adminToken, map[string]any{
		"username": username, "email": email, "password": "user-password", "roleIds": roleIDs,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p.ID
}

func TestLoginAndMe(t *testing.T) {
	s := newServer(t, nil)
	token := s.login(t, adminEmail, adminPassword)

	rec := s.do(t, http.MethodGet, "/v1/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me rbac.UserProfile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, adminEmail, me.Email)
	require.Len(t, me.Roles, 1)
	assert.Equal(t, "Admin", me.Roles[0].Name)
	assert.NotEmpty(t, me.Permissions)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestLoginFailures(t *testing.T) {
	s := newServer(t, nil)

	wrong := s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": adminEmail, "password": "nope-nope"})
	unknown := s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "ghost@example.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())

	missing := s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": adminEmail})
	assert.Equal(t, http.StatusBadRequest, missing.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"email":`))
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProtectedRoutes(t *testing.T) {
	s := newServer(t, nil)
	admin := s.login(t, adminEmail, adminPassword)
	s.createUser(t, admin, "bob", "bob@example.com")
	bob := s.login(t, "bob@example.com", "user-password")

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/v1/users", "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/v1/users", "garbage", http.StatusUnauthorized},
		{"me without roles", http.MethodGet, "/v1/me", bob, http.StatusOK},
		{"lacking permission", http.MethodGet, "/v1/users", bob, http.StatusForbidden},
		{"lacking role create", http.MethodPost, "/v1/roles", bob, http.StatusForbidden},
		{"admin lists users", http.MethodGet, "/v1/users", admin, http.StatusOK},
		{"admin lists roles", http.MethodGet, "/v1/roles", admin, http.StatusOK},
		{"admin lists permissions", http.MethodGet, "/v1/permissions", admin, http.StatusOK},
		{"admin reads audit", http.MethodGet, "/v1/audit?limit=5", admin, http.StatusOK},
		{"bad audit limit", http.MethodGet, "/v1/audit?limit=-1", admin, http.StatusBadRequest},
		{"bad path id", http.MethodDelete, "/v1/users/abc", admin, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, tc.method, tc.path, tc.token, nil)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}

	denied := s.do(t, http.MethodGet, "/v1/users", bob, nil)
	assert.JSONEq(t, `{"message":"forbidden"}`, denied.Body.String())
	anon := s.do(t, http.MethodGet, "/v1/users", "", nil)
	assert.JSONEq(t, `{"message":"unauthorized"}`, anon.Body.String())
}

func TestRoleAdministration(t *testing.T) {
	s := newServer(t, nil)
	admin := s.login(t, adminEmail, adminPassword)

	rec := s.do(t, http.MethodPost, "/v1/permissions", admin, map[string]string{
		"name": "view_reports", "description": "read reports", "resourceType": "report", "actionType": "read",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var perm models.Permission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &perm))

	rec = s.do(t, http.MethodPost, "/v1/roles", admin, map[string]any{
		"name": "Analyst", "description": "reads reports", "permissionIds": []int64{perm.ID},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var role models.RoleWithPermissions
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &role))
	require.Len(t, role.Permissions, 1)

	dup := s.do(t, http.MethodPost, "/v1/roles", admin, map[string]any{"name": "Analyst", "description": "again"})
	assert.Equal(t, http.StatusConflict, dup.Code)

	carol := s.createUser(t, admin, "carol", "carol@example.com")
	path := "/v1/users/" + itoa(carol) + "/roles"

	missing := s.do(t, http.MethodPost, path, admin, map[string]int64{"roleId": 99})
	assert.Equal(t, http.StatusNotFound, missing.Code)
	roles, err := s.graph.RolesOf(context.Background(), carol)
	require.NoError(t, err)
	assert.Empty(t, roles)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodPost, path, admin, map[string]int64{"roleId": role.ID}).Code)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, path, admin, map[string]int64{"roleId": role.ID}).Code)

	rec = s.do(t, http.MethodGet, "/v1/users/"+itoa(carol)+"/permissions", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "view_reports")

	rec = s.do(t, http.MethodPut, path, admin, map[string][]int64{"roleIds": {}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/v1/roles/"+itoa(role.ID), admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/v1/roles/"+itoa(role.ID), admin, nil).Code)

	rec = s.do(t, http.MethodGet, "/v1/audit?action="+audit.ActionRoleDelete, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []models.AuditLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].ActorID)
}

func TestDeactivatedUserLosesAccess(t *testing.T) {
	s := newServer(t, nil)
	admin := s.login(t, adminEmail, adminPassword)
	dave := s.createUser(t, admin, "dave", "dave@example.com")
	daveToken := s.login(t, "dave@example.com", "user-password")

	rec := s.do(t, http.MethodPatch, "/v1/users/"+itoa(dave), admin, map[string]bool{"isActive": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/v1/me", daveToken, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPatch, "/v1/users/"+itoa(dave), admin, map[string]any{}).Code)
}

var tokenInLink = regexp.MustCompile(`token=([0-9a-f]{64})`)

func TestForgotPasswordIsIndistinguishable(t *testing.T) {
	s := newServer(t, nil)

	known := s.do(t, http.MethodPost, "/v1/password/forgot", "", map[string]string{"email": adminEmail})
	unknown := s.do(t, http.MethodPost, "/v1/password/forgot", "", map[string]string{"email": "ghost@example.com"})
	require.NoError(t, s.reset.Wait(context.Background()))

	assert.Equal(t, known.Code, unknown.Code)
	assert.Equal(t, known.Body.Bytes(), unknown.Body.Bytes())
	assert.Equal(t, http.StatusOK, known.Code)
	assert.JSONEq(t, `{"message":"If that email is registered, you will receive a reset link."}`, known.Body.String())

	empty := s.do(t, http.MethodPost, "/v1/password/forgot", "", map[string]string{"email": ""})
	assert.Equal(t, http.StatusBadRequest, empty.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	s := newServer(t, nil)

	rec := s.do(t, http.MethodPost, "/v1/password/forgot", "", map[string]string{"email": adminEmail})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, s.reset.Wait(context.Background()))
	m := tokenInLink.FindStringSubmatch(s.outbox.last().Text)
	require.Len(t, m, 2)

	overlong := map[string]string{"token": m[1], "newPassword": strings.Repeat("a", 73)}
	rec = s.do(t, http.MethodPost, "/v1/password/reset", "", overlong)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "invalid input")

	body := map[string]string{"token": m[1], "newPassword": "brand-new-password"}
	rec = s.do(t, http.MethodPost, "/v1/password/reset", "", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"message":"Password has been reset successfully"}`, rec.Body.String())

	again := s.do(t, http.MethodPost, "/v1/password/reset", "", body)
	assert.Equal(t, http.StatusBadRequest, again.Code)
	assert.JSONEq(t, `{"message":"Invalid or expired token"}`, again.Body.String())

	s.login(t, adminEmail, "brand-new-password")
	bad := s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": adminEmail, "password": adminPassword})
	assert.Equal(t, http.StatusUnauthorized, bad.Code)
}

func TestCredentialEndpointsAreRateLimited(t *testing.T) {
	s := newServer(t, ratelimit.NewLocalLimiter(2, time.Minute))
	body := map[string]string{"email": "ghost@example.com", "password": "whatever-pw"}

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/v1/auth/login", "", body).Code)
	}
	rec := s.do(t, http.MethodPost, "/v1/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// Scopes are counted separately.
	forgot := s.do(t, http.MethodPost, "/v1/password/forgot", "", map[string]string{"email": "ghost@example.com"})
	assert.Equal(t, http.StatusOK, forgot.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t, nil)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", "", nil).Code)

	admin := s.login(t, adminEmail, adminPassword)
	s.do(t, http.MethodGet, "/v1/users", admin, nil)

	rec := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, `http_requests_total{method="POST",route="/v1/auth/login",status="200"} 1`)
	assert.Contains(t, out, `authz_decisions_total{outcome="allow",requirement="user:read"} 1`)
}

func TestHealthReportsUnavailableStore(t *testing.T) {
	h := httpserver.NewRouter(httpserver.Deps{
		Ready: func(context.Context) error { return assert.AnError },
	}, zap.NewNop().Sugar())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
