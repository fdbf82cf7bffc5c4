// Package http wires the gateway's HTTP surface: the OAuth2 endpoints,
// discovery metadata, the approval API, tool invocation, and admin routes.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/asoos/integration-gateway/internal/gateway/service"
	"github.com/asoos/integration-gateway/internal/gateway/store"
	"github.com/asoos/integration-gateway/internal/gateway/tools"
	"github.com/asoos/integration-gateway/pkg/httpx"
	"github.com/asoos/integration-gateway/pkg/jwtx"
	"github.com/asoos/integration-gateway/pkg/metricsx"
	"github.com/asoos/integration-gateway/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeySet
	verifier     *jwtx.Verifier
	revocations  *service.RevocationCache
	issuer       string
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store   store.Store
	metrics *metricsx.Metrics
	policy  *service.ScopePolicy
	tools   *tools.Registry

	RegistryService  *service.RegistryService
	AuthorizeService *service.AuthorizeService
	TokenService     *service.TokenService
	ApprovalService  *service.ApprovalService
	InvokeService    *service.InvokeService
}

func NewRouter(
	keys *jwtx.KeySet,
	verifier *jwtx.Verifier,
	revocations *service.RevocationCache,
	issuer, buildVersion string,
	st store.Store,
	metrics *metricsx.Metrics,
	policy *service.ScopePolicy,
	registry *tools.Registry,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		verifier:     verifier,
		revocations:  revocations,
		issuer:       issuer,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		metrics:      metrics,
		policy:       policy,
		tools:        registry,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerDiscovery()
	r.registerOAuth2()
	r.registerApprovals()
	r.registerTools()
	r.registerAdmin()
	r.registerSystem()
}

// ServeHTTP implements http.Handler and applies the global middleware
// chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// authn is the bearer-token middleware shared by protected routes.
func (r *Router) authn() httpx.Middleware {
	return httpx.AuthnMiddleware(r.verifier, r.revocations)
}

func (r *Router) registerOAuth2() {
	registerHandler := &RegisterHandler{RegistryService: r.RegistryService}
	r.Mux.Handle("POST /oauth/register",
		httpx.Chain(registerHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		))

	authorizeHandler := &AuthorizeHandler{AuthorizeService: r.AuthorizeService}
	r.Mux.Handle("GET /oauth/authorize",
		httpx.Chain(http.HandlerFunc(authorizeHandler.HandleGet),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		))
	r.Mux.Handle("POST /oauth/authorize",
		httpx.Chain(http.HandlerFunc(authorizeHandler.HandlePost),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		))

	tokenHandler := &TokenHandler{TokenService: r.TokenService}
	r.Mux.Handle("POST /oauth/token",
		httpx.Chain(tokenHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		))

	revokeHandler := &RevokeHandler{TokenService: r.TokenService}
	r.Mux.Handle("POST /oauth/revoke",
		httpx.Chain(revokeHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		))
}

func (r *Router) registerApprovals() {
	h := &ApprovalsHandler{ApprovalService: r.ApprovalService}

	r.Mux.Handle("GET /approvals",
		httpx.Chain(http.HandlerFunc(h.HandleList),
			r.authn(),
			httpx.RateLimitBySubject(httpx.ModerateLimit),
		))
	r.Mux.Handle("GET /approvals/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleGet),
			r.authn(),
			httpx.RateLimitBySubject(httpx.ModerateLimit),
		))
	r.Mux.Handle("POST /approvals/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleResolve),
			r.authn(),
			httpx.RequireAnyScope(service.ScopeApprovalsWrite),
			httpx.RateLimitBySubject(httpx.ModerateLimit),
		))
}

func (r *Router) registerTools() {
	h := &InvokeHandler{InvokeService: r.InvokeService, ApprovalService: r.ApprovalService}

	r.Mux.Handle("POST /mcp/{tool}",
		httpx.Chain(http.HandlerFunc(h.HandleInvoke),
			r.authn(),
			httpx.RateLimitBySubject(httpx.ModerateLimit),
		))
}

func (r *Router) registerAdmin() {
	h := &AdminHandler{RegistryService: r.RegistryService}

	r.Mux.Handle("GET /admin/apps",
		httpx.Chain(http.HandlerFunc(h.HandleList),
			r.authn(),
			httpx.RequireAnyScope(service.ScopeAdminRead, service.ScopeAdminWrite),
		))
	r.Mux.Handle("GET /admin/apps/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleGet),
			r.authn(),
			httpx.RequireAnyScope(service.ScopeAdminRead, service.ScopeAdminWrite),
		))
	r.Mux.Handle("PATCH /admin/apps/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleUpdate),
			r.authn(),
			httpx.RequireAnyScope(service.ScopeAdminWrite),
		))
	r.Mux.Handle("DELETE /admin/apps/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleDeactivate),
			r.authn(),
			httpx.RequireAnyScope(service.ScopeAdminWrite),
		))
	r.Mux.Handle("POST /admin/apps/{id}/secret",
		httpx.Chain(http.HandlerFunc(h.HandleRotateSecret),
			r.authn(),
			httpx.RequireAnyScope(service.ScopeAdminWrite),
		))
}
