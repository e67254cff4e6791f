// internal/web/router.go
//
// HTTP surface of the registry service.
//
// Route map
// ---------
//
//	GET  /                        – operator console (HTML summary)
//	GET  /health                  – liveness + registry counters (JSON)
//	GET  /metrics                 – Prometheus
//	GET  /code/{id}               – scan resolution → 302 mailto
//	     /api/codes…              – management API (CORS-enabled)
//
// The /api tree mirrors the management tooling's expectations: JSON in,
// JSON out, permissive CORS, no authentication (out of scope).
package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yanizio/qrelay/internal/admin"
	"github.com/yanizio/qrelay/internal/middleware"
	"github.com/yanizio/qrelay/internal/registry"
	"github.com/yanizio/qrelay/internal/resolve"
	"github.com/yanizio/qrelay/internal/scaninfo"
)

// Handlers bundles the services behind the HTTP surface.
type Handlers struct {
	admin    *admin.Service
	resolver *resolve.Resolver
	store    registry.Store
	clients  *scaninfo.Parser
	storage  string // "file" or "postgres", reported by /health
	started  time.Time
}

// New wires the handler set.
func New(adminSvc *admin.Service, resolver *resolve.Resolver, store registry.Store, clients *scaninfo.Parser, storage string) *Handlers {
	return &Handlers{
		admin:    adminSvc,
		resolver: resolver,
		store:    store,
		clients:  clients,
		storage:  storage,
		started:  time.Now().UTC(),
	}
}

// Router builds the chi router with the standard middleware chain.
func (h *Handlers) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger)
	r.Use(middleware.Security)

	r.Get("/", h.dashboard)
	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/code/{id}", h.resolveCode)

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.CORS)
		api.Get("/codes", h.listCodes)
		api.Post("/codes", h.createCode)
		api.Post("/codes/status", h.bulkSetStatus)
		api.Get("/codes/{id}/stats", h.codeStats)
		api.Post("/codes/{id}/status", h.setStatus)
		api.Post("/codes/{id}/target", h.updateTarget)
		api.Delete("/codes/{id}", h.deleteCode)
		api.Get("/stats", h.stats)
	})

	return r
}
