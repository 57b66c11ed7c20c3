// Package api exposes the panel's admin operations over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Deps are the services the handlers delegate to
type Deps struct {
	Nodes       NodesStore
	Daemon      NodeDaemon
	Allocations AllocationsStore
	Eggs        EggsStore
	Mounts      MountsStore
	Servers     ServersStore
	Creator     ServerCreator
	Rebuilder   Rebuilder
	Logger      *zap.Logger
}

// API holds the handler groups
type API struct {
	nodes       *Nodes
	allocations *Allocations
	eggs        *Eggs
	mounts      *Mounts
	servers     *Servers
	rebuilds    *Rebuilds
	logger      *zap.Logger
}

// NewAPI creates the handler groups over deps
func NewAPI(deps Deps) *API {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		nodes:       NewNodes(deps.Nodes, deps.Daemon, logger),
		allocations: NewAllocations(deps.Allocations, logger),
		eggs:        NewEggs(deps.Eggs, logger),
		mounts:      NewMounts(deps.Mounts, logger),
		servers:     NewServers(deps.Servers, deps.Creator, logger),
		rebuilds:    NewRebuilds(deps.Rebuilder, logger),
		logger:      logger,
	}
}

// RegisterRoutes registers all API endpoints to the given chi router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v0/nodes", func(r chi.Router) {
		r.Get("/", a.nodes.ListNodesHandler)
		r.Post("/", a.nodes.CreateNodeHandler)
		r.Get("/{id}", a.nodes.GetNodeHandler)
		r.Patch("/{id}", a.nodes.UpdateNodeHandler)
		r.Delete("/{id}", a.nodes.DeleteNodeHandler)
		r.Post("/{id}/token", a.nodes.RotateTokenHandler)
		r.Get("/{id}/configuration", a.nodes.ConfigurationHandler)
		r.Get("/{id}/system", a.nodes.SystemInformationHandler)
		r.Get("/{id}/ips", a.nodes.IPAddressesHandler)
		r.Get("/{id}/statuses", a.nodes.ServerStatusesHandler)

		r.Get("/{id}/allocations", a.allocations.ListAllocationsHandler)
		r.Post("/{id}/allocations", a.allocations.CreateAllocationsHandler)
		r.Delete("/{id}/allocations/{allocationID}", a.allocations.DeleteAllocationHandler)
	})

	r.Route("/api/v0/eggs", func(r chi.Router) {
		r.Get("/", a.eggs.ListEggsHandler)
		r.Post("/", a.eggs.CreateEggHandler)
		r.Get("/{id}", a.eggs.GetEggHandler)
		r.Delete("/{id}", a.eggs.DeleteEggHandler)
	})

	r.Route("/api/v0/mounts", func(r chi.Router) {
		r.Get("/", a.mounts.ListMountsHandler)
		r.Post("/", a.mounts.CreateMountHandler)
		r.Delete("/{id}", a.mounts.DeleteMountHandler)
		r.Put("/{id}/nodes/{nodeID}", a.mounts.AttachMountHandler)
		r.Delete("/{id}/nodes/{nodeID}", a.mounts.DetachMountHandler)
	})

	r.Route("/api/v0/servers", func(r chi.Router) {
		r.Get("/", a.servers.ListServersHandler)
		r.Post("/", a.servers.CreateServerHandler)
		r.Get("/{id}", a.servers.GetServerHandler)
		r.Delete("/{id}", a.servers.DeleteServerHandler)
	})

	r.Post("/api/v0/rebuild", a.rebuilds.RebuildHandler)
}

// RequestLogger logs one line per request through logger
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("Request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
